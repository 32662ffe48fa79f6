// Package present drains annotated frames from the pipeline and hands them to
// whatever is displaying them.
package present

import (
	"context"
	"errors"

	"github.com/cyclopcam/livedetect/pkg/latest"
	"github.com/cyclopcam/livedetect/server/pipeline"
	"github.com/cyclopcam/logs"
)

// Surface displays frames. Show is called from the presenter goroutine only,
// and must not retain u.Image after the next call to Show.
type Surface interface {
	Show(u pipeline.FrameUpdate)
}

// Presenter is the consumer side of the pipeline's latest-wins slot.
// Frames that arrive faster than the surfaces can show them are skipped.
type Presenter struct {
	Log      logs.Log
	slot     *latest.Slot[pipeline.FrameUpdate]
	surfaces []Surface
}

func NewPresenter(log logs.Log, slot *latest.Slot[pipeline.FrameUpdate], surfaces ...Surface) *Presenter {
	return &Presenter{
		Log:      log,
		slot:     slot,
		surfaces: surfaces,
	}
}

// Run shows frames until ctx is done or the slot is closed
func (p *Presenter) Run(ctx context.Context) error {
	for {
		u, err := p.slot.Take(ctx)
		if err != nil {
			if errors.Is(err, latest.ErrClosed) {
				return nil
			}
			return err
		}
		for _, s := range p.surfaces {
			s.Show(u)
		}
	}
}
