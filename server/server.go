// Package server exposes a detection session over HTTP.
package server

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/metrics"
	"github.com/cyclopcam/livedetect/server/pipeline"
	"github.com/cyclopcam/livedetect/server/present"
	"github.com/cyclopcam/livedetect/server/session"
	"github.com/cyclopcam/livedetect/server/video"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// How long we wait for the pipeline to exit during shutdown
const shutdownTimeout = 5 * time.Second

type Options struct {
	Config   *config.Config
	Opener   video.Opener
	Detector pipeline.Detector
	Source   config.SourceConfig // Initial source. Usually Config.SourceConfig().
}

type Server struct {
	Log              logs.Log
	Session          *session.Controller
	Snapshot         *present.Snapshot
	Metrics          *metrics.Metrics
	ShutdownComplete chan error // Receives a value when Shutdown() finishes

	config     *config.Config
	presenter  *present.Presenter
	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
	wsUpgrader websocket.Upgrader

	ctx          context.Context
	cancel       context.CancelFunc
	bgWG         sync.WaitGroup
	shutdownOnce sync.Once

	subsLock    sync.Mutex
	subscribers map[chan session.Event]struct{}
}

func NewServer(log logs.Log, opt Options) (*Server, error) {
	m := metrics.New()
	ctrl := session.NewController(log, session.Options{
		Opener:     opt.Opener,
		Detector:   opt.Detector,
		Source:     opt.Source,
		Confidence: opt.Config.Confidence,
		Metrics:    m,
	})
	snapshot := present.NewSnapshot(opt.Config.SnapshotQuality)
	logSurface := present.NewLogSurface(log, time.Duration(opt.Config.StatsLogInterval))

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Log:              log,
		Session:          ctrl,
		Snapshot:         snapshot,
		Metrics:          m,
		ShutdownComplete: make(chan error, 1),
		config:           opt.Config,
		presenter:        present.NewPresenter(log, ctrl.Output(), snapshot, logSurface),
		ctx:              ctx,
		cancel:           cancel,
		subscribers:      map[chan session.Event]struct{}{},
	}
	s.setupHttpRoutes()

	s.bgWG.Add(2)
	go func() {
		defer s.bgWG.Done()
		if err := s.presenter.Run(ctx); err != nil && err != context.Canceled {
			s.Log.Errorf("Presenter stopped: %v", err)
		}
	}()
	go func() {
		defer s.bgWG.Done()
		s.pumpEvents()
	}()
	return s, nil
}

// Handler returns the HTTP handler of the control API
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// ListenHTTP serves the control API until Shutdown is called.
// port example: ":8080"
func (s *Server) ListenHTTP(port string) error {
	ln, err := net.Listen("tcp", port)
	if err != nil {
		return err
	}
	s.Log.Infof("Listening on %v", ln.Addr())
	s.httpServer = &http.Server{
		Handler: s.httpRouter,
	}
	err = s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v'. Shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops the running session, and then the HTTP server.
// It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.Log.Infof("Shutdown")
		if s.signalIn != nil {
			signal.Stop(s.signalIn)
			close(s.signalIn)
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.Session.Close(ctx)
		if err != nil {
			s.Log.Warnf("Error stopping session: %v", err)
		}

		s.cancel()
		s.bgWG.Wait()

		if s.httpServer != nil {
			s.Log.Infof("Closing HTTP server")
			if herr := s.httpServer.Shutdown(ctx); herr != nil {
				s.Log.Warnf("HTTP server shutdown: %v", herr)
				if err == nil {
					err = herr
				}
			}
		}
		s.Log.Infof("Shutdown complete")
		s.ShutdownComplete <- err
	})
}

// Forward controller events to all websocket subscribers
func (s *Server) pumpEvents() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.Session.Events():
			s.subsLock.Lock()
			for ch := range s.subscribers {
				select {
				case ch <- ev:
				default:
					// slow client
				}
			}
			s.subsLock.Unlock()
		}
	}
}

func (s *Server) subscribe() chan session.Event {
	ch := make(chan session.Event, 16)
	s.subsLock.Lock()
	s.subscribers[ch] = struct{}{}
	s.subsLock.Unlock()
	return ch
}

func (s *Server) unsubscribe(ch chan session.Event) {
	s.subsLock.Lock()
	delete(s.subscribers, ch)
	s.subsLock.Unlock()
}
