package server

import (
	"net/http"
	"time"

	"github.com/cyclopcam/livedetect/server/session"
	"github.com/julienschmidt/httprouter"
)

// How often a websocket client receives a status update, in between events
const statusPushInterval = time.Second

type wsMessage struct {
	Type   string         `json:"type"` // "event" or "status"
	Event  *session.Event `json:"event,omitempty"`
	Status *statusJSON    `json:"status,omitempty"`
}

// Push session events and status to a websocket client.
// Video is not sent over this channel. Clients poll /api/frame/latest for that.
func (s *Server) httpEvents(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	c, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Errorf("httpEvents websocket upgrade failed: %v", err)
		return
	}
	defer c.Close()

	events := s.subscribe()
	defer s.unsubscribe(events)

	// We don't expect any messages from the client, but we must read in order to notice when it goes away
	closed := make(chan struct{})
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				close(closed)
				return
			}
		}
	}()

	send := func(msg wsMessage) bool {
		if err := c.WriteJSON(&msg); err != nil {
			s.Log.Infof("httpEvents write failed: %v", err)
			return false
		}
		return true
	}

	st := s.status()
	if !send(wsMessage{Type: "status", Status: &st}) {
		return
	}
	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			return
		case ev := <-events:
			if !send(wsMessage{Type: "event", Event: &ev}) {
				return
			}
		case <-ticker.C:
			st := s.status()
			if !send(wsMessage{Type: "status", Status: &st}) {
				return
			}
		}
	}
}
