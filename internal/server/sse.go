// ABOUTME: Server-Sent Events stream of broadcast topics for the dashboard.
// ABOUTME: Sends the current agent list and counters on connect, then relays events.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/swarmdeck/swarmdeck/internal/broadcast"
)

// handleEvents is GET /api/events.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.bus == nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "broadcasting disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events, subID := s.bus.Subscribe(r.Context())
	s.logger.Debug("SSE subscriber connected", "sub_id", subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Late joiners get the current state immediately.
	s.writeSSEEvent(w, broadcast.TopicAgentUpdate, s.registry.Snapshot())
	s.writeSSEEvent(w, broadcast.TopicTaskUpdate, s.counters.Snapshot())
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE subscriber disconnected", "sub_id", subID)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.writeSSEEvent(w, ev.Topic, ev.Payload)
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one event in SSE wire format.
func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
