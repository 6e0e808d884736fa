package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/viant/hitl/service/fanout"
	"github.com/viant/hitl/service/messaging/memory"
)

const (
	eventBuffer       = 64
	heartbeatInterval = 25 * time.Second
)

// handleEvents streams state changes as server-sent events. Each connection
// gets a private buffered queue fed by a fanout subscription; a slow reader
// sheds events rather than stalling the transition path, and reconciles via
// GET /v1/requests when it reconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	query := r.URL.Query()
	filter := fanout.Filter{
		AgentID:     query.Get("agent_id"),
		ResponderID: query.Get("responder_id"),
	}

	queue := memory.NewQueue[fanout.StateChange](memory.Config{Buffer: eventBuffer})
	subscription := s.service.Subscribe("", filter, func(event *fanout.StateChange) error {
		queue.TryPublish(event)
		return nil
	})
	defer s.service.Unsubscribe(subscription)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		waitCtx, cancel := context.WithTimeout(r.Context(), heartbeatInterval)
		message, err := queue.Consume(waitCtx)
		cancel()
		if err != nil {
			if r.Context().Err() != nil {
				return
			}
			// consume deadline hit; keep the connection warm
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
			continue
		}
		data, err := json.Marshal(message.T())
		if err != nil {
			_ = message.Nack(err)
			continue
		}
		if _, err := fmt.Fprintf(w, "event: state_change\ndata: %s\n\n", data); err != nil {
			_ = message.Nack(err)
			return
		}
		flusher.Flush()
		_ = message.Ack()
	}
}
