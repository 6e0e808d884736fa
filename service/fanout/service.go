package fanout

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/viant/hitl/internal/idgen"
	mrequest "github.com/viant/hitl/model/request"
)

// StateChange is the notification pushed to live subscribers whenever a
// request transitions. It is best-effort and at most once per subscriber;
// the persisted row stays the source of truth, so subscribers reconcile via
// a full re-read when in doubt.
type StateChange struct {
	RequestID   string          `json:"request_id"`
	State       mrequest.State  `json:"state"`
	AgentID     string          `json:"agent_id"`
	ResponderID string          `json:"responder_id,omitempty"`
}

// Filter restricts which state changes a subscriber receives. Zero-value
// fields match everything.
type Filter struct {
	AgentID     string
	ResponderID string
}

func (f Filter) matches(event *StateChange) bool {
	if f.AgentID != "" && f.AgentID != event.AgentID {
		return false
	}
	if f.ResponderID != "" && f.ResponderID != event.ResponderID {
		return false
	}
	return true
}

// Handler receives a state change. Returning an error signals the
// subscriber's transport is gone; the service then drops the subscription.
type Handler func(event *StateChange) error

type subscriber struct {
	id      string
	filter  Filter
	handler Handler
}

// Service owns a process-local, concurrency-safe registry of live
// subscribers and fans transition notifications out to them synchronously.
type Service struct {
	logger      zerolog.Logger
	mux         sync.RWMutex
	subscribers map[string]*subscriber
}

func New(logger zerolog.Logger) *Service {
	return &Service{
		logger:      logger,
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a handler under the supplied id and returns the id.
// When id is empty a fresh one is generated. Re-subscribing with an existing
// id replaces the previous handler.
func (s *Service) Subscribe(id string, filter Filter, handler Handler) string {
	if id == "" {
		id = idgen.New()
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.subscribers[id] = &subscriber{id: id, filter: filter, handler: handler}
	return id
}

// Unsubscribe removes a subscriber; unknown ids are a no-op.
func (s *Service) Unsubscribe(id string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.subscribers, id)
}

// Publish delivers the event to every matching subscriber. A failing
// subscriber is evicted and must not affect delivery to the others.
func (s *Service) Publish(event *StateChange) {
	if event == nil {
		return
	}
	s.mux.RLock()
	snapshot := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		snapshot = append(snapshot, sub)
	}
	s.mux.RUnlock()

	for _, sub := range snapshot {
		if !sub.filter.matches(event) {
			continue
		}
		if err := sub.handler(event); err != nil {
			s.logger.Debug().Str("subscriber", sub.id).Err(err).Msg("dropping fanout subscriber")
			s.Unsubscribe(sub.id)
		}
	}
}

// Count returns the number of live subscribers.
func (s *Service) Count() int {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return len(s.subscribers)
}
