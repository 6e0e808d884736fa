package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/internal/idgen"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/dao"
)

const defaultLimit = 100

// Service is an in-memory, thread-safe audit log. Events are kept in append
// order; a monotonic sequence breaks created-at ties so list order always
// mirrors write order.
type Service struct {
	events []*audit.Event
	mux    sync.RWMutex
}

var _ audit.Service = (*Service)(nil)

func New() *Service {
	return &Service{}
}

func (s *Service) Append(_ context.Context, event *audit.Event) (*audit.Event, error) {
	if event == nil {
		return nil, dao.ErrNilEntity
	}
	stored := *event
	if stored.EventID == "" {
		stored.EventID = idgen.New()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = clock.Now()
	}
	if stored.Payload == nil {
		stored.Payload = map[string]interface{}{}
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.events = append(s.events, &stored)
	return &stored, nil
}

func (s *Service) List(_ context.Context, query audit.Query) ([]*audit.Event, error) {
	s.mux.RLock()
	matched := make([]*audit.Event, 0, len(s.events))
	for _, event := range s.events {
		if query.RequestID != "" && event.RequestID != query.RequestID {
			continue
		}
		if query.EventType != "" && event.EventType != query.EventType {
			continue
		}
		matched = append(matched, event)
	}
	s.mux.RUnlock()

	// Append order already ascends by creation time; the stable sort keeps
	// it that way for events sharing a timestamp.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*audit.Event{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*audit.Event, end-offset)
	copy(out, matched[offset:end])
	return out, nil
}
