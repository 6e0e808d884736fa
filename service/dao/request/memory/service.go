package memory

import (
	"context"
	"sync"
	"time"

	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/dao"
	"github.com/viant/hitl/service/dao/criteria"
	daorequest "github.com/viant/hitl/service/dao/request"
)

// Service implements an in-memory, thread-safe store for coordination
// requests. All API methods work with copies to eliminate data races between
// goroutines; the mutex makes UpdateIf a true compare-and-swap.
type Service struct {
	requests map[string]*mrequest.Request
	mux      sync.RWMutex
}

var _ daorequest.DAO = (*Service)(nil)

func New() *Service {
	return &Service{requests: map[string]*mrequest.Request{}}
}

func (s *Service) Save(_ context.Context, aRequest *mrequest.Request) error {
	if aRequest == nil {
		return dao.ErrNilEntity
	}
	if aRequest.RequestID == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.requests[aRequest.RequestID] = aRequest.Clone()
	return nil
}

func (s *Service) Load(_ context.Context, id string) (*mrequest.Request, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.RLock()
	defer s.mux.RUnlock()
	aRequest, ok := s.requests[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return aRequest.Clone(), nil
}

func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	if _, ok := s.requests[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.requests, id)
	return nil
}

func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*mrequest.Request, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	out := make([]*mrequest.Request, 0, len(s.requests))
	for _, aRequest := range s.requests {
		if !criteria.Matches(attributes(aRequest), parameters) {
			continue
		}
		out = append(out, aRequest.Clone())
	}
	return out, nil
}

func (s *Service) UpdateIf(_ context.Context, aRequest *mrequest.Request, expected mrequest.State) error {
	if aRequest == nil {
		return dao.ErrNilEntity
	}
	if aRequest.RequestID == "" {
		return dao.ErrInvalidID
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	stored, ok := s.requests[aRequest.RequestID]
	if !ok {
		return dao.ErrNotFound
	}
	if stored.State != expected {
		return dao.ErrStateMismatch
	}
	s.requests[aRequest.RequestID] = aRequest.Clone()
	return nil
}

func (s *Service) ListExpired(_ context.Context, now time.Time) ([]*mrequest.Request, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	var out []*mrequest.Request
	for _, aRequest := range s.requests {
		if aRequest.State != mrequest.StatePendingResponse && aRequest.State != mrequest.StateEscalated {
			continue
		}
		if aRequest.TimeoutAt.After(now) {
			continue
		}
		out = append(out, aRequest.Clone())
	}
	return out, nil
}

func (s *Service) LoadByIdempotencyKey(_ context.Context, key string) (*mrequest.Request, error) {
	if key == "" {
		return nil, dao.ErrInvalidID
	}
	s.mux.RLock()
	defer s.mux.RUnlock()
	for _, aRequest := range s.requests {
		if aRequest.IdempotencyKey == key {
			return aRequest.Clone(), nil
		}
	}
	return nil, dao.ErrNotFound
}

func attributes(aRequest *mrequest.Request) map[string]string {
	return map[string]string{
		"State":       string(aRequest.State),
		"AgentID":     aRequest.AgentID,
		"Intent":      string(aRequest.Intent),
		"Urgency":     string(aRequest.Urgency),
		"ResponderID": aRequest.ResponderID,
	}
}
