package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/viant/hitl/internal/clock"
	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/dao"
	daorequest "github.com/viant/hitl/service/dao/request"
	"github.com/viant/hitl/service/fanout"
	"github.com/viant/hitl/tracing"
)

// Transition describes one requested state change. Update, when supplied, is
// applied to the row copy just before the conditional write so that fields
// such as response data or a new deadline commit atomically with the state.
type Transition struct {
	RequestID string
	From      mrequest.State
	To        mrequest.State
	Actor     string
	ActorType audit.ActorType
	Payload   map[string]interface{}
	Update    func(aRequest *mrequest.Request)
}

// Service is the transition engine: the only writer of a request's state.
// Per-request serialisation comes exclusively from the store's conditional
// update - no in-process lock guards a request, because multiple engine
// processes may run against the same store.
type Service struct {
	requests daorequest.DAO
	auditLog audit.Service
	events   *fanout.Service
	logger   zerolog.Logger
}

func New(requests daorequest.DAO, auditLog audit.Service, events *fanout.Service, logger zerolog.Logger) *Service {
	return &Service{
		requests: requests,
		auditLog: auditLog,
		events:   events,
		logger:   logger,
	}
}

// Transition validates the requested edge, applies it with a single atomic
// conditional write, then appends the audit record and fans the change out.
// The state mutation is the source of truth: an audit failure after the
// write is surfaced to the caller but never rolls the transition back, and
// the updated request is returned alongside the error.
func (s *Service) Transition(ctx context.Context, transition *Transition) (*mrequest.Request, error) {
	ctx, span := tracing.StartSpan(ctx, "engine.transition", "INTERNAL")
	span.WithAttributes(map[string]string{
		"request.id": transition.RequestID,
		"state.from": string(transition.From),
		"state.to":   string(transition.To),
	})
	updated, err := s.transition(ctx, transition)
	tracing.EndSpan(span, err)
	return updated, err
}

func (s *Service) transition(ctx context.Context, transition *Transition) (*mrequest.Request, error) {
	if !transition.From.CanTransitionTo(transition.To) {
		return nil, &InvalidTransitionError{RequestID: transition.RequestID, From: transition.From, To: transition.To}
	}

	aRequest, err := s.requests.Load(ctx, transition.RequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load request %s: %w", transition.RequestID, err)
	}
	if aRequest.State != transition.From {
		// The row already moved on; equivalent to losing the conditional write.
		return nil, &ConcurrentModificationError{RequestID: transition.RequestID, Expected: transition.From}
	}

	aRequest.State = transition.To
	aRequest.UpdatedAt = clock.Now()
	if transition.Update != nil {
		transition.Update(aRequest)
	}

	if err = s.requests.UpdateIf(ctx, aRequest, transition.From); err != nil {
		if errors.Is(err, dao.ErrStateMismatch) {
			return nil, &ConcurrentModificationError{RequestID: transition.RequestID, Expected: transition.From}
		}
		return nil, fmt.Errorf("failed to update request %s: %w", transition.RequestID, err)
	}

	if _, auditErr := s.auditLog.Append(ctx, &audit.Event{
		RequestID: transition.RequestID,
		EventType: audit.EventTypeFor(transition.To),
		Actor:     transition.Actor,
		ActorType: transition.ActorType,
		Payload:   transition.Payload,
	}); auditErr != nil {
		s.logger.Error().Str("request_id", transition.RequestID).Err(auditErr).
			Msg("state committed but audit append failed")
		return aRequest, fmt.Errorf("transition %s -> %s committed, audit append failed: %w",
			transition.From, transition.To, auditErr)
	}

	s.events.Publish(&fanout.StateChange{
		RequestID:   aRequest.RequestID,
		State:       aRequest.State,
		AgentID:     aRequest.AgentID,
		ResponderID: aRequest.ResponderID,
	})
	return aRequest, nil
}

// Get returns a request by id and opportunistically performs lazy delivery:
// a request observed in RESPONDED is advanced to DELIVERED on behalf of the
// reader. Losing that race to a concurrent reader is fine - the previously
// observed row is returned unchanged.
func (s *Service) Get(ctx context.Context, id, actor string, actorType audit.ActorType) (*mrequest.Request, error) {
	aRequest, err := s.requests.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if aRequest.State != mrequest.StateResponded {
		return aRequest, nil
	}
	delivered, err := s.Transition(ctx, &Transition{
		RequestID: id,
		From:      mrequest.StateResponded,
		To:        mrequest.StateDelivered,
		Actor:     actor,
		ActorType: actorType,
		Update: func(aRequest *mrequest.Request) {
			now := clock.Now()
			aRequest.DeliveredAt = &now
		},
	})
	if err != nil {
		if IsConcurrentModification(err) {
			return aRequest, nil
		}
		return nil, err
	}
	return delivered, nil
}
