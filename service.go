package hitl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/viant/hitl/internal/clock"
	"github.com/viant/hitl/internal/idgen"
	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/audit"
	auditmem "github.com/viant/hitl/service/audit/memory"
	"github.com/viant/hitl/service/dao"
	daorequest "github.com/viant/hitl/service/dao/request"
	reqmem "github.com/viant/hitl/service/dao/request/memory"
	"github.com/viant/hitl/service/engine"
	"github.com/viant/hitl/service/fanout"
	"github.com/viant/hitl/service/notify"
	"github.com/viant/hitl/service/notify/nop"
	"github.com/viant/hitl/service/router"
	"github.com/viant/hitl/service/scheduler"
)

// ErrNotCancellable indicates a cancel attempt against a request whose state
// admits no cancellation.
var ErrNotCancellable = errors.New("request is not cancellable")

// ErrNotFound re-exports the storage sentinel for callers that do not import
// the dao package.
var ErrNotFound = dao.ErrNotFound

// Service is the high-level façade over the coordination engine: submission,
// human responses, cancellation, reads with lazy delivery, audit-trail access
// and the timeout scheduler lifecycle.
type Service struct {
	config    *Config
	requests  daorequest.DAO
	auditLog  audit.Service
	events    *fanout.Service
	engine    *engine.Service
	router    *router.Service
	scheduler *scheduler.Service
	notifiers []notify.Notifier
	logger    zerolog.Logger
}

// New creates a coordination service. Without options it runs fully
// in-memory, which is the configuration used by embedded agents and tests.
func New(options ...Option) *Service {
	s := &Service{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
	for _, option := range options {
		option(s)
	}
	s.init()
	return s
}

func (s *Service) init() {
	if s.requests == nil {
		s.requests = reqmem.New()
	}
	if s.auditLog == nil {
		s.auditLog = auditmem.New()
	}
	s.events = fanout.New(s.logger)
	s.engine = engine.New(s.requests, s.auditLog, s.events, s.logger)
	// portal responders pull their queue, so its notifier is a no-op
	notifiers := append([]notify.Notifier{nop.New(mrequest.ChannelPortal)}, s.notifiers...)
	s.router = router.New(s.engine, s.auditLog, s.logger, notifiers...)
	s.scheduler = scheduler.New(s.requests, s.engine, s.config.Scheduler, s.logger)
}

// SubmitRequest carries everything an agent supplies when requesting a human
// decision.
type SubmitRequest struct {
	AgentID        string                   `json:"agent_id"`
	Intent         mrequest.Intent          `json:"intent"`
	Urgency        mrequest.Urgency         `json:"urgency"`
	ContextPackage mrequest.ContextPackage  `json:"context_package"`
	ResponseSchema *mrequest.ResponseSchema `json:"response_schema,omitempty"`
	TimeoutPolicy  mrequest.TimeoutPolicy   `json:"timeout_policy"`
	RoutingHints   mrequest.RoutingHints    `json:"routing_hints"`
	TraceID        string                   `json:"trace_id,omitempty"`
	IdempotencyKey string                   `json:"idempotency_key,omitempty"`
}

func (r *SubmitRequest) validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	if r.ContextPackage.Summary == "" {
		return fmt.Errorf("context_package.summary is required")
	}
	if r.TimeoutPolicy.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_policy.timeout_seconds must be positive")
	}
	if r.RoutingHints.ResponderID == "" {
		return fmt.Errorf("routing_hints.responder_id is required")
	}
	return nil
}

// Submit creates a coordination request in SUBMITTED, records the first
// audit event and kicks off routing asynchronously. When the input carries
// an idempotency key already seen, the previously created request is
// returned unchanged.
func (s *Service) Submit(ctx context.Context, input *SubmitRequest) (*mrequest.Request, error) {
	if input == nil {
		return nil, fmt.Errorf("submit input is nil")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}
	if input.IdempotencyKey != "" {
		existing, err := s.requests.LoadByIdempotencyKey(ctx, input.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, dao.ErrNotFound) {
			return nil, err
		}
	}

	now := clock.Now()
	aRequest := &mrequest.Request{
		RequestID:      idgen.New(),
		AgentID:        input.AgentID,
		Intent:         input.Intent,
		Urgency:        input.Urgency,
		State:          mrequest.StateSubmitted,
		ContextPackage: input.ContextPackage,
		ResponseSchema: input.ResponseSchema,
		TimeoutPolicy:  input.TimeoutPolicy,
		RoutingHints:   input.RoutingHints,
		TraceID:        input.TraceID,
		IdempotencyKey: input.IdempotencyKey,
		ResponderID:    input.RoutingHints.ResponderID,
		SubmittedAt:    now,
		UpdatedAt:      now,
		TimeoutAt:      now.Add(time.Duration(input.TimeoutPolicy.TimeoutSeconds) * time.Second),
	}
	if err := s.requests.Save(ctx, aRequest); err != nil {
		return nil, fmt.Errorf("failed to persist request: %w", err)
	}
	if _, err := s.auditLog.Append(ctx, &audit.Event{
		RequestID: aRequest.RequestID,
		EventType: audit.EventTypeFor(mrequest.StateSubmitted),
		Actor:     aRequest.AgentID,
		ActorType: audit.ActorAgent,
		Payload:   map[string]interface{}{"intent": string(aRequest.Intent), "urgency": string(aRequest.Urgency)},
	}); err != nil {
		return nil, fmt.Errorf("request persisted, audit append failed: %w", err)
	}

	routed := aRequest.Clone()
	go func() {
		if err := s.router.Route(context.Background(), routed); err != nil {
			s.logger.Error().Str("request_id", routed.RequestID).Err(err).Msg("routing failed")
		}
	}()
	return aRequest, nil
}

// Get returns a request by id on behalf of the supplied actor, performing
// lazy delivery when the request is RESPONDED. An empty actor reads as the
// system.
func (s *Service) Get(ctx context.Context, id, actor string) (*mrequest.Request, error) {
	actorType := audit.ActorAgent
	if actor == "" {
		actor, actorType = "system", audit.ActorSystem
	}
	return s.engine.Get(ctx, id, actor, actorType)
}

// ListFilter narrows a request listing. Zero-value fields are ignored.
type ListFilter struct {
	AgentID     string
	State       mrequest.State
	Intent      mrequest.Intent
	Urgency     mrequest.Urgency
	ResponderID string
	Limit       int
	Offset      int
}

const defaultListLimit = 50

// List returns requests matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*mrequest.Request, error) {
	var parameters []*dao.Parameter
	if filter.AgentID != "" {
		parameters = append(parameters, dao.NewParameter("AgentID", filter.AgentID))
	}
	if filter.State != "" {
		parameters = append(parameters, dao.NewParameter("State", string(filter.State)))
	}
	if filter.Intent != "" {
		parameters = append(parameters, dao.NewParameter("Intent", string(filter.Intent)))
	}
	if filter.Urgency != "" {
		parameters = append(parameters, dao.NewParameter("Urgency", string(filter.Urgency)))
	}
	if filter.ResponderID != "" {
		parameters = append(parameters, dao.NewParameter("ResponderID", filter.ResponderID))
	}
	matched, err := s.requests.List(ctx, parameters...)
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].SubmittedAt.After(matched[j].SubmittedAt)
	})
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []*mrequest.Request{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], nil
}

// Respond records a human response. The request must still be awaiting one;
// a response racing a cancellation or timeout is resolved by whichever
// conditional write lands first.
func (s *Service) Respond(ctx context.Context, id string, responseData map[string]interface{}, respondedBy string) (*mrequest.Request, error) {
	if respondedBy == "" {
		return nil, fmt.Errorf("responded_by is required")
	}
	return s.engine.Transition(ctx, &engine.Transition{
		RequestID: id,
		From:      mrequest.StatePendingResponse,
		To:        mrequest.StateResponded,
		Actor:     respondedBy,
		ActorType: audit.ActorHuman,
		Payload:   map[string]interface{}{"response_data": responseData},
		Update: func(aRequest *mrequest.Request) {
			now := clock.Now()
			aRequest.ResponseData = responseData
			aRequest.RespondedBy = respondedBy
			aRequest.RespondedAt = &now
		},
	})
}

// Cancel transitions a request to CANCELLED on behalf of the actor.
// Cancellation is itself a transition and subject to the same optimistic
// concurrency as any other.
func (s *Service) Cancel(ctx context.Context, id, actor string) (*mrequest.Request, error) {
	aRequest, err := s.requests.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !aRequest.State.IsCancellable() {
		return nil, fmt.Errorf("cannot cancel request in state %s: %w", aRequest.State, ErrNotCancellable)
	}
	actorType := audit.ActorAgent
	if actor == "" {
		actor, actorType = "system", audit.ActorSystem
	}
	return s.engine.Transition(ctx, &engine.Transition{
		RequestID: id,
		From:      aRequest.State,
		To:        mrequest.StateCancelled,
		Actor:     actor,
		ActorType: actorType,
	})
}

// AuditTrail returns audit events matching the query, ascending by creation
// time.
func (s *Service) AuditTrail(ctx context.Context, query audit.Query) ([]*audit.Event, error) {
	return s.auditLog.List(ctx, query)
}

// Subscribe registers a live state-change subscriber and returns its id.
func (s *Service) Subscribe(id string, filter fanout.Filter, handler fanout.Handler) string {
	return s.events.Subscribe(id, filter, handler)
}

// Unsubscribe removes a live subscriber.
func (s *Service) Unsubscribe(id string) {
	s.events.Unsubscribe(id)
}

// Engine exposes the transition engine for collaborators such as channel
// interactivity handlers that apply transitions directly.
func (s *Service) Engine() *engine.Service {
	return s.engine
}

// Config returns the active configuration.
func (s *Service) Config() *Config {
	return s.config
}

// Start runs the timeout scheduler until ctx is cancelled or Shutdown is
// called.
func (s *Service) Start(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

// Shutdown stops the scheduler.
func (s *Service) Shutdown() {
	s.scheduler.Shutdown()
}
