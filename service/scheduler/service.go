package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/viant/hitl/internal/clock"
	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/audit"
	daorequest "github.com/viant/hitl/service/dao/request"
	"github.com/viant/hitl/service/engine"
	"github.com/viant/hitl/tracing"
)

const systemActor = "system"

// Config represents scheduler configuration.
type Config struct {
	// PollingInterval is how often the scheduler scans for expired requests.
	// Actual time-to-fallback is bounded by the deadline plus one interval.
	PollingInterval time.Duration `json:"pollingInterval" yaml:"pollingInterval"`
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{PollingInterval: 10 * time.Second}
}

// Service periodically scans for requests whose deadline passed and applies
// the configured fallback policy through the transition engine. Scans are
// cooperative: a new one never starts while a previous one is in flight, and
// a failure on one request never affects its siblings in the same tick.
type Service struct {
	config     Config
	requests   daorequest.DAO
	engine     *engine.Service
	logger     zerolog.Logger
	scanning   atomic.Bool
	shutdownCh chan struct{}
}

// New creates a new timeout scheduler.
func New(requests daorequest.DAO, transitionEngine *engine.Service, config Config, logger zerolog.Logger) *Service {
	if config.PollingInterval <= 0 {
		config.PollingInterval = DefaultConfig().PollingInterval
	}
	return &Service{
		config:     config,
		requests:   requests,
		engine:     transitionEngine,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Start begins the scan loop and blocks until ctx is cancelled or Shutdown
// is called.
func (s *Service) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error().Err(err).Msg("timeout scan failed")
			}
		}
	}
}

// Shutdown stops the scan loop.
func (s *Service) Shutdown() {
	close(s.shutdownCh)
}

// Tick runs a single scan. It is a no-op when a previous scan is still in
// flight.
func (s *Service) Tick(ctx context.Context) error {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil
	}
	defer s.scanning.Store(false)

	ctx, span := tracing.StartSpan(ctx, "scheduler.tick", "INTERNAL")
	err := s.processExpired(ctx)
	tracing.EndSpan(span, err)
	return err
}

func (s *Service) processExpired(ctx context.Context) error {
	now := clock.Now()
	expired, err := s.requests.ListExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list expired requests: %w", err)
	}
	for _, aRequest := range expired {
		if err := s.applyFallback(ctx, aRequest, now); err != nil {
			// Isolate: the state may simply have changed between the scan
			// read and the write; siblings in this tick still get processed.
			s.logger.Warn().Str("request_id", aRequest.RequestID).
				Str("fallback", string(aRequest.TimeoutPolicy.Fallback)).Err(err).
				Msg("failed to apply timeout fallback")
		}
	}
	return nil
}

func (s *Service) applyFallback(ctx context.Context, aRequest *mrequest.Request, now time.Time) error {
	fallback := aRequest.TimeoutPolicy.Fallback
	switch fallback {
	case mrequest.FallbackAutoApprove:
		return s.autoRespond(ctx, aRequest, "approved")
	case mrequest.FallbackAutoReject:
		return s.autoRespond(ctx, aRequest, "rejected")
	case mrequest.FallbackEscalate:
		return s.escalate(ctx, aRequest, now)
	default:
		// BLOCK, FAIL and SKIP all terminate the request; the fallback value
		// stays on the record and in the audit payload so consumers can still
		// branch on it when interpreting the terminal state.
		_, err := s.engine.Transition(ctx, &engine.Transition{
			RequestID: aRequest.RequestID,
			From:      aRequest.State,
			To:        mrequest.StateTimedOut,
			Actor:     systemActor,
			ActorType: audit.ActorSystem,
			Payload:   map[string]interface{}{"fallback": string(fallback)},
		})
		return err
	}
}

func (s *Service) autoRespond(ctx context.Context, aRequest *mrequest.Request, decision string) error {
	respondedBy := "system:auto_" + decisionSuffix(decision)
	_, err := s.engine.Transition(ctx, &engine.Transition{
		RequestID: aRequest.RequestID,
		From:      aRequest.State,
		To:        mrequest.StateResponded,
		Actor:     systemActor,
		ActorType: audit.ActorSystem,
		Payload:   map[string]interface{}{"fallback": string(aRequest.TimeoutPolicy.Fallback), "auto": true},
		Update: func(aRequest *mrequest.Request) {
			now := clock.Now()
			aRequest.ResponseData = map[string]interface{}{"decision": decision, "auto": true}
			aRequest.RespondedBy = respondedBy
			aRequest.RespondedAt = &now
		},
	})
	return err
}

// escalate reassigns the request to the escalation target with a fresh
// deadline and chains it back through ROUTING into PENDING_RESPONSE. Each
// step commits and audits independently; if an intermediate call loses a
// race the chain stops, leaving the request in the last reached state -
// observable and auditable, never corrupted.
func (s *Service) escalate(ctx context.Context, aRequest *mrequest.Request, now time.Time) error {
	target := aRequest.TimeoutPolicy.EscalationResponderID
	if target == "" {
		_, err := s.engine.Transition(ctx, &engine.Transition{
			RequestID: aRequest.RequestID,
			From:      aRequest.State,
			To:        mrequest.StateTimedOut,
			Actor:     systemActor,
			ActorType: audit.ActorSystem,
			Payload: map[string]interface{}{
				"fallback": string(mrequest.FallbackEscalate),
				"reason":   "no_escalation_target",
			},
		})
		return err
	}

	deadline := now.Add(time.Duration(aRequest.TimeoutPolicy.TimeoutSeconds) * time.Second)
	if _, err := s.engine.Transition(ctx, &engine.Transition{
		RequestID: aRequest.RequestID,
		From:      aRequest.State,
		To:        mrequest.StateEscalated,
		Actor:     systemActor,
		ActorType: audit.ActorSystem,
		Payload: map[string]interface{}{
			"fallback":                string(mrequest.FallbackEscalate),
			"escalation_responder_id": target,
		},
		Update: func(aRequest *mrequest.Request) {
			aRequest.ResponderID = target
			aRequest.TimeoutAt = deadline
		},
	}); err != nil {
		return err
	}

	if _, err := s.engine.Transition(ctx, &engine.Transition{
		RequestID: aRequest.RequestID,
		From:      mrequest.StateEscalated,
		To:        mrequest.StateRouting,
		Actor:     systemActor,
		ActorType: audit.ActorSystem,
		Payload:   map[string]interface{}{"responder_id": target},
	}); err != nil {
		return err
	}

	_, err := s.engine.Transition(ctx, &engine.Transition{
		RequestID: aRequest.RequestID,
		From:      mrequest.StateRouting,
		To:        mrequest.StatePendingResponse,
		Actor:     systemActor,
		ActorType: audit.ActorSystem,
		Payload:   map[string]interface{}{"responder_id": target},
	})
	return err
}

func decisionSuffix(decision string) string {
	if decision == "approved" {
		return "approve"
	}
	return "reject"
}
