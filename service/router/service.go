package router

import (
	"context"

	"github.com/rs/zerolog"

	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/audit"
	"github.com/viant/hitl/service/engine"
	"github.com/viant/hitl/service/notify"
	"github.com/viant/hitl/tracing"
)

const systemActor = "system"

// Service drives a freshly submitted request to an awaiting-response state
// and fires the configured notification channel. Routing runs asynchronously
// relative to submission; a concurrent cancellation wins, in which case the
// pipeline aborts without attempting further transitions.
type Service struct {
	engine    *engine.Service
	auditLog  audit.Service
	notifiers map[string]notify.Notifier
	logger    zerolog.Logger
}

func New(transitionEngine *engine.Service, auditLog audit.Service, logger zerolog.Logger, notifiers ...notify.Notifier) *Service {
	byChannel := make(map[string]notify.Notifier, len(notifiers))
	for _, notifier := range notifiers {
		byChannel[notifier.Channel()] = notifier
	}
	return &Service{engine: transitionEngine, auditLog: auditLog, notifiers: byChannel, logger: logger}
}

// Route moves the request SUBMITTED -> ROUTING -> PENDING_RESPONSE and then
// alerts the responder over the hinted channel. Notification failures are
// audited and logged but never revert state - the request stays actionable
// through the portal.
func (s *Service) Route(ctx context.Context, aRequest *mrequest.Request) error {
	ctx, span := tracing.StartSpan(ctx, "router.route", "INTERNAL")
	err := s.route(ctx, aRequest)
	tracing.EndSpan(span, err)
	return err
}

func (s *Service) route(ctx context.Context, aRequest *mrequest.Request) error {
	if _, err := s.engine.Transition(ctx, &engine.Transition{
		RequestID: aRequest.RequestID,
		From:      mrequest.StateSubmitted,
		To:        mrequest.StateRouting,
		Actor:     systemActor,
		ActorType: audit.ActorSystem,
		Payload:   map[string]interface{}{"responder_id": aRequest.RoutingHints.ResponderID},
	}); err != nil {
		// Concurrent cancellation takes precedence over routing.
		if engine.IsConcurrentModification(err) {
			s.logger.Debug().Str("request_id", aRequest.RequestID).Msg("routing aborted, request already transitioned")
			return nil
		}
		return err
	}

	updated, err := s.engine.Transition(ctx, &engine.Transition{
		RequestID: aRequest.RequestID,
		From:      mrequest.StateRouting,
		To:        mrequest.StatePendingResponse,
		Actor:     systemActor,
		ActorType: audit.ActorSystem,
		Payload: map[string]interface{}{
			"channel":      aRequest.RoutingHints.Channel,
			"responder_id": aRequest.RoutingHints.ResponderID,
		},
	})
	if err != nil {
		if engine.IsConcurrentModification(err) {
			s.logger.Debug().Str("request_id", aRequest.RequestID).Msg("routing aborted, request already transitioned")
			return nil
		}
		return err
	}

	s.notifyResponder(ctx, updated)
	return nil
}

func (s *Service) notifyResponder(ctx context.Context, aRequest *mrequest.Request) {
	channel := aRequest.RoutingHints.Channel
	if channel == "" {
		channel = mrequest.ChannelPortal
	}
	notifier, ok := s.notifiers[channel]
	if !ok {
		s.logger.Debug().Str("request_id", aRequest.RequestID).Str("channel", channel).
			Msg("no notifier configured for channel")
		return
	}
	notifyErr := notifier.Notify(ctx, aRequest)
	if notifyErr != nil {
		s.logger.Warn().Str("request_id", aRequest.RequestID).Str("channel", channel).Err(notifyErr).
			Msg("responder notification failed, request remains pending")
	}
	if channel != mrequest.ChannelSlack {
		return
	}
	payload := map[string]interface{}{
		"channel_id": aRequest.RoutingHints.SlackChannelID,
		"status":     "sent",
	}
	if notifyErr != nil {
		payload["status"] = "failed"
		payload["error"] = notifyErr.Error()
	}
	if _, err := s.auditLog.Append(ctx, &audit.Event{
		RequestID: aRequest.RequestID,
		EventType: audit.EventSlackNotified,
		Actor:     systemActor,
		ActorType: audit.ActorSystem,
		Payload:   payload,
	}); err != nil {
		s.logger.Error().Str("request_id", aRequest.RequestID).Err(err).Msg("failed to audit notification")
	}
}
