package audit

import (
	"time"

	mrequest "github.com/viant/hitl/model/request"
)

// ActorType identifies who performed an audited action.
type ActorType string

const (
	ActorAgent  ActorType = "AGENT"
	ActorHuman  ActorType = "HUMAN"
	ActorSystem ActorType = "SYSTEM"
)

// Lifecycle event types carry a CR_ prefix followed by the state the request
// entered. Channel adaptors record their own notable actions alongside.
const (
	EventTypePrefix = "CR_"

	EventSlackNotified    = "SLACK_NOTIFIED"
	EventSlackInteraction = "SLACK_INTERACTION"
)

// EventTypeFor returns the audit event type recorded when a request enters
// the given state, e.g. CR_PENDING_RESPONSE.
func EventTypeFor(state mrequest.State) string {
	return EventTypePrefix + string(state)
}

// Event is one append-only audit record. Events are never updated or
// deleted; for a single request their append order mirrors the store's
// write order and forms the complete causal history of that request.
type Event struct {
	EventID   string                 `json:"event_id"`
	RequestID string                 `json:"request_id"`
	EventType string                 `json:"event_type"`
	Actor     string                 `json:"actor"`
	ActorType ActorType              `json:"actor_type"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
