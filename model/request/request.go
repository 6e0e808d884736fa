package request

import (
	"time"
)

// Intent classifies why an agent needs a human in the loop. It is
// informational only and never affects transition logic.
type Intent string

const (
	IntentApproval      Intent = "APPROVAL"
	IntentClarification Intent = "CLARIFICATION"
	IntentEscalation    Intent = "ESCALATION"
	IntentNotification  Intent = "NOTIFICATION"
	IntentDecision      Intent = "DECISION"
	IntentReview        Intent = "REVIEW"
	IntentInput         Intent = "INPUT"
)

// Urgency indicates how quickly a responder should look at a request.
type Urgency string

const (
	UrgencyCritical Urgency = "CRITICAL"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyLow      Urgency = "LOW"
)

// Fallback selects the automatic action applied when a request's deadline
// passes without a human response.
type Fallback string

const (
	FallbackAutoApprove Fallback = "AUTO_APPROVE"
	FallbackAutoReject  Fallback = "AUTO_REJECT"
	FallbackEscalate    Fallback = "ESCALATE"
	FallbackBlock       Fallback = "BLOCK"
	FallbackFail        Fallback = "FAIL"
	FallbackSkip        Fallback = "SKIP"
)

// Notification channels understood by the router.
const (
	ChannelPortal = "portal"
	ChannelSlack  = "slack"
)

// Attachment carries supplementary material shown to the responder.
type Attachment struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ContextPackage is the human-readable context an agent attaches to a
// request so the responder can decide without consulting the agent.
type ContextPackage struct {
	Summary     string                 `json:"summary"`
	Detail      string                 `json:"detail,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Attachments []Attachment           `json:"attachments,omitempty"`
}

// ResponseOption describes one selectable choice of a "choice" response schema.
type ResponseOption struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// ResponseSchema constrains the shape of the expected human response.
type ResponseSchema struct {
	Type       string                 `json:"type"` // choice | text | structured
	Options    []ResponseOption       `json:"options,omitempty"`
	JSONSchema map[string]interface{} `json:"json_schema,omitempty"`
}

// TimeoutPolicy controls what happens when a request expires. The policy is
// immutable after submission apart from consumption of the escalation target.
type TimeoutPolicy struct {
	TimeoutSeconds        int      `json:"timeout_seconds"`
	Fallback              Fallback `json:"fallback"`
	EscalationResponderID string   `json:"escalation_responder_id,omitempty"`
}

// RoutingHints tell the router who should answer and over which channel.
type RoutingHints struct {
	ResponderID    string `json:"responder_id"`
	Channel        string `json:"channel,omitempty"`
	SlackChannelID string `json:"slack_channel_id,omitempty"`
}

// Request is the central entity of the coordination engine: a unit of work
// requiring a human decision, tracked through a fixed state lifecycle. The
// row is mutated exclusively through the transition engine; once the state
// is terminal the row never changes again.
type Request struct {
	RequestID      string                 `json:"request_id"`
	AgentID        string                 `json:"agent_id"`
	Intent         Intent                 `json:"intent"`
	Urgency        Urgency                `json:"urgency"`
	State          State                  `json:"state"`
	ContextPackage ContextPackage         `json:"context_package"`
	ResponseSchema *ResponseSchema        `json:"response_schema,omitempty"`
	TimeoutPolicy  TimeoutPolicy          `json:"timeout_policy"`
	RoutingHints   RoutingHints           `json:"routing_hints"`
	TraceID        string                 `json:"trace_id,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	ResponderID    string                 `json:"responder_id"`
	ResponseData   map[string]interface{} `json:"response_data,omitempty"`
	RespondedBy    string                 `json:"responded_by,omitempty"`
	RespondedAt    *time.Time             `json:"responded_at,omitempty"`
	SubmittedAt    time.Time              `json:"submitted_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	TimeoutAt      time.Time              `json:"timeout_at"`
	DeliveredAt    *time.Time             `json:"delivered_at,omitempty"`
}

// Clone returns a deep enough copy for stores that must hand out
// independent snapshots.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	ret := *r
	if r.ResponseSchema != nil {
		schema := *r.ResponseSchema
		schema.Options = append([]ResponseOption(nil), r.ResponseSchema.Options...)
		ret.ResponseSchema = &schema
	}
	if r.ResponseData != nil {
		data := make(map[string]interface{}, len(r.ResponseData))
		for k, v := range r.ResponseData {
			data[k] = v
		}
		ret.ResponseData = data
	}
	if r.RespondedAt != nil {
		t := *r.RespondedAt
		ret.RespondedAt = &t
	}
	if r.DeliveredAt != nil {
		t := *r.DeliveredAt
		ret.DeliveredAt = &t
	}
	return &ret
}
