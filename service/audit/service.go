package audit

import (
	"context"
)

// Query filters an audit trail read. Zero-value fields are ignored; Limit
// defaults to 100 when unset. The service enforces no upper bound beyond the
// caller-specified limit.
type Query struct {
	RequestID string
	EventType string
	Limit     int
	Offset    int
}

// Service defines the append-only audit log. Append either succeeds or
// returns the storage error - a missing audit record is a correctness issue,
// so failures are propagated, never swallowed. List returns events ascending
// by creation time.
type Service interface {
	Append(ctx context.Context, event *Event) (*Event, error)
	List(ctx context.Context, query Query) ([]*Event, error)
}
