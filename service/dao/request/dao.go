package request

import (
	"context"
	"time"

	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/dao"
)

// DAO is the storage port for coordination requests. On top of the generic
// CRUD surface it exposes the atomic conditional update that the transition
// engine relies on for per-request serialisation, and the deadline scan used
// by the timeout scheduler. Implementations must guarantee that UpdateIf is
// atomic with respect to concurrent UpdateIf calls on the same row - it is
// the only synchronisation primitive the engine uses.
type DAO interface {
	dao.Service[string, mrequest.Request]

	// UpdateIf persists the supplied request iff the stored row's state still
	// equals expected. Returns dao.ErrStateMismatch when another writer got
	// there first and dao.ErrNotFound when the row does not exist.
	UpdateIf(ctx context.Context, aRequest *mrequest.Request, expected mrequest.State) error

	// ListExpired returns requests in PENDING_RESPONSE or ESCALATED whose
	// timeout deadline is at or before now.
	ListExpired(ctx context.Context, now time.Time) ([]*mrequest.Request, error)

	// LoadByIdempotencyKey returns the request previously submitted with the
	// given idempotency key, or dao.ErrNotFound.
	LoadByIdempotencyKey(ctx context.Context, key string) (*mrequest.Request, error)
}
