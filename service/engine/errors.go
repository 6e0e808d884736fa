package engine

import (
	"errors"
	"fmt"

	mrequest "github.com/viant/hitl/model/request"
)

// InvalidTransitionError reports an edge that does not exist in the
// adjacency table. It is a protocol error on the caller's side and is never
// retried automatically.
type InvalidTransitionError struct {
	RequestID string
	From      mrequest.State
	To        mrequest.State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s (request %s)", e.From, e.To, e.RequestID)
}

// ConcurrentModificationError reports an optimistic-lock miss: another actor
// transitioned the row between the caller's read and its conditional write.
// Expected under contention; the caller must re-read the current state and
// decide, not blindly retry with stale assumptions.
type ConcurrentModificationError struct {
	RequestID string
	Expected  mrequest.State
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("request %s no longer in state %s: concurrent modification", e.RequestID, e.Expected)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var target *InvalidTransitionError
	return errors.As(err, &target)
}

// IsConcurrentModification reports whether err wraps a
// ConcurrentModificationError.
func IsConcurrentModification(err error) bool {
	var target *ConcurrentModificationError
	return errors.As(err, &target)
}
