package notify

import (
	"context"

	mrequest "github.com/viant/hitl/model/request"
)

// Notifier alerts a responder that a request awaits them on some external
// channel. Implementations wrap network calls and must not be assumed
// synchronous-safe; the router invokes them best-effort after the request is
// already PENDING_RESPONSE, so a failed notification never reverts state.
type Notifier interface {
	// Channel returns the routing-hint channel name this notifier serves.
	Channel() string

	// Notify alerts the responder about the supplied request.
	Notify(ctx context.Context, aRequest *mrequest.Request) error
}
