package nop

import (
	"context"

	mrequest "github.com/viant/hitl/model/request"
	"github.com/viant/hitl/service/notify"
)

// Service is a no-op notifier used when a channel should be acknowledged but
// not acted on, e.g. the portal channel where responders pull their queue.
type Service struct {
	channel string
}

var _ notify.Notifier = (*Service)(nil)

// New creates a no-op notifier for the supplied channel name.
func New(channel string) *Service {
	if channel == "" {
		channel = mrequest.ChannelPortal
	}
	return &Service{channel: channel}
}

func (s *Service) Channel() string {
	return s.channel
}

// does nothing
func (s *Service) Notify(ctx context.Context, aRequest *mrequest.Request) error {
	return nil
}
