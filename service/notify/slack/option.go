package slack

import "net/http"

// Option customises the Slack notifier.
type Option func(*Service)

// WithToken sets the bot token directly, bypassing secret loading.
func WithToken(token string) Option {
	return func(s *Service) { s.token = token }
}

// WithTokenResource points the notifier at an encrypted scy resource holding
// the bot token, e.g. key "blowfish://default".
func WithTokenResource(url, key string) Option {
	return func(s *Service) {
		s.tokenURL = url
		s.tokenKey = key
	}
}

// WithAPIURL overrides the chat.postMessage endpoint, mainly for tests.
func WithAPIURL(url string) Option {
	return func(s *Service) { s.apiURL = url }
}

// WithPortalURL adds a portal deep link to every notification.
func WithPortalURL(url string) Option {
	return func(s *Service) { s.portalURL = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Service) { s.client = client }
}
