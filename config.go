package hitl

import (
	"context"
	"fmt"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/viant/hitl/service/scheduler"
)

// Config is a serialisable representation of the engine configuration. It can
// be populated from JSON or YAML. The zero-value is useful - all nested
// fields inherit their package defaults.

type Config struct {
	Scheduler scheduler.Config `json:"scheduler" yaml:"scheduler"`
	Store     StoreConfig      `json:"store" yaml:"store"`
	Slack     SlackConfig      `json:"slack" yaml:"slack"`
	Gateway   GatewayConfig    `json:"gateway" yaml:"gateway"`
}

// StoreConfig selects the request store backend. An empty BaseURL keeps the
// in-memory store; otherwise requests are persisted as JSON documents under
// the supplied afs location.
type StoreConfig struct {
	BaseURL string `json:"baseURL" yaml:"baseURL"`
}

// SlackConfig configures the optional Slack notification channel. Token and
// TokenURL are mutually exclusive; TokenURL points at an encrypted scy
// resource.
type SlackConfig struct {
	Token     string `json:"token,omitempty" yaml:"token,omitempty"`
	TokenURL  string `json:"tokenURL,omitempty" yaml:"tokenURL,omitempty"`
	TokenKey  string `json:"tokenKey,omitempty" yaml:"tokenKey,omitempty"`
	PortalURL string `json:"portalURL,omitempty" yaml:"portalURL,omitempty"`
}

// Enabled reports whether any token source is configured.
func (c *SlackConfig) Enabled() bool {
	return c.Token != "" || c.TokenURL != ""
}

// GatewayConfig configures the HTTP gateway.
type GatewayConfig struct {
	Addr    string   `json:"addr" yaml:"addr"`
	APIKeys []string `json:"apiKeys,omitempty" yaml:"apiKeys,omitempty"`
}

// DefaultConfig returns a Config populated with package defaults.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: scheduler.DefaultConfig(),
		Gateway:   GatewayConfig{Addr: ":3100"},
	}
}

// Validate returns an error describing invalid settings or nil.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	if c.Scheduler.PollingInterval < 0 {
		return fmt.Errorf("scheduler.pollingInterval must be >= 0")
	}
	if c.Slack.Token != "" && c.Slack.TokenURL != "" {
		return fmt.Errorf("slack.token and slack.tokenURL are mutually exclusive")
	}
	return nil
}

// LoadConfig reads a YAML config from the supplied afs URL (file path, s3://,
// gs:// etc.) and overlays it on the defaults.
func LoadConfig(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", URL, err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", URL, err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}
