package hitl

import (
	"github.com/rs/zerolog"

	"github.com/viant/hitl/service/audit"
	daorequest "github.com/viant/hitl/service/dao/request"
	"github.com/viant/hitl/service/notify"
	"github.com/viant/hitl/tracing"
)

// Option customises the Service during construction.
type Option func(s *Service)

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) {
		if config != nil {
			s.config = config
		}
	}
}

// WithRequestDAO sets the request store.
func WithRequestDAO(dao daorequest.DAO) Option {
	return func(s *Service) { s.requests = dao }
}

// WithAuditService sets the audit log backend.
func WithAuditService(svc audit.Service) Option {
	return func(s *Service) { s.auditLog = svc }
}

// WithNotifiers registers notification-channel adaptors with the router.
func WithNotifiers(notifiers ...notify.Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, notifiers...) }
}

// WithLogger sets the structured logger used across all services.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile
// is empty the stdout exporter is used; otherwise traces are written to the
// supplied file path. Safe to call multiple times - the first successful
// initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}
