package sentry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/logger"
)

// Service is a thin wrapper around the sentry SDK; a disabled service is a
// no-op so callers never need to branch.
type Service struct {
	cfg *config.Configuration
	log *logger.Logger
}

func NewService(cfg *config.Configuration, log *logger.Logger) (*Service, error) {
	s := &Service{cfg: cfg, log: log}
	if !cfg.Sentry.Enabled || cfg.Sentry.DSN == "" {
		return s, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Sentry.DSN,
		Environment:      cfg.Sentry.Environment,
		TracesSampleRate: cfg.Sentry.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Service) CaptureException(err error) {
	if s == nil || s.cfg == nil || !s.cfg.Sentry.Enabled {
		return
	}
	sentry.CaptureException(err)
}

func (s *Service) Flush() {
	if s == nil || s.cfg == nil || !s.cfg.Sentry.Enabled {
		return
	}
	sentry.Flush(2 * time.Second)
}
