package service

import (
	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/document"
	"github.com/meterline/meterline/internal/domain/partition"
	"github.com/meterline/meterline/internal/domain/window"
	"github.com/meterline/meterline/internal/integration/plans"
	"github.com/meterline/meterline/internal/logger"
)

// ServiceParams bundles the dependencies shared by all services. Store and
// plan-lookup handles are injected; their lifecycle belongs to the process
// wiring.
type ServiceParams struct {
	Logger   *logger.Logger
	Config   *config.Configuration
	Store    document.Store
	Plans    plans.Lookup
	Sequence *partition.Sequence
}

// Retention derives the window retention policy from configuration.
func (p ServiceParams) Retention() window.RetentionPolicy {
	acc := p.Config.Accumulator
	policy := window.RetentionPolicy{
		Second: acc.SecondRetention,
		Minute: acc.MinuteRetention,
		Hour:   acc.HourRetention,
		Day:    acc.DayRetention,
		Month:  acc.MonthRetention,
	}
	if policy.Day == 0 && policy.Month == 0 {
		return window.DefaultRetention()
	}
	return policy
}
