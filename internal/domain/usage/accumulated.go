package usage

import (
	"time"

	"github.com/samber/lo"

	"github.com/meterline/meterline/internal/domain/window"
)

// MetricWindow pairs a metric name with its sliding windows. Each metric in
// a document carries an independent window set.
type MetricWindow struct {
	Metric  string      `json:"metric"`
	Windows *window.Set `json:"windows"`
}

// AccumulatedUsage is the per-resource-instance, per-day-bucket record the
// accumulator produces from successive raw events.
type AccumulatedUsage struct {
	ID                 string          `json:"id"`
	Partition          string          `json:"partition"`
	ProcessedID        string          `json:"processed_id"`
	SourceEventID      string          `json:"source_event_id"`
	DedupID            string          `json:"dedup_id,omitempty"`
	OrganizationID     string          `json:"organization_id"`
	SpaceID            string          `json:"space_id"`
	ConsumerID         string          `json:"consumer_id,omitempty"`
	ResourceID         string          `json:"resource_id"`
	ResourceInstanceID string          `json:"resource_instance_id"`
	PlanID             string          `json:"plan_id"`
	MeteringPlanID     string          `json:"metering_plan_id"`
	RatingPlanID       string          `json:"rating_plan_id"`
	PricingPlanID      string          `json:"pricing_plan_id"`
	Start              time.Time       `json:"start"`
	End                time.Time       `json:"end"`
	Processed          time.Time       `json:"processed"`
	AccumulatedUsage   []*MetricWindow `json:"accumulated_usage"`
}

// Window returns the window set for a metric, nil when absent.
func (a *AccumulatedUsage) Window(metric string) *MetricWindow {
	mw, _ := lo.Find(a.AccumulatedUsage, func(mw *MetricWindow) bool {
		return mw.Metric == metric
	})
	return mw
}

// EnsureWindow returns the window set for a metric, creating an empty one
// shaped by the retention policy when absent.
func (a *AccumulatedUsage) EnsureWindow(metric string, policy window.RetentionPolicy) *MetricWindow {
	if mw := a.Window(metric); mw != nil {
		return mw
	}
	mw := &MetricWindow{Metric: metric, Windows: window.NewSet(policy)}
	a.AccumulatedUsage = append(a.AccumulatedUsage, mw)
	return mw
}

// Clone deep-copies the document so retries can mutate freely.
func (a *AccumulatedUsage) Clone() *AccumulatedUsage {
	copied := *a
	copied.AccumulatedUsage = make([]*MetricWindow, len(a.AccumulatedUsage))
	for i, mw := range a.AccumulatedUsage {
		copied.AccumulatedUsage[i] = &MetricWindow{
			Metric:  mw.Metric,
			Windows: mw.Windows.Clone(),
		}
	}
	return &copied
}
