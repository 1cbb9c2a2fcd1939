package usage

import (
	"fmt"
	"time"

	"github.com/meterline/meterline/internal/domain/window"
	ierr "github.com/meterline/meterline/internal/errors"
)

// Event is one raw usage submission for a resource instance, produced by an
// external collector and consumed exactly once by the accumulator.
type Event struct {
	ID                 string                     `json:"id"`
	DedupID            string                     `json:"dedup_id,omitempty"`
	OrganizationID     string                     `json:"organization_id"`
	SpaceID            string                     `json:"space_id"`
	ConsumerID         string                     `json:"consumer_id,omitempty"`
	ResourceID         string                     `json:"resource_id"`
	ResourceInstanceID string                     `json:"resource_instance_id"`
	PlanID             string                     `json:"plan_id"`
	MeteringPlanID     string                     `json:"metering_plan_id,omitempty"`
	RatingPlanID       string                     `json:"rating_plan_id,omitempty"`
	PricingPlanID      string                     `json:"pricing_plan_id,omitempty"`
	Start              time.Time                  `json:"start"`
	End                time.Time                  `json:"end"`
	Processed          time.Time                  `json:"processed"`
	Metrics            map[string]window.Quantity `json:"metrics"`
}

// SourceID is the causal identity of the event used for deduplication: the
// usage id plus the exact [start, end] interval.
func (e *Event) SourceID() string {
	return fmt.Sprintf("%s/%d/%d", e.ID, e.Start.UnixMilli(), e.End.UnixMilli())
}

func (e *Event) Validate() error {
	if e.ID == "" {
		return ierr.NewError("event id is required").Mark(ierr.ErrValidation)
	}
	if e.OrganizationID == "" {
		return ierr.NewError("organization_id is required").Mark(ierr.ErrValidation)
	}
	if e.SpaceID == "" {
		return ierr.NewError("space_id is required").Mark(ierr.ErrValidation)
	}
	if e.ResourceID == "" {
		return ierr.NewError("resource_id is required").Mark(ierr.ErrValidation)
	}
	if e.ResourceInstanceID == "" {
		return ierr.NewError("resource_instance_id is required").Mark(ierr.ErrValidation)
	}
	if e.PlanID == "" {
		return ierr.NewError("plan_id is required").Mark(ierr.ErrValidation)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return ierr.NewError("usage interval is required").Mark(ierr.ErrValidation)
	}
	if e.End.Before(e.Start) {
		return ierr.NewError("usage end precedes start").
			WithReportableDetails(map[string]interface{}{
				"start": e.Start,
				"end":   e.End,
			}).
			Mark(ierr.ErrValidation)
	}
	if len(e.Metrics) == 0 {
		return ierr.NewError("at least one metric is required").Mark(ierr.ErrValidation)
	}
	return nil
}
