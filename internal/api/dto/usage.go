package dto

import (
	"time"

	"github.com/meterline/meterline/internal/domain/usage"
	"github.com/meterline/meterline/internal/domain/window"
	"github.com/meterline/meterline/internal/types"
)

// SubmitUsageRequest is one raw usage submission for a resource instance.
type SubmitUsageRequest struct {
	EventID            string                     `json:"event_id"`
	DedupID            string                     `json:"dedup_id,omitempty"`
	OrganizationID     string                     `json:"organization_id" binding:"required"`
	SpaceID            string                     `json:"space_id" binding:"required"`
	ConsumerID         string                     `json:"consumer_id,omitempty"`
	ResourceID         string                     `json:"resource_id" binding:"required"`
	ResourceInstanceID string                     `json:"resource_instance_id" binding:"required"`
	PlanID             string                     `json:"plan_id" binding:"required"`
	MeteringPlanID     string                     `json:"metering_plan_id,omitempty"`
	RatingPlanID       string                     `json:"rating_plan_id,omitempty"`
	PricingPlanID      string                     `json:"pricing_plan_id,omitempty"`
	Start              time.Time                  `json:"start" binding:"required"`
	End                time.Time                  `json:"end" binding:"required"`
	Metrics            map[string]window.Quantity `json:"metrics" binding:"required"`
}

// ToEvent converts the request into a domain event, stamping intake time and
// generating an event id when the producer did not supply one.
func (r *SubmitUsageRequest) ToEvent() *usage.Event {
	eventID := r.EventID
	if eventID == "" {
		eventID = types.GenerateUUIDWithPrefix(types.UUIDPrefixUsageEvent)
	}
	return &usage.Event{
		ID:                 eventID,
		DedupID:            r.DedupID,
		OrganizationID:     r.OrganizationID,
		SpaceID:            r.SpaceID,
		ConsumerID:         r.ConsumerID,
		ResourceID:         r.ResourceID,
		ResourceInstanceID: r.ResourceInstanceID,
		PlanID:             r.PlanID,
		MeteringPlanID:     r.MeteringPlanID,
		RatingPlanID:       r.RatingPlanID,
		PricingPlanID:      r.PricingPlanID,
		Start:              r.Start,
		End:                r.End,
		Processed:          time.Now().UTC(),
		Metrics:            r.Metrics,
	}
}

// SubmitUsageResponse acknowledges a usage submission.
type SubmitUsageResponse struct {
	EventID     string `json:"event_id"`
	Accepted    bool   `json:"accepted"`
	Async       bool   `json:"async"`
	Duplicate   bool   `json:"duplicate,omitempty"`
	ProcessedID string `json:"processed_id,omitempty"`
}

// ReplayErrorsResponse reports how many parked error documents replayed.
type ReplayErrorsResponse struct {
	Replayed int `json:"replayed"`
}
