package usage

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/meterline/meterline/internal/domain/window"
)

// CompositePlanID joins the plan identity with its effective metering,
// rating and pricing plan ids. Different plan mappings for the same plan
// never collide in an aggregate bucket.
func CompositePlanID(planID, meteringPlanID, ratingPlanID, pricingPlanID string) string {
	return strings.Join([]string{planID, meteringPlanID, ratingPlanID, pricingPlanID}, "/")
}

// PlanUsage is the aggregate bucket for one composite plan id under a
// resource.
type PlanUsage struct {
	PlanID          string          `json:"plan_id"`
	AggregatedUsage []*MetricWindow `json:"aggregated_usage"`
}

func (p *PlanUsage) Window(metric string) *MetricWindow {
	mw, _ := lo.Find(p.AggregatedUsage, func(mw *MetricWindow) bool {
		return mw.Metric == metric
	})
	return mw
}

func (p *PlanUsage) EnsureWindow(metric string, policy window.RetentionPolicy) *MetricWindow {
	if mw := p.Window(metric); mw != nil {
		return mw
	}
	mw := &MetricWindow{Metric: metric, Windows: window.NewSet(policy)}
	p.AggregatedUsage = append(p.AggregatedUsage, mw)
	return mw
}

// ResourceUsage groups plan buckets under one resource id.
type ResourceUsage struct {
	ResourceID string       `json:"resource_id"`
	Plans      []*PlanUsage `json:"plans"`
}

// ResourceList is the resources/plans/aggregated_usage hierarchy shared by
// the organization, consumer and space documents.
type ResourceList []*ResourceUsage

// EnsurePlan locates the plan bucket for (resourceID, planID), creating the
// resource entry and an all-empty plan bucket on first contact.
func (rl *ResourceList) EnsurePlan(resourceID, planID string) *PlanUsage {
	for _, r := range *rl {
		if r.ResourceID == resourceID {
			for _, p := range r.Plans {
				if p.PlanID == planID {
					return p
				}
			}
			p := &PlanUsage{PlanID: planID}
			r.Plans = append(r.Plans, p)
			return p
		}
	}
	p := &PlanUsage{PlanID: planID}
	*rl = append(*rl, &ResourceUsage{ResourceID: resourceID, Plans: []*PlanUsage{p}})
	return p
}

// MemberRef records a member of a scope with the sequence id it was last
// seen at, used for display and potential future pruning.
type MemberRef struct {
	ID          string `json:"id"`
	ProcessedID string `json:"processed_id"`
}

// MemberList is an ordered membership list keyed by member id.
type MemberList []*MemberRef

// Touch upserts a member with the latest processed id.
func (ml *MemberList) Touch(id, processedID string) {
	for _, m := range *ml {
		if m.ID == id {
			if processedID > m.ProcessedID {
				m.ProcessedID = processedID
			}
			return
		}
	}
	*ml = append(*ml, &MemberRef{ID: id, ProcessedID: processedID})
}

// AggregateHeader carries the identity and bookkeeping fields shared by all
// aggregate documents.
type AggregateHeader struct {
	ID                 string    `json:"id"`
	Partition          string    `json:"partition"`
	OrganizationID     string    `json:"organization_id"`
	ProcessedID        string    `json:"processed_id"`
	AccumulatedUsageID string    `json:"accumulated_usage_id"`
	End                time.Time `json:"end"`
	Processed          time.Time `json:"processed"`
}

// OrganizationUsage is the org-level rollup, with the member spaces list.
type OrganizationUsage struct {
	AggregateHeader
	Resources ResourceList `json:"resources"`
	Spaces    MemberList   `json:"spaces"`
}

// SpaceUsage is the space-level rollup, with the member consumers list.
type SpaceUsage struct {
	AggregateHeader
	SpaceID   string       `json:"space_id"`
	Resources ResourceList `json:"resources"`
	Consumers MemberList   `json:"consumers"`
}

// ConsumerUsage is the consumer-level rollup, with the member resource
// instances list.
type ConsumerUsage struct {
	AggregateHeader
	SpaceID           string       `json:"space_id"`
	ConsumerID        string       `json:"consumer_id"`
	Resources         ResourceList `json:"resources"`
	ResourceInstances MemberList   `json:"resource_instances"`
}

// Marker is the minimal dedup gate: its presence means the accumulated
// document it is keyed on has already been folded into the aggregates.
type Marker struct {
	ID                 string    `json:"id"`
	Partition          string    `json:"partition"`
	ProcessedID        string    `json:"processed_id"`
	AccumulatedUsageID string    `json:"accumulated_usage_id"`
	CreatedAt          time.Time `json:"created_at"`
}

// SagaState tracks how far an aggregation write sequence has progressed.
// The marker commits the saga; anything before it is safe to re-run.
type SagaState string

const (
	SagaStatePending       SagaState = "pending"
	SagaStateScopesWritten SagaState = "scopes_written"
	SagaStateCommitted     SagaState = "committed"
)

// AggregationResult is the outcome of folding one accumulated document into
// the four aggregate documents.
type AggregationResult struct {
	Organization *OrganizationUsage `json:"organization"`
	Consumer     *ConsumerUsage     `json:"consumer"`
	Space        *SpaceUsage        `json:"space"`
	Marker       *Marker            `json:"marker"`
	State        SagaState          `json:"state"`
	Duplicate    bool               `json:"duplicate"`
}

// ErrorDocument durably records an accumulated document whose aggregation
// failed on an upstream lookup, so it can be replayed once the upstream
// recovers.
type ErrorDocument struct {
	ID          string            `json:"id"`
	Accumulated *AccumulatedUsage `json:"accumulated"`
	Cause       string            `json:"cause"`
	CreatedAt   time.Time         `json:"created_at"`
	ReplayedAt  *time.Time        `json:"replayed_at,omitempty"`
}
