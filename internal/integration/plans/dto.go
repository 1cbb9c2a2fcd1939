package plans

// LookupRequest identifies the plan mapping to resolve.
type LookupRequest struct {
	OrganizationID string `json:"organization_id"`
	ResourceID     string `json:"resource_id"`
	PlanID         string `json:"plan_id"`
}

// EffectivePlans is the resolved mapping returned by the plan service.
type EffectivePlans struct {
	MeteringPlanID string `json:"metering_plan_id"`
	RatingPlanID   string `json:"rating_plan_id"`
	PricingPlanID  string `json:"pricing_plan_id"`
}
