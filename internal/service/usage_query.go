package service

import (
	"context"
	"time"

	"github.com/meterline/meterline/internal/domain/partition"
	"github.com/meterline/meterline/internal/domain/usage"
	ierr "github.com/meterline/meterline/internal/errors"
)

// UsageQueryService reads the latest rollups and accumulated documents as of
// a point in time.
type UsageQueryService interface {
	GetOrganizationUsage(ctx context.Context, orgID string, at time.Time) (*usage.OrganizationUsage, error)
	GetSpaceUsage(ctx context.Context, orgID, spaceID string, at time.Time) (*usage.SpaceUsage, error)
	GetConsumerUsage(ctx context.Context, orgID, spaceID, consumerID string, at time.Time) (*usage.ConsumerUsage, error)
	GetAccumulatedUsage(ctx context.Context, orgID, instanceID string, at time.Time) (*usage.AccumulatedUsage, error)
}

type usageQueryService struct {
	ServiceParams
}

func NewUsageQueryService(params ServiceParams) UsageQueryService {
	return &usageQueryService{ServiceParams: params}
}

func (s *usageQueryService) GetOrganizationUsage(ctx context.Context, orgID string, at time.Time) (*usage.OrganizationUsage, error) {
	part := partition.MonthToken(at)
	startKey, endKey := partition.OrganizationRange(orgID)
	org, err := loadLatest[usage.OrganizationUsage](ctx, s.Store, partition.Scoped(part, startKey), partition.Scoped(part, endKey))
	if err != nil {
		return nil, err
	}
	if org == nil {
		return nil, ierr.NewError("no usage found for organization").
			WithHint("No usage has been recorded for this organization in the requested month").
			WithReportableDetails(map[string]interface{}{
				"organization_id": orgID,
				"month":           part,
			}).
			Mark(ierr.ErrNotFound)
	}
	return org, nil
}

func (s *usageQueryService) GetSpaceUsage(ctx context.Context, orgID, spaceID string, at time.Time) (*usage.SpaceUsage, error) {
	part := partition.MonthToken(at)
	startKey, endKey := partition.SpaceRange(orgID, spaceID)
	space, err := loadLatest[usage.SpaceUsage](ctx, s.Store, partition.Scoped(part, startKey), partition.Scoped(part, endKey))
	if err != nil {
		return nil, err
	}
	if space == nil {
		return nil, ierr.NewError("no usage found for space").
			WithHint("No usage has been recorded for this space in the requested month").
			WithReportableDetails(map[string]interface{}{
				"organization_id": orgID,
				"space_id":        spaceID,
				"month":           part,
			}).
			Mark(ierr.ErrNotFound)
	}
	return space, nil
}

func (s *usageQueryService) GetConsumerUsage(ctx context.Context, orgID, spaceID, consumerID string, at time.Time) (*usage.ConsumerUsage, error) {
	part := partition.MonthToken(at)
	startKey, endKey := partition.ConsumerRange(orgID, spaceID, consumerID)
	consumer, err := loadLatest[usage.ConsumerUsage](ctx, s.Store, partition.Scoped(part, startKey), partition.Scoped(part, endKey))
	if err != nil {
		return nil, err
	}
	if consumer == nil {
		return nil, ierr.NewError("no usage found for consumer").
			WithHint("No usage has been recorded for this consumer in the requested month").
			WithReportableDetails(map[string]interface{}{
				"organization_id": orgID,
				"space_id":        spaceID,
				"consumer_id":     consumerID,
				"month":           part,
			}).
			Mark(ierr.ErrNotFound)
	}
	return consumer, nil
}

func (s *usageQueryService) GetAccumulatedUsage(ctx context.Context, orgID, instanceID string, at time.Time) (*usage.AccumulatedUsage, error) {
	part := partition.MonthToken(at)
	startKey, endKey := partition.AccumulatedRange(orgID, instanceID, at)
	acc, err := loadLatest[usage.AccumulatedUsage](ctx, s.Store, partition.Scoped(part, startKey), partition.Scoped(part, endKey))
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, ierr.NewError("no usage found for resource instance").
			WithHint("No usage has been recorded for this resource instance on the requested day").
			WithReportableDetails(map[string]interface{}{
				"organization_id":      orgID,
				"resource_instance_id": instanceID,
				"day":                  partition.DayBucket(at),
			}).
			Mark(ierr.ErrNotFound)
	}
	return acc, nil
}
