package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meterline/meterline/internal/domain/document"
	"github.com/meterline/meterline/internal/domain/partition"
	"github.com/meterline/meterline/internal/domain/usage"
	"github.com/meterline/meterline/internal/domain/window"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/plans"
	"github.com/meterline/meterline/internal/types"
)

// AggregatorService folds accumulated documents into the organization, space
// and consumer rollups. The dedup marker is written last and commits the
// sequence; a crash before it leaves partial documents that the next attempt
// safely re-derives.
type AggregatorService interface {
	Aggregate(ctx context.Context, acc *usage.AccumulatedUsage) (*usage.AggregationResult, error)
	ReplayErrors(ctx context.Context) (int, error)
}

type aggregatorService struct {
	ServiceParams
	locks *keyLock
}

func NewAggregatorService(params ServiceParams) AggregatorService {
	return &aggregatorService{
		ServiceParams: params,
		locks:         newKeyLock(),
	}
}

func (s *aggregatorService) Aggregate(ctx context.Context, acc *usage.AccumulatedUsage) (*usage.AggregationResult, error) {
	unlock := s.locks.lock(acc.OrganizationID)
	defer unlock()

	resolved, err := s.resolvePlans(ctx, acc)
	if err != nil {
		if ierr.IsUpstreamLookup(err) {
			if storeErr := s.storeErrorDocument(ctx, acc, err); storeErr != nil {
				s.Logger.Errorw("failed to store aggregation error document",
					"accumulated_usage_id", acc.ID,
					"error", storeErr,
				)
			}
		}
		return nil, err
	}

	var result *usage.AggregationResult
	operation := func() error {
		r, err := s.aggregateOnce(ctx, resolved)
		if err != nil {
			if ierr.IsConflict(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.Config.Aggregator.MaxPutAttempts)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

// resolvePlans fills in missing metering/rating/pricing plan ids from the
// plan-mapping service. The accumulated document itself is never rewritten.
func (s *aggregatorService) resolvePlans(ctx context.Context, acc *usage.AccumulatedUsage) (*usage.AccumulatedUsage, error) {
	if acc.MeteringPlanID != "" && acc.RatingPlanID != "" && acc.PricingPlanID != "" {
		return acc, nil
	}

	effective, err := s.Plans.EffectivePlans(ctx, &plans.LookupRequest{
		OrganizationID: acc.OrganizationID,
		ResourceID:     acc.ResourceID,
		PlanID:         acc.PlanID,
	})
	if err != nil {
		return nil, err
	}

	resolved := acc.Clone()
	if resolved.MeteringPlanID == "" {
		resolved.MeteringPlanID = effective.MeteringPlanID
	}
	if resolved.RatingPlanID == "" {
		resolved.RatingPlanID = effective.RatingPlanID
	}
	if resolved.PricingPlanID == "" {
		resolved.PricingPlanID = effective.PricingPlanID
	}
	return resolved, nil
}

func (s *aggregatorService) aggregateOnce(ctx context.Context, acc *usage.AccumulatedUsage) (*usage.AggregationResult, error) {
	part := acc.Partition
	if part == "" {
		part = partition.PartitionFor(acc.End, acc.Processed, s.Config.Aggregator.Slack)
	}

	markerKey := partition.Scoped(part, partition.MarkerKey(partition.MarkerIdentity{
		OrganizationID:     acc.OrganizationID,
		ResourceInstanceID: acc.ResourceInstanceID,
		ConsumerID:         acc.ConsumerID,
		PlanID:             acc.PlanID,
		MeteringPlanID:     acc.MeteringPlanID,
		RatingPlanID:       acc.RatingPlanID,
		PricingPlanID:      acc.PricingPlanID,
		Start:              acc.Start,
		End:                acc.End,
		DedupID:            acc.DedupID,
	}))

	if marker, err := s.getMarker(ctx, markerKey); err != nil {
		return nil, err
	} else if marker != nil {
		s.Logger.Infow("skipping already aggregated document",
			"accumulated_usage_id", acc.ID,
			"marker_processed_id", marker.ProcessedID,
		)
		return s.duplicateResult(ctx, part, acc, marker)
	}

	state := usage.SagaStatePending

	org, space, consumer, err := s.loadScopes(ctx, part, acc)
	if err != nil {
		return nil, err
	}

	if org == nil {
		org = &usage.OrganizationUsage{}
	}
	if space == nil {
		space = &usage.SpaceUsage{SpaceID: acc.SpaceID}
	}
	if consumer == nil {
		consumer = &usage.ConsumerUsage{SpaceID: acc.SpaceID, ConsumerID: consumerID(acc)}
	}

	planID := usage.CompositePlanID(acc.PlanID, acc.MeteringPlanID, acc.RatingPlanID, acc.PricingPlanID)
	retention := s.Retention()

	// A scope whose latest document already references this accumulated
	// document was written by an interrupted earlier attempt; its delta must
	// not be added twice.
	contributions := []struct {
		resources *usage.ResourceList
		lastEnd   time.Time
		applied   bool
	}{
		{&org.Resources, org.End, org.AccumulatedUsageID == acc.ID},
		{&space.Resources, space.End, space.AccumulatedUsageID == acc.ID},
		{&consumer.Resources, consumer.End, consumer.AccumulatedUsageID == acc.ID},
	}

	for _, mw := range acc.AccumulatedUsage {
		for _, level := range []window.Level{window.LevelDay, window.LevelMonth} {
			slot := mw.Windows.At(level, 0)
			if slot == nil {
				continue
			}
			for _, c := range contributions {
				if c.applied {
					continue
				}
				bucket := c.resources.EnsurePlan(acc.ResourceID, planID)
				target := bucket.EnsureWindow(mw.Metric, retention)
				if err := target.Windows.AddDelta(level, acc.End, c.lastEnd, slot.Quantity, slot.PreviousQuantity); err != nil {
					return nil, err
				}
			}
		}
	}

	org.Spaces.Touch(acc.SpaceID, acc.ProcessedID)
	space.Consumers.Touch(consumerID(acc), acc.ProcessedID)
	consumer.ResourceInstances.Touch(acc.ResourceInstanceID, acc.ProcessedID)

	stampHeader(&org.AggregateHeader, part, acc, partition.OrganizationKey(acc.OrganizationID, acc.ProcessedID))
	stampHeader(&space.AggregateHeader, part, acc, partition.SpaceKey(acc.OrganizationID, acc.SpaceID, acc.ProcessedID))
	stampHeader(&consumer.AggregateHeader, part, acc, partition.ConsumerKey(acc.OrganizationID, acc.SpaceID, consumerID(acc), acc.ProcessedID))

	if err := s.putScope(ctx, partition.Scoped(part, org.ID), org, acc.ID); err != nil {
		return nil, s.sagaInterrupted(acc, state, err)
	}
	if err := s.putScope(ctx, partition.Scoped(part, consumer.ID), consumer, acc.ID); err != nil {
		return nil, s.sagaInterrupted(acc, state, err)
	}
	if err := s.putScope(ctx, partition.Scoped(part, space.ID), space, acc.ID); err != nil {
		return nil, s.sagaInterrupted(acc, state, err)
	}
	state = usage.SagaStateScopesWritten

	marker := &usage.Marker{
		ID:                 markerKey,
		Partition:          part,
		ProcessedID:        acc.ProcessedID,
		AccumulatedUsageID: acc.ID,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.putNew(ctx, markerKey, marker); err != nil {
		if ierr.IsConflict(err) {
			// another writer committed this document between our gate check
			// and now, the scope documents it wrote already carry the delta
			s.Logger.Warnw("marker write lost the race, treating as duplicate",
				"accumulated_usage_id", acc.ID,
			)
			if stored, getErr := s.getMarker(ctx, markerKey); getErr == nil && stored != nil {
				marker = stored
			}
			return s.duplicateResult(ctx, part, acc, marker)
		}
		return nil, s.sagaInterrupted(acc, state, err)
	}
	state = usage.SagaStateCommitted

	s.Logger.Debugw("aggregated usage document",
		"accumulated_usage_id", acc.ID,
		"organization_id", acc.OrganizationID,
		"partition", part,
		"processed_id", acc.ProcessedID,
	)

	return &usage.AggregationResult{
		Organization: org,
		Consumer:     consumer,
		Space:        space,
		Marker:       marker,
		State:        state,
	}, nil
}

// sagaInterrupted records how far the write sequence got before failing. The
// next attempt re-derives any partial documents, so the error itself is
// passed through unchanged.
func (s *aggregatorService) sagaInterrupted(acc *usage.AccumulatedUsage, state usage.SagaState, err error) error {
	s.Logger.Warnw("aggregation interrupted before marker commit",
		"accumulated_usage_id", acc.ID,
		"saga_state", string(state),
		"error", err,
	)
	return err
}

// loadScopes fetches the latest organization, space and consumer documents
// in the partition, nil for scopes with no aggregate yet.
func (s *aggregatorService) loadScopes(ctx context.Context, part string, acc *usage.AccumulatedUsage) (*usage.OrganizationUsage, *usage.SpaceUsage, *usage.ConsumerUsage, error) {
	orgStart, orgEnd := partition.OrganizationRange(acc.OrganizationID)
	org, err := loadLatest[usage.OrganizationUsage](ctx, s.Store, partition.Scoped(part, orgStart), partition.Scoped(part, orgEnd))
	if err != nil {
		return nil, nil, nil, err
	}
	spaceStart, spaceEnd := partition.SpaceRange(acc.OrganizationID, acc.SpaceID)
	space, err := loadLatest[usage.SpaceUsage](ctx, s.Store, partition.Scoped(part, spaceStart), partition.Scoped(part, spaceEnd))
	if err != nil {
		return nil, nil, nil, err
	}
	consumerStart, consumerEnd := partition.ConsumerRange(acc.OrganizationID, acc.SpaceID, consumerID(acc))
	consumer, err := loadLatest[usage.ConsumerUsage](ctx, s.Store, partition.Scoped(part, consumerStart), partition.Scoped(part, consumerEnd))
	if err != nil {
		return nil, nil, nil, err
	}
	return org, space, consumer, nil
}

// duplicateResult returns the current aggregates unchanged for a document
// that has already been committed.
func (s *aggregatorService) duplicateResult(ctx context.Context, part string, acc *usage.AccumulatedUsage, marker *usage.Marker) (*usage.AggregationResult, error) {
	org, space, consumer, err := s.loadScopes(ctx, part, acc)
	if err != nil {
		return nil, err
	}
	return &usage.AggregationResult{
		Organization: org,
		Consumer:     consumer,
		Space:        space,
		Marker:       marker,
		State:        usage.SagaStateCommitted,
		Duplicate:    true,
	}, nil
}

func (s *aggregatorService) getMarker(ctx context.Context, key string) (*usage.Marker, error) {
	doc, err := s.Store.Get(ctx, key)
	if err != nil {
		if ierr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var marker usage.Marker
	if err := document.Decode(doc, &marker); err != nil {
		return nil, err
	}
	return &marker, nil
}

// putScope writes a scope document, treating a conflict against an identical
// earlier write of the same saga as success.
func (s *aggregatorService) putScope(ctx context.Context, key string, v interface{}, accID string) error {
	err := s.putNew(ctx, key, v)
	if err == nil || !ierr.IsConflict(err) {
		return err
	}

	existing, getErr := s.Store.Get(ctx, key)
	if getErr != nil {
		return err
	}
	var header usage.AggregateHeader
	if decodeErr := document.Decode(existing, &header); decodeErr == nil && header.AccumulatedUsageID == accID {
		return nil
	}
	return err
}

func (s *aggregatorService) putNew(ctx context.Context, key string, v interface{}) error {
	doc, err := document.Encode(key, 0, v)
	if err != nil {
		return err
	}
	_, err = s.Store.Put(ctx, doc)
	return err
}

// storeErrorDocument durably parks an accumulated document whose aggregation
// failed on a plan lookup, so ReplayErrors can retry it later.
func (s *aggregatorService) storeErrorDocument(ctx context.Context, acc *usage.AccumulatedUsage, cause error) error {
	errDoc := &usage.ErrorDocument{
		ID:          types.GenerateUUIDWithPrefix(types.UUIDPrefixErrorDocument),
		Accumulated: acc,
		Cause:       cause.Error(),
		CreatedAt:   time.Now().UTC(),
	}
	key := partition.ErrorDocKey(acc.OrganizationID, acc.ResourceInstanceID, acc.ProcessedID)
	err := s.putNew(ctx, key, errDoc)
	if ierr.IsConflict(err) {
		// already parked by an earlier attempt
		return nil
	}
	return err
}

// ReplayErrors re-aggregates every parked error document, marking the ones
// that succeed. Returns the number of successful replays.
func (s *aggregatorService) ReplayErrors(ctx context.Context) (int, error) {
	startKey, endKey := partition.ErrorDocRange()
	docs, err := s.Store.RangeQuery(ctx, startKey, endKey, false, 0)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, doc := range docs {
		var errDoc usage.ErrorDocument
		if err := document.Decode(doc, &errDoc); err != nil {
			s.Logger.Errorw("skipping undecodable error document", "key", doc.Key, "error", err)
			continue
		}
		if errDoc.ReplayedAt != nil {
			continue
		}

		if _, err := s.Aggregate(ctx, errDoc.Accumulated); err != nil {
			s.Logger.Warnw("error document replay failed",
				"key", doc.Key,
				"accumulated_usage_id", errDoc.Accumulated.ID,
				"error", err,
			)
			continue
		}

		now := time.Now().UTC()
		errDoc.ReplayedAt = &now
		updated, err := document.Encode(doc.Key, doc.Revision, &errDoc)
		if err != nil {
			return replayed, err
		}
		if _, err := s.Store.Put(ctx, updated); err != nil && !ierr.IsConflict(err) {
			return replayed, err
		}
		replayed++
	}
	return replayed, nil
}

func consumerID(acc *usage.AccumulatedUsage) string {
	if acc.ConsumerID == "" {
		return partition.UnknownConsumer
	}
	return acc.ConsumerID
}

func stampHeader(h *usage.AggregateHeader, part string, acc *usage.AccumulatedUsage, key string) {
	h.ID = key
	h.Partition = part
	h.OrganizationID = acc.OrganizationID
	h.ProcessedID = acc.ProcessedID
	h.AccumulatedUsageID = acc.ID
	h.End = acc.End
	h.Processed = acc.Processed
}

// loadLatest fetches and decodes the most recent document in a key range,
// nil when the range is empty.
func loadLatest[T any](ctx context.Context, store document.Store, startKey, endKey string) (*T, error) {
	docs, err := store.RangeQuery(ctx, startKey, endKey, true, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	var v T
	if err := document.Decode(docs[0], &v); err != nil {
		return nil, err
	}
	return &v, nil
}
