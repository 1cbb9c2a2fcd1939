package service

import (
	"context"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	"github.com/meterline/meterline/internal/domain/document"
	"github.com/meterline/meterline/internal/domain/partition"
	"github.com/meterline/meterline/internal/domain/usage"
	"github.com/meterline/meterline/internal/domain/window"
	ierr "github.com/meterline/meterline/internal/errors"
)

// AccumulateResult is the outcome of folding one raw event into its
// resource-instance document.
type AccumulateResult struct {
	Accumulated *usage.AccumulatedUsage `json:"accumulated"`
	Duplicate   bool                    `json:"duplicate"`
}

// AccumulatorService folds raw usage events into per-resource-instance
// accumulated documents with sliding time windows.
type AccumulatorService interface {
	Accumulate(ctx context.Context, event *usage.Event) (*AccumulateResult, error)
}

type accumulatorService struct {
	ServiceParams
	locks *keyLock
}

func NewAccumulatorService(params ServiceParams) AccumulatorService {
	return &accumulatorService{
		ServiceParams: params,
		locks:         newKeyLock(),
	}
}

func (s *accumulatorService) Accumulate(ctx context.Context, event *usage.Event) (*AccumulateResult, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(event.OrganizationID + "/" + event.ResourceInstanceID)
	defer unlock()

	var result *AccumulateResult
	operation := func() error {
		r, err := s.accumulateOnce(ctx, event)
		if err != nil {
			if ierr.IsConflict(err) {
				// another writer advanced the instance, re-read and re-apply
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.Config.Accumulator.MaxPutAttempts)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *accumulatorService) accumulateOnce(ctx context.Context, event *usage.Event) (*AccumulateResult, error) {
	part := partition.PartitionFor(event.End, event.Processed, s.Config.Aggregator.Slack)

	prior, err := s.latestAccumulated(ctx, part, event)
	if err != nil {
		return nil, err
	}

	if prior != nil && s.isDuplicate(prior, event) {
		s.Logger.Infow("dropping duplicate usage event",
			"event_id", event.ID,
			"organization_id", event.OrganizationID,
			"resource_instance_id", event.ResourceInstanceID,
			"processed_id", prior.ProcessedID,
		)
		return &AccumulateResult{Accumulated: prior, Duplicate: true}, nil
	}

	doc := s.nextDocument(prior, event)

	var lastEnd time.Time
	floor := ""
	if prior != nil {
		lastEnd = prior.End
		floor = prior.ProcessedID
	}

	policy := s.Retention()
	metrics := sortedMetricNames(event.Metrics)
	for _, metric := range metrics {
		q := event.Metrics[metric]
		mw := doc.EnsureWindow(metric, policy)
		for _, level := range []window.Level{window.LevelDay, window.LevelMonth} {
			if err := mw.Windows.Apply(level, event.End, lastEnd, q); err != nil {
				return nil, err
			}
		}
	}

	processedID := s.Sequence.NextAfter(event.Processed, floor)
	doc.ProcessedID = processedID
	doc.ID = partition.AccumulatedKey(event.OrganizationID, event.ResourceInstanceID, event.End, processedID)

	stored, err := document.Encode(partition.Scoped(part, doc.ID), 0, doc)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.Put(ctx, stored); err != nil {
		return nil, err
	}

	s.Logger.Debugw("accumulated usage event",
		"event_id", event.ID,
		"organization_id", event.OrganizationID,
		"resource_instance_id", event.ResourceInstanceID,
		"partition", part,
		"processed_id", processedID,
	)
	return &AccumulateResult{Accumulated: doc}, nil
}

// latestAccumulated fetches the prior document the event chains onto: the
// most recent document in the event's day bucket, falling back to the most
// recent document for the instance in any day bucket so the month windows
// keep their baseline across day rollovers, then to the previous month's
// partition near a month start. The prior drives dedup, the merge baseline
// and the processed id floor alike.
func (s *accumulatorService) latestAccumulated(ctx context.Context, part string, event *usage.Event) (*usage.AccumulatedUsage, error) {
	startKey, endKey := partition.AccumulatedRange(event.OrganizationID, event.ResourceInstanceID, event.End)
	prior, err := s.scanLatest(ctx, part, startKey, endKey)
	if err != nil || prior != nil {
		return prior, err
	}

	startKey, endKey = partition.InstanceRange(event.OrganizationID, event.ResourceInstanceID)
	prior, err = s.scanLatest(ctx, part, startKey, endKey)
	if err != nil || prior != nil {
		return prior, err
	}

	if partition.NearMonthStart(part, event.Processed, s.Config.Aggregator.Slack) {
		return s.scanLatest(ctx, partition.PreviousPartition(part), startKey, endKey)
	}
	return nil, nil
}

func (s *accumulatorService) scanLatest(ctx context.Context, part, startKey, endKey string) (*usage.AccumulatedUsage, error) {
	docs, err := s.Store.RangeQuery(ctx, partition.Scoped(part, startKey), partition.Scoped(part, endKey), true, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	var prior usage.AccumulatedUsage
	if err := document.Decode(docs[0], &prior); err != nil {
		return nil, err
	}
	return &prior, nil
}

// isDuplicate reports whether the event has already been folded into the
// document chain: same causal source, or a matching explicit dedup id.
func (s *accumulatorService) isDuplicate(prior *usage.AccumulatedUsage, event *usage.Event) bool {
	if prior.SourceEventID == event.SourceID() {
		return true
	}
	return event.DedupID != "" && prior.DedupID == event.DedupID
}

// nextDocument derives the new document version from the prior one, or a
// fresh document when the day bucket starts.
func (s *accumulatorService) nextDocument(prior *usage.AccumulatedUsage, event *usage.Event) *usage.AccumulatedUsage {
	var doc *usage.AccumulatedUsage
	if prior != nil {
		doc = prior.Clone()
	} else {
		doc = &usage.AccumulatedUsage{}
	}

	doc.Partition = partition.PartitionFor(event.End, event.Processed, s.Config.Aggregator.Slack)
	doc.SourceEventID = event.SourceID()
	doc.DedupID = event.DedupID
	doc.OrganizationID = event.OrganizationID
	doc.SpaceID = event.SpaceID
	doc.ConsumerID = event.ConsumerID
	doc.ResourceID = event.ResourceID
	doc.ResourceInstanceID = event.ResourceInstanceID
	doc.PlanID = event.PlanID
	doc.MeteringPlanID = event.MeteringPlanID
	doc.RatingPlanID = event.RatingPlanID
	doc.PricingPlanID = event.PricingPlanID
	doc.Start = event.Start
	doc.End = event.End
	doc.Processed = event.Processed
	return doc
}

func sortedMetricNames(metrics map[string]window.Quantity) []string {
	names := lo.Keys(metrics)
	sort.Strings(names)
	return names
}
