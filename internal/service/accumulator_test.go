package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/config"
	"github.com/meterline/meterline/internal/domain/document"
	"github.com/meterline/meterline/internal/domain/partition"
	"github.com/meterline/meterline/internal/domain/usage"
	"github.com/meterline/meterline/internal/domain/window"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/plans"
	"github.com/meterline/meterline/internal/logger"
	"github.com/meterline/meterline/internal/testutil"
)

func newTestParams(t *testing.T, store *testutil.InMemoryDocumentStore, lookup plans.Lookup) ServiceParams {
	t.Helper()

	cfg := config.GetDefaultConfig()
	log, err := logger.NewLogger(cfg)
	require.NoError(t, err)

	return ServiceParams{
		Logger:   log,
		Config:   cfg,
		Store:    store,
		Plans:    lookup,
		Sequence: partition.NewSequence(),
	}
}

var testBase = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func testEvent(id, org, instance string, end time.Time, value int64) *usage.Event {
	return &usage.Event{
		ID:                 id,
		OrganizationID:     org,
		SpaceID:            "space1",
		ConsumerID:         "cons1",
		ResourceID:         "object-storage",
		ResourceInstanceID: instance,
		PlanID:             "basic",
		Start:              end.Add(-time.Hour),
		End:                end,
		Processed:          end.Add(time.Minute),
		Metrics: map[string]window.Quantity{
			"storage": window.NewScalarInt64(value),
		},
	}
}

func TestAccumulateFirstEvent(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))

	result, err := accumulator.Accumulate(context.Background(), testEvent("e1", "org1", "inst1", testBase, 12))
	require.NoError(t, err)
	require.NotNil(t, result.Accumulated)
	assert.False(t, result.Duplicate)

	doc := result.Accumulated
	assert.Equal(t, "202603", doc.Partition)
	assert.NotEmpty(t, doc.ProcessedID)
	assert.Equal(t, 1, store.PutCount())

	mw := doc.Window("storage")
	require.NotNil(t, mw)
	for _, level := range []window.Level{window.LevelDay, window.LevelMonth} {
		slot := mw.Windows.At(level, 0)
		require.NotNil(t, slot, level.String())
		assert.True(t, slot.Quantity.Equal(window.NewScalarInt64(12)))
		assert.True(t, slot.PreviousQuantity.IsEmpty())
	}
}

func TestAccumulateSecondEvent(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))
	ctx := context.Background()

	_, err := accumulator.Accumulate(ctx, testEvent("e1", "org1", "inst1", testBase, 12))
	require.NoError(t, err)

	result, err := accumulator.Accumulate(ctx, testEvent("e2", "org1", "inst1", testBase.Add(4*time.Hour), 22))
	require.NoError(t, err)

	slot := result.Accumulated.Window("storage").Windows.At(window.LevelDay, 0)
	require.NotNil(t, slot)
	assert.True(t, slot.Quantity.Equal(window.NewScalarInt64(22)))
	assert.True(t, slot.PreviousQuantity.Equal(window.NewScalarInt64(12)))
	assert.Equal(t, 2, store.PutCount())
}

func TestAccumulateDuplicateEvent(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))
	ctx := context.Background()

	first, err := accumulator.Accumulate(ctx, testEvent("e1", "org1", "inst1", testBase, 12))
	require.NoError(t, err)

	second, err := accumulator.Accumulate(ctx, testEvent("e1", "org1", "inst1", testBase, 12))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Accumulated.ProcessedID, second.Accumulated.ProcessedID)
	assert.Equal(t, 1, store.PutCount())
}

func TestAccumulateDedupID(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))
	ctx := context.Background()

	withDedup := testEvent("e1", "org1", "inst1", testBase, 12)
	withDedup.DedupID = "d42"
	_, err := accumulator.Accumulate(ctx, withDedup)
	require.NoError(t, err)

	// different event id, same explicit dedup id
	replayed := testEvent("e2", "org1", "inst1", testBase.Add(time.Hour), 12)
	replayed.DedupID = "d42"
	result, err := accumulator.Accumulate(ctx, replayed)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, 1, store.PutCount())
}

func TestAccumulateConflictRetry(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))

	store.InjectConflicts(1)
	result, err := accumulator.Accumulate(context.Background(), testEvent("e1", "org1", "inst1", testBase, 12))
	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	// one conflicted attempt plus the successful retry
	assert.Equal(t, 2, store.PutCount())
}

func TestAccumulateDayRollover(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))
	ctx := context.Background()

	_, err := accumulator.Accumulate(ctx, testEvent("e1", "org1", "inst1", testBase, 22))
	require.NoError(t, err)

	nextDay := testBase.AddDate(0, 0, 1)
	result, err := accumulator.Accumulate(ctx, testEvent("e2", "org1", "inst1", nextDay, 5))
	require.NoError(t, err)

	windows := result.Accumulated.Window("storage").Windows

	current := windows.At(window.LevelDay, 0)
	require.NotNil(t, current)
	assert.True(t, current.Quantity.Equal(window.NewScalarInt64(5)))
	assert.True(t, current.PreviousQuantity.IsEmpty())

	monthSlot := windows.At(window.LevelMonth, 0)
	require.NotNil(t, monthSlot)
	assert.True(t, monthSlot.Quantity.Equal(window.NewScalarInt64(5)))
	assert.True(t, monthSlot.PreviousQuantity.Equal(window.NewScalarInt64(22)))
}

func TestAccumulateMonthBoundaryKeepsChain(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))
	ctx := context.Background()

	endOfMarch := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	first, err := accumulator.Accumulate(ctx, testEvent("e1", "org1", "inst1", endOfMarch, 22))
	require.NoError(t, err)
	require.Equal(t, "202603", first.Accumulated.Partition)

	// first event of April: the prior document lives in the March partition
	startOfApril := time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC)
	second, err := accumulator.Accumulate(ctx, testEvent("e2", "org1", "inst1", startOfApril, 5))
	require.NoError(t, err)
	assert.Equal(t, "202604", second.Accumulated.Partition)
	assert.Greater(t, second.Accumulated.ProcessedID, first.Accumulated.ProcessedID)

	windows := second.Accumulated.Window("storage").Windows

	current := windows.At(window.LevelMonth, 0)
	require.NotNil(t, current)
	assert.True(t, current.Quantity.Equal(window.NewScalarInt64(5)))
	assert.True(t, current.PreviousQuantity.IsEmpty())

	// the March closing value shifted into the older month slot
	previous := windows.At(window.LevelMonth, 1)
	require.NotNil(t, previous)
	assert.True(t, previous.Quantity.Equal(window.NewScalarInt64(22)))
}

func TestAccumulateNewDayStartsFreshDocument(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))
	ctx := context.Background()

	first, err := accumulator.Accumulate(ctx, testEvent("e1", "org1", "inst1", testBase, 22))
	require.NoError(t, err)

	nextDay := testBase.AddDate(0, 0, 1)
	second, err := accumulator.Accumulate(ctx, testEvent("e2", "org1", "inst1", nextDay, 5))
	require.NoError(t, err)

	// day buckets are separate key prefixes, both versions remain readable
	assert.NotEqual(t, first.Accumulated.ID, second.Accumulated.ID)
	assert.Contains(t, first.Accumulated.ID, "/20260310/")
	assert.Contains(t, second.Accumulated.ID, "/20260311/")
}

func TestAccumulateValidation(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))

	event := testEvent("e1", "", "inst1", testBase, 12)
	_, err := accumulator.Accumulate(context.Background(), event)
	require.Error(t, err)
	assert.True(t, ierr.IsValidation(err))
	assert.Equal(t, 0, store.PutCount())
}

func TestAccumulateManyEventsOrdering(t *testing.T) {
	store := testutil.NewInMemoryDocumentStore()
	accumulator := NewAccumulatorService(newTestParams(t, store, plans.NewStaticLookup()))
	ctx := context.Background()

	var lastProcessedID string
	for i := 0; i < 5; i++ {
		event := testEvent(fmt.Sprintf("e%d", i), "org1", "inst1", testBase.Add(time.Duration(i)*time.Minute), int64(10+i))
		result, err := accumulator.Accumulate(ctx, event)
		require.NoError(t, err)
		assert.Greater(t, result.Accumulated.ProcessedID, lastProcessedID)
		lastProcessedID = result.Accumulated.ProcessedID
	}

	slot := mustLatestAccumulated(t, store, "202603", "org1", "inst1", testBase).Window("storage").Windows.At(window.LevelDay, 0)
	require.NotNil(t, slot)
	assert.True(t, slot.Quantity.Equal(window.NewScalarInt64(14)))
}

func mustLatestAccumulated(t *testing.T, store *testutil.InMemoryDocumentStore, part, org, instance string, at time.Time) *usage.AccumulatedUsage {
	t.Helper()

	startKey, endKey := partition.AccumulatedRange(org, instance, at)
	docs, err := store.RangeQuery(context.Background(), partition.Scoped(part, startKey), partition.Scoped(part, endKey), true, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var acc usage.AccumulatedUsage
	require.NoError(t, document.Decode(docs[0], &acc))
	return &acc
}
