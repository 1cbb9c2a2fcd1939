package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meterline/meterline/internal/domain/window"
	ierr "github.com/meterline/meterline/internal/errors"
	"github.com/meterline/meterline/internal/integration/plans"
	"github.com/meterline/meterline/internal/testutil"
)

func newIngestionFixture(t *testing.T) (*testutil.InMemoryDocumentStore, IngestionService) {
	t.Helper()

	store := testutil.NewInMemoryDocumentStore()
	params := newTestParams(t, store, plans.NewStaticLookup())
	accumulator := NewAccumulatorService(params)
	aggregator := NewAggregatorService(params)
	return store, NewIngestionService(params, nil, accumulator, aggregator)
}

func TestProcessEvent(t *testing.T) {
	_, ingestion := newIngestionFixture(t)
	ctx := context.Background()

	t.Run("superseding events settle on the latest value", func(t *testing.T) {
		first, err := ingestion.ProcessEvent(ctx, testEvent("e1", "org1", "inst1", testBase, 12))
		require.NoError(t, err)
		q := planQuantity(t, first.Organization.Resources, "object-storage", testPlanID, "storage", window.LevelDay)
		assert.True(t, q.Equal(window.NewScalarInt64(12)))

		second, err := ingestion.ProcessEvent(ctx, testEvent("e2", "org1", "inst1", testBase.Add(4*time.Hour), 22))
		require.NoError(t, err)
		q = planQuantity(t, second.Organization.Resources, "object-storage", testPlanID, "storage", window.LevelDay)
		assert.True(t, q.Equal(window.NewScalarInt64(22)))
	})

	t.Run("resubmitting an event changes nothing", func(t *testing.T) {
		result, err := ingestion.ProcessEvent(ctx, testEvent("e2", "org1", "inst1", testBase.Add(4*time.Hour), 22))
		require.NoError(t, err)
		assert.True(t, result.Duplicate)

		q := planQuantity(t, result.Organization.Resources, "object-storage", testPlanID, "storage", window.LevelDay)
		assert.True(t, q.Equal(window.NewScalarInt64(22)))
	})

	t.Run("metric shape change is rejected as an invalid aggregation", func(t *testing.T) {
		event := testEvent("e3", "org1", "inst1", testBase.Add(5*time.Hour), 0)
		event.Metrics = map[string]window.Quantity{
			"storage": window.NewRate(decimal.Zero, decimal.NewFromInt(1), testBase.UnixMilli()),
		}

		_, err := ingestion.ProcessEvent(ctx, event)
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidAggregation(err))
		assert.Equal(t, "Aggregation resulted in invalid value: NaN", err.Error())
	})
}

func TestProcessEventMonthWindowAcrossDays(t *testing.T) {
	_, ingestion := newIngestionFixture(t)
	ctx := context.Background()

	_, err := ingestion.ProcessEvent(ctx, testEvent("e1", "org1", "inst1", testBase, 12))
	require.NoError(t, err)
	_, err = ingestion.ProcessEvent(ctx, testEvent("e2", "org1", "inst1", testBase.Add(4*time.Hour), 22))
	require.NoError(t, err)

	// a lower reading on the next day supersedes at the month level; losing
	// the cross-day baseline would add 5 on top of 22 instead
	nextDay := testBase.AddDate(0, 0, 1)
	result, err := ingestion.ProcessEvent(ctx, testEvent("e3", "org1", "inst1", nextDay, 5))
	require.NoError(t, err)

	month := planQuantity(t, result.Organization.Resources, "object-storage", testPlanID, "storage", window.LevelMonth)
	assert.True(t, month.Equal(window.NewScalarInt64(5)))

	day := planQuantity(t, result.Organization.Resources, "object-storage", testPlanID, "storage", window.LevelDay)
	assert.True(t, day.Equal(window.NewScalarInt64(5)))
}

func TestProcessMessage(t *testing.T) {
	store, ingestion := newIngestionFixture(t)
	svc := ingestion.(*ingestionService)

	t.Run("valid payload is accumulated and aggregated", func(t *testing.T) {
		payload, err := json.Marshal(testEvent("e1", "org2", "inst1", testBase, 12))
		require.NoError(t, err)

		msg := message.NewMessage("m1", payload)
		require.NoError(t, svc.processMessage(msg))
		assert.Greater(t, store.PutCount(), 0)
	})

	t.Run("malformed payload is dropped without error", func(t *testing.T) {
		before := store.PutCount()
		msg := message.NewMessage("m2", []byte("{not json"))
		require.NoError(t, svc.processMessage(msg))
		assert.Equal(t, before, store.PutCount())
	})

	t.Run("invalid event is dropped without error", func(t *testing.T) {
		event := testEvent("e2", "", "inst1", testBase, 12)
		payload, err := json.Marshal(event)
		require.NoError(t, err)

		before := store.PutCount()
		msg := message.NewMessage("m3", payload)
		require.NoError(t, svc.processMessage(msg))
		assert.Equal(t, before, store.PutCount())
	})
}
