package window

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/meterline/meterline/internal/errors"
)

func TestQuantityMerge(t *testing.T) {
	t.Run("scalar replaces the baseline", func(t *testing.T) {
		merged, err := NewScalarInt64(12).Merge(NewScalarInt64(22))
		require.NoError(t, err)
		assert.True(t, merged.Equal(NewScalarInt64(22)))
	})

	t.Run("empty baseline adopts the incoming value", func(t *testing.T) {
		merged, err := Quantity{}.Merge(NewScalarInt64(12))
		require.NoError(t, err)
		assert.True(t, merged.Equal(NewScalarInt64(12)))
	})

	t.Run("rate integrates the previous consuming rate", func(t *testing.T) {
		prev := NewRate(decimal.Zero, decimal.NewFromInt(2), 1000)
		next := NewRate(decimal.Zero, decimal.NewFromInt(3), 4000)

		merged, err := prev.Merge(next)
		require.NoError(t, err)

		rate := merged.Rate()
		require.NotNil(t, rate)
		// 2 units/ms over 3000ms on top of 0 consumed
		assert.True(t, rate.Consumed.Equal(decimal.NewFromInt(6000)))
		assert.True(t, rate.Consuming.Equal(decimal.NewFromInt(3)))
		assert.Equal(t, int64(4000), rate.Since)
	})

	t.Run("empty incoming value is rejected", func(t *testing.T) {
		_, err := NewScalarInt64(12).Merge(Quantity{})
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidAggregation(err))
		assert.Equal(t, "Aggregation resulted in invalid value: NaN", err.Error())
	})

	t.Run("shape mismatch is rejected", func(t *testing.T) {
		_, err := NewScalarInt64(12).Merge(NewRate(decimal.Zero, decimal.Zero, 0))
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidAggregation(err))
	})
}

func TestQuantitySub(t *testing.T) {
	t.Run("scalar delta", func(t *testing.T) {
		delta, err := NewScalarInt64(22).Sub(NewScalarInt64(12))
		require.NoError(t, err)
		assert.True(t, delta.Equal(NewScalarInt64(10)))
	})

	t.Run("empty previous yields the whole current value", func(t *testing.T) {
		delta, err := NewScalarInt64(12).Sub(Quantity{})
		require.NoError(t, err)
		assert.True(t, delta.Equal(NewScalarInt64(12)))
	})

	t.Run("empty current is rejected", func(t *testing.T) {
		_, err := Quantity{}.Sub(NewScalarInt64(12))
		require.Error(t, err)
		assert.True(t, ierr.IsInvalidAggregation(err))
	})
}

func TestQuantityAdd(t *testing.T) {
	t.Run("scalar sum", func(t *testing.T) {
		sum, err := NewScalarInt64(12).Add(NewScalarInt64(8))
		require.NoError(t, err)
		assert.True(t, sum.Equal(NewScalarInt64(20)))
	})

	t.Run("empty receiver adopts the contribution", func(t *testing.T) {
		sum, err := Quantity{}.Add(NewScalarInt64(8))
		require.NoError(t, err)
		assert.True(t, sum.Equal(NewScalarInt64(8)))
	})

	t.Run("rate sum keeps the latest since", func(t *testing.T) {
		a := NewRate(decimal.NewFromInt(100), decimal.NewFromInt(1), 1000)
		b := NewRate(decimal.NewFromInt(50), decimal.NewFromInt(2), 5000)

		sum, err := a.Add(b)
		require.NoError(t, err)

		rate := sum.Rate()
		require.NotNil(t, rate)
		assert.True(t, rate.Consumed.Equal(decimal.NewFromInt(150)))
		assert.True(t, rate.Consuming.Equal(decimal.NewFromInt(3)))
		assert.Equal(t, int64(5000), rate.Since)
	})
}

func TestQuantityJSON(t *testing.T) {
	t.Run("scalar round trips as a bare number", func(t *testing.T) {
		data, err := json.Marshal(NewScalarInt64(12))
		require.NoError(t, err)
		assert.Equal(t, `"12"`, string(data))

		var q Quantity
		require.NoError(t, json.Unmarshal(data, &q))
		assert.True(t, q.Equal(NewScalarInt64(12)))
	})

	t.Run("empty quantity is null", func(t *testing.T) {
		data, err := json.Marshal(Quantity{})
		require.NoError(t, err)
		assert.Equal(t, "null", string(data))

		var q Quantity
		require.NoError(t, json.Unmarshal(data, &q))
		assert.True(t, q.IsEmpty())
	})

	t.Run("rate round trips as an object", func(t *testing.T) {
		original := NewRate(decimal.NewFromInt(100), decimal.NewFromInt(2), 4000)
		data, err := json.Marshal(original)
		require.NoError(t, err)

		var q Quantity
		require.NoError(t, json.Unmarshal(data, &q))
		assert.True(t, q.Equal(original))
	})
}
