package partition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPartitionFor(t *testing.T) {
	slack := 20 * 24 * time.Hour

	t.Run("usage in the processed month books into it", func(t *testing.T) {
		end := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
		processed := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)
		assert.Equal(t, "202603", PartitionFor(end, processed, slack))
	})

	t.Run("late usage within slack books into the previous month", func(t *testing.T) {
		end := time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)
		processed := time.Date(2026, 3, 5, 1, 0, 0, 0, time.UTC)
		assert.Equal(t, "202602", PartitionFor(end, processed, slack))
	})

	t.Run("late usage beyond slack books into the processed month", func(t *testing.T) {
		end := time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC)
		processed := time.Date(2026, 3, 25, 1, 0, 0, 0, time.UTC)
		assert.Equal(t, "202603", PartitionFor(end, processed, slack))
	})

	t.Run("usage older than one month books into the processed month", func(t *testing.T) {
		end := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
		processed := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, "202603", PartitionFor(end, processed, slack))
	})

	t.Run("previous month across a year boundary", func(t *testing.T) {
		end := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)
		processed := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
		assert.Equal(t, "202512", PartitionFor(end, processed, slack))
	})
}

func TestKeyLayout(t *testing.T) {
	end := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("accumulated key embeds the day bucket and processed id", func(t *testing.T) {
		key := AccumulatedKey("org1", "inst1", end, "00000000000000010000")
		assert.Equal(t, "k/org1/inst1/t/20260310/00000000000000010000", key)
	})

	t.Run("scoped key is prefixed with the partition token", func(t *testing.T) {
		assert.Equal(t, "202603/k/org1/t/x", Scoped("202603", "k/org1/t/x"))
	})

	t.Run("organization space and consumer keys nest by scope", func(t *testing.T) {
		assert.Equal(t, "k/org1/t/p1", OrganizationKey("org1", "p1"))
		assert.Equal(t, "k/org1/space1/t/p1", SpaceKey("org1", "space1", "p1"))
		assert.Equal(t, "k/org1/space1/cons1/t/p1", ConsumerKey("org1", "space1", "cons1", "p1"))
	})

	t.Run("missing consumer id uses the unknown sentinel", func(t *testing.T) {
		assert.Equal(t, "k/org1/space1/UNKNOWN/t/p1", ConsumerKey("org1", "space1", "", "p1"))
	})

	t.Run("range bounds enclose exactly the prefix", func(t *testing.T) {
		startKey, endKey := OrganizationRange("org1")
		assert.Equal(t, "k/org1/t/", startKey)
		assert.Equal(t, "k/org1/t/~", endKey)

		key := OrganizationKey("org1", "00000000000000010000")
		assert.True(t, key >= startKey && key < endKey)
	})

	t.Run("instance range spans all day buckets", func(t *testing.T) {
		startKey, endKey := InstanceRange("org1", "inst1")
		assert.Equal(t, "k/org1/inst1/t/", startKey)
		assert.Equal(t, "k/org1/inst1/t/~", endKey)

		key := AccumulatedKey("org1", "inst1", end, "00000000000000010000")
		assert.True(t, key >= startKey && key < endKey)
		nextDay := AccumulatedKey("org1", "inst1", end.AddDate(0, 0, 1), "00000000000000020000")
		assert.True(t, nextDay >= startKey && nextDay < endKey)
	})
}

func TestPreviousPartition(t *testing.T) {
	assert.Equal(t, "202602", PreviousPartition("202603"))
	assert.Equal(t, "202512", PreviousPartition("202601"))
	// an unparseable token is returned unchanged
	assert.Equal(t, "bogus", PreviousPartition("bogus"))
}

func TestNearMonthStart(t *testing.T) {
	slack := 20 * 24 * time.Hour

	assert.True(t, NearMonthStart("202603", time.Date(2026, 3, 5, 1, 0, 0, 0, time.UTC), slack))
	assert.False(t, NearMonthStart("202603", time.Date(2026, 3, 25, 1, 0, 0, 0, time.UTC), slack))
	// times before the month start never qualify
	assert.False(t, NearMonthStart("202603", time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), slack))
	assert.False(t, NearMonthStart("bogus", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), slack))
}

func TestMarkerKey(t *testing.T) {
	identity := MarkerIdentity{
		OrganizationID:     "org1",
		ResourceInstanceID: "inst1",
		ConsumerID:         "cons1",
		PlanID:             "basic",
		MeteringPlanID:     "m1",
		RatingPlanID:       "r1",
		PricingPlanID:      "p1",
		Start:              time.UnixMilli(1000).UTC(),
		End:                time.UnixMilli(2000).UTC(),
	}

	t.Run("key carries the full identity tuple", func(t *testing.T) {
		key := MarkerKey(identity)
		assert.Equal(t, "k/org1/inst1/cons1/basic/m1/r1/p1/t/0000000000002000/0000000000001000", key)
	})

	t.Run("dedup id is appended when present", func(t *testing.T) {
		withDedup := identity
		withDedup.DedupID = "d42"
		assert.Equal(t,
			"k/org1/inst1/cons1/basic/m1/r1/p1/t/0000000000002000/0000000000001000/d42",
			MarkerKey(withDedup))
	})

	t.Run("missing consumer uses the unknown sentinel", func(t *testing.T) {
		anonymous := identity
		anonymous.ConsumerID = ""
		assert.Contains(t, MarkerKey(anonymous), "/UNKNOWN/")
	})
}

func TestSequence(t *testing.T) {
	t.Run("ids are strictly increasing within a millisecond", func(t *testing.T) {
		seq := NewSequence()
		at := time.UnixMilli(1700000000000)

		a := seq.Next(at)
		b := seq.Next(at)
		c := seq.Next(at)
		assert.True(t, a < b)
		assert.True(t, b < c)
	})

	t.Run("ids stay increasing when the clock steps backwards", func(t *testing.T) {
		seq := NewSequence()
		a := seq.Next(time.UnixMilli(1700000000500))
		b := seq.Next(time.UnixMilli(1700000000100))
		assert.True(t, a < b)
	})

	t.Run("lexicographic order equals chronological order", func(t *testing.T) {
		seq := NewSequence()
		earlier := seq.Next(time.UnixMilli(1700000000000))
		later := seq.Next(time.UnixMilli(1800000000000))
		assert.True(t, earlier < later)
	})

	t.Run("next after a floor exceeds the floor", func(t *testing.T) {
		seq := NewSequence()
		floor := "99999999999999990000"
		id := seq.NextAfter(time.UnixMilli(1700000000000), floor)
		assert.True(t, id > floor)
	})

	t.Run("embedded time round trips", func(t *testing.T) {
		seq := NewSequence()
		at := time.UnixMilli(1700000000000).UTC()
		id := seq.Next(at)

		recovered, ok := ProcessedIDTime(id)
		assert.True(t, ok)
		assert.Equal(t, at, recovered)
	})
}
