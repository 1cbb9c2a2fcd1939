package partition

import (
	"fmt"
	"strings"
	"time"
)

// Key derivation for the partitioned document store. Every key sorts
// lexicographically in time order so "most recent at or before" lookups are
// a single descending range scan.
//
// Layout:
//
//	accumulated:  k/{org}/{instance}/t/{YYYYMMDD}/{processed_id}
//	organization: k/{org}/t/{processed_id}
//	consumer:     k/{org}/{space}/{consumer}/t/{processed_id}
//	space:        k/{org}/{space}/t/{processed_id}
//	marker:       k/{org}/{instance}/{consumer}/{plan}/{mplan}/{rplan}/{pplan}/t/{end}/{start}[/{dedup}]
//
// Keys are namespaced under a monthly partition token so late usage can be
// booked into the historically correct month.

const (
	// rangeUpperBound sorts after any digit or id character, closing a
	// prefix range scan.
	rangeUpperBound = "~"

	// UnknownConsumer is the sentinel for events without a consumer id.
	UnknownConsumer = "UNKNOWN"
)

// MonthToken renders the partition token for the month containing t.
func MonthToken(t time.Time) string {
	return t.UTC().Format("200601")
}

// PartitionFor selects the partition a document books into. Usage whose end
// falls in the month before the processed month is booked into the previous
// month's partition, as long as the processed time is within slack of the
// month boundary; anything else books into the processed month.
func PartitionFor(end, processed time.Time, slack time.Duration) string {
	endMonth := monthIndex(end)
	processedMonth := monthIndex(processed)
	if endMonth == processedMonth-1 {
		monthStart := time.Date(processed.UTC().Year(), processed.UTC().Month(), 1, 0, 0, 0, 0, time.UTC)
		if processed.Sub(monthStart) <= slack {
			return MonthToken(end)
		}
	}
	return MonthToken(processed)
}

// PreviousMonthToken returns the partition token of the month before t.
func PreviousMonthToken(t time.Time) string {
	u := t.UTC()
	return MonthToken(time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC).Add(-time.Hour))
}

// PreviousPartition returns the partition token of the month before part.
func PreviousPartition(part string) string {
	t, err := time.Parse("200601", part)
	if err != nil {
		return part
	}
	return MonthToken(t.AddDate(0, -1, 0))
}

// NearMonthStart reports whether t falls within slack of the start of the
// partition's month.
func NearMonthStart(part string, t time.Time, slack time.Duration) bool {
	start, err := time.Parse("200601", part)
	if err != nil {
		return false
	}
	d := t.UTC().Sub(start)
	return d >= 0 && d <= slack
}

func monthIndex(t time.Time) int64 {
	u := t.UTC()
	return int64(u.Year())*12 + int64(u.Month()) - 1
}

// Scoped prefixes a logical key with its partition token.
func Scoped(part, key string) string {
	return part + "/" + key
}

// DayBucket renders the day bucket for a usage end time.
func DayBucket(t time.Time) string {
	return t.UTC().Format("20060102")
}

// AccumulatedPrefix is the shared prefix of all accumulated documents for
// one (org, resource instance, day bucket).
func AccumulatedPrefix(orgID, instanceID string, end time.Time) string {
	return fmt.Sprintf("k/%s/%s/t/%s", orgID, instanceID, DayBucket(end))
}

// AccumulatedKey identifies one accumulated document version.
func AccumulatedKey(orgID, instanceID string, end time.Time, processedID string) string {
	return AccumulatedPrefix(orgID, instanceID, end) + "/" + processedID
}

// AccumulatedRange bounds a descending scan for the most recent accumulated
// document in a day bucket.
func AccumulatedRange(orgID, instanceID string, end time.Time) (string, string) {
	prefix := AccumulatedPrefix(orgID, instanceID, end)
	return prefix + "/", prefix + "/" + rangeUpperBound
}

// InstanceRange bounds a descending scan for the most recent accumulated
// document of a resource instance across all of its day buckets.
func InstanceRange(orgID, instanceID string) (string, string) {
	prefix := fmt.Sprintf("k/%s/%s/t", orgID, instanceID)
	return prefix + "/", prefix + "/" + rangeUpperBound
}

func OrganizationPrefix(orgID string) string {
	return fmt.Sprintf("k/%s/t", orgID)
}

func OrganizationKey(orgID, processedID string) string {
	return OrganizationPrefix(orgID) + "/" + processedID
}

func OrganizationRange(orgID string) (string, string) {
	prefix := OrganizationPrefix(orgID)
	return prefix + "/", prefix + "/" + rangeUpperBound
}

func ConsumerPrefix(orgID, spaceID, consumerID string) string {
	if consumerID == "" {
		consumerID = UnknownConsumer
	}
	return fmt.Sprintf("k/%s/%s/%s/t", orgID, spaceID, consumerID)
}

func ConsumerKey(orgID, spaceID, consumerID, processedID string) string {
	return ConsumerPrefix(orgID, spaceID, consumerID) + "/" + processedID
}

func ConsumerRange(orgID, spaceID, consumerID string) (string, string) {
	prefix := ConsumerPrefix(orgID, spaceID, consumerID)
	return prefix + "/", prefix + "/" + rangeUpperBound
}

func SpacePrefix(orgID, spaceID string) string {
	return fmt.Sprintf("k/%s/%s/t", orgID, spaceID)
}

func SpaceKey(orgID, spaceID, processedID string) string {
	return SpacePrefix(orgID, spaceID) + "/" + processedID
}

func SpaceRange(orgID, spaceID string) (string, string) {
	prefix := SpacePrefix(orgID, spaceID)
	return prefix + "/", prefix + "/" + rangeUpperBound
}

// MarkerIdentity is the full identity tuple a marker document is keyed on.
type MarkerIdentity struct {
	OrganizationID     string
	ResourceInstanceID string
	ConsumerID         string
	PlanID             string
	MeteringPlanID     string
	RatingPlanID       string
	PricingPlanID      string
	Start              time.Time
	End                time.Time
	DedupID            string
}

// MarkerKey derives the dedup marker key for an accumulated document.
func MarkerKey(id MarkerIdentity) string {
	consumer := id.ConsumerID
	if consumer == "" {
		consumer = UnknownConsumer
	}
	parts := []string{
		"k",
		id.OrganizationID,
		id.ResourceInstanceID,
		consumer,
		id.PlanID,
		id.MeteringPlanID,
		id.RatingPlanID,
		id.PricingPlanID,
		"t",
		fmt.Sprintf("%016d", id.End.UnixMilli()),
		fmt.Sprintf("%016d", id.Start.UnixMilli()),
	}
	if id.DedupID != "" {
		parts = append(parts, id.DedupID)
	}
	return strings.Join(parts, "/")
}

// ErrorDocKey identifies a stored aggregation failure awaiting replay.
func ErrorDocKey(orgID, instanceID, processedID string) string {
	return fmt.Sprintf("e/%s/%s/t/%s", orgID, instanceID, processedID)
}

// ErrorDocRange bounds a scan over all stored aggregation failures.
func ErrorDocRange() (string, string) {
	return "e/", "e/" + rangeUpperBound
}
