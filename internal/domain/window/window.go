package window

import (
	"time"

	ierr "github.com/meterline/meterline/internal/errors"
)

// Level is the granularity of a window. The engine currently populates only
// the day and month levels; the finer levels are reserved and keep a single
// empty slot so the stored shape stays fixed.
type Level int

const (
	LevelSecond Level = iota
	LevelMinute
	LevelHour
	LevelDay
	LevelMonth

	levelCount = 5
)

func (l Level) String() string {
	switch l {
	case LevelSecond:
		return "second"
	case LevelMinute:
		return "minute"
	case LevelHour:
		return "hour"
	case LevelDay:
		return "day"
	case LevelMonth:
		return "month"
	}
	return "unknown"
}

// RetentionPolicy is the number of trailing slots each level keeps.
type RetentionPolicy struct {
	Second int `json:"second"`
	Minute int `json:"minute"`
	Hour   int `json:"hour"`
	Day    int `json:"day"`
	Month  int `json:"month"`
}

// DefaultRetention matches historically stored documents: six trailing days
// and two trailing months.
func DefaultRetention() RetentionPolicy {
	return RetentionPolicy{Second: 1, Minute: 1, Hour: 1, Day: 6, Month: 2}
}

func (p RetentionPolicy) Depth(l Level) int {
	var d int
	switch l {
	case LevelSecond:
		d = p.Second
	case LevelMinute:
		d = p.Minute
	case LevelHour:
		d = p.Hour
	case LevelDay:
		d = p.Day
	case LevelMonth:
		d = p.Month
	}
	if d < 1 {
		d = 1
	}
	return d
}

// Slot holds the value for one period. PreviousQuantity is the slot's value
// before the most recent write, the baseline deltas are derived from.
type Slot struct {
	Quantity         Quantity `json:"quantity"`
	PreviousQuantity Quantity `json:"previous_quantity"`
}

// Set is a fixed-shape multi-granularity sliding window. Levels[l][0] is the
// current period at level l, Levels[l][k] the period k units earlier.
type Set struct {
	Levels [][]*Slot `json:"windows"`
}

// NewSet allocates an all-empty window set shaped by the retention policy.
func NewSet(p RetentionPolicy) *Set {
	levels := make([][]*Slot, levelCount)
	for l := Level(0); l < levelCount; l++ {
		levels[l] = make([]*Slot, p.Depth(l))
	}
	return &Set{Levels: levels}
}

// PeriodIndex maps a time to the absolute period number at a level, so that
// consecutive periods differ by exactly one. Times are interpreted in UTC.
func PeriodIndex(l Level, t time.Time) int64 {
	u := t.UTC()
	switch l {
	case LevelSecond:
		return u.Unix()
	case LevelMinute:
		return u.Unix() / 60
	case LevelHour:
		return u.Unix() / 3600
	case LevelDay:
		return u.Unix() / 86400
	case LevelMonth:
		return int64(u.Year())*12 + int64(u.Month()) - 1
	}
	return 0
}

// shift moves every slot at the level right by elapsed positions, dropping
// entries beyond the retention depth. Shifted-in slots are empty.
func (s *Set) shift(l Level, elapsed int64) {
	slots := s.Levels[l]
	depth := int64(len(slots))
	if elapsed <= 0 {
		return
	}
	if elapsed > depth {
		elapsed = depth
	}
	for i := depth - 1; i >= elapsed; i-- {
		slots[i] = slots[i-elapsed]
	}
	for i := int64(0); i < elapsed; i++ {
		slots[i] = nil
	}
}

func (s *Set) slot0(l Level) *Slot {
	return s.Levels[l][0]
}

// Apply advances the level to the period containing now and folds q into
// slot 0 with accumulation semantics: the incoming quantity replaces (or,
// for rates, integrates with) the prior value, and PreviousQuantity records
// what slot 0 held after the shift. last is the period the slot-0 entry was
// last written for; a first write passes the zero time.
func (s *Set) Apply(l Level, now, last time.Time, q Quantity) error {
	if err := s.validateLevel(l); err != nil {
		return err
	}

	elapsed := int64(0)
	if !last.IsZero() {
		elapsed = PeriodIndex(l, now) - PeriodIndex(l, last)
	} else {
		elapsed = int64(len(s.Levels[l]))
	}
	if elapsed < 0 {
		// out-of-order within intake order: the sequence id already decided
		// this event is most recent, book it into the current period
		elapsed = 0
	}

	var baseline Quantity
	if cur := s.slot0(l); cur != nil {
		baseline = cur.Quantity
	}

	s.shift(l, elapsed)

	var shifted Quantity
	if cur := s.slot0(l); cur != nil {
		shifted = cur.Quantity
	}

	merged, err := baseline.Merge(q)
	if err != nil {
		return err
	}

	s.Levels[l][0] = &Slot{Quantity: merged, PreviousQuantity: shifted}
	return nil
}

// AddDelta advances the level and adds a member contribution to slot 0 with
// aggregation semantics: the delta (current − previous) is summed onto the
// existing aggregate; the first contribution to a fresh slot is adopted as
// the baseline with a null PreviousQuantity.
func (s *Set) AddDelta(l Level, now, last time.Time, current, previous Quantity) error {
	if err := s.validateLevel(l); err != nil {
		return err
	}

	elapsed := int64(0)
	if !last.IsZero() {
		elapsed = PeriodIndex(l, now) - PeriodIndex(l, last)
	} else {
		elapsed = int64(len(s.Levels[l]))
	}
	if elapsed < 0 {
		elapsed = 0
	}

	s.shift(l, elapsed)

	delta, err := current.Sub(previous)
	if err != nil {
		return err
	}

	var existing Quantity
	if cur := s.slot0(l); cur != nil {
		existing = cur.Quantity
	}

	sum, err := existing.Add(delta)
	if err != nil {
		return err
	}

	s.Levels[l][0] = &Slot{Quantity: sum, PreviousQuantity: existing}
	return nil
}

// At returns the slot k periods before the current one, nil if unpopulated
// or beyond retention.
func (s *Set) At(l Level, k int) *Slot {
	if l < 0 || l >= levelCount || k < 0 || k >= len(s.Levels[l]) {
		return nil
	}
	return s.Levels[l][k]
}

// Current returns the current-period quantity at a level, empty when the
// slot is unpopulated.
func (s *Set) Current(l Level) Quantity {
	if slot := s.At(l, 0); slot != nil {
		return slot.Quantity
	}
	return Quantity{}
}

// Clone deep-copies the set so callers can mutate without aliasing stored
// documents.
func (s *Set) Clone() *Set {
	levels := make([][]*Slot, len(s.Levels))
	for i, slots := range s.Levels {
		levels[i] = make([]*Slot, len(slots))
		for j, slot := range slots {
			if slot != nil {
				copied := *slot
				levels[i][j] = &copied
			}
		}
	}
	return &Set{Levels: levels}
}

func (s *Set) validateLevel(l Level) error {
	if l < 0 || int(l) >= len(s.Levels) {
		return ierr.NewErrorf("unknown window level %d", l).
			WithHint("Unknown window level").
			Mark(ierr.ErrValidation)
	}
	return nil
}
