package partition

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Sequence issues processed ids: fixed-width zero-padded processed-time
// milliseconds plus a per-millisecond tie-break counter. Lexicographic
// string order equals chronological intake order, and two events processed
// in the same millisecond stay totally ordered.
type Sequence struct {
	mu         sync.Mutex
	lastMillis int64
	counter    int64
}

func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the processed id for an event accepted at processed.
func (s *Sequence) Next(processed time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	millis := processed.UTC().UnixMilli()
	switch {
	case millis > s.lastMillis:
		s.lastMillis = millis
		s.counter = 0
	default:
		// same millisecond, or a clock step backwards relative to intake
		// order: stay on the last issued millisecond and bump the counter
		// so ids remain strictly increasing
		millis = s.lastMillis
		s.counter++
	}

	return fmt.Sprintf("%016d%04d", millis, s.counter)
}

// NextAfter returns a processed id strictly greater than floor. When another
// writer already issued ids ahead of this process's clock, the sequence jumps
// forward and continues from the floor.
func (s *Sequence) NextAfter(processed time.Time, floor string) string {
	id := s.Next(processed)
	if id > floor || len(floor) != 20 {
		return id
	}
	millis, err := strconv.ParseInt(floor[:16], 10, 64)
	if err != nil {
		return id
	}
	counter, err := strconv.ParseInt(floor[16:], 10, 64)
	if err != nil {
		return id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastMillis = millis
	s.counter = counter + 1
	return fmt.Sprintf("%016d%04d", s.lastMillis, s.counter)
}

// ProcessedIDTime recovers the processed timestamp embedded in an id.
func ProcessedIDTime(id string) (time.Time, bool) {
	if len(id) != 20 {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(id[:16], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}
