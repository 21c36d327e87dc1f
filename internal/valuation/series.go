package valuation

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Sample is one point of a rolling portfolio value series.
type Sample struct {
	Index int64           `json:"index"`
	Value decimal.Decimal `json:"value"`
}

// RollingSeries is a fixed-capacity FIFO of portfolio value samples for
// trend display. When full, appending evicts the oldest sample. It is a
// deliberately simple bounded buffer, not a time-series store; eviction
// is by count, never by age.
type RollingSeries struct {
	mu       sync.Mutex
	capacity int
	next     int64
	samples  []Sample
}

// NewRollingSeries creates a series holding at most capacity samples.
func NewRollingSeries(capacity int) *RollingSeries {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingSeries{capacity: capacity}
}

// Append records a value under the next sequence index, evicting the
// oldest sample if the series is at capacity.
func (s *RollingSeries) Append(value decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, Sample{Index: s.next, Value: value})
	s.next++
	if len(s.samples) > s.capacity {
		s.samples = s.samples[1:]
	}
}

// Samples returns a copy of the series, oldest first.
func (s *RollingSeries) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Sample, len(s.samples))
	copy(out, s.samples)
	return out
}

// Len returns the number of retained samples.
func (s *RollingSeries) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.samples)
}
