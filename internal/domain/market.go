package domain

import (
	"fmt"
	"math"
)

// Pair is a tradable base asset quoted in the reference currency.
// Everything except the live price (kept in a PriceSeries) is immutable.
type Pair struct {
	ID           string  `json:"id" yaml:"-"` // "BTC/EUR"
	Base         string  `json:"base" yaml:"base"`
	Quote        string  `json:"quote" yaml:"-"`
	Volatility   float64 `json:"volatility" yaml:"volatility"`
	InitialPrice float64 `json:"initial_price" yaml:"price"`
}

// PairID joins base and quote symbols into a pair identifier.
func PairID(base, quote string) string {
	return base + "/" + quote
}

// NewPair creates a pair quoted in quote.
func NewPair(base, quote string, initialPrice, volatility float64) Pair {
	return Pair{
		ID:           PairID(base, quote),
		Base:         base,
		Quote:        quote,
		Volatility:   volatility,
		InitialPrice: initialPrice,
	}
}

// Validate checks the pair's static invariants.
func (p Pair) Validate() error {
	if p.Base == "" || p.Quote == "" || p.Base == p.Quote {
		return fmt.Errorf("pair %q: base and quote must be distinct and non-empty", p.ID)
	}
	if p.ID != PairID(p.Base, p.Quote) {
		return fmt.Errorf("pair %q: id does not match %s", p.ID, PairID(p.Base, p.Quote))
	}
	if !(p.InitialPrice > 0) || math.IsInf(p.InitialPrice, 0) {
		return fmt.Errorf("pair %q: initial price must be positive", p.ID)
	}
	if p.Volatility < 0 || math.IsNaN(p.Volatility) || math.IsInf(p.Volatility, 0) {
		return fmt.Errorf("pair %q: volatility must be non-negative", p.ID)
	}
	return nil
}

// PriceSeries is a bounded sliding window of positive prices, oldest first.
// It is not safe for concurrent use; the owner serializes access.
type PriceSeries struct {
	values   []float64
	capacity int
}

// NewPriceSeries creates an empty series holding at most capacity samples.
func NewPriceSeries(capacity int) *PriceSeries {
	if capacity <= 0 {
		capacity = 1
	}
	return &PriceSeries{
		values:   make([]float64, 0, capacity),
		capacity: capacity,
	}
}

// Append adds a sample and evicts the oldest one when the window is full.
// Returns true if a sample was evicted.
func (s *PriceSeries) Append(v float64) bool {
	if len(s.values) < s.capacity {
		s.values = append(s.values, v)
		return false
	}
	copy(s.values, s.values[1:])
	s.values[len(s.values)-1] = v
	return true
}

// Last returns the most recent sample.
func (s *PriceSeries) Last() (float64, bool) {
	if len(s.values) == 0 {
		return 0, false
	}
	return s.values[len(s.values)-1], true
}

// Len returns the number of samples held.
func (s *PriceSeries) Len() int {
	return len(s.values)
}

// Values returns a copy of all samples, oldest first.
func (s *PriceSeries) Values() []float64 {
	out := make([]float64, len(s.values))
	copy(out, s.values)
	return out
}
