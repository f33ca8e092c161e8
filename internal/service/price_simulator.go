package service

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"tradesim/internal/domain"
)

const (
	DefaultMaxSamples = 300
	DefaultDriftRange = 0.0005
	DefaultPriceFloor = 1e-7
)

// SimulatorConfig configures the synthetic market.
type SimulatorConfig struct {
	Pairs      []domain.Pair
	MaxSamples int     // series window, 300 by default
	DriftRange float64 // drift ~ U[-DriftRange, +DriftRange]
	PriceFloor float64 // smallest price a tick can produce
	Seed       int64   // 0 seeds from the clock
}

// DefaultSimulatorConfig returns the standard window, drift and floor for pairs.
func DefaultSimulatorConfig(pairs []domain.Pair) SimulatorConfig {
	return SimulatorConfig{
		Pairs:      pairs,
		MaxSamples: DefaultMaxSamples,
		DriftRange: DefaultDriftRange,
		PriceFloor: DefaultPriceFloor,
	}
}

// PriceSimulator advances an independent geometric random walk per pair.
// It has no cadence of its own; a scheduler calls Tick.
type PriceSimulator struct {
	mu       sync.RWMutex
	pairs    []domain.Pair // configuration order
	byID     map[string]domain.Pair
	series   map[string]*domain.PriceSeries
	rng      *rand.Rand
	cfg      SimulatorConfig
	notifier domain.Notifier
	now      func() time.Time
}

// NewPriceSimulator creates a simulator whose series start at each pair's initial price.
func NewPriceSimulator(cfg SimulatorConfig, notifier domain.Notifier) (*PriceSimulator, error) {
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("price simulator: at least one pair is required")
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	if cfg.PriceFloor <= 0 {
		cfg.PriceFloor = DefaultPriceFloor
	}
	if cfg.DriftRange < 0 {
		return nil, fmt.Errorf("price simulator: drift range must be non-negative")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}

	s := &PriceSimulator{
		pairs:    make([]domain.Pair, 0, len(cfg.Pairs)),
		byID:     make(map[string]domain.Pair, len(cfg.Pairs)),
		series:   make(map[string]*domain.PriceSeries, len(cfg.Pairs)),
		rng:      rand.New(rand.NewSource(seed)),
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
	}

	for _, p := range cfg.Pairs {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.byID[p.ID]; dup {
			return nil, fmt.Errorf("price simulator: duplicate pair %s", p.ID)
		}
		series := domain.NewPriceSeries(cfg.MaxSamples)
		series.Append(p.InitialPrice)

		s.pairs = append(s.pairs, p)
		s.byID[p.ID] = p
		s.series[p.ID] = series
	}

	return s, nil
}

// Tick advances every pair by one step and publishes the resulting snapshot.
func (s *PriceSimulator) Tick() map[string]float64 {
	s.mu.Lock()
	for _, p := range s.pairs {
		series := s.series[p.ID]
		last, ok := series.Last()
		if !ok {
			last = p.InitialPrice
		}
		series.Append(s.nextPrice(last, p.Volatility))
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.notifier.Notify(domain.Notification{
		Topic:  domain.TopicPrices,
		Prices: snapshot,
		At:     s.now(),
	})

	return snapshot
}

// nextPrice draws one multiplicative step. Must be called with lock held.
func (s *PriceSimulator) nextPrice(last, vol float64) float64 {
	shock := (s.rng.Float64()*2 - 1) * vol
	drift := (s.rng.Float64()*2 - 1) * s.cfg.DriftRange
	return math.Max(s.cfg.PriceFloor, last*(1+shock+drift))
}

// LatestPrice returns the most recent price of a pair.
func (s *PriceSimulator) LatestPrice(pairID string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[pairID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnknownPair, pairID)
	}
	if last, ok := s.series[pairID].Last(); ok {
		return last, nil
	}
	return p.InitialPrice, nil
}

// Series returns a copy of a pair's price window, oldest first.
func (s *PriceSimulator) Series(pairID string) ([]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[pairID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownPair, pairID)
	}
	return series.Values(), nil
}

// Snapshot returns the latest price of every pair, read atomically relative to Tick.
func (s *PriceSimulator) Snapshot() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snapshotLocked()
}

// snapshotLocked must be called with lock held
func (s *PriceSimulator) snapshotLocked() map[string]float64 {
	out := make(map[string]float64, len(s.pairs))
	for _, p := range s.pairs {
		if last, ok := s.series[p.ID].Last(); ok {
			out[p.ID] = last
		} else {
			out[p.ID] = p.InitialPrice
		}
	}
	return out
}

// Pair looks up a pair by id.
func (s *PriceSimulator) Pair(id string) (domain.Pair, bool) {
	p, ok := s.byID[id]
	return p, ok
}

// Pairs returns all pairs in configuration order.
func (s *PriceSimulator) Pairs() []domain.Pair {
	out := make([]domain.Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Currencies returns the quote currency followed by every base asset.
func (s *PriceSimulator) Currencies() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range s.pairs {
		for _, c := range []string{p.Quote, p.Base} {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	return out
}
