package infra

import (
	"sync/atomic"
	"time"

	"tradesim/internal/domain"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticks          atomic.Uint64
	tradesExecuted atomic.Uint64
	tradesRejected atomic.Uint64
	adjustments    atomic.Uint64
	accounts       atomic.Uint64
	botSkips       atomic.Uint64
	botFailures    atomic.Uint64
	messages       atomic.Uint64
	errorsTotal    atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	activeBots        atomic.Int32
}

// NewMetrics creates a zeroed metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Notify counts core notifications. Subscribe it to the event bus.
func (m *Metrics) Notify(n domain.Notification) {
	switch n.Topic {
	case domain.TopicPrices:
		m.ticks.Add(1)
	case domain.TopicTrade:
		m.tradesExecuted.Add(1)
	case domain.TopicTradeRejected:
		m.tradesRejected.Add(1)
	case domain.TopicAdjustment:
		m.adjustments.Add(1)
	case domain.TopicAccountCreated:
		m.accounts.Add(1)
	case domain.TopicMessage:
		m.messages.Add(1)
	case domain.TopicBot:
		if n.Bot == nil {
			return
		}
		switch n.Bot.Status {
		case domain.BotStarted:
			m.activeBots.Add(1)
		case domain.BotStopped:
			m.activeBots.Add(-1)
		case domain.BotSkipped:
			m.botSkips.Add(1)
		case domain.BotFailed:
			m.botFailures.Add(1)
		}
	}
}

// RecordRequest records one handled request with its latency.
func (m *Metrics) RecordRequest(latency time.Duration) {
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Ticks             uint64    `json:"ticks"`
	TradesExecuted    uint64    `json:"trades_executed"`
	TradesRejected    uint64    `json:"trades_rejected"`
	Adjustments       uint64    `json:"adjustments"`
	AccountsCreated   uint64    `json:"accounts_created"`
	BotSkips          uint64    `json:"bot_skips"`
	BotFailures       uint64    `json:"bot_failures"`
	Messages          uint64    `json:"messages"`
	ErrorsTotal       uint64    `json:"errors_total"`
	Requests          uint64    `json:"requests"`
	AvgLatencyNs      int64     `json:"avg_latency_ns"`
	ActiveConnections int32     `json:"active_connections"`
	ActiveBots        int32     `json:"active_bots"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		Ticks:             m.ticks.Load(),
		TradesExecuted:    m.tradesExecuted.Load(),
		TradesRejected:    m.tradesRejected.Load(),
		Adjustments:       m.adjustments.Load(),
		AccountsCreated:   m.accounts.Load(),
		BotSkips:          m.botSkips.Load(),
		BotFailures:       m.botFailures.Load(),
		Messages:          m.messages.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		Requests:          count,
		AvgLatencyNs:      avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		ActiveBots:        m.activeBots.Load(),
		Timestamp:         time.Now(),
	}
}
