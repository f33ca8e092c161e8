package infra

import (
	"sync"
	"testing"
	"time"

	"tradesim/internal/domain"
)

func TestMetrics_RecordRequest(t *testing.T) {
	m := NewMetrics()

	m.RecordRequest(1000)
	m.RecordRequest(2000)
	m.RecordRequest(3000)

	snap := m.Snapshot()

	if snap.Requests != 3 {
		t.Errorf("Expected 3 requests, got %d", snap.Requests)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgLatencyNs)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := NewMetrics()

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_Notify(t *testing.T) {
	m := NewMetrics()

	for _, n := range []domain.Notification{
		{Topic: domain.TopicPrices},
		{Topic: domain.TopicPrices},
		{Topic: domain.TopicTrade},
		{Topic: domain.TopicTradeRejected},
		{Topic: domain.TopicAdjustment},
		{Topic: domain.TopicAccountCreated},
		{Topic: domain.TopicMessage},
		{Topic: domain.TopicBot, Bot: &domain.BotNotice{Status: domain.BotStarted}},
		{Topic: domain.TopicBot, Bot: &domain.BotNotice{Status: domain.BotSkipped}},
		{Topic: domain.TopicBot, Bot: &domain.BotNotice{Status: domain.BotFailed}},
		{Topic: domain.TopicBot}, // no payload
	} {
		m.Notify(n)
	}

	snap := m.Snapshot()
	if snap.Ticks != 2 {
		t.Errorf("Expected 2 ticks, got %d", snap.Ticks)
	}
	if snap.TradesExecuted != 1 || snap.TradesRejected != 1 {
		t.Errorf("Expected 1/1 trades, got %d/%d", snap.TradesExecuted, snap.TradesRejected)
	}
	if snap.Adjustments != 1 || snap.AccountsCreated != 1 || snap.Messages != 1 {
		t.Errorf("Unexpected counters %+v", snap)
	}
	if snap.ActiveBots != 1 || snap.BotSkips != 1 || snap.BotFailures != 1 {
		t.Errorf("Unexpected bot counters %+v", snap)
	}
}

func TestMetrics_ConcurrentAccess(t *testing.T) {
	m := NewMetrics()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Notify(domain.Notification{Topic: domain.TopicTrade})
			m.RecordRequest(time.Microsecond)
			m.RecordError()
		}()
	}

	wg.Wait()

	snap := m.Snapshot()
	if snap.TradesExecuted != 100 {
		t.Errorf("Expected 100 trades, got %d", snap.TradesExecuted)
	}
	if snap.ErrorsTotal != 100 {
		t.Errorf("Expected 100 errors, got %d", snap.ErrorsTotal)
	}
}
