package storage

import (
	"context"
	"log/slog"

	"tradesim/internal/domain"
)

// Repository is the write side the Persister needs.
type Repository interface {
	SaveAccount(ctx context.Context, acc domain.Account) error
	AppendEvent(ctx context.Context, accountID string, ev domain.Event) error
	SaveMessage(ctx context.Context, m domain.Message) error
}

// Persister writes core notifications to the repository on its own goroutine
// so the ledger never waits on the database. Writes keep notification order.
type Persister struct {
	repo Repository
	jobs chan domain.Notification
}

// NewPersister creates a persister with a queue of size buffer.
func NewPersister(repo Repository, buffer int) *Persister {
	if buffer <= 0 {
		buffer = 4096
	}
	return &Persister{repo: repo, jobs: make(chan domain.Notification, buffer)}
}

// Notify queues n. It blocks only when the queue is full.
func (p *Persister) Notify(n domain.Notification) {
	if !persistable(n) {
		return
	}
	select {
	case p.jobs <- n:
	default:
		slog.Warn("persist queue full, applying backpressure", slog.Int("capacity", cap(p.jobs)))
		p.jobs <- n
	}
}

func persistable(n domain.Notification) bool {
	switch n.Topic {
	case domain.TopicAccountCreated, domain.TopicTrade, domain.TopicAdjustment, domain.TopicSuspension:
		return n.Account != nil
	case domain.TopicMessage:
		return n.Message != nil
	default:
		return false
	}
}

// Run writes queued notifications until ctx is done, then drains the queue.
func (p *Persister) Run(ctx context.Context) error {
	slog.Info("Persister started")
	for {
		select {
		case <-ctx.Done():
			p.drain()
			slog.Info("Persister stopped")
			return nil
		case n := <-p.jobs:
			p.write(ctx, n)
		}
	}
}

func (p *Persister) drain() {
	ctx := context.Background()
	for {
		select {
		case n := <-p.jobs:
			p.write(ctx, n)
		default:
			return
		}
	}
}

// Pending returns the number of queued writes.
func (p *Persister) Pending() int {
	return len(p.jobs)
}

func (p *Persister) write(ctx context.Context, n domain.Notification) {
	if n.Topic == domain.TopicMessage {
		if err := p.repo.SaveMessage(ctx, *n.Message); err != nil {
			slog.Error("Failed to persist message", slog.String("account", n.AccountID), slog.Any("error", err))
		}
		return
	}

	// Header and balances first so the event row always has an owner.
	if err := p.repo.SaveAccount(ctx, *n.Account); err != nil {
		slog.Error("Failed to persist account", slog.String("account", n.AccountID), slog.Any("error", err))
		return
	}
	if n.Event != nil {
		if err := p.repo.AppendEvent(ctx, n.AccountID, *n.Event); err != nil {
			slog.Error("Failed to persist event",
				slog.String("account", n.AccountID),
				slog.String("event", n.Event.ID),
				slog.Any("error", err),
			)
		}
	}
}
