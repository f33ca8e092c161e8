// Package event fans core notifications out to any number of subscribers.
package event

import (
	"log/slog"
	"sync"

	"tradesim/internal/domain"
)

type subscriber struct {
	name   string
	topics map[domain.Topic]bool // nil means every topic
	n      domain.Notifier
}

// Bus is a synchronous publish/subscribe hub. The core publishes to it without
// knowing who listens. Subscribers run on the publisher's goroutine and must
// hand slow work off to their own queues.
type Bus struct {
	mu   sync.RWMutex
	subs []subscriber
}

// NewBus creates a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers n for the given topics, or for all topics when none are given.
func (b *Bus) Subscribe(name string, n domain.Notifier, topics ...domain.Topic) {
	var filter map[domain.Topic]bool
	if len(topics) > 0 {
		filter = make(map[domain.Topic]bool, len(topics))
		for _, t := range topics {
			filter[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscriber{name: name, topics: filter, n: n})
}

// Notify delivers n to every matching subscriber in subscription order.
func (b *Bus) Notify(n domain.Notification) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		if s.topics != nil && !s.topics[n.Topic] {
			continue
		}
		deliver(s, n)
	}
}

// deliver isolates a panicking subscriber from the publisher.
func deliver(s subscriber, n domain.Notification) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("SUBSCRIBER_PANIC_RECOVERED",
				slog.String("subscriber", s.name),
				slog.String("topic", string(n.Topic)),
				slog.Any("panic", r),
			)
		}
	}()
	s.n.Notify(n)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
