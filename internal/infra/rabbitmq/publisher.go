package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"tradesim/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PriceTick is the body published per pair on every simulator tick.
type PriceTick struct {
	Pair  string    `json:"pair"`
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// Publisher forwards notifications to the exchange from its own goroutine.
// Delivery is best effort: when the queue is full new messages are dropped.
type Publisher struct {
	ch       Channel
	exchange string
	queue    chan domain.Notification
	timeout  time.Duration
}

// NewPublisher creates a publisher on ch.
func NewPublisher(ch Channel, exchange string, buffer int) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if buffer <= 0 {
		buffer = 1024
	}
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		queue:    make(chan domain.Notification, buffer),
		timeout:  5 * time.Second,
	}
}

// Notify queues n without blocking.
func (p *Publisher) Notify(n domain.Notification) {
	select {
	case p.queue <- n:
	default:
		slog.Warn("amqp publish queue full, dropping", slog.String("topic", string(n.Topic)))
	}
}

// Run publishes queued notifications until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-p.queue:
			if err := p.Publish(ctx, n); err != nil {
				slog.Error("Failed to publish to RabbitMQ", slog.String("topic", string(n.Topic)), slog.Any("error", err))
			}
		}
	}
}

// Publish sends one notification. A price snapshot becomes one message per pair.
func (p *Publisher) Publish(ctx context.Context, n domain.Notification) error {
	if n.Topic == domain.TopicPrices {
		ids := make([]string, 0, len(n.Prices))
		for id := range n.Prices {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := p.send(ctx, PriceRoutingKey(id), PriceTick{Pair: id, Price: n.Prices[id], Time: n.At}); err != nil {
				return err
			}
		}
		return nil
	}
	return p.send(ctx, RoutingKey(n), n)
}

func (p *Publisher) send(ctx context.Context, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("could not marshal message: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx,
		p.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
	if err != nil {
		return domain.NewNetworkError("amqp publish", err)
	}
	return nil
}

// PriceRoutingKey is market.<base>.<quote>, e.g. market.btc.eur.
func PriceRoutingKey(pairID string) string {
	return "market." + strings.ToLower(strings.ReplaceAll(pairID, "/", "."))
}

// RoutingKey is account.<topic>.<account> for account-scoped notifications.
func RoutingKey(n domain.Notification) string {
	if n.AccountID == "" {
		return "system." + string(n.Topic)
	}
	return "account." + string(n.Topic) + "." + n.AccountID
}
