// Package rabbitmq mirrors market ticks and account events onto a topic exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tradesim/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DefaultExchange = "market"
	ExchangeType    = "topic"
	dialAttempts    = 5
	dialBackoff     = 2 * time.Second
)

// SetupConn dials the broker with a short retry loop and declares the exchange.
func SetupConn(ctx context.Context, url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := dialWithRetry(ctx, amqp.Dial, url, dialAttempts, dialBackoff)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		ExchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	return conn, ch, nil
}

// dialWithRetry retries dial until it succeeds, attempts run out or the
// failure is not retriable.
func dialWithRetry(ctx context.Context, dial func(string) (*amqp.Connection, error), url string, attempts int, backoff time.Duration) (*amqp.Connection, error) {
	if _, err := amqp.ParseURI(url); err != nil {
		return nil, domain.NewFatalNetworkError("amqp dial", err)
	}

	var err error
	// Simple retry logic for container startup
	for i := 0; i < attempts; i++ {
		var conn *amqp.Connection
		conn, err = dial(url)
		if err == nil {
			return conn, nil
		}
		err = dialError(err)
		if !domain.IsRetriable(err) {
			return nil, err
		}
		slog.Warn("Failed to connect to RabbitMQ", slog.Int("attempt", i+1), slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, err
}

// dialError marks rejected credentials or vhosts as fatal.
func dialError(err error) error {
	if errors.Is(err, amqp.ErrCredentials) || errors.Is(err, amqp.ErrVhost) || errors.Is(err, amqp.ErrSASL) {
		return domain.NewFatalNetworkError("amqp dial", err)
	}
	return domain.NewNetworkError("amqp dial", err)
}
