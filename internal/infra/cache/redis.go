// Package cache mirrors the live market and suspension flags into Redis so
// other services can read them without calling the API.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"tradesim/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisCache writes price snapshots to a hash and suspended accounts to a set.
type RedisCache struct {
	client       *redis.Client
	pricesKey    string
	suspendedKey string
	ttl          time.Duration
	queue        chan domain.Notification
}

// NewRedisCache creates a cache using keys under prefix.
func NewRedisCache(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client:       client,
		pricesKey:    prefix + "prices",
		suspendedKey: prefix + "suspended",
		ttl:          ttl,
		queue:        make(chan domain.Notification, 256),
	}
}

// NewClient opens a go-redis client and checks the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, domain.NewNetworkError("redis ping", err)
	}
	return client, nil
}

// StorePrices replaces the cached snapshot. Fields are written in pair order.
func (c *RedisCache) StorePrices(ctx context.Context, prices map[string]float64) error {
	if len(prices) == 0 {
		return nil
	}
	ids := make([]string, 0, len(prices))
	for id := range prices {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	values := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		values = append(values, id, strconv.FormatFloat(prices[id], 'f', -1, 64))
	}

	if err := c.client.HSet(ctx, c.pricesKey, values...).Err(); err != nil {
		return fmt.Errorf("cache prices: %w", err)
	}
	if c.ttl > 0 {
		if err := c.client.Expire(ctx, c.pricesKey, c.ttl).Err(); err != nil {
			return fmt.Errorf("expire prices: %w", err)
		}
	}
	return nil
}

// LatestPrices reads the cached snapshot. Unparsable fields are skipped.
func (c *RedisCache) LatestPrices(ctx context.Context) (map[string]float64, error) {
	raw, err := c.client.HGetAll(ctx, c.pricesKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for id, v := range raw {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Warn("skipping bad cached price", slog.String("pair", id), slog.String("value", v))
			continue
		}
		out[id] = p
	}
	return out, nil
}

// SetSuspended adds or removes accountID from the suspended set.
func (c *RedisCache) SetSuspended(ctx context.Context, accountID string, suspended bool) error {
	if suspended {
		return c.client.SAdd(ctx, c.suspendedKey, accountID).Err()
	}
	return c.client.SRem(ctx, c.suspendedKey, accountID).Err()
}

// IsSuspended reports whether accountID is in the suspended set.
func (c *RedisCache) IsSuspended(ctx context.Context, accountID string) (bool, error) {
	return c.client.SIsMember(ctx, c.suspendedKey, accountID).Result()
}

// Notify queues price and suspension changes without blocking.
func (c *RedisCache) Notify(n domain.Notification) {
	if n.Topic != domain.TopicPrices && n.Topic != domain.TopicSuspension {
		return
	}
	select {
	case c.queue <- n:
	default:
		slog.Warn("redis cache queue full, dropping", slog.String("topic", string(n.Topic)))
	}
}

// Run applies queued changes until ctx is done.
func (c *RedisCache) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-c.queue:
			if err := c.apply(ctx, n); err != nil {
				slog.Error("Failed to update redis cache", slog.String("topic", string(n.Topic)), slog.Any("error", err))
			}
		}
	}
}

func (c *RedisCache) apply(ctx context.Context, n domain.Notification) error {
	switch n.Topic {
	case domain.TopicPrices:
		return c.StorePrices(ctx, n.Prices)
	case domain.TopicSuspension:
		if n.Account == nil {
			return nil
		}
		return c.SetSuspended(ctx, n.AccountID, n.Account.Suspended)
	}
	return nil
}
