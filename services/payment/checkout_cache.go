package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// CheckoutCache remembers open checkout sessions so a client re-requesting
// payment for the same leg is sent to the same page.
type CheckoutCache interface {
	Get(ctx context.Context, reservationID string, leg Leg) (*CheckoutHandle, bool, error)
	Put(ctx context.Context, h *CheckoutHandle) error
	Drop(ctx context.Context, reservationID string, leg Leg) error
}

// RedisCheckoutCache stores handles as JSON under checkout:<reservation>:<leg>.
type RedisCheckoutCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCheckoutCache keeps handles for ttl; a zero ttl defaults to 30 minutes.
func NewRedisCheckoutCache(client *redis.Client, ttl time.Duration) *RedisCheckoutCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisCheckoutCache{client: client, ttl: ttl}
}

func (c *RedisCheckoutCache) Get(ctx context.Context, reservationID string, leg Leg) (*CheckoutHandle, bool, error) {
	data, err := c.client.Get(ctx, checkoutIdempotencyKey(reservationID, leg)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("checkout cache get: %w", err)
	}
	var h CheckoutHandle
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, false, fmt.Errorf("checkout cache decode: %w", err)
	}
	return &h, true, nil
}

func (c *RedisCheckoutCache) Put(ctx context.Context, h *CheckoutHandle) error {
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("checkout cache encode: %w", err)
	}
	if err := c.client.Set(ctx, checkoutIdempotencyKey(h.ReservationID, h.Leg), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("checkout cache set: %w", err)
	}
	return nil
}

func (c *RedisCheckoutCache) Drop(ctx context.Context, reservationID string, leg Leg) error {
	return c.client.Del(ctx, checkoutIdempotencyKey(reservationID, leg)).Err()
}

type noopCheckoutCache struct{}

func (noopCheckoutCache) Get(context.Context, string, Leg) (*CheckoutHandle, bool, error) {
	return nil, false, nil
}
func (noopCheckoutCache) Put(context.Context, *CheckoutHandle) error { return nil }
func (noopCheckoutCache) Drop(context.Context, string, Leg) error    { return nil }
