package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// MarkEventSeen records a webhook event id with a TTL and reports whether it
// was already present. This is a cheap fast path only; the status history
// table remains the authoritative dedup check.
func (c *Client) MarkEventSeen(ctx context.Context, dedupKey string, ttl time.Duration) (bool, error) {
	set, err := c.rdb.SetNX(ctx, fmt.Sprintf("event:%s", dedupKey), "1", ttl).Result()
	if err != nil {
		return false, err
	}
	return !set, nil
}

// ClearEventSeen drops a webhook event id so the provider's next retry is
// processed again. Used when applying the event failed after the key was set.
func (c *Client) ClearEventSeen(ctx context.Context, dedupKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("event:%s", dedupKey)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// CacheOrderView stores the serialized public order view with a TTL.
func (c *Client) CacheOrderView(ctx context.Context, orderNumber string, payload []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("orderview:%s", orderNumber), payload, ttl).Err()
}

// GetOrderView retrieves a cached order view. Returns nil on a miss.
func (c *Client) GetOrderView(ctx context.Context, orderNumber string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("orderview:%s", orderNumber)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

// InvalidateOrderView drops the cached view after a transition.
func (c *Client) InvalidateOrderView(ctx context.Context, orderNumber string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("orderview:%s", orderNumber)).Err()
}
