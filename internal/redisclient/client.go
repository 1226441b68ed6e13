package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// slidingWindowScript trims expired entries, counts the rest, and admits
// the request atomically. KEYS[1] window zset, ARGV: now-micros, window-micros,
// max, member.
const slidingWindowScript = `
local cutoff = tonumber(ARGV[1]) - tonumber(ARGV[2])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], math.floor(tonumber(ARGV[2]) / 1000))
return 1
`

type Client struct {
	rdb          *redis.Client
	windowScript *redis.Script
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

	return &Client{
		rdb:          rdb,
		windowScript: redis.NewScript(slidingWindowScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// AllowWebhook admits or rejects one webhook call for a source inside a
// sliding window. Returns false when the source exceeded its budget.
func (c *Client) AllowWebhook(ctx context.Context, sourceIP string, window time.Duration, max int) (bool, error) {
	key := fmt.Sprintf("ratelimit:webhook:%s", sourceIP)
	now := time.Now().UnixMicro()
	member := fmt.Sprintf("%d", now)

	result, err := c.windowScript.Run(ctx, c.rdb, []string{key},
		now, window.Microseconds(), max, member).Result()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}

	allowed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}
	return allowed == 1, nil
}

// WebhookLimiter binds the sliding window to one budget so consumers only
// see an Allow call per source.
type WebhookLimiter struct {
	client *Client
	window time.Duration
	max    int
}

// NewWebhookLimiter creates a per-source webhook rate limiter
func NewWebhookLimiter(client *Client, window time.Duration, max int) *WebhookLimiter {
	return &WebhookLimiter{client: client, window: window, max: max}
}

// Allow admits or rejects one webhook call for a source
func (l *WebhookLimiter) Allow(ctx context.Context, sourceIP string) (bool, error) {
	return l.client.AllowWebhook(ctx, sourceIP, l.window, l.max)
}

// SaveCartSnapshot stores the checkout cart under its session identifier
func (c *Client) SaveCartSnapshot(ctx context.Context, sessionID string, snapshot interface{}, ttl time.Duration) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal cart snapshot: %w", err)
	}
	return c.rdb.Set(ctx, fmt.Sprintf("cart:%s", sessionID), data, ttl).Err()
}

// GetCartSnapshot loads a cart snapshot into dest; returns false when
// the session has no cart.
func (c *Client) GetCartSnapshot(ctx context.Context, sessionID string, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, fmt.Sprintf("cart:%s", sessionID)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(data, dest)
}

// ClearCartSnapshot removes the cart once the order reached a terminal state
func (c *Client) ClearCartSnapshot(ctx context.Context, sessionID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("cart:%s", sessionID)).Err()
}

// QueueNotification enqueues a not-yet-sent notification payload for an
// order (payment reminders and the like)
func (c *Client) QueueNotification(ctx context.Context, orderID int64, payload string) error {
	return c.rdb.RPush(ctx, fmt.Sprintf("notifyq:%d", orderID), payload).Err()
}

// ClearQueuedNotifications drops any notification still queued for an order
func (c *Client) ClearQueuedNotifications(ctx context.Context, orderID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("notifyq:%d", orderID)).Err()
}

// SetIdempotencyKey stores a checkout idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the stored value for an idempotency key,
// or "" when the key is unknown
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}
