package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for shared retry budgets.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func budgetKey(route string) string {
	return fmt.Sprintf("retry_budget:%s", route)
}

// adjustScript refills the bucket for the elapsed time, then applies delta.
// A negative delta is only applied when the balance can cover it.
//
// KEYS[1] bucket hash; ARGV: capacity, refill per second, now (seconds),
// delta, ttl (ms). Returns 1 when delta was applied.
var adjustScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local delta = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = tonumber(redis.call('HGET', KEYS[1], 'tokens'))
local ts = tonumber(redis.call('HGET', KEYS[1], 'ts'))
if tokens == nil or ts == nil then
	tokens = capacity
	ts = now
end

if now > ts then
	tokens = math.min(capacity, tokens + (now - ts) * rate)
end

local applied = 0
if tokens + delta >= 0 then
	tokens = math.min(capacity, tokens + delta)
	applied = 1
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(math.max(now, ts)))
redis.call('PEXPIRE', KEYS[1], ttl)
return applied
`)

// Bucket describes the token arithmetic of one shared budget.
type Bucket struct {
	Capacity     float64
	RefillPerSec float64
	TTL          time.Duration
}

// AdjustTokens atomically refills the route's bucket and applies delta. It
// reports whether delta was applied.
func (c *Client) AdjustTokens(ctx context.Context, route string, b Bucket, delta float64) (bool, error) {
	ttl := b.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	n, err := adjustScript.Run(ctx, c.rdb, []string{budgetKey(route)},
		b.Capacity, b.RefillPerSec, now, delta, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("adjust tokens failed: %w", err)
	}
	return n == 1, nil
}
