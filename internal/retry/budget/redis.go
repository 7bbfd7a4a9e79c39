package budget

import (
	"context"
	"log/slog"
	"time"

	redisclient "github.com/vietddude/streamretry/internal/infra/redis"
)

// TokenStore applies token deltas atomically in shared storage.
type TokenStore interface {
	AdjustTokens(ctx context.Context, route string, b redisclient.Bucket, delta float64) (bool, error)
}

// RedisConfig holds shared budget configuration.
type RedisConfig struct {
	Route  string
	Tokens TokenConfig
	// Timeout bounds each round trip; the budget fails closed on timeout.
	Timeout time.Duration
}

// RedisBudget implements Budget on a token bucket kept in Redis, so all
// proxy processes serving a route draw from the same pool.
type RedisBudget struct {
	store   TokenStore
	route   string
	bucket  redisclient.Bucket
	ratio   float64
	timeout time.Duration
	logger  *slog.Logger
}

// NewRedisBudget creates a shared budget for cfg.Route.
func NewRedisBudget(store TokenStore, cfg RedisConfig, logger *slog.Logger) *RedisBudget {
	if cfg.Tokens.Capacity <= 0 {
		cfg.Tokens.Capacity = DefaultTokenConfig.Capacity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBudget{
		store: store,
		route: cfg.Route,
		bucket: redisclient.Bucket{
			Capacity:     cfg.Tokens.Capacity,
			RefillPerSec: cfg.Tokens.MinPerSecond,
		},
		ratio:   cfg.Tokens.DepositRatio,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// TryWithdraw implements Budget. Storage errors deny the retry.
func (b *RedisBudget) TryWithdraw() bool {
	ok, err := b.adjust(-1)
	if err != nil {
		b.logger.Warn("Retry budget unavailable, denying retry", "route", b.route, "error", err)
		return false
	}
	return ok
}

// Deposit implements Budget.
func (b *RedisBudget) Deposit() {
	if b.ratio <= 0 {
		return
	}
	if _, err := b.adjust(b.ratio); err != nil {
		b.logger.Debug("Retry budget deposit dropped", "route", b.route, "error", err)
	}
}

func (b *RedisBudget) adjust(delta float64) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	return b.store.AdjustTokens(ctx, b.route, b.bucket, delta)
}
