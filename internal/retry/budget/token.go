package budget

import (
	"math"
	"sync"
	"time"
)

// TokenConfig holds token budget configuration.
type TokenConfig struct {
	// Capacity caps the balance.
	Capacity float64
	// DepositRatio is the fraction of a token credited per Deposit. 0.2
	// allows one retry per five deposits.
	DepositRatio float64
	// MinPerSecond is a reserve that accrues regardless of deposits, so
	// low-traffic routes can still retry.
	MinPerSecond float64
}

// DefaultTokenConfig allows retries for 20% of deposits plus ten per second.
var DefaultTokenConfig = TokenConfig{
	Capacity:     100,
	DepositRatio: 0.2,
	MinPerSecond: 10,
}

// TokenBudget implements Budget with a mutex-guarded token balance.
type TokenBudget struct {
	mu      sync.Mutex
	cfg     TokenConfig
	balance float64
	last    time.Time
	now     func() time.Time
}

// NewTokenBudget creates a budget that starts full.
func NewTokenBudget(cfg TokenConfig) *TokenBudget {
	return newTokenBudget(cfg, time.Now)
}

func newTokenBudget(cfg TokenConfig, now func() time.Time) *TokenBudget {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultTokenConfig.Capacity
	}
	return &TokenBudget{
		cfg:     cfg,
		balance: cfg.Capacity,
		last:    now(),
		now:     now,
	}
}

// TryWithdraw implements Budget.
func (b *TokenBudget) TryWithdraw() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillUnsafe()
	if b.balance < 1 {
		return false
	}
	b.balance--
	return true
}

// Deposit implements Budget.
func (b *TokenBudget) Deposit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillUnsafe()
	b.balance = math.Min(b.cfg.Capacity, b.balance+b.cfg.DepositRatio)
}

// Balance returns the current number of tokens.
func (b *TokenBudget) Balance() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillUnsafe()
	return b.balance
}

func (b *TokenBudget) refillUnsafe() {
	now := b.now()
	elapsed := now.Sub(b.last)
	b.last = now
	if elapsed <= 0 || b.cfg.MinPerSecond <= 0 {
		return
	}
	b.balance = math.Min(b.cfg.Capacity, b.balance+elapsed.Seconds()*b.cfg.MinPerSecond)
}
