package budget

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	redisclient "github.com/vietddude/streamretry/internal/infra/redis"
)

// memoryStore mimics the Redis script without refill.
type memoryStore struct {
	mu     sync.Mutex
	tokens map[string]float64
	deltas []float64
	err    error
}

func (m *memoryStore) AdjustTokens(_ context.Context, route string, b redisclient.Bucket, delta float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	m.deltas = append(m.deltas, delta)
	tokens, ok := m.tokens[route]
	if !ok {
		tokens = b.Capacity
	}
	if tokens+delta < 0 {
		m.tokens[route] = tokens
		return false, nil
	}
	m.tokens[route] = min(b.Capacity, tokens+delta)
	return true, nil
}

func TestRedisBudget_Delegates(t *testing.T) {
	store := &memoryStore{tokens: make(map[string]float64)}
	b := NewRedisBudget(store, RedisConfig{
		Route:  "users",
		Tokens: TokenConfig{Capacity: 1, DepositRatio: 0.5},
	}, nil)

	if !b.TryWithdraw() {
		t.Fatal("First withdrawal should succeed")
	}
	if b.TryWithdraw() {
		t.Fatal("Second withdrawal should be denied")
	}
	b.Deposit()
	b.Deposit()
	if !b.TryWithdraw() {
		t.Error("Deposits should have paid for a retry")
	}

	want := []float64{-1, -1, 0.5, 0.5, -1}
	if fmt.Sprint(store.deltas) != fmt.Sprint(want) {
		t.Errorf("deltas = %v, want %v", store.deltas, want)
	}
}

func TestRedisBudget_FailsClosed(t *testing.T) {
	store := &memoryStore{tokens: make(map[string]float64), err: errors.New("connection refused")}
	b := NewRedisBudget(store, RedisConfig{Route: "users"}, nil)

	if b.TryWithdraw() {
		t.Error("Withdrawal should be denied when the store fails")
	}
	b.Deposit() // must not panic
}

// TestRedisBudget_Live runs against a real Redis when REDIS_URL is set.
func TestRedisBudget_Live(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	client, err := redisclient.NewClient(redisclient.Config{URL: url})
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()

	route := fmt.Sprintf("test-%d", time.Now().UnixNano())
	b := NewRedisBudget(client, RedisConfig{
		Route:   route,
		Tokens:  TokenConfig{Capacity: 3},
		Timeout: time.Second,
	}, nil)

	granted := 0
	for i := 0; i < 5; i++ {
		if b.TryWithdraw() {
			granted++
		}
	}
	if granted != 3 {
		t.Errorf("Expected 3 withdrawals from a capacity of 3, got %d", granted)
	}
}
