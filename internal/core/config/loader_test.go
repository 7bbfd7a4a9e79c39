package config

import (
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc/codes"

	"github.com/vietddude/streamretry/internal/retry/budget"
)

const minimal = `
routes:
  - name: orders
    upstream:
      endpoint: http://localhost:9000
`

func TestLoad_EnvSubstitution(t *testing.T) {
	// Setup env var
	os.Setenv("TEST_REDIS_URL", "redis://localhost:6380/1")
	defer os.Unsetenv("TEST_REDIS_URL")

	// Create temp config file
	configContent := `
redis:
  url: ${TEST_REDIS_URL}
routes:
  - name: orders
    upstream:
      endpoint: http://localhost:9000
    retry:
      budget:
        type: redis
`
	tmpFile, err := os.CreateTemp("", "config_*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write([]byte(configContent)); err != nil {
		t.Fatalf("Failed to write to temp file: %v", err)
	}
	tmpFile.Close()

	// Load config
	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Redis.URL != "redis://localhost:6380/1" {
		t.Errorf("Expected URL redis://localhost:6380/1, got %s", cfg.Redis.URL)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Addr != ":8080" || cfg.Admin.Addr != ":9090" {
		t.Errorf("Unexpected listener defaults: %q %q", cfg.Server.Addr, cfg.Admin.Addr)
	}
	r := cfg.Routes[0]
	if r.Prefix != "/" || r.Upstream.Protocol != "http" {
		t.Errorf("Unexpected route defaults: %+v", r)
	}
	if r.Retry.Deadline() != time.Second {
		t.Errorf("Expected 1s classification timeout, got %v", r.Retry.Deadline())
	}
	if r.Retry.Backoff.Type != "exponential" || r.Retry.Budget.Type != "token" {
		t.Errorf("Unexpected retry defaults: %+v", r.Retry)
	}
	if tokens := r.Retry.Budget.Tokens(); tokens != budget.DefaultTokenConfig {
		t.Errorf("Expected default token config, got %+v", tokens)
	}
}

func TestParse_ExplicitZero(t *testing.T) {
	tests := []struct {
		name     string
		retry    string
		deadline time.Duration
		tokens   budget.TokenConfig
	}{
		{
			name:     "no classification deadline",
			retry:    "classification_timeout: 0s",
			deadline: 0,
			tokens:   budget.DefaultTokenConfig,
		},
		{
			name:     "deposit only",
			retry:    "budget:\n        min_per_second: 0",
			deadline: time.Second,
			tokens:   budget.TokenConfig{Capacity: 100, DepositRatio: 0.2, MinPerSecond: 0},
		},
		{
			name:     "reserve only",
			retry:    "budget:\n        capacity: 5\n        deposit_ratio: 0",
			deadline: time.Second,
			tokens:   budget.TokenConfig{Capacity: 5, DepositRatio: 0, MinPerSecond: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(minimal + "    retry:\n      " + tt.retry + "\n"))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			r := cfg.Routes[0].Retry
			if r.Deadline() != tt.deadline {
				t.Errorf("Deadline() = %v, want %v", r.Deadline(), tt.deadline)
			}
			if got := r.Budget.Tokens(); got != tt.tokens {
				t.Errorf("Tokens() = %+v, want %+v", got, tt.tokens)
			}
		})
	}
}

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`
server:
  addr: ":7000"
logging:
  level: debug
routes:
  - name: users
    prefix: /users
    upstream:
      protocol: grpc
      endpoint: https://users.internal:443
    retry:
      request_buffer_size: 1024
      response_buffer_size: 2048
      classification_timeout: 250ms
      backoff:
        type: values
        values: [10ms, 20ms]
      budget:
        type: infinite
      classifier:
        key: x-retry
        retryable_values: ["true"]
        retryable_codes: [UNAVAILABLE, "4"]
        retryable_errors: ["Connection Reset"]
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	r := cfg.Routes[0].Retry
	if r.RequestBufferSize != 1024 || r.ResponseBufferSize != 2048 {
		t.Errorf("Unexpected buffer sizes: %+v", r)
	}
	if r.Deadline() != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", r.Deadline())
	}

	var delays []time.Duration
	for d := range r.Backoff.Schedule() {
		delays = append(delays, d)
	}
	if !slices.Equal(delays, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}) {
		t.Errorf("Unexpected schedule: %v", delays)
	}

	rules, err := r.Classifier.Rules()
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if !slices.Equal(rules.RetryableCodes, []codes.Code{codes.Unavailable, codes.DeadlineExceeded}) {
		t.Errorf("Unexpected codes: %v", rules.RetryableCodes)
	}
	if !slices.Equal(rules.RetryableErrors, []string{"connection reset"}) {
		t.Errorf("Expected lower-cased error patterns, got %v", rules.RetryableErrors)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"no routes", `server: {addr: ":1"}`, "at least one route"},
		{"missing endpoint", `routes: [{name: a}]`, "endpoint is required"},
		{"duplicate", `
routes:
  - {name: a, upstream: {endpoint: "http://x"}}
  - {name: a, upstream: {endpoint: "http://y"}}`, "duplicate route"},
		{"bad protocol", `routes: [{name: a, upstream: {protocol: ftp, endpoint: "x"}}]`, "unknown upstream protocol"},
		{"bad prefix", `routes: [{name: a, prefix: api, upstream: {endpoint: "x"}}]`, "must start with /"},
		{"redis without url", `routes: [{name: a, upstream: {endpoint: "x"}, retry: {budget: {type: redis}}}]`, "requires redis.url"},
		{"bad code", `routes: [{name: a, upstream: {endpoint: "x"}, retry: {classifier: {retryable_codes: [NOPE]}}}]`, "unknown grpc code"},
		{"bad jitter", `routes: [{name: a, upstream: {endpoint: "x"}, retry: {backoff: {jitter: 2}}}]`, "jitter"},
		{"empty values", `routes: [{name: a, upstream: {endpoint: "x"}, retry: {backoff: {type: values}}}]`, "at least one value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestBackoffConfig_Schedule(t *testing.T) {
	tests := []struct {
		name string
		cfg  BackoffConfig
		want []time.Duration
	}{
		{"none", BackoffConfig{Type: "none"}, nil},
		{"constant capped", BackoffConfig{Type: "constant", Initial: time.Millisecond, MaxRetries: 3},
			[]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}},
		{"exponential capped", BackoffConfig{Type: "exponential", Initial: 10 * time.Millisecond, Max: 30 * time.Millisecond, Multiplier: 2, MaxRetries: 4},
			[]time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond, 30 * time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []time.Duration
			for d := range tt.cfg.Schedule() {
				got = append(got, d)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Schedule() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRulesConfig_Defaults(t *testing.T) {
	rules, err := RulesConfig{}.Rules()
	if err != nil {
		t.Fatalf("Rules: %v", err)
	}
	if !slices.Contains(rules.RetryableStatuses, 503) {
		t.Errorf("Expected 503 retried by default, got %v", rules.RetryableStatuses)
	}
	if !slices.Contains(rules.RetryableCodes, codes.Unavailable) {
		t.Errorf("Expected Unavailable retried by default, got %v", rules.RetryableCodes)
	}
}
