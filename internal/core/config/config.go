package config

import (
	"time"

	redisclient "github.com/vietddude/streamretry/internal/infra/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server  ServerConfig       `yaml:"server"`
	Admin   ServerConfig       `yaml:"admin"`
	Redis   redisclient.Config `yaml:"redis"`
	Logging LoggingConfig      `yaml:"logging"`
	Routes  []RouteConfig      `yaml:"routes"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// RouteConfig maps a path prefix to a retried upstream.
type RouteConfig struct {
	Name     string         `yaml:"name"`
	Prefix   string         `yaml:"prefix"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Retry    RetryConfig    `yaml:"retry"`
}

// UpstreamConfig describes the downstream a route forwards to.
type UpstreamConfig struct {
	Protocol string        `yaml:"protocol"` // http, grpc
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"` // http only; 0 = none
}

// RetryConfig holds the retry filter settings of one route.
type RetryConfig struct {
	RequestBufferSize  int `yaml:"request_buffer_size"`
	ResponseBufferSize int `yaml:"response_buffer_size"`

	// ClassificationTimeout defaults to 1s when absent. An explicit 0
	// disables the deadline.
	ClassificationTimeout *time.Duration `yaml:"classification_timeout"`

	Backoff    BackoffConfig `yaml:"backoff"`
	Budget     BudgetConfig  `yaml:"budget"`
	Classifier RulesConfig   `yaml:"classifier"`
}

// BackoffConfig selects a backoff schedule.
type BackoffConfig struct {
	Type       string          `yaml:"type"` // exponential, constant, values, none
	Initial    time.Duration   `yaml:"initial"`
	Max        time.Duration   `yaml:"max"`
	Multiplier float64         `yaml:"multiplier"`
	Values     []time.Duration `yaml:"values"`
	Jitter     float64         `yaml:"jitter"`      // fraction of each delay, 0..1
	MaxRetries int             `yaml:"max_retries"` // 0 = unbounded
}

// BudgetConfig selects a retry budget.
type BudgetConfig struct {
	Type     string  `yaml:"type"` // token, redis, infinite, empty
	Capacity float64 `yaml:"capacity"`

	// DepositRatio and MinPerSecond fall back to the token defaults only
	// when absent, so 0 turns either source of tokens off.
	DepositRatio *float64 `yaml:"deposit_ratio"`
	MinPerSecond *float64 `yaml:"min_per_second"`

	Timeout time.Duration `yaml:"timeout"` // redis round trip bound
}

// RulesConfig configures the rule-based classifier.
type RulesConfig struct {
	Key                string   `yaml:"key"`
	RetryableValues    []string `yaml:"retryable_values"`
	NonRetryableValues []string `yaml:"non_retryable_values"`
	RetryableStatuses  []int    `yaml:"retryable_statuses"`
	RetryableCodes     []string `yaml:"retryable_codes"`
	RetryableErrors    []string `yaml:"retryable_errors"`
}
