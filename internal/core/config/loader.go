package config

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/streamretry/internal/retry/backoff"
	"github.com/vietddude/streamretry/internal/retry/budget"
	"github.com/vietddude/streamretry/internal/retry/classifier"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates YAML configuration.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (cfg *AppConfig) setDefaults() {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Admin.Addr == "" {
		cfg.Admin.Addr = ":9090"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	for i := range cfg.Routes {
		r := &cfg.Routes[i]
		if r.Prefix == "" {
			r.Prefix = "/"
		}
		if r.Upstream.Protocol == "" {
			r.Upstream.Protocol = "http"
		}
		if r.Retry.ClassificationTimeout == nil {
			r.Retry.ClassificationTimeout = ptr(time.Second)
		}

		b := &r.Retry.Backoff
		if b.Type == "" {
			b.Type = "exponential"
		}
		if b.Initial == 0 {
			b.Initial = 25 * time.Millisecond
		}
		if b.Max == 0 {
			b.Max = time.Second
		}
		if b.Multiplier == 0 {
			b.Multiplier = 2
		}

		bu := &r.Retry.Budget
		if bu.Type == "" {
			bu.Type = "token"
		}
		if bu.Capacity == 0 {
			bu.Capacity = budget.DefaultTokenConfig.Capacity
		}
		if bu.DepositRatio == nil {
			bu.DepositRatio = ptr(budget.DefaultTokenConfig.DepositRatio)
		}
		if bu.MinPerSecond == nil {
			bu.MinPerSecond = ptr(budget.DefaultTokenConfig.MinPerSecond)
		}
	}
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

// Validate reports the first configuration error.
func (cfg *AppConfig) Validate() error {
	if len(cfg.Routes) == 0 {
		return errors.New("at least one route is required")
	}

	seen := make(map[string]bool, len(cfg.Routes))
	for _, r := range cfg.Routes {
		if r.Name == "" {
			return errors.New("route name is required")
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate route %q", r.Name)
		}
		seen[r.Name] = true

		if err := r.validate(cfg); err != nil {
			return fmt.Errorf("route %q: %w", r.Name, err)
		}
	}
	return nil
}

func (r RouteConfig) validate(cfg *AppConfig) error {
	if !strings.HasPrefix(r.Prefix, "/") {
		return fmt.Errorf("prefix %q must start with /", r.Prefix)
	}

	switch r.Upstream.Protocol {
	case "http", "grpc":
	default:
		return fmt.Errorf("unknown upstream protocol %q", r.Upstream.Protocol)
	}
	if r.Upstream.Endpoint == "" {
		return errors.New("upstream endpoint is required")
	}

	rc := r.Retry
	if rc.RequestBufferSize < 0 || rc.ResponseBufferSize < 0 {
		return errors.New("buffer sizes must not be negative")
	}
	if rc.Deadline() < 0 {
		return errors.New("classification_timeout must not be negative")
	}

	switch rc.Backoff.Type {
	case "exponential", "constant", "none":
	case "values":
		if len(rc.Backoff.Values) == 0 {
			return errors.New("values backoff requires at least one value")
		}
	default:
		return fmt.Errorf("unknown backoff type %q", rc.Backoff.Type)
	}
	if rc.Backoff.Jitter < 0 || rc.Backoff.Jitter > 1 {
		return fmt.Errorf("backoff jitter %v outside [0, 1]", rc.Backoff.Jitter)
	}
	if rc.Backoff.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}

	switch rc.Budget.Type {
	case "token", "infinite", "empty":
	case "redis":
		if cfg.Redis.URL == "" {
			return errors.New("redis budget requires redis.url")
		}
	default:
		return fmt.Errorf("unknown budget type %q", rc.Budget.Type)
	}
	if t := rc.Budget.Tokens(); t.DepositRatio < 0 || t.MinPerSecond < 0 || t.Capacity < 0 {
		return errors.New("budget values must not be negative")
	}

	if _, err := rc.Classifier.Rules(); err != nil {
		return err
	}
	return nil
}

// Schedule builds the backoff schedule.
func (b BackoffConfig) Schedule() iter.Seq[time.Duration] {
	var seq iter.Seq[time.Duration]
	switch b.Type {
	case "constant":
		seq = backoff.Constant(b.Initial)
	case "values":
		seq = backoff.Values(b.Values...)
	case "none":
		return backoff.None()
	default:
		seq = backoff.Exponential(b.Initial, b.Max, b.Multiplier)
	}

	seq = backoff.Jitter(seq, b.Jitter)
	if b.MaxRetries > 0 {
		seq = backoff.Take(seq, b.MaxRetries)
	}
	return seq
}

// Deadline returns the classification timeout. Zero means no deadline.
func (rc RetryConfig) Deadline() time.Duration {
	return deref(rc.ClassificationTimeout)
}

// Tokens returns the token bucket settings.
func (b BudgetConfig) Tokens() budget.TokenConfig {
	return budget.TokenConfig{
		Capacity:     b.Capacity,
		DepositRatio: deref(b.DepositRatio),
		MinPerSecond: deref(b.MinPerSecond),
	}
}

// Rules builds the classifier rules. With nothing configured, gRPC
// Unavailable / ResourceExhausted, 502-504 and transient connection errors
// are retried.
func (c RulesConfig) Rules() (*classifier.Rules, error) {
	rules := &classifier.Rules{
		Key:                c.Key,
		RetryableValues:    c.RetryableValues,
		NonRetryableValues: c.NonRetryableValues,
		RetryableStatuses:  c.RetryableStatuses,
		RetryableErrors:    make([]string, 0, len(c.RetryableErrors)),
	}
	for _, e := range c.RetryableErrors {
		rules.RetryableErrors = append(rules.RetryableErrors, strings.ToLower(e))
	}
	for _, s := range c.RetryableCodes {
		code, err := classifier.ParseCode(s)
		if err != nil {
			return nil, err
		}
		rules.RetryableCodes = append(rules.RetryableCodes, code)
	}

	if c.Key == "" && len(c.RetryableStatuses) == 0 && len(c.RetryableCodes) == 0 && len(c.RetryableErrors) == 0 {
		rules.RetryableStatuses = []int{502, 503, 504}
		rules.RetryableCodes = append([]codes.Code(nil), classifier.DefaultRetryableCodes...)
		rules.RetryableErrors = classifier.DefaultRetryableErrors
	}
	return rules, nil
}
