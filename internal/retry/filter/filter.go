// Package filter implements the retry filter: a domain.Handler that captures
// the request body, classifies each downstream outcome and transparently
// re-issues the call while the budget, the backoff schedule and the buffer
// limits allow it.
package filter

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/streamretry/internal/core/domain"
	"github.com/vietddude/streamretry/internal/retry/backoff"
	"github.com/vietddude/streamretry/internal/retry/budget"
	"github.com/vietddude/streamretry/internal/retry/classifier"
	"github.com/vietddude/streamretry/internal/retry/stats"
)

// DefaultBufferSize is used for request and response buffers left at zero.
const DefaultBufferSize = 64 * 1024

// ErrNoClassifier is returned by New when the classifier is empty.
var ErrNoClassifier = errors.New("retry filter requires a classifier")

// Config holds retry filter configuration for one route.
type Config struct {
	Route string

	// RequestBufferSize caps the request bytes kept for replay.
	RequestBufferSize int
	// ResponseBufferSize caps the response bytes buffered for classification.
	ResponseBufferSize int
	// ClassificationTimeout bounds the wait for a late classification.
	// Zero means no deadline.
	ClassificationTimeout time.Duration

	// Backoff yields the delay before each retry. Retrying stops when it ends.
	Backoff iter.Seq[time.Duration]
	Budget  budget.Budget

	Classifier classifier.Classifier
	Stats      stats.Recorder
	Logger     *slog.Logger
}

// Filter is a retrying domain.Handler.
type Filter struct {
	cfg  Config
	next domain.Handler
}

// New wraps next with retries.
func New(next domain.Handler, cfg Config) (*Filter, error) {
	if !cfg.Classifier.Valid() {
		return nil, ErrNoClassifier
	}
	if cfg.RequestBufferSize < 0 || cfg.ResponseBufferSize < 0 {
		return nil, fmt.Errorf("buffer sizes must not be negative")
	}

	// Set defaults if necessary
	if cfg.RequestBufferSize == 0 {
		cfg.RequestBufferSize = DefaultBufferSize
	}
	if cfg.ResponseBufferSize == 0 {
		cfg.ResponseBufferSize = DefaultBufferSize
	}
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.Constant(0)
	}
	if cfg.Budget == nil {
		cfg.Budget = budget.NewTokenBudget(budget.DefaultTokenConfig)
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Filter{cfg: cfg, next: next}, nil
}

// Serve implements domain.Handler. The caller sees either the delivered
// response or the last downstream failure; retry bookkeeping never surfaces
// as an error of its own.
func (f *Filter) Serve(ctx context.Context, req *domain.Message) (*domain.Message, error) {
	c := f.newCall(req)
	defer c.close()

	resp, err := c.run(ctx)
	f.cfg.Stats.RetriesPerRequest(c.retries)
	return resp, err
}

func (f *Filter) newCall(req *domain.Message) *call {
	body := req.Body
	if body == nil {
		body = domain.FromFrames(domain.NewContent(nil, true, nil))
	}

	c := &call{
		f:   f,
		req: req,
		logger: f.cfg.Logger.With(
			"route", f.cfg.Route,
			"call_id", uuid.NewString(),
		),
	}
	c.reqBuf = newRequestBuffer(body, f.cfg.RequestBufferSize)
	c.nextDelay, c.stopDelays = iter.Pull(f.cfg.Backoff)
	return c
}
