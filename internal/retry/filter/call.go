package filter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/streamretry/internal/core/domain"
	"github.com/vietddude/streamretry/internal/retry/replay"
)

// call is the state of one logical call. It advances strictly sequentially:
// never two attempts in flight at once.
type call struct {
	f      *Filter
	req    *domain.Message
	reqBuf *replay.Buffer
	logger *slog.Logger

	nextDelay  func() (time.Duration, bool)
	stopDelays func()

	retries  int
	disabled bool

	requestTooLong  bool
	responseTooLong bool
	timedOut        bool
}

// attempt is one downstream invocation.
type attempt struct {
	index int
	req   *domain.Message
}

// outcome is a classified (or pass-through) attempt result.
type outcome struct {
	resp       *domain.Message
	err        error
	class      domain.ResponseClass
	classified bool
	// buf holds the buffered response body, when one was buffered.
	buf *replay.Buffer
}

func newRequestBuffer(body domain.Stream, size int) *replay.Buffer {
	return replay.New(body, size, nil)
}

func (c *call) close() {
	c.stopDelays()
}

func (c *call) run(ctx context.Context) (*domain.Message, error) {
	a := attempt{
		index: 0,
		req:   &domain.Message{Headers: c.req.Headers, Body: c.reqBuf.Live()},
	}

	for {
		resp, err := c.f.next.Serve(ctx, a.req)
		out, err := c.await(ctx, a.req, resp, err)
		if err != nil {
			c.discard(a, outcome{})
			c.reqBuf.Discard()
			return nil, err
		}

		if out.classified && out.class == domain.RetryableFailure {
			delay, ok, err := c.prepareRetry(ctx)
			if err != nil {
				c.discard(a, out)
				c.reqBuf.Discard()
				return nil, err
			}
			if ok {
				c.discard(a, out)
				c.retries++
				c.f.cfg.Stats.Retry()
				c.logger.Debug("Retrying request",
					"attempt", a.index+1,
					"delay", delay,
					"error", out.err,
				)

				if err := sleep(ctx, delay); err != nil {
					c.reqBuf.Discard()
					return nil, err
				}

				body, err := c.reqBuf.Snapshot()
				if err != nil {
					// prepareRetry checked replayability; this is unreachable.
					c.logger.Error("Request snapshot failed", "error", err)
					c.reqBuf.Discard()
					return nil, err
				}
				a = attempt{
					index: a.index + 1,
					req:   &domain.Message{Headers: c.req.Headers, Body: body},
				}
				continue
			}
		}

		return c.deliver(a, out)
	}
}

// await classifies the attempt's outcome. It returns an error only when ctx
// ended; every other condition is folded into the outcome.
func (c *call) await(ctx context.Context, req, resp *domain.Message, err error) (outcome, error) {
	cls := c.f.cfg.Classifier

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{}, ctxErr
		}
		class, ok := cls.TryEarly(req, nil, err)
		if !ok {
			class = cls.Classify(req, nil, nil, err)
		}
		return outcome{err: err, class: class, classified: true}, nil
	}

	if class, ok := cls.TryEarly(req, resp, nil); ok {
		return outcome{resp: resp, class: class, classified: true}, nil
	}
	if resp.Body == nil {
		return outcome{resp: resp, class: cls.Classify(req, resp, nil, nil), classified: true}, nil
	}

	buf := replay.New(resp.Body, c.f.cfg.ResponseBufferSize, c.onResponseOverflow)
	fillCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.f.cfg.ClassificationTimeout > 0 {
		fillCtx, cancel = context.WithTimeout(ctx, c.f.cfg.ClassificationTimeout)
	}
	ferr := buf.Fill(fillCtx)
	deadline := errors.Is(fillCtx.Err(), context.DeadlineExceeded)
	cancel()

	delivered := &domain.Message{Headers: resp.Headers, Body: buf}
	switch {
	case ferr == nil && buf.Overflowed():
		c.disabled = true
		c.logger.Debug("Response exceeded buffer, passing through",
			"limit", c.f.cfg.ResponseBufferSize,
		)
		return outcome{resp: delivered, buf: buf}, nil

	case ferr == nil:
		trailers, _ := buf.Trailers()
		class := cls.Classify(req, resp, trailers, nil)
		return outcome{resp: delivered, class: class, classified: true, buf: buf}, nil

	case ctx.Err() != nil:
		buf.Discard()
		return outcome{}, ctx.Err()

	case deadline:
		c.disabled = true
		if !c.timedOut {
			c.timedOut = true
			c.f.cfg.Stats.ClassificationTimeout()
		}
		c.logger.Debug("Classification timed out, passing through",
			"timeout", c.f.cfg.ClassificationTimeout,
		)
		return outcome{resp: delivered, buf: buf}, nil

	default:
		// The body failed before its terminal frame.
		class := cls.Classify(req, resp, nil, ferr)
		return outcome{resp: delivered, err: ferr, class: class, classified: true, buf: buf}, nil
	}
}

// onResponseOverflow runs under the response buffer's lock.
func (c *call) onResponseOverflow() {
	if c.responseTooLong {
		return
	}
	c.responseTooLong = true
	c.f.cfg.Stats.ResponseStreamTooLong()
}

// prepareRetry checks every precondition of a retry, in order: retrying not
// disabled, request replayable, a backoff delay left, a budget token.
func (c *call) prepareRetry(ctx context.Context) (time.Duration, bool, error) {
	if c.disabled {
		return 0, false, nil
	}

	if err := c.captureRequest(ctx); err != nil {
		return 0, false, err
	}
	if c.reqBuf.Overflowed() {
		c.disabled = true
		if !c.requestTooLong {
			c.requestTooLong = true
			c.f.cfg.Stats.RequestStreamTooLong()
		}
		c.logger.Debug("Request exceeded buffer, not retrying",
			"limit", c.f.cfg.RequestBufferSize,
		)
		return 0, false, nil
	}
	if !c.reqBuf.Complete() {
		return 0, false, nil
	}

	delay, ok := c.nextDelay()
	if !ok {
		c.logger.Debug("Backoff schedule exhausted", "retries", c.retries)
		return 0, false, nil
	}
	if !c.f.cfg.Budget.TryWithdraw() {
		c.logger.Debug("Retry budget exhausted", "retries", c.retries)
		return 0, false, nil
	}
	return delay, true, nil
}

// captureRequest reads the rest of the request into its buffer so it can be
// replayed. Frames read here stay queued for the attempt that is still
// reading the request live. A request source failure is not an error: the
// request is simply not replayable.
func (c *call) captureRequest(ctx context.Context) error {
	if c.reqBuf.Complete() || c.reqBuf.Overflowed() {
		return nil
	}

	fillCtx, cancel := ctx, context.CancelFunc(func() {})
	if c.f.cfg.ClassificationTimeout > 0 {
		fillCtx, cancel = context.WithTimeout(ctx, c.f.cfg.ClassificationTimeout)
	}
	defer cancel()

	if err := c.reqBuf.Fill(fillCtx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Debug("Request capture incomplete", "error", err)
	}
	return nil
}

// discard releases a rejected attempt: its response frames and its view of
// the request. The request buffer itself survives for the next attempt.
func (c *call) discard(a attempt, out outcome) {
	if out.resp != nil && out.resp.Body != nil {
		out.resp.Body.Discard()
	}
	a.req.Body.Discard()
}

func (c *call) deliver(a attempt, out outcome) (*domain.Message, error) {
	// Retrying is over: keep streaming the request but stop retaining it.
	// A failed downstream no longer reads its request at all.
	if out.err != nil && out.resp == nil {
		a.req.Body.Discard()
		c.reqBuf.Discard()
	} else {
		c.reqBuf.Release()
	}
	if out.buf != nil {
		out.buf.Release()
	}

	if out.classified && out.class == domain.Success {
		c.f.cfg.Budget.Deposit()
	}

	c.logger.Debug("Delivering response",
		"retries", c.retries,
		"classified", out.classified,
		"class", out.class.String(),
	)

	if out.resp == nil {
		return nil, out.err
	}
	return out.resp, nil
}

// sleep waits d on a cancellable timer.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
