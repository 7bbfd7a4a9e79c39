// Package classifier decides whether an exchange may be retried.
package classifier

import (
	"github.com/vietddude/streamretry/internal/core/domain"
)

// EarlyFunc judges an exchange from the response headers or the downstream
// failure alone. It returns false when it cannot decide yet. resp is nil
// when err is set.
type EarlyFunc func(req, resp *domain.Message, err error) (domain.ResponseClass, bool)

// FinalFunc judges an exchange once the response body reached its terminal
// frame, or failed. trailers is nil when the body ended with a final content
// frame.
type FinalFunc func(req, resp *domain.Message, trailers domain.Headers, err error) domain.ResponseClass

// Classifier pairs the two judgments.
type Classifier struct {
	Early EarlyFunc
	Final FinalFunc
}

// TryEarly returns the early class, if there is one. Early answers are
// authoritative: when it returns true the final judgment is not consulted.
func (c Classifier) TryEarly(req, resp *domain.Message, err error) (domain.ResponseClass, bool) {
	if c.Early == nil {
		return 0, false
	}
	return c.Early(req, resp, err)
}

// Classify returns the final class. Without a Final function, failures are
// non-retryable and everything else succeeds.
func (c Classifier) Classify(req, resp *domain.Message, trailers domain.Headers, err error) domain.ResponseClass {
	if c.Final != nil {
		return c.Final(req, resp, trailers, err)
	}
	if err != nil {
		return domain.NonRetryableFailure
	}
	return domain.Success
}

// Valid reports whether at least one judgment is set.
func (c Classifier) Valid() bool {
	return c.Early != nil || c.Final != nil
}
