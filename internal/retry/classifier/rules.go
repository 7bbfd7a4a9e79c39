package classifier

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/streamretry/internal/core/domain"
)

// Metadata keys understood by Rules.
const (
	StatusHeader      = ":status"
	GRPCStatusHeader  = "grpc-status"
	GRPCMessageHeader = "grpc-message"
)

// DefaultRetryableErrors are failure messages treated as transient.
var DefaultRetryableErrors = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"i/o timeout",
	"timeout awaiting response headers",
	"no such host",
}

// DefaultRetryableCodes are gRPC codes that mean the request never did any
// damage upstream and can be sent again.
var DefaultRetryableCodes = []codes.Code{
	codes.Unavailable,
	codes.ResourceExhausted,
}

// Rules is a declarative classifier built from configuration.
type Rules struct {
	// Key is a metadata key whose value carries an explicit verdict, checked
	// in response headers and trailers.
	Key                string
	RetryableValues    []string
	NonRetryableValues []string

	// RetryableStatuses are HTTP statuses (from ":status") retried early.
	RetryableStatuses []int

	// RetryableCodes are gRPC codes retried, whether they arrive as
	// grpc-status metadata or as a status error.
	RetryableCodes []codes.Code

	// RetryableErrors are lower-case substrings of transient failure messages.
	RetryableErrors []string
}

// Classifier returns the adapter backed by these rules.
func (r *Rules) Classifier() Classifier {
	return Classifier{Early: r.Early, Final: r.Final}
}

// Early implements EarlyFunc.
func (r *Rules) Early(_, resp *domain.Message, err error) (domain.ResponseClass, bool) {
	if err != nil {
		return r.ClassifyError(err), true
	}
	if resp == nil {
		return 0, false
	}
	if class, ok := r.verdict(resp.Headers); ok {
		return class, true
	}
	// Trailers-only responses carry their status in the headers.
	if class, ok := r.grpcStatus(resp.Headers); ok {
		return class, true
	}
	if s := resp.Headers.Get(StatusHeader); s != "" {
		if code, err := strconv.Atoi(s); err == nil && slices.Contains(r.RetryableStatuses, code) {
			return domain.RetryableFailure, true
		}
	}
	return 0, false
}

// Final implements FinalFunc.
func (r *Rules) Final(_, _ *domain.Message, trailers domain.Headers, err error) domain.ResponseClass {
	if err != nil {
		return r.ClassifyError(err)
	}
	if class, ok := r.verdict(trailers); ok {
		return class
	}
	if class, ok := r.grpcStatus(trailers); ok {
		return class
	}
	return domain.Success
}

// ClassifyError judges a downstream failure.
func (r *Rules) ClassifyError(err error) domain.ResponseClass {
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		if slices.Contains(r.RetryableCodes, st.Code()) {
			return domain.RetryableFailure
		}
		return domain.NonRetryableFailure
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range r.RetryableErrors {
		if strings.Contains(msg, pattern) {
			return domain.RetryableFailure
		}
	}
	return domain.NonRetryableFailure
}

func (r *Rules) verdict(md domain.Headers) (domain.ResponseClass, bool) {
	if r.Key == "" || md == nil {
		return 0, false
	}
	v, ok := md[strings.ToLower(r.Key)]
	if !ok {
		return 0, false
	}
	switch {
	case slices.Contains(r.RetryableValues, v):
		return domain.RetryableFailure, true
	case slices.Contains(r.NonRetryableValues, v):
		return domain.NonRetryableFailure, true
	}
	return 0, false
}

func (r *Rules) grpcStatus(md domain.Headers) (domain.ResponseClass, bool) {
	s, ok := md[GRPCStatusHeader]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return domain.NonRetryableFailure, true
	}
	code := codes.Code(n)
	switch {
	case code == codes.OK:
		return domain.Success, true
	case slices.Contains(r.RetryableCodes, code):
		return domain.RetryableFailure, true
	default:
		return domain.NonRetryableFailure, true
	}
}

// ParseCode parses a gRPC code by name ("Unavailable", "UNAVAILABLE",
// "resource_exhausted") or number.
func ParseCode(s string) (codes.Code, error) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		if n > uint64(codes.Unauthenticated) {
			return 0, fmt.Errorf("unknown grpc code %d", n)
		}
		return codes.Code(n), nil
	}
	name := strings.ReplaceAll(s, "_", "")
	for c := codes.OK; c <= codes.Unauthenticated; c++ {
		if strings.EqualFold(c.String(), name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown grpc code %q", s)
}
