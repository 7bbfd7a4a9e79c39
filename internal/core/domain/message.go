package domain

import (
	"context"
	"iter"
	"strings"
)

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = map[string]bool{
	"connection":        true,
	"content-length":    true,
	"host":              true,
	"keep-alive":        true,
	"proxy-connection":  true,
	"te":                true,
	"trailer":           true,
	"transfer-encoding": true,
	"upgrade":           true,
}

// Headers maps lower-cased metadata keys to values. Pseudo headers such as
// ":path" and ":status" carry protocol fields.
type Headers map[string]string

// Get returns the value for key, matching case-insensitively.
func (h Headers) Get(key string) string {
	if v, ok := h[key]; ok {
		return v
	}
	return h[strings.ToLower(key)]
}

// Clone returns a shallow copy of h.
func (h Headers) Clone() Headers {
	if h == nil {
		return nil
	}
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Forwarded yields the end-to-end headers: pseudo headers and hop-by-hop
// headers are skipped.
func (h Headers) Forwarded() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for k, v := range h {
			if strings.HasPrefix(k, ":") || hopHeaders[k] {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

// Message is a request or a response: headers plus a framed body.
type Message struct {
	Headers Headers
	Body    Stream
}

// Handler serves a request and returns the response as soon as its headers
// are known; the body keeps streaming after Serve returns.
type Handler interface {
	Serve(ctx context.Context, req *Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Message) (*Message, error)

// Serve implements Handler.
func (f HandlerFunc) Serve(ctx context.Context, req *Message) (*Message, error) {
	return f(ctx, req)
}

// ResponseClass is the verdict of a classifier on one exchange.
type ResponseClass int

const (
	Success ResponseClass = iota
	RetryableFailure
	NonRetryableFailure
)

func (c ResponseClass) String() string {
	switch c {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable_failure"
	case NonRetryableFailure:
		return "non_retryable_failure"
	default:
		return "unknown"
	}
}
