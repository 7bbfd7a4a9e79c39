package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/streamretry/internal/core/domain"
)

// HTTPHandler forwards messages to an HTTP upstream.
type HTTPHandler struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPHandler creates a handler for endpoint, e.g. "http://orders:8080".
// A zero timeout leaves exchanges unbounded.
func NewHTTPHandler(endpoint string, timeout time.Duration, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Serve implements domain.Handler. The response status is reported as the
// ":status" header and HTTP trailers become the terminal Trailers frame.
func (h *HTTPHandler) Serve(ctx context.Context, req *domain.Message) (*domain.Message, error) {
	method := req.Headers.Get(":method")
	if method == "" {
		method = http.MethodPost
	}

	pr, pw := io.Pipe()
	httpReq, err := http.NewRequestWithContext(ctx, method, h.endpoint+req.Headers.Get(":path"), pr)
	if err != nil {
		req.Body.Discard()
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range req.Headers.Forwarded() {
		httpReq.Header.Set(k, v)
	}

	go func() {
		if md := WriteBody(ctx, req.Body, pw); len(md) > 0 {
			h.logger.Debug("Dropping request trailers", "count", len(md))
		}
	}()

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("http upstream: %w", err)
	}

	headers := HeadersFromHTTP(resp.Header)
	headers[":status"] = strconv.Itoa(resp.StatusCode)

	body := domain.NewPipe(4)
	go func() {
		defer resp.Body.Close()
		FrameBody(ctx, resp.Body, body, func() domain.Headers {
			if len(resp.Trailer) == 0 {
				return nil
			}
			return HeadersFromHTTP(resp.Trailer)
		})
	}()

	return &domain.Message{Headers: headers, Body: body}, nil
}
