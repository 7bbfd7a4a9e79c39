// Package proxy exposes retrying routes over HTTP.
package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vietddude/streamretry/internal/core/domain"
	"github.com/vietddude/streamretry/internal/infra/transport"
)

// Route sends requests whose path starts with Prefix to Handler.
type Route struct {
	Name    string
	Prefix  string
	Handler domain.Handler
}

// Handler turns inbound HTTP requests into framed messages, serves them on
// the matching route and streams the response back.
type Handler struct {
	routes []Route
	logger *slog.Logger
}

// NewHandler creates a proxy handler. The longest matching prefix wins.
func NewHandler(routes []Route, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := make([]Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &Handler{routes: sorted, logger: logger}
}

func (h *Handler) match(path string) (Route, bool) {
	for _, r := range h.routes {
		if strings.HasPrefix(path, r.Prefix) {
			return r, true
		}
	}
	return Route{}, false
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := h.match(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	ctx := r.Context()
	logger := h.logger.With("route", route.Name, "path", r.URL.Path)

	headers := transport.HeadersFromHTTP(r.Header)
	headers[":method"] = r.Method
	headers[":path"] = r.URL.RequestURI()
	headers[":authority"] = r.Host

	// The response may start before the client finishes sending.
	rc := http.NewResponseController(w)
	_ = rc.EnableFullDuplex()

	body := domain.NewPipe(4)
	framed := make(chan struct{})
	go func() {
		defer close(framed)
		transport.FrameBody(ctx, r.Body, body, func() domain.Headers {
			if len(r.Trailer) == 0 {
				return nil
			}
			return transport.HeadersFromHTTP(r.Trailer)
		})
	}()
	defer finishBody(rc, body, framed)

	resp, err := route.Handler.Serve(ctx, &domain.Message{Headers: headers, Body: body})
	if err != nil {
		logger.Warn("Upstream failed", "error", err)
		http.Error(w, "upstream failure", http.StatusBadGateway)
		return
	}

	h.writeResponse(w, r, resp, logger)
}

// finishBody stops framing the request body. r.Body must not be read once
// ServeHTTP returns, so a read still blocked on the client is interrupted
// through the connection's read deadline and waited for.
func finishBody(rc *http.ResponseController, body *domain.Pipe, framed <-chan struct{}) {
	body.Discard()
	select {
	case <-framed:
	default:
		_ = rc.SetReadDeadline(time.Now())
		<-framed
	}
	// Frames written while the pipe was being discarded.
	body.Discard()
}

func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, resp *domain.Message, logger *slog.Logger) {
	ctx := r.Context()

	code := http.StatusOK
	if s := resp.Headers.Get(":status"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			code = n
		}
	}
	for k, v := range resp.Headers.Forwarded() {
		w.Header().Set(k, v)
	}
	w.WriteHeader(code)

	flusher, _ := w.(http.Flusher)
	for {
		f, err := resp.Body.Read(ctx)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			resp.Body.Discard()
			logger.Warn("Response stream failed", "error", err)
			// Headers are gone; aborting is the only way to signal truncation.
			panic(http.ErrAbortHandler)
		}

		switch f := f.(type) {
		case *domain.Content:
			_, werr := w.Write(f.Data)
			final := f.Final
			f.Release()
			if werr != nil {
				resp.Body.Discard()
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			if final {
				return
			}
		case *domain.Trailers:
			for k, v := range f.Metadata {
				w.Header().Set(http.TrailerPrefix+k, v)
			}
			f.Release()
			return
		}
	}
}
