// Package transport forwards framed messages to real upstreams over HTTP and
// gRPC.
package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vietddude/streamretry/internal/core/domain"
)

// ChunkSize is the largest Content frame produced from a byte stream.
const ChunkSize = 32 * 1024

// FrameBody reads r into p as Content frames until EOF, then writes the
// terminal frame: a Trailers frame when trailers yields metadata, an empty
// final Content frame otherwise. It returns when r is exhausted, fails, or p
// is discarded.
func FrameBody(ctx context.Context, r io.Reader, p *domain.Pipe, trailers func() domain.Headers) {
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if werr := p.Write(ctx, domain.NewContent(data, false, nil)); werr != nil {
				return
			}
		}
		if errors.Is(err, io.EOF) {
			var md domain.Headers
			if trailers != nil {
				md = trailers()
			}
			if len(md) > 0 {
				_ = p.Write(ctx, domain.NewTrailers(md, nil))
			} else {
				_ = p.Write(ctx, domain.NewContent(nil, true, nil))
			}
			return
		}
		if err != nil {
			p.Fail(err)
			return
		}
	}
}

// WriteBody copies the content of s into w up to the terminal frame and
// returns the trailing metadata, if any. w is closed with the stream error
// on failure.
func WriteBody(ctx context.Context, s domain.Stream, w *io.PipeWriter) domain.Headers {
	for {
		f, err := s.Read(ctx)
		if errors.Is(err, io.EOF) {
			w.Close()
			return nil
		}
		if err != nil {
			s.Discard()
			w.CloseWithError(err)
			return nil
		}

		switch f := f.(type) {
		case *domain.Content:
			var werr error
			if len(f.Data) > 0 {
				_, werr = w.Write(f.Data)
			}
			final := f.Final
			f.Release()
			if werr != nil {
				s.Discard()
				return nil
			}
			if final {
				w.Close()
				return nil
			}
		case *domain.Trailers:
			md := f.Metadata
			f.Release()
			w.Close()
			return md
		}
	}
}

// HeadersFromHTTP lower-cases h into message headers, joining repeated
// values with commas.
func HeadersFromHTTP(h http.Header) domain.Headers {
	out := make(domain.Headers, len(h))
	for k, vs := range h {
		out[strings.ToLower(k)] = strings.Join(vs, ",")
	}
	return out
}
