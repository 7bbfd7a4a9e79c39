package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/streamretry/internal/core/domain"
)

func requestBody(chunks ...string) domain.Stream {
	frames := make([]domain.Frame, 0, len(chunks))
	for i, c := range chunks {
		frames = append(frames, domain.NewContent([]byte(c), i == len(chunks)-1, nil))
	}
	return domain.FromFrames(frames...)
}

func TestHTTPHandler_Serve(t *testing.T) {
	var gotMethod, gotPath, gotID, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotID = r.Method, r.URL.Path, r.Header.Get("X-Id")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		w.Header().Set("Trailer", "X-Attempt")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(strings.ToUpper(gotBody)))
		w.Header().Set("X-Attempt", "1")
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.URL, 5*time.Second, nil)
	resp, err := h.Serve(context.Background(), &domain.Message{
		Headers: domain.Headers{":method": "PUT", ":path": "/echo", "x-id": "7", "connection": "close"},
		Body:    requestBody("hel", "lo"),
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}

	if resp.Headers[":status"] != "202" {
		t.Errorf("Expected :status 202, got %q", resp.Headers[":status"])
	}
	if resp.Headers["content-type"] != "text/plain" {
		t.Errorf("Expected lower-cased content-type header, got %v", resp.Headers)
	}

	body, md, err := domain.ReadAll(context.Background(), resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "HELLO" {
		t.Errorf("Expected body HELLO, got %q", body)
	}
	if md["x-attempt"] != "1" {
		t.Errorf("Expected trailer x-attempt=1, got %v", md)
	}

	if gotMethod != "PUT" || gotPath != "/echo" || gotID != "7" || gotBody != "hello" {
		t.Errorf("Upstream saw %s %s id=%q body=%q", gotMethod, gotPath, gotID, gotBody)
	}
}

func TestHTTPHandler_NoTrailersEndsWithFinalContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := NewHTTPHandler(srv.URL, 5*time.Second, nil)
	resp, err := h.Serve(context.Background(), &domain.Message{
		Headers: domain.Headers{":path": "/"},
		Body:    requestBody(""),
	})
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}

	var last domain.Frame
	for {
		f, err := resp.Body.Read(context.Background())
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		last = f
		f.Release()
	}
	if c, ok := last.(*domain.Content); !ok || !c.Final {
		t.Errorf("Expected a final Content frame, got %#v", last)
	}
}

func TestHTTPHandler_UpstreamDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	h := NewHTTPHandler(url, time.Second, nil)
	_, err := h.Serve(context.Background(), &domain.Message{
		Headers: domain.Headers{":path": "/"},
		Body:    requestBody("hello"),
	})
	if err == nil {
		t.Fatal("Expected an error for an unreachable upstream")
	}
	if !strings.Contains(err.Error(), "http upstream") {
		t.Errorf("Expected wrapped upstream error, got %v", err)
	}
}
