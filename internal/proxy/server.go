package proxy

import (
	"context"
	"net/http"
	"time"
)

// Server serves a proxy Handler.
type Server struct {
	server *http.Server
}

// NewServer creates a server on addr. Write timeouts stay unset: responses
// stream for as long as the upstream does.
func NewServer(addr string, h *Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server, waiting for in-flight calls until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
