package proxy

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AdminServer provides HTTP endpoints for health and metrics.
type AdminServer struct {
	routes []string
	server *http.Server
}

// NewAdminServer creates an admin server on addr serving metrics from
// gatherer.
func NewAdminServer(addr string, gatherer prometheus.Gatherer, routes []string) *AdminServer {
	mux := http.NewServeMux()
	s := &AdminServer{
		routes: routes,
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return s
}

// Handler returns the admin mux.
func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *AdminServer) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *AdminServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status": "ok",
		"routes": s.routes,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}
