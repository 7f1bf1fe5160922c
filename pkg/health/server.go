// Package health serves poolbroker's liveness, readiness, and metrics
// endpoints on a dedicated listener, separate from the main ingress
// façade (spec §6.1 lists only the domain routes; this one is ambient).
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/poolbroker/pkg/metrics"
)

// Prober is the store's connectivity check, kept as an interface here so
// this package does not import pkg/store directly.
type Prober interface {
	TestConnection(ctx context.Context) error
}

// Server exposes /health, /ready, and /metrics over its own *http.Server.
type Server struct {
	prober Prober
	mux    *http.ServeMux
}

// NewServer wires the three ambient endpoints against prober.
func NewServer(prober Prober) *Server {
	s := &Server{prober: prober, mux: http.NewServeMux()}
	metrics.RegisterComponent("api", true, "serving")
	metrics.RegisterComponent("store", false, "not yet checked")
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/ready", s.readyHandler)
	s.mux.Handle("/metrics", metrics.Handler())
	return s
}

// Handler returns the underlying mux for embedding or direct use.
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs a dedicated HTTP server on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// healthHandler is a liveness probe: always 200 while the process runs.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	metrics.LivenessHandler()(w, r)
}

// readyHandler checks backing-store reachability, records it against the
// shared component registry, then reports readiness from that registry.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := s.prober.TestConnection(ctx); err != nil {
		metrics.UpdateComponent("store", false, err.Error())
	} else {
		metrics.UpdateComponent("store", true, "")
	}

	metrics.ReadyHandler()(w, r)
}
