package main

import (
	"context"
	"net/http"
	"time"

	"github.com/cuemby/poolbroker/pkg/server"
)

// runHTTPServer runs the ingress façade until ctx is cancelled, then
// drains in-flight requests with a bounded grace period.
func runHTTPServer(ctx context.Context, addr string, srv *server.Server) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
