package server

import (
	"context"

	"github.com/cuemby/poolbroker/pkg/metrics"
)

var _ metrics.Sampler = sampler{}

// sampler adapts the Server's store and operation registry to
// metrics.Sampler's count-based shape.
type sampler struct {
	s *Server
}

// Sampler returns a metrics.Sampler backed by this server's store and
// registry, for wiring into a metrics.Collector at startup.
func (s *Server) Sampler() sampler {
	return sampler{s: s}
}

func (sm sampler) ListItems(ctx context.Context) (int, error) {
	items, err := sm.s.store.ListItems(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (sm sampler) ListBorrowed(ctx context.Context) (int, error) {
	borrowed, err := sm.s.store.ListBorrowed(ctx)
	if err != nil {
		return 0, err
	}
	return len(borrowed), nil
}

func (sm sampler) OperationCounts() (pending, failed int) {
	return sm.s.ops.Counts()
}
