package metrics

import (
	"context"
	"time"
)

// Sampler is the count-based view of store/registry state the Collector
// polls. pkg/server's sampler adapter implements it over the store and
// the operation registry, so this package imports neither of them.
type Sampler interface {
	ListItems(ctx context.Context) (itemCount int, err error)
	ListBorrowed(ctx context.Context) (borrowedCount int, err error)
	OperationCounts() (pending, failed int)
}

// Collector periodically samples pool and operation counts into gauges.
type Collector struct {
	sampler Sampler
	stopCh  chan struct{}
}

// NewCollector builds a Collector over sampler.
func NewCollector(sampler Sampler) *Collector {
	return &Collector{sampler: sampler, stopCh: make(chan struct{})}
}

// Start begins the 15-second sampling loop in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if items, err := c.sampler.ListItems(ctx); err == nil {
		PoolItemsTotal.Set(float64(items))
	}
	if borrowed, err := c.sampler.ListBorrowed(ctx); err == nil {
		BorrowedItemsTotal.Set(float64(borrowed))
	}

	pending, failed := c.sampler.OperationCounts()
	OperationsTotal.WithLabelValues("pending").Set(float64(pending))
	OperationsTotal.WithLabelValues("failed").Set(float64(failed))
}
