package heatdata

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

// Source loads the dataset of one horizon.
type Source interface {
	Load(ctx context.Context, h domain.Horizon) ([]domain.HeatCell, error)
}

// CachedSource holds each horizon's dataset after its first successful load.
// A dataset never changes for its horizon and there is one per horizon, so
// nothing is evicted. Concurrent misses on one horizon share a single load.
type CachedSource struct {
	inner   Source
	metrics *observability.Metrics
	loads   singleflight.Group

	mu    sync.RWMutex
	cells map[domain.Horizon][]domain.HeatCell
}

// NewCachedSource creates a cache decorator around a source.
func NewCachedSource(inner Source, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		metrics: metrics,
		cells:   make(map[domain.Horizon][]domain.HeatCell, len(domain.Horizons)),
	}
}

// Load returns a copy of the held dataset, loading it on a miss.
// Failed loads are not held so a fixed file is picked up on retry.
func (c *CachedSource) Load(ctx context.Context, h domain.Horizon) ([]domain.HeatCell, error) {
	c.mu.RLock()
	cells, ok := c.cells[h]
	c.mu.RUnlock()
	if ok {
		c.metrics.HeatCache.WithLabelValues("hit").Inc()
		return slices.Clone(cells), nil
	}
	c.metrics.HeatCache.WithLabelValues("miss").Inc()

	v, err, _ := c.loads.Do(string(h), func() (any, error) {
		c.mu.RLock()
		cells, ok := c.cells[h]
		c.mu.RUnlock()
		if ok {
			return cells, nil
		}
		cells, err := c.inner.Load(ctx, h)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cells[h] = cells
		c.mu.Unlock()
		return cells, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]domain.HeatCell)), nil
}

// Len reports how many horizons are held.
func (c *CachedSource) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cells)
}
