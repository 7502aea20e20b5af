// Package heatmap derives the rendered heat layer from a horizon-keyed
// dataset and an intensity threshold.
package heatmap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

// Source loads the immutable cell sequence of one horizon.
type Source interface {
	Load(ctx context.Context, h domain.Horizon) ([]domain.HeatCell, error)
}

// LayerSink is the rendering collaborator receiving the heat layer.
type LayerSink interface {
	SetHeat(layer domain.HeatLayer)
}

// SelectBucket returns the cells of horizon h. Cells stamped with any other
// horizon are never returned, even if misfiled under h.
func SelectBucket(datasets domain.Datasets, h domain.Horizon) []domain.HeatCell {
	src := datasets[h]
	out := make([]domain.HeatCell, 0, len(src))
	for _, c := range src {
		if c.Horizon == h {
			out = append(out, c)
		}
	}
	return out
}

// FilterByThreshold returns exactly the cells with intensity >= t, in order.
func FilterByThreshold(cells []domain.HeatCell, t float64) []domain.HeatCell {
	out := make([]domain.HeatCell, 0, len(cells))
	for _, c := range cells {
		if c.Intensity >= t {
			out = append(out, c)
		}
	}
	return out
}

// Pipeline holds the selected horizon and threshold and recomputes the layer
// whenever either changes. It does not depend on identity.
type Pipeline struct {
	source  Source
	sink    LayerSink
	metrics *observability.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	horizon   domain.Horizon
	threshold float64
	layer     domain.HeatLayer
	applied   bool
}

// New creates a pipeline starting at the given horizon and threshold.
// Nothing is rendered until the first Apply.
func New(source Source, sink LayerSink, metrics *observability.Metrics, logger *slog.Logger, horizon domain.Horizon, threshold float64) *Pipeline {
	return &Pipeline{
		source:    source,
		sink:      sink,
		metrics:   metrics,
		logger:    logger,
		horizon:   horizon,
		threshold: threshold,
	}
}

// Settings returns the current horizon and threshold.
func (p *Pipeline) Settings() (domain.Horizon, float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.horizon, p.threshold
}

// Layer returns the last rendered layer.
func (p *Pipeline) Layer() domain.HeatLayer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.layer
}

// Refresh recomputes the layer for the current settings.
func (p *Pipeline) Refresh(ctx context.Context) (domain.HeatLayer, error) {
	h, t := p.Settings()
	return p.Apply(ctx, h, t)
}

// SetHorizon switches horizon, keeping the threshold.
func (p *Pipeline) SetHorizon(ctx context.Context, h domain.Horizon) (domain.HeatLayer, error) {
	_, t := p.Settings()
	return p.Apply(ctx, h, t)
}

// SetThreshold changes the threshold, keeping the horizon.
func (p *Pipeline) SetThreshold(ctx context.Context, t float64) (domain.HeatLayer, error) {
	h, _ := p.Settings()
	return p.Apply(ctx, h, t)
}

// Apply validates the settings, recomputes the layer and pushes it to the
// sink. Invalid input or a failed load leaves the current layer in place.
func (p *Pipeline) Apply(ctx context.Context, h domain.Horizon, t float64) (domain.HeatLayer, error) {
	if _, err := domain.ParseHorizon(string(h)); err != nil {
		return domain.HeatLayer{}, err
	}
	if err := domain.ValidateThreshold(t); err != nil {
		return domain.HeatLayer{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cells, err := p.source.Load(ctx, h)
	if err != nil {
		p.logger.Error("heat dataset load failed", "horizon", h, "error", err)
		return domain.HeatLayer{}, fmt.Errorf("load %s dataset: %w", h, err)
	}

	selected := SelectBucket(domain.Datasets{h: cells}, h)
	layer := domain.HeatLayer{
		Horizon:   h,
		Threshold: t,
		Cells:     FilterByThreshold(selected, t),
	}

	p.horizon, p.threshold = h, t
	p.layer = layer
	p.applied = true
	p.sink.SetHeat(layer)
	p.metrics.HeatCellsRendered.Set(float64(len(layer.Cells)))
	p.logger.Debug("heat layer rendered", "horizon", h, "threshold", t, "cells", len(layer.Cells), "of", len(selected))
	return layer, nil
}

// CheckReadiness reports whether a heat layer has been rendered.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.applied {
		return errors.New("heat layer not rendered yet")
	}
	return nil
}
