package heatmap_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/heatmap"
	"github.com/couchcryptid/firewatch-sync/internal/observability"
)

// --- mocks ---

type mapSource struct {
	datasets domain.Datasets
	err      error
	calls    int
}

func (m *mapSource) Load(_ context.Context, h domain.Horizon) ([]domain.HeatCell, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.datasets[h], nil
}

type recordingSink struct {
	layers []domain.HeatLayer
}

func (r *recordingSink) SetHeat(layer domain.HeatLayer) {
	r.layers = append(r.layers, layer)
}

func cells(h domain.Horizon, intensities ...float64) []domain.HeatCell {
	out := make([]domain.HeatCell, len(intensities))
	for i, v := range intensities {
		out[i] = domain.HeatCell{Latitude: 34 + float64(i), Longitude: -118, Intensity: v, Horizon: h}
	}
	return out
}

func intensities(cs []domain.HeatCell) []float64 {
	out := make([]float64, len(cs))
	for i, c := range cs {
		out[i] = c.Intensity
	}
	return out
}

func newPipeline(src heatmap.Source, sink heatmap.LayerSink) (*heatmap.Pipeline, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	p := heatmap.New(src, sink, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)), domain.Horizon6h, 0.5)
	return p, metrics
}

// --- pure transforms ---

func TestFilterByThreshold_Scenario(t *testing.T) {
	six := cells(domain.Horizon6h, 0.6, 0.4, 0.7)

	got := heatmap.FilterByThreshold(six, 0.5)
	assert.Equal(t, []float64{0.6, 0.7}, intensities(got))

	got = heatmap.FilterByThreshold(six, 0.65)
	assert.Equal(t, []float64{0.7}, intensities(got))
}

func TestFilterByThreshold_InclusiveBounds(t *testing.T) {
	cs := cells(domain.Horizon6h, 0, 0.5, 1)
	assert.Len(t, heatmap.FilterByThreshold(cs, 0), 3)
	assert.Equal(t, []float64{0.5, 1}, intensities(heatmap.FilterByThreshold(cs, 0.5)))
	assert.Equal(t, []float64{1}, intensities(heatmap.FilterByThreshold(cs, 1)))
	assert.Empty(t, heatmap.FilterByThreshold(nil, 0.2))
}

func TestFilterByThreshold_MonotonicNarrowing(t *testing.T) {
	cs := cells(domain.Horizon12h, 0.05, 0.9, 0.33, 0.5, 0.51, 0.77, 0.2, 1, 0)
	thresholds := []float64{0, 0.1, 0.25, 0.33, 0.5, 0.51, 0.75, 0.9, 1}

	for i := 0; i < len(thresholds); i++ {
		for j := i + 1; j < len(thresholds); j++ {
			wide := heatmap.FilterByThreshold(cs, thresholds[i])
			narrow := heatmap.FilterByThreshold(cs, thresholds[j])
			for _, c := range narrow {
				assert.Contains(t, wide, c, "t1=%v t2=%v", thresholds[i], thresholds[j])
			}
		}
	}
}

func TestSelectBucket_HorizonIsolation(t *testing.T) {
	datasets := domain.Datasets{
		domain.Horizon6h:  cells(domain.Horizon6h, 0.6, 0.4),
		domain.Horizon12h: append(cells(domain.Horizon12h, 0.8), cells(domain.Horizon24h, 0.99)...),
		domain.Horizon24h: cells(domain.Horizon24h, 0.1),
	}

	for _, h := range domain.Horizons {
		for _, c := range heatmap.SelectBucket(datasets, h) {
			assert.Equal(t, h, c.Horizon)
		}
	}
	assert.Equal(t, []float64{0.8}, intensities(heatmap.SelectBucket(datasets, domain.Horizon12h)))
	assert.Empty(t, heatmap.SelectBucket(datasets, domain.Horizon("48h")))
}

// --- Pipeline ---

func TestPipeline_ApplyAndRecompute(t *testing.T) {
	src := &mapSource{datasets: domain.Datasets{
		domain.Horizon6h:  cells(domain.Horizon6h, 0.6, 0.4, 0.7),
		domain.Horizon24h: cells(domain.Horizon24h, 0.2, 0.9),
	}}
	sink := &recordingSink{}
	p, metrics := newPipeline(src, sink)
	ctx := context.Background()

	require.Error(t, p.CheckReadiness(ctx))

	layer, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.6, 0.7}, intensities(layer.Cells))
	assert.InDelta(t, 2, testutil.ToFloat64(metrics.HeatCellsRendered), 0)
	require.NoError(t, p.CheckReadiness(ctx))

	layer, err = p.SetThreshold(ctx, 0.65)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.7}, intensities(layer.Cells))

	layer, err = p.SetHorizon(ctx, domain.Horizon24h)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9}, intensities(layer.Cells))
	for _, c := range layer.Cells {
		assert.Equal(t, domain.Horizon24h, c.Horizon)
	}

	h, th := p.Settings()
	assert.Equal(t, domain.Horizon24h, h)
	assert.InDelta(t, 0.65, th, 0)

	require.Len(t, sink.layers, 3)
	if diff := cmp.Diff(layer, sink.layers[2]); diff != "" {
		t.Errorf("sink layer mismatch (-want +got):\n%s", diff)
	}
}

func TestPipeline_InvalidInputKeepsLayer(t *testing.T) {
	src := &mapSource{datasets: domain.Datasets{domain.Horizon6h: cells(domain.Horizon6h, 0.6)}}
	sink := &recordingSink{}
	p, _ := newPipeline(src, sink)
	ctx := context.Background()

	before, err := p.Refresh(ctx)
	require.NoError(t, err)

	_, err = p.SetThreshold(ctx, 1.2)
	assert.Equal(t, "validation", domain.ErrorKind(err))
	_, err = p.SetHorizon(ctx, "3d")
	assert.Equal(t, "validation", domain.ErrorKind(err))

	assert.Equal(t, before, p.Layer())
	assert.Len(t, sink.layers, 1)
	assert.Equal(t, 1, src.calls)
}

func TestPipeline_LoadFailureKeepsLayer(t *testing.T) {
	src := &mapSource{datasets: domain.Datasets{domain.Horizon6h: cells(domain.Horizon6h, 0.6)}}
	sink := &recordingSink{}
	p, _ := newPipeline(src, sink)
	ctx := context.Background()

	before, err := p.Refresh(ctx)
	require.NoError(t, err)

	src.err = errors.New("disk gone")
	_, err = p.SetHorizon(ctx, domain.Horizon12h)
	require.Error(t, err)

	assert.Equal(t, before, p.Layer())
	h, _ := p.Settings()
	assert.Equal(t, domain.Horizon6h, h)
}
