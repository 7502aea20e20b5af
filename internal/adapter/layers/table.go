// Package layers is the in-memory rendering collaborator. It owns render
// handles and the drawable state of region, heat and marker layers. Region
// identity is never stored on a layer; callers keep their own handle mapping.
package layers

import (
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

// Assets configures marker icons and region styling.
type Assets struct {
	MarkerIconURL   string
	MarkerShadowURL string
	RegionColor     string
}

// DefaultAssets serves marker images from baseURL.
func DefaultAssets(baseURL string) Assets {
	return Assets{
		MarkerIconURL:   baseURL + "/marker-icon.png",
		MarkerShadowURL: baseURL + "/marker-shadow.png",
		RegionColor:     "#ff7800",
	}
}

// RegionLayer is a drawn polygon. Key and Status are what the engine last
// reported for the region drawn at Handle.
type RegionLayer struct {
	Handle   domain.RenderHandle
	Key      domain.RegionKey
	Status   domain.RegionStatus
	Name     string
	Geometry orb.Geometry
	seq      uint64
}

// Marker is one risk point pin.
type Marker struct {
	Point     domain.RiskPoint `json:"point"`
	IconURL   string           `json:"iconUrl"`
	ShadowURL string           `json:"shadowUrl"`
}

// Table holds every layer currently on the map.
type Table struct {
	assets Assets

	mu      sync.RWMutex
	regions map[domain.RenderHandle]RegionLayer
	seq     uint64
	heat    domain.HeatLayer
	markers []Marker
}

// NewTable creates an empty layer table.
func NewTable(assets Assets) *Table {
	return &Table{
		assets:  assets,
		regions: make(map[domain.RenderHandle]RegionLayer),
	}
}

// AddRegion draws r. When handle is empty a fresh one is allocated; otherwise
// the layer is stored under handle, replacing any layer already there.
func (t *Table) AddRegion(r domain.Region, handle domain.RenderHandle) domain.RenderHandle {
	if handle == "" {
		handle = domain.RenderHandle(uuid.NewString())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	t.regions[handle] = RegionLayer{
		Handle:   handle,
		Key:      r.Key,
		Status:   r.Status,
		Name:     r.Name,
		Geometry: cloneGeometry(r.Geometry),
		seq:      t.seq,
	}
	return handle
}

// UpdateRegion redraws the layer at handle. Unknown handles are ignored.
func (t *Table) UpdateRegion(handle domain.RenderHandle, r domain.Region) {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.regions[handle]
	if !ok {
		return
	}
	l.Key = r.Key
	l.Status = r.Status
	l.Name = r.Name
	l.Geometry = cloneGeometry(r.Geometry)
	t.regions[handle] = l
}

// RemoveRegion erases the layer at handle.
func (t *Table) RemoveRegion(handle domain.RenderHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.regions, handle)
}

// Regions returns region layers in drawing order.
func (t *Table) Regions() []RegionLayer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]RegionLayer, 0, len(t.regions))
	for _, l := range t.regions {
		l.Geometry = cloneGeometry(l.Geometry)
		out = append(out, l)
	}
	slices.SortFunc(out, func(a, b RegionLayer) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// FeatureCollection renders region layers as GeoJSON for the UI.
func (t *Table) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, l := range t.Regions() {
		f := geojson.NewFeature(l.Geometry)
		f.Properties["handle"] = string(l.Handle)
		f.Properties["key"] = string(l.Key)
		f.Properties["status"] = string(l.Status)
		f.Properties["name"] = l.Name
		f.Properties["color"] = t.assets.RegionColor
		fc.Append(f)
	}
	return fc
}

// SetHeat replaces the heat overlay.
func (t *Table) SetHeat(layer domain.HeatLayer) {
	layer.Cells = slices.Clone(layer.Cells)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.heat = layer
}

// Heat returns the displayed heat overlay.
func (t *Table) Heat() domain.HeatLayer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h := t.heat
	h.Cells = slices.Clone(h.Cells)
	return h
}

// SetMarkers replaces all risk markers.
func (t *Table) SetMarkers(points []domain.RiskPoint) {
	markers := make([]Marker, len(points))
	for i, p := range points {
		markers[i] = Marker{Point: p, IconURL: t.assets.MarkerIconURL, ShadowURL: t.assets.MarkerShadowURL}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.markers = markers
}

// Markers returns the displayed risk markers.
func (t *Table) Markers() []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.markers)
}

func cloneGeometry(g orb.Geometry) orb.Geometry {
	if g == nil {
		return nil
	}
	return orb.Clone(g)
}
