package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Draft is a region parsed from user input, not yet held by the engine.
type Draft struct {
	Name     string
	Geometry orb.Geometry
	Handle   RenderHandle // set when the drawing toolkit already created the layer
}

// ValidateGeometry checks that g is a closed polygon or multi-polygon with
// WGS-84 coordinates.
func ValidateGeometry(g orb.Geometry) error {
	switch geom := g.(type) {
	case orb.Polygon:
		return validatePolygon(geom)
	case orb.MultiPolygon:
		if len(geom) == 0 {
			return &ValidationError{Field: "geometry", Reason: "multipolygon has no polygons"}
		}
		for _, p := range geom {
			if err := validatePolygon(p); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return &ValidationError{Field: "geometry", Reason: "geometry is required"}
	default:
		return &ValidationError{Field: "geometry", Reason: fmt.Sprintf("unsupported geometry type %q", g.GeoJSONType())}
	}
}

func validatePolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return &ValidationError{Field: "geometry", Reason: "polygon has no rings"}
	}
	for _, ring := range p {
		if len(ring) < 4 {
			return &ValidationError{Field: "geometry", Reason: "ring needs at least 4 positions"}
		}
		if !ring.Closed() {
			return &ValidationError{Field: "geometry", Reason: "ring is not closed"}
		}
		for _, pt := range ring {
			if !validLonLat(pt.Lon(), pt.Lat()) {
				return &ValidationError{Field: "geometry", Reason: fmt.Sprintf("position %v out of range", [2]float64(pt))}
			}
		}
	}
	return nil
}

func validLonLat(lon, lat float64) bool {
	if math.IsNaN(lon) || math.IsNaN(lat) {
		return false
	}
	return lon >= -180 && lon <= 180 && lat >= -90 && lat <= 90
}

// EncodeGeometry serializes g as a GeoJSON Feature, the wire form used by the
// region store.
func EncodeGeometry(g orb.Geometry) (json.RawMessage, error) {
	data, err := json.Marshal(geojson.NewFeature(g))
	if err != nil {
		return nil, fmt.Errorf("encode geometry: %w", err)
	}
	return data, nil
}

// DecodeGeometry reads a stored region geometry. It accepts a Feature, a bare
// Geometry, or a JSON string wrapping either.
func DecodeGeometry(data []byte) (orb.Geometry, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, &ParseError{Source: "geojson", Err: err}
		}
		data = []byte(inner)
	}

	typ, err := geojsonType(data)
	if err != nil {
		return nil, err
	}

	var g orb.Geometry
	switch typ {
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, &ParseError{Source: "geojson", Err: err}
		}
		g = f.Geometry
	case "FeatureCollection":
		return nil, &ParseError{Source: "geojson", Err: errors.New("expected a single feature, got a collection")}
	default:
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, &ParseError{Source: "geojson", Err: err}
		}
		g = geom.Geometry()
	}

	if err := ValidateGeometry(g); err != nil {
		return nil, &ParseError{Source: "geojson", Err: err}
	}
	return g, nil
}

// ParseUpload parses a user-selected GeoJSON document into region drafts.
// FeatureCollections, Features and bare Geometries are accepted. Any malformed
// or non-polygonal content rejects the whole document.
func ParseUpload(text string) ([]Draft, error) {
	data := []byte(strings.TrimSpace(text))
	if len(data) == 0 {
		return nil, &ParseError{Source: "upload", Err: errors.New("document is empty")}
	}

	typ, err := geojsonType(data)
	if err != nil {
		return nil, err
	}

	var features []*geojson.Feature
	switch typ {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, &ParseError{Source: "upload", Err: err}
		}
		features = fc.Features
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, &ParseError{Source: "upload", Err: err}
		}
		features = []*geojson.Feature{f}
	default:
		geom, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, &ParseError{Source: "upload", Err: err}
		}
		features = []*geojson.Feature{geojson.NewFeature(geom.Geometry())}
	}

	if len(features) == 0 {
		return nil, &ParseError{Source: "upload", Err: errors.New("document has no features")}
	}

	drafts := make([]Draft, 0, len(features))
	for i, f := range features {
		if err := ValidateGeometry(f.Geometry); err != nil {
			return nil, &ParseError{Source: fmt.Sprintf("upload feature %d", i), Err: err}
		}
		name := strings.TrimSpace(f.Properties.MustString("name", ""))
		if name == "" {
			name = fmt.Sprintf("Uploaded region %d", i+1)
		}
		drafts = append(drafts, Draft{Name: name, Geometry: f.Geometry})
	}
	return drafts, nil
}

func geojsonType(data []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return "", &ParseError{Source: "geojson", Err: err}
	}
	if head.Type == "" {
		return "", &ParseError{Source: "geojson", Err: errors.New("missing type member")}
	}
	return head.Type, nil
}
