package heatdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

// FileSource loads horizon datasets from <dir>/<horizon>.json. Each file is a
// JSON array of [latitude, longitude, intensity] triples.
type FileSource struct {
	dir    string
	logger *slog.Logger
}

// NewFileSource creates a source reading from dir.
func NewFileSource(dir string, logger *slog.Logger) *FileSource {
	return &FileSource{dir: dir, logger: logger}
}

// Path returns the file backing horizon h.
func (s *FileSource) Path(h domain.Horizon) string {
	return filepath.Join(s.dir, string(h)+".json")
}

// Load reads and validates the dataset for h. Every returned cell is stamped
// with h.
func (s *FileSource) Load(ctx context.Context, h domain.Horizon) ([]domain.HeatCell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := domain.ParseHorizon(string(h)); err != nil {
		return nil, err
	}

	path := s.Path(h)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read heat dataset %s: %w", path, err)
	}
	cells, err := Decode(data, h)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("heat dataset loaded", "horizon", h, "path", path, "cells", len(cells))
	return cells, nil
}

// Decode parses a dataset document for horizon h.
func Decode(data []byte, h domain.Horizon) ([]domain.HeatCell, error) {
	source := "heat dataset " + string(h)

	var triples [][]float64
	if err := json.Unmarshal(data, &triples); err != nil {
		return nil, &domain.ParseError{Source: source, Err: err}
	}

	cells := make([]domain.HeatCell, 0, len(triples))
	for i, t := range triples {
		if len(t) != 3 {
			return nil, &domain.ParseError{Source: source, Err: fmt.Errorf("entry %d: want [lat, lon, intensity], got %d values", i, len(t))}
		}
		lat, lon, intensity := t[0], t[1], t[2]
		if math.IsNaN(lat) || lat < -90 || lat > 90 || math.IsNaN(lon) || lon < -180 || lon > 180 {
			return nil, &domain.ParseError{Source: source, Err: fmt.Errorf("entry %d: position (%v, %v) out of range", i, lat, lon)}
		}
		if math.IsNaN(intensity) || intensity < 0 || intensity > 1 {
			return nil, &domain.ParseError{Source: source, Err: fmt.Errorf("entry %d: intensity %v outside [0,1]", i, intensity)}
		}
		cells = append(cells, domain.HeatCell{Latitude: lat, Longitude: lon, Intensity: intensity, Horizon: h})
	}
	return cells, nil
}

// Encode renders cells in the on-disk triple format.
func Encode(cells []domain.HeatCell) ([]byte, error) {
	triples := make([][3]float64, len(cells))
	for i, c := range cells {
		triples[i] = [3]float64{c.Latitude, c.Longitude, c.Intensity}
	}
	return json.Marshal(triples)
}

// IsNotExist reports whether err means the dataset file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
