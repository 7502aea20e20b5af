// Command genmock generates deterministic development fixtures: one heat
// dataset per forecast horizon, a risk point seed file for the region store,
// and a sample GeoJSON upload. Heat files are written with the same encoder
// the agent reads them with.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out-dir data/mock \
//	  -cells 400 \
//	  -seed 7
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/couchcryptid/firewatch-sync/internal/adapter/heatdata"
	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

// Fires burn around a few ignition points; intensity decays with distance and
// grows with the horizon.
var ignitions = []orb.Point{
	{-118.25, 34.20}, // lon, lat
	{-120.65, 36.10},
	{-121.90, 39.75},
}

var horizonGrowth = map[domain.Horizon]float64{
	domain.Horizon6h:  1.0,
	domain.Horizon12h: 1.4,
	domain.Horizon24h: 2.0,
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	outDir := flag.String("out-dir", "", "directory for generated fixtures")
	cells := flag.Int("cells", 400, "heat cells per horizon")
	riskPoints := flag.Int("risk-points", 25, "risk points in the seed file")
	seed := flag.Uint64("seed", 7, "random seed")
	flag.Parse()

	if *outDir == "" || *cells <= 0 || *riskPoints <= 0 {
		flag.Usage()
		return fmt.Errorf("missing or invalid flags: -out-dir, -cells, -risk-points")
	}

	// Fixed clock for reproducible risk timestamps.
	domain.SetClock(clockwork.NewFakeClockAt(
		time.Date(2026, time.August, 1, 6, 0, 0, 0, time.UTC),
	))
	defer domain.SetClock(nil)

	heatDir := filepath.Join(*outDir, "heat")
	for _, h := range domain.Horizons {
		rng := rand.New(rand.NewPCG(*seed, uint64(horizonGrowth[h]*10)))
		data, err := heatdata.Encode(generateCells(rng, h, *cells))
		if err != nil {
			return fmt.Errorf("encoding %s: %w", h, err)
		}
		path := filepath.Join(heatDir, string(h)+".json")
		if err := writeFile(path, append(data, '\n')); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		log.Printf("wrote heat dataset: %s", path)
	}

	rng := rand.New(rand.NewPCG(*seed, 99))
	risk := generateRisk(rng, *riskPoints)
	if err := writeJSON(filepath.Join(*outDir, "risk_seed.json"), risk); err != nil {
		return fmt.Errorf("writing risk seed: %w", err)
	}
	log.Printf("wrote risk seed: %d points", len(risk))

	if err := writeJSON(filepath.Join(*outDir, "regions_upload.geojson"), sampleRegions()); err != nil {
		return fmt.Errorf("writing sample regions: %w", err)
	}
	log.Printf("wrote sample regions upload")

	printStats(risk)
	return nil
}

func generateCells(rng *rand.Rand, h domain.Horizon, n int) []domain.HeatCell {
	growth := horizonGrowth[h]
	out := make([]domain.HeatCell, 0, n)
	for i := range n {
		center := ignitions[i%len(ignitions)]
		spread := 0.35 * growth
		lon := center.Lon() + rng.NormFloat64()*spread
		lat := center.Lat() + rng.NormFloat64()*spread
		dist := math.Hypot(lon-center.Lon(), lat-center.Lat())
		intensity := math.Exp(-dist/spread) * (0.8 + 0.2*rng.Float64())
		out = append(out, domain.HeatCell{
			Latitude:  round(lat, 4),
			Longitude: round(lon, 4),
			Intensity: round(min(intensity, 1), 3),
			Horizon:   h,
		})
	}
	return out
}

func generateRisk(rng *rand.Rand, n int) []domain.RiskPoint {
	now := domain.Now()
	out := make([]domain.RiskPoint, 0, n)
	for i := range n {
		center := ignitions[rng.IntN(len(ignitions))]
		out = append(out, domain.RiskPoint{
			ID:          fmt.Sprintf("risk-%03d", i+1),
			Latitude:    round(center.Lat()+rng.NormFloat64()*0.5, 4),
			Longitude:   round(center.Lon()+rng.NormFloat64()*0.5, 4),
			Probability: round(rng.Float64(), 3),
			Timestamp:   now.Add(-time.Duration(rng.IntN(24*60)) * time.Minute),
		})
	}
	return out
}

func sampleRegions() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for i, c := range ignitions {
		f := geojson.NewFeature(square(c, 0.25))
		f.Properties["name"] = fmt.Sprintf("Watch area %d", i+1)
		fc.Append(f)
	}
	return fc
}

func square(c orb.Point, half float64) orb.Polygon {
	return orb.Polygon{{
		{c.Lon() - half, c.Lat() - half},
		{c.Lon() + half, c.Lat() - half},
		{c.Lon() + half, c.Lat() + half},
		{c.Lon() - half, c.Lat() + half},
		{c.Lon() - half, c.Lat() - half},
	}}
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func printStats(risk []domain.RiskPoint) {
	ranked := domain.RankRiskPoints(risk, domain.DefaultRiskLimit)
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Risk points: %d\n", len(risk))
	fmt.Printf("Top %d by probability:\n", len(ranked))
	for _, p := range ranked {
		fmt.Printf("  %s  p=%.3f  (%.4f, %.4f)\n", p.ID, p.Probability, p.Latitude, p.Longitude)
	}
}
