// Command validate checks generated development fixtures against the same
// parsers the agent and the region store use: heat datasets per horizon, the
// risk point seed file and the sample GeoJSON upload.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -heat-dir data/mock/heat \
//	  -risk-seed data/mock/risk_seed.json \
//	  -upload data/mock/regions_upload.geojson
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/couchcryptid/firewatch-sync/internal/adapter/heatdata"
	"github.com/couchcryptid/firewatch-sync/internal/domain"
	"github.com/couchcryptid/firewatch-sync/internal/heatmap"
	"github.com/couchcryptid/firewatch-sync/internal/storeserver"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	heatDir := flag.String("heat-dir", "", "directory containing <horizon>.json heat datasets")
	riskSeed := flag.String("risk-seed", "", "path to risk point seed JSON")
	upload := flag.String("upload", "", "path to sample GeoJSON upload")
	flag.Parse()

	if *heatDir == "" || *riskSeed == "" || *upload == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*heatDir, *riskSeed, *upload); code != 0 {
		os.Exit(code)
	}
}

func run(heatDir, riskSeedPath, uploadPath string) int {
	fmt.Println("=== Firewatch Fixture Validation ===")
	fmt.Println()

	source := heatdata.NewFileSource(heatDir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	datasets := domain.Datasets{}
	loadPhase := &phase{name: "Phase 1: Heat datasets (decode)"}
	for _, h := range domain.Horizons {
		cells, err := source.Load(context.Background(), h)
		if err != nil {
			loadPhase.errorf("%s: %v", h, err)
			continue
		}
		datasets[h] = cells
	}

	risk, err := storeserver.LoadRiskSeed(riskSeedPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load risk seed: %v\n", err)
		return 1
	}

	uploadText, err := os.ReadFile(uploadPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read upload: %v\n", err)
		return 1
	}

	phases := []*phase{
		loadPhase,
		validateHeatSelection(datasets),
		validateRiskSeed(risk),
		validateUpload(string(uploadText)),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d/%d/%d heat cells (6h/12h/24h), %d risk points\n",
		len(datasets[domain.Horizon6h]), len(datasets[domain.Horizon12h]), len(datasets[domain.Horizon24h]), len(risk))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 2: Heat selection ──
// Every horizon yields its own cells, and raising the threshold never adds
// cells.

func validateHeatSelection(datasets domain.Datasets) *phase {
	p := &phase{name: "Phase 2: Heat selection (bucket, threshold)"}

	for h, cells := range datasets {
		if len(cells) == 0 {
			p.errorf("%s: dataset is empty", h)
			continue
		}
		bucket := heatmap.SelectBucket(datasets, h)
		if len(bucket) != len(cells) {
			p.errorf("%s: bucket has %d cells, dataset has %d", h, len(bucket), len(cells))
		}

		prev := len(bucket) + 1
		for step := 0; step <= 10; step++ {
			t := float64(step) / 10
			n := len(heatmap.FilterByThreshold(bucket, t))
			if n > prev {
				p.errorf("%s: threshold %.1f kept %d cells, more than the lower threshold's %d", h, t, n, prev)
			}
			prev = n
		}
		if n := len(heatmap.FilterByThreshold(bucket, 0)); n != len(bucket) {
			p.errorf("%s: threshold 0 dropped %d cells", h, len(bucket)-n)
		}
	}
	return p
}

// ── Phase 3: Risk seed ──

func validateRiskSeed(points []domain.RiskPoint) *phase {
	p := &phase{name: "Phase 3: Risk seed (ids, ranges)"}

	seen := map[string]bool{}
	for i, pt := range points {
		switch {
		case pt.ID == "":
			p.errorf("point %d: missing id", i)
		case seen[pt.ID]:
			p.errorf("point %d: duplicate id %q", i, pt.ID)
		}
		seen[pt.ID] = true

		if pt.Probability < 0 || pt.Probability > 1 {
			p.errorf("point %s: probability %g outside [0,1]", pt.ID, pt.Probability)
		}
		if pt.Latitude < -90 || pt.Latitude > 90 || pt.Longitude < -180 || pt.Longitude > 180 {
			p.errorf("point %s: position (%g, %g) out of range", pt.ID, pt.Latitude, pt.Longitude)
		}
	}

	ranked := domain.RankRiskPoints(points, domain.DefaultRiskLimit)
	for i := 1; i < len(ranked); i++ {
		if ranked[i].Probability > ranked[i-1].Probability {
			p.errorf("ranking: %s ranked below %s", ranked[i].ID, ranked[i-1].ID)
		}
	}
	return p
}

// ── Phase 4: Sample upload ──

func validateUpload(text string) *phase {
	p := &phase{name: "Phase 4: Sample upload (GeoJSON)"}

	drafts, err := domain.ParseUpload(text)
	if err != nil {
		p.errorf("parse: %v", err)
		return p
	}
	for i, d := range drafts {
		if d.Name == "" {
			p.errorf("feature %d: empty name", i)
		}
		if _, err := domain.EncodeGeometry(d.Geometry); err != nil {
			p.errorf("feature %d: %v", i, err)
		}
	}
	return p
}
