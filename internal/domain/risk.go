package domain

import (
	"cmp"
	"slices"
	"time"
)

// DefaultRiskLimit is the number of risk points held by the feed.
const DefaultRiskLimit = 5

// RiskPoint is a discrete high-probability wildfire location.
type RiskPoint struct {
	ID          string    `json:"id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Probability float64   `json:"probability"` // 0.0–1.0
	Timestamp   time.Time `json:"timestamp"`
}

// RankRiskPoints returns the top limit points by probability, descending.
// Ties keep their input order. The input slice is not modified.
func RankRiskPoints(points []RiskPoint, limit int) []RiskPoint {
	ranked := slices.Clone(points)
	slices.SortStableFunc(ranked, func(a, b RiskPoint) int {
		return cmp.Compare(b.Probability, a.Probability)
	})
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
