package fireapi

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

const riskPath = "/api/regional_fire_risk"

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

type riskRecord struct {
	ID          flexID  `json:"id"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Probability float64 `json:"probability"`
	Timestamp   string  `json:"timestamp"`
}

// TopRiskPoints fetches up to limit risk points in whatever order the
// endpoint returns them. Points with a probability outside [0,1] are dropped.
func (c *Client) TopRiskPoints(ctx context.Context, limit int) ([]domain.RiskPoint, error) {
	var records []riskRecord
	err := c.do(ctx, call{
		endpoint: "risk",
		op:       "fetch risk points",
		method:   http.MethodGet,
		path:     riskPath,
		query:    limitQuery(limit),
		out:      &records,
	})
	if err != nil {
		return nil, err
	}

	points := make([]domain.RiskPoint, 0, len(records))
	for _, rec := range records {
		if math.IsNaN(rec.Probability) || rec.Probability < 0 || rec.Probability > 1 {
			c.logger.Warn("dropping risk point with invalid probability", "id", string(rec.ID), "probability", rec.Probability)
			continue
		}
		points = append(points, domain.RiskPoint{
			ID:          string(rec.ID),
			Latitude:    rec.Latitude,
			Longitude:   rec.Longitude,
			Probability: rec.Probability,
			Timestamp:   parseTimestamp(rec.Timestamp),
		})
	}
	return points, nil
}

// parseTimestamp returns the zero time for empty or unrecognized input.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
