package domain

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeIdentity(t *testing.T) {
	id, err := NormalizeIdentity("  A@X.com \n")
	require.NoError(t, err)
	assert.Equal(t, Identity("a@x.com"), id)

	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := NormalizeIdentity(raw)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "input %q", raw)
		assert.Equal(t, "email", ve.Field)
	}
}

func TestPendingKey(t *testing.T) {
	k1 := NewPendingKey()
	k2 := NewPendingKey()
	assert.True(t, k1.IsPending())
	assert.NotEqual(t, k1, k2)
	assert.False(t, RegionKey("b7c2").IsPending())
}

func TestRegionClone_DoesNotShareGeometry(t *testing.T) {
	r := Region{Key: "r1", Geometry: testSquare()}
	c := r.Clone()
	c.Geometry.(orb.Polygon)[0][0] = orb.Point{0, 0}

	assert.Equal(t, orb.Point{-120.5, 38.1}, r.Geometry.(orb.Polygon)[0][0])
}

func TestParseHorizon(t *testing.T) {
	for _, h := range Horizons {
		got, err := ParseHorizon(string(h))
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
	_, err := ParseHorizon("48h")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "horizon", ve.Field)
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold(0))
	assert.NoError(t, ValidateThreshold(1))
	assert.Error(t, ValidateThreshold(-0.01))
	assert.Error(t, ValidateThreshold(1.5))
}

func TestRankRiskPoints(t *testing.T) {
	in := []RiskPoint{
		{ID: "a", Probability: 0.2},
		{ID: "b", Probability: 0.9},
		{ID: "c", Probability: 0.5},
		{ID: "d", Probability: 0.9},
		{ID: "e", Probability: 0.1},
		{ID: "f", Probability: 0.7},
	}
	got := RankRiskPoints(in, 5)
	require.Len(t, got, 5)
	ids := make([]string, len(got))
	for i, p := range got {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"b", "d", "f", "c", "a"}, ids)
	assert.Equal(t, "a", in[0].ID, "input must not be reordered")

	assert.Len(t, RankRiskPoints(in[:2], 5), 2)
}

type recordingNotifier struct {
	got []Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n Notification) {
	r.got = append(r.got, n)
}

func TestReportError(t *testing.T) {
	fixed := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	defer SetClock(nil)

	rec := &recordingNotifier{}
	ReportError(context.Background(), rec, "create", "a@x.com", &ServerError{Op: "create region", StatusCode: 502})
	ReportError(context.Background(), rec, "create", "a@x.com", nil)
	ReportError(context.Background(), nil, "create", "a@x.com", ErrNoIdentity)

	require.Len(t, rec.got, 1)
	n := rec.got[0]
	assert.Equal(t, LevelError, n.Level)
	assert.Equal(t, "server", n.Kind)
	assert.Equal(t, "create", n.Operation)
	assert.Equal(t, Identity("a@x.com"), n.Identity)
	assert.Equal(t, fixed, n.At)
	assert.Contains(t, n.Message, "502")
}
