package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPolygonGeometry = `{"type":"Polygon","coordinates":[[[-120.5,38.1],[-120.1,38.1],[-120.1,38.4],[-120.5,38.4],[-120.5,38.1]]]}`
	testPolygonFeature  = `{"type":"Feature","properties":{"name":"Cabin"},"geometry":` + testPolygonGeometry + `}`
)

func testSquare() orb.Polygon {
	return orb.Polygon{{{-120.5, 38.1}, {-120.1, 38.1}, {-120.1, 38.4}, {-120.5, 38.4}, {-120.5, 38.1}}}
}

func TestValidateGeometry(t *testing.T) {
	t.Run("closed polygon", func(t *testing.T) {
		require.NoError(t, ValidateGeometry(testSquare()))
	})

	t.Run("rectangle from bound", func(t *testing.T) {
		b := orb.Bound{Min: orb.Point{-121, 37}, Max: orb.Point{-120, 38}}
		require.NoError(t, ValidateGeometry(b.ToPolygon()))
	})

	t.Run("multipolygon", func(t *testing.T) {
		require.NoError(t, ValidateGeometry(orb.MultiPolygon{testSquare(), testSquare()}))
	})

	cases := map[string]orb.Geometry{
		"nil":          nil,
		"point":        orb.Point{1, 2},
		"open ring":    orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}}},
		"short ring":   orb.Polygon{{{0, 0}, {1, 0}, {0, 0}}},
		"no rings":     orb.Polygon{},
		"out of range": orb.Polygon{{{0, 0}, {200, 0}, {1, 1}, {0, 0}}},
		"empty multi":  orb.MultiPolygon{},
	}
	for name, g := range cases {
		t.Run(name, func(t *testing.T) {
			err := ValidateGeometry(g)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, "geometry", ve.Field)
		})
	}
}

func TestEncodeDecodeGeometry_Feature(t *testing.T) {
	data, err := EncodeGeometry(testSquare())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"Feature"`)

	g, err := DecodeGeometry(data)
	require.NoError(t, err)
	assert.True(t, orb.Equal(testSquare(), g))
}

func TestDecodeGeometry_AcceptedForms(t *testing.T) {
	quoted, err := json.Marshal(testPolygonFeature)
	require.NoError(t, err)

	for name, input := range map[string]string{
		"feature":         testPolygonFeature,
		"bare geometry":   testPolygonGeometry,
		"string wrapping": string(quoted),
	} {
		t.Run(name, func(t *testing.T) {
			g, err := DecodeGeometry([]byte(input))
			require.NoError(t, err)
			assert.True(t, orb.Equal(testSquare(), g))
		})
	}
}

func TestDecodeGeometry_Rejects(t *testing.T) {
	for name, input := range map[string]string{
		"not json":   `{"type":`,
		"no type":    `{"coordinates":[]}`,
		"collection": `{"type":"FeatureCollection","features":[]}`,
		"line":       `{"type":"LineString","coordinates":[[0,0],[1,1]]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeGeometry([]byte(input))
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
		})
	}
}

func TestParseUpload(t *testing.T) {
	t.Run("feature collection keeps names", func(t *testing.T) {
		doc := `{"type":"FeatureCollection","features":[` + testPolygonFeature + `,{"type":"Feature","properties":{},"geometry":` + testPolygonGeometry + `}]}`
		drafts, err := ParseUpload(doc)
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.Equal(t, "Cabin", drafts[0].Name)
		assert.Equal(t, "Uploaded region 2", drafts[1].Name)
		assert.Empty(t, drafts[0].Handle)
	})

	t.Run("single feature", func(t *testing.T) {
		drafts, err := ParseUpload(testPolygonFeature)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "Cabin", drafts[0].Name)
	})

	t.Run("bare geometry", func(t *testing.T) {
		drafts, err := ParseUpload(testPolygonGeometry)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
		assert.Equal(t, "Uploaded region 1", drafts[0].Name)
	})

	t.Run("one bad feature rejects the document", func(t *testing.T) {
		doc := `{"type":"FeatureCollection","features":[` + testPolygonFeature + `,{"type":"Feature","properties":{},"geometry":{"type":"Point","coordinates":[1,2]}}]}`
		_, err := ParseUpload(doc)
		var pe *ParseError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "parse", ErrorKind(err))
	})

	for name, doc := range map[string]string{
		"empty":            "   ",
		"garbage":          "not geojson",
		"empty collection": `{"type":"FeatureCollection","features":[]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseUpload(doc)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
		})
	}
}

func TestErrorKind(t *testing.T) {
	assert.Empty(t, ErrorKind(nil))
	assert.Equal(t, "validation", ErrorKind(&ValidationError{Field: "email"}))
	assert.Equal(t, "parse", ErrorKind(&ParseError{Source: "x", Err: &ValidationError{}}))
	assert.Equal(t, "transport", ErrorKind(&TransportError{Op: "list", Err: errors.New("refused")}))
	assert.Equal(t, "server", ErrorKind(errors.Join(errors.New("a"), &ServerError{Op: "delete", StatusCode: 500})))
	assert.Equal(t, "unknown_region", ErrorKind(ErrUnknownRegion))
	assert.Equal(t, "no_identity", ErrorKind(ErrNoIdentity))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
}
