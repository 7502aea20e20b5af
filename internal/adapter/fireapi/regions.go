package fireapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/firewatch-sync/internal/domain"
)

const regionsPath = "/api/regions"

// regionPayload is the create/update request body.
type regionPayload struct {
	Email   string          `json:"email"`
	Name    string          `json:"name"`
	GeoJSON json.RawMessage `json:"geojson"`
}

// regionRecord is one element of the list response.
type regionRecord struct {
	ID      flexID          `json:"id"`
	Name    string          `json:"name"`
	GeoJSON json.RawMessage `json:"geojson"`
}

type createResponse struct {
	RegionID flexID `json:"regionId"`
}

// List returns the confirmed regions owned by identity, in store order.
// Entries without an id or with unreadable geometry are skipped.
func (c *Client) List(ctx context.Context, identity domain.Identity) ([]domain.Region, error) {
	var records []regionRecord
	err := c.do(ctx, call{
		endpoint: "list",
		op:       "list regions",
		method:   http.MethodGet,
		path:     regionsPath,
		query:    url.Values{"email": {identity.String()}},
		out:      &records,
	})
	if err != nil {
		return nil, err
	}

	regions := make([]domain.Region, 0, len(records))
	for _, rec := range records {
		id := string(rec.ID)
		if id == "" {
			c.logger.Warn("skipping region without id", "identity", identity)
			continue
		}
		g, err := domain.DecodeGeometry(rec.GeoJSON)
		if err != nil {
			c.logger.Warn("skipping region with unreadable geometry", "identity", identity, "region_id", id, "error", err)
			continue
		}
		regions = append(regions, domain.Region{
			Key:      domain.RegionKey(id),
			ID:       id,
			Owner:    identity,
			Name:     rec.Name,
			Geometry: g,
			Status:   domain.StatusConfirmed,
		})
	}
	return regions, nil
}

// Create stores a new region and returns its assigned id. A success response
// without an id is treated as a failed call.
func (c *Client) Create(ctx context.Context, identity domain.Identity, name string, g orb.Geometry) (string, error) {
	payload, err := newPayload(identity, name, g)
	if err != nil {
		return "", err
	}

	var resp createResponse
	err = c.do(ctx, call{
		endpoint: "create",
		op:       "create region",
		method:   http.MethodPost,
		path:     regionsPath,
		body:     payload,
		out:      &resp,
	})
	if err != nil {
		return "", err
	}
	if resp.RegionID == "" {
		return "", &domain.ServerError{Op: "create region", StatusCode: http.StatusOK, Body: "response has no regionId"}
	}
	return string(resp.RegionID), nil
}

// Update replaces the name and geometry of region id.
func (c *Client) Update(ctx context.Context, id string, identity domain.Identity, name string, g orb.Geometry) error {
	payload, err := newPayload(identity, name, g)
	if err != nil {
		return err
	}
	return c.do(ctx, call{
		endpoint: "update",
		op:       "update region " + id,
		method:   http.MethodPut,
		path:     regionsPath + "/" + url.PathEscape(id),
		query:    url.Values{"email": {identity.String()}},
		body:     payload,
	})
}

// Delete removes region id. A missing region surfaces as an ordinary ServerError.
func (c *Client) Delete(ctx context.Context, id string, identity domain.Identity) error {
	return c.do(ctx, call{
		endpoint: "delete",
		op:       "delete region " + id,
		method:   http.MethodDelete,
		path:     regionsPath + "/" + url.PathEscape(id),
		query:    url.Values{"email": {identity.String()}},
	})
}

func newPayload(identity domain.Identity, name string, g orb.Geometry) (regionPayload, error) {
	data, err := domain.EncodeGeometry(g)
	if err != nil {
		return regionPayload{}, err
	}
	return regionPayload{Email: identity.String(), Name: name, GeoJSON: data}, nil
}
