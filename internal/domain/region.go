package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
)

// RegionKey is the local key of a region: the store id once confirmed, or a
// pending token before creation is acknowledged.
type RegionKey string

const pendingPrefix = "pending:"

// NewPendingKey returns a fresh pending token.
func NewPendingKey() RegionKey {
	return RegionKey(pendingPrefix + uuid.NewString())
}

// IsPending reports whether k is a pending token rather than a store id.
func (k RegionKey) IsPending() bool {
	return strings.HasPrefix(string(k), pendingPrefix)
}

// RegionStatus tracks a region through its remote lifecycle.
type RegionStatus string

const (
	StatusPending   RegionStatus = "pending"
	StatusConfirmed RegionStatus = "confirmed"
	StatusDeleting  RegionStatus = "deleting"
)

// DefaultRegionName is used when a drawn region has no name.
const DefaultRegionName = "Region"

// Region is a geographic subscription area owned by one identity.
type Region struct {
	Key      RegionKey
	ID       string // empty while pending
	Owner    Identity
	Name     string
	Geometry orb.Geometry
	Status   RegionStatus
}

// Clone returns a deep copy so callers cannot mutate held geometry.
func (r Region) Clone() Region {
	if r.Geometry != nil {
		r.Geometry = orb.Clone(r.Geometry)
	}
	return r
}

// RenderHandle references a layer owned by the rendering collaborator.
// Region identity is never stored on the layer itself.
type RenderHandle string
