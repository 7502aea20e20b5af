// Package domain models wildfire-risk subscription regions and the risk data
// rendered around them.
//
// # Identity
//
// An identity is the e-mail-like key that partitions region ownership. Raw
// input is trimmed and lower-cased by [NormalizeIdentity]; an empty result is
// a [ValidationError]. The same identity always owns the same remote region
// set, and regions never survive an identity switch.
//
// # Regions
//
// A region is a polygon (or multi-polygon; rectangles are polygons) drawn or
// uploaded by the user. It is keyed locally by a [RegionKey]:
//
//	pending:<uuid>   before the store acknowledges creation
//	<store id>       once confirmed
//
// Status moves pending → confirmed, and confirmed → deleting while a remote
// delete is in flight. Geometry travels as GeoJSON: a Feature on the wire,
// though a bare Geometry or a JSON string wrapping either is accepted when
// reading. See [DecodeGeometry] and [ParseUpload].
//
// # Horizons and heat cells
//
// Heat datasets are keyed by forecast horizon:
//
//	6h  | 12h | 24h
//
// Each cell carries an intensity in [0,1]. Datasets are immutable per
// horizon, so a loaded dataset can be cached for the life of the process.
//
// # Risk points
//
// Risk points are discrete high-probability locations. Only the top N by
// probability (descending) are held, see [RankRiskPoints].
//
// # Errors
//
// Four error classes reach the user as notifications:
//
//	ValidationError  identity or input required but absent/invalid
//	ParseError       malformed GeoJSON or dataset
//	TransportError   endpoint unreachable
//	ServerError      non-success response
//
// [ReportError] turns any of them into exactly one [Notification].
package domain
