package geo

// Point represents a geographic coordinate in latitude-first order.
// Wire formats that use [lng, lat] must go through the adapters in boundary.go.
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// GeoUtils interface defines geographic calculation utilities
type GeoUtils interface {
	// Calculate great-circle distance between two points in meters
	PointToPoint(p1, p2 Point) (float64, error)

	// Calculate minimum distance from point to a path in meters
	PointToPath(point Point, path []Point) (float64, error)

	// Filter points to those within specified distance of center point (inclusive)
	FilterPointsByDistance(points []Point, center Point, maxDistanceMeters float64) ([]Point, error)

	// Total great-circle length of a path in meters
	PathLength(path []Point) float64

	// Decode Google polyline string to point sequence
	DecodePolyline(encoded string) ([]Point, error)
}

// NewGeoUtils is implemented in geo.go
