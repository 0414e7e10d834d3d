package geo

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Coordinate order adapters. Point is latitude-first; GeoJSON, OpenRouteService and
// orb are longitude-first. Every boundary crossing goes through one of these.

// ToLngLat converts a Point to a wire [lng, lat] pair.
func ToLngLat(p Point) [2]float64 {
	return [2]float64{p.Longitude, p.Latitude}
}

// FromLngLat converts a wire [lng, lat] or [lng, lat, elevation] array to a Point.
func FromLngLat(coord []float64) (Point, error) {
	if len(coord) < 2 || len(coord) > 3 {
		return Point{}, &InvalidGeometryError{Reason: fmt.Sprintf("coordinate has %d values, want 2 or 3", len(coord))}
	}
	p := Point{Latitude: coord[1], Longitude: coord[0]}
	if !IsValid(p) {
		return Point{}, &InvalidGeometryError{Reason: fmt.Sprintf("coordinate [%g, %g] out of range", coord[0], coord[1])}
	}
	return p, nil
}

// ToOrb converts a Point to an orb.Point.
func ToOrb(p Point) orb.Point {
	return orb.Point{p.Longitude, p.Latitude}
}

// FromOrb converts an orb.Point to a Point.
func FromOrb(p orb.Point) Point {
	return Point{Latitude: p.Lat(), Longitude: p.Lon()}
}

// ToOrbLineString converts a path to an orb.LineString.
func ToOrbLineString(path []Point) orb.LineString {
	ls := make(orb.LineString, len(path))
	for i, p := range path {
		ls[i] = ToOrb(p)
	}
	return ls
}
