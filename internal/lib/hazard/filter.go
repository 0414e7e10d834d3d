package hazard

import (
	"sort"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// FilterByRadius keeps the points whose haversine distance from center is at
// most radiusKm. A point exactly radiusKm away is kept.
func FilterByRadius(points []Point, center geo.Point, radiusKm float64) []Point {
	var filtered []Point
	for _, p := range points {
		if geo.DistanceKm(center, p.Location) <= radiusKm {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// FilterByConfidence keeps the points at or above minimum
func FilterByConfidence(points []Point, minimum Confidence) []Point {
	var filtered []Point
	for _, p := range points {
		if p.Confidence >= minimum {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// SortByDistance orders points nearest-first from center without modifying the input
func SortByDistance(points []Point, center geo.Point) []Point {
	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		return geo.Haversine(center, sorted[i].Location) < geo.Haversine(center, sorted[j].Location)
	})
	return sorted
}
