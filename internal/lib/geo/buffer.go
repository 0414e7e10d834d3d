package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// MinCircleVertices is the smallest vertex count Circle will produce.
const MinCircleVertices = 32

// Circle approximates a disk of radiusMeters around center as a closed ring.
// Vertices are placed with the spherical destination-point formula so each one
// lies radiusMeters from center by Haversine distance. Longitudes stay
// continuous around the center, so a ring near the antimeridian may extend
// slightly past ±180 rather than wrapping to the far side.
func Circle(center Point, radiusMeters float64, vertices int) orb.Ring {
	if vertices < MinCircleVertices {
		vertices = MinCircleVertices
	}

	lat1 := center.Latitude * math.Pi / 180
	lon1 := center.Longitude * math.Pi / 180
	delta := radiusMeters / EarthRadiusMeters

	ring := make(orb.Ring, 0, vertices+1)
	for i := 0; i < vertices; i++ {
		bearing := 2 * math.Pi * float64(i) / float64(vertices)

		lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) +
			math.Cos(lat1)*math.Sin(delta)*math.Cos(bearing))
		lon2 := lon1 + math.Atan2(
			math.Sin(bearing)*math.Sin(delta)*math.Cos(lat1),
			math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2))

		ring = append(ring, orb.Point{lon2 * 180 / math.Pi, lat2 * 180 / math.Pi})
	}

	return append(ring, ring[0])
}

// Closed reports whether ring has at least four points and ends where it starts.
func Closed(ring orb.Ring) bool {
	return len(ring) >= 4 && ring[0] == ring[len(ring)-1]
}
