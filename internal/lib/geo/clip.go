package geo

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// LengthInPolygon returns how many meters of path lie inside polygon.
//
// Each path segment is split at every crossing with a polygon ring (holes
// included) and each piece is kept when its midpoint is inside the polygon.
// Crossings are found in planar lng/lat space, lengths are great-circle.
func LengthInPolygon(path []Point, polygon orb.Polygon) float64 {
	if len(path) < 2 || len(polygon) == 0 {
		return 0
	}

	bound := polygon.Bound()
	total := 0.0
	for i := 0; i < len(path)-1; i++ {
		a, b := ToOrb(path[i]), ToOrb(path[i+1])
		if !(orb.LineString{a, b}).Bound().Intersects(bound) {
			continue
		}
		total += segmentLengthInPolygon(a, b, polygon)
	}
	return total
}

func segmentLengthInPolygon(a, b orb.Point, polygon orb.Polygon) float64 {
	cuts := []float64{0, 1}
	for _, ring := range polygon {
		for j := 0; j < len(ring)-1; j++ {
			if t, ok := segmentIntersection(a, b, ring[j], ring[j+1]); ok {
				cuts = append(cuts, t)
			}
		}
	}
	sort.Float64s(cuts)

	length := 0.0
	for k := 0; k < len(cuts)-1; k++ {
		t0, t1 := cuts[k], cuts[k+1]
		if t1-t0 < 1e-12 {
			continue
		}
		if planar.PolygonContains(polygon, lerp(a, b, (t0+t1)/2)) {
			length += Haversine(FromOrb(lerp(a, b, t0)), FromOrb(lerp(a, b, t1)))
		}
	}
	return length
}

// segmentIntersection returns the parameter t along a→b where it crosses c→d.
// Parallel and collinear edges report no crossing.
func segmentIntersection(a, b, c, d orb.Point) (float64, bool) {
	rx, ry := b[0]-a[0], b[1]-a[1]
	sx, sy := d[0]-c[0], d[1]-c[1]

	denom := rx*sy - ry*sx
	if math.Abs(denom) < 1e-18 {
		return 0, false
	}

	qx, qy := c[0]-a[0], c[1]-a[1]
	t := (qx*sy - qy*sx) / denom
	u := (qx*ry - qy*rx) / denom

	if t <= 0 || t >= 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

func lerp(a, b orb.Point, t float64) orb.Point {
	return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
}
