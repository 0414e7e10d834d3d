package hazard

import (
	"fmt"
	"io"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/twpayne/go-kml/v2"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

const (
	// DefaultBufferRadiusMeters is the exclusion radius around each detection
	DefaultBufferRadiusMeters = 1000
	// BufferVertices is the vertex count of every buffer ring
	BufferVertices = 64
)

// ExclusionRegion is the set of areas a route must avoid. Overlapping buffers
// stay as separate polygons; the routing engine treats the list as one avoid-set.
type ExclusionRegion struct {
	polygons orb.MultiPolygon
}

// BuildExclusionRegion buffers every point by bufferRadiusMeters. No points
// yields an empty region.
func BuildExclusionRegion(points []Point, bufferRadiusMeters float64) ExclusionRegion {
	if len(points) == 0 {
		return ExclusionRegion{}
	}

	polygons := make(orb.MultiPolygon, 0, len(points))
	for _, p := range points {
		polygons = append(polygons, orb.Polygon{geo.Circle(p.Location, bufferRadiusMeters, BufferVertices)})
	}
	return ExclusionRegion{polygons: polygons}
}

// Empty reports whether the region has no polygons
func (r ExclusionRegion) Empty() bool {
	return len(r.polygons) == 0
}

// Len returns the number of polygons
func (r ExclusionRegion) Len() int {
	return len(r.polygons)
}

// MultiPolygon returns a copy of the region's polygons in lng/lat order
func (r ExclusionRegion) MultiPolygon() orb.MultiPolygon {
	return r.polygons.Clone()
}

// Rings returns the outer ring of each polygon as lat/lng points
func (r ExclusionRegion) Rings() [][]geo.Point {
	rings := make([][]geo.Point, len(r.polygons))
	for i, polygon := range r.polygons {
		ring := make([]geo.Point, len(polygon[0]))
		for j, v := range polygon[0] {
			ring[j] = geo.FromOrb(v)
		}
		rings[i] = ring
	}
	return rings
}

// Contains reports whether p falls inside any polygon of the region
func (r ExclusionRegion) Contains(p geo.Point) bool {
	for _, polygon := range r.polygons {
		if planar.PolygonContains(polygon, geo.ToOrb(p)) {
			return true
		}
	}
	return false
}

// GeoJSON returns the region as a GeoJSON MultiPolygon geometry, or nil when
// the region is empty.
func (r ExclusionRegion) GeoJSON() *geojson.Geometry {
	if r.Empty() {
		return nil
	}
	return geojson.NewGeometry(r.polygons.Clone())
}

// WriteKML writes the region as a KML document with one placemark per polygon
func (r ExclusionRegion) WriteKML(w io.Writer, name string) error {
	children := []kml.Element{kml.Name(name)}
	for i, polygon := range r.polygons {
		coordinates := make([]kml.Coordinate, len(polygon[0]))
		for j, v := range polygon[0] {
			coordinates[j] = kml.Coordinate{Lon: v.Lon(), Lat: v.Lat()}
		}
		children = append(children, kml.Placemark(
			kml.Name(fmt.Sprintf("exclusion-%d", i+1)),
			kml.Polygon(
				kml.OuterBoundaryIs(
					kml.LinearRing(
						kml.Coordinates(coordinates...),
					),
				),
			),
		))
	}

	if err := kml.KML(kml.Document(children...)).WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write exclusion KML: %w", err)
	}
	return nil
}

// DemoSource tags the synthetic detection produced by DemoPoint
const DemoSource = "demo"

// demoOffsetDegrees places the demo fire roughly 1 km east of the user at mid latitudes
const demoOffsetDegrees = 0.01191

// DemoPoint returns a synthetic high-confidence detection just east of user,
// for exercising the pipeline when the live feed is quiet.
func DemoPoint(user geo.Point, now time.Time) Point {
	return Point{
		Location:   geo.Point{Latitude: user.Latitude, Longitude: user.Longitude + demoOffsetDegrees},
		Confidence: ConfidenceHigh,
		AcquiredAt: now.UTC(),
		Source:     DemoSource,
	}
}
