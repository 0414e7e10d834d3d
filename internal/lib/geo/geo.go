package geo

import (
	"errors"
	"math"

	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the mean Earth radius used by every distance calculation.
const EarthRadiusMeters = 6371000

// geoUtils implements the GeoUtils interface
type geoUtils struct{}

// NewGeoUtils creates a new GeoUtils implementation
func NewGeoUtils() GeoUtils {
	return &geoUtils{}
}

// Haversine returns the great-circle distance between two points in meters.
// It does not validate its inputs; use PointToPoint for untrusted coordinates.
func Haversine(p1, p2 Point) float64 {
	if p1 == p2 {
		return 0
	}

	lat1 := p1.Latitude * math.Pi / 180
	lat2 := p2.Latitude * math.Pi / 180
	dlat := lat2 - lat1
	dlon := (p2.Longitude - p1.Longitude) * math.Pi / 180

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// DistanceKm is Haversine in kilometers.
func DistanceKm(p1, p2 Point) float64 {
	return Haversine(p1, p2) / 1000
}

// PointToPoint calculates great-circle distance between two points using Haversine formula
func (g *geoUtils) PointToPoint(p1, p2 Point) (float64, error) {
	if !IsValid(p1) || !IsValid(p2) {
		return 0, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return Haversine(p1, p2), nil
}

// PointToPath calculates minimum distance from point to any segment of path
func (g *geoUtils) PointToPath(point Point, path []Point) (float64, error) {
	if !IsValid(point) {
		return 0, errors.New("invalid point coordinates")
	}

	if len(path) == 0 {
		return 0, errors.New("path has no points")
	}

	if len(path) == 1 {
		return Haversine(point, path[0]), nil
	}

	minDistance := math.Inf(1)
	for i := 0; i < len(path)-1; i++ {
		distance := pointToSegmentDistance(point, path[i], path[i+1])
		if distance < minDistance {
			minDistance = distance
		}
	}

	return minDistance, nil
}

// pointToSegmentDistance calculates the distance from point to a great-circle segment
// using cross-track and along-track distances.
func pointToSegmentDistance(point, segmentStart, segmentEnd Point) float64 {
	distanceToStart := Haversine(point, segmentStart)
	distanceToEnd := Haversine(point, segmentEnd)
	segmentLength := Haversine(segmentStart, segmentEnd)

	// Segments under a meter behave like a single point
	if segmentLength < 1 {
		return math.Min(distanceToStart, distanceToEnd)
	}

	lat1 := segmentStart.Latitude * math.Pi / 180
	lon1 := segmentStart.Longitude * math.Pi / 180
	lat2 := segmentEnd.Latitude * math.Pi / 180
	lon2 := segmentEnd.Longitude * math.Pi / 180
	lat3 := point.Latitude * math.Pi / 180
	lon3 := point.Longitude * math.Pi / 180

	d13 := distanceToStart / EarthRadiusMeters

	y := math.Sin(lon2-lon1) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(lon2-lon1)
	bearing12 := math.Atan2(y, x)

	y = math.Sin(lon3-lon1) * math.Cos(lat3)
	x = math.Cos(lat1)*math.Sin(lat3) - math.Sin(lat1)*math.Cos(lat3)*math.Cos(lon3-lon1)
	bearing13 := math.Atan2(y, x)

	dxt := math.Asin(math.Sin(d13) * math.Sin(bearing13-bearing12))
	crossTrackDistance := math.Abs(dxt) * EarthRadiusMeters

	// Projection falls before the segment start
	if math.Cos(bearing13-bearing12) < 0 {
		return distanceToStart
	}

	dat := math.Acos(math.Min(1, math.Cos(d13)/math.Cos(dxt)))
	if dat*EarthRadiusMeters > segmentLength {
		return distanceToEnd
	}

	return crossTrackDistance
}

// FilterPointsByDistance filters points to those within specified distance of center point.
// A point at exactly maxDistanceMeters is kept.
func (g *geoUtils) FilterPointsByDistance(points []Point, center Point, maxDistanceMeters float64) ([]Point, error) {
	if !IsValid(center) {
		return nil, errors.New("invalid center point coordinates")
	}

	var filteredPoints []Point
	for _, point := range points {
		if !IsValid(point) {
			continue
		}
		if Haversine(center, point) <= maxDistanceMeters {
			filteredPoints = append(filteredPoints, point)
		}
	}

	return filteredPoints, nil
}

// PathLength sums the great-circle length of every segment of path
func (g *geoUtils) PathLength(path []Point) float64 {
	total := 0.0
	for i := 0; i < len(path)-1; i++ {
		total += Haversine(path[i], path[i+1])
	}
	return total
}

// DecodePolyline decodes Google polyline string to point sequence
func (g *geoUtils) DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		// Google polylines are latitude-first, same as Point
		points[i] = Point{Latitude: coord[0], Longitude: coord[1]}
		if !IsValid(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !IsValid(point) {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return point, nil
}

// IsValid validates latitude and longitude values
func IsValid(point Point) bool {
	return !math.IsNaN(point.Latitude) && !math.IsNaN(point.Longitude) &&
		point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}
