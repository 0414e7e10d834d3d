package routing

import (
	"errors"
	"sort"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
)

// DefaultOnRouteThreshold is the distance under which a hazard counts as on the route
const DefaultOnRouteThreshold = 100.0

// ProximityClassifier tags hazards by their distance to a planned path
type ProximityClassifier struct {
	geoUtils         geo.GeoUtils
	onRouteThreshold float64
	nearbyThreshold  float64
}

// NewProximityClassifier creates a classifier. Hazards farther than
// nearbyMeters from the path are Distant.
func NewProximityClassifier(nearbyMeters float64) *ProximityClassifier {
	return &ProximityClassifier{
		geoUtils:         geo.NewGeoUtils(),
		onRouteThreshold: DefaultOnRouteThreshold,
		nearbyThreshold:  nearbyMeters,
	}
}

// SetOnRouteThreshold changes the on-route distance in meters
func (c *ProximityClassifier) SetOnRouteThreshold(thresholdMeters float64) {
	c.onRouteThreshold = thresholdMeters
}

// Classify returns every hazard with its classification, nearest first
func (c *ProximityClassifier) Classify(path []geo.Point, hazards []hazard.Point) ([]ClassifiedHazard, error) {
	if len(path) < 2 {
		return nil, errors.New("path must have at least 2 points")
	}

	classified := make([]ClassifiedHazard, 0, len(hazards))
	for _, h := range hazards {
		distance, err := c.geoUtils.PointToPath(h.Location, path)
		if err != nil {
			continue
		}

		classification := Distant
		if distance < c.onRouteThreshold {
			classification = OnRoute
		} else if distance <= c.nearbyThreshold {
			classification = Nearby
		}

		classified = append(classified, ClassifiedHazard{
			Point:          h,
			Classification: classification,
			DistanceToPath: distance,
		})
	}

	sort.SliceStable(classified, func(i, j int) bool {
		return classified[i].DistanceToPath < classified[j].DistanceToPath
	})
	return classified, nil
}

// OnRouteCount returns how many hazards were classified OnRoute
func OnRouteCount(hazards []ClassifiedHazard) int {
	n := 0
	for _, h := range hazards {
		if h.Classification == OnRoute {
			n++
		}
	}
	return n
}
