package routing

import (
	"context"
	"fmt"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
)

// Mode is the caller's transportation mode
type Mode string

const (
	Walking Mode = "walking"
	Driving Mode = "driving"
	Biking  Mode = "biking"
	Public  Mode = "public"
)

// Profile is a routing engine travel profile
type Profile string

const (
	ProfileFootWalking    Profile = "foot-walking"
	ProfileDrivingCar     Profile = "driving-car"
	ProfileCyclingRegular Profile = "cycling-regular"
)

// ParseMode normalizes case and surrounding whitespace. It does not validate;
// ProfileFor rejects unknown modes.
func ParseMode(s string) Mode {
	return Mode(strings.ToLower(strings.TrimSpace(s)))
}

// ProfileFor maps a mode to the engine profile. There is no public transit
// profile, so Public is approximated by driving.
func ProfileFor(mode Mode) (Profile, error) {
	switch mode {
	case Walking:
		return ProfileFootWalking, nil
	case Driving, Public:
		return ProfileDrivingCar, nil
	case Biking:
		return ProfileCyclingRegular, nil
	default:
		return "", &UnsupportedModeError{Mode: string(mode)}
	}
}

// ValidProfile reports whether p is one ProfileFor can produce
func ValidProfile(p Profile) bool {
	switch p {
	case ProfileFootWalking, ProfileDrivingCar, ProfileCyclingRegular:
		return true
	}
	return false
}

// UnsupportedModeError is returned for modes with no profile mapping
type UnsupportedModeError struct {
	Mode string
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("unsupported transportation mode %q", e.Mode)
}

// DirectionsOptions carries engine options. Nil options are omitted from the request.
type DirectionsOptions struct {
	AvoidPolygons *geojson.Geometry `json:"avoid_polygons,omitempty"`
}

// DirectionsRequest is the engine request body; coordinates are [lng, lat]
type DirectionsRequest struct {
	Coordinates [][2]float64       `json:"coordinates"`
	Options     *DirectionsOptions `json:"options,omitempty"`
}

// DirectionsBackend computes directions on behalf of the planner. The
// implementation owns any engine credential.
type DirectionsBackend interface {
	ComputeDirections(ctx context.Context, profile Profile, req DirectionsRequest) ([]byte, error)
}

// DirectionsBackendError covers transport failure, a non-2xx status, or a
// response missing the fields the planner needs.
type DirectionsBackendError struct {
	StatusCode int
	Body       string
	Reason     string
	Err        error
}

func (e *DirectionsBackendError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("directions backend returned HTTP %d: %s", e.StatusCode, truncate(e.Body, 200))
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("directions backend: %s: %v", e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("directions backend: %v", e.Err)
	default:
		return "directions backend: " + e.Reason
	}
}

func (e *DirectionsBackendError) Unwrap() error {
	return e.Err
}

// RouteRequest is one planning request
type RouteRequest struct {
	Origin      geo.Point
	Destination geo.Point
	Exclusion   hazard.ExclusionRegion
	Mode        Mode
}

// RouteResult is the outcome of a planning request. Nil fields signal failure:
// all nil when the backend failed, Path alone nil when the geometry was bad.
type RouteResult struct {
	ETASeconds     *float64    `json:"eta_seconds"`
	DistanceMeters *float64    `json:"distance_meters"`
	Path           []geo.Point `json:"path"`
	// Failure records why fields are nil; it is never returned as an error
	Failure error `json:"-"`
}

// OK reports whether every field is populated
func (r RouteResult) OK() bool {
	return r.ETASeconds != nil && r.DistanceMeters != nil && r.Path != nil
}

// HazardClassification is how close a hazard lies to a planned path
type HazardClassification string

const (
	OnRoute HazardClassification = "on_route" // < 100m from the path
	Nearby  HazardClassification = "nearby"   // within the nearby threshold
	Distant HazardClassification = "distant"
)

// ClassifiedHazard is a hazard point with its distance to a path
type ClassifiedHazard struct {
	hazard.Point
	Classification HazardClassification `json:"classification"`
	DistanceToPath float64              `json:"distance_to_path"`
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
