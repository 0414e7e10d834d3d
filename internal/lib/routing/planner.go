package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// DefaultTimeout bounds a single directions call
const DefaultTimeout = 10 * time.Second

// Planner turns a RouteRequest into a RouteResult using an injected backend.
// It never retries.
type Planner struct {
	backend DirectionsBackend
	timeout time.Duration
}

// NewPlanner creates a planner. A non-positive timeout selects DefaultTimeout.
func NewPlanner(backend DirectionsBackend, timeout time.Duration) *Planner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Planner{backend: backend, timeout: timeout}
}

// Timeout returns the per-request timeout
func (p *Planner) Timeout() time.Duration {
	return p.timeout
}

// PlanRoute asks the backend for a route. The returned error is reserved for
// requests that cannot be attempted (unsupported mode, invalid endpoints);
// backend and geometry failures come back through RouteResult.Failure.
func (p *Planner) PlanRoute(ctx context.Context, req RouteRequest) (RouteResult, error) {
	profile, err := ProfileFor(req.Mode)
	if err != nil {
		return RouteResult{}, err
	}
	if !geo.IsValid(req.Origin) || !geo.IsValid(req.Destination) {
		return RouteResult{}, fmt.Errorf("invalid route endpoints %v -> %v", req.Origin, req.Destination)
	}

	body := BuildDirectionsRequest(req)

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.backend.ComputeDirections(ctx, profile, body)
	if err != nil {
		var backendErr *DirectionsBackendError
		if !errors.As(err, &backendErr) {
			err = &DirectionsBackendError{Reason: "request failed", Err: err}
		}
		return RouteResult{Failure: err}, nil
	}

	return ParseDirections(raw), nil
}

// BuildDirectionsRequest converts a RouteRequest to the engine body. The
// avoid_polygons option is left out entirely for an empty exclusion region.
func BuildDirectionsRequest(req RouteRequest) DirectionsRequest {
	body := DirectionsRequest{
		Coordinates: [][2]float64{geo.ToLngLat(req.Origin), geo.ToLngLat(req.Destination)},
	}
	if !req.Exclusion.Empty() {
		body.Options = &DirectionsOptions{AvoidPolygons: req.Exclusion.GeoJSON()}
	}
	return body
}

type directionsResponse struct {
	Features []struct {
		Properties struct {
			Summary *struct {
				Duration *float64 `json:"duration"`
				Distance *float64 `json:"distance"`
			} `json:"summary"`
		} `json:"properties"`
		Geometry json.RawMessage `json:"geometry"`
	} `json:"features"`
}

// ParseDirections extracts the first route feature of a GeoJSON directions
// response. A bad body yields an all-nil result; bad geometry nils only Path.
func ParseDirections(raw []byte) RouteResult {
	var resp directionsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return RouteResult{Failure: &DirectionsBackendError{Reason: "malformed response", Err: err}}
	}
	if len(resp.Features) == 0 {
		return RouteResult{Failure: &DirectionsBackendError{Reason: "response has no route features"}}
	}

	feature := resp.Features[0]
	summary := feature.Properties.Summary
	if summary == nil || summary.Duration == nil || summary.Distance == nil {
		return RouteResult{Failure: &DirectionsBackendError{Reason: "route summary missing duration or distance"}}
	}

	duration, distance := *summary.Duration, *summary.Distance
	result := RouteResult{ETASeconds: &duration, DistanceMeters: &distance}

	path, err := geo.DecodePath(feature.Geometry)
	if err != nil {
		result.Failure = err
		return result
	}
	result.Path = path
	return result
}
