package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

// HTTPDoer is the subset of *http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client fetches hazard-unaware baseline routes from the Google Routes API v2.
// The baseline lets callers compare the safe route against the direct one.
type Client struct {
	apiKey     string
	httpClient HTTPDoer
	baseURL    string
}

// Baseline is the duration and distance of the unconstrained route
type Baseline struct {
	DurationSeconds float64     `json:"duration_seconds"`
	DistanceMeters  float64     `json:"distance_meters"`
	Path            []geo.Point `json:"path,omitempty"`
}

// NewClient creates a Routes API client
func NewClient(apiKey string) *Client {
	return NewClientWithHTTPDoer(apiKey, "https://routes.googleapis.com", &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom transport and base URL
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
	}
}

// travelMode maps a planner mode to the Routes API travel mode
func travelMode(mode routing.Mode) (string, error) {
	switch mode {
	case routing.Walking:
		return "WALK", nil
	case routing.Driving:
		return "DRIVE", nil
	case routing.Biking:
		return "BICYCLE", nil
	case routing.Public:
		return "TRANSIT", nil
	default:
		return "", &routing.UnsupportedModeError{Mode: string(mode)}
	}
}

// ComputeBaseline returns the first route Google suggests between the two points
func (c *Client) ComputeBaseline(ctx context.Context, origin, destination geo.Point, mode routing.Mode) (*Baseline, error) {
	travel, err := travelMode(mode)
	if err != nil {
		return nil, err
	}

	requestBody := computeRoutesRequest{
		Origin:      waypointFor(origin),
		Destination: waypointFor(destination),
		TravelMode:  travel,
	}
	// Routing preference is only accepted for driving modes
	if travel == "DRIVE" {
		requestBody.RoutingPreference = "TRAFFIC_AWARE_OPTIMAL"
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/directions/v2:computeRoutes", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// The field mask is mandatory; without it the API rejects the request
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", "routes.duration,routes.distanceMeters,routes.polyline.encodedPolyline")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded")
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	var response computeRoutesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(response.Routes) == 0 {
		return nil, fmt.Errorf("no routes found in response")
	}

	return processRoute(response.Routes[0])
}

func processRoute(route googleRoute) (*Baseline, error) {
	duration, err := parseDuration(route.Duration)
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration: %w", err)
	}

	baseline := &Baseline{
		DurationSeconds: duration,
		DistanceMeters:  float64(route.DistanceMeters),
	}
	if route.Polyline.EncodedPolyline != "" {
		path, err := geo.NewGeoUtils().DecodePolyline(route.Polyline.EncodedPolyline)
		if err != nil {
			return nil, fmt.Errorf("failed to decode polyline: %w", err)
		}
		baseline.Path = path
	}
	return baseline, nil
}

// parseDuration parses Google's protobuf duration strings such as "450s" or "3.5s"
func parseDuration(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	return strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
}

func waypointFor(p geo.Point) waypoint {
	var w waypoint
	w.Location.LatLng.Latitude = p.Latitude
	w.Location.LatLng.Longitude = p.Longitude
	return w
}

type waypoint struct {
	Location struct {
		LatLng struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"latLng"`
	} `json:"location"`
}

type computeRoutesRequest struct {
	Origin            waypoint `json:"origin"`
	Destination       waypoint `json:"destination"`
	TravelMode        string   `json:"travelMode"`
	RoutingPreference string   `json:"routingPreference,omitempty"`
}

type computeRoutesResponse struct {
	Routes []googleRoute `json:"routes"`
}

type googleRoute struct {
	Duration       string `json:"duration"`
	DistanceMeters int32  `json:"distanceMeters"`
	Polyline       struct {
		EncodedPolyline string `json:"encodedPolyline"`
	} `json:"polyline"`
}
