package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/saferoute/server/internal/clients/overpass"
	"github.com/dpup/saferoute/server/internal/config"
	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
	"github.com/dpup/saferoute/server/internal/lib/routing"
	"github.com/dpup/saferoute/server/internal/observability"
)

// HTTP paths served by Handlers
const (
	APIPrefix         = "/api/v1/"
	SafeRoutePath     = "/api/v1/routes/safe"
	DirectionsPath    = "/api/v1/directions/"
	HazardsPath       = "/api/v1/hazards"
	ExclusionKMLPath  = "/api/v1/hazards/exclusion.kml"
	AmenitiesPath     = "/api/v1/amenities"
	maxRequestBytes   = 1 << 20
	defaultAmenityMax = 10
)

// AmenityFinder looks up facilities near a point
type AmenityFinder interface {
	Nearby(ctx context.Context, center geo.Point, radiusMeters float64, kind overpass.Kind, limit int) ([]overpass.Amenity, error)
}

// Handlers serves the JSON API
type Handlers struct {
	routes    *SafeRouteService
	hazards   HazardProvider
	relay     routing.DirectionsBackend
	amenities AmenityFinder
	metrics   *observability.Collector

	hazardConfig  *config.HazardsConfig
	amenityConfig *config.AmenitiesConfig
	relayTimeout  time.Duration
}

// NewHandlers creates the API handlers. relay holds the directions credential;
// amenities may be nil.
func NewHandlers(routes *SafeRouteService, hazards HazardProvider, relay routing.DirectionsBackend,
	amenities AmenityFinder, cfg *config.Config) *Handlers {
	return &Handlers{
		routes:        routes,
		hazards:       hazards,
		relay:         relay,
		amenities:     amenities,
		hazardConfig:  &cfg.Hazards,
		amenityConfig: &cfg.Amenities,
		relayTimeout:  cfg.Routing.Timeout,
	}
}

// SetMetrics enables relay metrics
func (h *Handlers) SetMetrics(metrics *observability.Collector) {
	h.metrics = metrics
}

// Handler routes every API path; mount it under APIPrefix
func (h *Handlers) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(SafeRoutePath, h.SafeRoute)
	mux.HandleFunc(DirectionsPath, h.Directions)
	mux.HandleFunc(HazardsPath, h.Hazards)
	mux.HandleFunc(ExclusionKMLPath, h.ExclusionKML)
	mux.HandleFunc(AmenitiesPath, h.Amenities)
	return withLogger(mux)
}

// withLogger makes sure every request context carries a prefab logger
func withLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(logging.EnsureLogger(r.Context())))
	})
}

// SafeRoute handles POST /api/v1/routes/safe
func (h *Handlers) SafeRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(r.Context(), w, http.StatusMethodNotAllowed, errors.New("use POST"))
		return
	}

	var req SafeRouteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, fmt.Errorf("malformed request body: %w", err))
		return
	}

	resp, err := h.routes.PlanSafeRoute(r.Context(), req)
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

// Directions handles POST /api/v1/directions/{profile}. It forwards the
// request to the routing engine with the server-held credential and passes the
// engine's status and body through.
func (h *Handlers) Directions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(r.Context(), w, http.StatusMethodNotAllowed, errors.New("use POST"))
		return
	}

	profile := routing.Profile(strings.Trim(strings.TrimPrefix(r.URL.Path, DirectionsPath), "/"))
	if !routing.ValidProfile(profile) {
		writeError(r.Context(), w, http.StatusNotFound, fmt.Errorf("unknown routing profile %q", profile))
		return
	}

	var req routing.DirectionsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, fmt.Errorf("malformed directions request: %w", err))
		return
	}
	if len(req.Coordinates) < 2 {
		writeError(r.Context(), w, http.StatusBadRequest, errors.New("at least two coordinates are required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.relayTimeout)
	defer cancel()

	body, err := h.relay.ComputeDirections(ctx, profile, req)
	if err != nil {
		var backendErr *routing.DirectionsBackendError
		if errors.As(err, &backendErr) && backendErr.StatusCode != 0 {
			h.metrics.ObserveRelay(string(profile), backendErr.StatusCode)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(backendErr.StatusCode)
			_, _ = io.WriteString(w, backendErr.Body)
			return
		}
		h.metrics.ObserveRelay(string(profile), http.StatusBadGateway)
		logging.Warnw(r.Context(), "Directions relay failed", "profile", profile, "error", err)
		writeError(r.Context(), w, http.StatusBadGateway, errors.New("directions backend unavailable"))
		return
	}

	h.metrics.ObserveRelay(string(profile), http.StatusOK)
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		logging.Warnw(r.Context(), "Failed to write directions response", "error", err)
	}
}

// HazardsResponse is the body of GET /api/v1/hazards
type HazardsResponse struct {
	Points    []hazard.Point `json:"points"`
	Source    string         `json:"source"`
	FetchedAt time.Time      `json:"fetched_at"`
	Stale     bool           `json:"stale"`
}

// Hazards handles GET /api/v1/hazards. With lat and lng the points are
// limited to radius_km (default hazards.radius_km) and sorted nearest first.
func (h *Handlers) Hazards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(r.Context(), w, http.StatusMethodNotAllowed, errors.New("use GET"))
		return
	}

	points, snapshot, ok := h.nearbyHazards(w, r)
	if !ok {
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, HazardsResponse{
		Points:    points,
		Source:    snapshot.source,
		FetchedAt: snapshot.fetchedAt,
		Stale:     snapshot.stale,
	})
}

// ExclusionKML handles GET /api/v1/hazards/exclusion.kml
func (h *Handlers) ExclusionKML(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(r.Context(), w, http.StatusMethodNotAllowed, errors.New("use GET"))
		return
	}

	points, snapshot, ok := h.nearbyHazards(w, r)
	if !ok {
		return
	}
	region := hazard.BuildExclusionRegion(points, h.hazardConfig.BufferRadiusM)

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	name := fmt.Sprintf("Hazard exclusion zones (%s)", snapshot.source)
	if err := region.WriteKML(w, name); err != nil {
		logging.Errorw(r.Context(), "Failed to write exclusion KML", "error", err)
	}
}

type snapshotInfo struct {
	source    string
	fetchedAt time.Time
	stale     bool
}

func (h *Handlers) nearbyHazards(w http.ResponseWriter, r *http.Request) ([]hazard.Point, snapshotInfo, bool) {
	q := r.URL.Query()

	minimum := hazard.ConfidenceLow
	if v := q.Get("min_confidence"); v != "" {
		c, err := hazard.ParseConfidence(v)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, err)
			return nil, snapshotInfo{}, false
		}
		minimum = c
	}

	var center *geo.Point
	if q.Get("lat") != "" || q.Get("lng") != "" {
		p, err := parsePoint(q.Get("lat"), q.Get("lng"))
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, err)
			return nil, snapshotInfo{}, false
		}
		center = &p
	}

	radiusKm, err := floatParam(q.Get("radius_km"), h.hazardConfig.RadiusKm)
	if err != nil || radiusKm < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, errors.New("radius_km must be a non-negative number"))
		return nil, snapshotInfo{}, false
	}

	snapshot, stale, err := h.hazards.Hazards(r.Context())
	if err != nil {
		writeError(r.Context(), w, statusFor(err), err)
		return nil, snapshotInfo{}, false
	}

	points := hazard.FilterByConfidence(snapshot.Points, minimum)
	if center != nil {
		points = hazard.SortByDistance(hazard.FilterByRadius(points, *center, radiusKm), *center)
	}
	if points == nil {
		points = []hazard.Point{}
	}
	return points, snapshotInfo{source: snapshot.Source, fetchedAt: snapshot.FetchedAt, stale: stale}, true
}

// Amenities handles GET /api/v1/amenities?lat=&lng=&radius_m=&kind=&limit=
func (h *Handlers) Amenities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(r.Context(), w, http.StatusMethodNotAllowed, errors.New("use GET"))
		return
	}
	if h.amenities == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, errors.New("amenity lookup is not configured"))
		return
	}

	q := r.URL.Query()
	center, err := parsePoint(q.Get("lat"), q.Get("lng"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	kind, err := overpass.ParseKind(q.Get("kind"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}
	radius, err := floatParam(q.Get("radius_m"), h.amenityConfig.RadiusM)
	if err != nil || radius <= 0 {
		writeError(r.Context(), w, http.StatusBadRequest, errors.New("radius_m must be a positive number"))
		return
	}
	limit := h.amenityConfig.Limit
	if limit <= 0 {
		limit = defaultAmenityMax
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	amenities, err := h.amenities.Nearby(r.Context(), center, radius, kind, limit)
	if err != nil {
		logging.Warnw(r.Context(), "Amenity lookup failed", "kind", kind, "error", err)
		writeError(r.Context(), w, http.StatusBadGateway, errors.New("amenity lookup failed"))
		return
	}
	if amenities == nil {
		amenities = []overpass.Amenity{}
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"amenities": amenities})
}

func parsePoint(lat, lng string) (geo.Point, error) {
	latitude, err := strconv.ParseFloat(lat, 64)
	if err != nil {
		return geo.Point{}, errors.New("lat must be a number")
	}
	longitude, err := strconv.ParseFloat(lng, 64)
	if err != nil {
		return geo.Point{}, errors.New("lng must be a number")
	}
	return geo.NewPoint(latitude, longitude)
}

func floatParam(v string, fallback float64) (float64, error) {
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

// statusFor maps pipeline errors to HTTP status codes
func statusFor(err error) int {
	var unsupported *routing.UnsupportedModeError
	var invalid *InvalidRequestError
	switch {
	case errors.As(err, &unsupported), errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, ErrHazardsUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	writeJSON(ctx, w, status, errorResponse{Error: err.Error()})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warnw(ctx, "Failed to encode response", "error", err)
	}
}
