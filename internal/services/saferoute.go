package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/google/uuid"

	"github.com/dpup/saferoute/server/internal/cache"
	"github.com/dpup/saferoute/server/internal/clients/dataset"
	"github.com/dpup/saferoute/server/internal/clients/google"
	"github.com/dpup/saferoute/server/internal/config"
	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
	"github.com/dpup/saferoute/server/internal/lib/routing"
	"github.com/dpup/saferoute/server/internal/lib/scoring"
	"github.com/dpup/saferoute/server/internal/observability"
)

// sessionIdleTimeout is how long an unused caller session is kept
const sessionIdleTimeout = 30 * time.Minute

// ErrSuperseded is returned when a newer request for the same session was
// issued before this one finished.
var ErrSuperseded = errors.New("route request superseded by a newer request")

// HazardProvider supplies the hazard snapshot to route against
type HazardProvider interface {
	Hazards(ctx context.Context) (snapshot cache.HazardSnapshot, stale bool, err error)
}

// LayerProvider supplies scoring polygons by region
type LayerProvider interface {
	Layer(ctx context.Context, regionID string) ([]scoring.ScoredPolygon, error)
}

// BaselineProvider computes the hazard-unaware route for comparison
type BaselineProvider interface {
	ComputeBaseline(ctx context.Context, origin, destination geo.Point, mode routing.Mode) (*google.Baseline, error)
}

// SafeRouteRequest is one safe-route request
type SafeRouteRequest struct {
	Origin      geo.Point `json:"origin"`
	Destination geo.Point `json:"destination"`
	Mode        string    `json:"mode"`
	// RegionID selects the scoring layer; empty skips scoring
	RegionID string `json:"region_id,omitempty"`
	// SessionID groups requests from one caller so only the latest applies
	SessionID       string `json:"session_id,omitempty"`
	IncludeBaseline bool   `json:"include_baseline,omitempty"`
	Demo            bool   `json:"demo,omitempty"`
}

// SafeRouteResponse is the pipeline output
type SafeRouteResponse struct {
	RequestID      string                     `json:"request_id"`
	Mode           routing.Mode               `json:"mode"`
	Profile        routing.Profile            `json:"profile"`
	Route          routing.RouteResult        `json:"route"`
	RouteError     string                     `json:"route_error,omitempty"`
	Score          *float64                   `json:"score"`
	ScoreBreakdown []scoring.Breakdown        `json:"score_breakdown,omitempty"`
	Hazards        []routing.ClassifiedHazard `json:"hazards"`
	OnRouteHazards int                        `json:"on_route_hazards"`
	Exclusion      ExclusionSummary           `json:"exclusion"`
	Baseline       *google.Baseline           `json:"baseline,omitempty"`
}

// ExclusionSummary describes the hazard set a route was planned around
type ExclusionSummary struct {
	Polygons     int       `json:"polygons"`
	BufferMeters float64   `json:"buffer_meters"`
	Source       string    `json:"source"`
	FetchedAt    time.Time `json:"fetched_at"`
	Stale        bool      `json:"stale"`
}

// SafeRouteService runs the hazard-aware routing pipeline
type SafeRouteService struct {
	hazards    HazardProvider
	planner    *routing.Planner
	layers     LayerProvider
	baseline   BaselineProvider
	classifier *routing.ProximityClassifier
	metrics    *observability.Collector

	hazardConfig *config.HazardsConfig
	now          func() time.Time

	sessionsMu sync.Mutex
	sessions   map[string]*trackedSession
}

type trackedSession struct {
	session  *routing.Session
	lastUsed time.Time
}

// NewSafeRouteService creates the pipeline. layers and baseline may be nil.
func NewSafeRouteService(hazards HazardProvider, planner *routing.Planner, layers LayerProvider,
	baseline BaselineProvider, hazardConfig *config.HazardsConfig, routingConfig *config.RoutingConfig) *SafeRouteService {
	return &SafeRouteService{
		hazards:      hazards,
		planner:      planner,
		layers:       layers,
		baseline:     baseline,
		classifier:   routing.NewProximityClassifier(routingConfig.NearbyMeters),
		hazardConfig: hazardConfig,
		now:          time.Now,
		sessions:     make(map[string]*trackedSession),
	}
}

// SetMetrics enables route plan metrics
func (s *SafeRouteService) SetMetrics(metrics *observability.Collector) {
	s.metrics = metrics
}

// PlanSafeRoute fetches hazards, builds the exclusion region, plans a route
// around it and scores the result. A route that could not be planned is not an
// error: the response carries nil route fields and RouteError.
func (s *SafeRouteService) PlanSafeRoute(ctx context.Context, req SafeRouteRequest) (*SafeRouteResponse, error) {
	ctx = logging.EnsureLogger(ctx)
	requestID := uuid.NewString()
	mode := routing.ParseMode(req.Mode)

	profile, err := routing.ProfileFor(mode)
	if err != nil {
		s.metrics.ObserveRoutePlan("none", observability.OutcomeRejected, 0)
		return nil, err
	}
	if !geo.IsValid(req.Origin) || !geo.IsValid(req.Destination) {
		s.metrics.ObserveRoutePlan(string(profile), observability.OutcomeRejected, 0)
		return nil, &InvalidRequestError{Reason: "origin and destination must be valid coordinates"}
	}

	snapshot, stale, err := s.hazards.Hazards(ctx)
	if err != nil {
		s.metrics.ObserveRoutePlan(string(profile), observability.OutcomeRejected, 0)
		return nil, err
	}

	points := hazard.FilterByRadius(snapshot.Points, req.Origin, s.hazardConfig.RadiusKm)
	if req.Demo || s.hazardConfig.DemoMode {
		points = append(points, hazard.DemoPoint(req.Origin, s.now()))
	}
	region := hazard.BuildExclusionRegion(points, s.hazardConfig.BufferRadiusM)

	resp := &SafeRouteResponse{
		RequestID: requestID,
		Mode:      mode,
		Profile:   profile,
		Exclusion: ExclusionSummary{
			Polygons:     region.Len(),
			BufferMeters: s.hazardConfig.BufferRadiusM,
			Source:       snapshot.Source,
			FetchedAt:    snapshot.FetchedAt,
			Stale:        stale,
		},
	}

	routeReq := routing.RouteRequest{
		Origin:      req.Origin,
		Destination: req.Destination,
		Exclusion:   region,
		Mode:        mode,
	}

	start := s.now()
	result, err := s.plan(ctx, req.SessionID, routeReq)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			s.metrics.ObserveRoutePlan(string(profile), observability.OutcomeSuperseded, s.now().Sub(start))
		}
		return nil, err
	}
	s.metrics.ObserveRoutePlan(string(profile), outcomeFor(result), s.now().Sub(start))

	resp.Route = result
	if result.Failure != nil {
		resp.RouteError = result.Failure.Error()
		logging.Warnw(ctx, "Route planning failed",
			"request_id", requestID, "profile", profile, "error", result.Failure)
	}

	if result.Path != nil {
		if err := s.score(ctx, req.RegionID, result.Path, resp); err != nil {
			return nil, err
		}
		classified, err := s.classifier.Classify(result.Path, points)
		if err != nil {
			logging.Warnw(ctx, "Hazard classification failed", "request_id", requestID, "error", err)
		}
		resp.Hazards = classified
		resp.OnRouteHazards = routing.OnRouteCount(classified)
	}

	if req.IncludeBaseline && s.baseline != nil {
		baseline, err := s.baseline.ComputeBaseline(ctx, req.Origin, req.Destination, mode)
		if err != nil {
			logging.Warnw(ctx, "Baseline route failed", "request_id", requestID, "error", err)
		} else {
			resp.Baseline = baseline
		}
	}

	logging.Infow(ctx, "Planned safe route",
		"request_id", requestID,
		"profile", profile,
		"exclusion_polygons", region.Len(),
		"ok", result.OK(),
		"on_route_hazards", resp.OnRouteHazards)
	return resp, nil
}

func (s *SafeRouteService) plan(ctx context.Context, sessionID string, req routing.RouteRequest) (routing.RouteResult, error) {
	if sessionID == "" {
		return s.planner.PlanRoute(ctx, req)
	}

	result, applied, err := s.session(sessionID).Plan(ctx, req)
	if err != nil {
		return routing.RouteResult{}, err
	}
	if !applied {
		return routing.RouteResult{}, ErrSuperseded
	}
	return result, nil
}

// session returns the tracker for id, pruning sessions left idle
func (s *SafeRouteService) session(id string) *routing.Session {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	now := s.now()
	for key, tracked := range s.sessions {
		if now.Sub(tracked.lastUsed) > sessionIdleTimeout {
			tracked.session.Cancel()
			delete(s.sessions, key)
		}
	}

	tracked, ok := s.sessions[id]
	if !ok {
		tracked = &trackedSession{session: routing.NewSession(s.planner)}
		s.sessions[id] = tracked
	}
	tracked.lastUsed = now
	return tracked.session
}

func (s *SafeRouteService) score(ctx context.Context, regionID string, path []geo.Point, resp *SafeRouteResponse) error {
	if regionID == "" || s.layers == nil {
		return nil
	}
	polygons, err := s.layers.Layer(ctx, regionID)
	if err != nil {
		var unknown *dataset.UnknownRegionError
		if errors.As(err, &unknown) {
			return &InvalidRequestError{Reason: err.Error()}
		}
		logging.Warnw(ctx, "Scoring layer unavailable", "region", regionID, "error", err)
		return nil
	}
	resp.Score = scoring.ScoreRoute(path, polygons)
	resp.ScoreBreakdown = scoring.ScoreBreakdown(path, polygons)
	return nil
}

func outcomeFor(result routing.RouteResult) string {
	switch {
	case result.OK():
		return observability.OutcomeOK
	case result.ETASeconds != nil:
		return observability.OutcomeInvalidGeometry
	default:
		return observability.OutcomeBackendError
	}
}

// InvalidRequestError reports a request the pipeline cannot attempt
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s", e.Reason)
}
