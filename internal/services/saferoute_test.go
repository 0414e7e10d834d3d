package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

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

var (
	origin      = geo.Point{Latitude: 33.7490, Longitude: -84.3880}
	destination = geo.Point{Latitude: 33.7756, Longitude: -84.3963}
)

type stubHazards struct {
	snapshot cache.HazardSnapshot
	stale    bool
	err      error
}

func (s *stubHazards) Hazards(ctx context.Context) (cache.HazardSnapshot, bool, error) {
	return s.snapshot, s.stale, s.err
}

type stubLayers struct {
	polygons map[string][]scoring.ScoredPolygon
}

func (s *stubLayers) Layer(ctx context.Context, regionID string) ([]scoring.ScoredPolygon, error) {
	polygons, ok := s.polygons[regionID]
	if !ok {
		return nil, &dataset.UnknownRegionError{RegionID: regionID}
	}
	return polygons, nil
}

type stubBaseline struct {
	baseline *google.Baseline
	err      error
}

func (s *stubBaseline) ComputeBaseline(ctx context.Context, origin, destination geo.Point, mode routing.Mode) (*google.Baseline, error) {
	return s.baseline, s.err
}

type mockDirections struct {
	mock.Mock
}

func (m *mockDirections) ComputeDirections(ctx context.Context, profile routing.Profile, req routing.DirectionsRequest) ([]byte, error) {
	args := m.Called(ctx, profile, req)
	var body []byte
	if v := args.Get(0); v != nil {
		body = v.([]byte)
	}
	return body, args.Error(1)
}

// funcDirections adapts a function to routing.DirectionsBackend
type funcDirections func(ctx context.Context, profile routing.Profile, req routing.DirectionsRequest) ([]byte, error)

func (f funcDirections) ComputeDirections(ctx context.Context, profile routing.Profile, req routing.DirectionsRequest) ([]byte, error) {
	return f(ctx, profile, req)
}

func routeFixture() []byte {
	return []byte(fmt.Sprintf(`{
		"type": "FeatureCollection",
		"features": [{
			"type": "Feature",
			"properties": {"summary": {"distance": 3400.5, "duration": 2460}},
			"geometry": {"type": "LineString", "coordinates": [[%g, %g], [-84.3901, 33.7602], [%g, %g]]}
		}]
	}`, origin.Longitude, origin.Latitude, destination.Longitude, destination.Latitude))
}

// atlantaSquare covers the whole fixture route
var atlantaSquare = orb.Polygon{{{-85, 33}, {-84, 33}, {-84, 34}, {-85, 34}, {-85, 33}}}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Hazards.RadiusKm = 10
	return cfg
}

func newTestService(hazards HazardProvider, backend routing.DirectionsBackend, layers LayerProvider, baseline BaselineProvider) *SafeRouteService {
	cfg := testConfig()
	return NewSafeRouteService(hazards, routing.NewPlanner(backend, time.Second), layers, baseline, &cfg.Hazards, &cfg.Routing)
}

func TestPlanSafeRoute_NoHazardsOmitsAvoidPolygons(t *testing.T) {
	backend := &mockDirections{}
	backend.On("ComputeDirections", mock.Anything, routing.ProfileFootWalking, mock.Anything).Return(routeFixture(), nil)

	svc := newTestService(&stubHazards{snapshot: cache.HazardSnapshot{Source: "VIIRS_SNPP_NRT"}}, backend, nil, nil)
	resp, err := svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: origin, Destination: destination, Mode: "walking",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, routing.ProfileFootWalking, resp.Profile)
	require.True(t, resp.Route.OK())
	assert.Equal(t, 2460.0, *resp.Route.ETASeconds)
	assert.Equal(t, 3400.5, *resp.Route.DistanceMeters)
	assert.Equal(t, origin, resp.Route.Path[0])
	assert.Equal(t, destination, resp.Route.Path[2])
	assert.Nil(t, resp.Score, "no region means no score")
	assert.Equal(t, 0, resp.Exclusion.Polygons)

	req := backend.Calls[0].Arguments.Get(2).(routing.DirectionsRequest)
	assert.Nil(t, req.Options)
	assert.Equal(t, [2]float64{origin.Longitude, origin.Latitude}, req.Coordinates[0])
}

func TestPlanSafeRoute_AvoidsNearbyHazards(t *testing.T) {
	near := hazard.Point{Location: geo.Point{Latitude: 33.7600, Longitude: -84.3800}, Confidence: hazard.ConfidenceHigh}
	far := hazard.Point{Location: geo.Point{Latitude: 34.5, Longitude: -84.3880}, Confidence: hazard.ConfidenceHigh}

	backend := &mockDirections{}
	backend.On("ComputeDirections", mock.Anything, routing.ProfileDrivingCar, mock.Anything).Return(routeFixture(), nil)

	svc := newTestService(&stubHazards{snapshot: cache.HazardSnapshot{Points: []hazard.Point{near, far}}}, backend, nil, nil)
	resp, err := svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: origin, Destination: destination, Mode: "public",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Exclusion.Polygons, "the hazard outside the radius is ignored")
	req := backend.Calls[0].Arguments.Get(2).(routing.DirectionsRequest)
	require.NotNil(t, req.Options)
	require.NotNil(t, req.Options.AvoidPolygons)
	multi, ok := req.Options.AvoidPolygons.Coordinates.(orb.MultiPolygon)
	require.True(t, ok)
	assert.Len(t, multi, 1)

	require.Len(t, resp.Hazards, 1)
	assert.Equal(t, routing.Nearby, resp.Hazards[0].Classification)
}

func TestPlanSafeRoute_Scoring(t *testing.T) {
	backend := &mockDirections{}
	backend.On("ComputeDirections", mock.Anything, mock.Anything, mock.Anything).Return(routeFixture(), nil)

	layers := &stubLayers{polygons: map[string][]scoring.ScoredPolygon{
		"atlanta":   {{RegionID: "13121", Polygon: atlantaSquare, Score: 0.37}},
		"elsewhere": {{RegionID: "x", Polygon: orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}, Score: 0.9}},
	}}
	svc := newTestService(&stubHazards{}, backend, layers, nil)

	resp, err := svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: origin, Destination: destination, Mode: "biking", RegionID: "atlanta",
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Score)
	assert.Equal(t, 0.37, *resp.Score, "a route inside one polygon scores exactly that polygon")
	require.Len(t, resp.ScoreBreakdown, 1)

	resp, err = svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: origin, Destination: destination, Mode: "biking", RegionID: "elsewhere",
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Score, "no intersecting polygon is no data, not zero")

	_, err = svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: origin, Destination: destination, Mode: "biking", RegionID: "atlantis",
	})
	var invalid *InvalidRequestError
	assert.True(t, errors.As(err, &invalid))
}

func TestPlanSafeRoute_Rejections(t *testing.T) {
	backend := &mockDirections{}
	svc := newTestService(&stubHazards{}, backend, nil, nil)

	_, err := svc.PlanSafeRoute(testCtx(), SafeRouteRequest{Origin: origin, Destination: destination, Mode: "hovercraft"})
	var unsupported *routing.UnsupportedModeError
	assert.True(t, errors.As(err, &unsupported))

	_, err = svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: geo.Point{Latitude: 91}, Destination: destination, Mode: "walking",
	})
	var invalid *InvalidRequestError
	assert.True(t, errors.As(err, &invalid))

	unavailable := newTestService(&stubHazards{err: ErrHazardsUnavailable}, backend, nil, nil)
	_, err = unavailable.PlanSafeRoute(testCtx(), SafeRouteRequest{Origin: origin, Destination: destination, Mode: "walking"})
	assert.True(t, errors.Is(err, ErrHazardsUnavailable))

	backend.AssertNotCalled(t, "ComputeDirections", mock.Anything, mock.Anything, mock.Anything)
}

func TestPlanSafeRoute_BackendFailureIsNotAnError(t *testing.T) {
	backend := &mockDirections{}
	backend.On("ComputeDirections", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &routing.DirectionsBackendError{StatusCode: 403, Body: `{"error":"Access to this API has been disallowed"}`})

	reg := prometheus.NewRegistry()
	metrics, err := observability.NewCollector(reg)
	require.NoError(t, err)

	svc := newTestService(&stubHazards{}, backend, nil, &stubBaseline{baseline: &google.Baseline{DurationSeconds: 600}})
	svc.SetMetrics(metrics)

	resp, err := svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: origin, Destination: destination, Mode: "driving", IncludeBaseline: true,
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Route.ETASeconds)
	assert.Nil(t, resp.Route.DistanceMeters)
	assert.Nil(t, resp.Route.Path)
	assert.Contains(t, resp.RouteError, "HTTP 403")
	assert.Empty(t, resp.Hazards)
	require.NotNil(t, resp.Baseline, "the baseline is independent of the safe route")
	assert.Equal(t, 600.0, resp.Baseline.DurationSeconds)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoutePlans.WithLabelValues("driving-car", observability.OutcomeBackendError)))
}

func TestPlanSafeRoute_DemoHazard(t *testing.T) {
	backend := &mockDirections{}
	backend.On("ComputeDirections", mock.Anything, mock.Anything, mock.Anything).Return(routeFixture(), nil)

	svc := newTestService(&stubHazards{}, backend, nil, &stubBaseline{err: errors.New("quota exceeded")})
	resp, err := svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: origin, Destination: destination, Mode: "walking", Demo: true, IncludeBaseline: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Exclusion.Polygons)
	require.Len(t, resp.Hazards, 1)
	assert.Equal(t, hazard.DemoSource, resp.Hazards[0].Source)
	assert.Nil(t, resp.Baseline, "baseline failures are logged and dropped")
}

func TestPlanSafeRoute_SessionLatestWins(t *testing.T) {
	slow := geo.Point{Latitude: 33.8000, Longitude: -84.4000}
	started := make(chan struct{})

	backend := funcDirections(func(ctx context.Context, profile routing.Profile, req routing.DirectionsRequest) ([]byte, error) {
		if req.Coordinates[1] == geo.ToLngLat(slow) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return routeFixture(), nil
	})
	svc := newTestService(&stubHazards{}, backend, nil, nil)
	metrics, err := observability.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)
	svc.SetMetrics(metrics)

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
			Origin: origin, Destination: slow, Mode: "walking", SessionID: "caller-1",
		})
		firstErr <- err
	}()
	<-started

	resp, err := svc.PlanSafeRoute(testCtx(), SafeRouteRequest{
		Origin: origin, Destination: destination, Mode: "walking", SessionID: "caller-1",
	})
	require.NoError(t, err)
	assert.True(t, resp.Route.OK())

	select {
	case err := <-firstErr:
		assert.True(t, errors.Is(err, ErrSuperseded))
	case <-time.After(time.Second):
		t.Fatal("superseded request never returned")
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoutePlans.WithLabelValues("foot-walking", observability.OutcomeSuperseded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RoutePlans.WithLabelValues("foot-walking", observability.OutcomeOK)))
}
