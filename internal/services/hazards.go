package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dpup/prefab/logging"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dpup/saferoute/server/internal/cache"
	"github.com/dpup/saferoute/server/internal/config"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
	"github.com/dpup/saferoute/server/internal/observability"
)

// HazardHealthService is the gRPC health service name reporting feed status
const HazardHealthService = "hazards"

// minRetryInterval throttles on-demand refreshes after a failed fetch
const minRetryInterval = time.Minute

// ErrHazardsUnavailable is returned when no hazard data can be served and
// fail-open is disabled.
var ErrHazardsUnavailable = errors.New("hazard data unavailable")

// HazardFetcher fetches the current hazard feed
type HazardFetcher interface {
	FetchFeed(ctx context.Context, asOf time.Time) (hazard.FeedResult, error)
	Source() string
}

// HazardArchive persists ingested points
type HazardArchive interface {
	Record(ctx context.Context, points []hazard.Point) (int64, error)
}

// HazardService owns the hazard snapshot. It refreshes the snapshot from the
// feed and decides what to serve when the feed is down.
type HazardService struct {
	fetcher HazardFetcher
	cache   *cache.Cache
	config  *config.HazardsConfig

	archive HazardArchive
	metrics *observability.Collector
	health  *health.Server

	minConfidence hazard.Confidence
	now           func() time.Time

	mu          sync.Mutex
	lastErr     error
	lastAttempt time.Time
	refreshing  sync.Mutex

	// Background refresh control
	stopChan chan struct{}
	running  bool
}

// NewHazardService creates a HazardService. cfg must have passed Validate.
func NewHazardService(fetcher HazardFetcher, c *cache.Cache, cfg *config.HazardsConfig) *HazardService {
	minConfidence, err := hazard.ParseConfidence(cfg.MinConfidence)
	if err != nil {
		minConfidence = hazard.ConfidenceLow
	}
	return &HazardService{
		fetcher:       fetcher,
		cache:         c,
		config:        cfg,
		minConfidence: minConfidence,
		now:           time.Now,
	}
}

// SetArchive enables archiving of every successful refresh
func (s *HazardService) SetArchive(archive HazardArchive) {
	s.archive = archive
}

// SetMetrics enables ingestion metrics
func (s *HazardService) SetMetrics(metrics *observability.Collector) {
	s.metrics = metrics
}

// SetHealthServer reports feed status under HazardHealthService
func (s *HazardService) SetHealthServer(h *health.Server) {
	s.health = h
	h.SetServingStatus(HazardHealthService, healthpb.HealthCheckResponse_UNKNOWN)
}

// FailOpen reports whether routing continues without fresh hazard data
func (s *HazardService) FailOpen() bool {
	return s.config.FailOpen
}

// Refresh fetches the feed and replaces the snapshot. On failure the previous
// snapshot is left untouched.
func (s *HazardService) Refresh(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)
	s.refreshing.Lock()
	defer s.refreshing.Unlock()

	now := s.now()
	s.mu.Lock()
	s.lastAttempt = now
	s.mu.Unlock()

	result, err := s.fetcher.FetchFeed(ctx, now)
	s.metrics.ObserveIngestion(err, len(result.Points), result.Skipped)
	if err != nil {
		s.recordFailure(ctx, err)
		return err
	}

	points := hazard.FilterByConfidence(result.Points, s.minConfidence)
	snapshot := cache.HazardSnapshot{
		Points:    points,
		FetchedAt: now.UTC(),
		Source:    s.fetcher.Source(),
		Skipped:   result.Skipped,
	}
	if err := s.cache.SetHazardSnapshot(snapshot, s.config.StaleThreshold); err != nil {
		s.recordFailure(ctx, err)
		return fmt.Errorf("failed to store hazard snapshot: %w", err)
	}

	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
	s.setHealth(healthpb.HealthCheckResponse_SERVING)

	logging.Infow(ctx, "Hazard snapshot refreshed",
		"source", snapshot.Source, "points", len(points), "skipped", result.Skipped,
		"below_confidence", len(result.Points)-len(points))

	if s.archive != nil && len(points) > 0 {
		if n, err := s.archive.Record(ctx, points); err != nil {
			logging.Warnw(ctx, "Failed to archive hazard points", "error", err)
		} else {
			logging.Infow(ctx, "Archived hazard points", "new", n)
		}
	}
	return nil
}

func (s *HazardService) recordFailure(ctx context.Context, err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()

	_, found, _, _ := s.cache.HazardSnapshot()
	if found || s.config.FailOpen {
		s.setHealth(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.setHealth(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	logging.Warnw(ctx, "Hazard refresh failed", "error", err, "fail_open", s.config.FailOpen, "have_snapshot", found)
}

func (s *HazardService) setHealth(status healthpb.HealthCheckResponse_ServingStatus) {
	if s.health != nil {
		s.health.SetServingStatus(HazardHealthService, status)
	}
}

// LastError returns the error from the most recent refresh, or nil if it succeeded
func (s *HazardService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Hazards returns the snapshot to route against. A missing snapshot triggers
// one on-demand refresh. When the feed has failed, fail-open serves the last
// snapshot or an empty one; otherwise ErrHazardsUnavailable is returned.
func (s *HazardService) Hazards(ctx context.Context) (cache.HazardSnapshot, bool, error) {
	ctx = logging.EnsureLogger(ctx)
	snapshot, found, stale, err := s.cache.HazardSnapshot()
	if err != nil {
		logging.Errorw(ctx, "Hazard snapshot unreadable", "error", err)
	}

	if !found && s.shouldRetry() {
		if refreshErr := s.Refresh(ctx); refreshErr == nil {
			snapshot, found, stale, err = s.cache.HazardSnapshot()
		}
	}

	if found && err == nil {
		if stale && !s.config.FailOpen && s.LastError() != nil {
			return cache.HazardSnapshot{}, true, fmt.Errorf("%w: snapshot from %s is stale: %v",
				ErrHazardsUnavailable, snapshot.FetchedAt.Format(time.RFC3339), s.LastError())
		}
		return snapshot, stale, nil
	}

	if !s.config.FailOpen {
		if last := s.LastError(); last != nil {
			return cache.HazardSnapshot{}, true, fmt.Errorf("%w: %v", ErrHazardsUnavailable, last)
		}
		return cache.HazardSnapshot{}, true, ErrHazardsUnavailable
	}

	logging.Warnw(ctx, "Serving empty hazard set", "fail_open", true)
	return cache.HazardSnapshot{Source: s.fetcher.Source()}, true, nil
}

func (s *HazardService) shouldRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr == nil || s.now().Sub(s.lastAttempt) >= minRetryInterval
}
