package services

import (
	"context"
	"time"

	"github.com/dpup/prefab/logging"
)

// refreshTimeout bounds one background feed refresh
const refreshTimeout = 2 * time.Minute

// StartPeriodicRefresh polls the feed every hazards.refresh_interval until
// ctx is cancelled or Stop is called. The first refresh runs immediately.
func (s *HazardService) StartPeriodicRefresh(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil // Already running
	}

	s.running = true
	s.stopChan = make(chan struct{})

	interval := s.config.RefreshInterval
	logging.Infow(ctx, "Starting hazard refresh", "interval", interval.String(), "source", s.fetcher.Source())

	go s.refreshLoop(ctx, interval, s.stopChan)
	return nil
}

// Stop ends the background refresh
func (s *HazardService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

// IsRunning returns whether periodic refresh is active
func (s *HazardService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *HazardService) refreshLoop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.refreshOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Infow(ctx, "Hazard refresh stopping", "reason", ctx.Err().Error())
			return
		case <-stop:
			logging.Infow(ctx, "Hazard refresh stopped")
			return
		case <-ticker.C:
			s.refreshOnce(ctx)
		}
	}
}

func (s *HazardService) refreshOnce(ctx context.Context) {
	refreshCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	// Errors are logged and reflected in health by Refresh
	_ = s.Refresh(refreshCtx)
}
