package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/saferoute/server/internal/lib/scoring"
)

// LayerSource lists and reloads scoring layers
type LayerSource interface {
	RegionIDs() []string
	Refresh(ctx context.Context, regionID string) ([]scoring.ScoredPolygon, error)
}

// LayerWarmer loads every configured scoring layer ahead of the first request
type LayerWarmer struct {
	source  LayerSource
	timeout time.Duration
}

// NewLayerWarmer creates a warmer; timeout bounds the whole warm-up
func NewLayerWarmer(source LayerSource, timeout time.Duration) *LayerWarmer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &LayerWarmer{source: source, timeout: timeout}
}

// WarmLayers loads every region. A region that fails does not stop the others;
// the returned error lists how many failed.
func (w *LayerWarmer) WarmLayers(ctx context.Context) error {
	ctx = logging.EnsureLogger(ctx)
	regions := w.source.RegionIDs()
	if len(regions) == 0 {
		logging.Infow(ctx, "No scoring regions configured, skipping layer warm-up")
		return nil
	}

	warmCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	failed := 0
	for _, id := range regions {
		polygons, err := w.source.Refresh(warmCtx, id)
		if err != nil {
			failed++
			logging.Warnw(ctx, "Scoring layer warm-up failed", "region", id, "error", err)
			continue
		}
		logging.Infow(ctx, "Scoring layer warmed", "region", id, "polygons", len(polygons))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scoring layers failed to load", failed, len(regions))
	}
	return nil
}
