package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/dpup/saferoute/server/internal/cache"
	"github.com/dpup/saferoute/server/internal/lib/scoring"
)

const maxSourceBytes = 64 << 20

// HTTPDoer is the subset of *http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Region describes where one region's scoring layer lives. Sources are
// http(s) URLs or local file paths.
type Region struct {
	ID          string `koanf:"id"`
	FeaturesURL string `koanf:"features_url"`
	ScoresURL   string `koanf:"scores_url"`
	KeyProperty string `koanf:"key_property"`
	KeyColumn   string `koanf:"key_column"`
	ScoreColumn string `koanf:"score_column"`
}

// UnknownRegionError is returned for a region id with no configured layer
type UnknownRegionError struct {
	RegionID string
}

func (e *UnknownRegionError) Error() string {
	return fmt.Sprintf("no scoring layer configured for region %q", e.RegionID)
}

// Client loads scoring layers and keeps them in the shared cache
type Client struct {
	regions    map[string]Region
	cache      *cache.Cache
	ttl        time.Duration
	httpClient HTTPDoer
}

// NewClient creates a dataset client over the configured regions
func NewClient(regions []Region, c *cache.Cache, ttl time.Duration) *Client {
	return NewClientWithHTTPDoer(regions, c, ttl, &http.Client{Timeout: 60 * time.Second})
}

// NewClientWithHTTPDoer creates a dataset client with a custom transport
func NewClientWithHTTPDoer(regions []Region, c *cache.Cache, ttl time.Duration, doer HTTPDoer) *Client {
	byID := make(map[string]Region, len(regions))
	for _, r := range regions {
		byID[r.ID] = r
	}
	return &Client{regions: byID, cache: c, ttl: ttl, httpClient: doer}
}

// RegionIDs returns the configured region ids
func (c *Client) RegionIDs() []string {
	ids := make([]string, 0, len(c.regions))
	for id := range c.regions {
		ids = append(ids, id)
	}
	return ids
}

// Layer returns the scored polygons for regionID, loading them on a cache miss
func (c *Client) Layer(ctx context.Context, regionID string) ([]scoring.ScoredPolygon, error) {
	ctx = logging.EnsureLogger(ctx)
	if polygons, found, err := c.cache.ScoringLayer(regionID); err != nil {
		logging.Warnw(ctx, "Scoring layer cache read failed", "region", regionID, "error", err)
	} else if found {
		return polygons, nil
	}
	return c.Refresh(ctx, regionID)
}

// Refresh reloads regionID from its sources and replaces the cached copy
func (c *Client) Refresh(ctx context.Context, regionID string) ([]scoring.ScoredPolygon, error) {
	ctx = logging.EnsureLogger(ctx)
	region, ok := c.regions[regionID]
	if !ok {
		return nil, &UnknownRegionError{RegionID: regionID}
	}

	features, err := c.read(ctx, region.FeaturesURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load features for %s: %w", regionID, err)
	}
	scores, err := c.read(ctx, region.ScoresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to load scores for %s: %w", regionID, err)
	}

	polygons, err := scoring.LoadLayer(features, bytes.NewReader(scores), regionID,
		region.KeyProperty, region.KeyColumn, region.ScoreColumn)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetScoringLayer(regionID, polygons, c.ttl); err != nil {
		logging.Warnw(ctx, "Failed to cache scoring layer", "region", regionID, "error", err)
	}
	logging.Infow(ctx, "Loaded scoring layer", "region", regionID, "polygons", len(polygons))
	return polygons, nil
}

func (c *Client) read(ctx context.Context, source string) ([]byte, error) {
	if source == "" {
		return nil, fmt.Errorf("source not configured")
	}
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return os.ReadFile(strings.TrimPrefix(source, "file://"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d downloading %s", resp.StatusCode, source)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
}
