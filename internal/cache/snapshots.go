package cache

import (
	"time"

	"github.com/dpup/saferoute/server/internal/lib/hazard"
	"github.com/dpup/saferoute/server/internal/lib/scoring"
)

const (
	hazardSnapshotKey = "hazards:snapshot"
	layerKeyPrefix    = "scoring_layer:"
)

// HazardSnapshot is the most recently ingested hazard set
type HazardSnapshot struct {
	Points    []hazard.Point `json:"points"`
	FetchedAt time.Time      `json:"fetched_at"`
	Source    string         `json:"source"`
	Skipped   int            `json:"skipped"`
}

// SetHazardSnapshot replaces the current hazard snapshot. The snapshot is
// pinned: during a feed outage it turns stale but is kept until replaced.
func (c *Cache) SetHazardSnapshot(snapshot HazardSnapshot, refreshInterval time.Duration) error {
	return c.SetPinned(hazardSnapshotKey, snapshot, refreshInterval, snapshot.Source)
}

// HazardSnapshot returns the last snapshot whether or not it has expired.
// stale is true once the snapshot is past its refresh interval.
func (c *Cache) HazardSnapshot() (snapshot HazardSnapshot, found bool, stale bool, err error) {
	_, found, err = c.GetStale(hazardSnapshotKey, &snapshot)
	if err != nil || !found {
		return HazardSnapshot{}, found, false, err
	}
	return snapshot, true, c.IsStale(hazardSnapshotKey), nil
}

// SetScoringLayer caches the joined polygons for regionID
func (c *Cache) SetScoringLayer(regionID string, polygons []scoring.ScoredPolygon, ttl time.Duration) error {
	return c.Set(layerKeyPrefix+regionID, polygons, ttl, "scoring_layer")
}

// ScoringLayer returns the cached polygons for regionID if still fresh
func (c *Cache) ScoringLayer(regionID string) ([]scoring.ScoredPolygon, bool, error) {
	var polygons []scoring.ScoredPolygon
	found, err := c.Get(layerKeyPrefix+regionID, &polygons)
	if err != nil || !found {
		return nil, false, err
	}
	return polygons, true, nil
}
