package scoring

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// ScoredPolygon is an area carrying a hazard/walkability score in [0,1]
type ScoredPolygon struct {
	RegionID string      `json:"region_id"`
	Polygon  orb.Polygon `json:"polygon"`
	Score    float64     `json:"score"`
}

// MalformedLayerError reports a scoring dataset that cannot be joined
type MalformedLayerError struct {
	Source string
	Reason string
}

func (e *MalformedLayerError) Error() string {
	return fmt.Sprintf("malformed scoring layer %s: %s", e.Source, e.Reason)
}

// ScoreRoute returns the length-weighted mean score of the polygons path
// passes through, or nil when the path touches none of them. Nil means no
// data and is distinct from a score of 0.
func ScoreRoute(path []geo.Point, polygons []ScoredPolygon) *float64 {
	if len(path) < 2 || len(polygons) == 0 {
		return nil
	}

	lengths := make([]float64, len(polygons))
	total := 0.0
	for i, sp := range polygons {
		lengths[i] = geo.LengthInPolygon(path, sp.Polygon)
		total += lengths[i]
	}
	if total <= 0 {
		return nil
	}

	// Normalizing weights first keeps a single-polygon route at exactly its score
	score := 0.0
	for i, sp := range polygons {
		if lengths[i] > 0 {
			score += (lengths[i] / total) * sp.Score
		}
	}
	score = clamp(score)
	return &score
}

// Breakdown is one polygon's contribution to a route score
type Breakdown struct {
	RegionID     string  `json:"region_id"`
	Score        float64 `json:"score"`
	LengthMeters float64 `json:"length_meters"`
}

// ScoreBreakdown lists every polygon the path crosses with the meters inside it
func ScoreBreakdown(path []geo.Point, polygons []ScoredPolygon) []Breakdown {
	var out []Breakdown
	for _, sp := range polygons {
		length := geo.LengthInPolygon(path, sp.Polygon)
		if length > 0 {
			out = append(out, Breakdown{RegionID: sp.RegionID, Score: sp.Score, LengthMeters: length})
		}
	}
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
