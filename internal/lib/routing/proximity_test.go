package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
)

func TestProximityClassifier_Classify(t *testing.T) {
	classifier := NewProximityClassifier(5000)
	path := []geo.Point{atlantaOrigin, atlantaDestination}

	onRoute := hazard.Point{Location: atlantaOrigin, Source: "on"}
	nearby := hazard.Point{Location: geo.Point{Latitude: 33.7600, Longitude: -84.3700}, Source: "nearby"}
	distant := hazard.Point{Location: geo.Point{Latitude: 34.5000, Longitude: -84.3900}, Source: "distant"}

	classified, err := classifier.Classify(path, []hazard.Point{distant, nearby, onRoute})
	require.NoError(t, err)
	require.Len(t, classified, 3)

	// Sorted nearest first
	assert.Equal(t, "on", classified[0].Source)
	assert.Equal(t, OnRoute, classified[0].Classification)
	assert.Less(t, classified[0].DistanceToPath, 100.0)

	assert.Equal(t, "nearby", classified[1].Source)
	assert.Equal(t, Nearby, classified[1].Classification)
	assert.Greater(t, classified[1].DistanceToPath, 100.0)
	assert.LessOrEqual(t, classified[1].DistanceToPath, 5000.0)

	assert.Equal(t, "distant", classified[2].Source)
	assert.Equal(t, Distant, classified[2].Classification)

	assert.Equal(t, 1, OnRouteCount(classified))
}

func TestProximityClassifier_Threshold(t *testing.T) {
	classifier := NewProximityClassifier(5000)
	classifier.SetOnRouteThreshold(2000)

	path := []geo.Point{atlantaOrigin, atlantaDestination}
	classified, err := classifier.Classify(path, []hazard.Point{
		{Location: geo.Point{Latitude: 33.7600, Longitude: -84.3800}},
	})
	require.NoError(t, err)
	require.Len(t, classified, 1)
	assert.Equal(t, OnRoute, classified[0].Classification)
}

func TestProximityClassifier_Errors(t *testing.T) {
	classifier := NewProximityClassifier(5000)

	_, err := classifier.Classify([]geo.Point{atlantaOrigin}, nil)
	assert.Error(t, err)

	// Invalid hazard coordinates are dropped
	classified, err := classifier.Classify([]geo.Point{atlantaOrigin, atlantaDestination}, []hazard.Point{
		{Location: geo.Point{Latitude: 100}},
	})
	require.NoError(t, err)
	assert.Empty(t, classified)
}
