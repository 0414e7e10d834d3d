package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
)

func TestRowConversion(t *testing.T) {
	acquired := time.Date(2025, 2, 21, 18, 42, 0, 0, time.UTC)
	points := []hazard.Point{
		{Location: geo.Point{Latitude: 33.75, Longitude: -84.39}, Confidence: hazard.ConfidenceMedium, AcquiredAt: acquired, Source: "VIIRS_SNPP_NRT"},
		{Location: geo.Point{Latitude: -12.4, Longitude: 130.8}, Confidence: hazard.ConfidenceHigh, AcquiredAt: acquired, Source: "MODIS_NRT"},
	}

	rows := toRows(points)
	require.Len(t, rows, 2)
	assert.Equal(t, "medium", rows[0].Confidence)
	assert.Equal(t, -84.39, rows[0].Longitude)

	back, err := fromRows(rows)
	require.NoError(t, err)
	assert.Equal(t, points, back)

	_, err = fromRows([]hazardRow{{Confidence: "sideways"}})
	assert.Error(t, err)
}

// TestArchive_Postgres runs against a real database when SAFEROUTE_TEST_DSN is set
func TestArchive_Postgres(t *testing.T) {
	dsn := os.Getenv("SAFEROUTE_TEST_DSN")
	if dsn == "" {
		t.Skip("SAFEROUTE_TEST_DSN not set")
	}

	ctx := context.Background()
	archive, err := Open(ctx, dsn)
	require.NoError(t, err)
	defer archive.Close()

	require.NoError(t, archive.EnsureSchema(ctx))

	source := "TEST_" + time.Now().Format("150405.000000")
	acquired := time.Now().UTC().Truncate(time.Second)
	points := []hazard.Point{
		{Location: geo.Point{Latitude: 33.75, Longitude: -84.39}, Confidence: hazard.ConfidenceHigh, AcquiredAt: acquired, Source: source},
	}

	n, err := archive.Record(ctx, points)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = archive.Record(ctx, points)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "duplicates are ignored")

	got, err := archive.Since(ctx, acquired.Add(-time.Minute), []string{source})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, acquired.Equal(got[0].AcquiredAt))
}
