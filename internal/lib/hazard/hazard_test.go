package hazard

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

const viirsFeed = `latitude,longitude,bright_ti4,scan,track,acq_date,acq_time,satellite,instrument,confidence,version,bright_ti5,frp,daynight
33.75012,-84.38791,331.2,0.39,0.36,2025-02-21,1842,N,VIIRS,n,2.0NRT,290.1,5.3,D
33.80120,-84.41000,345.9,0.41,0.37,2025-02-21,642,N,VIIRS,h,2.0NRT,291.4,12.8,N
not-a-number,-84.41000,345.9,0.41,0.37,2025-02-21,0642,N,VIIRS,h,2.0NRT,291.4,12.8,N
-12.41230,130.86120,330.0,0.39,0.36,2025-02-21,0405,N,VIIRS,l,2.0NRT,295.0,2.1,D
`

func TestParseFeed_HeaderLookup(t *testing.T) {
	result, err := ParseFeed(strings.NewReader(viirsFeed), "VIIRS_SNPP_NRT")
	require.NoError(t, err)

	require.Len(t, result.Points, 3)
	assert.Equal(t, 1, result.Skipped)

	first := result.Points[0]
	assert.Equal(t, geo.Point{Latitude: 33.75012, Longitude: -84.38791}, first.Location)
	assert.Equal(t, ConfidenceMedium, first.Confidence)
	assert.Equal(t, time.Date(2025, 2, 21, 18, 42, 0, 0, time.UTC), first.AcquiredAt)
	assert.Equal(t, "VIIRS_SNPP_NRT", first.Source)

	// acq_time without a leading zero
	assert.Equal(t, time.Date(2025, 2, 21, 6, 42, 0, 0, time.UTC), result.Points[1].AcquiredAt)
	assert.Equal(t, ConfidenceHigh, result.Points[1].Confidence)
	assert.Equal(t, ConfidenceLow, result.Points[2].Confidence)
}

func TestParseFeed_ColumnOrderIndependent(t *testing.T) {
	feed := "confidence,acq_date,LONGITUDE,Latitude\n85,2025-03-01,-120.5,38.1\n"

	result, err := ParseFeed(strings.NewReader(feed), "MODIS_NRT")
	require.NoError(t, err)
	require.Len(t, result.Points, 1)
	assert.Equal(t, geo.Point{Latitude: 38.1, Longitude: -120.5}, result.Points[0].Location)
	assert.Equal(t, ConfidenceHigh, result.Points[0].Confidence)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), result.Points[0].AcquiredAt)
}

func TestParseFeed_MissingColumns(t *testing.T) {
	tests := []struct {
		name string
		feed string
	}{
		{"no confidence", "latitude,longitude,acq_date\n1,2,2025-01-01\n"},
		{"no coordinates", "lat,lon,confidence\n1,2,h\n"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFeed(strings.NewReader(tt.feed), "test")
			var malformed *MalformedFeedError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			assert.Equal(t, "test", malformed.Source)
		})
	}
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		in   string
		want Confidence
	}{
		{"l", ConfidenceLow},
		{"N", ConfidenceMedium},
		{"m", ConfidenceMedium},
		{"h", ConfidenceHigh},
		{"nominal", ConfidenceMedium},
		{" high ", ConfidenceHigh},
		{"0", ConfidenceLow},
		{"29", ConfidenceLow},
		{"30", ConfidenceMedium},
		{"79.9", ConfidenceMedium},
		{"80", ConfidenceHigh},
		{"100", ConfidenceHigh},
	}
	for _, tt := range tests {
		got, err := ParseConfidence(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "x", "101", "-1"} {
		_, err := ParseConfidence(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfidence_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		C Confidence `json:"c"`
	}{ConfidenceHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"c":"high"}`, string(data))

	var decoded struct {
		C Confidence `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"c":"nominal"}`), &decoded))
	assert.Equal(t, ConfidenceMedium, decoded.C)
}

func TestFilterByRadius(t *testing.T) {
	center := geo.Point{Latitude: 33.7490, Longitude: -84.3880}
	near := Point{Location: geo.Point{Latitude: 33.7500, Longitude: -84.3880}}
	far := Point{Location: geo.Point{Latitude: 34.7490, Longitude: -84.3880}}
	boundary := Point{Location: geo.Point{Latitude: 33.8490, Longitude: -84.3880}}
	boundaryKm := geo.DistanceKm(center, boundary.Location)

	filtered := FilterByRadius([]Point{near, far, boundary}, center, boundaryKm)
	assert.Equal(t, []Point{near, boundary}, filtered, "point exactly at the radius is included")

	// Zero radius keeps only a detection at the center itself
	atCenter := Point{Location: center}
	assert.Equal(t, []Point{atCenter}, FilterByRadius([]Point{atCenter, near}, center, 0))

	assert.Empty(t, FilterByRadius(nil, center, 50))
}

func TestFilterByConfidence(t *testing.T) {
	low := Point{Confidence: ConfidenceLow}
	medium := Point{Confidence: ConfidenceMedium}
	high := Point{Confidence: ConfidenceHigh}

	assert.Equal(t, []Point{medium, high}, FilterByConfidence([]Point{low, medium, high}, ConfidenceMedium))
	assert.Len(t, FilterByConfidence([]Point{low, medium, high}, ConfidenceLow), 3)
}

func TestSortByDistance(t *testing.T) {
	center := geo.Point{}
	a := Point{Location: geo.Point{Latitude: 2}}
	b := Point{Location: geo.Point{Latitude: 1}}
	in := []Point{a, b}

	assert.Equal(t, []Point{b, a}, SortByDistance(in, center))
	assert.Equal(t, []Point{a, b}, in, "input is not reordered")
}

func TestBuildExclusionRegion_Empty(t *testing.T) {
	region := BuildExclusionRegion(nil, DefaultBufferRadiusMeters)
	assert.True(t, region.Empty())
	assert.Equal(t, 0, region.Len())
	assert.Nil(t, region.GeoJSON())
	assert.Empty(t, region.Rings())
}

func TestBuildExclusionRegion_SinglePoint(t *testing.T) {
	center := geo.Point{Latitude: 33.7756, Longitude: -84.3844}
	region := BuildExclusionRegion([]Point{{Location: center, Confidence: ConfidenceHigh}}, 1000)

	require.Equal(t, 1, region.Len())
	rings := region.Rings()
	require.Len(t, rings, 1)
	ring := rings[0]

	require.GreaterOrEqual(t, len(ring), 33)
	assert.Equal(t, ring[0], ring[len(ring)-1], "ring must be closed")

	var sumLat, sumLng float64
	for _, v := range ring[:len(ring)-1] {
		assert.LessOrEqual(t, geo.Haversine(center, v), 1000*(1+1e-6))
		sumLat += v.Latitude
		sumLng += v.Longitude
	}
	n := float64(len(ring) - 1)
	assert.InDelta(t, center.Latitude, sumLat/n, 1e-5)
	assert.InDelta(t, center.Longitude, sumLng/n, 1e-5)

	assert.True(t, region.Contains(center))
	assert.False(t, region.Contains(geo.Point{Latitude: 33.80, Longitude: -84.3844}))
}

func TestBuildExclusionRegion_NearAntimeridian(t *testing.T) {
	center := geo.Point{Latitude: -17.8, Longitude: 179.999}
	region := BuildExclusionRegion([]Point{{Location: center, Confidence: ConfidenceHigh}}, 1000)

	assert.True(t, region.Contains(center))
	assert.False(t, region.Contains(geo.Point{Latitude: -17.8, Longitude: 0}))
	assert.False(t, region.Contains(geo.Point{Latitude: 0, Longitude: 0}))
}

func TestBuildExclusionRegion_OverlapsKeptSeparate(t *testing.T) {
	a := Point{Location: geo.Point{Latitude: 10, Longitude: 10}}
	b := Point{Location: geo.Point{Latitude: 10.001, Longitude: 10}}

	region := BuildExclusionRegion([]Point{a, b}, 1000)
	assert.Equal(t, 2, region.Len())
	for _, polygon := range region.MultiPolygon() {
		require.Len(t, polygon, 1)
		assert.True(t, geo.Closed(polygon[0]))
	}
}

func TestExclusionRegion_GeoJSON(t *testing.T) {
	region := BuildExclusionRegion([]Point{{Location: geo.Point{Latitude: 33.7, Longitude: -84.4}}}, 500)

	data, err := json.Marshal(region.GeoJSON())
	require.NoError(t, err)

	var decoded struct {
		Type        string          `json:"type"`
		Coordinates [][][][]float64 `json:"coordinates"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "MultiPolygon", decoded.Type)
	require.Len(t, decoded.Coordinates, 1)

	// Longitude first on the wire
	first := decoded.Coordinates[0][0][0]
	assert.InDelta(t, -84.4, first[0], 0.01)
	assert.InDelta(t, 33.7, first[1], 0.01)
}

func TestExclusionRegion_MultiPolygonIsCopy(t *testing.T) {
	region := BuildExclusionRegion([]Point{{Location: geo.Point{Latitude: 1, Longitude: 1}}}, 100)
	mp := region.MultiPolygon()
	mp[0][0][0] = orb.Point{99, 99}

	assert.NotEqual(t, orb.Point{99, 99}, region.MultiPolygon()[0][0][0])
}

func TestExclusionRegion_WriteKML(t *testing.T) {
	region := BuildExclusionRegion([]Point{
		{Location: geo.Point{Latitude: 33.7, Longitude: -84.4}},
		{Location: geo.Point{Latitude: 33.8, Longitude: -84.5}},
	}, 500)

	var buf bytes.Buffer
	require.NoError(t, region.WriteKML(&buf, "active fires"))

	out := buf.String()
	assert.Contains(t, out, "<kml")
	assert.Contains(t, out, "<name>active fires</name>")
	assert.Contains(t, out, "<name>exclusion-2</name>")
	assert.Equal(t, 2, strings.Count(out, "<Placemark>"))
	assert.Contains(t, out, "<coordinates>")
}

func TestDemoPoint(t *testing.T) {
	user := geo.Point{Latitude: 33.7756178, Longitude: -84.396285}
	now := time.Date(2025, 2, 21, 12, 0, 0, 0, time.UTC)

	p := DemoPoint(user, now)
	assert.Equal(t, DemoSource, p.Source)
	assert.Equal(t, ConfidenceHigh, p.Confidence)
	assert.Equal(t, now, p.AcquiredAt)
	assert.InDelta(t, 1100, geo.Haversine(user, p.Location), 50)
}
