package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
	"github.com/dpup/saferoute/server/internal/lib/scoring"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	geoUtils := geo.NewGeoUtils()

	switch command {
	case "point-distance":
		handlePointDistance(geoUtils)
	case "buffer":
		handleBuffer()
	case "decode":
		handleDecode(geoUtils)
	case "score":
		handleScore()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handlePointDistance(geoUtils geo.GeoUtils) {
	fs := flag.NewFlagSet("point-distance", flag.ExitOnError)
	lat1 := fs.Float64("lat1", 0, "Latitude of first point")
	lng1 := fs.Float64("lng1", 0, "Longitude of first point")
	lat2 := fs.Float64("lat2", 0, "Latitude of second point")
	lng2 := fs.Float64("lng2", 0, "Longitude of second point")

	_ = fs.Parse(os.Args[2:])

	if *lat1 == 0 && *lng1 == 0 && *lat2 == 0 && *lng2 == 0 {
		fmt.Println("Example usage:")
		fmt.Println("  test-geo-utils point-distance --lat1 33.7490 --lng1 -84.3880 --lat2 33.7756 --lng2 -84.3963")
		fmt.Println("  (Downtown Atlanta to Midtown)")
		os.Exit(1)
	}

	p1 := geo.Point{Latitude: *lat1, Longitude: *lng1}
	p2 := geo.Point{Latitude: *lat2, Longitude: *lng2}

	distance, err := geoUtils.PointToPoint(p1, p2)
	if err != nil {
		log.Fatalf("Error calculating distance: %v", err)
	}

	fmt.Printf("Distance between points:\n")
	fmt.Printf("  Point 1: (%.6f, %.6f)\n", p1.Latitude, p1.Longitude)
	fmt.Printf("  Point 2: (%.6f, %.6f)\n", p2.Latitude, p2.Longitude)
	fmt.Printf("  Distance: %.2f meters (%.2f km, %.2f miles)\n",
		distance, distance/1000, distance*0.000621371)
}

func handleBuffer() {
	fs := flag.NewFlagSet("buffer", flag.ExitOnError)
	lat := fs.Float64("lat", 0, "Latitude of the hazard")
	lng := fs.Float64("lng", 0, "Longitude of the hazard")
	radius := fs.Float64("radius", hazard.DefaultBufferRadiusMeters, "Buffer radius in meters")
	kml := fs.Bool("kml", false, "Write KML instead of GeoJSON")

	_ = fs.Parse(os.Args[2:])

	center, err := geo.NewPoint(*lat, *lng)
	if err != nil {
		log.Fatalf("Invalid hazard location: %v", err)
	}

	region := hazard.BuildExclusionRegion([]hazard.Point{{
		Location:   center,
		Confidence: hazard.ConfidenceHigh,
		AcquiredAt: time.Now().UTC(),
		Source:     "cli",
	}}, *radius)

	if *kml {
		if err := region.WriteKML(os.Stdout, "test-geo-utils buffer"); err != nil {
			log.Fatalf("Error writing KML: %v", err)
		}
		return
	}

	out, err := json.MarshalIndent(region.GeoJSON(), "", "  ")
	if err != nil {
		log.Fatalf("Error encoding GeoJSON: %v", err)
	}
	fmt.Println(string(out))
	fmt.Fprintf(os.Stderr, "%d polygon(s), %d vertices each, radius %.0f m\n",
		region.Len(), hazard.BufferVertices, *radius)
}

func handleDecode(geoUtils geo.GeoUtils) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	geometry := fs.String("geometry", "", "Route geometry: JSON LineString, [lng,lat,...] array, or quoted encoded polyline")

	_ = fs.Parse(os.Args[2:])

	if *geometry == "" {
		fmt.Println("Example usage:")
		fmt.Println(`  test-geo-utils decode --geometry '{"type":"LineString","coordinates":[[-84.388,33.749],[-84.3963,33.7756]]}'`)
		fmt.Println(`  test-geo-utils decode --geometry '"_p~iF~ps|U_ulLnnqC_mqNvxq` + "`" + `@"'`)
		os.Exit(1)
	}

	path, err := geo.DecodePath(json.RawMessage(*geometry))
	if err != nil {
		log.Fatalf("Error decoding geometry: %v", err)
	}

	fmt.Printf("Decoded %d points (%.2f km):\n", len(path), geoUtils.PathLength(path)/1000)
	for i, p := range path {
		fmt.Printf("  %d: lat %.6f, lng %.6f\n", i+1, p.Latitude, p.Longitude)
	}
}

func handleScore() {
	fs := flag.NewFlagSet("score", flag.ExitOnError)
	features := fs.String("features", "", "GeoJSON FeatureCollection of scored areas")
	scores := fs.String("scores", "", "CSV score table")
	keyProperty := fs.String("key-property", "GEOID", "Feature property joining to the score table")
	keyColumn := fs.String("key-column", "GEOID", "Score table key column")
	scoreColumn := fs.String("score-column", "pei", "Score table value column")
	geometry := fs.String("geometry", "", "Route geometry to score (see decode)")

	_ = fs.Parse(os.Args[2:])

	if *features == "" || *scores == "" || *geometry == "" {
		fmt.Println("Example usage:")
		fmt.Println(`  test-geo-utils score --features tracts.geojson --scores pei.csv --geometry '[-84.388,33.749,-84.3963,33.7756]'`)
		os.Exit(1)
	}

	featureData, err := os.ReadFile(*features)
	if err != nil {
		log.Fatalf("Error reading features: %v", err)
	}
	scoreFile, err := os.Open(*scores)
	if err != nil {
		log.Fatalf("Error opening scores: %v", err)
	}
	defer scoreFile.Close()

	polygons, err := scoring.LoadLayer(featureData, scoreFile, *scores, *keyProperty, *keyColumn, *scoreColumn)
	if err != nil {
		log.Fatalf("Error loading layer: %v", err)
	}

	path, err := geo.DecodePath(json.RawMessage(*geometry))
	if err != nil {
		log.Fatalf("Error decoding geometry: %v", err)
	}

	fmt.Printf("Layer: %d scored polygons\n", len(polygons))
	for _, b := range scoring.ScoreBreakdown(path, polygons) {
		fmt.Printf("  %s: score %.3f over %.1f m\n", b.RegionID, b.Score, b.LengthMeters)
	}
	if score := scoring.ScoreRoute(path, polygons); score != nil {
		fmt.Printf("Route score: %.4f\n", *score)
	} else {
		fmt.Printf("Route score: no data (route crosses no scored polygon)\n")
	}
}

func printUsage() {
	fmt.Println("test-geo-utils - exercise the geometry, buffer and scoring helpers")
	fmt.Println()
	fmt.Println("Usage: test-geo-utils <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  point-distance   Haversine distance between two points")
	fmt.Println("  buffer           Exclusion polygon around a hazard (GeoJSON or --kml)")
	fmt.Println("  decode           Decode route geometry into lat/lng points")
	fmt.Println("  score            Length-weighted score of a route against a layer")
	fmt.Println("  help             Show this message")
}
