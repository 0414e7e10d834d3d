package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/saferoute/server/internal/clients/firms"
	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
)

func main() {
	var (
		mapKey   = flag.String("map-key", "", "FIRMS map key (or set FIRMS_MAP_KEY env var)")
		source   = flag.String("source", firms.DefaultSource, "FIRMS product, e.g. VIIRS_SNPP_NRT, MODIS_NRT")
		days     = flag.Int("days", 1, "Day range, 1-10")
		lat      = flag.Float64("lat", 34.0522, "Center latitude")
		lng      = flag.Float64("lng", -118.2437, "Center longitude")
		radiusKm = flag.Float64("radius", 50, "Radius in km")
		minimum  = flag.String("min-confidence", "low", "Minimum confidence: low, nominal, high")
		limit    = flag.Int("limit", 20, "Maximum detections to print")
		writeKML = flag.String("kml", "", "Write the exclusion region to this KML file")
		bufferM  = flag.Float64("buffer", hazard.DefaultBufferRadiusMeters, "Buffer radius in meters for -kml")
		help     = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("FIRMS Feed Test Tool\n\n")
		fmt.Printf("Fetches active fire detections and filters them around a point.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
		return
	}

	key := *mapKey
	if key == "" {
		key = os.Getenv("FIRMS_MAP_KEY")
	}
	if key == "" {
		log.Fatal("FIRMS map key required. Use -map-key flag or FIRMS_MAP_KEY env var")
	}

	center, err := geo.NewPoint(*lat, *lng)
	if err != nil {
		log.Fatalf("Invalid center: %v", err)
	}
	minConfidence, err := hazard.ParseConfidence(*minimum)
	if err != nil {
		log.Fatalf("Invalid -min-confidence: %v", err)
	}

	client := firms.NewClient(firms.Options{MapKey: key, Source: *source, DayRange: *days})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	start := time.Now()
	feed, err := client.FetchFeed(ctx, time.Now())
	if err != nil {
		log.Fatalf("Feed fetch failed: %v", err)
	}

	fmt.Printf("FIRMS %s: %d detections (%d rows skipped) in %v\n",
		client.Source(), len(feed.Points), feed.Skipped, time.Since(start).Round(time.Millisecond))

	points := hazard.FilterByConfidence(feed.Points, minConfidence)
	points = hazard.SortByDistance(hazard.FilterByRadius(points, center, *radiusKm), center)
	fmt.Printf("Within %.0f km of (%.4f, %.4f) at %s or above: %d\n\n",
		*radiusKm, center.Latitude, center.Longitude, minConfidence, len(points))

	for i, p := range points {
		if i >= *limit {
			fmt.Printf("  ... %d more\n", len(points)-*limit)
			break
		}
		fmt.Printf("  %6.2f km  (%.4f, %.4f)  %-6s  %s\n",
			geo.DistanceKm(center, p.Location), p.Location.Latitude, p.Location.Longitude,
			p.Confidence, p.AcquiredAt.Format(time.RFC3339))
	}

	if *writeKML != "" {
		f, err := os.Create(*writeKML)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *writeKML, err)
		}
		defer f.Close()

		region := hazard.BuildExclusionRegion(points, *bufferM)
		if err := region.WriteKML(f, fmt.Sprintf("FIRMS %s exclusion zones", client.Source())); err != nil {
			log.Fatalf("Failed to write KML: %v", err)
		}
		fmt.Printf("\nWrote %d exclusion polygons to %s\n", region.Len(), *writeKML)
	}
}
