package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/saferoute/server/internal/clients/google"
	"github.com/dpup/saferoute/server/internal/clients/relay"
	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

func main() {
	var (
		serverURL = flag.String("server", "http://localhost:8080", "Base URL of a running saferoute server")
		originStr = flag.String("origin", "33.749000,-84.388000", "Origin coordinates (lat,lng)")
		destStr   = flag.String("dest", "33.775600,-84.396300", "Destination coordinates (lat,lng)")
		mode      = flag.String("mode", "walking", "Transportation mode: walking, driving, biking, public")
		hazardStr = flag.String("hazard", "", "Optional hazard to avoid (lat,lng)")
		radius    = flag.Float64("radius", hazard.DefaultBufferRadiusMeters, "Hazard buffer radius in meters")
		timeout   = flag.Duration("timeout", routing.DefaultTimeout, "Directions timeout")
		baseline  = flag.Bool("baseline", false, "Also fetch a Google baseline route (needs GOOGLE_API_KEY)")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Safe Route Test Tool\n\n")
		fmt.Printf("Plans a route through the server's directions relay. No routing key is needed locally.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -mode=driving\n", os.Args[0])
		fmt.Printf("  %s -hazard=\"33.7600,-84.3900\" -radius=500\n", os.Args[0])
		return
	}

	origin := parsePoint("origin", *originStr)
	destination := parsePoint("destination", *destStr)

	var hazards []hazard.Point
	if *hazardStr != "" {
		hazards = append(hazards, hazard.Point{
			Location:   parsePoint("hazard", *hazardStr),
			Confidence: hazard.ConfidenceHigh,
			AcquiredAt: time.Now().UTC(),
			Source:     "cli",
		})
	}
	region := hazard.BuildExclusionRegion(hazards, *radius)

	fmt.Printf("Safe Route Test\n")
	fmt.Printf("===============\n")
	fmt.Printf("Relay: %s\n", *serverURL)
	fmt.Printf("Origin: %.6f, %.6f\n", origin.Latitude, origin.Longitude)
	fmt.Printf("Destination: %.6f, %.6f\n", destination.Latitude, destination.Longitude)
	fmt.Printf("Mode: %s\n", *mode)
	fmt.Printf("Exclusion polygons: %d\n\n", region.Len())

	planner := routing.NewPlanner(relay.NewClient(*serverURL), *timeout)
	result, err := planner.PlanRoute(context.Background(), routing.RouteRequest{
		Origin:      origin,
		Destination: destination,
		Exclusion:   region,
		Mode:        routing.ParseMode(*mode),
	})
	if err != nil {
		log.Fatalf("Route request rejected: %v", err)
	}

	if result.ETASeconds == nil {
		var backendErr *routing.DirectionsBackendError
		if errors.As(result.Failure, &backendErr) && backendErr.StatusCode != 0 {
			log.Fatalf("No route: relay returned HTTP %d", backendErr.StatusCode)
		}
		log.Fatalf("No route: %v", result.Failure)
	}

	fmt.Printf("Distance: %.2f km\n", *result.DistanceMeters/1000.0)
	fmt.Printf("Duration: %.1f minutes\n", *result.ETASeconds/60.0)
	if result.Path == nil {
		fmt.Printf("Geometry: unusable (%v)\n", result.Failure)
	} else {
		fmt.Printf("Geometry: %d points\n", len(result.Path))
		inside := 0
		for _, p := range result.Path {
			if region.Contains(p) {
				inside++
			}
		}
		fmt.Printf("Points inside exclusion zones: %d\n", inside)
	}

	if *baseline {
		printBaseline(origin, destination, routing.ParseMode(*mode))
	}
}

func printBaseline(origin, destination geo.Point, mode routing.Mode) {
	key := os.Getenv("GOOGLE_API_KEY")
	if key == "" {
		log.Printf("GOOGLE_API_KEY not set, skipping baseline")
		return
	}

	b, err := google.NewClient(key).ComputeBaseline(context.Background(), origin, destination, mode)
	if err != nil {
		log.Printf("Baseline failed: %v", err)
		return
	}
	fmt.Printf("\nBaseline (hazard-unaware):\n")
	fmt.Printf("Distance: %.2f km\n", b.DistanceMeters/1000.0)
	fmt.Printf("Duration: %.1f minutes\n", b.DurationSeconds/60.0)
}

func parsePoint(name, s string) geo.Point {
	var lat, lng float64
	if _, err := fmt.Sscanf(s, "%f,%f", &lat, &lng); err != nil {
		log.Fatalf("Invalid %s coordinates: %v", name, err)
	}
	p, err := geo.NewPoint(lat, lng)
	if err != nil {
		log.Fatalf("Invalid %s coordinates: %v", name, err)
	}
	return p
}
