package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dpup/saferoute/server/internal/cache"
	"github.com/dpup/saferoute/server/internal/clients/dataset"
	"github.com/dpup/saferoute/server/internal/clients/firms"
	"github.com/dpup/saferoute/server/internal/clients/google"
	"github.com/dpup/saferoute/server/internal/clients/ors"
	"github.com/dpup/saferoute/server/internal/clients/overpass"
	"github.com/dpup/saferoute/server/internal/config"
	"github.com/dpup/saferoute/server/internal/lib/routing"
	"github.com/dpup/saferoute/server/internal/observability"
	"github.com/dpup/saferoute/server/internal/services"
	"github.com/dpup/saferoute/server/internal/store"
)

func main() {
	ctx := logging.With(context.Background(), logging.NewProdLogger())

	// Load configuration using Prefab's config system
	appConfig := loadConfig()

	if appConfig.Routing.ORSAPIKey == "" {
		log.Fatal("routing.ors_api_key is required: the server is the only holder of the routing credential")
	}
	if appConfig.Hazards.MapKey == "" {
		log.Printf("hazards.map_key not set, the FIRMS feed will reject requests")
	}

	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(ctx, 10*time.Minute)

	metrics, err := observability.NewCollector(prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}
	healthServer := health.NewServer()

	// External clients
	firmsClient := firms.NewClient(firms.Options{
		MapKey:   appConfig.Hazards.MapKey,
		Source:   appConfig.Hazards.Source,
		DayRange: appConfig.Hazards.DayRange,
		BaseURL:  appConfig.Hazards.BaseURL,
	})
	orsClient := ors.NewClient(appConfig.Routing.ORSAPIKey, appConfig.Routing.ORSBaseURL)
	datasetClient := dataset.NewClient(appConfig.Scoring.Regions, cacheInstance, appConfig.Scoring.TTL)
	amenityClient := overpass.NewClient(appConfig.Amenities.Endpoint, appConfig.Amenities.Timeout)

	var baseline services.BaselineProvider
	if appConfig.Baseline.GoogleAPIKey != "" {
		baseline = google.NewClient(appConfig.Baseline.GoogleAPIKey)
		log.Printf("Baseline routes enabled (Google Routes API)")
	}

	// Hazard ingestion
	hazardService := services.NewHazardService(firmsClient, cacheInstance, &appConfig.Hazards)
	hazardService.SetMetrics(metrics)
	hazardService.SetHealthServer(healthServer)

	if dsn := appConfig.Hazards.ArchiveDSN; dsn != "" {
		archive, err := openArchive(ctx, dsn)
		if err != nil {
			log.Printf("Hazard archive disabled: %v", err)
		} else {
			defer archive.Close()
			hazardService.SetArchive(archive)
			log.Printf("Hazard archive enabled")
		}
	}

	if err := hazardService.StartPeriodicRefresh(ctx); err != nil {
		log.Printf("Failed to start hazard refresh: %v", err)
	}

	go func() {
		if err := services.NewLayerWarmer(datasetClient, 2*time.Minute).WarmLayers(ctx); err != nil {
			log.Printf("Scoring layer warm-up incomplete: %v", err)
		}
	}()

	// Routing pipeline
	planner := routing.NewPlanner(orsClient, appConfig.Routing.Timeout)
	safeRouteService := services.NewSafeRouteService(hazardService, planner, datasetClient, baseline,
		&appConfig.Hazards, &appConfig.Routing)
	safeRouteService.SetMetrics(metrics)

	handlers := services.NewHandlers(safeRouteService, hazardService, orsClient, amenityClient, appConfig)
	handlers.SetMetrics(metrics)

	log.Printf("Safe route server starting")
	log.Printf("Hazard source: %s, radius %.0f km, buffer %.0f m, fail-open %v",
		firmsClient.Source(), appConfig.Hazards.RadiusKm, appConfig.Hazards.BufferRadiusM, appConfig.Hazards.FailOpen)
	log.Printf("Scoring regions: %d", len(appConfig.Scoring.Regions))

	// Create Prefab server with GRPC reflection enabled
	// Server configuration (port, etc.) will be loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithHTTPHandlerFunc("/metrics", metrics.Handler().ServeHTTP),
		prefab.WithHTTPHandlerFunc(services.APIPrefix, handlers.Handler().ServeHTTP),
	)

	healthpb.RegisterHealthServer(server.ServiceRegistrar(), healthServer)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	hazardService.Stop()
}

// loadConfig loads configuration using Prefab's config system
// Configuration is loaded from prefab.yaml and environment variables with PF__ prefix
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	sections := map[string]interface{}{
		"hazards":   &appConfig.Hazards,
		"routing":   &appConfig.Routing,
		"scoring":   &appConfig.Scoring,
		"amenities": &appConfig.Amenities,
		"baseline":  &appConfig.Baseline,
	}
	for key, target := range sections {
		if err := prefab.Config.Unmarshal(key, target); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", key, err)
		}
	}

	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return appConfig
}

func openArchive(ctx context.Context, dsn string) (*store.Archive, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	archive, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := archive.EnsureSchema(ctx); err != nil {
		archive.Close()
		return nil, err
	}
	return archive, nil
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>saferoute</title>
    <style>
        body { font-family: 'Courier New', Consolas, monospace; background: #000; color: #0f0; padding: 20px; line-height: 1.4; }
        a { color: #0ff; text-decoration: none; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">saferoute</span>

Hazard-aware routing for disaster assistance. Routes are planned around
active fire detections and scored against local walkability data.

<span class="header">API Endpoints:</span>

  POST /api/v1/routes/safe                  - Plan a route around current hazards
  POST /api/v1/directions/{profile}         - Directions relay (foot-walking, driving-car, cycling-regular)
  <a href="/api/v1/hazards">GET  /api/v1/hazards</a>                       - Current hazard detections (?lat=&amp;lng=&amp;radius_km=)
  <a href="/api/v1/hazards/exclusion.kml">GET  /api/v1/hazards/exclusion.kml</a>         - Exclusion zones as KML
  GET  /api/v1/amenities                     - Nearby shelter, medical, food (?lat=&amp;lng=&amp;kind=)
  <a href="/metrics">GET  /metrics</a>                              - Prometheus metrics

<span class="header">Data Sources:</span>
  • NASA FIRMS          - Active fire detections
  • OpenRouteService    - Directions with avoid_polygons
  • OpenStreetMap       - Amenities via Overpass
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}
