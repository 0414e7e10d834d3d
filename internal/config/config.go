package config

import (
	"fmt"
	"time"

	"github.com/dpup/saferoute/server/internal/clients/dataset"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
	"github.com/dpup/saferoute/server/internal/lib/routing"
)

// Config represents the complete server configuration. Each section is
// unmarshalled from prefab's config under the matching key.
type Config struct {
	Hazards   HazardsConfig   `koanf:"hazards"`
	Routing   RoutingConfig   `koanf:"routing"`
	Scoring   ScoringConfig   `koanf:"scoring"`
	Amenities AmenitiesConfig `koanf:"amenities"`
	Baseline  BaselineConfig  `koanf:"baseline"`
}

// HazardsConfig holds hazard feed ingestion settings
type HazardsConfig struct {
	MapKey          string        `koanf:"map_key"`
	Source          string        `koanf:"source"`
	DayRange        int           `koanf:"day_range"`
	BaseURL         string        `koanf:"base_url"`
	RadiusKm        float64       `koanf:"radius_km"`
	BufferRadiusM   float64       `koanf:"buffer_radius_m"`
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	StaleThreshold  time.Duration `koanf:"stale_threshold"`
	// FailOpen keeps routing available on the last known (or empty) hazard
	// set when the feed cannot be refreshed.
	FailOpen      bool   `koanf:"fail_open"`
	MinConfidence string `koanf:"min_confidence"`
	DemoMode      bool   `koanf:"demo_mode"`
	ArchiveDSN    string `koanf:"archive_dsn"`
}

// RoutingConfig holds directions backend settings
type RoutingConfig struct {
	ORSAPIKey    string        `koanf:"ors_api_key"`
	ORSBaseURL   string        `koanf:"ors_base_url"`
	Timeout      time.Duration `koanf:"timeout"`
	NearbyMeters float64       `koanf:"nearby_meters"`
}

// ScoringConfig holds scoring layer sources
type ScoringConfig struct {
	Regions []dataset.Region `koanf:"regions"`
	TTL     time.Duration    `koanf:"ttl"`
}

// AmenitiesConfig holds Overpass settings
type AmenitiesConfig struct {
	Endpoint string        `koanf:"endpoint"`
	Timeout  time.Duration `koanf:"timeout"`
	RadiusM  float64       `koanf:"radius_m"`
	Limit    int           `koanf:"limit"`
}

// BaselineConfig holds Google Routes settings for hazard-unaware comparisons
type BaselineConfig struct {
	GoogleAPIKey string `koanf:"google_api_key"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Hazards: HazardsConfig{
			Source:          "VIIRS_SNPP_NRT",
			DayRange:        1,
			BaseURL:         "https://firms.modaps.eosdis.nasa.gov",
			RadiusKm:        50,
			BufferRadiusM:   hazard.DefaultBufferRadiusMeters,
			RefreshInterval: 15 * time.Minute, // FIRMS NRT updates roughly every few hours
			StaleThreshold:  time.Hour,
			FailOpen:        true,
			MinConfidence:   "low",
		},
		Routing: RoutingConfig{
			ORSBaseURL:   "https://api.openrouteservice.org",
			Timeout:      routing.DefaultTimeout,
			NearbyMeters: 2000,
		},
		Scoring: ScoringConfig{
			TTL: 24 * time.Hour,
		},
		Amenities: AmenitiesConfig{
			Endpoint: "https://overpass-api.de/api/interpreter",
			Timeout:  25 * time.Second,
			RadiusM:  5000,
			Limit:    10,
		},
	}
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if c.Hazards.RadiusKm < 0 {
		return fmt.Errorf("hazards.radius_km must not be negative")
	}
	if c.Hazards.BufferRadiusM <= 0 {
		return fmt.Errorf("hazards.buffer_radius_m must be positive")
	}
	if c.Hazards.RefreshInterval <= 0 {
		return fmt.Errorf("hazards.refresh_interval must be positive")
	}
	if _, err := hazard.ParseConfidence(c.Hazards.MinConfidence); err != nil {
		return fmt.Errorf("hazards.min_confidence: %w", err)
	}
	if c.Routing.Timeout <= 0 {
		return fmt.Errorf("routing.timeout must be positive")
	}
	seen := make(map[string]bool, len(c.Scoring.Regions))
	for _, r := range c.Scoring.Regions {
		if r.ID == "" {
			return fmt.Errorf("scoring.regions: region id is required")
		}
		if seen[r.ID] {
			return fmt.Errorf("scoring.regions: duplicate region %q", r.ID)
		}
		seen[r.ID] = true
	}
	return nil
}
