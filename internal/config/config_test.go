package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpup/saferoute/server/internal/clients/dataset"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Hazards.FailOpen, "routing stays available when the feed is down")
	assert.Equal(t, 1000.0, cfg.Hazards.BufferRadiusM)
	assert.Equal(t, "10s", cfg.Routing.Timeout.String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative radius", func(c *Config) { c.Hazards.RadiusKm = -1 }},
		{"zero buffer", func(c *Config) { c.Hazards.BufferRadiusM = 0 }},
		{"zero refresh", func(c *Config) { c.Hazards.RefreshInterval = 0 }},
		{"bad confidence", func(c *Config) { c.Hazards.MinConfidence = "certain" }},
		{"zero timeout", func(c *Config) { c.Routing.Timeout = 0 }},
		{"missing region id", func(c *Config) { c.Scoring.Regions = []dataset.Region{{}} }},
		{"duplicate region", func(c *Config) {
			c.Scoring.Regions = []dataset.Region{{ID: "atl"}, {ID: "atl"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
