package hazard

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// Confidence is the detection confidence reported by the feed
type Confidence int

const (
	ConfidenceLow Confidence = iota
	ConfidenceMedium
	ConfidenceHigh
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceLow:
		return "low"
	case ConfidenceMedium:
		return "medium"
	case ConfidenceHigh:
		return "high"
	default:
		return fmt.Sprintf("Confidence(%d)", int(c))
	}
}

// MarshalText renders the confidence as its lowercase name
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts anything ParseConfidence accepts
func (c *Confidence) UnmarshalText(text []byte) error {
	parsed, err := ParseConfidence(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseConfidence maps a feed confidence value to a Confidence.
// VIIRS and Landsat products report letters (l/n/h, l/m/h); MODIS reports a
// 0-100 percentage which is bucketed as <30 low, <80 medium, otherwise high.
func ParseConfidence(value string) (Confidence, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "l", "low":
		return ConfidenceLow, nil
	case "n", "m", "nominal", "medium":
		return ConfidenceMedium, nil
	case "h", "high":
		return ConfidenceHigh, nil
	}

	pct, err := strconv.ParseFloat(v, 64)
	if err != nil || pct < 0 || pct > 100 {
		return ConfidenceLow, fmt.Errorf("unrecognized confidence %q", value)
	}
	switch {
	case pct < 30:
		return ConfidenceLow, nil
	case pct < 80:
		return ConfidenceMedium, nil
	default:
		return ConfidenceHigh, nil
	}
}

// Point is a single hazard detection. Points are never modified after ingestion.
type Point struct {
	Location   geo.Point  `json:"location"`
	Confidence Confidence `json:"confidence"`
	AcquiredAt time.Time  `json:"acquired_at"`
	Source     string     `json:"source"`
}

// MalformedFeedError reports a feed that cannot be parsed at all
type MalformedFeedError struct {
	Source string
	Reason string
}

func (e *MalformedFeedError) Error() string {
	return fmt.Sprintf("malformed hazard feed %s: %s", e.Source, e.Reason)
}

// FeedUnavailableError reports a hazard feed that could not be reached
type FeedUnavailableError struct {
	Source     string
	StatusCode int
	Err        error
}

func (e *FeedUnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("hazard feed %s unavailable: HTTP %d", e.Source, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("hazard feed %s unavailable: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("hazard feed %s unavailable", e.Source)
}

func (e *FeedUnavailableError) Unwrap() error {
	return e.Err
}
