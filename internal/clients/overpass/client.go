package overpass

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/serjvanilla/go-overpass"

	"github.com/dpup/saferoute/server/internal/lib/geo"
)

// DefaultEndpoint is the public Overpass API interpreter
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// Kind groups OSM amenity tags into the categories a disaster-assistance user needs
type Kind string

const (
	Shelter Kind = "shelter"
	Medical Kind = "medical"
	Food    Kind = "food"
)

// Kinds lists every supported kind
var Kinds = []Kind{Shelter, Medical, Food}

var amenityTags = map[Kind][]string{
	Shelter: {"shelter", "social_facility", "community_centre", "place_of_worship"},
	Medical: {"hospital", "clinic", "doctors", "pharmacy"},
	Food:    {"food_bank", "restaurant", "fast_food", "cafe", "marketplace"},
}

// ParseKind validates a kind name
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := amenityTags[k]; !ok {
		return "", fmt.Errorf("unknown amenity kind %q", s)
	}
	return k, nil
}

// Amenity is a nearby facility
type Amenity struct {
	ID             int64     `json:"id"`
	Kind           Kind      `json:"kind"`
	Category       string    `json:"category"`
	Name           string    `json:"name,omitempty"`
	Location       geo.Point `json:"location"`
	DistanceMeters float64   `json:"distance_meters"`
}

type querier interface {
	Query(query string) (overpass.Result, error)
}

// Client finds amenities near a point through the Overpass API
type Client struct {
	api     querier
	timeout time.Duration
}

// NewClient creates a client for endpoint with at most two parallel queries
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	api := overpass.NewWithSettings(endpoint, 2, &http.Client{Timeout: timeout})
	return &Client{api: &api, timeout: timeout}
}

// Nearby returns up to limit amenities of kind within radiusMeters of center, nearest first
func (c *Client) Nearby(ctx context.Context, center geo.Point, radiusMeters float64, kind Kind, limit int) ([]Amenity, error) {
	tags, ok := amenityTags[kind]
	if !ok {
		return nil, fmt.Errorf("unknown amenity kind %q", kind)
	}
	if !geo.IsValid(center) {
		return nil, fmt.Errorf("invalid center %v", center)
	}

	result, err := c.query(ctx, buildQuery(center, radiusMeters, tags, c.timeout))
	if err != nil {
		return nil, fmt.Errorf("overpass query failed: %w", err)
	}

	amenities := collect(result, kind, tags, center)
	// Overpass results come back as maps; ties are broken by ID for stable output
	sort.Slice(amenities, func(i, j int) bool {
		a, b := amenities[i], amenities[j]
		if a.DistanceMeters != b.DistanceMeters {
			return a.DistanceMeters < b.DistanceMeters
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Name < b.Name
	})
	if limit > 0 && len(amenities) > limit {
		amenities = amenities[:limit]
	}
	return amenities, nil
}

// query runs the blocking Overpass call and gives up when ctx is done
func (c *Client) query(ctx context.Context, q string) (overpass.Result, error) {
	type outcome struct {
		result overpass.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := c.api.Query(q)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return overpass.Result{}, ctx.Err()
	case out := <-done:
		return out.result, out.err
	}
}

func buildQuery(center geo.Point, radiusMeters float64, tags []string, timeout time.Duration) string {
	around := fmt.Sprintf("(around:%.0f,%f,%f)", radiusMeters, center.Latitude, center.Longitude)
	filter := fmt.Sprintf(`["amenity"~"^(%s)$"]`, strings.Join(tags, "|"))
	return fmt.Sprintf(`[out:json][timeout:%d];
(
  node%s%s;
  way%s%s;
);
out body;
>;
out skel qt;`, int(timeout.Seconds()), filter, around, filter, around)
}

func collect(result overpass.Result, kind Kind, tags []string, center geo.Point) []Amenity {
	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[t] = true
	}

	var amenities []Amenity
	for _, node := range result.Nodes {
		category := node.Tags["amenity"]
		if !wanted[category] {
			continue
		}
		location := geo.Point{Latitude: node.Lat, Longitude: node.Lon}
		amenities = append(amenities, Amenity{
			ID:             node.ID,
			Kind:           kind,
			Category:       category,
			Name:           node.Tags["name"],
			Location:       location,
			DistanceMeters: geo.Haversine(center, location),
		})
	}

	for _, way := range result.Ways {
		category := way.Tags["amenity"]
		if !wanted[category] || len(way.Nodes) == 0 {
			continue
		}
		var lat, lon float64
		for _, node := range way.Nodes {
			lat += node.Lat
			lon += node.Lon
		}
		n := float64(len(way.Nodes))
		location := geo.Point{Latitude: lat / n, Longitude: lon / n}
		amenities = append(amenities, Amenity{
			ID:             way.ID,
			Kind:           kind,
			Category:       category,
			Name:           way.Tags["name"],
			Location:       location,
			DistanceMeters: geo.Haversine(center, location),
		})
	}
	return amenities
}
