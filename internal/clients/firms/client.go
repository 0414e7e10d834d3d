package firms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/geo"
	"github.com/dpup/saferoute/server/internal/lib/hazard"
)

// DefaultBaseURL is the NASA FIRMS area API host
const DefaultBaseURL = "https://firms.modaps.eosdis.nasa.gov"

// DefaultSource is the FIRMS product queried when none is configured
const DefaultSource = "VIIRS_SNPP_NRT"

// HTTPDoer is the subset of *http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client downloads active-fire detections from the FIRMS area CSV API
type Client struct {
	mapKey     string
	source     string
	dayRange   int
	baseURL    string
	httpClient HTTPDoer
}

// Options configures a Client
type Options struct {
	MapKey   string
	Source   string
	DayRange int
	BaseURL  string
}

// NewClient creates a FIRMS client with a 30 second HTTP timeout
func NewClient(opts Options) *Client {
	return NewClientWithHTTPDoer(opts, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTPDoer creates a client with a custom transport
func NewClientWithHTTPDoer(opts Options, doer HTTPDoer) *Client {
	c := &Client{
		mapKey:     opts.MapKey,
		source:     opts.Source,
		dayRange:   opts.DayRange,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: doer,
	}
	if c.source == "" {
		c.source = DefaultSource
	}
	if c.dayRange < 1 {
		c.dayRange = 1
	}
	// The API accepts at most 10 days per request
	if c.dayRange > 10 {
		c.dayRange = 10
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	return c
}

// Source returns the FIRMS product name
func (c *Client) Source() string {
	return c.source
}

// FetchFeed downloads and parses the global feed for the day window ending at asOf
func (c *Client) FetchFeed(ctx context.Context, asOf time.Time) (hazard.FeedResult, error) {
	feedURL := c.feedURL(asOf)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return hazard.FeedResult{}, &hazard.FeedUnavailableError{Source: c.source, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return hazard.FeedResult{}, &hazard.FeedUnavailableError{Source: c.source, Err: redact(err, c.mapKey)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return hazard.FeedResult{}, &hazard.FeedUnavailableError{Source: c.source, StatusCode: resp.StatusCode}
	}

	result, err := hazard.ParseFeed(resp.Body, c.source)
	if err != nil {
		var malformed *hazard.MalformedFeedError
		if errors.As(err, &malformed) {
			return hazard.FeedResult{}, err
		}
		return hazard.FeedResult{}, &hazard.FeedUnavailableError{Source: c.source, Err: err}
	}
	return result, nil
}

// FetchHazardPoints returns the detections within radiusKm of center
func (c *Client) FetchHazardPoints(ctx context.Context, center geo.Point, radiusKm float64, asOf time.Time) ([]hazard.Point, error) {
	result, err := c.FetchFeed(ctx, asOf)
	if err != nil {
		return nil, err
	}
	return hazard.FilterByRadius(result.Points, center, radiusKm), nil
}

func (c *Client) feedURL(asOf time.Time) string {
	return fmt.Sprintf("%s/api/area/csv/%s/%s/world/%d/%s",
		c.baseURL,
		url.PathEscape(c.mapKey),
		url.PathEscape(c.source),
		c.dayRange,
		asOf.UTC().Format(time.DateOnly),
	)
}

// redact strips the map key from transport errors, which embed the request URL
func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), secret, "REDACTED"))
}

