package ors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/routing"
)

// DefaultBaseURL is the public OpenRouteService API
const DefaultBaseURL = "https://api.openrouteservice.org"

// maxResponseBytes caps how much of a directions response is read
const maxResponseBytes = 16 << 20

// HTTPDoer is the subset of *http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the OpenRouteService directions API. It holds the API key and
// must only run server-side.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
}

var _ routing.DirectionsBackend = (*Client)(nil)

// NewClient creates an OpenRouteService client
func NewClient(apiKey, baseURL string) *Client {
	return NewClientWithHTTPDoer(apiKey, baseURL, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTPDoer creates a client with a custom transport
func NewClientWithHTTPDoer(apiKey, baseURL string, doer HTTPDoer) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: doer,
	}
}

// ComputeDirections posts req to the GeoJSON directions endpoint for profile
// and returns the raw response body.
func (c *Client) ComputeDirections(ctx context.Context, profile routing.Profile, req routing.DirectionsRequest) ([]byte, error) {
	if !routing.ValidProfile(profile) {
		return nil, fmt.Errorf("unknown routing profile %q", profile)
	}

	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal directions request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v2/directions/%s/geojson", c.baseURL, profile)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, application/geo+json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &routing.DirectionsBackendError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &routing.DirectionsBackendError{Reason: "failed to read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &routing.DirectionsBackendError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
