package relay

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

// DirectionsPath is the server route that relays directions requests
const DirectionsPath = "/api/v1/directions/"

const maxResponseBytes = 16 << 20

// HTTPDoer is the subset of *http.Client the client needs
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a DirectionsBackend that goes through the saferoute server's
// relay endpoint. It carries no routing-engine credential.
type Client struct {
	serverURL  string
	httpClient HTTPDoer
}

var _ routing.DirectionsBackend = (*Client)(nil)

// NewClient creates a relay client for the server at serverURL
func NewClient(serverURL string) *Client {
	return NewClientWithHTTPDoer(serverURL, &http.Client{Timeout: 30 * time.Second})
}

// NewClientWithHTTPDoer creates a relay client with a custom transport
func NewClientWithHTTPDoer(serverURL string, doer HTTPDoer) *Client {
	return &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: doer,
	}
}

// ComputeDirections forwards req to the relay and returns the engine's response body
func (c *Client) ComputeDirections(ctx context.Context, profile routing.Profile, req routing.DirectionsRequest) ([]byte, error) {
	jsonBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal directions request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+DirectionsPath+string(profile), bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &routing.DirectionsBackendError{Reason: "relay request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &routing.DirectionsBackendError{Reason: "failed to read relay response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &routing.DirectionsBackendError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
