package apiclient

import (
	"context"
	"encoding/json"
	"time"
)

// HealthResponse is the envelope of the /health probes.
type HealthResponse struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Health calls the liveness probe.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return getResource[HealthResponse](ctx, c, "/health")
}

// Ready calls the readiness probe. A not-ready daemon yields an *APIError
// with IsUnavailable set.
func (c *Client) Ready(ctx context.Context) (*HealthResponse, error) {
	return getResource[HealthResponse](ctx, c, "/health/ready")
}
