// Package provider implements the upstream RPC transport.
//
// This package contains:
//   - Provider interface: core abstraction for an RPC endpoint
//   - HTTPProvider: JSON-RPC 2.0 over HTTP implementation
//   - RPCError / HTTPError: typed failures used for retry classification
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Provider is a JSON-RPC endpoint.
type Provider interface {
	// Call invokes method and returns the raw "result" member
	Call(ctx context.Context, method string, params []any) (json.RawMessage, error)

	// GetName returns the provider's name
	GetName() string

	// GetHealth returns call statistics
	GetHealth() HealthStatus

	Close() error
}

// HealthStatus summarises recent calls against a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPError is a non-200 transport response.
type HTTPError struct {
	StatusCode int
	RetryAfter string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("http %d (retry after %s): %s", e.StatusCode, e.RetryAfter, e.Body)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
}
