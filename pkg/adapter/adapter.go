// Package adapter defines the vendor capability contract consumed by the
// worker, along with the mock implementation used in development and CI.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error kinds surfaced by adapters. Both quota and availability failures
// unwrap to ErrAdapter so callers can treat them uniformly.
var (
	ErrAdapter = errors.New("adapter failure")

	// ErrQuotaExceeded marks a rate limit or quota violation at the provider.
	ErrQuotaExceeded = fmt.Errorf("quota exceeded: %w", ErrAdapter)
	// ErrResourceUnavailable marks a provider-side delivery failure.
	ErrResourceUnavailable = fmt.Errorf("resource unavailable: %w", ErrAdapter)
)

// Health status values reported by CheckHealth.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ResourcePayload is returned when a resource is acquired.
type ResourcePayload struct {
	AssetID     string
	Credentials map[string]string
	Metadata    map[string]any
}

// HealthStatus reports the availability of a provisioned asset.
type HealthStatus struct {
	AssetID   string
	Status    string
	Detail    string
	CheckedAt time.Time
}

// CostModel describes how an adapter accrues cost for usage.
type CostModel struct {
	// Model is one of "per_request", "per_hour", "flat".
	Model    string
	UnitCost float64
	// Currency is an ISO-4217 code.
	Currency string
	Notes    string
}

// Adapter is the vendor capability set the worker consumes. Calls may block
// on network I/O; implementations honor their own timeouts via ctx.
type Adapter interface {
	// Acquire provisions or fetches a resource matching the specs.
	Acquire(ctx context.Context, specs map[string]string) (ResourcePayload, error)
	// Release tears a resource down. Idempotent; errors are logged by the
	// caller, never re-raised.
	Release(ctx context.Context, assetID string) (bool, error)
	// CheckHealth validates that a resource remains usable.
	CheckHealth(ctx context.Context, assetID string) (HealthStatus, error)
	// CostModel returns the billing metadata for this adapter.
	CostModel() CostModel
}
