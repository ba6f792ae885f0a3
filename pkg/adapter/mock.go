package adapter

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"time"
)

// Mock adapter defaults; all overridable through config.
const (
	defaultLatencyMS            = 150.0
	defaultLatencyJitterMS      = 100.0
	defaultRateLimitProbability = 0.05
	defaultProviderErrorRate    = 0.02
)

// MockAdapter simulates provider latency, rate limits, and outages.
// Randomness is per-instance, never global.
type MockAdapter struct {
	rng *rand.Rand

	latencyMS            float64
	latencyJitterMS      float64
	rateLimitProbability float64
	providerErrorRate    float64

	costModel CostModel
}

// MockOption adjusts a MockAdapter at construction time.
type MockOption func(*MockAdapter)

// WithRand replaces the per-instance random source. Tests pass a seeded one.
func WithRand(rng *rand.Rand) MockOption {
	return func(m *MockAdapter) { m.rng = rng }
}

func NewMockAdapter(config map[string]string, opts ...MockOption) *MockAdapter {
	m := &MockAdapter{
		rng:                  rand.New(rand.NewSource(time.Now().UnixNano())),
		latencyMS:            floatConfig(config, "latency_ms", defaultLatencyMS),
		latencyJitterMS:      floatConfig(config, "latency_jitter_ms", defaultLatencyJitterMS),
		rateLimitProbability: floatConfig(config, "rate_limit_probability", defaultRateLimitProbability),
		providerErrorRate:    floatConfig(config, "provider_error_probability", defaultProviderErrorRate),
		costModel: CostModel{
			Model:    stringConfig(config, "cost_model", "per_request"),
			UnitCost: floatConfig(config, "unit_cost", 0),
			Currency: stringConfig(config, "currency", "USD"),
			Notes:    "Mock adapter incurs no real cost.",
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *MockAdapter) Acquire(ctx context.Context, specs map[string]string) (ResourcePayload, error) {
	if err := m.simulateCall(ctx); err != nil {
		return ResourcePayload{}, err
	}

	assetID := specs["asset_id"]
	if assetID == "" {
		assetID = strconv.Itoa(m.rng.Intn(1_000_000) + 1)
	}

	metadata := make(map[string]any, len(specs))
	for k, v := range specs {
		metadata[k] = v
	}

	return ResourcePayload{
		AssetID:     assetID,
		Credentials: m.buildCredentials(specs),
		Metadata:    map[string]any{"specs": metadata},
	}, nil
}

func (m *MockAdapter) Release(ctx context.Context, assetID string) (bool, error) {
	if err := m.simulateCall(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (m *MockAdapter) CheckHealth(ctx context.Context, assetID string) (HealthStatus, error) {
	if err := m.simulateCall(ctx); err != nil {
		return HealthStatus{}, err
	}

	return HealthStatus{
		AssetID:   assetID,
		Status:    StatusHealthy,
		CheckedAt: time.Now().UTC(),
	}, nil
}

func (m *MockAdapter) CostModel() CostModel {
	return m.costModel
}

// simulateCall applies latency plus jitter, then rolls for failure.
func (m *MockAdapter) simulateCall(ctx context.Context) error {
	jitter := (m.rng.Float64()*2 - 1) * m.latencyJitterMS
	delay := time.Duration(max(0, m.latencyMS+jitter) * float64(time.Millisecond))

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	roll := m.rng.Float64()
	if roll < m.rateLimitProbability {
		return fmt.Errorf("mock request rate limited: %w", ErrQuotaExceeded)
	}
	if roll < m.rateLimitProbability+m.providerErrorRate {
		return fmt.Errorf("mock provider error: %w", ErrResourceUnavailable)
	}

	return nil
}

func (m *MockAdapter) buildCredentials(specs map[string]string) map[string]string {
	token := specs["token"]
	if token == "" {
		token = fmt.Sprintf("mock-token-%d", m.rng.Intn(9000)+1000)
	}

	endpoint := specs["endpoint"]
	if endpoint == "" {
		endpoint = "https://mock.vendor.local"
	}

	return map[string]string{"token": token, "endpoint": endpoint}
}

func floatConfig(config map[string]string, key string, fallback float64) float64 {
	if raw, ok := config[key]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}

	return fallback
}

func stringConfig(config map[string]string, key, fallback string) string {
	if v, ok := config[key]; ok && v != "" {
		return v
	}

	return fallback
}
