package adapter

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastMock builds a mock with zero latency so tests never sleep, and a
// seeded source so rolls are reproducible.
func fastMock(seed int64, overrides map[string]string) *MockAdapter {
	cfg := map[string]string{
		"latency_ms":        "0",
		"latency_jitter_ms": "0",
	}
	for k, v := range overrides {
		cfg[k] = v
	}

	return NewMockAdapter(cfg, WithRand(rand.New(rand.NewSource(seed))))
}

func TestMockAdapterAcquire(t *testing.T) {
	m := fastMock(1, map[string]string{
		"rate_limit_probability":     "0",
		"provider_error_probability": "0",
	})

	res, err := m.Acquire(context.Background(), map[string]string{
		"asset_id":  "asset-7",
		"task_type": "scrape",
	})
	require.NoError(t, err)

	assert.Equal(t, "asset-7", res.AssetID)
	assert.NotEmpty(t, res.Credentials["token"])
	assert.Equal(t, "https://mock.vendor.local", res.Credentials["endpoint"])

	specs, ok := res.Metadata["specs"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "scrape", specs["task_type"])
}

func TestMockAdapterAcquireGeneratesAssetID(t *testing.T) {
	m := fastMock(1, map[string]string{
		"rate_limit_probability":     "0",
		"provider_error_probability": "0",
	})

	res, err := m.Acquire(context.Background(), map[string]string{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AssetID)
}

func TestMockAdapterFailureKinds(t *testing.T) {
	t.Run("always rate limited", func(t *testing.T) {
		m := fastMock(1, map[string]string{"rate_limit_probability": "1"})

		_, err := m.Acquire(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrQuotaExceeded)
		assert.ErrorIs(t, err, ErrAdapter)
	})

	t.Run("always provider error", func(t *testing.T) {
		m := fastMock(1, map[string]string{
			"rate_limit_probability":     "0",
			"provider_error_probability": "1",
		})

		_, err := m.Acquire(context.Background(), nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrResourceUnavailable)
		assert.ErrorIs(t, err, ErrAdapter)
	})
}

func TestMockAdapterReleaseAndHealth(t *testing.T) {
	m := fastMock(1, map[string]string{
		"rate_limit_probability":     "0",
		"provider_error_probability": "0",
	})

	ok, err := m.Release(context.Background(), "asset-1")
	require.NoError(t, err)
	assert.True(t, ok)

	health, err := m.CheckHealth(context.Background(), "asset-1")
	require.NoError(t, err)
	assert.Equal(t, "asset-1", health.AssetID)
	assert.Equal(t, StatusHealthy, health.Status)
	assert.False(t, health.CheckedAt.IsZero())
}

func TestMockAdapterHonorsCancellation(t *testing.T) {
	m := fastMock(1, map[string]string{"latency_ms": "60000"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Acquire(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockAdapterCostModel(t *testing.T) {
	m := NewMockAdapter(map[string]string{
		"cost_model": "per_minute",
		"unit_cost":  "0.25",
		"currency":   "EUR",
	})

	cm := m.CostModel()
	assert.Equal(t, "per_minute", cm.Model)
	assert.Equal(t, 0.25, cm.UnitCost)
	assert.Equal(t, "EUR", cm.Currency)
}

func TestConfigFallbacks(t *testing.T) {
	assert.Equal(t, 5.0, floatConfig(map[string]string{"k": "5"}, "k", 1))
	assert.Equal(t, 1.0, floatConfig(map[string]string{"k": "junk"}, "k", 1))
	assert.Equal(t, 1.0, floatConfig(nil, "k", 1))

	assert.Equal(t, "v", stringConfig(map[string]string{"k": "v"}, "k", "d"))
	assert.Equal(t, "d", stringConfig(map[string]string{"k": ""}, "k", "d"))
}
