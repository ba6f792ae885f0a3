package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creepdata/creep-engine/pkg/engine"
)

func TestDispenserAcquire(t *testing.T) {
	queue := newFakeQueue()
	require.NoError(t, queue.Push(context.Background(), "tasks", []byte("first"), []byte("second")))

	dispenser := engine.NewDispenser(queue, "tasks", time.Millisecond)

	payload, err := dispenser.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", payload)

	payload, err = dispenser.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "second", payload)

	// Empty queue reads as a timeout, not an error.
	payload, err = dispenser.Acquire(context.Background())
	require.NoError(t, err)
	assert.Empty(t, payload)
}
