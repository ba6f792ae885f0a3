package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *Redis {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisWithClient(client)
}

func TestRedisFIFO(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "tasks", []byte("a"), []byte("b")))
	require.NoError(t, q.Push(ctx, "tasks", []byte("c")))

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.BlockingPop(ctx, "tasks", time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func TestRedisPopTimeout(t *testing.T) {
	q := newTestQueue(t)

	got, err := q.BlockingPop(context.Background(), "empty", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisPushNothing(t *testing.T) {
	q := newTestQueue(t)

	require.NoError(t, q.Push(context.Background(), "tasks"))

	got, err := q.BlockingPop(context.Background(), "tasks", 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisListsAreIndependent(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, "one", []byte("x")))
	require.NoError(t, q.Push(ctx, "two", []byte("y")))

	got, err := q.BlockingPop(ctx, "two", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "y", string(got))

	got, err = q.BlockingPop(ctx, "one", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis("http://not-redis")
	assert.Error(t, err)
}
