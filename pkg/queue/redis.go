// Package queue provides the Redis-backed FIFO carrying loader payloads to
// workers.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements the engine queue contract over Redis lists: Push is
// RPUSH, BlockingPop is BLPOP. FIFO order holds per list name.
type Redis struct {
	client *redis.Client
}

// NewRedis connects using a redis:// URL.
func NewRedis(rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis url: %w", err)
	}

	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisWithClient wraps an existing client. Tests pass one backed by
// miniredis.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Push appends payloads at the tail of the named list, preserving argument
// order.
func (r *Redis) Push(ctx context.Context, name string, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}

	values := make([]any, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}

	if err := r.client.RPush(ctx, name, values...).Err(); err != nil {
		return fmt.Errorf("cannot push to %q: %w", name, err)
	}

	return nil
}

// BlockingPop dequeues the head of the named list, blocking up to timeout.
// Returns nil with no error when the timeout elapses.
func (r *Redis) BlockingPop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	res, err := r.client.BLPop(ctx, timeout, name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot pop from %q: %w", name, err)
	}

	// BLPOP returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply of length %d", len(res))
	}

	return []byte(res[1]), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
