package engine

import (
	"context"
	"time"
)

// Dispenser is the blocking read side of the worker queue. An empty result
// signals a poll timeout; backing off is the caller's responsibility.
type Dispenser struct {
	queue   Queue
	name    string
	timeout time.Duration
}

func NewDispenser(queue Queue, name string, timeout time.Duration) *Dispenser {
	return &Dispenser{queue: queue, name: name, timeout: timeout}
}

// Acquire pops one payload, blocking up to the configured timeout. Returns
// "" with no error when the queue stayed empty.
func (d *Dispenser) Acquire(ctx context.Context) (string, error) {
	payload, err := d.queue.BlockingPop(ctx, d.name, d.timeout)
	if err != nil {
		return "", err
	}

	return string(payload), nil
}
