package engine

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
)

const (
	sweepLockTimeout = "lock_timeout"
	sweepCooling     = "cooling"
)

// Janitor reconciles drift back into the READY pool: assets whose locks
// expired and assets whose cooling window elapsed. It never touches task
// orders, leases, or the queue.
type Janitor struct {
	log   logr.Logger
	store Store

	batchSize       int
	maxProcessLimit int
}

func NewJanitor(log logr.Logger, store Store, batchSize, maxProcessLimit int) *Janitor {
	return &Janitor{
		log:             log,
		store:           store,
		batchSize:       batchSize,
		maxProcessLimit: maxProcessLimit,
	}
}

// RunOnce executes one pass of each sweep. Batches committed before an error
// stay committed.
func (j *Janitor) RunOnce(ctx context.Context) error {
	if _, err := j.RecoverTimeouts(ctx); err != nil {
		return err
	}

	_, err := j.ProcessCooling(ctx)
	return err
}

// RecoverTimeouts releases assets whose locks have expired, incrementing
// their fail count. Returns the recovered asset ids.
func (j *Janitor) RecoverTimeouts(ctx context.Context) ([]string, error) {
	return j.sweep(ctx, sweepLockTimeout, EventLockTimeoutRecovery, Tx.ClaimExpiredLocks, Tx.RecoverLocks)
}

// ProcessCooling returns cooled assets to the READY pool.
func (j *Janitor) ProcessCooling(ctx context.Context) ([]string, error) {
	return j.sweep(ctx, sweepCooling, EventCoolingEnded, Tx.ClaimExpiredCooling, Tx.FinishCooling)
}

// sweep claims bounded skip-locked batches, applies the restore step, and emits one
// event per asset. Each iteration commits independently; an empty batch
// rolls back and ends the sweep.
func (j *Janitor) sweep(
	ctx context.Context,
	name, eventType string,
	claim func(Tx, context.Context, int) ([]Asset, error),
	restore func(Tx, context.Context, []string) error,
) ([]string, error) {
	log := j.log.WithValues("sweep", name)

	var processed []string
	for len(processed) < j.maxProcessLimit {
		// Cap the final batch so the sweep never exceeds the process limit.
		limit := j.batchSize
		if remaining := j.maxProcessLimit - len(processed); remaining < limit {
			limit = remaining
		}

		batch, err := j.sweepBatch(ctx, eventType, claim, restore, limit)
		if err != nil {
			return processed, fmt.Errorf("%s sweep failed: %w", name, err)
		}
		if len(batch) == 0 {
			break
		}

		processed = append(processed, batch...)
		assetsRecovered.WithLabelValues(name).Add(float64(len(batch)))

		if len(batch) < limit {
			break
		}
	}

	if len(processed) > 0 {
		log.Info("Sweep complete", "recovered", len(processed))
	}
	return processed, nil
}

func (j *Janitor) sweepBatch(
	ctx context.Context,
	eventType string,
	claim func(Tx, context.Context, int) ([]Asset, error),
	restore func(Tx, context.Context, []string) error,
	limit int,
) ([]string, error) {
	tx, err := j.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot begin janitor transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			j.log.Error(rbErr, "Failed to roll back janitor transaction")
		}
	}()

	assets, err := claim(tx, ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return nil, nil
	}

	ids := make([]string, len(assets))
	for i, asset := range assets {
		ids[i] = asset.ID
	}

	if err := restore(tx, ctx, ids); err != nil {
		return nil, err
	}

	ts := now()
	for _, asset := range assets {
		event := AssetEvent{
			EventID:    newUUID(),
			TenantID:   asset.TenantID,
			AssetID:    asset.ID,
			EventType:  eventType,
			OccurredAt: ts,
			RecordedAt: ts,
			Version:    1,
		}
		if err := tx.InsertEvent(ctx, event); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return ids, nil
}
