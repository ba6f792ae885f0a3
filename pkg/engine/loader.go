package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// overridable in tests
var (
	now     = time.Now
	newUUID = uuid.NewString
)

// Loader binds pending task orders to ready assets and publishes lease
// payloads to the worker queue. Concurrent loaders share work through the
// store's skip-locked claims; each pass handles at most one task.
type Loader struct {
	log   logr.Logger
	store Store
	queue Queue

	queueName string
	// identity recorded as lock_id on every asset this loader locks
	id string
}

func NewLoader(log logr.Logger, store Store, queue Queue, queueName string) *Loader {
	return &Loader{
		log:       log,
		store:     store,
		queue:     queue,
		queueName: queueName,
		id:        newUUID(),
	}
}

// Sync executes one pass: claim a pending task, lock matching assets, write
// leases, flip the task to QUEUED, commit, then publish. Returns the
// published payloads, empty when no work was claimable.
func (l *Loader) Sync(ctx context.Context) ([]string, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot begin loader transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			l.log.Error(rbErr, "Failed to roll back loader transaction")
		}
	}()

	task, err := tx.ClaimPendingTask(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot claim pending task: %w", err)
	}
	if task == nil {
		return nil, nil
	}
	log := l.log.WithValues("taskID", task.TaskID, "tenantID", task.TenantID)

	hints, err := ParseHints(task.ResourceHints)
	if err != nil {
		if errors.Is(err, errBlankCategory) {
			log.Info("Skipping task, resource hint has no sku_category")
			return nil, nil
		}
		return nil, err
	}

	expiresAt := now().Add(time.Duration(task.TimeoutMS) * time.Millisecond)

	assets, ok, err := l.lockAssetsForHints(ctx, tx, hints, expiresAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Info("Skipping task, insufficient ready assets")
		return nil, nil
	}

	leaseIDs := make([]string, 0, len(assets))
	for _, asset := range assets {
		leaseID, err := tx.InsertLease(ctx, Lease{
			TenantID:  task.TenantID,
			TaskID:    task.TaskID,
			AssetID:   asset.ID,
			ExpiresAt: expiresAt,
			Status:    LeaseActive,
		})
		if err != nil {
			return nil, fmt.Errorf("cannot insert lease for asset %q: %w", asset.ID, err)
		}
		leaseIDs = append(leaseIDs, leaseID)
	}

	if err := tx.MarkTaskQueued(ctx, task.TaskID); err != nil {
		return nil, fmt.Errorf("cannot mark task queued: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("cannot commit loader transaction: %w", err)
	}
	tasksSynced.Inc()

	payload, err := json.Marshal(Payload{TaskID: task.TaskID, LeaseIDs: leaseIDs})
	if err != nil {
		return nil, fmt.Errorf("cannot encode payload: %w", err)
	}

	// The transaction is already committed: a failed publish must not fail
	// the pass. The leases stand and the janitor recovers the assets once
	// they expire.
	if err := l.queue.Push(ctx, l.queueName, payload); err != nil {
		publishFailures.Inc()
		log.Error(err, "Failed to publish payload, task is orphaned until lease expiry", "leaseIDs", leaseIDs)
		return nil, nil
	}

	log.Info("Task queued", "leaseIDs", leaseIDs)
	return []string{string(payload)}, nil
}

// lockAssetsForHints claims and locks min_count ready assets per hint, in
// hint order. All-or-nothing: any shortfall reports ok=false and the caller
// rolls the whole transaction back, releasing every row lock taken so far.
func (l *Loader) lockAssetsForHints(ctx context.Context, tx Tx, hints []ResourceHint, expiresAt time.Time) ([]Asset, bool, error) {
	var selected []Asset
	for _, hint := range hints {
		assets, err := tx.ClaimReadyAssets(ctx, hint, hint.MinCount)
		if err != nil {
			return nil, false, fmt.Errorf("cannot claim assets for category %q: %w", hint.SkuCategory, err)
		}
		if len(assets) < hint.MinCount {
			return nil, false, nil
		}

		ids := make([]string, len(assets))
		for i, asset := range assets {
			ids[i] = asset.ID
		}
		if err := tx.LockAssets(ctx, ids, l.id, expiresAt); err != nil {
			return nil, false, fmt.Errorf("cannot lock assets: %w", err)
		}

		selected = append(selected, assets...)
	}

	if len(selected) == 0 {
		return nil, false, nil
	}

	return selected, true, nil
}
