package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"

	"github.com/creepdata/creep-engine/pkg/adapter"
)

// Worker consumes queued payloads, executes them against the vendor adapter,
// and settles the terminal state of task, leases, and assets atomically.
// A single worker processes payloads sequentially; parallelism comes from
// running more workers.
type Worker struct {
	log       logr.Logger
	store     Store
	dispenser *Dispenser
	vendor    adapter.Adapter

	pollInterval time.Duration
}

func NewWorker(log logr.Logger, store Store, dispenser *Dispenser, vendor adapter.Adapter, pollInterval time.Duration) *Worker {
	return &Worker{
		log:          log,
		store:        store,
		dispenser:    dispenser,
		vendor:       vendor,
		pollInterval: pollInterval,
	}
}

// Run processes payloads until the context is cancelled or processing fails
// hard enough for the supervisor to restart the worker.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		payload, err := w.dispenser.Acquire(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.log.Error(err, "Failed to poll queue")
			payload = ""
		}
		if payload == "" {
			select {
			case <-time.After(w.pollInterval):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if err := w.ProcessOne(ctx, payload); err != nil {
			return err
		}
	}
}

// ProcessOne settles a single payload. Malformed payloads and vanished tasks
// are logged and dropped; store errors roll back and propagate.
func (w *Worker) ProcessOne(ctx context.Context, payload string) error {
	var p Payload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		w.log.Error(err, "Dropping malformed payload", "payload", payload)
		return nil
	}
	log := w.log.WithValues("taskID", p.TaskID)

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cannot begin worker transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error(rbErr, "Failed to roll back worker transaction")
		}
	}()

	task, err := tx.GetTask(ctx, p.TaskID)
	if err != nil {
		return fmt.Errorf("cannot fetch task: %w", err)
	}
	if task == nil {
		log.Error(nil, "Dropping payload, task does not exist")
		return nil
	}
	if task.Status != TaskQueued {
		// Re-delivered payload: the task was already settled. Never settle twice.
		log.Info("Dropping payload, task already settled", "status", task.Status)
		return nil
	}

	leased, err := tx.GetLeasedAssets(ctx, p.LeaseIDs)
	if err != nil {
		return fmt.Errorf("cannot fetch leases: %w", err)
	}

	if code, ok := validateLeases(p, leased); !ok {
		log.Info("Lease validation failed", "resultCode", code, "requested", p.LeaseIDs, "retrieved", len(leased))
		return w.settle(ctx, tx, task, p.LeaseIDs, leased, code)
	}

	resultCode := ""
	if !w.execute(ctx, log, task, leased) {
		resultCode = ResultExecutionFailed
	}

	return w.settle(ctx, tx, task, p.LeaseIDs, leased, resultCode)
}

// validateLeases checks hydrated leases against the requested set. The empty
// code with ok=true means the payload is executable.
func validateLeases(p Payload, leased []LeasedAsset) (string, bool) {
	if len(leased) == 0 {
		return ResultResourceError, false
	}

	retrieved := make(map[string]bool, len(leased))
	for _, la := range leased {
		if la.TaskID != p.TaskID || la.AssetID == "" {
			return ResultDataInconsistency, false
		}
		retrieved[la.LeaseID] = true
	}

	for _, id := range p.LeaseIDs {
		if !retrieved[id] {
			return ResultDataInconsistency, false
		}
	}

	return "", true
}

// execute drives the adapter: acquire every asset, health-check each, and
// always release whatever was acquired. Release failures are logged but
// never flip the outcome.
func (w *Worker) execute(ctx context.Context, log logr.Logger, task *TaskOrder, leased []LeasedAsset) (success bool) {
	var acquired []string
	defer func() {
		var relErr error
		for _, id := range acquired {
			if _, err := w.vendor.Release(ctx, id); err != nil {
				relErr = multierr.Append(relErr, err)
			}
		}
		if relErr != nil {
			log.Error(relErr, "Failed to release acquired resources")
		}
	}()

	for _, la := range leased {
		specs := make(map[string]string, len(la.MetaSpec)+2)
		for k, v := range la.MetaSpec {
			specs[k] = v
		}
		specs["asset_id"] = la.AssetID
		specs["task_type"] = task.TaskType

		res, err := w.vendor.Acquire(ctx, specs)
		if err != nil {
			log.Error(err, "Failed to acquire resource", "assetID", la.AssetID)
			return false
		}
		acquired = append(acquired, res.AssetID)
	}

	for _, id := range acquired {
		health, err := w.vendor.CheckHealth(ctx, id)
		if err != nil {
			log.Error(err, "Failed to check resource health", "assetID", id)
			return false
		}
		if health.Status == adapter.StatusUnhealthy {
			log.Info("Resource reported unhealthy", "assetID", id, "detail", health.Detail)
			return false
		}
	}

	return true
}

// settle drives task, leases, and assets to their terminal states in the
// open transaction, then commits. An empty resultCode settles success.
func (w *Worker) settle(ctx context.Context, tx Tx, task *TaskOrder, requestedLeases []string, leased []LeasedAsset, resultCode string) error {
	success := resultCode == ""
	ts := now()

	status := TaskFailed
	var code *string
	if success {
		status = TaskSuccess
	} else {
		code = &resultCode
	}

	settled, err := tx.FinishTask(ctx, task.TaskID, status, code)
	if err != nil {
		return fmt.Errorf("cannot finish task: %w", err)
	}
	if !settled {
		// Another worker settled this payload between hydration and here.
		// The deferred rollback discards everything.
		w.log.Info("Dropping payload, task settled concurrently", "taskID", task.TaskID)
		return nil
	}

	if success {
		if err := tx.UpdateLeases(ctx, requestedLeases, LeaseReleased); err != nil {
			return fmt.Errorf("cannot release leases: %w", err)
		}
	} else {
		if err := tx.UpdateLeases(ctx, requestedLeases, LeaseRevoked); err != nil {
			return fmt.Errorf("cannot revoke leases: %w", err)
		}
	}

	assetIDs := make([]string, len(leased))
	for i, la := range leased {
		assetIDs[i] = la.AssetID
	}

	if len(assetIDs) > 0 {
		if success {
			if err := tx.CoolAssets(ctx, assetIDs, ts.Add(CoolDownWindow)); err != nil {
				return fmt.Errorf("cannot cool assets: %w", err)
			}
		} else if err := tx.BanAssets(ctx, assetIDs); err != nil {
			return fmt.Errorf("cannot ban assets: %w", err)
		}
	}

	for _, la := range leased {
		event := AssetEvent{
			EventID:    newUUID(),
			TenantID:   la.TenantID,
			AssetID:    la.AssetID,
			EventType:  EventTaskSuccess,
			Severity:   "INFO",
			OccurredAt: ts,
			RecordedAt: ts,
			Version:    1,
		}
		if !success {
			event.EventType = EventTaskFail
			event.Severity = "ERROR"
			event.ErrorCode = &resultCode
		}
		if err := tx.InsertEvent(ctx, event); err != nil {
			return fmt.Errorf("cannot insert event: %w", err)
		}

		entry := LedgerEntry{
			AssetID:   la.AssetID,
			TenantID:  la.TenantID,
			ProjectID: la.ProjectID,
			Direction: LedgerDirectionOut,
			Reason:    LedgerReasonBurn,
			Amount:    BurnAmount,
			CreatedAt: ts,
		}
		if err := tx.InsertLedger(ctx, entry); err != nil {
			return fmt.Errorf("cannot insert ledger entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cannot commit settlement: %w", err)
	}

	if success {
		tasksSettled.WithLabelValues("success").Inc()
	} else {
		tasksSettled.WithLabelValues(resultCode).Inc()
	}

	return nil
}
