package engine

import (
	"context"
	"time"
)

// Store opens transactional sessions against the scheduler state. The
// production implementation lives in pkg/storage/postgres; tests substitute
// the in-memory implementation from pkg/storage/memory.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close()
}

// Tx is one transactional session. Every claim method uses skip-locked
// semantics: rows held by another in-flight transaction are invisible, and
// returned rows stay write-locked until the transaction ends. Rollback after
// Commit is a no-op so it can be deferred on every path.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Loader claims.
	ClaimPendingTask(ctx context.Context) (*TaskOrder, error)
	ClaimReadyAssets(ctx context.Context, hint ResourceHint, limit int) ([]Asset, error)
	LockAssets(ctx context.Context, assetIDs []string, lockID string, expiresAt time.Time) error
	InsertLease(ctx context.Context, lease Lease) (string, error)
	MarkTaskQueued(ctx context.Context, taskID string) error

	// Worker hydration and settlement. GetTask write-locks the task row so
	// concurrent settlements of the same payload serialize on it. FinishTask
	// only applies while the task is still QUEUED and reports whether it did;
	// a false return means another worker settled first and the caller must
	// roll back. UpdateLeases touches only ACTIVE leases, CoolAssets and
	// BanAssets only LOCKED assets, so a lost race cannot revert terminal
	// states.
	GetTask(ctx context.Context, taskID string) (*TaskOrder, error)
	GetLeasedAssets(ctx context.Context, leaseIDs []string) ([]LeasedAsset, error)
	FinishTask(ctx context.Context, taskID string, status TaskStatus, resultCode *string) (bool, error)
	UpdateLeases(ctx context.Context, leaseIDs []string, status LeaseStatus) error
	CoolAssets(ctx context.Context, assetIDs []string, until time.Time) error
	BanAssets(ctx context.Context, assetIDs []string) error

	// Janitor sweeps.
	ClaimExpiredLocks(ctx context.Context, limit int) ([]Asset, error)
	RecoverLocks(ctx context.Context, assetIDs []string) error
	ClaimExpiredCooling(ctx context.Context, limit int) ([]Asset, error)
	FinishCooling(ctx context.Context, assetIDs []string) error

	// Append-only audit rows.
	InsertEvent(ctx context.Context, event AssetEvent) error
	InsertLedger(ctx context.Context, entry LedgerEntry) error
}

// Queue is a named, ordered, blocking multi-consumer FIFO of opaque
// payloads. A payload becomes visible for pop only once pushed, and the
// loader pushes only after its store transaction commits.
type Queue interface {
	Push(ctx context.Context, name string, payloads ...[]byte) error
	// BlockingPop returns nil with no error when the timeout elapses.
	BlockingPop(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
}
