package engine

import "time"

// AssetStatus is the lifecycle state of a leasable asset.
type AssetStatus string

const (
	AssetReady   AssetStatus = "READY"
	AssetLocked  AssetStatus = "LOCKED"
	AssetCooling AssetStatus = "COOLING"
	AssetBanned  AssetStatus = "BANNED"
)

// TaskStatus is the lifecycle state of a task order. Terminal states never revert.
type TaskStatus string

const (
	TaskPending TaskStatus = "PENDING"
	TaskQueued  TaskStatus = "QUEUED"
	TaskSuccess TaskStatus = "SUCCESS"
	TaskFailed  TaskStatus = "FAILED"
)

// LeaseStatus is the lifecycle state of a lease.
type LeaseStatus string

const (
	LeaseActive   LeaseStatus = "ACTIVE"
	LeaseReleased LeaseStatus = "RELEASED"
	LeaseRevoked  LeaseStatus = "REVOKED"
)

// Task terminal result codes.
const (
	ResultExecutionFailed   = "EXECUTION_FAILED"
	ResultResourceError     = "RESOURCE_ERROR"
	ResultDataInconsistency = "DATA_INCONSISTENCY"
)

// Asset event types emitted at terminal transitions.
const (
	EventTaskSuccess         = "TASK_SUCCESS"
	EventTaskFail            = "TASK_FAIL"
	EventLockTimeoutRecovery = "LOCK_TIMEOUT_RECOVERY"
	EventCoolingEnded        = "COOLING_ENDED"
)

// Ledger constants. Every settlement burns one unit of usage per asset.
const (
	LedgerDirectionIn  = "IN"
	LedgerDirectionOut = "OUT"
	LedgerReasonBurn   = "TASK_BURN"

	BurnAmount = 0.01
)

// CoolDownWindow is the quiescent period applied to assets after a
// successful settlement before the janitor returns them to READY.
const CoolDownWindow = 10 * time.Second

// Asset is one unit of leasable capacity in the pool.
type Asset struct {
	ID          string
	SkuCategory string
	// SkuCode is nullable; hints glob-match against it.
	SkuCode *string
	// MetaSpec holds structured attributes queried by containment.
	MetaSpec      map[string]string
	Status        AssetStatus
	LockID        *string
	LockExpiresAt *time.Time
	CoolDownUntil *time.Time
	FailCount     int
	HealthScore   int
	TenantID      string
	ProjectID     string
}

// TaskOrder is a pending unit of work requesting one or more assets.
type TaskOrder struct {
	TaskID   string
	TenantID string
	// Priority orders selection, higher first; CreatedAt breaks ties FIFO.
	Priority  int
	CreatedAt time.Time
	Status    TaskStatus
	TaskType  string
	// ResourceHints is stored raw; the loader normalizes it into []ResourceHint.
	ResourceHints []byte
	TimeoutMS     int64
	FinishedAt    *time.Time
	ResultCode    *string
}

// Lease binds a task to one asset for a bounded wall-clock window.
type Lease struct {
	LeaseID   string
	TenantID  string
	TaskID    string
	AssetID   string
	ExpiresAt time.Time
	Status    LeaseStatus
}

// LeasedAsset is a lease joined to its asset, as hydrated by the worker.
type LeasedAsset struct {
	Lease
	ProjectID string
	MetaSpec  map[string]string
}

// AssetEvent is an append-only audit record. Never mutated.
type AssetEvent struct {
	EventID    string
	TenantID   string
	AssetID    string
	EventType  string
	Severity   string
	ErrorCode  *string
	OccurredAt time.Time
	RecordedAt time.Time
	Version    int
}

// LedgerEntry is an append-only accounting record.
type LedgerEntry struct {
	AssetID   string
	TenantID  string
	ProjectID string
	Direction string
	Reason    string
	Amount    float64
	CreatedAt time.Time
}

// Payload is the wire shape published by the loader and consumed by the
// worker. Unknown fields are ignored on decode.
type Payload struct {
	TaskID   string   `json:"task_id"`
	LeaseIDs []string `json:"lease_ids"`
}
