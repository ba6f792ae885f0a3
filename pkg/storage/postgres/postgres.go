// Package postgres implements the engine store on PostgreSQL. All claim
// queries rely on FOR UPDATE SKIP LOCKED so contending schedulers see empty
// results instead of queueing on row locks.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/creepdata/creep-engine/pkg/engine"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ engine.Store = (*Store)(nil)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("cannot create connection pool: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot begin transaction: %w", err)
	}

	return &Tx{tx: tx}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the scheduler tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS creep_assets (
    id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
    sku_category    TEXT NOT NULL,
    sku_code        TEXT,
    meta_spec       JSONB NOT NULL DEFAULT '{}'::jsonb,
    status          TEXT NOT NULL DEFAULT 'READY',
    lock_id         TEXT,
    lock_expires_at TIMESTAMPTZ,
    cool_down_until TIMESTAMPTZ,
    fail_count      INTEGER NOT NULL DEFAULT 0,
    health_score    INTEGER NOT NULL DEFAULT 100,
    tenant_id       TEXT NOT NULL,
    project_id      TEXT NOT NULL DEFAULT ''
)`,
		`CREATE INDEX IF NOT EXISTS idx_creep_assets_ready
    ON creep_assets (sku_category, status)`,
		`CREATE INDEX IF NOT EXISTS idx_creep_assets_lock_expiry
    ON creep_assets (status, lock_expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_creep_assets_cooling
    ON creep_assets (status, cool_down_until)`,

		`CREATE TABLE IF NOT EXISTS task_orders (
    task_id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
    tenant_id      TEXT NOT NULL,
    priority       INTEGER NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    status         TEXT NOT NULL DEFAULT 'PENDING',
    task_type      TEXT NOT NULL DEFAULT '',
    resource_hints JSONB,
    timeout_ms     BIGINT NOT NULL DEFAULT 0,
    finished_at    TIMESTAMPTZ,
    result_code    TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_task_orders_pending
    ON task_orders (status, priority DESC, created_at ASC)`,

		`CREATE TABLE IF NOT EXISTS leases (
    lease_id   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
    tenant_id  TEXT NOT NULL,
    task_id    TEXT NOT NULL,
    asset_id   TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    status     TEXT NOT NULL DEFAULT 'ACTIVE'
)`,
		`CREATE INDEX IF NOT EXISTS idx_leases_task ON leases (task_id)`,

		`CREATE TABLE IF NOT EXISTS asset_events (
    event_id    TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL DEFAULT '',
    asset_id    TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    severity    TEXT,
    error_code  TEXT,
    occurred_at TIMESTAMPTZ NOT NULL,
    recorded_at TIMESTAMPTZ NOT NULL,
    version     INTEGER NOT NULL DEFAULT 1
)`,
		`CREATE INDEX IF NOT EXISTS idx_asset_events_asset ON asset_events (asset_id, recorded_at)`,

		`CREATE TABLE IF NOT EXISTS asset_ledger (
    id         BIGSERIAL PRIMARY KEY,
    asset_id   TEXT NOT NULL,
    tenant_id  TEXT NOT NULL,
    project_id TEXT NOT NULL DEFAULT '',
    direction  TEXT NOT NULL,
    reason     TEXT NOT NULL,
    amount     DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	return nil
}

// Tx wraps one pgx transaction. Rollback after Commit is a no-op so callers
// can defer it unconditionally.
type Tx struct {
	tx   pgx.Tx
	done bool
}

var _ engine.Tx = (*Tx)(nil)

func (t *Tx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("cannot commit transaction: %w", err)
	}

	t.done = true
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}

	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("cannot roll back transaction: %w", err)
	}

	t.done = true
	return nil
}

func (t *Tx) ClaimPendingTask(ctx context.Context) (*engine.TaskOrder, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT task_id, tenant_id, priority, created_at, status, task_type, resource_hints, timeout_ms
		FROM task_orders
		WHERE status = 'PENDING'
		ORDER BY priority DESC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`)

	var task engine.TaskOrder
	err := row.Scan(
		&task.TaskID, &task.TenantID, &task.Priority, &task.CreatedAt,
		&task.Status, &task.TaskType, &task.ResourceHints, &task.TimeoutMS,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &task, nil
}

func (t *Tx) ClaimReadyAssets(ctx context.Context, hint engine.ResourceHint, limit int) ([]engine.Asset, error) {
	attrs, err := json.Marshal(hint.Attributes)
	if err != nil {
		return nil, fmt.Errorf("cannot encode hint attributes: %w", err)
	}
	if hint.Attributes == nil {
		attrs = []byte(`{}`)
	}

	rows, err := t.tx.Query(ctx, `
		SELECT id, sku_category, sku_code, meta_spec, tenant_id, project_id
		FROM creep_assets
		WHERE status = 'READY'
		  AND sku_category = $1
		  AND ($2::text IS NULL OR sku_code LIKE $2)
		  AND meta_spec @> $3::jsonb
		LIMIT $4
		FOR UPDATE SKIP LOCKED`,
		hint.SkuCategory, hint.LikePattern(), attrs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []engine.Asset
	for rows.Next() {
		asset := engine.Asset{Status: engine.AssetReady}
		if err := rows.Scan(&asset.ID, &asset.SkuCategory, &asset.SkuCode, &asset.MetaSpec, &asset.TenantID, &asset.ProjectID); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	return assets, rows.Err()
}

func (t *Tx) LockAssets(ctx context.Context, assetIDs []string, lockID string, expiresAt time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE creep_assets
		SET status = 'LOCKED', lock_id = $2, lock_expires_at = $3
		WHERE id = ANY($1)`,
		assetIDs, lockID, expiresAt)
	return err
}

func (t *Tx) InsertLease(ctx context.Context, lease engine.Lease) (string, error) {
	var leaseID string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO leases (tenant_id, task_id, asset_id, expires_at, status)
		VALUES ($1, $2, $3, $4, 'ACTIVE')
		RETURNING lease_id`,
		lease.TenantID, lease.TaskID, lease.AssetID, lease.ExpiresAt,
	).Scan(&leaseID)

	return leaseID, err
}

func (t *Tx) MarkTaskQueued(ctx context.Context, taskID string) error {
	_, err := t.tx.Exec(ctx, `UPDATE task_orders SET status = 'QUEUED' WHERE task_id = $1`, taskID)
	return err
}

func (t *Tx) GetTask(ctx context.Context, taskID string) (*engine.TaskOrder, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT task_id, tenant_id, priority, created_at, status, task_type, resource_hints, timeout_ms, finished_at, result_code
		FROM task_orders
		WHERE task_id = $1
		FOR UPDATE`,
		taskID)

	var task engine.TaskOrder
	err := row.Scan(
		&task.TaskID, &task.TenantID, &task.Priority, &task.CreatedAt, &task.Status,
		&task.TaskType, &task.ResourceHints, &task.TimeoutMS, &task.FinishedAt, &task.ResultCode,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &task, nil
}

func (t *Tx) GetLeasedAssets(ctx context.Context, leaseIDs []string) ([]engine.LeasedAsset, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT l.lease_id, l.tenant_id, l.task_id, l.asset_id, l.expires_at, l.status, a.project_id, a.meta_spec
		FROM leases l
		JOIN creep_assets a ON a.id = l.asset_id
		WHERE l.lease_id = ANY($1)`,
		leaseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leased []engine.LeasedAsset
	for rows.Next() {
		var la engine.LeasedAsset
		if err := rows.Scan(&la.LeaseID, &la.TenantID, &la.TaskID, &la.AssetID, &la.ExpiresAt, &la.Status, &la.ProjectID, &la.MetaSpec); err != nil {
			return nil, err
		}
		leased = append(leased, la)
	}

	return leased, rows.Err()
}

func (t *Tx) FinishTask(ctx context.Context, taskID string, status engine.TaskStatus, resultCode *string) (bool, error) {
	// The status guard keeps re-delivered payloads from settling twice; the
	// caller rolls back when no row was updated.
	tag, err := t.tx.Exec(ctx, `
		UPDATE task_orders
		SET status = $2, finished_at = now(), result_code = $3
		WHERE task_id = $1 AND status = 'QUEUED'`,
		taskID, status, resultCode)
	if err != nil {
		return false, err
	}

	return tag.RowsAffected() > 0, nil
}

func (t *Tx) UpdateLeases(ctx context.Context, leaseIDs []string, status engine.LeaseStatus) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE leases
		SET status = $2
		WHERE lease_id = ANY($1) AND status = 'ACTIVE'`,
		leaseIDs, status)
	return err
}

func (t *Tx) CoolAssets(ctx context.Context, assetIDs []string, until time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE creep_assets
		SET status = 'COOLING', cool_down_until = $2, lock_id = NULL, lock_expires_at = NULL
		WHERE id = ANY($1) AND status = 'LOCKED'`,
		assetIDs, until)
	return err
}

func (t *Tx) BanAssets(ctx context.Context, assetIDs []string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE creep_assets
		SET status = 'BANNED', lock_id = NULL, lock_expires_at = NULL
		WHERE id = ANY($1) AND status = 'LOCKED'`,
		assetIDs)
	return err
}

func (t *Tx) ClaimExpiredLocks(ctx context.Context, limit int) ([]engine.Asset, error) {
	return t.claimExpired(ctx, `
		SELECT id, tenant_id FROM creep_assets
		WHERE status = 'LOCKED' AND lock_expires_at < now()
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit)
}

func (t *Tx) RecoverLocks(ctx context.Context, assetIDs []string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE creep_assets
		SET status = 'READY', lock_id = NULL, lock_expires_at = NULL, fail_count = COALESCE(fail_count, 0) + 1
		WHERE id = ANY($1)`,
		assetIDs)
	return err
}

func (t *Tx) ClaimExpiredCooling(ctx context.Context, limit int) ([]engine.Asset, error) {
	return t.claimExpired(ctx, `
		SELECT id, tenant_id FROM creep_assets
		WHERE status = 'COOLING' AND cool_down_until < now()
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		limit)
}

func (t *Tx) FinishCooling(ctx context.Context, assetIDs []string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE creep_assets
		SET status = 'READY', cool_down_until = NULL
		WHERE id = ANY($1)`,
		assetIDs)
	return err
}

func (t *Tx) claimExpired(ctx context.Context, query string, limit int) ([]engine.Asset, error) {
	rows, err := t.tx.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []engine.Asset
	for rows.Next() {
		var asset engine.Asset
		if err := rows.Scan(&asset.ID, &asset.TenantID); err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	return assets, rows.Err()
}

func (t *Tx) InsertEvent(ctx context.Context, event engine.AssetEvent) error {
	var severity *string
	if event.Severity != "" {
		severity = &event.Severity
	}

	_, err := t.tx.Exec(ctx, `
		INSERT INTO asset_events (event_id, tenant_id, asset_id, event_type, severity, error_code, occurred_at, recorded_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.EventID, event.TenantID, event.AssetID, event.EventType,
		severity, event.ErrorCode, event.OccurredAt, event.RecordedAt, event.Version)
	return err
}

func (t *Tx) InsertLedger(ctx context.Context, entry engine.LedgerEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO asset_ledger (asset_id, tenant_id, project_id, direction, reason, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.AssetID, entry.TenantID, entry.ProjectID, entry.Direction, entry.Reason, entry.Amount, entry.CreatedAt)
	return err
}
