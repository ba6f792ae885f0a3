// Package memory provides an in-process store used by tests. It honors the
// same transactional contract as the Postgres store: claims skip rows held
// by other in-flight transactions, writes stay invisible until commit, and
// rollback releases every row lock taken during the transaction.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/creepdata/creep-engine/pkg/engine"
)

type Store struct {
	mu sync.Mutex

	assets map[string]engine.Asset
	tasks  map[string]engine.TaskOrder
	leases map[string]engine.Lease
	events []engine.AssetEvent
	ledger []engine.LedgerEntry

	// rows held under write lock by an in-flight transaction
	held map[string]*Tx

	leaseSeq int

	// BeginErr, when set, fails the next Begin. Used to exercise store
	// failure paths.
	BeginErr error
}

var _ engine.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		assets: map[string]engine.Asset{},
		tasks:  map[string]engine.TaskOrder{},
		leases: map[string]engine.Lease{},
		held:   map[string]*Tx{},
	}
}

func (s *Store) Begin(context.Context) (engine.Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.BeginErr != nil {
		err := s.BeginErr
		s.BeginErr = nil
		return nil, err
	}

	return &Tx{
		store:  s,
		assets: map[string]engine.Asset{},
		tasks:  map[string]engine.TaskOrder{},
		leases: map[string]engine.Lease{},
	}, nil
}

func (s *Store) Close() {}

// Seed helpers and snapshots for assertions.

func (s *Store) AddAsset(asset engine.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[asset.ID] = asset
}

func (s *Store) AddTask(task engine.TaskOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.TaskID] = task
}

func (s *Store) AddLease(lease engine.Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leases[lease.LeaseID] = lease
}

func (s *Store) Asset(id string) (engine.Asset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	return a, ok
}

func (s *Store) Task(id string) (engine.TaskOrder, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

func (s *Store) Lease(id string) (engine.Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	return l, ok
}

func (s *Store) Leases() []engine.Lease {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]engine.Lease, 0, len(s.leases))
	for _, l := range s.leases {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaseID < out[j].LeaseID })
	return out
}

func (s *Store) Events() []engine.AssetEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.AssetEvent(nil), s.events...)
}

func (s *Store) Ledger() []engine.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]engine.LedgerEntry(nil), s.ledger...)
}

// Tx overlays uncommitted changes on top of the committed maps. Reads see
// the transaction's own writes; claims skip rows held by peers.
type Tx struct {
	store *Store

	assets map[string]engine.Asset
	tasks  map[string]engine.TaskOrder
	leases map[string]engine.Lease
	events []engine.AssetEvent
	ledger []engine.LedgerEntry

	heldKeys []string
	done     bool
}

var _ engine.Tx = (*Tx)(nil)

var errTxDone = errors.New("transaction already finished")

func (t *Tx) Commit(context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return errTxDone
	}

	for id, a := range t.assets {
		s.assets[id] = a
	}
	for id, task := range t.tasks {
		s.tasks[id] = task
	}
	for id, l := range t.leases {
		s.leases[id] = l
	}
	s.events = append(s.events, t.events...)
	s.ledger = append(s.ledger, t.ledger...)

	t.finish()
	return nil
}

func (t *Tx) Rollback(context.Context) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.done {
		return nil
	}

	t.finish()
	return nil
}

// caller must hold store.mu
func (t *Tx) finish() {
	for _, key := range t.heldKeys {
		if t.store.held[key] == t {
			delete(t.store.held, key)
		}
	}
	t.done = true
}

// caller must hold store.mu
func (t *Tx) hold(key string) bool {
	owner, taken := t.store.held[key]
	if taken && owner != t {
		return false
	}
	if !taken {
		t.store.held[key] = t
		t.heldKeys = append(t.heldKeys, key)
	}
	return true
}

func (t *Tx) ClaimPendingTask(context.Context) (*engine.TaskOrder, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []engine.TaskOrder
	for id, task := range s.tasks {
		if overlay, ok := t.tasks[id]; ok {
			task = overlay
		}
		if task.Status == engine.TaskPending {
			candidates = append(candidates, task)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	for _, task := range candidates {
		if t.hold("task:" + task.TaskID) {
			claimed := task
			return &claimed, nil
		}
	}

	return nil, nil
}

func (t *Tx) ClaimReadyAssets(_ context.Context, hint engine.ResourceHint, limit int) ([]engine.Asset, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var claimed []engine.Asset
	for _, id := range ids {
		if len(claimed) == limit {
			break
		}

		asset := s.assets[id]
		if overlay, ok := t.assets[id]; ok {
			asset = overlay
		}
		if asset.Status != engine.AssetReady || !hint.Matches(asset) {
			continue
		}
		if !t.hold("asset:" + id) {
			continue
		}

		claimed = append(claimed, asset)
	}

	return claimed, nil
}

func (t *Tx) LockAssets(_ context.Context, assetIDs []string, lockID string, expiresAt time.Time) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range assetIDs {
		asset, err := t.assetForUpdate(id)
		if err != nil {
			return err
		}

		asset.Status = engine.AssetLocked
		asset.LockID = &lockID
		expiry := expiresAt
		asset.LockExpiresAt = &expiry
		t.assets[id] = asset
	}

	return nil
}

func (t *Tx) InsertLease(_ context.Context, lease engine.Lease) (string, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaseSeq++
	lease.LeaseID = fmt.Sprintf("lease-%d", s.leaseSeq)
	lease.Status = engine.LeaseActive
	t.leases[lease.LeaseID] = lease

	return lease.LeaseID, nil
}

func (t *Tx) MarkTaskQueued(_ context.Context, taskID string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := t.taskForUpdate(taskID)
	if err != nil {
		return err
	}

	task.Status = engine.TaskQueued
	t.tasks[taskID] = task
	return nil
}

func (t *Tx) GetTask(_ context.Context, taskID string) (*engine.TaskOrder, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if overlay, inTx := t.tasks[taskID]; inTx {
		task, ok = overlay, true
	}
	if !ok {
		return nil, nil
	}

	found := task
	return &found, nil
}

func (t *Tx) GetLeasedAssets(_ context.Context, leaseIDs []string) ([]engine.LeasedAsset, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []engine.LeasedAsset
	for _, id := range leaseIDs {
		lease, ok := s.leases[id]
		if overlay, inTx := t.leases[id]; inTx {
			lease, ok = overlay, true
		}
		if !ok {
			continue
		}

		asset, ok := s.assets[lease.AssetID]
		if overlay, inTx := t.assets[lease.AssetID]; inTx {
			asset, ok = overlay, true
		}
		if !ok {
			continue
		}

		out = append(out, engine.LeasedAsset{
			Lease:     lease,
			ProjectID: asset.ProjectID,
			MetaSpec:  asset.MetaSpec,
		})
	}

	return out, nil
}

func (t *Tx) FinishTask(_ context.Context, taskID string, status engine.TaskStatus, resultCode *string) (bool, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	task, err := t.taskForUpdate(taskID)
	if err != nil {
		return false, err
	}
	if task.Status != engine.TaskQueued {
		return false, nil
	}

	finished := time.Now()
	task.Status = status
	task.FinishedAt = &finished
	task.ResultCode = resultCode
	t.tasks[taskID] = task
	return true, nil
}

func (t *Tx) UpdateLeases(_ context.Context, leaseIDs []string, status engine.LeaseStatus) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range leaseIDs {
		lease, ok := s.leases[id]
		if overlay, inTx := t.leases[id]; inTx {
			lease, ok = overlay, true
		}
		if !ok || lease.Status != engine.LeaseActive {
			continue
		}

		lease.Status = status
		t.leases[id] = lease
	}

	return nil
}

func (t *Tx) CoolAssets(_ context.Context, assetIDs []string, until time.Time) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range assetIDs {
		asset, err := t.assetForUpdate(id)
		if err != nil {
			return err
		}
		if asset.Status != engine.AssetLocked {
			continue
		}

		cool := until
		asset.Status = engine.AssetCooling
		asset.CoolDownUntil = &cool
		asset.LockID = nil
		asset.LockExpiresAt = nil
		t.assets[id] = asset
	}

	return nil
}

func (t *Tx) BanAssets(_ context.Context, assetIDs []string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range assetIDs {
		asset, err := t.assetForUpdate(id)
		if err != nil {
			return err
		}
		if asset.Status != engine.AssetLocked {
			continue
		}

		asset.Status = engine.AssetBanned
		asset.LockID = nil
		asset.LockExpiresAt = nil
		t.assets[id] = asset
	}

	return nil
}

func (t *Tx) ClaimExpiredLocks(_ context.Context, limit int) ([]engine.Asset, error) {
	return t.claimExpired(limit, func(a engine.Asset) bool {
		return a.Status == engine.AssetLocked && a.LockExpiresAt != nil && a.LockExpiresAt.Before(time.Now())
	})
}

func (t *Tx) RecoverLocks(_ context.Context, assetIDs []string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range assetIDs {
		asset, err := t.assetForUpdate(id)
		if err != nil {
			return err
		}

		asset.Status = engine.AssetReady
		asset.LockID = nil
		asset.LockExpiresAt = nil
		asset.FailCount++
		t.assets[id] = asset
	}

	return nil
}

func (t *Tx) ClaimExpiredCooling(_ context.Context, limit int) ([]engine.Asset, error) {
	return t.claimExpired(limit, func(a engine.Asset) bool {
		return a.Status == engine.AssetCooling && a.CoolDownUntil != nil && a.CoolDownUntil.Before(time.Now())
	})
}

func (t *Tx) FinishCooling(_ context.Context, assetIDs []string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range assetIDs {
		asset, err := t.assetForUpdate(id)
		if err != nil {
			return err
		}

		asset.Status = engine.AssetReady
		asset.CoolDownUntil = nil
		t.assets[id] = asset
	}

	return nil
}

func (t *Tx) claimExpired(limit int, pred func(engine.Asset) bool) ([]engine.Asset, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.assets))
	for id := range s.assets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var claimed []engine.Asset
	for _, id := range ids {
		if len(claimed) == limit {
			break
		}

		asset := s.assets[id]
		if overlay, ok := t.assets[id]; ok {
			asset = overlay
		}
		if !pred(asset) || !t.hold("asset:"+id) {
			continue
		}

		claimed = append(claimed, asset)
	}

	return claimed, nil
}

func (t *Tx) InsertEvent(_ context.Context, event engine.AssetEvent) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	t.events = append(t.events, event)
	return nil
}

func (t *Tx) InsertLedger(_ context.Context, entry engine.LedgerEntry) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ledger = append(t.ledger, entry)
	return nil
}

// caller must hold store.mu
func (t *Tx) assetForUpdate(id string) (engine.Asset, error) {
	if asset, ok := t.assets[id]; ok {
		return asset, nil
	}

	asset, ok := t.store.assets[id]
	if !ok {
		return engine.Asset{}, fmt.Errorf("asset %q does not exist", id)
	}
	t.hold("asset:" + id)

	return asset, nil
}

// caller must hold store.mu
func (t *Tx) taskForUpdate(id string) (engine.TaskOrder, error) {
	if task, ok := t.tasks[id]; ok {
		return task, nil
	}

	task, ok := t.store.tasks[id]
	if !ok {
		return engine.TaskOrder{}, fmt.Errorf("task %q does not exist", id)
	}
	t.hold("task:" + id)

	return task, nil
}
