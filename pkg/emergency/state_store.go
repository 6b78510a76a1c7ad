package emergency

import (
	"context"
	"sync"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/audit"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/contracts"
	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

// StateStore holds the kill-switch singleton. CompareAndSwap stores next only
// if the stored Version still equals expected; it is the single writer path.
type StateStore interface {
	Load(ctx context.Context) (contracts.KillSwitchState, error)
	CompareAndSwap(ctx context.Context, expected uint64, next contracts.KillSwitchState) (bool, error)
}

// MemoryStateStore keeps the state in process memory.
type MemoryStateStore struct {
	mu    sync.Mutex
	state contracts.KillSwitchState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{}
}

func (m *MemoryStateStore) Load(_ context.Context) (contracts.KillSwitchState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone(), nil
}

func (m *MemoryStateStore) CompareAndSwap(_ context.Context, expected uint64, next contracts.KillSwitchState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Version != expected {
		return false, nil
	}
	m.state = next.Clone()
	return true, nil
}

// SeedFromAudit loads the last recorded kill-switch state from the audit
// trail into an empty store, so a restarted process without a shared store
// keeps an active halt in force. A store that already holds state is left
// untouched.
func SeedFromAudit(ctx context.Context, states StateStore, log *audit.Log) (bool, error) {
	cur, err := states.Load(ctx)
	if err != nil {
		return false, err
	}
	if cur.Version != 0 || log == nil || log.Store() == nil {
		return false, nil
	}
	entries := log.Store().Query(store.QueryFilter{EntryType: store.EntryTypeKillSwitch})
	if len(entries) == 0 {
		return false, nil
	}
	var last contracts.KillSwitchState
	if err := entries[len(entries)-1].Decode(&last); err != nil {
		return false, err
	}
	return states.CompareAndSwap(ctx, 0, last)
}
