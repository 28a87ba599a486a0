// Package utxo implements the UTXO state manager: the exclusive owner
// of every OutPoint's lifecycle state and underlying value/script
// payload.
package utxo

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/chainengine"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/types"
)

// Manager owns the global OutPoint -> UTXOState map and the
// underlying UTXO payload, guarded by a non-poisoning RWMutex (Go
// mutexes never poison on panic, so a panicking holder doesn't
// permanently wedge every future lock/unlock call here).
type Manager struct {
	mu       sync.RWMutex
	utxos    map[types.OutPoint]types.UTXO
	states   map[types.OutPoint]types.UTXOState
	storage  storage.Storage
	log      *zap.SugaredLogger
	notifier *chainengine.StateNotifier
}

// NewManager constructs an empty manager backed by store (a
// storage.MemoryStorage is fine for tests).
func NewManager(store storage.Storage, log *zap.SugaredLogger) *Manager {
	return &Manager{
		utxos:    make(map[types.OutPoint]types.UTXO),
		states:   make(map[types.OutPoint]types.UTXOState),
		storage:  store,
		log:      log,
		notifier: chainengine.NewStateNotifier(),
	}
}

// Notifier exposes the manager's state-change pub/sub so callers can
// subscribe to individual outpoints or the global stream.
func (m *Manager) Notifier() *chainengine.StateNotifier {
	return m.notifier
}

type storedUTXO struct {
	Value        uint64 `json:"value"`
	ScriptPubKey []byte `json:"script_pubkey"`
	Address      string `json:"address"`
}

// AddUTXO inserts a fresh Unspent UTXO. Idempotent on an identical
// re-insert; fails if a different UTXO already sits at the outpoint.
func (m *Manager) AddUTXO(u types.UTXO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.utxos[u.OutPoint]; ok {
		if existing == u {
			return nil
		}
		return bcerrors.ErrAlreadyUsed
	}

	m.utxos[u.OutPoint] = u
	unspent := types.Unspent()
	m.states[u.OutPoint] = unspent
	m.notifier.NotifyStateChange(u.OutPoint, nil, unspent)

	if m.storage != nil {
		payload, err := json.Marshal(storedUTXO{Value: u.Value, ScriptPubKey: u.ScriptPubKey, Address: u.Address})
		if err != nil {
			return bcerrors.ErrSerialization
		}
		if err := m.storage.Set(storage.BucketUTXO, []byte(u.OutPoint.String()), payload); err != nil {
			return bcerrors.ErrOpFailed
		}
	}
	return nil
}

// GetUTXO returns the UTXO payload at outpoint, if known.
func (m *Manager) GetUTXO(op types.OutPoint) (types.UTXO, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.utxos[op]
	return u, ok
}

// GetState returns the lifecycle state at outpoint, if known.
func (m *Manager) GetState(op types.OutPoint) (types.UTXOState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[op]
	return s, ok
}

// LockUTXO performs the atomic Unspent -> Locked{txid, now} transition.
// Fails with ErrAlreadyUsed if the current state is anything else, and
// with ErrUnknown if the outpoint was never registered.
func (m *Manager) LockUTXO(op types.OutPoint, spendingTxID types.Hash256) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[op]
	if !ok {
		return bcerrors.ErrUnknown
	}
	if state.Kind != types.StateUnspent {
		return bcerrors.ErrAlreadyUsed
	}

	locked := types.Locked(spendingTxID, time.Now().Unix())
	m.states[op] = locked
	m.notifier.NotifyStateChange(op, &state, locked)
	return nil
}

// allowedTransitions is the UTXO lifecycle transition table. The two
// starred exceptions (Unspent->SpentPending direct, and the reverts
// via cleanup/TimeVote-reject) are modeled by allowing them here;
// UpdateState is the unchecked entry point consensus-driven paths use,
// so this table exists primarily as documentation plus a debug-time
// sanity check rather than a hard gate — UpdateState itself trusts
// callers to preserve ordering.
var allowedTransitions = map[types.UTXOStateKind]map[types.UTXOStateKind]bool{
	types.StateUnspent:        {types.StateLocked: true, types.StateSpentPending: true},
	types.StateLocked:         {types.StateUnspent: true, types.StateSpentPending: true},
	types.StateSpentPending:   {types.StateUnspent: true, types.StateSpentFinalized: true},
	types.StateSpentFinalized: {types.StateConfirmed: true},
	types.StateConfirmed:      {},
}

// IsAllowedTransition reports whether from->to is a legal transition
// per allowedTransitions, for callers (e.g. tests, debug assertions)
// that want to validate before calling the unchecked UpdateState.
func IsAllowedTransition(from, to types.UTXOStateKind) bool {
	return allowedTransitions[from][to]
}

// UpdateState performs an unchecked transition, used only by
// consensus-driven paths (TimeVote finalization, block confirmation).
// Callers must preserve lifecycle ordering themselves.
func (m *Manager) UpdateState(op types.OutPoint, newState types.UTXOState) {
	m.mu.Lock()
	old, hadOld := m.states[op]
	m.states[op] = newState
	m.mu.Unlock()

	if m.log != nil {
		m.log.Debugw("utxo state updated", "outpoint", op.String(), "to", newState.Kind.String())
	}
	if hadOld {
		m.notifier.NotifyStateChange(op, &old, newState)
	} else {
		m.notifier.NotifyStateChange(op, nil, newState)
	}
}

// ApplyBlockCommit transitions every non-coinbase transaction's spent
// inputs in b from Locked/SpentPending to SpentFinalized now that b
// has been appended to the chain. Wired into chainengine.Engine via
// the UTXOApplier interface (setter-injected, avoiding a
// chainengine->utxo import cycle alongside the existing utxo->
// chainengine one for StateNotifier).
func (m *Manager) ApplyBlockCommit(b *types.Block, now int64) {
	for _, tx := range b.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		txid := tx.TxID()
		for _, in := range tx.Inputs {
			m.UpdateState(in.PreviousOutput, types.SpentFinalized(txid, now, 0))
		}
	}
}

// PromoteConfirmed advances b's spent inputs from SpentFinalized to
// Confirmed once b sits types.MaxReorgDepth blocks behind the tip and
// can no longer be displaced by a fork switch.
func (m *Manager) PromoteConfirmed(b *types.Block, now int64) {
	for _, tx := range b.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		txid := tx.TxID()
		for _, in := range tx.Inputs {
			m.UpdateState(in.PreviousOutput, types.Confirmed(txid, b.Header.Height, now))
		}
	}
}

// UndoBlockCommit reverts b's spent inputs back to Unspent when a
// fork resolver rewinds past b, since the spend it represented is no
// longer part of the canonical chain.
func (m *Manager) UndoBlockCommit(b *types.Block) {
	for _, tx := range b.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		for _, in := range tx.Inputs {
			m.UpdateState(in.PreviousOutput, types.Unspent())
		}
	}
}

// SpendableByAddress returns every UTXO owned by address that is
// currently Unspent, for wallet-side coin selection.
func (m *Manager) SpendableByAddress(address string) []types.UTXO {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.UTXO
	for op, u := range m.utxos {
		if u.Address != address {
			continue
		}
		if state, ok := m.states[op]; ok && state.Kind == types.StateUnspent {
			out = append(out, u)
		}
	}
	return out
}

// CleanupExpiredLocks reverts Locked entries older than
// types.LockExpirySecs back to Unspent, returning the count cleaned.
func (m *Manager) CleanupExpiredLocks() int {
	now := time.Now().Unix()
	return m.cleanupExpiredLocksAt(now)
}

// cleanupExpiredLocksAt is the testable core of CleanupExpiredLocks,
// parameterized on "now" so tests can simulate elapsed time without
// sleeping.
func (m *Manager) cleanupExpiredLocksAt(now int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for op, state := range m.states {
		if state.Kind != types.StateLocked {
			continue
		}
		if now-state.LockedAt > types.LockExpirySecs {
			reverted := types.Unspent()
			m.states[op] = reverted
			m.notifier.NotifyStateChange(op, &state, reverted)
			count++
		}
	}
	return count
}
