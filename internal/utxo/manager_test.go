package utxo

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/types"
)

func testOutPoint(b byte) types.OutPoint {
	var txid types.Hash256
	txid[0] = b
	return types.OutPoint{TxID: txid, Vout: 0}
}

// Unspent -> Locked -> (second lock fails) -> after 601s simulated,
// CleanupExpiredLocks reverts it back to Unspent.
func TestUTXOLifecycleScenario(t *testing.T) {
	m := NewManager(storage.NewMemoryStorage(), nil)
	op := testOutPoint(7)
	require.NoError(t, m.AddUTXO(types.UTXO{OutPoint: op, Value: 100}))

	var lockingTxID types.Hash256
	lockingTxID[0] = 9
	require.NoError(t, m.LockUTXO(op, lockingTxID))

	state, ok := m.GetState(op)
	require.True(t, ok)
	require.Equal(t, types.StateLocked, state.Kind)
	require.Equal(t, lockingTxID, state.LockTxID)

	var otherTxID types.Hash256
	otherTxID[0] = 42
	err := m.LockUTXO(op, otherTxID)
	require.ErrorIs(t, err, bcerrors.ErrAlreadyUsed)

	cleaned := m.cleanupExpiredLocksAt(state.LockedAt + 601)
	require.Equal(t, 1, cleaned)

	state, ok = m.GetState(op)
	require.True(t, ok)
	require.Equal(t, types.StateUnspent, state.Kind)
}

func TestAddUTXOIdempotent(t *testing.T) {
	m := NewManager(storage.NewMemoryStorage(), nil)
	u := types.UTXO{OutPoint: testOutPoint(1), Value: 50}

	require.NoError(t, m.AddUTXO(u))
	require.NoError(t, m.AddUTXO(u)) // identical re-insert is a no-op

	different := u
	different.Value = 99
	err := m.AddUTXO(different)
	require.ErrorIs(t, err, bcerrors.ErrAlreadyUsed)
}

func TestLockUnknownOutpoint(t *testing.T) {
	m := NewManager(storage.NewMemoryStorage(), nil)
	err := m.LockUTXO(testOutPoint(1), types.Hash256{})
	require.ErrorIs(t, err, bcerrors.ErrUnknown)
}
