package txpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/types"
	"github.com/timecoin/node/internal/utxo"
)

func TestAddPendingLocksInputs(t *testing.T) {
	um := utxo.NewManager(storage.NewMemoryStorage(), nil)
	var src types.Hash256
	src[0] = 1
	op := types.OutPoint{TxID: src, Vout: 0}
	require.NoError(t, um.AddUTXO(types.UTXO{OutPoint: op, Value: 500}))

	pool := NewPool(um, nil)
	tx := types.NewTransaction(
		[]types.TxInput{{PreviousOutput: op}},
		[]types.TxOutput{{Value: 400}},
	)

	require.NoError(t, pool.AddPending(*tx, 100, "127.0.0.1"))

	state, ok := um.GetState(op)
	require.True(t, ok)
	require.Equal(t, types.StateLocked, state.Kind)

	// Re-adding the same txid is rejected.
	err := pool.AddPending(*tx, 100, "127.0.0.1")
	require.Error(t, err)
}

func TestFinalizeAndRejectTransitions(t *testing.T) {
	pool := NewPool(nil, nil)
	tx := types.NewTransaction(nil, []types.TxOutput{{Value: 1}})
	require.NoError(t, pool.AddPending(*tx, 0, ""))

	pool.FinalizeTransaction(tx.TxID())
	require.True(t, pool.IsFinalized(tx.TxID()))
	require.Equal(t, 0, pool.PendingCount())

	tx2 := types.NewTransaction(nil, []types.TxOutput{{Value: 2}})
	require.NoError(t, pool.AddPending(*tx2, 0, ""))
	pool.RejectTransaction(tx2.TxID(), "bad signature")
	reason, ok := pool.RejectionReason(tx2.TxID())
	require.True(t, ok)
	require.Equal(t, "bad signature", reason)

	removed := pool.cleanupRejectedBefore(time.Now().Unix() + 1000)
	require.Equal(t, 1, removed)
}
