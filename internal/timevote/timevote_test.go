package timevote

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/types"
)

// Ten validators, weight 1000 each, total 10,000. Seven
// PRECOMMIT-equivalent accept votes (7000) finalize; six (6000) do not.
func TestThresholdFinality(t *testing.T) {
	var txid types.Hash256
	txid[0] = 1

	core := NewCore(nil)
	core.InitiateConsensus(txid, types.Accept)

	finalized := false
	for i := 0; i < 6; i++ {
		finalized = core.AccumulateVote(txid, fmt.Sprintf("10.0.0.%d", i), types.Accept, 1000, 10000) || finalized
	}
	require.False(t, finalized)
	require.False(t, core.IsFinalized(txid))

	finalized = core.AccumulateVote(txid, "10.0.0.7", types.Accept, 1000, 10000)
	require.True(t, finalized)
	require.True(t, core.IsFinalized(txid))

	pref, fin, ok := core.GetTxState(txid)
	require.True(t, ok)
	require.True(t, fin)
	require.Equal(t, types.Accept, pref)
}

func TestVoteIdempotentPerVoter(t *testing.T) {
	var txid types.Hash256
	txid[0] = 2
	core := NewCore(nil)
	core.InitiateConsensus(txid, types.Accept)

	core.AccumulateVote(txid, "10.0.0.1", types.Accept, 5000, 10000)
	core.AccumulateVote(txid, "10.0.0.1", types.Accept, 5000, 10000) // repeat, no-op

	_, fin, _ := core.GetTxState(txid)
	require.False(t, fin) // only counted once: 5000 < 6700 needed
}
