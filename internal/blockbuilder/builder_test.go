package blockbuilder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/types"
)

func sampleInput() Input {
	tx := types.NewTransaction(
		[]types.TxInput{{PreviousOutput: types.OutPoint{Vout: 0}}},
		[]types.TxOutput{{Value: 500, ScriptPubKey: []byte("addr1")}},
	)
	nodes := []types.MasternodeInfo{
		{Masternode: types.Masternode{Address: "10.0.0.2", WalletAddress: "w2", Tier: types.TierSilver}},
		{Masternode: types.Masternode{Address: "10.0.0.1", WalletAddress: "w1", Tier: types.TierGold}},
	}
	return Input{
		Height:            10,
		PreviousHash:      types.ZeroHash,
		FinalizedTxs:      []types.Transaction{*tx},
		Fees:              map[types.Hash256]uint64{tx.TxID(): 100},
		ActiveMasternodes: nodes,
		SlotTimestamp:     6000,
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	in := sampleInput()
	b1 := Build(in)
	b2 := Build(sampleInput())

	bytes1, err := types.CanonicalHeaderBytes(b1.Header)
	require.NoError(t, err)
	bytes2, err := types.CanonicalHeaderBytes(b2.Header)
	require.NoError(t, err)
	require.Equal(t, bytes1, bytes2)
	require.Equal(t, b1.Hash(), b2.Hash())
	require.Equal(t, b1.MasternodeRewards, b2.MasternodeRewards)
}

func TestBuildSortsMasternodesAndTransactions(t *testing.T) {
	b := Build(sampleInput())
	require.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, b.BitmapSnapshot)
	require.True(t, b.Header.MasternodeTiers.Gold == 1 && b.Header.MasternodeTiers.Silver == 1)
	require.Len(t, b.Transactions, 2) // coinbase + 1 finalized
	require.True(t, b.Transactions[0].IsCoinbase())
}

func TestRewardDistributionAppliesProtocolFee(t *testing.T) {
	b := Build(sampleInput())
	require.Len(t, b.MasternodeRewards, 2)
	for _, p := range b.MasternodeRewards {
		require.Greater(t, p.Amount, uint64(0))
	}

	// Payouts follow address order: 10.0.0.1 (Gold) then 10.0.0.2
	// (Silver). Each is its weighted gross share of base reward plus
	// the 100-satoshi fee, minus floor(gross/1000).
	total := b.Header.BlockReward + 100
	weights := []uint64{types.TierGold.RewardWeight(), types.TierSilver.RewardWeight()}
	sum := weights[0] + weights[1]
	for i, p := range b.MasternodeRewards {
		gross := total * weights[i] / sum
		require.Equal(t, gross-gross/1000, p.Amount)
	}
}
