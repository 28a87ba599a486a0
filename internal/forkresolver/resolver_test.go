package forkresolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/types"
)

// Local chain at height 500, peer claims a tip at height 450 that
// diverged at height 350: reverting 150 > MAX_REORG_DEPTH (100), so
// the switch is refused regardless of which rule would otherwise win.
func TestResolveRefusesReorgBeyondMaxDepth(t *testing.T) {
	local := ChainSummary{
		TipHash: types.Hash256{0xFF},
		Height:  500,
		Supporters: []types.MasternodeInfo{
			{Masternode: types.Masternode{Tier: types.TierBronze}},
		},
	}
	candidate := ChainSummary{
		TipHash: types.Hash256{0x01},
		Height:  450,
		Supporters: []types.MasternodeInfo{
			{Masternode: types.Masternode{Tier: types.TierGold}},
			{Masternode: types.Masternode{Tier: types.TierGold}},
		},
	}

	decision := Resolve(local, candidate, 350)
	require.False(t, decision.Switch)
	require.Equal(t, "reorg_too_deep", decision.Rule)
}

func TestResolveHighestTierWinsWithinDepth(t *testing.T) {
	local := ChainSummary{
		TipHash: types.Hash256{0xAA},
		Height:  100,
		Supporters: []types.MasternodeInfo{
			{Masternode: types.Masternode{Tier: types.TierBronze}},
		},
	}
	candidate := ChainSummary{
		TipHash: types.Hash256{0xBB},
		Height:  100,
		Supporters: []types.MasternodeInfo{
			{Masternode: types.Masternode{Tier: types.TierGold}},
		},
	}

	decision := Resolve(local, candidate, 90)
	require.True(t, decision.Switch)
	require.Equal(t, "highest_tier", decision.Rule)
}

// Nothing in this package returns a raw bcerrors sentinel (it returns
// a Decision instead), but ReorgTooDeep is the blockchain-layer error
// callers translate a refused Decision into; assert the sentinel
// exists and is distinct so that translation stays possible.
func TestReorgTooDeepSentinelDistinct(t *testing.T) {
	require.NotEqual(t, bcerrors.ErrReorgTooDeep.Error(), bcerrors.ErrForkDetected.Error())
}
