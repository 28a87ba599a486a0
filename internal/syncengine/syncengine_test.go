package syncengine

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/blockbuilder"
	"github.com/timecoin/node/internal/blockcache"
	"github.com/timecoin/node/internal/chainengine"
	"github.com/timecoin/node/internal/masternode"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/types"
)

type fakeSource struct {
	height      uint64
	tipHash     types.Hash256
	genesisHash types.Hash256
	blocks      map[uint64]types.Block
}

func (f *fakeSource) GetHeightAndGenesis(ctx context.Context, ip string) (uint64, types.Hash256, types.Hash256, time.Duration, error) {
	return f.height, f.tipHash, f.genesisHash, time.Millisecond, nil
}

func (f *fakeSource) GetBlocks(ctx context.Context, ip string, start, end uint64) ([]types.Block, error) {
	var out []types.Block
	for h := start; h <= end; h++ {
		out = append(out, f.blocks[h])
	}
	return out, nil
}

func TestRunCatchesUpToPeerConsensusHeight(t *testing.T) {
	nodes, err := masternode.NewRegistry(storage.NewMemoryStorage(), nil)
	require.NoError(t, err)
	cache, err := blockcache.New(1)
	require.NoError(t, err)
	chain := chainengine.New(storage.NewMemoryStorage(), cache, nodes, 0, nil)
	require.NoError(t, chain.InitializeGenesis())

	genesisHash := chain.Tip()

	block1 := blockbuilder.Build(blockbuilder.Input{Height: 1, PreviousHash: genesisHash, SlotTimestamp: 600})
	src := &fakeSource{height: 1, genesisHash: genesisHash, blocks: map[uint64]types.Block{1: block1}}

	eng := New(chain, nil, src, nil)
	err = eng.Run(context.Background(), []string{"10.0.0.1"}, genesisHash, nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), chain.Height())
}

func TestRunAbortsOnGenesisMismatch(t *testing.T) {
	nodes, err := masternode.NewRegistry(storage.NewMemoryStorage(), nil)
	require.NoError(t, err)
	cache, err := blockcache.New(1)
	require.NoError(t, err)
	chain := chainengine.New(storage.NewMemoryStorage(), cache, nodes, 0, nil)
	require.NoError(t, chain.InitializeGenesis())

	var wrongGenesis types.Hash256
	wrongGenesis[0] = 1
	src := &fakeSource{height: 5, genesisHash: wrongGenesis}

	eng := New(chain, nil, src, nil)
	err = eng.Run(context.Background(), []string{"10.0.0.1"}, chain.Tip(), nil, nil)
	require.Error(t, err)
}

func TestShouldTrigger(t *testing.T) {
	require.False(t, ShouldTrigger(10, 12))
	require.True(t, ShouldTrigger(10, 16))
}

// TestRunResolvesSameHeightForkViaTipHashTiebreak covers the case
// where local and peer both finalized a competing block at the same
// height. With identical supporter sets on both sides, the decision
// ladder falls all the way to the tip-hash tiebreaker, so whichever
// block hashes lower wins; the test computes that at runtime rather
// than assuming a direction.
func TestRunResolvesSameHeightForkViaTipHashTiebreak(t *testing.T) {
	nodes, err := masternode.NewRegistry(storage.NewMemoryStorage(), nil)
	require.NoError(t, err)
	cache, err := blockcache.New(1)
	require.NoError(t, err)
	chain := chainengine.New(storage.NewMemoryStorage(), cache, nodes, 0, nil)
	require.NoError(t, chain.InitializeGenesis())
	genesisHash := chain.Tip()

	// Both blocks sit in the height-1 slot; they differ only in the
	// leader field, which the validator does not check.
	blockA := blockbuilder.Build(blockbuilder.Input{Height: 1, PreviousHash: genesisHash, SlotTimestamp: 600})
	blockB := blockbuilder.Build(blockbuilder.Input{Height: 1, PreviousHash: genesisHash, SlotTimestamp: 600})
	blockB.Header.Leader = "10.0.0.2"
	require.NotEqual(t, blockA.Hash(), blockB.Hash())

	// The peer gets the lower-hashing block, so the tiebreaker switches
	// to it.
	hashA, hashB := blockA.Hash(), blockB.Hash()
	localBlock, peerBlock := blockA, blockB
	if bytes.Compare(hashA[:], hashB[:]) < 0 {
		localBlock, peerBlock = blockB, blockA
	}
	genesisBlock, err := chain.GetBlockByHeight(0)
	require.NoError(t, err)

	require.NoError(t, chain.AddBlock(&localBlock, nil, nil, time.Now().Unix(), false))
	require.Equal(t, uint64(1), chain.Height())

	src := &fakeSource{
		height:      1,
		tipHash:     peerBlock.Hash(),
		genesisHash: genesisHash,
		blocks:      map[uint64]types.Block{0: *genesisBlock, 1: peerBlock},
	}
	eng := New(chain, nil, src, nil)

	err = eng.Run(context.Background(), []string{"10.0.0.2"}, genesisHash, nil, nil)
	require.NoError(t, err)
	require.Equal(t, peerBlock.Hash(), chain.Tip())
	require.Equal(t, uint64(1), chain.Height())
}
