package chainengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/blockbuilder"
	"github.com/timecoin/node/internal/blockcache"
	"github.com/timecoin/node/internal/masternode"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/types"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	nodes, err := masternode.NewRegistry(storage.NewMemoryStorage(), nil)
	require.NoError(t, err)
	cache, err := blockcache.New(1)
	require.NoError(t, err)
	e := New(storage.NewMemoryStorage(), cache, nodes, 0, nil)
	require.NoError(t, e.InitializeGenesis())
	return e
}

func TestInitializeGenesisIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	tip := e.Tip()
	require.NoError(t, e.InitializeGenesis())
	require.Equal(t, tip, e.Tip())
	require.Equal(t, uint64(0), e.Height())
}

func TestAddBlockAdvancesTipAndHeight(t *testing.T) {
	e := newTestEngine(t)
	genesisHash := e.Tip()

	b := blockbuilder.Build(blockbuilder.Input{Height: 1, PreviousHash: genesisHash, SlotTimestamp: 600})
	require.NoError(t, e.AddBlock(&b, nil, nil, 600, false))
	require.Equal(t, uint64(1), e.Height())
	require.Equal(t, b.Hash(), e.Tip())
}

func TestAddBlockRejectsWrongPreviousHash(t *testing.T) {
	e := newTestEngine(t)
	var wrongPrev types.Hash256
	wrongPrev[0] = 0xAB
	b := blockbuilder.Build(blockbuilder.Input{Height: 1, PreviousHash: wrongPrev, SlotTimestamp: 600})
	require.Error(t, e.AddBlock(&b, nil, nil, 600, false))
	require.Equal(t, uint64(0), e.Height())
}

func TestValidateChainIntegrityFindsCorruptMerkleRoot(t *testing.T) {
	e := newTestEngine(t)
	genesisHash := e.Tip()
	b := blockbuilder.Build(blockbuilder.Input{Height: 1, PreviousHash: genesisHash, SlotTimestamp: 600})
	require.NoError(t, e.AddBlock(&b, nil, nil, 600, false))

	corrupted := b
	corrupted.Header.MerkleRoot[0] ^= 0xFF
	corrupted.InvalidateHash()
	require.NoError(t, e.persistBlockLocked(&corrupted))

	corrupt, err := e.ValidateChainIntegrity()
	require.NoError(t, err)
	require.Contains(t, corrupt, uint64(1))
}
