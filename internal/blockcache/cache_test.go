package blockcache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/types"
)

func TestPutThenGetHitsHotTier(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)

	b := &types.Block{Header: types.BlockHeader{Height: 5}}
	require.NoError(t, c.Put(b))

	got, ok := c.Get(b.Hash())
	require.True(t, ok)
	require.Equal(t, uint64(5), got.Header.Height)

	stats, _, _ := c.Stats()
	require.Equal(t, uint64(1), stats.HotHits)
}

func TestInvalidateRemovesBothTiers(t *testing.T) {
	c, err := New(1)
	require.NoError(t, err)

	b := &types.Block{Header: types.BlockHeader{Height: 9}}
	require.NoError(t, c.Put(b))
	c.Invalidate(b.Hash())

	_, ok := c.Get(b.Hash())
	require.False(t, ok)
}
