package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBlocksFinalizedIncrements(t *testing.T) {
	m := New()
	m.BlocksFinalized.Inc()
	m.BlocksFinalized.Inc()
	require.Equal(t, float64(2), testutil.ToFloat64(m.BlocksFinalized))
}

func TestChainHeightGaugeSet(t *testing.T) {
	m := New()
	m.ChainHeight.Set(42)
	require.Equal(t, float64(42), testutil.ToFloat64(m.ChainHeight))
}

func TestMetricsRegisteredOnOwnRegistry(t *testing.T) {
	m := New()
	families, err := m.Registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
