package masternode

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(storage.NewMemoryStorage(), nil)
	require.NoError(t, err)
	return r
}

func TestRegisterRejectsDuplicateIP(t *testing.T) {
	r := newTestRegistry(t)
	mn := types.Masternode{Address: "10.0.0.1", Tier: types.TierGold, Collateral: 100000}
	require.NoError(t, r.Register(mn, "wallet1"))
	require.Error(t, r.Register(mn, "wallet2"))
}

func TestListActiveSortedByAddress(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(types.Masternode{Address: "10.0.0.2"}, ""))
	require.NoError(t, r.Register(types.Masternode{Address: "10.0.0.1"}, ""))

	info, _ := r.Get("10.0.0.1")
	active := r.listActiveAt(info.LastActivity)
	require.Len(t, active, 2)
	require.Equal(t, "10.0.0.1", active[0].Address)
	require.Equal(t, "10.0.0.2", active[1].Address)
}

func TestListActiveExcludesStale(t *testing.T) {
	r := newTestRegistry(t)
	require.NoError(t, r.Register(types.Masternode{Address: "10.0.0.1"}, ""))

	info, _ := r.Get("10.0.0.1")
	active := r.listActiveAt(info.LastActivity + types.LivenessWindowSecs + 1)
	require.Empty(t, active)
}

func TestParticipationBitmapRoundTrip(t *testing.T) {
	r := newTestRegistry(t)
	addrs := []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"}
	active := make([]types.MasternodeInfo, 0, len(addrs))
	for _, a := range addrs {
		require.NoError(t, r.Register(types.Masternode{Address: a}, ""))
		info, _ := r.Get(a)
		active = append(active, info)
	}

	participated := map[string]bool{"10.0.0.1": true, "10.0.0.3": true}
	bitmap, snapshot := BuildParticipationBitmap(active, participated)

	decoded := r.GetActiveFromBitmap(bitmap, snapshot)
	got := map[string]bool{}
	for _, d := range decoded {
		got[d.Address] = true
	}
	require.True(t, got["10.0.0.1"])
	require.True(t, got["10.0.0.3"])
	require.False(t, got["10.0.0.2"])
}

func TestCertificateSignAndVerify(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	cert := Certificate{Address: "10.0.0.1", Tier: types.TierSilver, Collateral: 10000, RegisteredAt: 100}
	cert.Sign(priv)
	require.True(t, cert.Verify(pub))

	tampered := cert
	tampered.Collateral = 99999
	require.False(t, tampered.Verify(pub))
}
