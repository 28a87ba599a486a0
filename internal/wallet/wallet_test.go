package wallet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/cryptoutil"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/types"
	"github.com/timecoin/node/internal/utxo"
)

func TestGenerateWalletDerivesUniqueAddresses(t *testing.T) {
	s := NewStore()
	a, err := s.GenerateWallet()
	require.NoError(t, err)
	b, err := s.GenerateWallet()
	require.NoError(t, err)
	require.NotEqual(t, a.Address, b.Address)
	require.Same(t, a, s.GetWallet(a.Address))
}

func TestBuildAndSignTransactionSpendsAndReturnsChange(t *testing.T) {
	s := NewStore()
	w, err := s.GenerateWallet()
	require.NoError(t, err)

	mgr := utxo.NewManager(storage.NewMemoryStorage(), nil)
	op := types.OutPoint{TxID: types.SHA256([]byte("seed")), Vout: 0}
	require.NoError(t, mgr.AddUTXO(types.UTXO{OutPoint: op, Value: 1000, Address: w.Address}))

	tx, err := s.BuildAndSignTransaction(mgr, w.Address, "recipient-addr", 600, 10)
	require.NoError(t, err)
	require.Len(t, tx.Inputs, 1)
	require.Len(t, tx.Outputs, 2)
	require.Equal(t, uint64(600), tx.Outputs[0].Value)
	require.Equal(t, uint64(390), tx.Outputs[1].Value)
	require.NotEmpty(t, tx.Signature)

	canonical, err := types.CanonicalTxBytes(tx)
	require.NoError(t, err)
	ok, err := cryptoutil.VerifySignature(canonical, tx.Signature, tx.PubKey)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBuildAndSignTransactionFailsWithoutFunds(t *testing.T) {
	s := NewStore()
	w, err := s.GenerateWallet()
	require.NoError(t, err)
	mgr := utxo.NewManager(storage.NewMemoryStorage(), nil)

	_, err = s.BuildAndSignTransaction(mgr, w.Address, "recipient-addr", 100, 1)
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestBuildAndSignTransactionUnknownWallet(t *testing.T) {
	s := NewStore()
	mgr := utxo.NewManager(storage.NewMemoryStorage(), nil)
	_, err := s.BuildAndSignTransaction(mgr, "ghost", "recipient-addr", 1, 0)
	require.ErrorIs(t, err, ErrWalletNotFound)
}
