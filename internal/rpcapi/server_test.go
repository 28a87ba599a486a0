package rpcapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/blockcache"
	"github.com/timecoin/node/internal/chainengine"
	"github.com/timecoin/node/internal/masternode"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/txpool"
	"github.com/timecoin/node/internal/types"
	"github.com/timecoin/node/internal/utxo"
	"github.com/timecoin/node/internal/wallet"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	nodes, err := masternode.NewRegistry(storage.NewMemoryStorage(), nil)
	require.NoError(t, err)
	cache, err := blockcache.New(1)
	require.NoError(t, err)
	chain := chainengine.New(storage.NewMemoryStorage(), cache, nodes, 0, nil)
	require.NoError(t, chain.InitializeGenesis())

	mgr := utxo.NewManager(storage.NewMemoryStorage(), nil)
	pool := txpool.NewPool(mgr, nil)
	wallets := wallet.NewStore()
	return New(chain, pool, wallets, nil, ":0", nil)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "healthy", body["status"])
}

func TestSubmitTransactionRejectsUnknownInput(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	tx := types.NewTransaction([]types.TxInput{{PreviousOutput: types.OutPoint{TxID: types.SHA256([]byte("x"))}}}, nil)
	payload, err := json.Marshal(submitTxRequest{Transaction: *tx, Fee: 1})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/transactions", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}
