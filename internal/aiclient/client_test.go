package aiclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/types"
)

func TestScoreTransactionDisabledReturnsDefault(t *testing.T) {
	c := NewClient("", time.Second, false)
	tx := types.NewTransaction(nil, []types.TxOutput{{Value: 100}})
	score, err := c.ScoreTransaction(tx, 5)
	require.NoError(t, err)
	require.Equal(t, 0.0, score.AnomalyScore)
	require.Equal(t, 0.5, score.FeeAdequacy)
}

func TestScoreTransactionCallsService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/score/tx", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"anomaly_score":0.1,"fee_adequacy":0.8}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, true)
	tx := types.NewTransaction(nil, []types.TxOutput{{Value: 100}})
	score, err := c.ScoreTransaction(tx, 5)
	require.NoError(t, err)
	require.Equal(t, 0.1, score.AnomalyScore)
	require.Equal(t, 0.8, score.FeeAdequacy)
}

func TestScoreTransactionUnreachableServiceFallsBackToDefault(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 50*time.Millisecond, true)
	tx := types.NewTransaction(nil, []types.TxOutput{{Value: 100}})
	score, err := c.ScoreTransaction(tx, 5)
	require.NoError(t, err)
	require.Equal(t, 0.0, score.AnomalyScore)
}
