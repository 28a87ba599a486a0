// Package rpcapi exposes a minimal read/submit HTTP surface over the
// node's chain engine, mempool and wallet store: health, chain status,
// transaction submission. Full RPC JSON shapes are out of scope; this
// exists only so the node isn't otherwise unreachable, in a
// CORS-enabled net/http style.
package rpcapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/timecoin/node/internal/aiclient"
	"github.com/timecoin/node/internal/chainengine"
	"github.com/timecoin/node/internal/txpool"
	"github.com/timecoin/node/internal/types"
	"github.com/timecoin/node/internal/wallet"
)

// Server serves the node's minimal HTTP surface.
type Server struct {
	chain      *chainengine.Engine
	pool       *txpool.Pool
	wallets    *wallet.Store
	aiClient   *aiclient.Client
	log        *zap.SugaredLogger
	addr       string
	onAccepted func(types.Transaction)
}

// New builds an rpcapi server. aiClient may be nil (scoring disabled).
func New(chain *chainengine.Engine, pool *txpool.Pool, wallets *wallet.Store, aiClient *aiclient.Client, addr string, log *zap.SugaredLogger) *Server {
	return &Server{chain: chain, pool: pool, wallets: wallets, aiClient: aiClient, addr: addr, log: log}
}

// SetOnAccepted injects the follow-through for a locally submitted
// transaction once the pool accepts it: starting TimeVote and
// relaying it to peers (internal/p2p.Server.SubmitLocalTransaction),
// resolving the rpcapi<->p2p ownership cycle via setter injection the
// same way tsdc.Manager.SetBroadcastCallback does for its own gossip.
func (s *Server) SetOnAccepted(fn func(types.Transaction)) {
	s.onAccepted = fn
}

func cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

// Handler builds the mux without starting a listener, for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", cors(s.handleHealth))
	mux.HandleFunc("/chain", cors(s.handleChain))
	mux.HandleFunc("/mempool", cors(s.handleMempool))
	mux.HandleFunc("/transactions", cors(s.handleSubmitTransaction))
	return mux
}

// Start blocks serving on s.addr.
func (s *Server) Start() error {
	if s.log != nil {
		s.log.Infow("rpcapi listening", "addr", s.addr)
	}
	return http.ListenAndServe(s.addr, s.Handler())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"height":    s.chain.Height(),
	})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"height": s.chain.Height(),
		"tip":    s.chain.Tip().String(),
	})
}

func (s *Server) handleMempool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":  s.pool.PendingCount(),
		"finalized": s.pool.FinalizedCount(),
		"rejected": s.pool.RejectedCount(),
	})
}

type submitTxRequest struct {
	Transaction types.Transaction `json:"transaction"`
	Fee         uint64            `json:"fee"`
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req submitTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	if s.aiClient != nil {
		score, err := s.aiClient.ScoreTransaction(&req.Transaction, req.Fee)
		if err == nil && score.AnomalyScore > 0.7 {
			http.Error(w, "transaction flagged as anomalous", http.StatusBadRequest)
			return
		}
		if s.log != nil {
			s.log.Debugw("ai score", "anomaly", score, "err", err)
		}
	}

	if err := s.pool.AddPending(req.Transaction, req.Fee, r.RemoteAddr); err != nil {
		http.Error(w, "rejected: "+err.Error(), http.StatusConflict)
		return
	}
	if s.onAccepted != nil {
		s.onAccepted(req.Transaction)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status": "accepted",
		"txid":   req.Transaction.TxID().String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
