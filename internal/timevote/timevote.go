// Package timevote implements fast per-transaction Accept/Reject
// voting with threshold accumulation, consolidating the two parallel
// "Avalanche" handlers the original Rust source carried into one
// component (see DESIGN.md).
package timevote

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timecoin/node/internal/types"
)

const shardCount = 32

// txState is the per-txid voting record.
type txState struct {
	preference           types.Preference
	accumAcceptWeight    uint64
	accumRejectWeight    uint64
	finalized            bool
	initiatedAt          int64
	voters               map[string]bool // idempotence guard
}

type shard struct {
	mu    sync.RWMutex
	states map[types.Hash256]*txState
}

// Core holds per-txid voting state in a sharded concurrent map keyed
// by txid: each txid's voting state is independent, so a sharded map
// avoids one global lock becoming the bottleneck under many
// concurrently-voted transactions.
type Core struct {
	shards [shardCount]*shard
	log    *zap.SugaredLogger
}

// NewCore constructs an empty TimeVote core.
func NewCore(log *zap.SugaredLogger) *Core {
	c := &Core{log: log}
	for i := range c.shards {
		c.shards[i] = &shard{states: make(map[types.Hash256]*txState)}
	}
	return c
}

func (c *Core) shardFor(txid types.Hash256) *shard {
	return c.shards[txid[0]%shardCount]
}

// InitiateConsensus begins tracking txid with the given initial
// preference.
func (c *Core) InitiateConsensus(txid types.Hash256, preference types.Preference) {
	s := c.shardFor(txid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[txid]; ok {
		return
	}
	s.states[txid] = &txState{
		preference:  preference,
		initiatedAt: time.Now().Unix(),
		voters:      make(map[string]bool),
	}
}

// AccumulateVote records voterIP's vote for txid, idempotent per
// voter. Returns whether this call caused finalization.
func (c *Core) AccumulateVote(txid types.Hash256, voterIP string, preference types.Preference, weight, totalSamplingWeight uint64) bool {
	s := c.shardFor(txid)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[txid]
	if !ok {
		st = &txState{preference: preference, initiatedAt: time.Now().Unix(), voters: make(map[string]bool)}
		s.states[txid] = st
	}
	if st.finalized {
		return false
	}
	if st.voters[voterIP] {
		return false // idempotent per voter
	}
	st.voters[voterIP] = true

	if preference == types.Accept {
		st.accumAcceptWeight += weight
	} else {
		st.accumRejectWeight += weight
	}

	if totalSamplingWeight == 0 {
		return false
	}

	if st.accumAcceptWeight*100 >= types.TimevoteFinalityPct*totalSamplingWeight {
		st.finalized = true
		st.preference = types.Accept
		return true
	}
	if st.accumRejectWeight*100 >= types.TimevoteFinalityPct*totalSamplingWeight {
		st.finalized = true
		st.preference = types.Reject
		return true
	}
	return false
}

// IsFinalized reports whether txid has reached the finality threshold.
func (c *Core) IsFinalized(txid types.Hash256) bool {
	s := c.shardFor(txid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[txid]
	return ok && st.finalized
}

// GetTxState returns the current (preference, finalized) pair for
// txid.
func (c *Core) GetTxState(txid types.Hash256) (types.Preference, bool, bool) {
	s := c.shardFor(txid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[txid]
	if !ok {
		return 0, false, false
	}
	return st.preference, st.finalized, true
}

// IsExpired reports whether txid's 10s initiation timeout has elapsed
// without finalization.
func (c *Core) IsExpired(txid types.Hash256, now int64) bool {
	s := c.shardFor(txid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[txid]
	if !ok || st.finalized {
		return false
	}
	return now-st.initiatedAt >= 10
}

// Forget drops a txid's voting state once it has been terminally
// resolved (finalized-and-applied, or timed out and rejected).
func (c *Core) Forget(txid types.Hash256) {
	s := c.shardFor(txid)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, txid)
}
