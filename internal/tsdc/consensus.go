package tsdc

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timecoin/node/internal/types"
)

// Round tracks one in-flight block's PREPARE/PRECOMMIT vote
// accumulation.
type Round struct {
	mu sync.Mutex

	blockHash   types.Hash256
	height      uint64
	startedAt   int64
	prepareVotes   map[string]uint64 // voter -> weight
	precommitVotes map[string][]byte // voter -> signature
	prepareWeight  uint64
	precommitWeight uint64
	prepareBroadcast bool
	finalized     bool
	proof         *FinalityProof
}

// NewRound begins tracking consensus for a proposed block.
func NewRound(blockHash types.Hash256, height uint64, startedAt int64) *Round {
	return &Round{
		blockHash:      blockHash,
		height:         height,
		startedAt:      startedAt,
		prepareVotes:   make(map[string]uint64),
		precommitVotes: make(map[string][]byte),
	}
}

// AddPrepareVote records voter's PREPARE vote with the given weight,
// idempotent per voter. Returns the running prepare weight and whether
// the 51% threshold was just crossed by this call (triggering the
// node to broadcast its own PRECOMMIT).
func (r *Round) AddPrepareVote(voter string, weight, totalWeight uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.prepareVotes[voter]; ok {
		return r.prepareWeight, false
	}
	r.prepareVotes[voter] = weight
	r.prepareWeight += weight

	crossedNow := false
	if !r.prepareBroadcast && totalWeight > 0 && r.prepareWeight*100 >= types.FinalityPreparePct*totalWeight {
		r.prepareBroadcast = true
		crossedNow = true
	}
	return r.prepareWeight, crossedNow
}

// AddPrecommitVote records voter's PRECOMMIT vote (with signature),
// idempotent per voter. Returns whether this call finalized the
// block (67% threshold crossed), and the assembled FinalityProof if so.
func (r *Round) AddPrecommitVote(voter string, signature []byte, weight, totalWeight uint64) (bool, *FinalityProof) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return false, r.proof
	}
	if _, ok := r.precommitVotes[voter]; ok {
		return false, nil
	}
	r.precommitVotes[voter] = signature
	r.precommitWeight += weight

	if totalWeight == 0 || r.precommitWeight*100 < types.FinalityPrecommitPct*totalWeight {
		return false, nil
	}

	sigs := make(map[string][]byte, len(r.precommitVotes))
	for k, v := range r.precommitVotes {
		sigs[k] = v
	}
	r.finalized = true
	r.proof = &FinalityProof{
		BlockHash:   r.blockHash,
		Height:      r.height,
		Signatures:  sigs,
		SignerCount: len(sigs),
		Timestamp:   time.Now().Unix(),
	}
	return true, r.proof
}

// PrepareWeight and PrecommitWeight report current accumulated weight.
func (r *Round) PrepareWeight() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prepareWeight
}

func (r *Round) PrecommitWeight() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.precommitWeight
}

// IsFinalized reports whether this round has crossed the precommit
// threshold.
func (r *Round) IsFinalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

// ShouldFallbackUnilateral reports whether, after no progress past the
// consensus timeout, the leader should add the block unilaterally:
// true when prepare_weight > 0 or validator count <= 2.
//
// This is a known safety reduction at very small validator counts,
// accepted rather than strengthened (see DESIGN.md's Open Question
// decisions).
func (r *Round) ShouldFallbackUnilateral(now int64, timeout time.Duration, validatorCount int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return false
	}
	elapsed := time.Duration(now-r.startedAt) * time.Second
	if elapsed < timeout {
		return false
	}
	return r.prepareWeight > 0 || validatorCount <= 2
}

// BroadcastFunc sends a consensus message (PREPARE/PRECOMMIT vote) to
// the rest of the network. The peer registry that actually owns
// connections is injected after construction via SetBroadcastCallback,
// breaking the Manager<->peerregistry ownership cycle: the consensus
// manager never holds a peerregistry.Registry reference directly.
type BroadcastFunc func(kind types.MessageKind, payload interface{})

// Manager holds one Round per in-flight block hash.
type Manager struct {
	mu        sync.Mutex
	rounds    map[types.Hash256]*Round
	log       *zap.SugaredLogger
	broadcast BroadcastFunc
}

// NewManager constructs an empty consensus round manager. Call
// SetBroadcastCallback before driving any round that should gossip its
// own votes.
func NewManager(log *zap.SugaredLogger) *Manager {
	return &Manager{rounds: make(map[types.Hash256]*Round), log: log}
}

// SetBroadcastCallback injects the outbound gossip path, resolving the
// Manager/peerregistry cyclic ownership via setter injection rather
// than a constructor cycle.
func (m *Manager) SetBroadcastCallback(fn BroadcastFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcast = fn
}

// Broadcast sends a consensus message through the injected callback,
// if one has been set. A nil callback (no peer registry wired yet, or
// a single-node test) is a silent no-op.
func (m *Manager) Broadcast(kind types.MessageKind, payload interface{}) {
	m.mu.Lock()
	fn := m.broadcast
	m.mu.Unlock()
	if fn != nil {
		fn(kind, payload)
	}
}

// StartRound begins (or returns the existing) round for blockHash.
func (m *Manager) StartRound(blockHash types.Hash256, height uint64, startedAt int64) *Round {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rounds[blockHash]; ok {
		return r
	}
	r := NewRound(blockHash, height, startedAt)
	m.rounds[blockHash] = r
	return r
}

// Get returns the round for blockHash, if any.
func (m *Manager) Get(blockHash types.Hash256) (*Round, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rounds[blockHash]
	return r, ok
}

// Forget drops a round once its block has been appended or abandoned.
func (m *Manager) Forget(blockHash types.Hash256) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rounds, blockHash)
}

// ConsensusTimeout returns the timeout for the current mode (catchup
// uses the shorter timeout).
func ConsensusTimeout(catchup bool) time.Duration {
	if catchup {
		return types.ConsensusTimeoutCatchup
	}
	return types.ConsensusTimeoutNormal
}
