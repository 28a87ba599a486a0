package types

import (
	"bytes"
	"encoding/json"
)

// RewardPayout is one masternode's share of a block's reward pool.
type RewardPayout struct {
	Wallet string `json:"wallet"`
	Amount uint64 `json:"amount"`
}

// TimeAttestation is a lightweight per-block timestamp attestation
// from a masternode (used to derive BlockHeader.AttestationRoot).
type TimeAttestation struct {
	Masternode string `json:"masternode"`
	Timestamp  int64  `json:"timestamp"`
	Signature  string `json:"signature"`
}

// BlockHeader is the hashed identity of a block. Block identity =
// SHA-256 of the header only (transactions are committed to via
// MerkleRoot, not hashed directly into the header's own hash input).
type BlockHeader struct {
	Version          uint32     `json:"version"`
	Height           uint64     `json:"height"`
	PreviousHash     Hash256    `json:"previous_hash"`
	MerkleRoot       Hash256    `json:"merkle_root"`
	Timestamp        int64      `json:"timestamp"`
	BlockReward      uint64     `json:"block_reward"`
	Leader           string     `json:"leader"`
	AttestationRoot  Hash256    `json:"attestation_root"`
	MasternodeTiers  TierCounts `json:"masternode_tiers"`
}

// Block is header + body: ordered transactions, materialized reward
// payouts, time attestations, and the participation bitmap snapshot
// (see DESIGN.md's "consensus_participants_bitmap" resolution).
type Block struct {
	Header                     BlockHeader       `json:"header"`
	Transactions               []Transaction     `json:"transactions"`
	MasternodeRewards          []RewardPayout    `json:"masternode_rewards"`
	TimeAttestations           []TimeAttestation `json:"time_attestations"`
	ConsensusParticipantsBitmap []byte           `json:"consensus_participants_bitmap"`

	// BitmapSnapshot is the canonically-sorted masternode address list
	// the bitmap above is indexed against, persisted so the bitmap's
	// meaning never drifts if the active set changes between h-1 and h.
	BitmapSnapshot []string `json:"bitmap_snapshot"`

	hash    Hash256
	hashSet bool
}

// headerForHash excludes nothing: every BlockHeader field is part of
// the hashed identity.
type headerForHash struct {
	Version         uint32     `json:"version"`
	Height          uint64     `json:"height"`
	PreviousHash    Hash256    `json:"previous_hash"`
	MerkleRoot      Hash256    `json:"merkle_root"`
	Timestamp       int64      `json:"timestamp"`
	BlockReward     uint64     `json:"block_reward"`
	Leader          string     `json:"leader"`
	AttestationRoot Hash256    `json:"attestation_root"`
	MasternodeTiers TierCounts `json:"masternode_tiers"`
}

// CanonicalHeaderBytes serializes a header deterministically, the same
// way CanonicalTxBytes does for transactions (JSON, HTML-escaping off,
// trailing newline trimmed) so block hashing is stable across nodes.
func CanonicalHeaderBytes(h BlockHeader) ([]byte, error) {
	tmp := headerForHash(h)
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tmp); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	if len(data) > 0 && data[len(data)-1] == '\n' {
		data = data[:len(data)-1]
	}
	return data, nil
}

// ComputeBlockHash hashes a header's canonical bytes. Block identity =
// SHA-256(header).
func ComputeBlockHash(h BlockHeader) Hash256 {
	data, err := CanonicalHeaderBytes(h)
	if err != nil {
		panic("types: canonical header serialization: " + err.Error())
	}
	return SHA256(data)
}

// Hash returns the block's identity hash, computing and caching it.
func (b *Block) Hash() Hash256 {
	if !b.hashSet {
		b.hash = ComputeBlockHash(b.Header)
		b.hashSet = true
	}
	return b.hash
}

// InvalidateHash forces Hash() to recompute on next call, for callers
// that mutate Header fields after the hash has already been cached.
func (b *Block) InvalidateHash() {
	b.hashSet = false
}
