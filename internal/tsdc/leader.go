package tsdc

import (
	"sort"

	"golang.org/x/crypto/ed25519"

	"github.com/timecoin/node/internal/cryptoutil"
	"github.com/timecoin/node/internal/types"
)

// Validator is one eligible proposer for a slot: its identity, VRF
// public key, and sampling weight.
type Validator struct {
	Address   string
	PublicKey ed25519.PublicKey
	Weight    uint64
}

// LeaderCandidate is a validator that cleared the sortition threshold
// for a slot/attempt, carrying its VRF score for the lowest-wins rule.
type LeaderCandidate struct {
	Validator Validator
	VRF       cryptoutil.VRFOutput
}

// vrfInputWithAttempt mixes an attempt counter into the slot's VRF
// input so a re-run after LEADER_TIMEOUT produces a different backup
// leader.
func vrfInputWithAttempt(height uint64, prevHash types.Hash256, attempt uint32) []byte {
	base := cryptoutil.VRFInput(height, prevHash)
	out := make([]byte, 0, len(base)+4)
	out = append(out, base...)
	out = append(out, byte(attempt), byte(attempt>>8), byte(attempt>>16), byte(attempt>>24))
	return out
}

// SelectLeader runs one round of weighted VRF sortition over
// validators for (height, prevHash, attempt) and returns the winning
// candidate (lowest VRF score among those eligible), or ok=false if no
// validator cleared the threshold this round.
//
// signingKeys maps validator address -> Ed25519 private key, standing
// in for each validator independently evaluating its own VRF locally;
// a real node only has its own key, but the leader-selection function
// is pure and deterministic so any node can recompute every other
// validator's eligibility.
func SelectLeader(height uint64, prevHash types.Hash256, attempt uint32, validators []Validator, signingKeys map[string]ed25519.PrivateKey) (LeaderCandidate, bool) {
	input := vrfInputWithAttempt(height, prevHash, attempt)

	totalWeight := uint64(0)
	for _, v := range validators {
		totalWeight += v.Weight
	}
	if totalWeight == 0 {
		return LeaderCandidate{}, false
	}

	var eligible []LeaderCandidate
	for _, v := range validators {
		sk, ok := signingKeys[v.Address]
		if !ok {
			continue
		}
		threshold := cryptoutil.SortitionThreshold(v.Weight, totalWeight, types.TargetProposersPerSlot)
		out := cryptoutil.GenerateBlockVRF(sk, input)
		if cryptoutil.IsSortitionEligible(out, threshold) {
			eligible = append(eligible, LeaderCandidate{Validator: v, VRF: out})
		}
	}
	if len(eligible) == 0 {
		return LeaderCandidate{}, false
	}

	sort.Slice(eligible, func(i, j int) bool { return eligible[i].VRF.Score < eligible[j].VRF.Score })
	return eligible[0], true
}
