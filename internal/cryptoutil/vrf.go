package cryptoutil

import (
	"encoding/binary"

	"golang.org/x/crypto/ed25519"

	"github.com/timecoin/node/internal/types"
)

// VRFOutput is the result of evaluating the VRF at one slot/attempt:
// the proof bytes, the raw 32-byte output, and the derived score used
// for sortition ordering (lower wins).
type VRFOutput struct {
	Proof      []byte
	Output     [32]byte
	Score      uint64
}

// GenerateVRFKeyPair creates a new Ed25519 keypair for masternode
// identity / VRF leader election (distinct from the ECDSA keys used
// for transaction signing).
func GenerateVRFKeyPair(seed []byte) (ed25519.PublicKey, ed25519.PrivateKey) {
	if seed == nil {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			panic("cryptoutil: ed25519 key generation: " + err.Error())
		}
		return pub, priv
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv
}

// VRFInput builds the deterministic input to the leader-election VRF
// for slot `height` given the previous block hash:
// "TIMECOIN_VRF_V2" || h_le || prev_hash.
func VRFInput(height uint64, prevHash types.Hash256) []byte {
	buf := make([]byte, 0, len(types.VRFInputDomain)+8+32)
	buf = append(buf, types.VRFInputDomain...)
	var h [8]byte
	binary.LittleEndian.PutUint64(h[:], height)
	buf = append(buf, h[:]...)
	buf = append(buf, prevHash[:]...)
	return buf
}

// GenerateBlockVRF evaluates the VRF at `input` using signingKey.
//
// This is a simplified ECVRF construction, not a full RFC 9381
// implementation (see DESIGN.md): the proof is a deterministic Ed25519
// signature over the input (Ed25519 signing is itself deterministic,
// so the same (key, input) always yields the same proof), and the
// output is SHA-256(proof). The first 8 bytes of output, interpreted
// big-endian, give the sortition score.
func GenerateBlockVRF(signingKey ed25519.PrivateKey, input []byte) VRFOutput {
	proof := ed25519.Sign(signingKey, input)
	output := types.SHA256(proof)

	score := binary.BigEndian.Uint64(output[:8])
	return VRFOutput{
		Proof:  proof,
		Output: output,
		Score:  score,
	}
}

// VerifyBlockVRF checks that proof is a valid VRF proof of input under
// publicKey, and recomputes the output/score for the caller.
func VerifyBlockVRF(publicKey ed25519.PublicKey, input []byte, proof []byte) (VRFOutput, bool) {
	if !ed25519.Verify(publicKey, input, proof) {
		return VRFOutput{}, false
	}
	output := types.SHA256(proof)
	score := binary.BigEndian.Uint64(output[:8])
	return VRFOutput{Proof: proof, Output: output, Score: score}, true
}

// SortitionThreshold computes the weighted-sortition eligibility
// threshold for a validator with the given weight out of totalWeight,
// targeting targetProposers expected winners per slot:
// threshold = (weight/total) * target * u64_MAX, capped at u64_MAX.
func SortitionThreshold(weight, totalWeight uint64, targetProposers int) uint64 {
	if totalWeight == 0 {
		return 0
	}
	// Compute in float64: weights here are bounded by total masternode
	// collateral, far below float64's 2^53 exact-integer ceiling, so
	// precision loss is not a practical concern for sortition.
	ratio := float64(weight) / float64(totalWeight) * float64(targetProposers)
	const maxU64 = float64(^uint64(0))
	scaled := ratio * maxU64
	if scaled >= maxU64 || scaled < 0 {
		return ^uint64(0)
	}
	return uint64(scaled)
}

// IsSortitionEligible reports whether a VRF score qualifies under the
// weighted-sortition threshold (vrf_score < threshold).
func IsSortitionEligible(output VRFOutput, threshold uint64) bool {
	return output.Score < threshold
}
