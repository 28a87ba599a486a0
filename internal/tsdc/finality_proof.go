package tsdc

import "github.com/timecoin/node/internal/types"

// FinalityProof is the set of precommit signatures meeting the 67%
// weight threshold for height, a supplemented first-class type (see
// SPEC_FULL.md).
type FinalityProof struct {
	BlockHash   types.Hash256
	Height      uint64
	Signatures  map[string][]byte // voter address -> signature
	SignerCount int
	Timestamp   int64
}
