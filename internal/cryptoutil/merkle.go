package cryptoutil

import "github.com/timecoin/node/internal/types"

// MerkleRoot computes the Bitcoin-style merkle root over a list of
// txids: pair-hash, duplicate the last node on odd levels, recurse to
// a single 32-byte root.
func MerkleRoot(txIDs []types.Hash256) types.Hash256 {
	if len(txIDs) == 0 {
		return types.SHA256(nil)
	}

	level := make([]types.Hash256, len(txIDs))
	copy(level, txIDs)

	for len(level) > 1 {
		var next []types.Hash256
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				level = append(level, level[i])
			}
			combined := make([]byte, 0, 64)
			combined = append(combined, level[i][:]...)
			combined = append(combined, level[i+1][:]...)
			next = append(next, types.SHA256(combined))
		}
		level = next
	}
	return level[0]
}
