// Package tsdc implements Time-Scheduled Deterministic Consensus: the
// slot clock, VRF-based leader sortition, and PREPARE/PRECOMMIT
// two-phase block consensus.
package tsdc

import "github.com/timecoin/node/internal/types"

// CurrentSlot returns floor(now_unix / 600).
func CurrentSlot(nowUnix int64) uint64 {
	return uint64(nowUnix) / types.BlockTimeSeconds
}

// SlotTimestamp returns the required timestamp for the block at
// height h on a chain whose genesis block was stamped genesisTs:
// genesisTs + h*600. Block height h is assigned to slot h relative to
// genesis, aligned to a 10-minute boundary.
func SlotTimestamp(genesisTs int64, height uint64) int64 {
	return genesisTs + int64(height)*types.BlockTimeSeconds
}

// ExpectedHeight returns floor((now - genesisTs) / 600), the height
// the chain should be at if block production never lagged.
func ExpectedHeight(genesisTs, now int64) uint64 {
	if now <= genesisTs {
		return 0
	}
	return uint64(now-genesisTs) / types.BlockTimeSeconds
}
