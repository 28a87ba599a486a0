// Package blockvalidator checks a candidate or received block against
// its expected height, previous hash, merkle root, size, and reward
// schedule before it is allowed into consensus or the chain.
package blockvalidator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/blockbuilder"
	"github.com/timecoin/node/internal/cryptoutil"
	"github.com/timecoin/node/internal/types"
)

// Expectation carries the context the validator checks a block against.
type Expectation struct {
	Height                 uint64
	PreviousHash           types.Hash256
	SkipPreviousHash       bool // true only for genesis
	GenesisTimestamp       int64
	Now                    int64
	SkipTimestampTolerance bool // true when re-validating historical blocks
	Fees                   map[types.Hash256]uint64
	ActiveMasternodes      []types.MasternodeInfo
}

// Validate runs every structural, temporal, and economic check for
// block b against exp, returning the first failing check as a
// bcerrors.Blockchain* error.
func Validate(b *types.Block, exp Expectation) error {
	if b.Header.Height != exp.Height {
		return fmt.Errorf("%w: got %d want %d", bcerrors.ErrInvalidBlock, b.Header.Height, exp.Height)
	}
	if !exp.SkipPreviousHash && b.Header.PreviousHash != exp.PreviousHash {
		return bcerrors.ErrPreviousHashMismatch
	}

	expectedTimestamp := exp.GenesisTimestamp + int64(exp.Height)*types.BlockTimeSeconds
	if b.Header.Timestamp != expectedTimestamp {
		return bcerrors.ErrInvalidTimestamp
	}
	if !exp.SkipTimestampTolerance {
		delta := exp.Now - b.Header.Timestamp
		if delta < 0 {
			delta = -delta
		}
		if delta > types.TimestampToleranceSecs {
			return bcerrors.ErrInvalidTimestamp
		}
	}

	txIDs := make([]types.Hash256, len(b.Transactions))
	seen := make(map[types.Hash256]bool, len(b.Transactions))
	for i := range b.Transactions {
		id := b.Transactions[i].TxID()
		if seen[id] {
			return bcerrors.ErrInvalidBlock
		}
		seen[id] = true
		txIDs[i] = id
	}
	wantRoot := cryptoutil.MerkleRoot(txIDs)
	if wantRoot != b.Header.MerkleRoot {
		return bcerrors.ErrMerkleRootMismatch
	}

	size, err := serializedSize(b)
	if err != nil {
		return fmt.Errorf("%w: %v", bcerrors.ErrInvalidBlock, err)
	}
	if size > types.MaxBlockSize {
		return bcerrors.ErrBlockTooLarge
	}

	rebuilt := blockbuilder.Build(blockbuilder.Input{
		Height:            exp.Height,
		PreviousHash:      exp.PreviousHash,
		FinalizedTxs:      finalizedOnly(b.Transactions),
		Fees:              exp.Fees,
		ActiveMasternodes: exp.ActiveMasternodes,
		SlotTimestamp:     b.Header.Timestamp,
	})
	if rebuilt.Header.BlockReward != b.Header.BlockReward {
		return bcerrors.ErrInvalidBlock
	}
	if !rewardsEqual(rebuilt.MasternodeRewards, b.MasternodeRewards) {
		return bcerrors.ErrInvalidBlock
	}

	return nil
}

// finalizedOnly strips the coinbase (transactions[0]) before handing
// the body back to the builder for a reward recomputation.
func finalizedOnly(txs []types.Transaction) []types.Transaction {
	if len(txs) == 0 {
		return nil
	}
	return txs[1:]
}

func rewardsEqual(a, b []types.RewardPayout) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func serializedSize(b *types.Block) (int, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// IsLiveWindow reports whether timestamp ts falls within tolerance of
// now, for callers deciding SkipTimestampTolerance themselves.
func IsLiveWindow(ts, now int64) bool {
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Second <= types.TimestampToleranceSecs*time.Second
}
