// Package chainengine owns the canonical blockchain store and the
// in-memory (height, tip_hash) pair: genesis load, block addition,
// height-indexed reads, candidate production, catchup-mode detection,
// and chain-integrity verification.
package chainengine

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/blockbuilder"
	"github.com/timecoin/node/internal/blockcache"
	"github.com/timecoin/node/internal/blockvalidator"
	"github.com/timecoin/node/internal/cryptoutil"
	"github.com/timecoin/node/internal/masternode"
	"github.com/timecoin/node/internal/storage"
	"github.com/timecoin/node/internal/tsdc"
	"github.com/timecoin/node/internal/types"
)

// UTXOApplier lets a committed or rewound block advance the UTXO
// lifecycle state machine without chainengine importing internal/utxo
// directly (utxo already imports chainengine for StateNotifier, so
// the dependency only runs one way). Wired at startup via
// SetUTXOApplier, the same setter-injection pattern
// tsdc.Manager.SetBroadcastCallback uses to resolve its own cyclic
// ownership.
type UTXOApplier interface {
	ApplyBlockCommit(b *types.Block, now int64)
	PromoteConfirmed(b *types.Block, now int64)
	UndoBlockCommit(b *types.Block)
}

// Engine is the chain's single source of truth: a store, a block
// cache, and the current tip.
type Engine struct {
	mu     sync.RWMutex
	store  storage.Storage
	cache  *blockcache.Cache
	nodes  *masternode.Registry
	log    *zap.SugaredLogger

	genesisTimestamp int64
	height           uint64
	tip              types.Hash256
	initialized      bool
	utxoApplier      UTXOApplier
}

// SetUTXOApplier injects the UTXO-lifecycle side effect of committing
// or rewinding a block. A nil applier (not yet wired, or a test that
// only exercises block storage) leaves AddBlock/RewindTo as pure
// block-store operations.
func (e *Engine) SetUTXOApplier(a UTXOApplier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.utxoApplier = a
}

// New wires an engine over a store, cache, and masternode registry.
func New(store storage.Storage, cache *blockcache.Cache, nodes *masternode.Registry, genesisTimestamp int64, log *zap.SugaredLogger) *Engine {
	return &Engine{store: store, cache: cache, nodes: nodes, genesisTimestamp: genesisTimestamp, log: log}
}

// InitializeGenesis loads or creates the network's genesis block.
// Idempotent: a second call on an already-initialized chain is a no-op.
func (e *Engine) InitializeGenesis() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	if raw, err := e.store.Get(storage.BucketMeta, []byte(storage.ChainHeightKey)); err == nil {
		e.height = binary.LittleEndian.Uint64(raw)
		if block, err := e.loadBlockLocked(e.height); err == nil {
			e.tip = block.Hash()
			e.initialized = true
			return nil
		}
	}

	genesis := blockbuilder.Build(blockbuilder.Input{
		Height:            0,
		PreviousHash:      types.ZeroHash,
		SlotTimestamp:     e.genesisTimestamp,
		ActiveMasternodes: nil,
	})
	if err := e.persistBlockLocked(&genesis); err != nil {
		return err
	}
	e.height = 0
	e.tip = genesis.Hash()
	e.initialized = true
	return nil
}

func (e *Engine) persistBlockLocked(b *types.Block) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("%w: %v", bcerrors.ErrSerialization, err)
	}
	key := heightKey(b.Header.Height)
	if err := e.store.Set(storage.BucketBlocks, key, data); err != nil {
		return fmt.Errorf("%w: %v", bcerrors.ErrOpFailed, err)
	}
	heightBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(heightBytes, b.Header.Height)
	if err := e.store.Set(storage.BucketMeta, []byte(storage.ChainHeightKey), heightBytes); err != nil {
		return fmt.Errorf("%w: %v", bcerrors.ErrOpFailed, err)
	}
	for i, tx := range b.Transactions {
		idx := make([]byte, 16)
		binary.LittleEndian.PutUint64(idx[:8], b.Header.Height)
		binary.LittleEndian.PutUint64(idx[8:], uint64(i))
		txid := tx.TxID()
		if err := e.store.Set(storage.BucketTxIndex, txid[:], idx); err != nil {
			return fmt.Errorf("%w: %v", bcerrors.ErrOpFailed, err)
		}
	}
	if e.cache != nil {
		_ = e.cache.Put(b)
	}
	return nil
}

func heightKey(h uint64) []byte {
	key := make([]byte, 8)
	binary.LittleEndian.PutUint64(key, h)
	return key
}

// GetBlockByHeight returns the block at h, read from the store. The
// block cache is keyed by hash and is not consulted here.
func (e *Engine) GetBlockByHeight(h uint64) (*types.Block, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadBlockLocked(h)
}

func (e *Engine) loadBlockLocked(h uint64) (*types.Block, error) {
	data, err := e.store.Get(storage.BucketBlocks, heightKey(h))
	if err != nil {
		return nil, bcerrors.ErrBlockNotFound
	}
	var b types.Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", bcerrors.ErrSerialization, err)
	}
	return &b, nil
}

// GetBlockHash returns the hash of the block at h.
func (e *Engine) GetBlockHash(h uint64) (types.Hash256, error) {
	b, err := e.GetBlockByHeight(h)
	if err != nil {
		return types.Hash256{}, err
	}
	return b.Hash(), nil
}

// Height and Tip report the current in-memory chain position.
func (e *Engine) Height() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.height
}

func (e *Engine) Tip() types.Hash256 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tip
}

// GenesisTimestamp returns the unix seconds stamped on slot 0, used by
// callers computing a height's required slot timestamp.
func (e *Engine) GenesisTimestamp() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.genesisTimestamp
}

// AddBlock validates b against the current tip and, if valid,
// persists it and advances the tip. live should be true for a block
// just produced or received off the wire (timestamp tolerance
// enforced) and false when re-validating a historical block fetched
// during sync (tolerance skipped).
func (e *Engine) AddBlock(b *types.Block, fees map[types.Hash256]uint64, activeMasternodes []types.MasternodeInfo, now int64, live bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	expectedHeight := e.height + 1
	err := blockvalidator.Validate(b, blockvalidator.Expectation{
		Height:                 expectedHeight,
		PreviousHash:           e.tip,
		GenesisTimestamp:       e.genesisTimestamp,
		Now:                    now,
		SkipTimestampTolerance: !live,
		Fees:                   fees,
		ActiveMasternodes:      activeMasternodes,
	})
	if err != nil {
		return err
	}

	if err := e.persistBlockLocked(b); err != nil {
		return err
	}
	e.height = expectedHeight
	e.tip = b.Hash()

	if e.utxoApplier != nil {
		e.utxoApplier.ApplyBlockCommit(b, now)
		if expectedHeight > types.MaxReorgDepth {
			if confirmedBlock, err := e.loadBlockLocked(expectedHeight - types.MaxReorgDepth); err == nil {
				e.utxoApplier.PromoteConfirmed(confirmedBlock, now)
			}
		}
	}
	return nil
}

// ValidateCandidate checks b against the current tip without
// persisting it, for gating a PREPARE vote on basic validity before
// the two-phase consensus round that decides whether to call AddBlock.
func (e *Engine) ValidateCandidate(b *types.Block, fees map[types.Hash256]uint64, activeMasternodes []types.MasternodeInfo, now int64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return blockvalidator.Validate(b, blockvalidator.Expectation{
		Height:                 e.height + 1,
		PreviousHash:           e.tip,
		GenesisTimestamp:       e.genesisTimestamp,
		Now:                    now,
		SkipTimestampTolerance: false,
		Fees:                   fees,
		ActiveMasternodes:      activeMasternodes,
	})
}

// ProduceBlockAtHeight selects the active masternode set and invokes
// the builder for a candidate at height h. It does not append the
// result; two-phase consensus decides that.
func (e *Engine) ProduceBlockAtHeight(h uint64, finalizedTxs []types.Transaction, fees map[types.Hash256]uint64) (types.Block, error) {
	e.mu.RLock()
	prevHash := e.tip
	currentHeight := e.height
	e.mu.RUnlock()

	var prevBitmap []byte
	var prevSnapshot []string
	if prevBlock, err := e.GetBlockByHeight(currentHeight); err == nil {
		prevBitmap = prevBlock.ConsensusParticipantsBitmap
		prevSnapshot = prevBlock.BitmapSnapshot
	}
	blocksBehind := uint64(0)
	if h > currentHeight+1 {
		blocksBehind = h - currentHeight - 1
	}
	active := e.nodes.GetEligibleForRewards(h, blocksBehind, prevBitmap, prevSnapshot)
	infos := make([]types.MasternodeInfo, len(active))
	copy(infos, active)

	slotTs := tsdc.SlotTimestamp(e.genesisTimestamp, h)
	b := blockbuilder.Build(blockbuilder.Input{
		Height:            h,
		PreviousHash:      prevHash,
		FinalizedTxs:      finalizedTxs,
		Fees:              fees,
		ActiveMasternodes: infos,
		SlotTimestamp:     slotTs,
	})
	return b, nil
}

// CalculateExpectedHeight returns floor((now - genesisTs) / 600).
func (e *Engine) CalculateExpectedHeight(now int64) uint64 {
	return tsdc.ExpectedHeight(e.genesisTimestamp, now)
}

// CatchupMode reports whether the producer loop should run in
// catchup mode given the current height and wall clock.
func (e *Engine) CatchupMode(now int64) bool {
	expected := e.CalculateExpectedHeight(now)
	current := e.Height()
	if expected <= current {
		return false
	}
	behind := expected - current
	if behind > types.CatchupStartBehind {
		return true
	}
	if behind >= 1 {
		scheduledTs := tsdc.SlotTimestamp(e.genesisTimestamp, current+1)
		if now-scheduledTs > int64(types.CatchupStaleMinutes)*60 {
			return true
		}
	}
	return false
}

// ValidateChainIntegrity walks from the tip backwards, verifying each
// header's previous-hash link and merkle root, returning the heights
// of any corrupt blocks found.
func (e *Engine) ValidateChainIntegrity() ([]uint64, error) {
	e.mu.RLock()
	tip := e.height
	e.mu.RUnlock()

	var corrupt []uint64
	var childPrevHash types.Hash256
	haveChild := false

	for h := tip; ; h-- {
		b, err := e.GetBlockByHeight(h)
		if err != nil {
			corrupt = append(corrupt, h)
		} else {
			if haveChild && b.Hash() != childPrevHash {
				corrupt = append(corrupt, h)
			}
			txIDs := make([]types.Hash256, len(b.Transactions))
			for i := range b.Transactions {
				txIDs[i] = b.Transactions[i].TxID()
			}
			if cryptoutil.MerkleRoot(txIDs) != b.Header.MerkleRoot {
				corrupt = append(corrupt, h)
			}
			childPrevHash = b.Header.PreviousHash
			haveChild = true
		}
		if h == 0 {
			break
		}
	}
	return corrupt, nil
}

// DeleteCorruptBlocks removes the given heights to force a re-sync of
// that range.
func (e *Engine) DeleteCorruptBlocks(heights []uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, h := range heights {
		if err := e.store.Delete(storage.BucketBlocks, heightKey(h)); err != nil {
			return fmt.Errorf("%w: %v", bcerrors.ErrOpFailed, err)
		}
		if e.cache != nil {
			if b, err := e.loadBlockLocked(h); err == nil {
				e.cache.Invalidate(b.Hash())
			}
		}
	}
	return nil
}

// RewindTo drops every stored block above height and resets the
// in-memory tip to height, for a fork resolver switching to a
// competing branch that diverged at height. Returns the hash the tip
// was rewound to.
func (e *Engine) RewindTo(height uint64) (types.Hash256, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if height > e.height {
		return types.Hash256{}, fmt.Errorf("%w: rewind target %d above current height %d", bcerrors.ErrInvalidBlock, height, e.height)
	}
	for h := e.height; h > height; h-- {
		if b, err := e.loadBlockLocked(h); err == nil {
			if e.cache != nil {
				e.cache.Invalidate(b.Hash())
			}
			if e.utxoApplier != nil {
				e.utxoApplier.UndoBlockCommit(b)
			}
		}
		if err := e.store.Delete(storage.BucketBlocks, heightKey(h)); err != nil {
			return types.Hash256{}, fmt.Errorf("%w: %v", bcerrors.ErrOpFailed, err)
		}
	}
	tipBlock, err := e.loadBlockLocked(height)
	if err != nil {
		return types.Hash256{}, err
	}
	e.height = height
	e.tip = tipBlock.Hash()

	heightBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(heightBytes, e.height)
	if err := e.store.Set(storage.BucketMeta, []byte(storage.ChainHeightKey), heightBytes); err != nil {
		return types.Hash256{}, fmt.Errorf("%w: %v", bcerrors.ErrOpFailed, err)
	}
	return e.tip, nil
}

// ConsensusTimeoutFor returns the CONSENSUS_TIMEOUT for the current
// mode at wall-clock now.
func (e *Engine) ConsensusTimeoutFor(now int64) time.Duration {
	if e.CatchupMode(now) {
		return types.ConsensusTimeoutCatchup
	}
	return types.ConsensusTimeoutNormal
}
