// Package txpool implements the transaction pool: pending, finalized,
// and rejected transactions keyed by txid, plus the composite
// priority score used at block-building time.
package txpool

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/timecoin/node/internal/types"
	"github.com/timecoin/node/internal/utxo"
)

// PendingEntry is one pending-pool record: the transaction, its fee,
// when it was added, and who submitted it (used by the priority
// formula and by peer-blacklisting on rejection).
type PendingEntry struct {
	Tx          types.Transaction
	Fee         uint64
	AddedAt     int64
	SubmitterIP string
}

// Pool holds the three keyed maps (pending/finalized/rejected). It is
// guarded by a single RWMutex; per-package comments elsewhere call out
// where a sharded map would help at higher scale, but these maps are
// small enough (bounded by mempool policy, not by height) that one
// lock is adequate and keeps the map's invariants easy to reason about.
type Pool struct {
	mu        sync.RWMutex
	pending   map[types.Hash256]PendingEntry
	finalized map[types.Hash256]types.Transaction
	rejected  map[types.Hash256]rejectedEntry

	utxoMgr *utxo.Manager
	log     *zap.SugaredLogger
}

// NewPool constructs an empty pool. utxoMgr may be nil in tests that
// only exercise pool bookkeeping.
func NewPool(utxoMgr *utxo.Manager, log *zap.SugaredLogger) *Pool {
	return &Pool{
		pending:   make(map[types.Hash256]PendingEntry),
		finalized: make(map[types.Hash256]types.Transaction),
		rejected:  make(map[types.Hash256]rejectedEntry),
		utxoMgr:   utxoMgr,
		log:       log,
	}
}

var errAlreadyKnown = poolError("txpool: transaction already known")

type poolError string

func (e poolError) Error() string { return string(e) }

// rejectedEntry carries the reason plus the rejection time so
// CleanupRejected can apply an age cutoff.
type rejectedEntry struct {
	Reason     string
	RejectedAt int64
}

// AddPending inserts tx if its txid is absent from all three maps,
// then locks each input via the UTXO manager. If any lock fails the
// insert is rolled back and the error is returned.
func (p *Pool) AddPending(tx types.Transaction, fee uint64, submitterIP string) error {
	txid := tx.TxID()

	p.mu.Lock()
	if _, ok := p.pending[txid]; ok {
		p.mu.Unlock()
		return errAlreadyKnown
	}
	if _, ok := p.finalized[txid]; ok {
		p.mu.Unlock()
		return errAlreadyKnown
	}
	if _, ok := p.rejected[txid]; ok {
		p.mu.Unlock()
		return errAlreadyKnown
	}
	p.pending[txid] = PendingEntry{Tx: tx, Fee: fee, AddedAt: time.Now().Unix(), SubmitterIP: submitterIP}
	p.mu.Unlock()

	if p.utxoMgr == nil {
		return nil
	}

	locked := make([]types.OutPoint, 0, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if err := p.utxoMgr.LockUTXO(in.PreviousOutput, txid); err != nil {
			// Roll back: unlock what we already locked and drop the
			// pending entry.
			for _, op := range locked {
				p.utxoMgr.UpdateState(op, types.Unspent())
			}
			p.mu.Lock()
			delete(p.pending, txid)
			p.mu.Unlock()
			return err
		}
		locked = append(locked, in.PreviousOutput)
	}
	return nil
}

// GetPending returns the pending transaction for txid, if present.
func (p *Pool) GetPending(txid types.Hash256) (types.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.pending[txid]
	return e.Tx, ok
}

// GetPendingEntry returns the full pending entry (including fee and
// submitter), used by the priority scorer.
func (p *Pool) GetPendingEntry(txid types.Hash256) (PendingEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.pending[txid]
	return e, ok
}

// GetAllPending returns a snapshot of every pending transaction.
func (p *Pool) GetAllPending() []types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Transaction, 0, len(p.pending))
	for _, e := range p.pending {
		out = append(out, e.Tx)
	}
	return out
}

// BeginConsensus marks txid's already-locked inputs as under TimeVote
// deliberation (Locked -> SpentPending), called once a pending
// transaction is handed to TimeVote for voting.
func (p *Pool) BeginConsensus(txid types.Hash256) {
	p.mu.RLock()
	e, ok := p.pending[txid]
	p.mu.RUnlock()
	if !ok || p.utxoMgr == nil {
		return
	}
	for _, in := range e.Tx.Inputs {
		p.utxoMgr.UpdateState(in.PreviousOutput, types.SpentPending(txid, 0, 0, time.Now().Unix()))
	}
}

// FinalizeTransaction atomically moves txid from pending to finalized
// and registers its outputs as spendable. Its inputs only move to
// SpentFinalized once the transaction is actually included in a
// committed block (see chainengine.Engine's UTXOApplier). No-op if
// txid is absent from pending.
func (p *Pool) FinalizeTransaction(txid types.Hash256) {
	p.mu.Lock()
	e, ok := p.pending[txid]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, txid)
	p.finalized[txid] = e.Tx
	p.mu.Unlock()

	if p.utxoMgr == nil {
		return
	}
	for i, out := range e.Tx.Outputs {
		_ = p.utxoMgr.AddUTXO(types.UTXO{
			OutPoint:     types.OutPoint{TxID: txid, Vout: uint32(i)},
			Value:        out.Value,
			ScriptPubKey: out.ScriptPubKey,
		})
	}
}

// IsFinalized reports whether txid has reached the finalized pool.
func (p *Pool) IsFinalized(txid types.Hash256) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.finalized[txid]
	return ok
}

// RejectTransaction moves txid from pending to rejected with reason
// and releases its locked inputs back to Unspent.
func (p *Pool) RejectTransaction(txid types.Hash256, reason string) {
	p.mu.Lock()
	e, ok := p.pending[txid]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.pending, txid)
	p.rejected[txid] = rejectedEntry{Reason: reason, RejectedAt: time.Now().Unix()}
	p.mu.Unlock()

	if p.utxoMgr == nil {
		return
	}
	for _, in := range e.Tx.Inputs {
		p.utxoMgr.UpdateState(in.PreviousOutput, types.Unspent())
	}
}

// RejectionReason returns the stored reason for a rejected txid.
func (p *Pool) RejectionReason(txid types.Hash256) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.rejected[txid]
	return e.Reason, ok
}

// GetFinalizedTransactions snapshots the finalized pool for block
// building.
func (p *Pool) GetFinalizedTransactions() []types.Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]types.Transaction, 0, len(p.finalized))
	for _, tx := range p.finalized {
		out = append(out, tx)
	}
	return out
}

// RemoveFinalized drops txids from the finalized pool once they have
// been included in an appended block.
func (p *Pool) RemoveFinalized(txids []types.Hash256) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range txids {
		delete(p.finalized, id)
	}
}

// CleanupRejected drops rejected entries older than ageSecs.
func (p *Pool) CleanupRejected(ageSecs int64) int {
	cutoff := time.Now().Unix() - ageSecs
	return p.cleanupRejectedBefore(cutoff)
}

func (p *Pool) cleanupRejectedBefore(cutoff int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for id, e := range p.rejected {
		if e.RejectedAt < cutoff {
			delete(p.rejected, id)
			count++
		}
	}
	return count
}

// PendingCount, FinalizedCount, RejectedCount report pool sizes.
func (p *Pool) PendingCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

func (p *Pool) FinalizedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.finalized)
}

func (p *Pool) RejectedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rejected)
}
