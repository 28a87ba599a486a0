package types

// UTXO is one spendable output: its outpoint, value, script, and the
// resolved owner address (best-effort; not consensus-critical).
type UTXO struct {
	OutPoint     OutPoint
	Value        uint64
	ScriptPubKey []byte
	Address      string
}

// UTXOStateKind tags which of the five lifecycle states a UTXOState
// value carries.
type UTXOStateKind int

const (
	StateUnspent UTXOStateKind = iota
	StateLocked
	StateSpentPending
	StateSpentFinalized
	StateConfirmed
)

func (k UTXOStateKind) String() string {
	switch k {
	case StateUnspent:
		return "Unspent"
	case StateLocked:
		return "Locked"
	case StateSpentPending:
		return "SpentPending"
	case StateSpentFinalized:
		return "SpentFinalized"
	case StateConfirmed:
		return "Confirmed"
	default:
		return "Unknown"
	}
}

// UTXOState is a tagged variant over the five lifecycle states a UTXO
// can be in. Only the fields relevant to Kind are meaningful; this
// mirrors a Rust enum more closely than an interface would, while
// keeping the type comparable and trivially copyable.
type UTXOState struct {
	Kind UTXOStateKind

	// Locked
	LockTxID Hash256
	LockedAt int64

	// SpentPending
	PendingTxID Hash256
	Votes       int
	TotalNodes  int
	SpentAt     int64

	// SpentFinalized
	FinalizedTxID  Hash256
	FinalizedAt    int64
	FinalizedVotes int

	// Confirmed
	ConfirmedTxID Hash256
	BlockHeight   uint64
	ConfirmedAt   int64
}

// Unspent constructs the Unspent state.
func Unspent() UTXOState { return UTXOState{Kind: StateUnspent} }

// Locked constructs the Locked{txid, locked_at} state.
func Locked(txid Hash256, lockedAt int64) UTXOState {
	return UTXOState{Kind: StateLocked, LockTxID: txid, LockedAt: lockedAt}
}

// SpentPending constructs the SpentPending{txid, votes, total_nodes, spent_at} state.
func SpentPending(txid Hash256, votes, totalNodes int, spentAt int64) UTXOState {
	return UTXOState{
		Kind:        StateSpentPending,
		PendingTxID: txid,
		Votes:       votes,
		TotalNodes:  totalNodes,
		SpentAt:     spentAt,
	}
}

// SpentFinalized constructs the SpentFinalized{txid, finalized_at, votes} state.
func SpentFinalized(txid Hash256, finalizedAt int64, votes int) UTXOState {
	return UTXOState{
		Kind:           StateSpentFinalized,
		FinalizedTxID:  txid,
		FinalizedAt:    finalizedAt,
		FinalizedVotes: votes,
	}
}

// Confirmed constructs the Confirmed{txid, block_height, confirmed_at} state.
func Confirmed(txid Hash256, blockHeight uint64, confirmedAt int64) UTXOState {
	return UTXOState{
		Kind:         StateConfirmed,
		ConfirmedTxID: txid,
		BlockHeight:  blockHeight,
		ConfirmedAt:  confirmedAt,
	}
}
