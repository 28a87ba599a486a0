package types

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"
)

// TxInput references one previously-created output being spent.
// Invariant: PreviousOutput must refer to an existing Unspent UTXO at
// admission time (enforced by internal/utxo, not here).
type TxInput struct {
	PreviousOutput OutPoint `json:"previous_output"`
	ScriptSig      []byte   `json:"script_sig"`
	Sequence       uint32   `json:"sequence"`
}

// TxOutput is one new spendable value unit created by a transaction.
// Invariant: Value >= 0 (uint64 already guarantees this); the sum of
// outputs must not exceed the sum of consumed inputs (enforced by the
// validator, not here).
type TxOutput struct {
	Value        uint64 `json:"value"`
	ScriptPubKey []byte `json:"script_pubkey"`
}

// Transaction is a value transfer: consumes Inputs, creates Outputs.
// Identity is the SHA-256 of its canonical serialization (ComputeTxID).
// A transaction is coinbase iff Inputs is empty.
type Transaction struct {
	Version   uint32     `json:"version"`
	Inputs    []TxInput  `json:"inputs"`
	Outputs   []TxOutput `json:"outputs"`
	LockTime  uint32     `json:"lock_time"`
	Timestamp int64      `json:"timestamp"`
	Signature string     `json:"signature"`
	PubKey    string     `json:"pubkey"`

	// id caches ComputeTxID's result; populated by NewTransaction /
	// TxID(). Recomputing is cheap but callers that hash thousands of
	// pool transactions per slot benefit from not re-marshaling JSON
	// every time.
	id    Hash256
	idSet bool
}

// IsCoinbase reports whether this transaction creates coins from
// nothing (no inputs).
func (tx *Transaction) IsCoinbase() bool {
	return len(tx.Inputs) == 0
}

// TxID returns the transaction's identity hash, computing and caching
// it on first call.
func (tx *Transaction) TxID() Hash256 {
	if !tx.idSet {
		tx.id = ComputeTxID(tx)
		tx.idSet = true
	}
	return tx.id
}

// txForHash is the struct actually hashed: version, inputs, outputs and
// lock time, with inputs and outputs sorted into a canonical order. Signature, pubkey and timestamp are excluded
// because the signature signs this hash, not the other way around.
type txForHash struct {
	Version  uint32     `json:"version"`
	Inputs   []TxInput  `json:"inputs"`
	Outputs  []TxOutput `json:"outputs"`
	LockTime uint32     `json:"lock_time"`
}

// CanonicalTxBytes serializes a transaction deterministically: inputs
// sorted by (txid, index), outputs sorted by value then script bytes, JSON with
// HTML-escaping disabled. Same logical transaction always produces the
// same bytes, regardless of construction order.
func CanonicalTxBytes(tx *Transaction) ([]byte, error) {
	inputs := make([]TxInput, len(tx.Inputs))
	copy(inputs, tx.Inputs)
	outputs := make([]TxOutput, len(tx.Outputs))
	copy(outputs, tx.Outputs)

	sort.Slice(inputs, func(i, j int) bool {
		return inputs[i].PreviousOutput.Less(inputs[j].PreviousOutput)
	})
	sort.Slice(outputs, func(i, j int) bool {
		if outputs[i].Value != outputs[j].Value {
			return outputs[i].Value < outputs[j].Value
		}
		return bytes.Compare(outputs[i].ScriptPubKey, outputs[j].ScriptPubKey) < 0
	})

	tmp := txForHash{
		Version:  tx.Version,
		Inputs:   inputs,
		Outputs:  outputs,
		LockTime: tx.LockTime,
	}

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

// ComputeTxID hashes a transaction's canonical bytes.
func ComputeTxID(tx *Transaction) Hash256 {
	canonical, err := CanonicalTxBytes(tx)
	if err != nil {
		// CanonicalTxBytes only fails if json.Marshal fails on a
		// struct of plain value types, which cannot happen.
		panic("types: canonical tx serialization: " + err.Error())
	}
	return SHA256(canonical)
}

// NewTransaction builds an unsigned transaction and computes its id.
func NewTransaction(inputs []TxInput, outputs []TxOutput) *Transaction {
	tx := &Transaction{
		Version:   1,
		Inputs:    inputs,
		Outputs:   outputs,
		LockTime:  0,
		Timestamp: time.Now().Unix(),
	}
	tx.TxID()
	return tx
}

// InputSum and OutputSum are used by both the validator and the fee
// calculator; kept here so both can share one definition of "sum".
func InputSum(values []uint64) uint64 {
	var sum uint64
	for _, v := range values {
		sum += v
	}
	return sum
}

func OutputSum(outputs []TxOutput) uint64 {
	var sum uint64
	for _, o := range outputs {
		sum += o.Value
	}
	return sum
}
