// Package wallet manages private keys and builds signed transactions
// against the live UTXO set. Address encoding and key storage at rest
// are out of scope; keys live in memory only.
package wallet

import (
	"crypto/ecdsa"
	"errors"
	"sort"
	"sync"

	"github.com/timecoin/node/internal/cryptoutil"
	"github.com/timecoin/node/internal/types"
	"github.com/timecoin/node/internal/utxo"
)

// Wallet is a single keypair and its derived address.
type Wallet struct {
	Address    string
	PrivateKey *ecdsa.PrivateKey
	PublicKey  *ecdsa.PublicKey
}

// Store manages multiple in-memory wallets, keyed by address.
type Store struct {
	mu      sync.RWMutex
	wallets map[string]*Wallet
}

// NewStore creates an empty wallet store.
func NewStore() *Store {
	return &Store{wallets: make(map[string]*Wallet)}
}

// GenerateWallet creates a new ECDSA (P-256) keypair, derives its
// address as SHA256(pubkey), and stores it.
func (s *Store) GenerateWallet() (*Wallet, error) {
	priv, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	address := addressFromPublicKey(&priv.PublicKey)

	w := &Wallet{Address: address, PrivateKey: priv, PublicKey: &priv.PublicKey}
	s.mu.Lock()
	s.wallets[address] = w
	s.mu.Unlock()
	return w, nil
}

func addressFromPublicKey(pub *ecdsa.PublicKey) string {
	combined := append(pub.X.Bytes(), pub.Y.Bytes()...)
	return cryptoutil.SHA256(combined)
}

// GetWallet retrieves a wallet by address, or nil if unknown.
func (s *Store) GetWallet(address string) *Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wallets[address]
}

// Addresses lists every address this store holds a key for.
func (s *Store) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.wallets))
	for addr := range s.wallets {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// ErrWalletNotFound is returned when fromAddress has no matching key.
var ErrWalletNotFound = errors.New("wallet: wallet not found")

// ErrInsufficientFunds is returned when fromAddress's spendable UTXOs
// don't cover amount plus fee.
var ErrInsufficientFunds = errors.New("wallet: insufficient spendable utxos")

// BuildAndSignTransaction selects unspent UTXOs owned by fromAddress
// out of utxos, covering amount (in satoshis) plus a flat fee, and
// returns a signed transaction paying toAddress with any remainder
// returned to fromAddress as a change output.
func (s *Store) BuildAndSignTransaction(utxos *utxo.Manager, fromAddress, toAddress string, amount, fee uint64) (*types.Transaction, error) {
	w := s.GetWallet(fromAddress)
	if w == nil {
		return nil, ErrWalletNotFound
	}

	spendable := utxos.SpendableByAddress(fromAddress)
	sort.Slice(spendable, func(i, j int) bool { return spendable[i].Value < spendable[j].Value })

	var selected []types.UTXO
	var total uint64
	need := amount + fee
	for _, u := range spendable {
		selected = append(selected, u)
		total += u.Value
		if total >= need {
			break
		}
	}
	if total < need {
		return nil, ErrInsufficientFunds
	}

	inputs := make([]types.TxInput, 0, len(selected))
	for _, u := range selected {
		inputs = append(inputs, types.TxInput{PreviousOutput: u.OutPoint})
	}

	outputs := []types.TxOutput{
		{Value: amount, ScriptPubKey: []byte(toAddress)},
	}
	if change := total - need; change > 0 {
		outputs = append(outputs, types.TxOutput{Value: change, ScriptPubKey: []byte(fromAddress)})
	}

	tx := types.NewTransaction(inputs, outputs)

	canonical, err := types.CanonicalTxBytes(tx)
	if err != nil {
		return nil, err
	}
	sig, err := cryptoutil.SignMessage(w.PrivateKey, canonical)
	if err != nil {
		return nil, err
	}
	tx.Signature = sig
	tx.PubKey = cryptoutil.EncodePublicKey(w.PublicKey)
	return tx, nil
}

// DecodePublicKey parses a hex-encoded (x||y) public key, reusing
// cryptoutil's P-256 codec.
func DecodePublicKey(hexKey string) (*ecdsa.PublicKey, error) {
	return cryptoutil.DecodePublicKey(hexKey)
}
