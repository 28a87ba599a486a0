// Package storage implements the node's persisted state layout: the
// utxo tree, masternode:<ip> records, blocks/block_<height>,
// the chain_height tip pointer, the txid -> (height, index) index, and
// the post-handshake-only peers tree. A Badger-backed implementation
// (grounded on jeongkyun-oh-klaytn's use of github.com/dgraph-io/badger)
// and an in-memory fake share one Storage interface.
package storage

import "errors"

// ErrNotFound is returned when a key does not exist in a bucket.
var ErrNotFound = errors.New("storage: key not found")

// Storage is the minimal KV contract every component needs: flat
// key-value get/set/delete plus a bucket-scoped iteration helper for
// bulk loads (UTXO set bootstrap, masternode registry load, chain
// integrity walk).
type Storage interface {
	Get(bucket string, key []byte) ([]byte, error)
	Set(bucket string, key, value []byte) error
	Delete(bucket string, key []byte) error
	Iterate(bucket string, fn func(key, value []byte) error) error
	Close() error
}

// Bucket names, matching the persisted state layout's tree names.
const (
	BucketUTXO       = "utxo"
	BucketMasternode = "masternode"
	BucketBlocks     = "blocks"
	BucketMeta       = "meta"
	BucketTxIndex    = "txindex"
	BucketPeers      = "peers"
)

// ChainHeightKey is the meta-bucket key storing the u64 LE tip height.
const ChainHeightKey = "chain_height"
