package storage

import (
	"bytes"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStorage persists the node's state in a single embedded Badger
// database, with each logical "tree" realized as a key prefix (Badger
// has no native bucket concept, so we namespace keys the way a
// single-file embedded store typically does).
type BadgerStorage struct {
	db *badger.DB
}

// OpenBadger opens (creating if necessary) a Badger database at dir.
func OpenBadger(dir string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStorage{db: db}, nil
}

func prefixedKey(bucket string, key []byte) []byte {
	out := make([]byte, 0, len(bucket)+1+len(key))
	out = append(out, bucket...)
	out = append(out, ':')
	out = append(out, key...)
	return out
}

func (b *BadgerStorage) Get(bucket string, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixedKey(bucket, key))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BadgerStorage) Set(bucket string, key, value []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixedKey(bucket, key), value)
	})
}

func (b *BadgerStorage) Delete(bucket string, key []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(prefixedKey(bucket, key))
	})
}

func (b *BadgerStorage) Iterate(bucket string, fn func(key, value []byte) error) error {
	prefix := append([]byte(bucket), ':')
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := bytes.TrimPrefix(item.KeyCopy(nil), prefix)
			var value []byte
			if err := item.Value(func(val []byte) error {
				value = append([]byte(nil), val...)
				return nil
			}); err != nil {
				return err
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStorage) Close() error {
	return b.db.Close()
}
