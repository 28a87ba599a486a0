package storage

import "sync"

// MemoryStorage is an in-memory Storage fake used by tests and by
// components run without a data directory configured.
type MemoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryStorage returns an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{buckets: make(map[string]map[string][]byte)}
}

func (m *MemoryStorage) bucket(name string) map[string][]byte {
	b, ok := m.buckets[name]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[name] = b
	}
	return b
}

func (m *MemoryStorage) Get(bucket string, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buckets[bucket]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := b[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryStorage) Set(bucket string, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.bucket(bucket)[string(key)] = v
	return nil
}

func (m *MemoryStorage) Delete(bucket string, key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[bucket]; ok {
		delete(b, string(key))
	}
	return nil
}

func (m *MemoryStorage) Iterate(bucket string, fn func(key, value []byte) error) error {
	m.mu.RLock()
	type kv struct{ k, v []byte }
	var items []kv
	if b, ok := m.buckets[bucket]; ok {
		for k, v := range b {
			items = append(items, kv{[]byte(k), v})
		}
	}
	m.mu.RUnlock()

	for _, item := range items {
		if err := fn(item.k, item.v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStorage) Close() error { return nil }
