// Package blockcache is the two-tier block cache: a small hot tier of
// deserialized blocks and a larger warm tier of serialized bytes,
// grounded on the klaytn node's golang-lru shard cache pattern
// (common/cache.go) but without its sharding, since block lookups key
// on a 32-byte hash already well distributed for a single LRU.
package blockcache

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/timecoin/node/internal/types"
)

const (
	hotCapacity  = 50
	warmCapacity = 500
)

// Stats reports cumulative hit/miss counters.
type Stats struct {
	HotHits  uint64
	WarmHits uint64
	Misses   uint64
}

// Cache is the hot/warm block cache keyed by block hash.
type Cache struct {
	mu            sync.Mutex
	schemaVersion uint32
	hot           *lru.Cache[types.Hash256, *types.Block]
	warm          *lru.Cache[types.Hash256, []byte]

	hotHits  atomic.Uint64
	warmHits atomic.Uint64
	misses   atomic.Uint64
}

// New constructs a cache at the given schema version; bumping the
// version elsewhere and calling New again discards both tiers.
func New(schemaVersion uint32) (*Cache, error) {
	hot, err := lru.New[types.Hash256, *types.Block](hotCapacity)
	if err != nil {
		return nil, err
	}
	warm, err := lru.New[types.Hash256, []byte](warmCapacity)
	if err != nil {
		return nil, err
	}
	return &Cache{schemaVersion: schemaVersion, hot: hot, warm: warm}, nil
}

// SchemaVersion reports the version this cache was built with.
func (c *Cache) SchemaVersion() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.schemaVersion
}

// Put inserts a freshly-built or freshly-loaded block into both tiers.
func (c *Cache) Put(b *types.Block) error {
	hash := b.Hash()
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	c.hot.Add(hash, b)
	c.warm.Add(hash, data)
	return nil
}

// Get returns the block for hash, promoting a warm hit to hot.
func (c *Cache) Get(hash types.Hash256) (*types.Block, bool) {
	if b, ok := c.hot.Get(hash); ok {
		c.hotHits.Add(1)
		return b, true
	}
	data, ok := c.warm.Get(hash)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.warmHits.Add(1)

	var b types.Block
	if err := json.Unmarshal(data, &b); err != nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hot.Add(hash, &b)
	return &b, true
}

// Invalidate removes hash from both tiers, used on reorg.
func (c *Cache) Invalidate(hash types.Hash256) {
	c.hot.Remove(hash)
	c.warm.Remove(hash)
}

// Stats returns a snapshot of cumulative hit/miss counters and current
// occupancy as a percentage of each tier's capacity.
func (c *Cache) Stats() (Stats, float64, float64) {
	stats := Stats{
		HotHits:  c.hotHits.Load(),
		WarmHits: c.warmHits.Load(),
		Misses:   c.misses.Load(),
	}
	hotPct := 100 * float64(c.hot.Len()) / float64(hotCapacity)
	warmPct := 100 * float64(c.warm.Len()) / float64(warmCapacity)
	return stats, hotPct, warmPct
}
