package cache

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/webpods-org/webpods/pkg/config"
	"github.com/webpods-org/webpods/pkg/log"
)

// Pool names the closed set of cache partitions
type Pool string

const (
	PoolPods          Pool = "pods"
	PoolStreams       Pool = "streams"
	PoolSingleRecords Pool = "singleRecords"
	PoolRecordLists   Pool = "recordLists"
	PoolRecordCounts  Pool = "recordCounts"
	PoolPermissions   Pool = "permissions"
)

// Pools returns every pool name, for metrics registration and tests
func Pools() []Pool {
	return []Pool{
		PoolPods, PoolStreams, PoolSingleRecords,
		PoolRecordLists, PoolRecordCounts, PoolPermissions,
	}
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

type pool struct {
	lru     *expirable.LRU[string, entry]
	ttl     time.Duration
	maxSize int64
}

// Cache is a process-local, pool-partitioned TTL cache. Keys are
// hierarchical strings embedding the pod and, where relevant, the stream
// path, which makes prefix invalidation on writes possible.
type Cache struct {
	pools   map[Pool]*pool
	enabled bool
}

// New builds the cache from config. A disabled cache misses on every get
// and drops every set.
func New(cfg config.CacheConfig) *Cache {
	c := &Cache{
		pools:   make(map[Pool]*pool),
		enabled: cfg.Enabled,
	}

	poolCfgs := map[Pool]config.PoolConfig{
		PoolPods:          cfg.Pods,
		PoolStreams:       cfg.Streams,
		PoolSingleRecords: cfg.SingleRecords,
		PoolRecordLists:   cfg.RecordLists,
		PoolRecordCounts:  cfg.RecordCounts,
		PoolPermissions:   cfg.Permissions,
	}

	for name, pc := range poolCfgs {
		ttl := time.Duration(pc.TTLSeconds) * time.Second
		c.pools[name] = &pool{
			lru:     expirable.NewLRU[string, entry](pc.MaxEntries, nil, ttl),
			ttl:     ttl,
			maxSize: pc.MaxResultSizeBytes,
		}
	}

	return c
}

// Get returns the cached value and whether it was present
func (c *Cache) Get(p Pool, key string) (interface{}, bool) {
	if !c.enabled {
		return nil, false
	}
	pl, ok := c.pools[p]
	if !ok {
		return nil, false
	}
	e, ok := pl.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		pl.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores a value under the pool's TTL. Values whose serialized size
// exceeds the pool's limit are silently skipped.
func (c *Cache) Set(p Pool, key string, value interface{}) {
	c.SetTTL(p, key, value, 0)
}

// SetTTL stores a value with an explicit TTL override; zero uses the
// pool's TTL. An override takes effect only when it is shorter than the
// pool's TTL; a longer one leaves the pool's TTL in force.
func (c *Cache) SetTTL(p Pool, key string, value interface{}, ttl time.Duration) {
	if !c.enabled {
		return
	}
	pl, ok := c.pools[p]
	if !ok {
		return
	}

	if pl.maxSize > 0 {
		data, err := json.Marshal(value)
		if err != nil || int64(len(data)) > pl.maxSize {
			return
		}
	}

	e := entry{value: value}
	if ttl > 0 && ttl < pl.ttl {
		e.expiresAt = time.Now().Add(ttl)
	}
	pl.lru.Add(key, e)
}

// Invalidate removes every key in the pool with the given prefix
func (c *Cache) Invalidate(p Pool, keyPrefix string) {
	if !c.enabled {
		return
	}
	pl, ok := c.pools[p]
	if !ok {
		return
	}
	removed := 0
	for _, key := range pl.lru.Keys() {
		if strings.HasPrefix(key, keyPrefix) {
			pl.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		log.Logger.Debug().
			Str("pool", string(p)).
			Str("prefix", keyPrefix).
			Int("removed", removed).
			Msg("cache invalidated")
	}
}

// ClearAll empties every pool. Test-only.
func (c *Cache) ClearAll() {
	for _, pl := range c.pools {
		pl.lru.Purge()
	}
}
