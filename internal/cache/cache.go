package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/marketing-kpi/internal/model"
	"github.com/sells-group/marketing-kpi/internal/store"
)

// Backing persists entries beyond the process lifetime. store.Store
// satisfies it.
type Backing interface {
	GetCachedResult(ctx context.Context, key string) (*store.CachedResult, error)
	SetCachedResult(ctx context.Context, entry store.CachedResult) error
	DeleteCachedResult(ctx context.Context, key string) error
	DeleteAllCachedResults(ctx context.Context) error
	DeleteExpiredResults(ctx context.Context, now time.Time) (int, error)
}

// Options configure a Cache.
type Options struct {
	MaxEntries int
	TTL        time.Duration
	// Backing is optional. Its faults are logged and never surface.
	Backing Backing
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Cache holds pipeline results keyed by fingerprint, bounded by entry count
// and TTL. When full, the least-recently-created entry is evicted; reads do
// not change eviction order. Safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*model.CacheEntry
	order      []string // creation order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	backing    Backing
	now        func() time.Time

	hits          atomic.Int64
	misses        atomic.Int64
	evictions     atomic.Int64
	expirations   atomic.Int64
	backingErrors atomic.Int64
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries       int     `json:"entries"`
	MaxEntries    int     `json:"max_entries"`
	TTLSeconds    float64 `json:"ttl_secs"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	Evictions     int64   `json:"evictions"`
	Expirations   int64   `json:"expirations"`
	BackingErrors int64   `json:"backing_errors"`
	Persistent    bool    `json:"persistent"`
}

// New creates a Cache. A non-positive MaxEntries is treated as 1.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Cache{
		entries:    make(map[string]*model.CacheEntry),
		maxEntries: opts.MaxEntries,
		ttl:        opts.TTL,
		backing:    opts.Backing,
		now:        opts.Clock,
	}
}

// Get returns the fresh entry for key. Expired entries are removed and
// reported absent. On a memory miss the backing store is consulted and a
// fresh hit is promoted into memory. Backing I/O runs without holding the
// lock, so memory hits never wait on the store.
func (c *Cache) Get(ctx context.Context, key string) (*model.CacheEntry, bool) {
	c.mu.Lock()
	now := c.now()
	if entry, ok := c.entries[key]; ok {
		if entry.FreshAt(now) {
			c.mu.Unlock()
			c.hits.Add(1)
			return entry, true
		}
		c.dropLocked(key)
		c.mu.Unlock()

		c.deleteBacking(ctx, key)
		c.expirations.Add(1)
		c.misses.Add(1)
		return nil, false
	}
	c.mu.Unlock()

	loaded := c.load(ctx, key, now)
	if loaded == nil {
		c.misses.Add(1)
		return nil, false
	}

	c.mu.Lock()
	// A concurrent Put may have landed while the store was read.
	if current, ok := c.entries[key]; ok && current.FreshAt(c.now()) {
		c.mu.Unlock()
		c.hits.Add(1)
		return current, true
	}
	c.dropLocked(key)
	evicted := c.insertLocked(loaded)
	c.mu.Unlock()

	c.deleteBacking(ctx, evicted...)
	c.hits.Add(1)
	return loaded, true
}

// Put stores a new entry under key, replacing any existing one. ttl <= 0
// uses the configured default.
func (c *Cache) Put(ctx context.Context, key string, result *model.PipelineResult, snapshot []model.Dataset, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	entry := &model.CacheEntry{
		Key:       key,
		Result:    result,
		Snapshot:  snapshot,
		CreatedAt: c.now(),
		TTL:       ttl,
	}
	c.dropLocked(key)
	evicted := c.insertLocked(entry)
	c.mu.Unlock()

	c.deleteBacking(ctx, evicted...)
	c.save(ctx, entry)
}

// Invalidate removes key from memory and the backing store.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mu.Lock()
	c.dropLocked(key)
	c.mu.Unlock()

	c.deleteBacking(ctx, key)
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]*model.CacheEntry)
	c.order = nil
	c.mu.Unlock()

	if c.backing != nil {
		if err := c.backing.DeleteAllCachedResults(ctx); err != nil {
			c.backingFault("cache: backing delete all failed", "", err)
		}
	}
}

// PurgeExpired drops every expired entry from memory and the backing store
// and returns how many distinct entries were removed.
func (c *Cache) PurgeExpired(ctx context.Context) int {
	c.mu.Lock()
	now := c.now()
	var expired []string
	remaining := c.order[:0]
	for _, key := range c.order {
		if c.entries[key].FreshAt(now) {
			remaining = append(remaining, key)
			continue
		}
		delete(c.entries, key)
		expired = append(expired, key)
	}
	c.order = remaining
	c.mu.Unlock()

	c.expirations.Add(int64(len(expired)))
	removed := len(expired)
	if c.backing == nil {
		return removed
	}

	// Rows mirrored in memory go first so the sweep below only counts rows
	// this process never held.
	c.deleteBacking(ctx, expired...)
	n, err := c.backing.DeleteExpiredResults(ctx, now)
	if err != nil {
		c.backingFault("cache: backing purge failed", "", err)
	}
	return removed + n
}

// Len returns the number of entries held in memory, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:       entries,
		MaxEntries:    c.maxEntries,
		TTLSeconds:    c.ttl.Seconds(),
		Hits:          hits,
		Misses:        misses,
		HitRate:       hitRate,
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
		BackingErrors: c.backingErrors.Load(),
		Persistent:    c.backing != nil,
	}
}

// insertLocked appends entry, evicting from the front while at capacity.
// It returns the evicted keys so the caller can drop them from the backing
// store after unlocking.
func (c *Cache) insertLocked(entry *model.CacheEntry) []string {
	var evicted []string
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.dropLocked(oldest)
		evicted = append(evicted, oldest)
		c.evictions.Add(1)
	}
	c.entries[entry.Key] = entry
	c.order = append(c.order, entry.Key)
	return evicted
}

// dropLocked removes key from memory only.
func (c *Cache) dropLocked(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	c.removeFromOrder(key)
}

func (c *Cache) deleteBacking(ctx context.Context, keys ...string) {
	if c.backing == nil {
		return
	}
	for _, key := range keys {
		if err := c.backing.DeleteCachedResult(ctx, key); err != nil {
			c.backingFault("cache: backing delete failed", key, err)
		}
	}
}

// load reads key from the backing store. Any fault degrades to a miss.
func (c *Cache) load(ctx context.Context, key string, now time.Time) *model.CacheEntry {
	if c.backing == nil {
		return nil
	}
	row, err := c.backing.GetCachedResult(ctx, key)
	if err != nil {
		c.backingFault("cache: backing get failed", key, err)
		return nil
	}
	if row == nil {
		return nil
	}
	if !now.Before(row.ExpiresAt) {
		c.deleteBacking(ctx, key)
		c.expirations.Add(1)
		return nil
	}

	var entry model.CacheEntry
	if err := json.Unmarshal(row.Payload, &entry); err != nil {
		c.backingFault("cache: decode entry failed", key, err)
		return nil
	}
	entry.Key = key
	entry.CreatedAt = row.CreatedAt
	entry.TTL = row.ExpiresAt.Sub(row.CreatedAt)
	if entry.Result == nil {
		return nil
	}
	return &entry
}

func (c *Cache) save(ctx context.Context, entry *model.CacheEntry) {
	if c.backing == nil {
		return
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		c.backingFault("cache: encode entry failed", entry.Key, err)
		return
	}
	row := store.CachedResult{
		Key:       entry.Key,
		Payload:   payload,
		CreatedAt: entry.CreatedAt,
		ExpiresAt: entry.CreatedAt.Add(entry.TTL),
	}
	if err := c.backing.SetCachedResult(ctx, row); err != nil {
		c.backingFault("cache: backing set failed", entry.Key, err)
	}
}

func (c *Cache) backingFault(msg, key string, err error) {
	c.backingErrors.Add(1)
	zap.L().Warn(msg, zap.String("key", key), zap.Error(err))
}

// removeFromOrder removes a key from the creation order slice.
func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
