// Package sharedtable implements the process-shared, fixed-capacity cache
// table with TTL liveness and usage-weighted LRU eviction (§4.8). It backs
// intra-worker hot data; it is not the cache service (§4.9), which fronts
// the KV store for cross-worker read-through caching.
package sharedtable

import (
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/runtime-core/internal/adapter/observability"
	"github.com/fairyhunter13/runtime-core/internal/domain"
)

// Entry is one row of the shared cache table (§3).
type Entry struct {
	Value      []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastAccess time.Time
	Usage      int64
}

func (e Entry) live(now time.Time) bool { return e.ExpiresAt.After(now) }

// Table is the shared cache table. Safe for concurrent use by multiple
// workers (readers and writers alike).
type Table struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*Entry
	now      func() time.Time
}

// New builds a Table with the given maximum cardinality (the high-water mark).
func New(capacity int) *Table {
	return &Table{
		capacity: capacity,
		entries:  make(map[string]*Entry),
		now:      time.Now,
	}
}

// Put writes an entry, evicting one first if the table is at its high-water mark.
func (t *Table) Put(key string, value []byte, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[key]; !exists && len(t.entries) >= t.capacity {
		t.evictLocked(1)
	}
	now := t.now()
	t.entries[key] = &Entry{
		Value:      value,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
		LastAccess: now,
		Usage:      0,
	}
	return nil
}

// Get reads an entry; a miss is returned if absent or expired. A hit bumps
// last_access and usage.
func (t *Table) Get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		observability.CacheMisses.Inc()
		return nil, false
	}
	now := t.now()
	if !e.live(now) {
		observability.CacheMisses.Inc()
		return nil, false
	}
	e.LastAccess = now
	e.Usage++
	observability.CacheHits.Inc()
	return e.Value, true
}

// Invalidate removes a key unconditionally.
func (t *Table) Invalidate(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key)
}

// Len reports the current cardinality of the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Snapshot returns a shallow copy of the table suitable for the health
// endpoint's cacheData listing.
func (t *Table) Snapshot() map[string]Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]Entry, len(t.entries))
	for k, v := range t.entries {
		out[k] = *v
	}
	return out
}

// GC walks the table removing expired entries, then evicts down to the
// high-water mark if size still exceeds it. Tolerant to concurrent mutation
// since it holds the lock for its whole pass (an implicit table-wide
// snapshot iterator, per §4.8).
func (t *Table) GC() (removed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for k, e := range t.entries {
		if !e.live(now) {
			delete(t.entries, k)
			removed++
		}
	}
	if len(t.entries) > t.capacity {
		removed += t.evictLocked(len(t.entries) - t.capacity)
	}
	return removed
}

// evictLocked removes n entries in eviction order: (usage ASC, last_access
// ASC), ties broken by key order. Caller must hold t.mu.
func (t *Table) evictLocked(n int) int {
	type ranked struct {
		key string
		e   *Entry
	}
	all := make([]ranked, 0, len(t.entries))
	for k, e := range t.entries {
		all = append(all, ranked{k, e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.Usage != all[j].e.Usage {
			return all[i].e.Usage < all[j].e.Usage
		}
		if !all[i].e.LastAccess.Equal(all[j].e.LastAccess) {
			return all[i].e.LastAccess.Before(all[j].e.LastAccess)
		}
		return all[i].key < all[j].key
	})
	removed := 0
	for i := 0; i < n && i < len(all); i++ {
		delete(t.entries, all[i].key)
		removed++
	}
	return removed
}

// Set writes a value, translating a write failure into ErrCacheSet (§4.8).
// Put in this implementation cannot fail short of a capacity invariant
// violation, but the signature is kept error-returning so callers see
// ErrCacheSet if it ever does.
func (t *Table) Set(key string, value []byte, ttl time.Duration) error {
	if err := t.Put(key, value, ttl); err != nil {
		return domain.ErrCacheSet
	}
	return nil
}
