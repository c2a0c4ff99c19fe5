package statestore

import (
	"bytes"
	"sync"
	"time"
)

// LocalCache is the bounded in-process tier of the Store. It keeps every
// document written through this process so sessions survive a durable-tier
// outage, and remembers whether each entry reached the durable tier.
type LocalCache struct {
	mu         sync.RWMutex
	entries    map[string]cachedEntry
	maxEntries int
	defaultTTL time.Duration
	now        func() time.Time
	done       chan struct{}
	closeOnce  sync.Once
}

type cachedEntry struct {
	value     []byte
	expiresAt time.Time
	// synced is true when the durable tier accepted this value. A synced
	// entry the durable tier no longer has was deleted or expired there.
	synced bool
	// tombstone marks a delete the durable tier has not applied yet.
	tombstone bool
}

// NewLocalCache creates a cache holding at most maxEntries documents.
// defaultTTL applies to entries populated from a durable read.
// Call Close to stop the background eviction goroutine.
func NewLocalCache(maxEntries int, defaultTTL time.Duration) *LocalCache {
	c := &LocalCache{
		entries:    make(map[string]cachedEntry),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
		done:       make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Get returns the cached value and true if a live entry exists.
func (c *LocalCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || e.tombstone || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Pending returns the unsynced write or delete recorded for key, with the
// time it has left. Synced and expired entries are not pending.
func (c *LocalCache) Pending(key string) (value []byte, tombstone bool, ttl time.Duration, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, found := c.entries[key]
	if !found || e.synced {
		return nil, false, 0, false
	}
	ttl = e.expiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil, false, 0, false
	}
	return e.value, e.tombstone, ttl, true
}

// MarkSynced records that the durable tier now holds value for key. It is a
// no-op if the entry changed since value was read.
func (c *LocalCache) MarkSynced(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !e.tombstone && bytes.Equal(e.value, value) {
		e.synced = true
		c.entries[key] = e
	}
}

// Tombstone records a delete the durable tier could not take. The key reads
// as missing locally until the delete is replayed or ttl passes.
func (c *LocalCache) Tombstone(key string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.makeRoomLocked()
	}
	c.entries[key] = cachedEntry{expiresAt: c.now().Add(ttl), tombstone: true}
}

// ClearTombstone drops key if it still holds a tombstone.
func (c *LocalCache) ClearTombstone(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.tombstone {
		delete(c.entries, key)
	}
}

// Set stores value for ttl. synced records whether the durable tier holds it.
func (c *LocalCache) Set(key string, value []byte, ttl time.Duration, synced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.makeRoomLocked()
	}
	c.entries[key] = cachedEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
		synced:    synced,
	}
}

// Refresh records a value read back from the durable tier. An existing entry
// keeps its expiry. Unsynced entries are left alone; they are newer than
// anything the durable tier holds.
func (c *LocalCache) Refresh(key string, value []byte) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && !e.synced && !c.now().After(e.expiresAt) {
		c.mu.Unlock()
		return
	}
	if ok && !c.now().After(e.expiresAt) {
		e.value = value
		e.synced = true
		c.entries[key] = e
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.Set(key, value, c.defaultTTL, true)
}

// DropSynced removes key only if its value had reached the durable tier.
// Values written while the durable tier was unreachable stay.
func (c *LocalCache) DropSynced(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.synced {
		delete(c.entries, key)
	}
}

// Delete removes key unconditionally.
func (c *LocalCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *LocalCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background eviction goroutine.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// makeRoomLocked evicts expired entries, then the synced entry closest to
// expiry if the cache is still full. Pending writes and deletes go only when
// nothing synced is left. Caller holds mu.
func (c *LocalCache) makeRoomLocked() {
	c.evictExpiredLocked()
	if len(c.entries) < c.maxEntries {
		return
	}
	var (
		victim       string
		victimSynced bool
		soonest      time.Time
	)
	for k, e := range c.entries {
		better := victim == "" ||
			(e.synced && !victimSynced) ||
			(e.synced == victimSynced && e.expiresAt.Before(soonest))
		if better {
			victim, victimSynced, soonest = k, e.synced, e.expiresAt
		}
	}
	delete(c.entries, victim)
}

// evictLoop removes expired entries every minute.
func (c *LocalCache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *LocalCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpiredLocked()
}

func (c *LocalCache) evictExpiredLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
