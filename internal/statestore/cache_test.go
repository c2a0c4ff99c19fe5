package statestore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalCache_GetSet(t *testing.T) {
	c := NewLocalCache(10, time.Hour)
	defer c.Close()

	_, ok := c.Get("k")
	assert.False(t, ok)

	c.Set("k", []byte("v"), time.Hour, false)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", string(got))
}

func TestLocalCache_Expiry(t *testing.T) {
	c := NewLocalCache(10, time.Hour)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", []byte("v"), time.Minute, true)

	now = now.Add(2 * time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok, "entry should have expired")

	c.evictExpired()
	assert.Equal(t, 0, c.Len())
}

func TestLocalCache_Bounded(t *testing.T) {
	c := NewLocalCache(3, time.Hour)
	defer c.Close()

	for i := range 3 {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"), time.Duration(i+1)*time.Minute, true)
	}
	c.Set("k3", []byte("v"), time.Hour, true)

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok, "entry closest to expiry is evicted first")
	_, ok = c.Get("k3")
	assert.True(t, ok)

	// Overwriting an existing key never evicts.
	c.Set("k3", []byte("v2"), time.Hour, true)
	assert.Equal(t, 3, c.Len())
}

func TestLocalCache_DropSynced(t *testing.T) {
	c := NewLocalCache(10, time.Hour)
	defer c.Close()

	c.Set("synced", []byte("a"), time.Hour, true)
	c.Set("local", []byte("b"), time.Hour, false)

	c.DropSynced("synced")
	c.DropSynced("local")

	_, ok := c.Get("synced")
	assert.False(t, ok)
	_, ok = c.Get("local")
	assert.True(t, ok)
}

func TestLocalCache_RefreshKeepsExpiry(t *testing.T) {
	c := NewLocalCache(10, time.Hour)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	c.Set("k", []byte("a"), time.Minute, false)
	c.Refresh("k", []byte("b"))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "b", string(got))

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("k")
	assert.False(t, ok)

	// A refresh of an unknown key uses the default TTL and counts as synced.
	c.Refresh("fresh", []byte("x"))
	c.DropSynced("fresh")
	_, ok = c.Get("fresh")
	assert.False(t, ok)
}

func TestLocalCache_CloseTwice(t *testing.T) {
	c := NewLocalCache(1, time.Hour)
	c.Close()
	c.Close()
}

func TestLocalCache_PendingAndTombstone(t *testing.T) {
	c := NewLocalCache(10, time.Hour)
	defer c.Close()

	c.Set("synced", []byte("a"), time.Hour, true)
	_, _, _, ok := c.Pending("synced")
	assert.False(t, ok)

	c.Set("k", []byte("b"), time.Hour, false)
	v, tombstone, ttl, ok := c.Pending("k")
	require.True(t, ok)
	assert.False(t, tombstone)
	assert.Equal(t, "b", string(v))
	assert.Greater(t, ttl, time.Duration(0))

	// A stale durable read does not replace an unsynced write.
	c.Refresh("k", []byte("old"))
	got, _ := c.Get("k")
	assert.Equal(t, "b", string(got))

	c.MarkSynced("k", []byte("other"))
	_, _, _, ok = c.Pending("k")
	assert.True(t, ok, "a different value does not mark the entry synced")
	c.MarkSynced("k", []byte("b"))
	_, _, _, ok = c.Pending("k")
	assert.False(t, ok)

	c.Tombstone("k", time.Hour)
	_, ok = c.Get("k")
	assert.False(t, ok)
	_, tombstone, _, ok = c.Pending("k")
	require.True(t, ok)
	assert.True(t, tombstone)

	c.ClearTombstone("k")
	assert.Equal(t, 1, c.Len())
}

func TestLocalCache_EvictsSyncedBeforePending(t *testing.T) {
	c := NewLocalCache(2, time.Hour)
	defer c.Close()

	c.Set("pending", []byte("v"), time.Minute, false)
	c.Set("synced", []byte("v"), time.Hour, true)
	c.Set("new", []byte("v"), time.Hour, true)

	_, _, _, ok := c.Pending("pending")
	assert.True(t, ok, "pending write survives eviction while synced entries remain")
	_, ok = c.Get("synced")
	assert.False(t, ok)
}
