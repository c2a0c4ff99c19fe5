package statestore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDurable is an in-memory Durable whose failures can be switched on.
type fakeDurable struct {
	mu   sync.Mutex
	data map[string][]byte
	down bool
}

var errDown = errors.New("connection refused")

func newFakeDurable() *fakeDurable { return &fakeDurable{data: map[string][]byte{}} }

func (f *fakeDurable) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errDown
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *fakeDurable) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	f.data[key] = value
	return nil
}

func (f *fakeDurable) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errDown
	}
	delete(f.data, key)
	return nil
}

func (f *fakeDurable) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestStore(t *testing.T, d Durable) (*Store, *LocalCache) {
	t.Helper()
	local := NewLocalCache(100, time.Hour)
	t.Cleanup(local.Close)
	return New(d, local, discardLogger()), local
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	d := newFakeDurable()
	s, _ := newTestStore(t, d)

	_, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Save(ctx, "k", []byte("v1"), time.Hour))
	v, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v1", string(v))
	assert.Equal(t, "v1", string(d.data["k"]))

	require.NoError(t, s.Delete(ctx, "k"))
	_, found, err = s.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_DurableOutageFallsBackToLocal(t *testing.T) {
	ctx := context.Background()
	d := newFakeDurable()
	s, _ := newTestStore(t, d)

	d.setDown(true)
	require.NoError(t, s.Save(ctx, "k", []byte("offline"), time.Hour), "durable failure must not surface")

	v, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "offline", string(v))

	// Backend recovers without the key: the unsynced local copy is still served.
	d.setDown(false)
	v, found, err = s.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "offline", string(v))
}

func TestStore_DurableMissEvictsSyncedLocal(t *testing.T) {
	ctx := context.Background()
	d := newFakeDurable()
	s, local := newTestStore(t, d)

	require.NoError(t, s.Save(ctx, "k", []byte("v"), time.Hour))

	// Another instance deleted the key.
	require.NoError(t, d.Delete(ctx, "k"))

	_, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	_, ok := local.Get("k")
	assert.False(t, ok)
}

func TestStore_DurableIsAuthoritative(t *testing.T) {
	ctx := context.Background()
	d := newFakeDurable()
	s, local := newTestStore(t, d)

	require.NoError(t, s.Save(ctx, "k", []byte("old"), time.Hour))
	require.NoError(t, d.Set(ctx, "k", []byte("newer"), time.Hour))

	v, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "newer", string(v))

	cached, ok := local.Get("k")
	require.True(t, ok)
	assert.Equal(t, "newer", string(cached))
}

func TestStore_DeleteDuringOutage(t *testing.T) {
	ctx := context.Background()
	d := newFakeDurable()
	s, local := newTestStore(t, d)

	require.NoError(t, s.Save(ctx, "k", []byte("v"), time.Hour))
	d.setDown(true)
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok := local.Get("k")
	assert.False(t, ok)

	_, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found, "tombstone must hide the key while the durable tier is down")

	// The durable tier still holds the old value when it comes back; the
	// recorded delete is replayed instead of resurrecting it.
	d.setDown(false)
	for i := 0; i < 2; i++ {
		_, found, err = s.Load(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)
	}
	_, stillThere := d.data["k"]
	assert.False(t, stillThere)
	assert.Equal(t, 0, local.Len())
}

func TestStore_WriteDuringOutageWinsOverStaleDurable(t *testing.T) {
	ctx := context.Background()
	d := newFakeDurable()
	s, _ := newTestStore(t, d)

	require.NoError(t, s.Save(ctx, "k", []byte("v1"), time.Hour))
	d.setDown(true)
	require.NoError(t, s.Save(ctx, "k", []byte("v2"), time.Hour))
	d.setDown(false)

	for i := 0; i < 2; i++ {
		v, found, err := s.Load(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "v2", string(v))
	}
	assert.Equal(t, "v2", string(d.data["k"]), "pending write is replayed to the durable tier")

	// Once synced, the durable tier is authoritative again.
	require.NoError(t, d.Set(ctx, "k", []byte("v3"), time.Hour))
	v, _, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v3", string(v))
}

func TestStore_ReplayFailureKeepsPending(t *testing.T) {
	ctx := context.Background()
	d := newFakeDurable()
	s, local := newTestStore(t, d)

	require.NoError(t, s.Save(ctx, "k", []byte("v1"), time.Hour))
	d.setDown(true)
	require.NoError(t, s.Delete(ctx, "k"))

	_, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	_, tombstone, _, pending := local.Pending("k")
	assert.True(t, pending)
	assert.True(t, tombstone)
}

func TestStore_SaveAfterTombstone(t *testing.T) {
	ctx := context.Background()
	d := newFakeDurable()
	s, _ := newTestStore(t, d)

	require.NoError(t, s.Save(ctx, "k", []byte("v1"), time.Hour))
	d.setDown(true)
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Save(ctx, "k", []byte("v2"), time.Hour))
	d.setDown(false)

	v, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v2", string(v))
	assert.Equal(t, "v2", string(d.data["k"]))
}

func TestStore_MemoryOnly(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, nil)
	assert.False(t, s.Durable())

	require.NoError(t, s.Save(ctx, "k", []byte("v"), time.Hour))
	v, found, err := s.Load(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v", string(v))
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := newTestStore(t, newFakeDurable())

	_, _, err := s.Load(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Save(ctx, "k", nil, time.Hour), context.Canceled)
	assert.ErrorIs(t, s.Delete(ctx, "k"), context.Canceled)
}
