// Package keylock serializes read-modify-write cycles on state keys, within
// one process and, when a distributed locker is configured, across instances.
package keylock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Locker acquires an exclusive lock on key. The returned release function
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Local is an in-process keyed mutex. Idle keys are removed so the map only
// holds keys currently locked or awaited.
type Local struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch      chan struct{} // capacity 1; holding the token means holding the lock
	waiters int
}

// NewLocal returns an empty in-process locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.waiters++
	l.mu.Unlock()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.done(key, kl)
		return nil, fmt.Errorf("keylock: lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.done(key, kl)
		})
	}, nil
}

func (l *Local) done(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.waiters--
	if kl.waiters == 0 {
		delete(l.locks, key)
	}
}

// held returns the number of keys with holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Chain takes the in-process lock first, then the distributed one. A failed
// distributed acquisition is logged and the operation continues under the
// local lock alone, matching the store's degrade-to-local behavior.
type Chain struct {
	local       *Local
	distributed Locker
	timeout     time.Duration
	logger      *slog.Logger
}

// NewChain builds a Chain. distributed may be nil. timeout bounds the whole
// acquisition; zero means wait for ctx alone.
func NewChain(local *Local, distributed Locker, timeout time.Duration, logger *slog.Logger) *Chain {
	return &Chain{local: local, distributed: distributed, timeout: timeout, logger: logger}
}

// Lock acquires key on both tiers.
func (c *Chain) Lock(ctx context.Context, key string) (func(), error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	releaseLocal, err := c.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	if c.distributed == nil {
		return releaseLocal, nil
	}

	releaseDist, err := c.distributed.Lock(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			releaseLocal()
			return nil, fmt.Errorf("keylock: lock %s: %w", key, ctx.Err())
		}
		c.logger.Warn("keylock: distributed lock unavailable, continuing with local lock",
			"key", key, "error", err)
		return releaseLocal, nil
	}
	return func() {
		releaseDist()
		releaseLocal()
	}, nil
}

// LockAll acquires keys in the given order and releases them in reverse.
// Callers must pass keys in a consistent global order.
func LockAll(ctx context.Context, l Locker, keys ...string) (func(), error) {
	releases := make([]func(), 0, len(keys))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, k := range keys {
		release, err := l.Lock(ctx, k)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
