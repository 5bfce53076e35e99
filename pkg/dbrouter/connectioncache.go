package dbrouter

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/railwire/tenantdb/pkg/cache"
)

// MaxConnectionCacheSize bounds the number of live handles kept around at
// once, evicting the least-recently-used scope once the cache is full.
const MaxConnectionCacheSize = 10_000

// cacheEntry is one connection cache entry: a resolved Handle plus the
// bookkeeping LRU eviction and metrics need.
type cacheEntry struct {
	handle     *Handle
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	scope      Scope
}

// connectionCache is the bounded scopeKey -> handle mapping backing the
// Router's Get/Tenant/Org entry points. A construct function supplies the
// value on a cold miss; concurrent cold misses for the same key collapse
// onto a single construction via singleflight, so repeated calls with the
// same scope always return the same handle instance.
type connectionCache struct {
	lru *cache.LRUCache[string, *cacheEntry]
	sf  singleflight.Group
	log *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newConnectionCache(log *slog.Logger) *connectionCache {
	cc := &connectionCache{
		lru: cache.NewLRUCache[string, *cacheEntry](MaxConnectionCacheSize),
		log: log,
	}
	cc.lru.SetEvictCallback(func(key string, entry *cacheEntry) {
		cc.closeEntry(key, entry)
	})
	return cc
}

// get returns the cached handle for key, constructing it via construct on a
// miss. Two concurrent get calls for the same key that both miss construct
// exactly once.
func (cc *connectionCache) get(ctx context.Context, key string, scope Scope, construct func(ctx context.Context) (*Handle, error)) (*Handle, error) {
	if entry, ok := cc.lru.Get(key); ok {
		cc.mu.Lock()
		entry.lastUsedAt = time.Now()
		entry.useCount++
		cc.mu.Unlock()
		return entry.handle, nil
	}

	v, err, _ := cc.sf.Do(key, func() (any, error) {
		if entry, ok := cc.lru.Get(key); ok {
			return entry, nil
		}

		handle, err := construct(ctx)
		if err != nil {
			return nil, err
		}

		now := time.Now()
		entry := &cacheEntry{
			handle:     handle,
			createdAt:  now,
			lastUsedAt: now,
			useCount:   1,
			scope:      scope,
		}
		cc.lru.Put(key, entry)
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cacheEntry).handle, nil
}

// evict removes and closes the handle for key, if present.
func (cc *connectionCache) evict(key string) {
	if entry, ok := cc.lru.Remove(key); ok {
		cc.closeEntry(key, entry)
	}
}

func (cc *connectionCache) closeEntry(key string, entry *cacheEntry) {
	if entry == nil || entry.handle == nil {
		return
	}
	if err := entry.handle.client.Close(); err != nil {
		cc.log.Warn("connection cache: error closing evicted handle",
			slog.String("scope_key", key), slog.Any("error", err))
	}
}

// shutdownTimeout bounds how long Shutdown waits for all handles to close
// concurrently.
const shutdownTimeout = 30 * time.Second

// shutdown closes every cached handle concurrently, bounded by
// shutdownTimeout; stragglers are abandoned with a warning.
func (cc *connectionCache) shutdown(ctx context.Context) {
	cc.mu.Lock()
	if cc.closed {
		cc.mu.Unlock()
		return
	}
	cc.closed = true
	cc.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, key := range cc.lru.Keys() {
			entry, ok := cc.lru.Remove(key)
			if !ok {
				continue
			}
			wg.Add(1)
			go func(key string, entry *cacheEntry) {
				defer wg.Done()
				cc.closeEntry(key, entry)
			}(key, entry)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		cc.log.Warn("connection cache: shutdown timed out, abandoning stragglers")
	}
}
