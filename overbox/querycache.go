// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mobiletoly/go-overbox/kvstore"
)

const queryCacheStorageKey = "query-cache"

// CachedCollection is the last server snapshot of a collection.
type CachedCollection struct {
	Items       []Record  `json:"items"`
	FetchedAt   time.Time `json:"fetched_at"`
	Invalidated bool      `json:"invalidated,omitempty"`
}

type cacheSnapshot struct {
	SavedAt     time.Time                   `json:"saved_at"`
	Collections map[string]CachedCollection `json:"collections"`
}

// QueryCache holds server snapshots per collection and mirrors them to durable
// storage on a background writer.
type QueryCache struct {
	mu          sync.RWMutex
	collections map[string]CachedCollection
	persistMu   sync.Mutex // serializes snapshot writes with Reset

	store     kvstore.Store
	clock     Clock
	logger    *slog.Logger
	maxAge    time.Duration
	staleTime time.Duration

	dirty     chan struct{}
	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	subs listeners[string]
}

// NewQueryCache creates an empty cache. Call Restore before the first read and
// Start to enable mirroring.
func NewQueryCache(store kvstore.Store, cfg *Config) *QueryCache {
	cfg = cfg.withDefaults()
	return &QueryCache{
		collections: make(map[string]CachedCollection),
		store:       store,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		maxAge:      cfg.CacheMaxAge,
		staleTime:   cfg.StaleTime,
		dirty:       make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Restore loads the persisted snapshot when it is younger than the configured
// maximum age. It reports whether anything was restored. Unreadable or expired
// snapshots are discarded; the cache starts empty.
func (c *QueryCache) Restore(ctx context.Context) (bool, error) {
	raw, found, err := c.store.Get(ctx, queryCacheStorageKey)
	if err != nil {
		if kvstore.IsUnavailable(err) {
			c.logger.Warn("query cache storage unavailable, starting empty", "error", err)
			return false, nil
		}
		return false, fmt.Errorf("failed to read query cache: %w", err)
	}
	if !found {
		return false, nil
	}

	var snap cacheSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		c.logger.Warn("discarding unreadable query cache snapshot", "error", err)
		return false, nil
	}
	if age := c.clock.Now().Sub(snap.SavedAt); age > c.maxAge {
		c.logger.Info("discarding expired query cache snapshot", "age", age.String())
		return false, nil
	}

	c.mu.Lock()
	c.collections = make(map[string]CachedCollection, len(snap.Collections))
	for name, cc := range snap.Collections {
		c.collections[name] = cc
	}
	c.mu.Unlock()

	c.logger.Debug("query cache restored", "collections", len(snap.Collections))
	return len(snap.Collections) > 0, nil
}

// Start launches the mirroring goroutine. It stops on Close or when ctx ends.
func (c *QueryCache) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.mirrorLoop(ctx)
}

// mirrorLoop writes snapshots until stopped. Writes never use a cancelled
// context; a snapshot left dirty on exit is written by Close.
func (c *QueryCache) mirrorLoop(ctx context.Context) {
	defer close(c.done)
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-c.dirty:
			c.mirror(writeCtx)
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *QueryCache) mirror(ctx context.Context) {
	if err := c.Persist(ctx); err != nil {
		c.logger.Warn("failed to mirror query cache", "error", err)
	}
}

// Subscribe registers fn to receive the name of every collection that was
// replaced by a fetch.
func (c *QueryCache) Subscribe(fn func(collection string)) (unsubscribe func()) {
	return c.subs.add(fn)
}

// Get returns a copy of the cached collection.
func (c *QueryCache) Get(collection string) (CachedCollection, bool) {
	c.mu.RLock()
	cc, ok := c.collections[collection]
	c.mu.RUnlock()
	if !ok {
		return CachedCollection{}, false
	}
	cc.Items = cloneRecords(cc.Items)
	return cc, true
}

// Set replaces a collection wholesale with freshly fetched items.
func (c *QueryCache) Set(collection string, items []Record) {
	c.mu.Lock()
	c.collections[collection] = CachedCollection{
		Items:     cloneRecords(items),
		FetchedAt: c.clock.Now(),
	}
	c.mu.Unlock()
	c.markDirty()
	c.subs.emit(collection)
}

// Invalidate marks collections stale. Their items stay available as an
// offline fallback until the next successful fetch.
func (c *QueryCache) Invalidate(collections ...string) {
	changed := false
	c.mu.Lock()
	for _, name := range collections {
		if cc, ok := c.collections[name]; ok && !cc.Invalidated {
			cc.Invalidated = true
			c.collections[name] = cc
			changed = true
		}
	}
	c.mu.Unlock()
	if changed {
		c.markDirty()
	}
}

// IsFresh reports whether a collection can be served without a fetch.
func (c *QueryCache) IsFresh(collection string) bool {
	c.mu.RLock()
	cc, ok := c.collections[collection]
	c.mu.RUnlock()
	return ok && !cc.Invalidated && c.clock.Now().Sub(cc.FetchedAt) < c.staleTime
}

// Reset drops every collection from memory without writing to storage. It
// waits for an in-flight snapshot write, so clearing storage afterwards
// cannot be undone by the mirror.
func (c *QueryCache) Reset() {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.mu.Lock()
	c.collections = make(map[string]CachedCollection)
	c.mu.Unlock()
	select {
	case <-c.dirty:
	default:
	}
}

// Persist writes the current snapshot synchronously.
func (c *QueryCache) Persist(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.mu.RLock()
	snap := cacheSnapshot{
		SavedAt:     c.clock.Now(),
		Collections: maps.Clone(c.collections),
	}
	data, err := json.Marshal(snap)
	c.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode query cache: %w", err)
	}
	if err := c.store.Set(ctx, queryCacheStorageKey, data); err != nil {
		return fmt.Errorf("failed to write query cache: %w", err)
	}
	return nil
}

// Close stops mirroring after writing any pending snapshot.
func (c *QueryCache) Close() {
	c.closeOnce.Do(func() {
		if c.started.Load() {
			close(c.stop)
			<-c.done
		}
		select {
		case <-c.dirty:
			c.mirror(context.Background())
		default:
		}
	})
}

func (c *QueryCache) markDirty() {
	select {
	case c.dirty <- struct{}{}:
	default:
	}
}

func cloneRecords(in []Record) []Record {
	if in == nil {
		return nil
	}
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}
