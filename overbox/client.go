// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mobiletoly/go-overbox/kvstore"
	"github.com/mobiletoly/go-overbox/netstate"
	"github.com/mobiletoly/go-overbox/remote"
)

// Client is the offline-capable data layer used by the UI. Reads go through
// the merge overlay; writes go to the server when possible and to the outbox
// otherwise.
type Client struct {
	cfg    *Config
	logger *slog.Logger

	store   kvstore.Store
	remote  remote.Client
	network *netstate.Monitor
	outbox  *Outbox
	cache   *QueryCache
	flusher *Flusher
	fetches singleflight.Group
	events  listeners[Event]

	remapMu sync.RWMutex
	remaps  map[entryKey]string // LocalID -> server id, for UI code still holding a LocalID

	mu     sync.Mutex
	closed bool
	unsubs []func()
	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Result is the outcome of EnqueueOrSend.
type Result struct {
	ID      string // server id, or the entity's LocalID when a create was queued
	Queued  bool   // stored in the outbox rather than sent
	Dropped bool   // the write cancelled a pending create; nothing will be sent
}

// PendingEntity is a record created locally that the server has not seen yet.
type PendingEntity struct {
	Collection string
	LocalID    string
	Record     Record // payload with id and pending set
	EnqueuedAt time.Time
}

// Open restores the outbox and the query cache from store and returns a ready
// client. Restoration completes before Open returns, so the first read after
// Open already sees the last persisted state, even when offline.
func Open(ctx context.Context, store kvstore.Store, rc remote.Client, network *netstate.Monitor, cfg *Config) (*Client, error) {
	if store == nil || rc == nil {
		return nil, fmt.Errorf("%w: store and remote client are required", ErrInvalidOperation)
	}
	cfg = cfg.withDefaults()
	if network == nil {
		network = netstate.NewMonitor(nil)
	}

	outbox := NewOutbox(store, cfg.Clock, cfg.Logger)
	if err := outbox.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load outbox: %w", err)
	}
	cache := NewQueryCache(store, cfg)
	if _, err := cache.Restore(ctx); err != nil {
		return nil, fmt.Errorf("failed to restore query cache: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &Client{
		cfg:     cfg,
		logger:  cfg.Logger,
		store:   store,
		remote:  rc,
		network: network,
		outbox:  outbox,
		cache:   cache,
		remaps:  make(map[entryKey]string),
		bgCtx:   bgCtx,
		cancel:  cancel,
	}
	c.flusher = NewFlusher(outbox, rc, FlushHooks{
		Started:  func() { c.events.emit(Event{Type: EventFlushStarted}) },
		Remapped: c.onRemap,
		Conflict: func(cf Conflict) {
			c.events.emit(Event{Type: EventConflict, Collection: cf.Collection, EntityID: cf.EntityID, Conflict: &cf})
		},
	}, cfg)

	cache.Start(bgCtx)
	c.unsubs = append(c.unsubs,
		outbox.Subscribe(func(entries []Entry) {
			c.events.emit(Event{Type: EventOutboxChanged, Pending: len(entries)})
		}),
		cache.Subscribe(func(collection string) {
			c.events.emit(Event{Type: EventCacheUpdated, Collection: collection})
		}),
		network.Subscribe(c.onNetworkChange),
	)

	c.logger.Info("overbox client opened",
		"online", network.IsOnline(), "pending", outbox.Len(), "namespace", store.Namespace())

	if cfg.FlushOnOpen && network.IsOnline() && outbox.Len() > 0 {
		c.flushInBackground("open")
	}
	return c, nil
}

// Close stops background work, waits for a running background flush and
// writes the query cache one last time. The store is not closed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, fn := range unsubs {
		fn()
	}
	c.cancel()
	c.wg.Wait()
	c.cache.Close()
	c.events.reset()
	c.logger.Info("overbox client closed")
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Subscribe registers fn for client events. Events are delivered
// synchronously on the goroutine that caused them.
func (c *Client) Subscribe(fn func(Event)) (unsubscribe func()) {
	return c.events.add(fn)
}

// IsOnline reports the current network state.
func (c *Client) IsOnline() bool {
	return c.network.IsOnline()
}

// EnqueueOrSend performs a write. Online writes for entities without pending
// entries go straight to the server; a rejection is returned to the caller.
// Offline writes, writes that hit an unreachable server and writes for
// entities that already have an outbox entry are queued.
func (c *Client) EnqueueOrSend(ctx context.Context, op Op) (Result, error) {
	if c.isClosed() {
		return Result{}, ErrClosed
	}
	if err := validateOp(op); err != nil {
		return Result{}, err
	}
	if op.Kind != KindCreate {
		op.EntityID = c.resolveID(op.Collection, op.EntityID)
	}
	op.Payload = c.resolveReferences(op.Payload)

	_, pending := c.outbox.Get(op.Collection, op.EntityID)
	if !pending && IsLocalID(op.EntityID) {
		// The create was discarded or cancelled before it ever synced.
		if op.Kind == KindDelete {
			return Result{ID: op.EntityID, Dropped: true}, nil
		}
		return Result{}, fmt.Errorf("%w: unknown local id %s", ErrInvalidOperation, op.EntityID)
	}
	if !pending {
		if c.network.IsOnline() {
			res, err := c.send(ctx, op)
			if err == nil {
				c.cache.Invalidate(op.Collection)
				return res, nil
			}
			if !remote.IsNetworkUnreachable(err) {
				return Result{}, err
			}
			c.logger.Info("remote unreachable, queueing write",
				"collection", op.Collection, "entity_id", op.EntityID, "kind", string(op.Kind), "error", err)
		}
	}
	return c.enqueue(ctx, op)
}

func validateOp(op Op) error {
	if op.Collection == "" {
		return fmt.Errorf("%w: collection is required", ErrInvalidOperation)
	}
	switch op.Kind {
	case KindCreate:
		if op.EntityID != "" {
			return fmt.Errorf("%w: create must not carry an id", ErrInvalidOperation)
		}
	case KindUpdate, KindDelete:
		if op.EntityID == "" {
			return fmt.Errorf("%w: %s requires an id", ErrInvalidOperation, op.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
	return nil
}

func (c *Client) send(ctx context.Context, op Op) (Result, error) {
	switch op.Kind {
	case KindCreate:
		id, err := c.remote.Create(ctx, op.Collection, op.Payload.WirePayload())
		if err != nil {
			return Result{}, err
		}
		return Result{ID: id}, nil
	case KindUpdate:
		if err := c.remote.Update(ctx, op.Collection, op.EntityID, op.Payload.WirePayload()); err != nil {
			return Result{}, err
		}
	case KindDelete:
		if err := c.remote.Delete(ctx, op.Collection, op.EntityID); err != nil && !remote.IsNotFound(err) {
			return Result{}, err
		}
	}
	return Result{ID: op.EntityID}, nil
}

func (c *Client) enqueue(ctx context.Context, op Op) (Result, error) {
	if op.Kind == KindCreate {
		op.EntityID = NewLocalID()
	}
	e, err := c.outbox.Append(ctx, op)
	if err != nil {
		return Result{}, err
	}
	return Result{ID: op.EntityID, Queued: true, Dropped: e == nil}, nil
}

// MergedList returns a collection as the UI should display it: the server
// snapshot with pending outbox entries overlaid. A fresh cached snapshot is
// used without a fetch; offline or unreachable fetches fall back to the cache.
func (c *Client) MergedList(ctx context.Context, collection string) ([]Record, error) {
	items, err := c.serverItems(ctx, collection)
	if err != nil {
		return nil, err
	}
	return Merge(items, c.outbox.List(collection)), nil
}

// MergedGet returns one entity through the same overlay as MergedList.
func (c *Client) MergedGet(ctx context.Context, collection, id string) (Record, bool, error) {
	id = c.resolveID(collection, id)
	var entry *Entry
	if e, ok := c.outbox.Get(collection, id); ok {
		entry = &e
		if e.Kind == KindCreate {
			r, ok := MergeEntity(nil, entry)
			return r, ok, nil
		}
	}

	items, err := c.serverItems(ctx, collection)
	if err != nil {
		return nil, false, err
	}
	for _, item := range items {
		if item.ID() == id {
			r, ok := MergeEntity(item, entry)
			return r, ok, nil
		}
	}
	return nil, false, nil
}

func (c *Client) serverItems(ctx context.Context, collection string) ([]Record, error) {
	cached, ok := c.cache.Get(collection)
	if ok && c.cache.IsFresh(collection) {
		return cached.Items, nil
	}
	if !c.network.IsOnline() {
		return cached.Items, nil
	}

	v, err, _ := c.fetches.Do(collection, func() (any, error) {
		items, err := c.remote.List(ctx, collection)
		if err != nil {
			return nil, err
		}
		c.cache.Set(collection, items)
		return items, nil
	})
	if err != nil {
		if remote.IsNetworkUnreachable(err) {
			c.logger.Debug("serving cached collection", "collection", collection, "error", err)
			return cached.Items, nil
		}
		return nil, err
	}
	return v.([]Record), nil
}

// Outbox returns the pending entries in enqueue order.
func (c *Client) Outbox() []Entry {
	return c.outbox.ListAll()
}

// SubscribeOutbox registers fn to receive the entry list after every outbox change.
func (c *Client) SubscribeOutbox(fn func([]Entry)) (unsubscribe func()) {
	return c.outbox.Subscribe(fn)
}

// PendingCreates returns the records created locally and not yet synced.
// An empty collection returns them for every collection.
func (c *Client) PendingCreates(collection string) []PendingEntity {
	var out []PendingEntity
	for _, e := range c.outbox.ListAll() {
		if e.Kind != KindCreate || (collection != "" && e.Collection != collection) {
			continue
		}
		out = append(out, PendingEntity{
			Collection: e.Collection,
			LocalID:    e.EntityID,
			Record:     pendingRecord(&e),
			EnqueuedAt: e.EnqueuedAt,
		})
	}
	return out
}

// HasPendingChanges reports whether anything waits to be synced.
func (c *Client) HasPendingChanges() bool {
	return c.outbox.Len() > 0
}

// PendingCount returns the number of outbox entries.
func (c *Client) PendingCount() int {
	return c.outbox.Len()
}

// Discard abandons the pending change for an entity.
func (c *Client) Discard(ctx context.Context, collection, id string) (bool, error) {
	return c.outbox.Discard(ctx, collection, c.resolveID(collection, id))
}

// SyncNow flushes the outbox immediately.
func (c *Client) SyncNow(ctx context.Context) (*FlushReport, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if !c.network.IsOnline() {
		return nil, ErrOffline
	}
	return c.flush(ctx)
}

// ClearOfflineData deletes the outbox and the cached collections, in memory
// and in storage. Pending changes are lost.
func (c *Client) ClearOfflineData(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}
	// Holding the flush guard keeps a reconnect flush from replaying into
	// the outbox while it is being cleared.
	if !c.flusher.acquire() {
		return ErrFlushInProgress
	}
	defer c.flusher.release()

	c.cache.Reset()
	if err := c.store.Clear(ctx); err != nil {
		if !kvstore.IsUnavailable(err) {
			return fmt.Errorf("failed to clear offline data: %w", err)
		}
		c.logger.Warn("offline data cleared in memory only", "error", err)
	}
	c.outbox.Reset()
	c.remapMu.Lock()
	c.remaps = make(map[entryKey]string)
	c.remapMu.Unlock()
	c.events.emit(Event{Type: EventDataCleared})
	c.logger.Info("offline data cleared")
	return nil
}

func (c *Client) flush(ctx context.Context) (*FlushReport, error) {
	report, err := c.flusher.Flush(ctx)
	if report == nil {
		return nil, err
	}
	c.cache.Invalidate(report.Collections...)
	c.events.emit(Event{Type: EventFlushCompleted, Pending: c.outbox.Len(), Report: report})
	return report, err
}

func (c *Client) flushInBackground(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.flush(c.bgCtx); err != nil {
			if errors.Is(err, ErrFlushInProgress) {
				c.logger.Debug("flush already running", "reason", reason)
				return
			}
			c.logger.Warn("background flush ended early", "reason", reason, "error", err)
		}
	}()
}

func (c *Client) onNetworkChange(online bool) {
	c.logger.Info("network state changed", "online", online)
	c.events.emit(Event{Type: EventNetworkChanged, Online: online})
	if online && c.cfg.AutoFlush && c.outbox.Len() > 0 {
		c.flushInBackground("reconnect")
	}
}

func (c *Client) onRemap(r Remap) {
	c.remapMu.Lock()
	c.remaps[entryKey{r.Collection, r.LocalID}] = r.ServerID
	c.remapMu.Unlock()
	c.events.emit(Event{Type: EventIDRemapped, Collection: r.Collection, EntityID: r.LocalID, ServerID: r.ServerID})
}

// resolveID maps a LocalID that has already been synced to its server id.
func (c *Client) resolveID(collection, id string) string {
	if !IsLocalID(id) {
		return id
	}
	c.remapMu.RLock()
	defer c.remapMu.RUnlock()
	if serverID, ok := c.remaps[entryKey{collection, id}]; ok {
		return serverID
	}
	return id
}

// resolveReferences rewrites payload values naming LocalIDs that have already
// been synced, so UI code holding a stale id still links to the server record.
func (c *Client) resolveReferences(payload Record) Record {
	c.remapMu.RLock()
	defer c.remapMu.RUnlock()
	if len(c.remaps) == 0 {
		return payload
	}
	var out Record
	for field, v := range payload {
		s, ok := v.(string)
		if !ok || !IsLocalID(s) {
			continue
		}
		for key, serverID := range c.remaps {
			if key.id == s {
				if out == nil {
					out = payload.Clone()
				}
				out[field] = serverID
				break
			}
		}
	}
	if out == nil {
		return payload
	}
	return out
}
