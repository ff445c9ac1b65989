// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mobiletoly/go-overbox/kvstore"
)

// Kind is the operation recorded by an outbox entry.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

func (k Kind) valid() bool {
	return k == KindCreate || k == KindUpdate || k == KindDelete
}

// Entry is a pending local mutation. There is at most one entry per
// (Collection, EntityID).
type Entry struct {
	Collection string    `json:"collection"`
	EntityID   string    `json:"entity_id"` // server id, or LocalID for creates
	Kind       Kind      `json:"kind"`
	Payload    Record    `json:"payload,omitempty"` // nil for deletes
	EnqueuedAt time.Time `json:"enqueued_at"`       // time of the first operation on this entity
	Seq        int64     `json:"seq"`               // tie-breaker for equal EnqueuedAt
	Rev        int64     `json:"rev"`               // bumped on every collapse
	Conflict   string    `json:"conflict,omitempty"`
}

func (e Entry) clone() Entry {
	e.Payload = e.Payload.Clone()
	return e
}

// Op is an intended write.
type Op struct {
	Collection string
	EntityID   string // empty for creates; the client assigns a LocalID when queueing
	Kind       Kind
	Payload    Record
}

type entryKey struct {
	collection string
	id         string
}

const (
	outboxStorageKey = "outbox"
	outboxDocVersion = 1
)

type outboxDocument struct {
	Version int     `json:"version"`
	Seq     int64   `json:"seq"`
	Entries []Entry `json:"entries"`
}

// Outbox owns the pending operations and persists every mutation before it
// becomes visible to readers.
type Outbox struct {
	mu      sync.Mutex
	store   kvstore.Store
	clock   Clock
	logger  *slog.Logger
	entries map[entryKey]Entry
	seq     int64
	subs    listeners[[]Entry]
}

// NewOutbox creates an empty outbox backed by store. Call Load to restore
// previously persisted entries.
func NewOutbox(store kvstore.Store, clock Clock, logger *slog.Logger) *Outbox {
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{
		store:   store,
		clock:   clock,
		logger:  logger,
		entries: make(map[entryKey]Entry),
	}
}

// Load replaces the in-memory entries with the persisted ones.
// Unavailable storage is logged and leaves the outbox empty.
func (o *Outbox) Load(ctx context.Context) error {
	raw, found, err := o.store.Get(ctx, outboxStorageKey)
	if err != nil {
		if kvstore.IsUnavailable(err) {
			o.logger.Warn("outbox storage unavailable, starting empty", "error", err)
			return nil
		}
		return fmt.Errorf("failed to read outbox: %w", err)
	}
	if !found {
		return nil
	}

	var doc outboxDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode outbox: %w", err)
	}

	entries := make(map[entryKey]Entry, len(doc.Entries))
	seq := doc.Seq
	for _, e := range doc.Entries {
		entries[entryKey{e.Collection, e.EntityID}] = e
		if e.Seq > seq {
			seq = e.Seq
		}
	}

	o.mu.Lock()
	o.entries = entries
	o.seq = seq
	o.mu.Unlock()

	o.logger.Debug("outbox loaded", "entries", len(entries))
	return nil
}

// Subscribe registers fn to receive the full ordered entry list after every change.
func (o *Outbox) Subscribe(fn func([]Entry)) (unsubscribe func()) {
	return o.subs.add(fn)
}

// Append records op, collapsing it with any existing entry for the same entity:
//
//	none   + any    -> op as-is
//	create + update -> create, payload shallow-merged
//	create + delete -> entry dropped (returns nil, nil)
//	update + update -> update, payload shallow-merged, original EnqueuedAt kept
//	update + delete -> delete, original EnqueuedAt kept
//	delete + any    -> ErrEntityDeleted
//
// The returned entry is a copy of what was stored.
func (o *Outbox) Append(ctx context.Context, op Op) (*Entry, error) {
	if op.Collection == "" || op.EntityID == "" {
		return nil, fmt.Errorf("%w: collection and entity id are required", ErrInvalidOperation)
	}
	if !op.Kind.valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}

	key := entryKey{op.Collection, op.EntityID}
	var stored *Entry
	err := o.mutate(ctx, func(entries map[entryKey]Entry, seq *int64) (bool, error) {
		var existing *Entry
		if e, ok := entries[key]; ok {
			existing = &e
		}
		next, keep, err := collapse(existing, op, o.clock.Now(), *seq+1)
		if err != nil {
			return false, err
		}
		if !keep {
			delete(entries, key)
			return true, nil
		}
		if existing == nil {
			*seq++
		}
		entries[key] = next
		out := next.clone()
		stored = &out
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// collapse computes the entry that replaces existing once op is applied.
// keep=false means the entity no longer has an entry.
func collapse(existing *Entry, op Op, now time.Time, seq int64) (next Entry, keep bool, err error) {
	if existing == nil {
		next = Entry{
			Collection: op.Collection,
			EntityID:   op.EntityID,
			Kind:       op.Kind,
			EnqueuedAt: now,
			Seq:        seq,
			Rev:        1,
		}
		if op.Kind != KindDelete {
			next.Payload = op.Payload.WirePayload()
		}
		return next, true, nil
	}

	switch existing.Kind {
	case KindDelete:
		return Entry{}, false, ErrEntityDeleted
	case KindCreate:
		switch op.Kind {
		case KindUpdate:
			return mergeEntry(*existing, op.Payload), true, nil
		case KindDelete:
			// Never synced, so deleting it has no network effect.
			return Entry{}, false, nil
		}
	case KindUpdate:
		switch op.Kind {
		case KindUpdate:
			return mergeEntry(*existing, op.Payload), true, nil
		case KindDelete:
			next = existing.clone()
			next.Kind = KindDelete
			next.Payload = nil
			next.Rev++
			next.Conflict = ""
			return next, true, nil
		}
	}
	return Entry{}, false, fmt.Errorf("%w: %s after pending %s for %s/%s",
		ErrInvalidOperation, op.Kind, existing.Kind, existing.Collection, existing.EntityID)
}

func mergeEntry(e Entry, payload Record) Entry {
	e.Payload = mergePayload(e.Payload, payload)
	e.Rev++
	e.Conflict = ""
	return e
}

// mergePayload returns base with overlay's fields written over it.
func mergePayload(base, overlay Record) Record {
	out := base.Clone()
	if out == nil {
		out = Record{}
	}
	for k, v := range overlay.WirePayload() {
		out[k] = v
	}
	return out
}

// Remove deletes the entry for an entity. Removing a missing entry is a no-op.
func (o *Outbox) Remove(ctx context.Context, collection, id string) error {
	_, err := o.Discard(ctx, collection, id)
	return err
}

// Discard drops the entry for an entity and reports whether one existed.
// It is how a user abandons an unsynced change.
func (o *Outbox) Discard(ctx context.Context, collection, id string) (bool, error) {
	key := entryKey{collection, id}
	removed := false
	err := o.mutate(ctx, func(entries map[entryKey]Entry, _ *int64) (bool, error) {
		if _, ok := entries[key]; !ok {
			return false, nil
		}
		delete(entries, key)
		removed = true
		return true, nil
	})
	return removed, err
}

// removeIfRev deletes the entry only when it has not been collapsed since rev
// was observed. It reports whether the entry was removed.
func (o *Outbox) removeIfRev(ctx context.Context, collection, id string, rev int64) (bool, error) {
	key := entryKey{collection, id}
	removed := false
	err := o.mutate(ctx, func(entries map[entryKey]Entry, _ *int64) (bool, error) {
		e, ok := entries[key]
		if !ok || e.Rev != rev {
			return false, nil
		}
		delete(entries, key)
		removed = true
		return true, nil
	})
	return removed, err
}

// markConflict flags an entry so flushes skip it until it is edited or discarded.
func (o *Outbox) markConflict(ctx context.Context, collection, id string, rev int64, reason string) error {
	key := entryKey{collection, id}
	return o.mutate(ctx, func(entries map[entryKey]Entry, _ *int64) (bool, error) {
		e, ok := entries[key]
		if !ok || e.Rev != rev {
			return false, nil
		}
		e.Conflict = reason
		entries[key] = e
		return true, nil
	})
}

// completeCreate retires the create entry for localID after the server
// accepted it under serverID, and rewrites references to localID in the
// remaining entries.
//
// If the entry was edited while the create was in flight, the newer payload is
// kept as an update of serverID. If it was deleted or discarded meanwhile, a
// delete of serverID is queued so the server copy goes away too.
func (o *Outbox) completeCreate(ctx context.Context, collection, localID, serverID string, rev int64) error {
	localKey := entryKey{collection, localID}
	serverKey := entryKey{collection, serverID}
	return o.mutate(ctx, func(entries map[entryKey]Entry, seq *int64) (bool, error) {
		cur, ok := entries[localKey]
		switch {
		case !ok:
			*seq++
			entries[serverKey] = Entry{
				Collection: collection,
				EntityID:   serverID,
				Kind:       KindDelete,
				EnqueuedAt: o.clock.Now(),
				Seq:        *seq,
				Rev:        1,
			}
		case cur.Rev == rev:
			delete(entries, localKey)
		default:
			delete(entries, localKey)
			cur.EntityID = serverID
			cur.Kind = KindUpdate
			cur.Rev++
			entries[serverKey] = cur
		}
		remapReferences(entries, localID, serverID)
		return true, nil
	})
}

// remapReferences replaces payload values equal to localID with serverID.
func remapReferences(entries map[entryKey]Entry, localID, serverID string) {
	for key, e := range entries {
		changed := false
		for field, v := range e.Payload {
			if s, ok := v.(string); ok && s == localID {
				if !changed {
					e.Payload = e.Payload.Clone()
					changed = true
				}
				e.Payload[field] = serverID
			}
		}
		if changed {
			entries[key] = e
		}
	}
}

// Reset drops all in-memory entries without touching storage. Used after the
// store namespace has been cleared.
func (o *Outbox) Reset() {
	o.mu.Lock()
	o.entries = make(map[entryKey]Entry)
	o.seq = 0
	o.mu.Unlock()
	o.subs.emit([]Entry{})
}

// ListAll returns every entry in enqueue order.
func (o *Outbox) ListAll() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return sortedEntries(o.entries)
}

// List returns the entries of one collection in enqueue order.
func (o *Outbox) List(collection string) []Entry {
	all := o.ListAll()
	out := all[:0]
	for _, e := range all {
		if e.Collection == collection {
			out = append(out, e)
		}
	}
	return out
}

// Get returns the entry for an entity.
func (o *Outbox) Get(collection, id string) (Entry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[entryKey{collection, id}]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// hasPendingCreate reports whether any collection has a create queued for id.
func (o *Outbox) hasPendingCreate(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for key, e := range o.entries {
		if key.id == id && e.Kind == KindCreate {
			return true
		}
	}
	return false
}

// Len returns the number of entries.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// mutate applies fn to a copy of the entries, persists the copy and only then
// publishes it. Unavailable storage is logged and the change is kept in
// memory; any other persistence error discards the change.
func (o *Outbox) mutate(ctx context.Context, fn func(entries map[entryKey]Entry, seq *int64) (bool, error)) error {
	o.mu.Lock()
	next := maps.Clone(o.entries)
	seq := o.seq
	changed, err := fn(next, &seq)
	if err != nil || !changed {
		o.mu.Unlock()
		return err
	}

	snapshot := sortedEntries(next)
	if err := o.persist(ctx, snapshot, seq); err != nil {
		if !kvstore.IsUnavailable(err) {
			o.mu.Unlock()
			return err
		}
		o.logger.Warn("outbox persisted in memory only", "error", err)
	}
	o.entries = next
	o.seq = seq
	o.mu.Unlock()

	o.subs.emit(snapshot)
	return nil
}

func (o *Outbox) persist(ctx context.Context, entries []Entry, seq int64) error {
	data, err := json.Marshal(outboxDocument{Version: outboxDocVersion, Seq: seq, Entries: entries})
	if err != nil {
		return fmt.Errorf("failed to encode outbox: %w", err)
	}
	return o.store.Set(ctx, outboxStorageKey, data)
}

func sortedEntries(m map[entryKey]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e.clone())
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}
