// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/mobiletoly/go-overbox/remote"
)

const (
	// ReasonStale marks a replay whose target no longer exists on the server.
	ReasonStale = "stale"
	// ReasonDanglingReference marks an entry pointing at a local record whose
	// create was cancelled or discarded before it synced.
	ReasonDanglingReference = "dangling_reference"
)

// Conflict is a replay the server refused. The user has to re-apply intent
// manually; nothing is merged automatically.
type Conflict struct {
	Collection string
	EntityID   string
	Kind       Kind
	Reason     string // rejection code, ReasonStale or ReasonDanglingReference
	Message    string
	Dropped    bool // the entry was removed; otherwise it is kept and marked
}

// Remap reports that a pending create now has a server id.
type Remap struct {
	Collection string
	LocalID    string
	ServerID   string
}

// EntryResult is the outcome of replaying one entry.
type EntryResult struct {
	Collection string
	EntityID   string
	Kind       Kind
	ServerID   string // creates only
	Err        error
}

// FlushReport summarizes one flush pass.
type FlushReport struct {
	StartedAt   time.Time
	FinishedAt  time.Time
	Succeeded   []EntryResult
	Failed      []EntryResult
	Conflicts   []Conflict
	Skipped     int      // entries marked with a conflict
	Deferred    int      // entries referencing a LocalID whose create is still queued
	Collections []string // collections touched by this pass
}

// Attempted returns the number of entries sent to the server.
func (r *FlushReport) Attempted() int {
	return len(r.Succeeded) + len(r.Failed)
}

// FlushHooks receive flush notifications. Any of them may be nil.
type FlushHooks struct {
	Started  func()
	Remapped func(Remap)
	Conflict func(Conflict)
}

// Flusher replays outbox entries against the remote store. At most one flush
// runs at a time.
type Flusher struct {
	outbox  *Outbox
	remote  remote.Client
	hooks   FlushHooks
	logger  *slog.Logger
	clock   Clock
	running atomic.Bool
}

// NewFlusher creates a flusher for outbox.
func NewFlusher(outbox *Outbox, rc remote.Client, hooks FlushHooks, cfg *Config) *Flusher {
	cfg = cfg.withDefaults()
	return &Flusher{
		outbox: outbox,
		remote: rc,
		hooks:  hooks,
		logger: cfg.Logger,
		clock:  cfg.Clock,
	}
}

// Running reports whether a flush is in progress.
func (f *Flusher) Running() bool {
	return f.running.Load()
}

// acquire takes the single-flush guard. Callers that rewrite the whole outbox
// hold it too, so no pass can start meanwhile.
func (f *Flusher) acquire() bool {
	return f.running.CompareAndSwap(false, true)
}

func (f *Flusher) release() {
	f.running.Store(false)
}

// Flush replays a snapshot of the outbox in enqueue order. Successful entries
// are removed; failed ones stay for the next attempt. One entry failing never
// stops the others. It returns ErrFlushInProgress when another flush runs, and
// ctx.Err() when ctx ends mid-pass.
func (f *Flusher) Flush(ctx context.Context) (*FlushReport, error) {
	if !f.acquire() {
		return nil, ErrFlushInProgress
	}
	defer f.release()

	if f.hooks.Started != nil {
		f.hooks.Started()
	}

	report := &FlushReport{StartedAt: f.clock.Now()}
	touched := make(map[string]struct{})
	snapshot := f.outbox.ListAll()
	f.logger.Info("flush started", "entries", len(snapshot))

	var err error
	for _, snap := range snapshot {
		if err = ctx.Err(); err != nil {
			break
		}
		// Re-read: an earlier create in this pass may have remapped references,
		// and the user may have edited or discarded the entry meanwhile.
		e, ok := f.outbox.Get(snap.Collection, snap.EntityID)
		if !ok {
			continue
		}
		if e.Conflict != "" {
			report.Skipped++
			continue
		}
		if ref, pending := f.localReference(e); ref != "" {
			if pending {
				f.logger.Debug("deferring entry with unsynced reference",
					"collection", e.Collection, "entity_id", e.EntityID, "ref", ref)
				report.Deferred++
			} else {
				f.danglingReference(ctx, e, ref, report)
			}
			continue
		}

		touched[e.Collection] = struct{}{}
		f.replay(ctx, e, report)
	}

	for name := range touched {
		report.Collections = append(report.Collections, name)
	}
	slices.Sort(report.Collections)
	report.FinishedAt = f.clock.Now()

	f.logger.Info("flush completed",
		"succeeded", len(report.Succeeded),
		"failed", len(report.Failed),
		"conflicts", len(report.Conflicts),
		"skipped", report.Skipped,
		"deferred", report.Deferred)
	return report, err
}

func (f *Flusher) replay(ctx context.Context, e Entry, report *FlushReport) {
	res := EntryResult{Collection: e.Collection, EntityID: e.EntityID, Kind: e.Kind}
	log := f.logger.With("collection", e.Collection, "entity_id", e.EntityID, "kind", string(e.Kind))

	var err error
	switch e.Kind {
	case KindCreate:
		var id string
		id, err = f.remote.Create(ctx, e.Collection, e.Payload.WirePayload())
		if err == nil {
			res.ServerID = id
			if err = f.outbox.completeCreate(ctx, e.Collection, e.EntityID, id, e.Rev); err == nil && f.hooks.Remapped != nil {
				f.hooks.Remapped(Remap{Collection: e.Collection, LocalID: e.EntityID, ServerID: id})
			}
			if err != nil {
				log.Error("create accepted but outbox not updated", "server_id", id, "error", err)
			}
		}
	case KindUpdate:
		err = f.remote.Update(ctx, e.Collection, e.EntityID, e.Payload.WirePayload())
		if remote.IsNotFound(err) {
			f.conflict(ctx, e, err, report)
			return
		}
		if err == nil {
			_, err = f.outbox.removeIfRev(ctx, e.Collection, e.EntityID, e.Rev)
		}
	case KindDelete:
		err = f.remote.Delete(ctx, e.Collection, e.EntityID)
		if remote.IsNotFound(err) {
			log.Debug("delete target already gone")
			err = nil
		}
		if err == nil {
			_, err = f.outbox.removeIfRev(ctx, e.Collection, e.EntityID, e.Rev)
		}
	}

	if err == nil {
		log.Debug("entry replayed", "server_id", res.ServerID)
		report.Succeeded = append(report.Succeeded, res)
		return
	}

	res.Err = err
	report.Failed = append(report.Failed, res)
	if remote.IsRejected(err) {
		f.conflict(ctx, e, err, report)
		return
	}
	log.Warn("entry left for retry", "error", err)
}

// conflict records a refused replay. Stale updates are dropped; other
// rejections keep the entry and mark it so later flushes skip it.
func (f *Flusher) conflict(ctx context.Context, e Entry, cause error, report *FlushReport) {
	c := Conflict{
		Collection: e.Collection,
		EntityID:   e.EntityID,
		Kind:       e.Kind,
		Reason:     remote.RejectionCode(cause),
	}
	var re *remote.Error
	if errors.As(cause, &re) {
		c.Message = re.Message
	}

	if remote.IsNotFound(cause) && e.Kind == KindUpdate {
		c.Reason = ReasonStale
		c.Dropped = true
		if _, err := f.outbox.Discard(ctx, e.Collection, e.EntityID); err != nil {
			f.logger.Error("failed to drop stale entry", "collection", e.Collection, "entity_id", e.EntityID, "error", err)
			c.Dropped = false
		}
		report.Failed = append(report.Failed, EntryResult{
			Collection: e.Collection, EntityID: e.EntityID, Kind: e.Kind, Err: cause,
		})
	} else if err := f.outbox.markConflict(ctx, e.Collection, e.EntityID, e.Rev, c.Reason); err != nil {
		f.logger.Error("failed to mark conflict", "collection", e.Collection, "entity_id", e.EntityID, "error", err)
	}

	f.raise(c, report)
}

// danglingReference marks an entry whose payload names a LocalID that will
// never be remapped. The entry stays until the user edits or discards it.
func (f *Flusher) danglingReference(ctx context.Context, e Entry, ref string, report *FlushReport) {
	c := Conflict{
		Collection: e.Collection,
		EntityID:   e.EntityID,
		Kind:       e.Kind,
		Reason:     ReasonDanglingReference,
		Message:    "references unsynced record " + ref + " which no longer exists",
	}
	if err := f.outbox.markConflict(ctx, e.Collection, e.EntityID, e.Rev, c.Reason); err != nil {
		f.logger.Error("failed to mark conflict", "collection", e.Collection, "entity_id", e.EntityID, "error", err)
	}
	f.raise(c, report)
}

func (f *Flusher) raise(c Conflict, report *FlushReport) {
	f.logger.Warn("replay conflict",
		"collection", c.Collection, "entity_id", c.EntityID, "kind", string(c.Kind),
		"reason", c.Reason, "dropped", c.Dropped)
	report.Conflicts = append(report.Conflicts, c)
	if f.hooks.Conflict != nil {
		f.hooks.Conflict(c)
	}
}

// localReference finds payload values that name local records. pending is
// true when one of them still has a create queued, so the entry must wait for
// its remap. Otherwise ref is a value shaped exactly like a NewLocalID result
// with no create behind it, or "" when the payload has only ordinary strings.
func (f *Flusher) localReference(e Entry) (ref string, pending bool) {
	for field, v := range e.Payload {
		if field == FieldID || field == FieldPending {
			continue
		}
		s, ok := v.(string)
		if !ok || !IsLocalID(s) {
			continue
		}
		if f.outbox.hasPendingCreate(s) {
			return s, true
		}
		if isGeneratedLocalID(s) {
			ref = s
		}
	}
	return ref, false
}
