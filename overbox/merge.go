// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

// MergeOptions tunes the placement of pending creations.
type MergeOptions struct {
	PendingFirst bool // place pending creations before server items
}

// Merge overlays outbox entries onto a server collection:
// items with a pending delete are removed, items with a pending update get
// the update payload shallow-merged over them, and every pending create is
// appended as a record with its LocalID and pending=true.
//
// entries must belong to the same collection as server. Neither input is
// modified. Merge(server, nil) returns a copy of server.
func Merge(server []Record, entries []Entry) []Record {
	return MergeWith(server, entries, MergeOptions{})
}

// MergeWith is Merge with explicit options.
func MergeWith(server []Record, entries []Entry, opts MergeOptions) []Record {
	byID := make(map[string]*Entry, len(entries))
	var creates []Record
	for i := range entries {
		e := &entries[i]
		if e.Kind == KindCreate {
			creates = append(creates, pendingRecord(e))
			continue
		}
		byID[e.EntityID] = e
	}

	out := make([]Record, 0, len(server)+len(creates))
	if opts.PendingFirst {
		out = append(out, creates...)
	}
	for _, item := range server {
		if merged, ok := overlay(item, byID[item.ID()]); ok {
			out = append(out, merged)
		}
	}
	if !opts.PendingFirst {
		out = append(out, creates...)
	}
	return out
}

// MergeEntity applies the same overlay to a single entity. server may be nil
// when the entity is not known to the server (a pending create). The second
// result is false when the entity should not be shown.
func MergeEntity(server Record, entry *Entry) (Record, bool) {
	if entry != nil && entry.Kind == KindCreate {
		return pendingRecord(entry), true
	}
	if server == nil {
		return nil, false
	}
	return overlay(server, entry)
}

func overlay(item Record, e *Entry) (Record, bool) {
	if e == nil {
		return item.Clone(), true
	}
	switch e.Kind {
	case KindDelete:
		return nil, false
	case KindUpdate:
		out := item.Clone()
		for k, v := range e.Payload {
			out[k] = v
		}
		return out, true
	}
	return item.Clone(), true
}

func pendingRecord(e *Entry) Record {
	out := make(Record, len(e.Payload)+2)
	for k, v := range e.Payload {
		out[k] = v
	}
	out[FieldID] = e.EntityID
	out[FieldPending] = true
	return out
}
