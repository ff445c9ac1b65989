// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package remote defines the boundary to the authoritative store and its
// error taxonomy. Only errors of kind NetworkUnreachable are worth queueing
// for a later retry; Rejected errors are terminal for the attempted write.
package remote

import (
	"context"
)

// Record is a JSON object as exchanged with the authoritative store.
// The server-assigned identifier lives under FieldID.
type Record map[string]any

const (
	// FieldID holds the entity identifier.
	FieldID = "id"
	// FieldPending marks records that exist only locally.
	FieldPending = "pending"
)

// ID returns the record identifier, or "" when absent.
func (r Record) ID() string {
	id, _ := r[FieldID].(string)
	return id
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// WirePayload returns a copy of r without client-only fields.
func (r Record) WirePayload() Record {
	out := r.Clone()
	if out == nil {
		return Record{}
	}
	delete(out, FieldID)
	delete(out, FieldPending)
	return out
}

// Client is the RPC surface of the authoritative store.
type Client interface {
	List(ctx context.Context, collection string) ([]Record, error)
	Create(ctx context.Context, collection string, payload Record) (id string, err error)
	Update(ctx context.Context, collection, id string, payload Record) error
	Delete(ctx context.Context, collection, id string) error
}
