// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mobiletoly/go-overbox/remote"
)

// Call is one request observed by FakeRemote.
type Call struct {
	Op         string // list, create, update, delete
	Collection string
	ID         string
	Payload    remote.Record
}

type injectedFailure struct {
	op, collection, id string
	err                error
}

// FakeRemote is an in-memory authoritative store implementing remote.Client,
// with call recording and failure injection.
type FakeRemote struct {
	mu          sync.Mutex
	collections map[string][]remote.Record
	nextID      int
	calls       []Call
	failures    []injectedFailure
	unreachable bool

	// Hook, when set, runs before every call outside the lock. A non-nil
	// error is returned instead of performing the call.
	Hook func(ctx context.Context, call Call) error
	// Validate, when set, checks create payloads.
	Validate func(collection string, payload remote.Record) error
}

var _ remote.Client = (*FakeRemote)(nil)

// NewFakeRemote creates an empty store.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{collections: make(map[string][]remote.Record)}
}

// Seed stores records as if they had been created on the server. Every record
// must carry an id.
func (f *FakeRemote) Seed(collection string, records ...remote.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.collections[collection] = append(f.collections[collection], r.Clone())
	}
}

// Records returns a copy of a collection in creation order.
func (f *FakeRemote) Records(collection string) []remote.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]remote.Record, 0, len(f.collections[collection]))
	for _, r := range f.collections[collection] {
		out = append(out, r.Clone())
	}
	return out
}

// Record returns one record by id.
func (f *FakeRemote) Record(collection, id string) (remote.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(collection, id)
	if i < 0 {
		return nil, false
	}
	return f.collections[collection][i].Clone(), true
}

// Remove deletes a record behind the client's back.
func (f *FakeRemote) Remove(collection, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.indexLocked(collection, id); i >= 0 {
		f.collections[collection] = slices.Delete(f.collections[collection], i, i+1)
	}
}

// Calls returns every call observed so far.
func (f *FakeRemote) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns the number of calls for op. An empty op counts all calls.
func (f *FakeRemote) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if op == "" || c.Op == op {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (f *FakeRemote) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// SetUnreachable makes every call fail with a network error while true.
func (f *FakeRemote) SetUnreachable(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable = v
}

// FailNext makes the next matching call return err. Empty collection or id
// match anything.
func (f *FakeRemote) FailNext(op, collection, id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, injectedFailure{op: op, collection: collection, id: id, err: err})
}

func (f *FakeRemote) List(ctx context.Context, collection string) ([]remote.Record, error) {
	if err := f.begin(ctx, Call{Op: "list", Collection: collection}); err != nil {
		return nil, err
	}
	return f.Records(collection), nil
}

func (f *FakeRemote) Create(ctx context.Context, collection string, payload remote.Record) (string, error) {
	if err := f.begin(ctx, Call{Op: "create", Collection: collection, Payload: payload.Clone()}); err != nil {
		return "", err
	}
	if f.Validate != nil {
		if err := f.Validate(collection, payload); err != nil {
			return "", remote.Rejected("create", collection, "", remote.CodeValidation, err.Error())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("srv-%d", f.nextID)
	r := payload.WirePayload()
	r[remote.FieldID] = id
	f.collections[collection] = append(f.collections[collection], r)
	return id, nil
}

func (f *FakeRemote) Update(ctx context.Context, collection, id string, payload remote.Record) error {
	if err := f.begin(ctx, Call{Op: "update", Collection: collection, ID: id, Payload: payload.Clone()}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(collection, id)
	if i < 0 {
		return remote.Rejected("update", collection, id, remote.CodeNotFound, "record not found")
	}
	r := f.collections[collection][i].Clone()
	for k, v := range payload.WirePayload() {
		r[k] = v
	}
	f.collections[collection][i] = r
	return nil
}

func (f *FakeRemote) Delete(ctx context.Context, collection, id string) error {
	if err := f.begin(ctx, Call{Op: "delete", Collection: collection, ID: id}); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.indexLocked(collection, id)
	if i < 0 {
		return remote.Rejected("delete", collection, id, remote.CodeNotFound, "record not found")
	}
	f.collections[collection] = slices.Delete(f.collections[collection], i, i+1)
	return nil
}

// begin records the call and applies hooks and injected failures.
func (f *FakeRemote) begin(ctx context.Context, call Call) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	unreachable := f.unreachable
	var injected error
	for i, fl := range f.failures {
		if fl.op == call.Op && (fl.collection == "" || fl.collection == call.Collection) && (fl.id == "" || fl.id == call.ID) {
			injected = fl.err
			f.failures = slices.Delete(f.failures, i, i+1)
			break
		}
	}
	hook := f.Hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return remote.Unreachable(call.Op, call.Collection, call.ID, err)
	}
	if unreachable {
		return remote.Unreachable(call.Op, call.Collection, call.ID, errors.New("connection refused"))
	}
	return injected
}

func (f *FakeRemote) indexLocked(collection, id string) int {
	return slices.IndexFunc(f.collections[collection], func(r remote.Record) bool { return r.ID() == id })
}
