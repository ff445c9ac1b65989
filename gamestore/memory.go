// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gamestore

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/mobiletoly/go-overbox/remote"
)

type bucketKey struct {
	owner      string
	collection string
}

// MemoryRepository keeps records in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	buckets map[bucketKey][]remote.Record
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{buckets: make(map[bucketKey][]remote.Record)}
}

func (m *MemoryRepository) List(_ context.Context, owner, collection string) ([]remote.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	items := m.buckets[bucketKey{owner, collection}]
	out := make([]remote.Record, 0, len(items))
	for _, r := range items {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *MemoryRepository) Create(_ context.Context, owner, collection string, rec remote.Record) (string, error) {
	id := uuid.NewString()
	stored := rec.WirePayload()
	stored[remote.FieldID] = id

	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey{owner, collection}
	m.buckets[key] = append(m.buckets[key], stored)
	return id, nil
}

func (m *MemoryRepository) Update(_ context.Context, owner, collection, id string, patch remote.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey{owner, collection}
	i := m.indexLocked(key, id)
	if i < 0 {
		return ErrNotFound
	}
	updated := m.buckets[key][i].Clone()
	for k, v := range patch.WirePayload() {
		updated[k] = v
	}
	m.buckets[key][i] = updated
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, owner, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := bucketKey{owner, collection}
	i := m.indexLocked(key, id)
	if i < 0 {
		return ErrNotFound
	}
	m.buckets[key] = slices.Delete(m.buckets[key], i, i+1)
	return nil
}

func (m *MemoryRepository) Close() {}

func (m *MemoryRepository) indexLocked(key bucketKey, id string) int {
	return slices.IndexFunc(m.buckets[key], func(r remote.Record) bool { return r.ID() == id })
}
