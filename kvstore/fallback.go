// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Fallback routes operations to a durable store until it reports
// ErrStorageUnavailable, then serves the rest of the session from memory.
// Values written before the switch are not copied; callers hold their own
// in-memory state and only use the store for persistence.
type Fallback struct {
	primary  Store
	memory   *MemoryStore
	degraded atomic.Bool
	logger   *slog.Logger
}

// NewFallback wraps primary. A nil primary starts in memory-only mode.
func NewFallback(primary Store, namespace string, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	if primary != nil {
		namespace = primary.Namespace()
	}
	f := &Fallback{
		primary: primary,
		memory:  NewMemoryStore(namespace),
		logger:  logger,
	}
	if primary == nil {
		f.degraded.Store(true)
	}
	return f
}

// OpenDurable opens a SQLite store at path wrapped in a Fallback. When the
// database cannot be opened the error is logged and a memory-only store is
// returned, so callers keep working without persistence.
func OpenDurable(path, namespace string, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	s, err := Open(path, namespace)
	if err != nil {
		logger.Warn("durable storage unavailable, continuing in memory only", "path", path, "error", err)
		return NewFallback(nil, namespace, logger)
	}
	return NewFallback(s, namespace, logger)
}

// Degraded reports whether the store has switched to memory-only operation.
func (f *Fallback) Degraded() bool { return f.degraded.Load() }

func (f *Fallback) Namespace() string { return f.memory.Namespace() }

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if !f.degraded.Load() {
		v, ok, err := f.primary.Get(ctx, key)
		if !f.degrade(err) {
			return v, ok, err
		}
	}
	return f.memory.Get(ctx, key)
}

func (f *Fallback) Set(ctx context.Context, key string, value []byte) error {
	if !f.degraded.Load() {
		if err := f.primary.Set(ctx, key, value); !f.degrade(err) {
			return err
		}
	}
	return f.memory.Set(ctx, key, value)
}

func (f *Fallback) Delete(ctx context.Context, key string) error {
	if !f.degraded.Load() {
		if err := f.primary.Delete(ctx, key); !f.degrade(err) {
			return err
		}
	}
	return f.memory.Delete(ctx, key)
}

func (f *Fallback) Clear(ctx context.Context) error {
	if !f.degraded.Load() {
		if err := f.primary.Clear(ctx); !f.degrade(err) {
			return err
		}
	}
	return f.memory.Clear(ctx)
}

// Close closes the durable store when it supports closing.
func (f *Fallback) Close() error {
	if c, ok := f.primary.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// degrade switches to memory mode when err signals unavailable storage.
// It returns true when the caller should retry against memory.
func (f *Fallback) degrade(err error) bool {
	if err == nil || !IsUnavailable(err) {
		return false
	}
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("durable storage failed, continuing in memory only",
			"namespace", f.Namespace(), "error", err)
	}
	return true
}
