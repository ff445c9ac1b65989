// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package kvstore is the durable key-value boundary used by overbox to persist
// the query cache and the outbox across restarts.
//
// Every store is scoped to a single namespace. Clear removes exactly the keys
// of that namespace and nothing else, which is what the "clear offline data"
// operation relies on.
//
// Three implementations are provided:
//   - SQLiteStore: a single table in a SQLite database (WAL, busy timeout)
//   - MemoryStore: process memory only, used by tests and as a degraded mode
//   - Fallback: wraps a durable store and switches to memory for the rest of
//     the session once the durable store reports ErrStorageUnavailable
package kvstore
