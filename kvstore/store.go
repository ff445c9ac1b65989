// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package kvstore

import (
	"context"
	"errors"
)

// DefaultNamespace is the namespace used when none is configured.
const DefaultNamespace = "overbox"

// ErrStorageUnavailable reports that the underlying storage primitive cannot
// be read or written (missing file permissions, disabled storage, closed db).
var ErrStorageUnavailable = errors.New("kvstore: storage unavailable")

// Store is a namespaced asynchronous key-value store.
// Get reports found=false for a missing key without an error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Clear removes every key in the store's namespace.
	Clear(ctx context.Context) error
	Namespace() string
}

// IsUnavailable reports whether err was caused by inaccessible storage.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
