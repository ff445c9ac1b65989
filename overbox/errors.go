// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

import "errors"

var (
	// ErrEntityDeleted is returned for any operation on an entity that already
	// has a pending local delete. Callers must not offer edits on such records.
	ErrEntityDeleted = errors.New("overbox: entity has a pending delete")
	// ErrInvalidOperation reports an operation that cannot be applied, such as
	// a second create for the same id or an update without an id.
	ErrInvalidOperation = errors.New("overbox: invalid operation")
	// ErrFlushInProgress is returned when a flush is requested while one runs.
	ErrFlushInProgress = errors.New("overbox: flush already in progress")
	// ErrOffline is returned by a manual sync while the network is offline.
	ErrOffline = errors.New("overbox: network offline")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("overbox: client closed")
)
