// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gamestore

import (
	"context"
	"errors"

	"github.com/mobiletoly/go-overbox/remote"
)

// ErrNotFound is returned when a record does not exist for the owner.
var ErrNotFound = errors.New("gamestore: record not found")

// Repository stores records per owner and collection. List returns records
// in creation order with their id under remote.FieldID.
type Repository interface {
	List(ctx context.Context, owner, collection string) ([]remote.Record, error)
	Create(ctx context.Context, owner, collection string, rec remote.Record) (string, error)
	// Update shallow-merges patch into the stored record.
	Update(ctx context.Context, owner, collection, id string, patch remote.Record) error
	Delete(ctx context.Context, owner, collection, id string) error
	Close()
}
