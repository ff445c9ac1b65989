// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

import (
	"strings"

	"github.com/google/uuid"
)

// LocalIDPrefix marks client-generated identifiers.
const LocalIDPrefix = "local-"

// NewLocalID returns a fresh placeholder id for a record created offline.
func NewLocalID() string {
	return LocalIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was generated by NewLocalID.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// isGeneratedLocalID reports whether id has the exact shape NewLocalID
// produces, as opposed to user data that merely starts with the prefix.
func isGeneratedLocalID(id string) bool {
	rest, ok := strings.CutPrefix(id, LocalIDPrefix)
	if !ok || len(rest) != 36 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
