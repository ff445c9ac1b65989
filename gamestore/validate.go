// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package gamestore

import (
	"fmt"
	"slices"

	"github.com/mobiletoly/go-overbox/remote"
)

// CollectionRule describes what a collection accepts.
type CollectionRule struct {
	Required []string // fields that must be non-empty strings on create
}

// DefaultCollections returns the collections served by the reference server.
func DefaultCollections() map[string]CollectionRule {
	return map[string]CollectionRule{
		"games":   {Required: []string{"date"}},
		"players": {Required: []string{"name"}},
		"moves":   {Required: []string{"game_id"}},
	}
}

// ValidationError reports a record the server refuses to store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func validateCreate(rule CollectionRule, rec remote.Record) error {
	for _, field := range rule.Required {
		if !nonEmptyString(rec[field]) {
			return &ValidationError{Field: field, Reason: "is required"}
		}
	}
	return nil
}

// validatePatch rejects patches that would blank a required field.
func validatePatch(rule CollectionRule, patch remote.Record) error {
	if len(patch.WirePayload()) == 0 {
		return &ValidationError{Reason: "patch is empty"}
	}
	for field, v := range patch {
		if slices.Contains(rule.Required, field) && !nonEmptyString(v) {
			return &ValidationError{Field: field, Reason: "must not be empty"}
		}
	}
	return nil
}

func nonEmptyString(v any) bool {
	s, ok := v.(string)
	return ok && s != ""
}
