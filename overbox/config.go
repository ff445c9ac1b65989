// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

import (
	"log/slog"
	"time"

	"github.com/mobiletoly/go-overbox/remote"
)

// Record is a JSON object entity. See remote.Record.
type Record = remote.Record

// Record fields interpreted by the client.
const (
	FieldID      = remote.FieldID
	FieldPending = remote.FieldPending
)

// Clock supplies timestamps. Tests substitute a fake clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Config holds configuration for the offline client
type Config struct {
	CacheMaxAge time.Duration // persisted cache snapshots older than this are discarded on restore
	StaleTime   time.Duration // cached collections younger than this are served without a fetch
	AutoFlush   bool          // flush the outbox on every offline->online edge
	FlushOnOpen bool          // flush at Open when online and the outbox is not empty
	Logger      *slog.Logger
	Clock       Clock
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *Config {
	return &Config{
		CacheMaxAge: 24 * time.Hour,
		StaleTime:   5 * time.Minute,
		AutoFlush:   true,
		FlushOnOpen: true,
		Logger:      slog.Default(),
		Clock:       systemClock{},
	}
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.CacheMaxAge <= 0 {
		out.CacheMaxAge = 24 * time.Hour
	}
	if out.StaleTime < 0 {
		out.StaleTime = 0
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Clock == nil {
		out.Clock = systemClock{}
	}
	return &out
}
