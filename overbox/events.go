// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package overbox

import (
	"log/slog"
	"sync"
)

// EventType names a client notification.
type EventType string

const (
	EventOutboxChanged  EventType = "outbox.changed"
	EventIDRemapped     EventType = "entity.remapped"
	EventConflict       EventType = "sync.conflict"
	EventFlushStarted   EventType = "sync.started"
	EventFlushCompleted EventType = "sync.completed"
	EventNetworkChanged EventType = "network.changed"
	EventCacheUpdated   EventType = "cache.updated"
	EventDataCleared    EventType = "data.cleared"
)

// Event is delivered to Client subscribers. Only the fields relevant to Type are set.
type Event struct {
	Type       EventType
	Collection string
	EntityID   string       // LocalID for EventIDRemapped
	ServerID   string       // EventIDRemapped
	Online     bool         // EventNetworkChanged
	Pending    int          // EventOutboxChanged: entries left in the outbox
	Conflict   *Conflict    // EventConflict
	Report     *FlushReport // EventFlushCompleted
}

// listeners is a set of callbacks keyed by subscription id.
type listeners[T any] struct {
	mu   sync.RWMutex
	next int
	fns  map[int]func(T)
}

func (l *listeners[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.RLock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("subscriber panicked", "panic", r)
				}
			}()
			fn(v)
		}()
	}
}

func (l *listeners[T]) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = nil
}
