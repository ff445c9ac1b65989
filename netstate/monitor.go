// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package netstate tracks whether the remote store is reachable.
//
// A Monitor reads its Source once at construction, then follows the source's
// transitions. Subscribers are called only on edges (offline->online and
// online->offline), never for repeated values.
package netstate

import (
	"sync"
)

// Source is a platform connectivity signal.
type Source interface {
	// Online returns the current connectivity value.
	Online() bool
	// Watch registers fn for connectivity changes and returns a cancel function.
	Watch(fn func(online bool)) (cancel func())
}

// Monitor is the process-wide holder of the current network state.
type Monitor struct {
	mu      sync.Mutex
	online  bool
	subs    map[int]func(bool)
	nextSub int
	cancel  func()
	closed  bool
}

// NewMonitor initializes the monitor from src and follows its transitions.
// A nil src yields a monitor that starts online and changes only through Set.
func NewMonitor(src Source) *Monitor {
	m := &Monitor{
		online: true,
		subs:   make(map[int]func(bool)),
	}
	if src != nil {
		m.online = src.Online()
		m.cancel = src.Watch(m.Set)
	}
	return m
}

// IsOnline returns the current network state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records a connectivity value and notifies subscribers on a transition.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	if m.closed || m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(online)
	}
}

// Subscribe registers fn for edge transitions and returns an unsubscribe function.
func (m *Monitor) Subscribe(fn func(online bool)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Close stops following the source and drops all subscribers.
func (m *Monitor) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	cancel := m.cancel
	m.subs = make(map[int]func(bool))
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
