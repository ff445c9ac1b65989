// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package netstate

import "sync"

// ManualSource is a Source driven by explicit Set calls. Tests and the CLI
// (--offline) use it in place of a platform signal.
type ManualSource struct {
	mu       sync.Mutex
	online   bool
	watchers map[int]func(bool)
	next     int
}

// NewManualSource creates a source with the given initial value.
func NewManualSource(online bool) *ManualSource {
	return &ManualSource{online: online, watchers: make(map[int]func(bool))}
}

func (s *ManualSource) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *ManualSource) Watch(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// Set changes the value and forwards it to watchers.
func (s *ManualSource) Set(online bool) {
	s.mu.Lock()
	s.online = online
	watchers := make([]func(bool), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, fn := range watchers {
		fn(online)
	}
}
