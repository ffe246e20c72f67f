// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package syncx provides type-safe concurrent collections.
package syncx

import (
	"sync"
)

// Map is a type-safe wrapper around sync.Map for general use.
type Map[K comparable, V any] struct {
	m sync.Map
}

// Load returns the value stored in the map for a key, or the zero value if no
// value is present. The ok result indicates whether value was found in the map.
func (m *Map[K, V]) Load(key K) (value V, ok bool) {
	v, ok := m.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Store sets the value for a key.
func (m *Map[K, V]) Store(key K, value V) {
	m.m.Store(key, value)
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (m *Map[K, V]) LoadOrStore(key K, value V) (actual V, loaded bool) {
	a, loaded := m.m.LoadOrStore(key, value)
	return a.(V), loaded
}

// Range calls f sequentially for each key and value present in the map.
// If f returns false, range stops the iteration.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(key, value any) bool {
		return f(key.(K), value.(V))
	})
}

// Len counts the entries currently in the map.
func (m *Map[K, V]) Len() int {
	var n int
	m.m.Range(func(any, any) bool { n++; return true })
	return n
}

// Set is a concurrent set of comparable values.
type Set[K comparable] struct {
	m sync.Map
}

// Add inserts key into the set.
func (s *Set[K]) Add(key K) {
	s.m.Store(key, struct{}{})
}

// Has reports whether key is in the set.
func (s *Set[K]) Has(key K) bool {
	_, ok := s.m.Load(key)
	return ok
}

// Range calls f for each member until f returns false.
func (s *Set[K]) Range(f func(key K) bool) {
	s.m.Range(func(key, _ any) bool {
		return f(key.(K))
	})
}

// Len counts the members currently in the set.
func (s *Set[K]) Len() int {
	var n int
	s.m.Range(func(any, any) bool { n++; return true })
	return n
}

// MultiMap is a concurrent multimap preserving per-key insertion order.
type MultiMap[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K][]V
}

// Add appends value to the list for key.
func (m *MultiMap[K, V]) Add(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.m == nil {
		m.m = make(map[K][]V)
	}
	m.m[key] = append(m.m[key], value)
}

// Get returns the values recorded for key, in insertion order.
func (m *MultiMap[K, V]) Get(key K) []V {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]V(nil), m.m[key]...)
}

// Range calls f for each key and its values until f returns false.
func (m *MultiMap[K, V]) Range(f func(key K, values []V) bool) {
	m.mu.Lock()
	snapshot := make(map[K][]V, len(m.m))
	for k, vs := range m.m {
		snapshot[k] = append([]V(nil), vs...)
	}
	m.mu.Unlock()
	for k, vs := range snapshot {
		if !f(k, vs) {
			return
		}
	}
}

// Len counts the keys currently in the multimap.
func (m *MultiMap[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}
