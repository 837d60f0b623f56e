// Package weakmap provides a map keyed by object identity that does not keep
// its keys alive. Entries disappear once the key is garbage collected.
package weakmap

import (
	"runtime"
	"sync"
	"weak"
)

// Map associates values with *K without retaining the K. Safe for
// concurrent use; cleanup runs on a runtime goroutine.
type Map[K any, V any] struct {
	mu sync.Mutex
	m  map[weak.Pointer[K]]V
	// reg holds keys with a cleanup attached. It outlives Delete and Clear
	// so a key that is re-added does not stack cleanups.
	reg map[weak.Pointer[K]]struct{}
}

// Load returns the value stored for k.
func (m *Map[K, V]) Load(k *K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.m[weak.Make(k)]
	return v, ok
}

// Store sets the value for k.
func (m *Map[K, V]) Store(k *K, v V) {
	wp := weak.Make(k)
	m.mu.Lock()
	m.init()
	m.m[wp] = v
	register := m.track(wp)
	m.mu.Unlock()

	if register {
		runtime.AddCleanup(k, m.evict, wp)
	}
}

// Update replaces the value for k with fn(current, present). It is atomic
// with respect to other Map operations.
func (m *Map[K, V]) Update(k *K, fn func(v V, ok bool) V) {
	wp := weak.Make(k)
	m.mu.Lock()
	m.init()
	cur, existed := m.m[wp]
	m.m[wp] = fn(cur, existed)
	register := m.track(wp)
	m.mu.Unlock()

	if register {
		runtime.AddCleanup(k, m.evict, wp)
	}
}

func (m *Map[K, V]) init() {
	if m.m == nil {
		m.m = make(map[weak.Pointer[K]]V)
		m.reg = make(map[weak.Pointer[K]]struct{})
	}
}

// track records wp and reports whether it needs a cleanup. Caller holds mu.
func (m *Map[K, V]) track(wp weak.Pointer[K]) bool {
	if _, ok := m.reg[wp]; ok {
		return false
	}
	m.reg[wp] = struct{}{}
	return true
}

// Delete removes k.
func (m *Map[K, V]) Delete(k *K) {
	m.mu.Lock()
	delete(m.m, weak.Make(k))
	m.mu.Unlock()
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.m)
}

// Clear drops every entry.
func (m *Map[K, V]) Clear() {
	m.mu.Lock()
	clear(m.m)
	m.mu.Unlock()
}

func (m *Map[K, V]) evict(wp weak.Pointer[K]) {
	m.mu.Lock()
	delete(m.m, wp)
	delete(m.reg, wp)
	m.mu.Unlock()
}

// Set is a weak set of *K.
type Set[K any] struct {
	m Map[K, struct{}]
}

// Add inserts k.
func (s *Set[K]) Add(k *K) { s.m.Store(k, struct{}{}) }

// Has reports whether k is present.
func (s *Set[K]) Has(k *K) bool {
	_, ok := s.m.Load(k)
	return ok
}

// Remove deletes k.
func (s *Set[K]) Remove(k *K) { s.m.Delete(k) }

// Len returns the number of live members.
func (s *Set[K]) Len() int { return s.m.Len() }

// Clear empties the set.
func (s *Set[K]) Clear() { s.m.Clear() }
