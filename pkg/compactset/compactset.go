// Package compactset implements an ordered set as a growable array paired
// with a reverse index. Membership, append, and removal are all O(1);
// removal swaps the last live element into the freed slot and truncates, so
// the array never has gaps.
//
// The same structure backs per-identity address sets, community member sets,
// and the replication target table.
package compactset

// Set holds values of type V keyed by K. The key function must be stable for
// a given value; two values with the same key are considered the same
// element.
type Set[K comparable, V any] struct {
	keyOf func(V) K
	items []V
	index map[K]int
}

// New builds an empty set using keyOf to derive each element's key.
func New[K comparable, V any](keyOf func(V) K) *Set[K, V] {
	return &Set[K, V]{
		keyOf: keyOf,
		index: make(map[K]int),
	}
}

// Add appends v unless an element with the same key is already present.
// Reports whether the set changed.
func (s *Set[K, V]) Add(v V) bool {
	k := s.keyOf(v)
	if _, ok := s.index[k]; ok {
		return false
	}
	s.index[k] = len(s.items)
	s.items = append(s.items, v)
	return true
}

// Remove deletes the element keyed by k, moving the last element into the
// freed slot unless k keyed the last element. Returns the removed value and
// whether it was present.
func (s *Set[K, V]) Remove(k K) (V, bool) {
	var zero V
	i, ok := s.index[k]
	if !ok {
		return zero, false
	}
	removed := s.items[i]
	last := len(s.items) - 1
	if i != last {
		moved := s.items[last]
		s.items[i] = moved
		s.index[s.keyOf(moved)] = i
	}
	s.items[last] = zero
	s.items = s.items[:last]
	delete(s.index, k)
	return removed, true
}

// Contains reports membership by key.
func (s *Set[K, V]) Contains(k K) bool {
	_, ok := s.index[k]
	return ok
}

// Get returns the element keyed by k.
func (s *Set[K, V]) Get(k K) (V, bool) {
	i, ok := s.index[k]
	if !ok {
		var zero V
		return zero, false
	}
	return s.items[i], true
}

// Len returns the live element count.
func (s *Set[K, V]) Len() int {
	return len(s.items)
}

// At returns the element at position i. Positions are stable only until the
// next Remove.
func (s *Set[K, V]) At(i int) V {
	return s.items[i]
}

// Values returns a copy of the live elements in storage order.
func (s *Set[K, V]) Values() []V {
	out := make([]V, len(s.items))
	copy(out, s.items)
	return out
}
