// Package registry provides a dense, lock-guarded key/value store used to
// track live client connections.
//
// Values are kept in a contiguous slice so snapshots for broadcast are a
// single copy, while a key index and a parallel key slice keep lookup and
// removal O(1).
package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateKey is returned by Insert when the key is already present.
	ErrDuplicateKey = errors.New("registry: duplicate key")

	// ErrInconsistent reports that the index and the dense slices disagree.
	ErrInconsistent = errors.New("registry: inconsistent index")
)

// Registry maps keys to values. It is safe for concurrent use.
type Registry[K comparable, V any] struct {
	mu     sync.Mutex
	values []V
	keys   []K // keys[i] owns values[i]
	index  map[K]int
}

// New creates an empty registry.
func New[K comparable, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		index: make(map[K]int),
	}
}

// Insert adds a record. An existing key is left untouched and
// ErrDuplicateKey is returned.
func (r *Registry[K, V]) Insert(key K, value V) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.index[key]; exists {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, key)
	}

	r.values = append(r.values, value)
	r.keys = append(r.keys, key)
	r.index[key] = len(r.values) - 1
	return nil
}

// Lookup returns the value stored under key.
func (r *Registry[K, V]) Lookup(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[key]
	if !ok {
		var zero V
		return zero, false
	}
	return r.values[i], true
}

// Remove deletes key and returns its value. Removing an absent key is a
// no-op.
//
// The last element is moved into the freed slot and its index entry is
// rewritten from the parallel key slice, so no scan is needed.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero V
	i, ok := r.index[key]
	if !ok {
		return zero, false
	}
	if i < 0 || i >= len(r.values) || r.keys[i] != key {
		panic(fmt.Errorf("%w: key %v maps to slot %d", ErrInconsistent, key, i))
	}

	removed := r.values[i]
	last := len(r.values) - 1
	if i != last {
		moved := r.keys[last]
		r.values[i] = r.values[last]
		r.keys[i] = moved
		r.index[moved] = i
	}

	r.values[last] = zero
	var zeroKey K
	r.keys[last] = zeroKey
	r.values = r.values[:last]
	r.keys = r.keys[:last]
	delete(r.index, key)

	return removed, true
}

// Values returns a snapshot of every stored value in dense order.
func (r *Registry[K, V]) Values() []V {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]V, len(r.values))
	copy(out, r.values)
	return out
}

// Keys returns a snapshot of every stored key, aligned with Values at the
// time of the call.
func (r *Registry[K, V]) Keys() []K {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]K, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of records.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.values)
}

// Check verifies that the key index and the dense slices describe the same
// set of records.
func (r *Registry[K, V]) Check() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.keys) != len(r.values) {
		return fmt.Errorf("%w: %d keys for %d values", ErrInconsistent, len(r.keys), len(r.values))
	}
	if len(r.index) != len(r.values) {
		return fmt.Errorf("%w: %d index entries for %d values", ErrInconsistent, len(r.index), len(r.values))
	}
	for key, i := range r.index {
		if i < 0 || i >= len(r.keys) {
			return fmt.Errorf("%w: key %v maps to slot %d out of range", ErrInconsistent, key, i)
		}
		if r.keys[i] != key {
			return fmt.Errorf("%w: slot %d owned by %v, index says %v", ErrInconsistent, i, r.keys[i], key)
		}
	}
	return nil
}
