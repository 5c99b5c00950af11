// Package maputil holds small map helpers shared across the gate.
package maputil

import "sync"

// Clone returns a shallow copy of items. The copy is always non-nil and safe
// to mutate without affecting the original.
func Clone[K comparable, V any](items map[K]V) map[K]V {
	cloned := make(map[K]V, len(items))
	for key, value := range items {
		cloned[key] = value
	}
	return cloned
}

// Pop removes key from items under lock and returns the previous value if
// present.
func Pop[K comparable, V any](mu *sync.Mutex, items map[K]V, key K) (V, bool) {
	mu.Lock()
	defer mu.Unlock()

	value, ok := items[key]
	if ok {
		delete(items, key)
	}
	return value, ok
}
