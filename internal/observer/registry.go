// Package observer provides the ordered, synchronized listener list shared by the
// scene, objects and renderer.
package observer

import "sync"

// ID identifies a registration so it can be removed later.
type ID uint64

type entry[T any] struct {
	id ID
	fn T
}

// Registry keeps listeners in registration order. Notification iterates over a
// snapshot, so listeners may add or remove registrations while being notified.
// The zero value is ready to use.
type Registry[T any] struct {
	mu      sync.Mutex
	next    ID
	entries []entry[T]
}

// Add registers fn and returns its id.
func (r *Registry[T]) Add(fn T) ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.entries = append(r.entries, entry[T]{id: r.next, fn: fn})
	return r.next
}

// Remove drops the registration with the given id. Unknown ids are ignored.
func (r *Registry[T]) Remove(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			// copy-on-write keeps outstanding snapshots intact
			next := make([]entry[T], 0, len(r.entries)-1)
			next = append(next, r.entries[:i]...)
			r.entries = append(next, r.entries[i+1:]...)
			return
		}
	}
}

// Len returns the number of registrations.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Snapshot returns the registered listeners in order.
func (r *Registry[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.fn
	}
	return out
}

// Each calls notify for every listener of the current snapshot, without holding
// the registry lock.
func (r *Registry[T]) Each(notify func(T)) {
	for _, fn := range r.Snapshot() {
		notify(fn)
	}
}
