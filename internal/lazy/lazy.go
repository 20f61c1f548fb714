// Package lazy provides a deferred, memoized value loader.
package lazy

import "sync"

// Loader computes a value of type T once on first use and caches it.
// A failed load is not cached, so the next Get retries.
type Loader[T any] struct {
	mu     sync.Mutex
	load   func() (T, error)
	value  T
	loaded bool
}

// New creates a Loader backed by the given load function.
func New[T any](load func() (T, error)) *Loader[T] {
	return &Loader[T]{load: load}
}

// Get returns the cached value, loading it on first call.
func (l *Loader[T]) Get() (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.loaded {
		return l.value, nil
	}

	v, err := l.load()
	if err != nil {
		var zero T
		return zero, err
	}

	l.value = v
	l.loaded = true
	return v, nil
}

// Loaded reports whether the value has been computed.
func (l *Loader[T]) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loaded
}

// Invalidate discards the cached value so the next Get reloads it.
func (l *Loader[T]) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	l.value = zero
	l.loaded = false
}
