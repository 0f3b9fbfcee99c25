package internal

// Ring is a fixed-capacity ordered buffer. Appending beyond capacity
// evicts the oldest element. Not safe for concurrent use; callers hold
// their own lock.
type Ring[T any] struct {
	buf   []T
	head  int
	count int
}

// NewRing creates a ring holding at most capacity elements.
// Capacity must be positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		buf: make([]T, capacity),
	}
}

// Append adds v, evicting the oldest element if the ring is full.
func (r *Ring[T]) Append(v T) {
	tail := (r.head + r.count) % len(r.buf)
	r.buf[tail] = v
	if r.count < len(r.buf) {
		r.count++
		return
	}
	r.head = (r.head + 1) % len(r.buf)
}

// Len returns the number of elements currently held.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the ring's fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Latest returns the most recently appended element.
// The boolean is false if the ring is empty.
func (r *Ring[T]) Latest() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.count-1)%len(r.buf)], true
}

// Snapshot returns the held elements oldest-first in a fresh slice.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, r.count)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
