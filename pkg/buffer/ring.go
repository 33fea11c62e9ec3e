package buffer

import "sync/atomic"

// Ring is a bounded FIFO with one slot reserved to tell full from empty,
// so a ring of size n holds n-1 elements. front is written only by the
// producer and back only by the consumer.
//
//	// main loop
//	if ring.Push(v) {
//		// full, v was not stored
//	}
//
//	// interrupt
//	if ring.Peek() {
//		if send(ring.Read()) {
//			ring.Pop()
//		}
//	}
type Ring[T any] struct {
	items  []T
	front  atomic.Uint32
	back   atomic.Uint32
	staged T // consumer only
}

// NewRing allocates a ring of size slots. size must be at least 2.
func NewRing[T any](size int) *Ring[T] {
	if size < 2 {
		panic("buffer: ring size must be at least 2")
	}
	return &Ring[T]{items: make([]T, size)}
}

func (r *Ring[T]) next(i uint32) uint32 {
	i++
	if i == uint32(len(r.items)) {
		return 0
	}
	return i
}

// Push appends v. It returns true when the ring is full, in which case v
// was not stored and the queued elements are untouched.
func (r *Ring[T]) Push(v T) bool {
	f := r.front.Load()
	// slot f is outside [back, front) so the consumer never reads it here
	r.items[f] = v
	nf := r.next(f)
	if nf == r.back.Load() {
		return true
	}
	r.front.Store(nf)
	return false
}

// Pop removes the oldest element and stages it for Read. It reports
// false when the ring is empty.
func (r *Ring[T]) Pop() bool {
	b := r.back.Load()
	if b == r.front.Load() {
		return false
	}
	r.staged = r.items[b]
	r.back.Store(r.next(b))
	return true
}

// Peek stages the oldest element for Read without removing it.
func (r *Ring[T]) Peek() bool {
	b := r.back.Load()
	if b == r.front.Load() {
		return false
	}
	r.staged = r.items[b]
	return true
}

// Read returns the element staged by the last successful Pop or Peek.
func (r *Ring[T]) Read() T {
	return r.staged
}

// Len is the number of queued elements. It is a snapshot when called
// concurrently with the other side.
func (r *Ring[T]) Len() int {
	f, b := int(r.front.Load()), int(r.back.Load())
	if f >= b {
		return f - b
	}
	return len(r.items) - b + f
}

// Cap is the number of usable slots.
func (r *Ring[T]) Cap() int {
	return len(r.items) - 1
}
