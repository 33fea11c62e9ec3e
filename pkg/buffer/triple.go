// Package buffer provides the two containers used to hand data between
// interrupt handlers and the main loop: a latest-value triple buffer and
// a bounded ring. Both are strictly single-producer/single-consumer and
// never allocate after construction.
package buffer

import "sync/atomic"

const (
	slotIndexMask = 0x3
	slotFresh     = 0x4
)

// Triple is a lock-free triple buffer. The producer always writes, the
// consumer always gets the newest complete value; intermediate values are
// dropped.
//
//	// interrupt
//	slot.Push(v)
//
//	// main loop
//	if slot.Pop() {
//		v := slot.Read()
//	}
//
// The producing and consuming cells are private to their side. The
// transfer index and the fresh flag share one atomic word so that each
// side swaps roles with a single exchange; cell contents never move.
type Triple[T any] struct {
	cells     [3]T
	producing uint32        // producer only
	consuming uint32        // consumer only
	transfer  atomic.Uint32 // index | slotFresh
}

// NewTriple returns a buffer whose three cells hold init.
func NewTriple[T any](init T) *Triple[T] {
	b := &Triple[T]{
		cells:     [3]T{init, init, init},
		consuming: 0,
		producing: 2,
	}
	b.transfer.Store(1)
	return b
}

// Push publishes v. It never blocks and never fails.
func (b *Triple[T]) Push(v T) bool {
	b.cells[b.producing] = v
	old := b.transfer.Swap(b.producing | slotFresh)
	b.producing = old & slotIndexMask
	return true
}

// Pop makes the newest pushed value readable. It reports false, leaving
// Read unchanged, when nothing was pushed since the last successful Pop.
func (b *Triple[T]) Pop() bool {
	if b.transfer.Load()&slotFresh == 0 {
		return false
	}
	old := b.transfer.Swap(b.consuming)
	b.consuming = old & slotIndexMask
	return true
}

// Read returns the value delivered by the most recent successful Pop.
func (b *Triple[T]) Read() T {
	return b.cells[b.consuming]
}

// Stale reports whether there is nothing new to Pop.
func (b *Triple[T]) Stale() bool {
	return b.transfer.Load()&slotFresh == 0
}
