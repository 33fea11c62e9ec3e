// Package hw holds the register cell used to model memory mapped
// peripheral blocks. Every access is a single atomic load or store so a
// register block can be shared between a driver and the silicon behind it.
package hw

import "sync/atomic"

// Reg32 is one 32-bit peripheral register.
type Reg32 struct {
	v  atomic.Uint32
	w1 atomic.Uint32
}

func (r *Reg32) Get() uint32 {
	return r.v.Load()
}

func (r *Reg32) Set(v uint32) {
	r.v.Store(v)
}

// SetBits ORs mask into the register.
func (r *Reg32) SetBits(mask uint32) {
	for {
		old := r.v.Load()
		if r.v.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// ClearBits clears every bit of mask.
func (r *Reg32) ClearBits(mask uint32) {
	for {
		old := r.v.Load()
		if r.v.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

// Write1 stores mask to a register whose flags are write 1 to clear or
// write 1 to trigger. Bits written as zero have no effect. The ones are
// latched for the silicon behind the register, which applies them.
func (r *Reg32) Write1(mask uint32) {
	for {
		old := r.w1.Load()
		if r.w1.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// TakeWritten returns the ones stored through Write1 since the last call
// and resets the latch.
func (r *Reg32) TakeWritten() uint32 {
	return r.w1.Swap(0)
}

// HasBits reports whether any bit of mask is set.
func (r *Reg32) HasBits(mask uint32) bool {
	return r.v.Load()&mask != 0
}

// ReplaceBits writes value into the field selected by mask at pos.
func (r *Reg32) ReplaceBits(value, mask uint32, pos uint8) {
	for {
		old := r.v.Load()
		nv := old&^(mask<<pos) | (value&mask)<<pos
		if r.v.CompareAndSwap(old, nv) {
			return
		}
	}
}

// Field extracts the field selected by mask at pos.
func (r *Reg32) Field(mask uint32, pos uint8) uint32 {
	return (r.v.Load() >> pos) & mask
}

// WaitFor spins until ready reports true or spins iterations have passed.
// poll, when set, is called on every iteration; the simulator uses it to
// clock the silicon model while a driver waits on a handshake bit.
func WaitFor(ready func() bool, spins int, poll func()) bool {
	for i := 0; i < spins; i++ {
		if ready() {
			return true
		}
		if poll != nil {
			poll()
		}
	}
	return ready()
}
