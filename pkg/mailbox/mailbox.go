// Package mailbox keeps the latest frame of every subscribed identifier.
// The receive interrupt delivers into it and the main loop reads from it;
// a burst of frames with one identifier collapses to the newest.
package mailbox

import (
	"slices"
	"sync/atomic"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/pkg/buffer"
)

// Key identifies a slot. Extended identifiers carry bit 31 so they never
// collide with a standard identifier of the same value.
type Key uint32

const extendedKey = 1 << 31

func StdKey(id uint32) Key {
	return Key(id & canfw.StandardIDMask)
}

func ExtKey(id uint32) Key {
	return Key(id&canfw.ExtendedIDMask | extendedKey)
}

func KeyOf(f canfw.Frame) Key {
	if f.Extended() {
		return ExtKey(f.ID())
	}
	return StdKey(f.ID())
}

func (k Key) ID() uint32 {
	return uint32(k) &^ extendedKey
}

func (k Key) Extended() bool {
	return k&extendedKey != 0
}

// Table maps a fixed set of keys to latest-value slots. The key set is
// fixed at construction so lookups need no locking.
type Table struct {
	keys      []Key
	slots     []*buffer.Triple[canfw.Frame]
	unmatched atomic.Uint32
}

// New builds a table for keys. Duplicates are ignored.
func New(keys ...Key) *Table {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	t := &Table{
		keys:  sorted,
		slots: make([]*buffer.Triple[canfw.Frame], len(sorted)),
	}
	for i := range t.slots {
		t.slots[i] = buffer.NewTriple(canfw.Frame{})
	}
	return t
}

// NewStandard builds a table for standard identifiers.
func NewStandard(ids ...uint32) *Table {
	keys := make([]Key, len(ids))
	for i, id := range ids {
		keys[i] = StdKey(id)
	}
	return New(keys...)
}

func (t *Table) slot(k Key) *buffer.Triple[canfw.Frame] {
	i, ok := slices.BinarySearch(t.keys, k)
	if !ok {
		return nil
	}
	return t.slots[i]
}

// Keys returns the subscribed keys in ascending order.
func (t *Table) Keys() []Key {
	return slices.Clone(t.keys)
}

// IDs returns the standard identifiers of the table, for filter setup.
func (t *Table) IDs(extended bool) []uint32 {
	var out []uint32
	for _, k := range t.keys {
		if k.Extended() == extended {
			out = append(out, k.ID())
		}
	}
	return out
}

// Deliver stores f in its slot. Frames with no slot are counted and
// discarded.
func (t *Table) Deliver(f canfw.Frame) {
	s := t.slot(KeyOf(f))
	if s == nil {
		t.unmatched.Add(1)
		return
	}
	s.Push(f)
}

// Latest returns the newest frame for k if one arrived since the last
// call.
func (t *Table) Latest(k Key) (canfw.Frame, bool) {
	s := t.slot(k)
	if s == nil || !s.Pop() {
		return canfw.Frame{}, false
	}
	return s.Read(), true
}

// Last returns the frame most recently taken from k's slot, fresh or not.
func (t *Table) Last(k Key) canfw.Frame {
	if s := t.slot(k); s != nil {
		return s.Read()
	}
	return canfw.Frame{}
}

// Drain calls fn with the fresh frame of every slot that has one, in key
// order, and returns how many there were.
func (t *Table) Drain(fn func(canfw.Frame)) int {
	n := 0
	for _, s := range t.slots {
		if s.Pop() {
			fn(s.Read())
			n++
		}
	}
	return n
}

// Unmatched counts delivered frames that had no slot.
func (t *Table) Unmatched() uint32 {
	return t.unmatched.Load()
}
