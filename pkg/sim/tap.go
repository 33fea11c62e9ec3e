package sim

import (
	"sync"
	"sync/atomic"

	"github.com/roffe/canfw"
)

// Tap is a host side bus participant without a register model: frames
// queued with Send go out in order and everything on the wire is handed
// to the receive callback. Gateways, traffic generators and tests use it.
type Tap struct {
	name string
	vec  vectors

	mu    sync.Mutex
	queue []canfw.Frame

	recv atomic.Pointer[func(canfw.Frame)]
}

func NewTap(name string) *Tap {
	return &Tap{name: name}
}

func (t *Tap) Name() string {
	return t.name
}

// Send queues f for transmission.
func (t *Tap) Send(f canfw.Frame) {
	t.mu.Lock()
	t.queue = append(t.queue, f)
	t.mu.Unlock()
}

// Pending is the number of queued frames.
func (t *Tap) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// OnReceive sets the callback for frames seen on the bus. It runs on the
// stepping goroutine and must not block.
func (t *Tap) OnReceive(fn func(canfw.Frame)) {
	t.recv.Store(&fn)
}

func (t *Tap) Sync() {}

func (t *Tap) arbitrate() (uint64, canfw.Frame, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return 0, canfw.Frame{}, false
	}
	return arbitrationKey(t.queue[0]), t.queue[0], true
}

func (t *Tap) transmitted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) > 0 {
		t.queue = t.queue[1:]
	}
}

func (t *Tap) deliver(f canfw.Frame, _ uint32) {
	if fn := t.recv.Load(); fn != nil {
		(*fn)(f)
	}
}

func (t *Tap) tick(*Options) {}

func (t *Tap) pendingIRQ() (bool, bool) {
	return false, false
}

func (t *Tap) vectors() *vectors {
	return &t.vec
}
