// Package sim models CAN controllers and the bus between them so the
// drivers, channels and boards run unmodified on the host. A Bus is
// clocked by Step: every step lets the controllers observe register
// writes, arbitrates one frame onto the wire and raises the interrupts
// that are pending afterwards.
package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/pkg/irq"
)

// Options tune a Bus.
type Options struct {
	// StepInterval is the pause between steps in Run. Zero runs flat out.
	StepInterval time.Duration
	// RecoverySteps is how long a controller stays bus-off before
	// automatic recovery.
	RecoverySteps int
}

func DefaultOptions() Options {
	return Options{
		StepInterval:  50 * time.Microsecond,
		RecoverySteps: 128,
	}
}

// Node is a participant on a Bus.
type Node interface {
	Name() string
	// Sync lets the node react to register writes.
	Sync()

	arbitrate() (key uint64, f canfw.Frame, ok bool)
	transmitted()
	deliver(f canfw.Frame, tick uint32)
	tick(opts *Options)
	pendingIRQ() (tx, rx bool)
	vectors() *vectors
}

// vectors ties a node's interrupt outputs to handlers run through a
// controller.
type vectors struct {
	mu  sync.Mutex
	ctl *irq.Controller
	tx  func()
	rx  func()
}

func (v *vectors) connect(ctl *irq.Controller, tx, rx func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ctl, v.tx, v.rx = ctl, tx, rx
}

func (v *vectors) get() (*irq.Controller, func(), func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ctl, v.tx, v.rx
}

// arbitrationKey orders frames the way the wire does: lower base
// identifier first, a standard frame before an extended one with the
// same base, then the extension bits.
func arbitrationKey(f canfw.Frame) uint64 {
	if f.Extended() {
		base := uint64(f.ID() >> 18)
		return base<<20 | 1<<18 | uint64(f.ID()&0x3FFFF)
	}
	return uint64(f.ID()) << 20
}

// Bus connects nodes.
type Bus struct {
	opts Options

	mu    sync.Mutex
	nodes []Node
	ticks uint32

	frames  atomic.Uint64
	onFrame atomic.Pointer[func(from string, f canfw.Frame)]
}

func NewBus(opts Options) *Bus {
	if opts.RecoverySteps <= 0 {
		opts.RecoverySteps = DefaultOptions().RecoverySteps
	}
	return &Bus{opts: opts}
}

// Attach adds nodes to the bus.
func (b *Bus) Attach(nodes ...Node) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes = append(b.nodes, nodes...)
}

// OnFrame registers a monitor called for every frame that wins
// arbitration. It runs on the stepping goroutine.
func (b *Bus) OnFrame(fn func(from string, f canfw.Frame)) {
	b.onFrame.Store(&fn)
}

// Frames is the number of frames put on the wire so far.
func (b *Bus) Frames() uint64 {
	return b.frames.Load()
}

// Step runs one bus cycle and reports whether a frame was transmitted.
func (b *Bus) Step() bool {
	b.mu.Lock()
	b.ticks++
	tick := b.ticks
	nodes := append([]Node(nil), b.nodes...)
	b.mu.Unlock()

	for _, n := range nodes {
		n.Sync()
		n.tick(&b.opts)
	}

	var (
		winner  Node
		frame   canfw.Frame
		bestKey uint64
	)
	for _, n := range nodes {
		key, f, ok := n.arbitrate()
		if !ok {
			continue
		}
		if winner == nil || key < bestKey {
			winner, frame, bestKey = n, f, key
		}
	}
	if winner != nil {
		winner.transmitted()
		for _, n := range nodes {
			if n != winner {
				n.deliver(frame, tick)
			}
		}
		b.frames.Add(1)
		if fn := b.onFrame.Load(); fn != nil {
			(*fn)(winner.Name(), frame)
		}
	}

	for _, n := range nodes {
		dispatch(n)
	}
	return winner != nil
}

func dispatch(n Node) {
	ctl, txISR, rxISR := n.vectors().get()
	if ctl == nil {
		return
	}
	tx, rx := n.pendingIRQ()
	if rx && rxISR != nil {
		ctl.Interrupt(rxISR)
	}
	if tx && txISR != nil {
		ctl.Interrupt(txISR)
	}
}

// Run steps the bus until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	if b.opts.StepInterval <= 0 {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				b.Step()
			}
		}
	}
	t := time.NewTicker(b.opts.StepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			b.Step()
		}
	}
}

// Settle steps until no node has anything to send or max steps have run,
// and returns the number of frames transmitted.
func (b *Bus) Settle(max int) int {
	sent := 0
	idle := 0
	for i := 0; i < max && idle < 2; i++ {
		if b.Step() {
			sent++
			idle = 0
		} else {
			idle++
		}
	}
	return sent
}
