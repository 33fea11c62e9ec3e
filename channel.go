package canfw

import (
	"fmt"
	"sync/atomic"

	"github.com/roffe/canfw/pkg/buffer"
	"github.com/roffe/canfw/pkg/irq"
	"github.com/roffe/canfw/pkg/rtc"
)

// DefaultRetryDepth is the retry ring size used when none is given; one
// slot stays free so it holds DefaultRetryDepth-1 frames.
const DefaultRetryDepth = 75

// rxBurst bounds the frames drained per receive interrupt, matching the
// hardware FIFO depth.
const rxBurst = 3

type State uint32

const (
	StateUninitialized State = iota
	StateFilterConfigured
	StateRunning
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFilterConfigured:
		return "filter configured"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Clock stamps received frames.
type Clock interface {
	Now() rtc.TimePoint
}

// RxSink takes frames drained by HandleRxInterrupt.
type RxSink interface {
	Deliver(f Frame)
}

// RxSinkFunc adapts a function to RxSink.
type RxSinkFunc func(f Frame)

func (fn RxSinkFunc) Deliver(f Frame) {
	fn(f)
}

type Option func(c *Channel)

// WithRetryDepth sets the retry ring size. Values below 2 are ignored.
func WithRetryDepth(n int) Option {
	return func(c *Channel) {
		if n >= 2 {
			c.retryDepth = n
		}
	}
}

// WithFIFO selects the receive FIFO. Default FIFO0.
func WithFIFO(fifo FIFO) Option {
	return func(c *Channel) {
		c.fifo = fifo
	}
}

// WithClock stamps every received frame with clock.Now().
func WithClock(clock Clock) Option {
	return func(c *Channel) {
		c.clock = clock
	}
}

// WithController shares an interrupt controller with the rest of the
// firmware. Without it the channel gets its own.
func WithController(ctl *irq.Controller) Option {
	return func(c *Channel) {
		c.irq = ctl
	}
}

// WithEventHandler registers a callback for dropped frames and lifecycle
// failures. It may run in interrupt context and must not block.
func WithEventHandler(fn func(Event)) Option {
	return func(c *Channel) {
		c.onEvent = fn
	}
}

// Channel owns one Transceiver and adds a software retry queue for frames
// the hardware could not take. Send is called from the main loop,
// TxDrain from the transmit-complete interrupt, Receive from either but
// only one context per channel.
type Channel struct {
	dev        Transceiver
	fifo       FIFO
	retryDepth int
	retry      *buffer.Ring[Frame]
	irq        *irq.Controller
	clock      Clock
	onEvent    func(Event)

	state atomic.Uint32
	stats counters
}

func NewChannel(dev Transceiver, opts ...Option) *Channel {
	c := &Channel{
		dev:        dev,
		fifo:       FIFO0,
		retryDepth: DefaultRetryDepth,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.irq == nil {
		c.irq = irq.New()
	}
	c.retry = buffer.NewRing[Frame](c.retryDepth)
	return c
}

func (c *Channel) State() State {
	return State(c.state.Load())
}

// Controller returns the interrupt controller guarding this channel.
func (c *Channel) Controller() *irq.Controller {
	return c.irq
}

// Init programs bit timing and the acceptance filter. An empty ids list
// accepts every identifier. Any failure leaves the channel Failed.
func (c *Channel) Init(rate BaudRate, extended bool, ids []uint32) error {
	if c.State() != StateUninitialized {
		return ErrInvalidState
	}
	if err := c.dev.Init(rate, extended); err != nil {
		return c.fail("init", err)
	}
	var err error
	if len(ids) == 0 {
		err = c.dev.FilterAll()
	} else {
		err = c.dev.FilterList(ids, extended)
	}
	if err != nil {
		return c.fail("filter", err)
	}
	c.state.Store(uint32(StateFilterConfigured))
	return nil
}

// Start puts a configured channel on the bus.
func (c *Channel) Start() error {
	if c.State() != StateFilterConfigured {
		return ErrInvalidState
	}
	if err := c.dev.Start(); err != nil {
		return c.fail("start", err)
	}
	c.state.Store(uint32(StateRunning))
	return nil
}

// Open runs Init and Start.
func (c *Channel) Open(rate BaudRate, extended bool, ids []uint32) error {
	if err := c.Init(rate, extended, ids); err != nil {
		return err
	}
	return c.Start()
}

func (c *Channel) fail(op string, err error) error {
	c.state.Store(uint32(StateFailed))
	c.stats.errors.Add(1)
	c.emit(EventTypeError, op+" failed: "+err.Error(), 0)
	return fmt.Errorf("%s: %w: %w", op, ErrChannelFailed, err)
}

func (c *Channel) emit(t EventType, details string, id uint32) {
	if c.onEvent != nil {
		c.onEvent(Event{Type: t, Details: details, ID: id})
	}
}

// Send hands f to the hardware, or queues it for the transmit interrupt
// when the hardware refuses it. Ok means f reached the hardware. When f
// was queued Send returns the hardware's status, Error, and Pending
// counts it. Full means the retry ring overflowed and f was dropped.
// Error with nothing queued means the channel is not running.
func (c *Channel) Send(f Frame) Status {
	if c.State() != StateRunning {
		c.stats.errors.Add(1)
		return Error
	}

	cs := c.irq.Enter()
	st := c.dev.Send(f)
	if st == Ok {
		cs.Exit()
		c.stats.sent.Add(1)
		return Ok
	}
	if c.retry.Push(f) {
		cs.Exit()
		c.stats.dropped.Add(1)
		c.emit(EventTypeError, ErrRetryOverflow.Error(), f.ID())
		return Full
	}
	c.dev.EnableTxInterrupt()
	cs.Exit()
	c.stats.queued.Add(1)
	return st
}

// TxDrain retries the oldest queued frame. It runs in the transmit
// interrupt; once the queue is empty it disarms that interrupt.
func (c *Channel) TxDrain() {
	if !c.retry.Peek() {
		c.dev.DisableTxInterrupt()
		return
	}
	if c.dev.Send(c.retry.Read()) == Ok {
		c.retry.Pop()
		c.stats.retried.Add(1)
		return
	}
	c.stats.retryFailures.Add(1)
}

// HandleTxInterrupt is the transmit-complete interrupt entry point.
func (c *Channel) HandleTxInterrupt() {
	if a, ok := c.dev.(InterruptAcker); ok {
		a.AckTxInterrupt()
	}
	c.TxDrain()
}

// Receive takes the oldest frame from the channel's FIFO.
func (c *Channel) Receive(f *Frame) Status {
	if c.State() != StateRunning {
		return Error
	}
	st := c.dev.Receive(c.fifo, f)
	switch st {
	case Ok:
		if c.clock != nil {
			f.Stamp(c.clock.Now())
		}
		c.stats.received.Add(1)
	case Error:
		c.stats.errors.Add(1)
	}
	return st
}

// HandleRxInterrupt drains up to one FIFO's worth of frames into sink and
// returns how many were delivered.
func (c *Channel) HandleRxInterrupt(sink RxSink) int {
	if a, ok := c.dev.(InterruptAcker); ok {
		a.AckRxInterrupt()
	}
	n := 0
	for n < rxBurst {
		var f Frame
		if c.Receive(&f) != Ok {
			break
		}
		sink.Deliver(f)
		n++
	}
	return n
}

// Pending is the number of frames waiting in the retry ring.
func (c *Channel) Pending() int {
	return c.retry.Len()
}

func (c *Channel) Stats() Stats {
	st := c.stats.snapshot()
	st.Pending = c.Pending()
	return st
}
