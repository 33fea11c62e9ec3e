// Package board runs a simulated controller board: one CAN peripheral
// on a sim.Bus, its driver and Channel, the interrupt wiring, an RTC and
// a unique id, plus the main loop that publishes a heartbeat.
package board

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/bxcan"
	"github.com/roffe/canfw/fdcan"
	"github.com/roffe/canfw/pkg/irq"
	"github.com/roffe/canfw/pkg/mailbox"
	"github.com/roffe/canfw/pkg/rtc"
	"github.com/roffe/canfw/pkg/sim"
	"github.com/roffe/canfw/pkg/uid"
)

// HeartbeatBase is the identifier of node 0's heartbeat.
const HeartbeatBase = 0x700

const DefaultHeartbeatPeriod = 100 * time.Millisecond

var ErrNotRunning = errors.New("channel not running")

// Controller is the modelled peripheral behind a board.
type Controller interface {
	sim.Node
	SetStalled(stalled bool)
	InjectBusOff()
	ConnectInterrupts(ctl *irq.Controller, tx, rx func())
}

type Config struct {
	Name string
	// Kind picks the peripheral model. Boards of both kinds share a bus.
	Kind  canfw.Kind
	Index int
	Rate  canfw.BaudRate
	// IDs are the identifiers the board listens to. Empty accepts all.
	IDs      []uint32
	Extended bool
	NodeID   uint8
	// HeartbeatID defaults to HeartbeatBase + NodeID.
	HeartbeatID     uint32
	HeartbeatPeriod time.Duration
	RetryDepth      int
	// ClearInitBeforeSend is passed to the flexible driver.
	ClearInitBeforeSend bool
	// UID is programmed into the modelled id registers.
	UID     uid.UID
	OnEvent func(canfw.Event)
}

func (c *Config) setDefaults() {
	if c.Rate == 0 {
		c.Rate = canfw.BaudRate500
	}
	if c.Index == 0 {
		c.Index = 1
	}
	if c.HeartbeatID == 0 {
		c.HeartbeatID = HeartbeatBase + uint32(c.NodeID)
	}
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	if c.RetryDepth == 0 {
		c.RetryDepth = canfw.DefaultRetryDepth
	}
	if c.Name == "" {
		c.Name = fmt.Sprintf("node%d", c.NodeID)
	}
}

type Board struct {
	cfg  Config
	ctl  *irq.Controller
	node Controller
	ch   *canfw.Channel
	mail *mailbox.Table
	hub  *Hub

	rtcRegs rtc.Registers
	uidRegs uid.Registers
	seq     uint8
}

// New builds a board and brings its channel up. The controller joins bus
// only once the channel is running.
func New(bus *sim.Bus, cfg Config) (*Board, error) {
	cfg.setDefaults()
	b := &Board{
		cfg: cfg,
		ctl: irq.New(),
		hub: NewHub(),
	}
	b.rtcRegs.Load(time.Now())
	b.uidRegs.Load(cfg.UID)

	keys := make([]mailbox.Key, 0, len(cfg.IDs))
	for _, id := range cfg.IDs {
		if cfg.Extended {
			keys = append(keys, mailbox.ExtKey(id))
		} else {
			keys = append(keys, mailbox.StdKey(id))
		}
	}
	b.mail = mailbox.New(keys...)

	var (
		dev  canfw.Transceiver
		fifo canfw.FIFO
	)
	switch cfg.Kind {
	case canfw.Classic:
		n := sim.NewClassicNode(cfg.Name, cfg.Index)
		p := n.Peripheral(canfw.Family)
		dev, fifo, b.node = bxcan.New(p), p.RxFIFO, n
	case canfw.Flexible:
		n := sim.NewFlexibleNode(cfg.Name, cfg.Index)
		p := n.Peripheral(canfw.Family)
		dev, fifo, b.node = fdcan.New(p, fdcan.Config{ClearInitBeforeSend: cfg.ClearInitBeforeSend}), p.RxFIFO, n
	default:
		return nil, fmt.Errorf("board %s: unknown peripheral kind %d", cfg.Name, cfg.Kind)
	}

	opts := []canfw.Option{
		canfw.WithController(b.ctl),
		canfw.WithFIFO(fifo),
		canfw.WithRetryDepth(cfg.RetryDepth),
		canfw.WithClock(rtc.NewCalendar(&b.rtcRegs)),
	}
	if cfg.OnEvent != nil {
		opts = append(opts, canfw.WithEventHandler(cfg.OnEvent))
	}
	b.ch = canfw.NewChannel(dev, opts...)

	b.node.ConnectInterrupts(b.ctl, b.ch.HandleTxInterrupt, func() {
		b.ch.HandleRxInterrupt(b)
	})
	if err := b.ch.Open(cfg.Rate, cfg.Extended, cfg.IDs); err != nil {
		return nil, fmt.Errorf("board %s: %w", cfg.Name, err)
	}
	bus.Attach(b.node)
	return b, nil
}

// Deliver is the receive interrupt sink: the mailbox keeps the latest
// frame per identifier and the hub feeds subscribers.
func (b *Board) Deliver(f canfw.Frame) {
	if len(b.cfg.IDs) > 0 {
		b.mail.Deliver(f)
	}
	b.hub.Deliver(f)
}

func (b *Board) Name() string {
	return b.cfg.Name
}

func (b *Board) Config() Config {
	return b.cfg
}

func (b *Board) Channel() *canfw.Channel {
	return b.ch
}

func (b *Board) Controller() Controller {
	return b.node
}

func (b *Board) UID() uid.UID {
	return uid.Read(&b.uidRegs)
}

// Now reads the board's calendar.
func (b *Board) Now() rtc.TimePoint {
	cs := b.ctl.Enter()
	defer cs.Exit()
	return rtc.NewCalendar(&b.rtcRegs).Now()
}

// SetClock reloads the calendar from t. The receive interrupt stamps
// frames from the same registers, so the write runs masked.
func (b *Board) SetClock(t time.Time) {
	cs := b.ctl.Enter()
	defer cs.Exit()
	b.rtcRegs.Load(t)
}

func (b *Board) Send(f canfw.Frame) canfw.Status {
	return b.ch.Send(f)
}

// Latest returns the newest unread frame for id. Only the identifiers
// of Config.IDs have a slot; an accept-all board keeps none and always
// reports false, so follow its traffic with Subscribe.
func (b *Board) Latest(id uint32) (canfw.Frame, bool) {
	if b.cfg.Extended {
		return b.mail.Latest(mailbox.ExtKey(id))
	}
	return b.mail.Latest(mailbox.StdKey(id))
}

// Subscribe follows ids, or everything the filters let through when ids
// is empty.
func (b *Board) Subscribe(depth int, ids ...uint32) *Subscriber {
	return b.hub.Subscribe(depth, ids...)
}

func (b *Board) Stats() canfw.Stats {
	return b.ch.Stats()
}

// Heartbeat sends one heartbeat frame.
func (b *Board) Heartbeat() canfw.Status {
	hb := Heartbeat{
		UID:     b.UID().Short(),
		Node:    b.cfg.NodeID,
		Seq:     b.seq,
		State:   b.ch.State(),
		Pending: uint8(min(b.ch.Pending(), 0xFF)),
	}
	b.seq++
	return b.ch.Send(hb.Frame(b.cfg.HeartbeatID))
}

// Run is the board main loop. It keeps the calendar current and sends a
// heartbeat every period until ctx is done.
func (b *Board) Run(ctx context.Context) error {
	t := time.NewTicker(b.cfg.HeartbeatPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			b.SetClock(now)
			b.Heartbeat()
			if st := b.ch.State(); st != canfw.StateRunning {
				return fmt.Errorf("board %s: heartbeat: %w (%s)", b.cfg.Name, ErrNotRunning, st)
			}
		}
	}
}

// Heartbeat is the payload a board publishes periodically.
type Heartbeat struct {
	UID     uint32
	Node    uint8
	Seq     uint8
	State   canfw.State
	Pending uint8
}

// Frame encodes h: UID (little endian), node, sequence, channel state,
// retry ring fill.
func (h Heartbeat) Frame(id uint32) canfw.Frame {
	var data [8]byte
	binary.LittleEndian.PutUint32(data[:4], h.UID)
	data[4] = h.Node
	data[5] = h.Seq
	data[6] = uint8(h.State)
	data[7] = h.Pending
	return canfw.NewFrameLen(id, 8, data, false)
}

// ParseHeartbeat decodes a heartbeat frame.
func ParseHeartbeat(f canfw.Frame) (Heartbeat, bool) {
	if f.Extended() || f.Len() != 8 || f.ID() < HeartbeatBase || f.ID() > HeartbeatBase+0xFF {
		return Heartbeat{}, false
	}
	d := f.Payload()
	return Heartbeat{
		UID:     binary.LittleEndian.Uint32(d[:4]),
		Node:    d[4],
		Seq:     d[5],
		State:   canfw.State(d[6]),
		Pending: d[7],
	}, true
}

func (h Heartbeat) String() string {
	return fmt.Sprintf("node %d uid %08X seq %d %s pending %d", h.Node, h.UID, h.Seq, h.State, h.Pending)
}
