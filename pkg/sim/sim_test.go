package sim

import (
	"sync"
	"testing"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/bxcan"
	"github.com/roffe/canfw/fdcan"
	"github.com/roffe/canfw/pkg/irq"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	frames []canfw.Frame
}

func (c *collector) Deliver(f canfw.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

func (c *collector) ids() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]uint32, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.ID()
	}
	return out
}

type wired struct {
	ch   *canfw.Channel
	rx   *collector
	node interface {
		SetStalled(bool)
		InjectBusOff()
	}
}

func classic(t *testing.T, bus *Bus, ids []uint32) (*wired, *ClassicNode) {
	t.Helper()
	node := NewClassicNode("classic", 1)
	bus.Attach(node)
	p := node.Peripheral("stm32l476")
	ctl := irq.New()
	w := &wired{
		ch:   canfw.NewChannel(bxcan.New(p), canfw.WithController(ctl), canfw.WithFIFO(p.RxFIFO)),
		rx:   &collector{},
		node: node,
	}
	node.ConnectInterrupts(ctl, w.ch.HandleTxInterrupt, func() { w.ch.HandleRxInterrupt(w.rx) })
	require.NoError(t, w.ch.Open(canfw.BaudRate500, false, ids))
	return w, node
}

func flexible(t *testing.T, bus *Bus, ids []uint32, cfg fdcan.Config) (*wired, *FlexibleNode) {
	t.Helper()
	node := NewFlexibleNode("flexible", 1)
	bus.Attach(node)
	p := node.Peripheral("stm32g474")
	ctl := irq.New()
	w := &wired{
		ch:   canfw.NewChannel(fdcan.New(p, cfg), canfw.WithController(ctl), canfw.WithFIFO(p.RxFIFO)),
		rx:   &collector{},
		node: node,
	}
	node.ConnectInterrupts(ctl, w.ch.HandleTxInterrupt, func() { w.ch.HandleRxInterrupt(w.rx) })
	require.NoError(t, w.ch.Open(canfw.BaudRate500, false, ids))
	return w, node
}

type builder func(t *testing.T, bus *Bus, ids []uint32) *wired

var families = map[string]builder{
	"bxcan": func(t *testing.T, bus *Bus, ids []uint32) *wired {
		w, _ := classic(t, bus, ids)
		return w
	},
	"fdcan": func(t *testing.T, bus *Bus, ids []uint32) *wired {
		w, _ := flexible(t, bus, ids, fdcan.Config{})
		return w
	},
}

func newTestBus() *Bus {
	return NewBus(Options{RecoverySteps: 8})
}

func TestReceiveThroughFilters(t *testing.T) {
	for name, build := range families {
		t.Run(name, func(t *testing.T) {
			bus := newTestBus()
			w := build(t, bus, []uint32{0x100, 0x200})
			tap := NewTap("tap")
			bus.Attach(tap)

			tap.Send(canfw.NewFrame(0x100, []byte{1}, false))
			tap.Send(canfw.NewFrame(0x300, []byte{2}, false))
			tap.Send(canfw.NewFrame(0x200, []byte{3}, false))
			require.Equal(t, 3, bus.Settle(50))

			require.Equal(t, []uint32{0x100, 0x200}, w.rx.ids())
			require.EqualValues(t, 2, w.ch.Stats().Received)
		})
	}
}

func TestAcceptAllReceivesEverything(t *testing.T) {
	for name, build := range families {
		t.Run(name, func(t *testing.T) {
			bus := newTestBus()
			w := build(t, bus, nil)
			tap := NewTap("tap")
			bus.Attach(tap)
			for i := 0; i < 10; i++ {
				tap.Send(canfw.NewFrame(uint32(0x700+i), nil, false))
			}
			tap.Send(canfw.NewExtendedFrame(0x18DAF110, []byte{9}))
			bus.Settle(100)
			require.Len(t, w.rx.ids(), 11)
		})
	}
}

func TestTransmitBackpressureDrains(t *testing.T) {
	for name, build := range families {
		t.Run(name, func(t *testing.T) {
			bus := newTestBus()
			w := build(t, bus, nil)
			got := &collector{}
			tap := NewTap("tap")
			tap.OnReceive(got.Deliver)
			bus.Attach(tap)

			w.node.SetStalled(true)
			for i := 0; i < 6; i++ {
				want := canfw.Ok
				if i >= 3 {
					want = canfw.Error
				}
				require.Equal(t, want, w.ch.Send(canfw.NewFrame(uint32(0x10+i), []byte{byte(i)}, false)))
			}
			require.Equal(t, 3, w.ch.Pending())
			bus.Settle(10)
			require.Empty(t, got.ids())

			w.node.SetStalled(false)
			require.Equal(t, 6, bus.Settle(100))
			require.Equal(t, []uint32{0x10, 0x11, 0x12, 0x13, 0x14, 0x15}, got.ids())
			require.Zero(t, w.ch.Pending())

			st := w.ch.Stats()
			require.EqualValues(t, 3, st.Sent)
			require.EqualValues(t, 3, st.Queued)
			require.EqualValues(t, 3, st.Retried)
		})
	}
}

func TestTxInterruptDisarmedWhenIdle(t *testing.T) {
	bus := newTestBus()
	w, node := classic(t, bus, nil)
	bus.Attach(NewTap("tap"))

	w.node.SetStalled(true)
	for i := 0; i < 4; i++ {
		w.ch.Send(canfw.NewFrame(uint32(i), nil, false))
	}
	require.True(t, node.Registers().IER.HasBits(bxcan.IER_TMEIE))
	w.node.SetStalled(false)
	bus.Settle(50)
	require.False(t, node.Registers().IER.HasBits(bxcan.IER_TMEIE))
}

func TestArbitrationOrder(t *testing.T) {
	bus := newTestBus()
	var order []canfw.Frame
	bus.OnFrame(func(_ string, f canfw.Frame) { order = append(order, f) })

	a, b, c := NewTap("a"), NewTap("b"), NewTap("c")
	bus.Attach(a, b, c)
	a.Send(canfw.NewFrame(0x300, nil, false))
	b.Send(canfw.NewExtendedFrame(0x100<<18, nil))
	c.Send(canfw.NewFrame(0x100, nil, false))

	require.Equal(t, 3, bus.Settle(10))
	require.Len(t, order, 3)
	require.False(t, order[0].Extended())
	require.EqualValues(t, 0x100, order[0].ID())
	require.True(t, order[1].Extended())
	require.EqualValues(t, 0x300, order[2].ID())
	require.EqualValues(t, 3, bus.Frames())
}

func TestClassicBusOffRecovers(t *testing.T) {
	bus := newTestBus()
	w, node := classic(t, bus, nil)
	got := &collector{}
	tap := NewTap("tap")
	tap.OnReceive(got.Deliver)
	bus.Attach(tap)

	node.InjectBusOff()
	require.Equal(t, canfw.Error, w.ch.Send(canfw.NewFrame(0x1, nil, false)))
	require.Equal(t, 1, w.ch.Pending())

	for i := 0; i < 10; i++ {
		bus.Step()
	}
	require.False(t, node.Registers().ESR.HasBits(bxcan.ESR_BOFF))

	require.Equal(t, canfw.Ok, w.ch.Send(canfw.NewFrame(0x2, nil, false)))
	bus.Settle(20)
	require.ElementsMatch(t, []uint32{0x1, 0x2}, got.ids())
	require.Zero(t, w.ch.Pending())
}

func TestFlexibleBusOffNeedsInitCleared(t *testing.T) {
	tests := []struct {
		name      string
		clearInit bool
		want      []uint32
	}{
		{"stays off", false, nil},
		{"clears init", true, []uint32{0x1, 0x2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newTestBus()
			w, node := flexible(t, bus, nil, fdcan.Config{ClearInitBeforeSend: tt.clearInit})
			got := &collector{}
			tap := NewTap("tap")
			tap.OnReceive(got.Deliver)
			bus.Attach(tap)

			node.InjectBusOff()
			require.Equal(t, canfw.Error, w.ch.Send(canfw.NewFrame(0x1, nil, false)))
			require.Equal(t, 1, w.ch.Pending())
			for i := 0; i < 10; i++ {
				bus.Step()
			}
			w.ch.Send(canfw.NewFrame(0x2, nil, false))
			bus.Settle(20)

			if tt.want == nil {
				require.Empty(t, got.ids())
				require.True(t, node.Registers().PSR.HasBits(fdcan.PSR_BO))
				return
			}
			require.ElementsMatch(t, tt.want, got.ids())
		})
	}
}

func TestReceiveReportsBusOff(t *testing.T) {
	for name, build := range families {
		t.Run(name, func(t *testing.T) {
			bus := newTestBus()
			w := build(t, bus, nil)
			bus.Attach(NewTap("tap"))

			var f canfw.Frame
			require.Equal(t, canfw.Empty, w.ch.Receive(&f))

			w.node.InjectBusOff()
			require.Equal(t, canfw.Error, w.ch.Receive(&f))
			require.EqualValues(t, 1, w.ch.Stats().Errors)
		})
	}
}

func TestClassicFIFOOverrun(t *testing.T) {
	bus := newTestBus()
	node := NewClassicNode("quiet", 1)
	bus.Attach(node)
	tr := bxcan.New(node.Peripheral("stm32l476"))
	require.NoError(t, tr.Init(canfw.BaudRate500, false))
	require.NoError(t, tr.FilterAll())
	require.NoError(t, tr.Start())

	tap := NewTap("tap")
	bus.Attach(tap)
	for i := 0; i < 5; i++ {
		tap.Send(canfw.NewFrame(uint32(i), nil, false))
	}
	bus.Settle(20)

	regs := node.Registers()
	require.True(t, regs.RFR[0].HasBits(bxcan.RFR_FOVR))
	var ids []uint32
	var f canfw.Frame
	for tr.Receive(canfw.FIFO0, &f) == canfw.Ok {
		ids = append(ids, f.ID())
	}
	require.Equal(t, []uint32{0, 1, 4}, ids)

	require.True(t, regs.RFR[0].HasBits(bxcan.RFR_FOVR))
	tr.AckTxInterrupt()
	require.True(t, regs.RFR[0].HasBits(bxcan.RFR_FOVR))
	tr.AckRxInterrupt()
	require.False(t, regs.RFR[0].HasBits(bxcan.RFR_FOVR|bxcan.RFR_FULL))
}

func TestFlexibleFIFOLost(t *testing.T) {
	bus := newTestBus()
	node := NewFlexibleNode("quiet", 1)
	bus.Attach(node)
	tr := fdcan.New(node.Peripheral("stm32g474"), fdcan.Config{})
	require.NoError(t, tr.Init(canfw.BaudRate500, false))
	require.NoError(t, tr.FilterAll())
	require.NoError(t, tr.Start())

	tap := NewTap("tap")
	bus.Attach(tap)
	for i := 0; i < 5; i++ {
		tap.Send(canfw.NewFrame(uint32(i), nil, false))
	}
	bus.Settle(20)

	require.True(t, node.Registers().IR.HasBits(fdcan.IR_RF0L))
	var ids []uint32
	var f canfw.Frame
	for tr.Receive(canfw.FIFO0, &f) == canfw.Ok {
		ids = append(ids, f.ID())
	}
	require.Equal(t, []uint32{0, 1, 2}, ids)

	ir := &node.Registers().IR
	require.True(t, ir.HasBits(fdcan.IR_RF0L))
	tr.AckTxInterrupt()
	require.True(t, ir.HasBits(fdcan.IR_RF0L|fdcan.IR_RF0N))
	tr.AckRxInterrupt()
	require.False(t, ir.HasBits(fdcan.IR_RF0L|fdcan.IR_RF0N|fdcan.IR_RF0F))
}
