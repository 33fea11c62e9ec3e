package sim

import (
	"sync"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/bxcan"
	"github.com/roffe/canfw/pkg/irq"
)

type rxFrame struct {
	f     canfw.Frame
	match uint8
	time  uint16
}

// tsrFlags are the write 1 to clear status flags of TSR.
const tsrFlags = bxcan.TSR_RQCP0 | bxcan.TSR_TXOK0 | bxcan.TSR_RQCP1 | bxcan.TSR_TXOK1 | bxcan.TSR_RQCP2 | bxcan.TSR_TXOK2

// ClassicNode models a bxCAN controller.
type ClassicNode struct {
	name  string
	index int
	regs  *bxcan.Registers
	vec   vectors

	mu       sync.Mutex
	fifo     [bxcan.NumRxFIFOs][]rxFrame
	seq      [bxcan.NumTxMailboxes]uint64
	nextSeq  uint64
	sending  int
	stalled  bool
	recovery int
}

// NewClassicNode returns a controller in its reset state: asleep with
// every mailbox empty.
func NewClassicNode(name string, index int) *ClassicNode {
	n := &ClassicNode{name: name, index: index, regs: &bxcan.Registers{}, sending: -1}
	n.regs.MCR.Set(bxcan.MCR_SLEEP | 1<<16)
	n.regs.MSR.Set(bxcan.MSR_SLAK)
	n.regs.TSR.Set(bxcan.TSR_TME)
	return n
}

func (n *ClassicNode) Name() string {
	return n.name
}

func (n *ClassicNode) Registers() *bxcan.Registers {
	return n.regs
}

// Peripheral returns the driver handle for this controller.
func (n *ClassicNode) Peripheral(family string) *bxcan.Peripheral {
	pins, _ := bxcan.DefaultPins(family, n.index)
	return &bxcan.Peripheral{
		Regs:   n.regs,
		Index:  n.index,
		Pins:   pins,
		RxFIFO: bxcan.DefaultFIFO(family, n.index),
		Sync:   n.Sync,
	}
}

// ConnectInterrupts routes the transmit and FIFO interrupts to handlers
// run through ctl.
func (n *ClassicNode) ConnectInterrupts(ctl *irq.Controller, tx, rx func()) {
	n.vec.connect(ctl, tx, rx)
}

func (n *ClassicNode) vectors() *vectors {
	return &n.vec
}

// SetStalled keeps the controller from winning arbitration, as if no
// other node acknowledged its frames.
func (n *ClassicNode) SetStalled(stalled bool) {
	n.mu.Lock()
	n.stalled = stalled
	n.mu.Unlock()
}

// InjectBusOff forces the controller bus-off. With automatic bus-off
// recovery it comes back after the bus's recovery steps; without, it
// waits for software to cycle initialization mode.
func (n *ClassicNode) InjectBusOff() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.regs.ESR.Set(bxcan.ESR_BOFF | bxcan.ESR_EPVF | bxcan.ESR_EWGF | 0xFF<<bxcan.ESR_TEC_Pos)
	n.recovery = -1
}

func (n *ClassicNode) Sync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := n.regs

	mcr := r.MCR.Get()
	if mcr&bxcan.MCR_SLEEP != 0 {
		r.MSR.SetBits(bxcan.MSR_SLAK)
	} else {
		r.MSR.ClearBits(bxcan.MSR_SLAK)
	}
	if mcr&bxcan.MCR_INRQ != 0 {
		if !r.MSR.HasBits(bxcan.MSR_INAK) {
			n.abortAll()
			if r.ESR.HasBits(bxcan.ESR_BOFF) && mcr&bxcan.MCR_ABOM == 0 {
				r.ESR.Set(0)
			}
		}
		r.MSR.SetBits(bxcan.MSR_INAK)
	} else {
		r.MSR.ClearBits(bxcan.MSR_INAK)
	}

	for i := 0; i < bxcan.NumTxMailboxes; i++ {
		tme := uint32(bxcan.TSR_TME0 << i)
		if r.TX[i].TIR.HasBits(bxcan.IR_TXRQ) && r.TSR.HasBits(tme) {
			r.TSR.ClearBits(tme)
			n.nextSeq++
			n.seq[i] = n.nextSeq
		}
	}

	if w := r.TSR.TakeWritten(); w != 0 {
		r.TSR.ClearBits(w & tsrFlags)
	}
	for f := range n.fifo {
		w := r.RFR[f].TakeWritten()
		r.RFR[f].ClearBits(w & (bxcan.RFR_FULL | bxcan.RFR_FOVR))
		if w&bxcan.RFR_RFOM != 0 {
			if len(n.fifo[f]) > 0 {
				n.fifo[f] = n.fifo[f][1:]
			}
			r.RFR[f].ClearBits(bxcan.RFR_FULL)
			n.loadOutput(f)
		}
	}
}

func (n *ClassicNode) abortAll() {
	for i := 0; i < bxcan.NumTxMailboxes; i++ {
		if n.regs.TX[i].TIR.HasBits(bxcan.IR_TXRQ) {
			n.regs.TX[i].TIR.ClearBits(bxcan.IR_TXRQ)
			n.regs.TSR.SetBits(uint32(bxcan.TSR_TME0<<i) | uint32(bxcan.TSR_RQCP0<<(8*i)))
		}
	}
	n.sending = -1
}

// loadOutput copies the head of a FIFO into its output mailbox and
// updates the pending count.
func (n *ClassicNode) loadOutput(f int) {
	r := n.regs
	r.RFR[f].ReplaceBits(uint32(len(n.fifo[f])), bxcan.RFR_FMP_Msk, 0)
	if len(n.fifo[f]) == 0 {
		return
	}
	head := n.fifo[f][0]
	mb := &r.RX[f]
	mb.RIR.Set(bxcan.PackID(head.f.ID(), head.f.Extended()))
	mb.RDTR.Set(uint32(head.f.Len()) | uint32(head.match)<<bxcan.DTR_FMI_Pos | uint32(head.time)<<bxcan.DTR_TIME_Pos)
	lo, hi := bxcan.PackData(head.f.Payload())
	mb.RDLR.Set(lo)
	mb.RDHR.Set(hi)
}

func (n *ClassicNode) online() bool {
	return !n.regs.MSR.HasBits(bxcan.MSR_INAK|bxcan.MSR_SLAK) && !n.regs.ESR.HasBits(bxcan.ESR_BOFF)
}

func (n *ClassicNode) arbitrate() (uint64, canfw.Frame, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sending = -1
	if n.stalled || !n.online() {
		return 0, canfw.Frame{}, false
	}
	chronological := n.regs.MCR.HasBits(bxcan.MCR_TXFP)
	var (
		best    canfw.Frame
		bestKey uint64
	)
	for i := 0; i < bxcan.NumTxMailboxes; i++ {
		mb := &n.regs.TX[i]
		if !mb.TIR.HasBits(bxcan.IR_TXRQ) || n.regs.TSR.HasBits(uint32(bxcan.TSR_TME0<<i)) {
			continue
		}
		id, ext := bxcan.UnpackID(mb.TIR.Get())
		f := canfw.NewFrameLen(id, uint8(mb.TDTR.Get()&bxcan.DTR_DLC_Msk), bxcan.UnpackData(mb.TDLR.Get(), mb.TDHR.Get()), ext)
		key := arbitrationKey(f)
		if n.sending < 0 ||
			(chronological && n.seq[i] < n.seq[n.sending]) ||
			(!chronological && key < arbitrationKey(best)) {
			n.sending, best, bestKey = i, f, key
		}
	}
	if n.sending < 0 {
		return 0, canfw.Frame{}, false
	}
	return bestKey, best, true
}

func (n *ClassicNode) transmitted() {
	n.mu.Lock()
	defer n.mu.Unlock()
	i := n.sending
	if i < 0 {
		return
	}
	n.regs.TX[i].TIR.ClearBits(bxcan.IR_TXRQ)
	n.regs.TSR.SetBits(uint32(bxcan.TSR_TME0<<i) | uint32((bxcan.TSR_RQCP0|bxcan.TSR_TXOK0)<<(8*i)))
	n.sending = -1
}

// match runs the acceptance filters and returns the target FIFO and the
// filter match index.
func (n *ClassicNode) match(f canfw.Frame) (fifo int, index uint8, ok bool) {
	r := n.regs
	active := r.FA1R.Get()
	word := bxcan.PackID(f.ID(), f.Extended())
	fmi := uint8(0)
	for bank := 0; bank < bxcan.NumFilterBanks; bank++ {
		bit := uint32(1) << bank
		list := r.FM1R.Get()&bit != 0
		wide := r.FS1R.Get()&bit != 0
		target := 0
		if r.FFA1R.Get()&bit != 0 {
			target = 1
		}
		fr1, fr2 := r.Filter[bank].FR1.Get(), r.Filter[bank].FR2.Get()

		var hit bool
		var slots uint8
		switch {
		case wide && list:
			slots = 2
			hit = word == fr1&^1 || word == fr2&^1
		case wide:
			slots = 1
			hit = (word^fr1)&fr2&^1 == 0
		case list:
			slots = 4
			if !f.Extended() {
				e := uint16(f.ID() << 5)
				hit = e == uint16(fr1) || e == uint16(fr1>>16) || e == uint16(fr2) || e == uint16(fr2>>16)
			}
		default:
			slots = 2
			if !f.Extended() {
				e := uint16(f.ID() << 5)
				hit = (e^uint16(fr1))&uint16(fr1>>16) == 0 || (e^uint16(fr2))&uint16(fr2>>16) == 0
			}
		}
		if active&bit != 0 && hit {
			return target, fmi, true
		}
		if active&bit != 0 {
			fmi += slots
		}
	}
	return 0, 0, false
}

func (n *ClassicNode) deliver(f canfw.Frame, tick uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.online() {
		return
	}
	fifo, fmi, ok := n.match(f)
	if !ok {
		return
	}
	r := n.regs
	entry := rxFrame{f: f, match: fmi, time: uint16(tick)}
	switch {
	case len(n.fifo[fifo]) < bxcan.FIFODepth:
		n.fifo[fifo] = append(n.fifo[fifo], entry)
	case r.MCR.HasBits(bxcan.MCR_RFLM):
		r.RFR[fifo].SetBits(bxcan.RFR_FOVR)
	default:
		n.fifo[fifo][bxcan.FIFODepth-1] = entry
		r.RFR[fifo].SetBits(bxcan.RFR_FOVR)
	}
	if len(n.fifo[fifo]) == bxcan.FIFODepth {
		r.RFR[fifo].SetBits(bxcan.RFR_FULL)
	}
	n.loadOutput(fifo)
}

func (n *ClassicNode) tick(opts *Options) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := n.regs
	if !r.ESR.HasBits(bxcan.ESR_BOFF) || !r.MCR.HasBits(bxcan.MCR_ABOM) {
		return
	}
	if n.recovery < 0 {
		n.recovery = opts.RecoverySteps
	}
	if n.recovery--; n.recovery <= 0 {
		r.ESR.Set(0)
		n.recovery = 0
	}
}

func (n *ClassicNode) pendingIRQ() (tx, rx bool) {
	r := n.regs
	ier := r.IER.Get()
	tx = ier&bxcan.IER_TMEIE != 0 && r.TSR.Get()&(bxcan.TSR_RQCP0|bxcan.TSR_RQCP1|bxcan.TSR_RQCP2) != 0
	rx = ier&bxcan.IER_FMPIE0 != 0 && r.RFR[0].Get()&bxcan.RFR_FMP_Msk != 0 ||
		ier&bxcan.IER_FMPIE1 != 0 && r.RFR[1].Get()&bxcan.RFR_FMP_Msk != 0
	return tx, rx
}
