package sim

import (
	"sync"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/fdcan"
	"github.com/roffe/canfw/pkg/irq"
)

// ackIdle marks a receive FIFO acknowledge register the node has already
// consumed; drivers only ever write element indexes.
const ackIdle = 0xFFFFFFFF

const (
	rxFIFO0Group = fdcan.IR_RF0N | fdcan.IR_RF0F | fdcan.IR_RF0L
	rxFIFO1Group = fdcan.IR_RF1N | fdcan.IR_RF1F | fdcan.IR_RF1L
	smsgGroup    = fdcan.IR_TC | fdcan.IR_TCF | fdcan.IR_HPM
	tferrGroup   = fdcan.IR_TFE | fdcan.IR_TEFN
	txFlags      = fdcan.IR_TC | fdcan.IR_TFE
	rxFlags      = fdcan.IR_RF0N | fdcan.IR_RF1N
)

// FlexibleNode models an FDCAN instance running classic frames.
type FlexibleNode struct {
	name  string
	index int
	regs  *fdcan.Registers
	vec   vectors

	mu sync.Mutex
	// receive FIFO get index and fill level
	rxGet  [fdcan.NumRxFIFOs]uint32
	rxFill [fdcan.NumRxFIFOs]uint32
	// transmit FIFO get index and fill level
	txGet    uint32
	txFill   uint32
	stalled  bool
	recovery int
}

// NewFlexibleNode returns an instance in its reset state: initialization
// mode with an empty transmit FIFO.
func NewFlexibleNode(name string, index int) *FlexibleNode {
	n := &FlexibleNode{name: name, index: index, regs: &fdcan.Registers{}}
	n.regs.CCCR.Set(fdcan.CCCR_INIT)
	for i := range n.regs.RXF {
		n.regs.RXF[i].A.Set(ackIdle)
	}
	n.publish()
	return n
}

func (n *FlexibleNode) Name() string {
	return n.name
}

func (n *FlexibleNode) Registers() *fdcan.Registers {
	return n.regs
}

// Peripheral returns the driver handle for this instance.
func (n *FlexibleNode) Peripheral(family string) *fdcan.Peripheral {
	pins, _ := fdcan.DefaultPins(family)
	return &fdcan.Peripheral{
		Regs:   n.regs,
		Index:  n.index,
		Pins:   pins,
		RxFIFO: canfw.FIFO0,
		Sync:   n.Sync,
	}
}

// ConnectInterrupts routes the transmit and receive interrupt sources to
// handlers run through ctl, whichever line they are assigned to.
func (n *FlexibleNode) ConnectInterrupts(ctl *irq.Controller, tx, rx func()) {
	n.vec.connect(ctl, tx, rx)
}

func (n *FlexibleNode) vectors() *vectors {
	return &n.vec
}

func (n *FlexibleNode) SetStalled(stalled bool) {
	n.mu.Lock()
	n.stalled = stalled
	n.mu.Unlock()
}

// InjectBusOff forces the instance bus-off. Like the silicon it drops
// into initialization; recovery starts once software clears INIT.
func (n *FlexibleNode) InjectBusOff() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.regs.PSR.SetBits(fdcan.PSR_BO | fdcan.PSR_EP | fdcan.PSR_EW)
	n.regs.ECR.Set(0xFF)
	n.regs.CCCR.SetBits(fdcan.CCCR_INIT)
	n.regs.IR.SetBits(fdcan.IR_BO)
	n.recovery = -1
}

// publish mirrors the FIFO state into the status registers.
func (n *FlexibleNode) publish() {
	r := n.regs
	for i := range n.rxGet {
		put := (n.rxGet[i] + n.rxFill[i]) % fdcan.FIFODepth
		s := n.rxFill[i] | n.rxGet[i]<<fdcan.RXFS_FGI_Pos | put<<fdcan.RXFS_FPI_Pos
		if n.rxFill[i] == fdcan.FIFODepth {
			s |= fdcan.RXFS_FF
		}
		r.RXF[i].S.Set(s)
	}
	free := fdcan.NumTxElements - n.txFill
	put := (n.txGet + n.txFill) % fdcan.NumTxElements
	q := free | n.txGet<<fdcan.TXFQS_TFGI_Pos | put<<fdcan.TXFQS_TFQPI_Pos
	if free == 0 {
		q |= fdcan.TXFQS_TFQF
	}
	r.TXFQS.Set(q)
}

func (n *FlexibleNode) Sync() {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := n.regs

	if r.CCCR.HasBits(fdcan.CCCR_CSR) {
		r.CCCR.SetBits(fdcan.CCCR_CSA)
	} else {
		r.CCCR.ClearBits(fdcan.CCCR_CSA)
	}
	if r.CCCR.HasBits(fdcan.CCCR_INIT) && n.txFill > 0 && !r.PSR.HasBits(fdcan.PSR_BO) {
		// initialization cancels pending requests
		n.txFill = 0
		r.TXBRP.Set(0)
	}

	if req := r.TXBAR.Get(); req != 0 {
		r.TXBAR.Set(0)
		put := (n.txGet + n.txFill) % fdcan.NumTxElements
		if req&(1<<put) != 0 && n.txFill < fdcan.NumTxElements {
			r.TXBRP.SetBits(1 << put)
			n.txFill++
		}
	}

	if w := r.IR.TakeWritten(); w != 0 {
		r.IR.ClearBits(w)
	}

	for i := range r.RXF {
		ack := r.RXF[i].A.Get()
		if ack == ackIdle {
			continue
		}
		if n.rxFill[i] > 0 && ack == n.rxGet[i] {
			n.rxGet[i] = (n.rxGet[i] + 1) % fdcan.FIFODepth
			n.rxFill[i]--
		}
		r.RXF[i].A.Set(ackIdle)
	}
	n.publish()
}

func (n *FlexibleNode) online() bool {
	return !n.regs.CCCR.HasBits(fdcan.CCCR_INIT) && !n.regs.PSR.HasBits(fdcan.PSR_BO)
}

func (n *FlexibleNode) arbitrate() (uint64, canfw.Frame, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stalled || !n.online() || n.txFill == 0 {
		return 0, canfw.Frame{}, false
	}
	el := &n.regs.RAM.Tx[n.txGet]
	id, ext := fdcan.UnpackID(el.T0.Get())
	length := (el.T1.Get() >> fdcan.E1_DLC_Pos) & fdcan.E1_DLC_Msk
	f := canfw.NewFrameLen(id, uint8(length), fdcan.UnpackData(el.Data[0].Get(), el.Data[1].Get()), ext)
	return arbitrationKey(f), f, true
}

func (n *FlexibleNode) transmitted() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.txFill == 0 {
		return
	}
	r := n.regs
	bit := uint32(1) << n.txGet
	r.TXBRP.ClearBits(bit)
	r.TXBTO.SetBits(bit)
	if r.TXBTIE.Get()&bit != 0 {
		r.IR.SetBits(fdcan.IR_TC)
	}
	n.txGet = (n.txGet + 1) % fdcan.NumTxElements
	n.txFill--
	if n.txFill == 0 {
		r.IR.SetBits(fdcan.IR_TFE)
	}
	n.publish()
}

// match runs the standard or extended filter list and returns the target
// FIFO and filter index.
func (n *FlexibleNode) match(f canfw.Frame) (fifo int, index uint8, ok bool) {
	r := n.regs
	gfc := r.RXGFC.Get()
	id := f.ID()
	if f.Extended() {
		count := min((gfc>>fdcan.RXGFC_LSE_Pos)&fdcan.RXGFC_LSE_Msk, fdcan.NumExtFilters)
		for i := uint32(0); i < count; i++ {
			f0, f1 := r.RAM.Ext[i].F0.Get(), r.RAM.Ext[i].F1.Get()
			config := f0 >> fdcan.FilterEC_Pos_Ext
			if target, hit := filterHit(f1>>fdcan.ExtFilterType_Pos, config, id, f0&fdcan.E0_ID_Msk, f1&fdcan.E0_ID_Msk); hit {
				return target, uint8(i), target >= 0
			}
		}
		return nonMatching((gfc >> fdcan.RXGFC_ANFE_Pos) & fdcan.RXGFC_ANF_Msk)
	}
	count := min((gfc>>fdcan.RXGFC_LSS_Pos)&fdcan.RXGFC_LSS_Msk, fdcan.NumStdFilters)
	for i := uint32(0); i < count; i++ {
		e := r.RAM.Std[i].Get()
		id1 := (e >> fdcan.SFID1_Pos) & fdcan.SFID_Msk
		id2 := e & fdcan.SFID_Msk
		if target, hit := filterHit(e>>fdcan.SFT_Pos, (e>>fdcan.SFEC_Pos)&0x7, id, id1, id2); hit {
			return target, uint8(i), target >= 0
		}
	}
	return nonMatching((gfc >> fdcan.RXGFC_ANFS_Pos) & fdcan.RXGFC_ANF_Msk)
}

// filterHit evaluates one filter element. target is -1 for a reject
// element.
func filterHit(kind, config, id, id1, id2 uint32) (target int, hit bool) {
	if config == fdcan.FilterDisable {
		return 0, false
	}
	switch kind & 0x3 {
	case fdcan.FilterRange:
		hit = id1 <= id && id <= id2
	case fdcan.FilterDual:
		hit = id == id1 || id == id2
	case fdcan.FilterMask:
		hit = id&id2 == id1&id2
	}
	switch config {
	case fdcan.FilterToFIFO0:
		return 0, hit
	case fdcan.FilterToFIFO1:
		return 1, hit
	default:
		return -1, hit
	}
}

func nonMatching(mode uint32) (int, uint8, bool) {
	switch mode {
	case 0:
		return 0, 0x7F, true
	case 1:
		return 1, 0x7F, true
	}
	return 0, 0, false
}

func (n *FlexibleNode) deliver(f canfw.Frame, tick uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.online() {
		return
	}
	fifo, fidx, ok := n.match(f)
	if !ok {
		return
	}
	r := n.regs
	newMsg, full, lost := uint32(fdcan.IR_RF0N), uint32(fdcan.IR_RF0F), uint32(fdcan.IR_RF0L)
	if fifo == 1 {
		newMsg, full, lost = fdcan.IR_RF1N, fdcan.IR_RF1F, fdcan.IR_RF1L
	}
	if n.rxFill[fifo] == fdcan.FIFODepth {
		r.IR.SetBits(lost)
		return
	}
	put := (n.rxGet[fifo] + n.rxFill[fifo]) % fdcan.FIFODepth
	el := &r.RAM.RxFIFO[fifo][put]
	el.R0.Set(fdcan.PackID(f.ID(), f.Extended()))
	el.R1.Set(uint32(f.Len())<<fdcan.E1_DLC_Pos | uint32(fidx)<<fdcan.R1_FIDX_Pos | tick&fdcan.R1_RXTS_Msk)
	lo, hi := fdcan.PackData(f.Payload())
	el.Data[0].Set(lo)
	el.Data[1].Set(hi)
	n.rxFill[fifo]++
	n.publish()
	r.IR.SetBits(newMsg)
	if n.rxFill[fifo] == fdcan.FIFODepth {
		r.IR.SetBits(full)
	}
}

func (n *FlexibleNode) tick(opts *Options) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := n.regs
	if !r.PSR.HasBits(fdcan.PSR_BO) || r.CCCR.HasBits(fdcan.CCCR_INIT) {
		return
	}
	if n.recovery < 0 {
		n.recovery = opts.RecoverySteps
	}
	if n.recovery--; n.recovery <= 0 {
		r.PSR.ClearBits(fdcan.PSR_BO | fdcan.PSR_EP | fdcan.PSR_EW)
		r.ECR.Set(0)
		n.recovery = 0
	}
}

func (n *FlexibleNode) lineEnabled(ilsBit uint32) bool {
	ile := n.regs.ILE.Get()
	if n.regs.ILS.Get()&ilsBit != 0 {
		return ile&fdcan.ILE_EINT1 != 0
	}
	return ile&fdcan.ILE_EINT0 != 0
}

func (n *FlexibleNode) pendingIRQ() (tx, rx bool) {
	r := n.regs
	active := r.IR.Get() & r.IE.Get()
	if active&smsgGroup&txFlags != 0 && n.lineEnabled(fdcan.ILS_SMSG) {
		tx = true
	}
	if active&tferrGroup&txFlags != 0 && n.lineEnabled(fdcan.ILS_TFERR) {
		tx = true
	}
	if active&rxFIFO0Group&rxFlags != 0 && n.lineEnabled(fdcan.ILS_RXFIFO0) {
		rx = true
	}
	if active&rxFIFO1Group&rxFlags != 0 && n.lineEnabled(fdcan.ILS_RXFIFO1) {
		rx = true
	}
	return tx, rx
}
