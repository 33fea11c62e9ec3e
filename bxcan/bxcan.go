// Package bxcan drives the classic bxCAN peripheral found on the
// STM32L4 and STM32F4 parts: three transmit mailboxes, two receive FIFOs
// three frames deep and 14 filter banks per controller.
package bxcan

import (
	"fmt"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/pkg/hw"
)

// handshakeSpins bounds every wait on an INAK/SLAK acknowledge.
const handshakeSpins = 10_000

const (
	StdIDsPerBank = 4
	ExtIDsPerBank = 2
)

// acceptAll is the 32-bit mask filter used by FilterAll. The low three bits
// cover IDE, RTR and a reserved bit and are left out of the match.
const (
	acceptAllFR1 = 0xFFE0FFF8
	acceptAllFR2 = 0x00000000
)

// Peripheral is the exclusive handle to one bxCAN controller.
type Peripheral struct {
	Regs *Registers
	// Index is the controller number, 1 for CAN1.
	Index  int
	Pins   hw.Pins
	RxFIFO canfw.FIFO
	// Sync lets a modelled controller react to a register write before
	// the driver's next access, and clocks it while the driver waits on
	// an acknowledge. Nil on silicon.
	Sync func()
}

func (p *Peripheral) String() string {
	return fmt.Sprintf("CAN%d (%s, FIFO%d)", p.Index, p.Pins, p.RxFIFO)
}

// Transceiver implements canfw.Transceiver on a bxCAN controller.
type Transceiver struct {
	p *Peripheral
	r *Registers
}

var _ canfw.Transceiver = (*Transceiver)(nil)

func New(p *Peripheral) *Transceiver {
	return &Transceiver{p: p, r: p.Regs}
}

func (t *Transceiver) Peripheral() *Peripheral {
	return t.p
}

func (t *Transceiver) wait(op string, ready func() bool) error {
	if !hw.WaitFor(ready, handshakeSpins, t.p.Sync) {
		return &canfw.TimeoutError{Op: fmt.Sprintf("CAN%d %s", t.p.Index, op), Polls: handshakeSpins}
	}
	return nil
}

func (t *Transceiver) sync() {
	if t.p.Sync != nil {
		t.p.Sync()
	}
}

func (t *Transceiver) enterInit() error {
	t.r.MCR.ClearBits(MCR_SLEEP)
	if err := t.wait("wake", func() bool { return !t.r.MSR.HasBits(MSR_SLAK) }); err != nil {
		return err
	}
	t.r.MCR.SetBits(MCR_INRQ)
	return t.wait("init request", func() bool { return t.r.MSR.HasBits(MSR_INAK) })
}

// Init leaves sleep, enters initialization mode and programs the bit
// timing. Auto bus-off recovery, chronological transmit order and
// automatic retransmission are enabled. Every bxCAN bank can hold either
// ID type, so extended does not change the layout.
func (t *Transceiver) Init(rate canfw.BaudRate, _ bool) error {
	if rate == 0 {
		return fmt.Errorf("CAN%d init: zero prescaler", t.p.Index)
	}
	if err := t.enterInit(); err != nil {
		return err
	}
	t.r.MCR.ClearBits(MCR_TTCM | MCR_AWUM | MCR_NART | MCR_RFLM)
	t.r.MCR.SetBits(MCR_ABOM | MCR_TXFP)

	timing := rate.Timing()
	t.r.BTR.Set((timing.Prescaler-1)<<BTR_BRP_Pos&BTR_BRP_Msk |
		uint32(timing.Seg1-1)<<BTR_TS1_Pos&BTR_TS1_Msk |
		uint32(timing.Seg2-1)<<BTR_TS2_Pos&BTR_TS2_Msk |
		uint32(timing.SJW-1)<<BTR_SJW_Pos&BTR_SJW_Msk)
	return nil
}

func (t *Transceiver) fifoPendingIE() uint32 {
	if t.p.RxFIFO == canfw.FIFO1 {
		return IER_FMPIE1
	}
	return IER_FMPIE0
}

// Start leaves initialization mode and enables the message pending
// interrupt of the peripheral's receive FIFO.
func (t *Transceiver) Start() error {
	t.r.MCR.ClearBits(MCR_INRQ)
	if err := t.wait("start", func() bool { return !t.r.MSR.HasBits(MSR_INAK) }); err != nil {
		return err
	}
	t.r.IER.SetBits(t.fifoPendingIE())
	return nil
}

// Stop returns the controller to initialization mode. Pending mailboxes
// are aborted by the hardware.
func (t *Transceiver) Stop() error {
	t.r.IER.ClearBits(IER_TMEIE | t.fifoPendingIE())
	t.r.MCR.SetBits(MCR_INRQ)
	return t.wait("stop", func() bool { return t.r.MSR.HasBits(MSR_INAK) })
}

func (t *Transceiver) fifoAssignment(bank int) {
	if t.p.RxFIFO == canfw.FIFO1 {
		t.r.FFA1R.SetBits(1 << bank)
	} else {
		t.r.FFA1R.ClearBits(1 << bank)
	}
}

// FilterAll routes every frame to the peripheral's FIFO through one 32-bit
// mask filter in bank 0.
func (t *Transceiver) FilterAll() error {
	t.r.FMR.SetBits(FMR_FINIT)
	t.r.FA1R.Set(0)
	t.r.FM1R.ClearBits(1)
	t.r.FS1R.SetBits(1)
	t.fifoAssignment(0)
	t.r.Filter[0].FR1.Set(acceptAllFR1)
	t.r.Filter[0].FR2.Set(acceptAllFR2)
	t.r.FA1R.SetBits(1)
	t.r.FMR.ClearBits(FMR_FINIT)
	return nil
}

// FilterList installs identifier list filters: four standard IDs per bank
// in 16-bit scale or two extended IDs per bank in 32-bit scale.
func (t *Transceiver) FilterList(ids []uint32, extended bool) error {
	if len(ids) == 0 {
		return t.FilterAll()
	}
	perBank := StdIDsPerBank
	if extended {
		perBank = ExtIDsPerBank
	}

	t.r.FMR.SetBits(FMR_FINIT)
	t.r.FA1R.Set(0)
	fits, err := canfw.PartitionIDs(ids, perBank, NumFilterBanks, func(bank int, group []uint32) error {
		t.r.FM1R.SetBits(1 << bank)
		if extended {
			t.r.FS1R.SetBits(1 << bank)
			t.r.Filter[bank].FR1.Set(PackID(group[0], true))
			t.r.Filter[bank].FR2.Set(PackID(group[1], true))
		} else {
			t.r.FS1R.ClearBits(1 << bank)
			t.r.Filter[bank].FR1.Set(listEntry(group[3])<<16 | listEntry(group[1]))
			t.r.Filter[bank].FR2.Set(listEntry(group[2])<<16 | listEntry(group[0]))
		}
		t.fifoAssignment(bank)
		t.r.FA1R.SetBits(1 << bank)
		return nil
	})
	t.r.FMR.ClearBits(FMR_FINIT)
	if err != nil {
		return fmt.Errorf("CAN%d filter list: %w", t.p.Index, err)
	}
	if !fits {
		return t.FilterAll()
	}
	return nil
}

// listEntry is a 16-bit scale filter entry: STID in bits 15:5.
func listEntry(id uint32) uint32 {
	return (id & canfw.StandardIDMask) << 5
}

// Send loads f into the first empty transmit mailbox and requests
// transmission. Error when the controller is bus-off or all three
// mailboxes are pending.
func (t *Transceiver) Send(f canfw.Frame) canfw.Status {
	if t.r.ESR.HasBits(ESR_BOFF) {
		return canfw.Error
	}
	tsr := t.r.TSR.Get()
	box := -1
	for i := 0; i < NumTxMailboxes; i++ {
		if tsr&(TSR_TME0<<i) != 0 {
			box = i
			break
		}
	}
	if box < 0 {
		return canfw.Error
	}

	h := f.ClassicHeader()
	ir := PackID(h.StdID, false)
	if h.IDE == canfw.ExtendedID {
		ir = PackID(h.ExtID, true)
	}
	if h.RTR {
		ir |= IR_RTR
	}
	lo, hi := PackData(f.Payload())

	mb := &t.r.TX[box]
	mb.TIR.Set(ir)
	mb.TDTR.ReplaceBits(uint32(h.DLC), DTR_DLC_Msk, 0)
	mb.TDLR.Set(lo)
	mb.TDHR.Set(hi)
	mb.TIR.SetBits(IR_TXRQ)
	t.sync()
	return canfw.Ok
}

// Receive reads and releases the oldest frame of fifo. Error when the
// controller is bus-off, whatever the FIFO holds.
func (t *Transceiver) Receive(fifo canfw.FIFO, f *canfw.Frame) canfw.Status {
	if fifo > canfw.FIFO1 || t.r.ESR.HasBits(ESR_BOFF) {
		return canfw.Error
	}
	rfr := &t.r.RFR[fifo]
	if rfr.Get()&RFR_FMP_Msk == 0 {
		return canfw.Empty
	}
	mb := &t.r.RX[fifo]
	ir := mb.RIR.Get()
	dtr := mb.RDTR.Get()
	data := UnpackData(mb.RDLR.Get(), mb.RDHR.Get())
	rfr.Write1(RFR_RFOM)
	t.sync()

	id, ext := UnpackID(ir)
	h := canfw.ClassicRxHeader{
		RTR:              ir&IR_RTR != 0,
		DLC:              uint8(dtr & DTR_DLC_Msk),
		FilterMatchIndex: uint8((dtr & DTR_FMI_Msk) >> DTR_FMI_Pos),
		Timestamp:        uint16((dtr & DTR_TIME_Msk) >> DTR_TIME_Pos),
	}
	if ext {
		h.IDE = canfw.ExtendedID
		h.ExtID = id
	} else {
		h.StdID = id
	}
	*f = canfw.FrameFromClassic(h, data)
	return canfw.Ok
}

// EnableTxInterrupt arms the transmit mailbox empty interrupt.
func (t *Transceiver) EnableTxInterrupt() {
	t.r.IER.SetBits(IER_TMEIE)
}

func (t *Transceiver) DisableTxInterrupt() {
	t.r.IER.ClearBits(IER_TMEIE)
}

// AckTxInterrupt clears the request completed flags that raise the
// transmit interrupt.
func (t *Transceiver) AckTxInterrupt() {
	t.r.TSR.Write1(TSR_RQCP0 | TSR_TXOK0 | TSR_RQCP1 | TSR_TXOK1 | TSR_RQCP2 | TSR_TXOK2)
	t.sync()
}

// AckRxInterrupt clears the overrun and full flags of the receive FIFO.
// Message pending is a level and needs no acknowledge.
func (t *Transceiver) AckRxInterrupt() {
	t.r.RFR[t.p.RxFIFO].Write1(RFR_FULL | RFR_FOVR)
	t.sync()
}

// ErrorCounters returns the transmit and receive error counters.
func (t *Transceiver) ErrorCounters() (tec, rec uint8) {
	esr := t.r.ESR.Get()
	return uint8((esr & ESR_TEC_Msk) >> ESR_TEC_Pos), uint8((esr & ESR_REC_Msk) >> ESR_REC_Pos)
}

// BusOff reports whether the controller is in the bus-off state.
func (t *Transceiver) BusOff() bool {
	return t.r.ESR.HasBits(ESR_BOFF)
}
