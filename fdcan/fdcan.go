// Package fdcan drives the FDCAN peripheral of the STM32G4, STM32G0 and
// STM32L5 parts in classic frame format. Filters, receive FIFOs and the
// transmit FIFO live in the peripheral's message RAM.
package fdcan

import (
	"fmt"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/pkg/hw"
)

const handshakeSpins = 10_000

const (
	// StdFilterBanks and ExtFilterBanks are the filter elements put to
	// use out of the 28 standard and 8 extended the RAM holds.
	StdFilterBanks = 14
	ExtFilterBanks = 4
	IDsPerFilter   = 2
)

// Config carries the options that differ between board variants.
type Config struct {
	// ClearInitBeforeSend drops CCCR.INIT right before a frame is queued.
	// One board variant needs it to recover a controller that fell back
	// into initialization; off, Send reports Error while INIT is set.
	ClearInitBeforeSend bool
}

// Peripheral is the exclusive handle to one FDCAN instance.
type Peripheral struct {
	Regs *Registers
	// Index is the instance number, 1 for FDCAN1.
	Index  int
	Pins   hw.Pins
	RxFIFO canfw.FIFO
	// Sync lets a modelled controller react to a register write before
	// the driver's next access, and clocks it while the driver waits on
	// an acknowledge. Nil on silicon.
	Sync func()
}

func (p *Peripheral) String() string {
	return fmt.Sprintf("FDCAN%d (%s, FIFO%d)", p.Index, p.Pins, p.RxFIFO)
}

// Transceiver implements canfw.Transceiver on an FDCAN instance.
type Transceiver struct {
	p   *Peripheral
	r   *Registers
	cfg Config
}

var _ canfw.Transceiver = (*Transceiver)(nil)

func New(p *Peripheral, cfg Config) *Transceiver {
	return &Transceiver{p: p, r: p.Regs, cfg: cfg}
}

func (t *Transceiver) Peripheral() *Peripheral {
	return t.p
}

func (t *Transceiver) sync() {
	if t.p.Sync != nil {
		t.p.Sync()
	}
}

func (t *Transceiver) wait(op string, ready func() bool) error {
	if !hw.WaitFor(ready, handshakeSpins, t.p.Sync) {
		return &canfw.TimeoutError{Op: fmt.Sprintf("FDCAN%d %s", t.p.Index, op), Polls: handshakeSpins}
	}
	return nil
}

// Init wakes the instance, enters initialization with configuration
// change enabled and programs nominal and data bit timing alike. Frames
// are classic format with automatic retransmission and the transmit
// buffers run as a FIFO.
func (t *Transceiver) Init(rate canfw.BaudRate, _ bool) error {
	if rate == 0 {
		return fmt.Errorf("FDCAN%d init: zero prescaler", t.p.Index)
	}
	t.r.CCCR.ClearBits(CCCR_CSR)
	if err := t.wait("wake", func() bool { return !t.r.CCCR.HasBits(CCCR_CSA) }); err != nil {
		return err
	}
	t.r.CCCR.SetBits(CCCR_INIT)
	if err := t.wait("init request", func() bool { return t.r.CCCR.HasBits(CCCR_INIT) }); err != nil {
		return err
	}
	t.r.CCCR.SetBits(CCCR_CCE)
	t.r.CCCR.ClearBits(CCCR_DAR | CCCR_FDOE | CCCR_BRSE | CCCR_TEST | CCCR_MON | CCCR_ASM)

	timing := rate.Timing()
	t.r.NBTP.Set((uint32(timing.SJW)-1)&NBTP_NSJW_Msk<<NBTP_NSJW_Pos |
		(timing.Prescaler-1)&NBTP_NBRP_Msk<<NBTP_NBRP_Pos |
		(uint32(timing.Seg1)-1)&NBTP_NTSEG1_Msk<<NBTP_NTSEG1_Pos |
		(uint32(timing.Seg2)-1)&NBTP_NTSEG2_Msk<<NBTP_NTSEG2_Pos)
	// The data phase is never used; its prescaler field is narrower.
	t.r.DBTP.Set((min(timing.Prescaler, DBTP_DBRP_Msk+1)-1)<<DBTP_DBRP_Pos |
		(uint32(timing.Seg1)-1)&DBTP_DTSEG1_Msk<<DBTP_DTSEG1_Pos |
		(uint32(timing.Seg2)-1)&DBTP_DTSEG2_Msk<<DBTP_DTSEG2_Pos |
		(uint32(timing.SJW)-1)&DBTP_DSJW_Msk<<DBTP_DSJW_Pos)

	t.r.TXBC.ClearBits(TXBC_TFQM)
	t.r.RXGFC.ReplaceBits(StdFilterBanks, RXGFC_LSS_Msk, RXGFC_LSS_Pos)
	t.r.RXGFC.ReplaceBits(ExtFilterBanks, RXGFC_LSE_Msk, RXGFC_LSE_Pos)
	return nil
}

func (t *Transceiver) rxGroup() (ils, newMessage uint32) {
	if t.p.RxFIFO == canfw.FIFO1 {
		return ILS_RXFIFO1, IR_RF1N
	}
	return ILS_RXFIFO0, IR_RF0N
}

// Start rejects non-matching and remote frames, routes the receive FIFO
// group to interrupt line 0 and the transmit FIFO group to line 1, and
// leaves initialization.
func (t *Transceiver) Start() error {
	t.r.RXGFC.ReplaceBits(AcceptNonMatchingReject, RXGFC_ANF_Msk, RXGFC_ANFS_Pos)
	t.r.RXGFC.ReplaceBits(AcceptNonMatchingReject, RXGFC_ANF_Msk, RXGFC_ANFE_Pos)
	t.r.RXGFC.SetBits(RXGFC_RRFS | RXGFC_RRFE)

	rxLine, rxNew := t.rxGroup()
	t.r.ILS.ClearBits(rxLine)
	t.r.ILS.SetBits(ILS_TFERR)
	t.r.IE.SetBits(rxNew | IR_TFE)
	t.r.ILE.SetBits(ILE_EINT0 | ILE_EINT1)

	t.r.CCCR.ClearBits(CCCR_INIT)
	return t.wait("start", func() bool { return !t.r.CCCR.HasBits(CCCR_INIT) })
}

// Stop returns the instance to initialization. Pending transmissions are
// cancelled by the hardware.
func (t *Transceiver) Stop() error {
	t.r.ILE.ClearBits(ILE_EINT0 | ILE_EINT1)
	t.r.CCCR.SetBits(CCCR_INIT)
	return t.wait("stop", func() bool { return t.r.CCCR.HasBits(CCCR_INIT) })
}

func (t *Transceiver) filterTarget() uint32 {
	if t.p.RxFIFO == canfw.FIFO1 {
		return FilterToFIFO1
	}
	return FilterToFIFO0
}

func (t *Transceiver) clearFilters() {
	for i := range t.r.RAM.Std {
		t.r.RAM.Std[i].Set(0)
	}
	for i := range t.r.RAM.Ext {
		t.r.RAM.Ext[i].F0.Set(0)
		t.r.RAM.Ext[i].F1.Set(0)
	}
}

// FilterAll installs a zero mask filter in the first standard and the
// first extended element.
func (t *Transceiver) FilterAll() error {
	t.clearFilters()
	t.r.RAM.Std[0].Set(StdFilterElement(FilterMask, t.filterTarget(), 0, 0))
	f0, f1 := ExtFilterElement(FilterMask, t.filterTarget(), 0, 0)
	t.r.RAM.Ext[0].F0.Set(f0)
	t.r.RAM.Ext[0].F1.Set(f1)
	return nil
}

// FilterList installs dual ID filters, two identifiers per element, in
// the standard or the extended element set.
func (t *Transceiver) FilterList(ids []uint32, extended bool) error {
	if len(ids) == 0 {
		return t.FilterAll()
	}
	banks := StdFilterBanks
	if extended {
		banks = ExtFilterBanks
	}
	if len(ids) > banks*IDsPerFilter {
		return t.FilterAll()
	}
	t.clearFilters()
	_, err := canfw.PartitionIDs(ids, IDsPerFilter, banks, func(bank int, group []uint32) error {
		if extended {
			f0, f1 := ExtFilterElement(FilterDual, t.filterTarget(), group[0], group[1])
			t.r.RAM.Ext[bank].F0.Set(f0)
			t.r.RAM.Ext[bank].F1.Set(f1)
			return nil
		}
		t.r.RAM.Std[bank].Set(StdFilterElement(FilterDual, t.filterTarget(), group[0], group[1]))
		return nil
	})
	if err != nil {
		return fmt.Errorf("FDCAN%d filter list: %w", t.p.Index, err)
	}
	return nil
}

// Send writes f to the transmit FIFO put index and requests it. Error
// on bus-off, while the instance is in initialization or when the FIFO
// is full.
func (t *Transceiver) Send(f canfw.Frame) canfw.Status {
	if t.cfg.ClearInitBeforeSend {
		t.r.CCCR.ClearBits(CCCR_INIT)
	}
	if t.r.PSR.HasBits(PSR_BO) || t.r.CCCR.HasBits(CCCR_INIT) {
		return canfw.Error
	}
	fqs := t.r.TXFQS.Get()
	if fqs&TXFQS_TFQF != 0 {
		return canfw.Error
	}
	put := (fqs >> TXFQS_TFQPI_Pos) & TXFQS_TFQPI_Msk

	h := f.FlexibleHeader()
	w0 := PackID(h.Identifier, h.IDType == canfw.ExtendedID)
	if h.RemoteFrame {
		w0 |= E0_RTR
	}
	lo, hi := PackData(f.Payload())

	el := &t.r.RAM.Tx[put]
	el.T0.Set(w0)
	el.T1.Set(h.DataLength)
	el.Data[0].Set(lo)
	el.Data[1].Set(hi)
	t.r.TXBAR.Set(1 << put)
	t.sync()
	return canfw.Ok
}

// Receive reads the element at the FIFO get index and acknowledges it.
// Error on bus-off or while the instance is held in initialization.
func (t *Transceiver) Receive(fifo canfw.FIFO, f *canfw.Frame) canfw.Status {
	if fifo > canfw.FIFO1 || t.r.PSR.HasBits(PSR_BO) || t.r.CCCR.HasBits(CCCR_INIT) {
		return canfw.Error
	}
	rx := &t.r.RXF[fifo]
	s := rx.S.Get()
	if s&RXFS_FFL_Msk == 0 {
		return canfw.Empty
	}
	get := (s >> RXFS_FGI_Pos) & RXFS_FGI_Msk
	if get >= FIFODepth {
		return canfw.Error
	}
	el := &t.r.RAM.RxFIFO[fifo][get]
	w0 := el.R0.Get()
	w1 := el.R1.Get()
	data := UnpackData(el.Data[0].Get(), el.Data[1].Get())
	rx.A.Set(get)
	t.sync()

	id, ext := UnpackID(w0)
	h := canfw.FlexibleRxHeader{
		Identifier:  id,
		RemoteFrame: w0&E0_RTR != 0,
		DataLength:  w1 & (E1_DLC_Msk << E1_DLC_Pos),
		FDFormat:    w1&E1_FDF != 0,
		FilterIndex: uint8((w1 >> R1_FIDX_Pos) & R1_FIDX_Msk),
		Timestamp:   uint16(w1 & R1_RXTS_Msk),
	}
	if ext {
		h.IDType = canfw.ExtendedID
	}
	*f = canfw.FrameFromFlexible(h, data)
	return canfw.Ok
}

// EnableTxInterrupt arms transmission complete for every transmit
// buffer.
func (t *Transceiver) EnableTxInterrupt() {
	t.r.TXBTIE.SetBits(AllTxBuffers)
	t.r.IE.SetBits(IR_TC)
}

func (t *Transceiver) DisableTxInterrupt() {
	t.r.IE.ClearBits(IR_TC)
}

// AckTxInterrupt clears the transmit complete and FIFO empty flags.
func (t *Transceiver) AckTxInterrupt() {
	t.r.IR.Write1(IR_TC | IR_TFE)
	t.sync()
}

// AckRxInterrupt clears the new message, full and lost flags of the
// receive FIFO.
func (t *Transceiver) AckRxInterrupt() {
	if t.p.RxFIFO == canfw.FIFO1 {
		t.r.IR.Write1(IR_RF1N | IR_RF1F | IR_RF1L)
	} else {
		t.r.IR.Write1(IR_RF0N | IR_RF0F | IR_RF0L)
	}
	t.sync()
}

// ErrorCounters returns the transmit and receive error counters.
func (t *Transceiver) ErrorCounters() (tec, rec uint8) {
	ecr := t.r.ECR.Get()
	return uint8((ecr >> ECR_TEC_Pos) & ECR_TEC_Msk), uint8((ecr >> ECR_REC_Pos) & ECR_REC_Msk)
}

func (t *Transceiver) BusOff() bool {
	return t.r.PSR.HasBits(PSR_BO)
}
