package bxcan

import "github.com/roffe/canfw/pkg/hw"

const (
	NumTxMailboxes = 3
	NumRxFIFOs     = 2
	FIFODepth      = 3
	NumFilterBanks = 14
)

// TxMailbox is one transmit mailbox.
type TxMailbox struct {
	TIR  hw.Reg32
	TDTR hw.Reg32
	TDLR hw.Reg32
	TDHR hw.Reg32
}

// RxMailbox is the output window of one receive FIFO.
type RxMailbox struct {
	RIR  hw.Reg32
	RDTR hw.Reg32
	RDLR hw.Reg32
	RDHR hw.Reg32
}

type FilterBank struct {
	FR1 hw.Reg32
	FR2 hw.Reg32
}

// Registers is the bxCAN register block.
type Registers struct {
	MCR hw.Reg32
	MSR hw.Reg32
	TSR hw.Reg32
	RFR [NumRxFIFOs]hw.Reg32
	IER hw.Reg32
	ESR hw.Reg32
	BTR hw.Reg32

	TX [NumTxMailboxes]TxMailbox
	RX [NumRxFIFOs]RxMailbox

	FMR    hw.Reg32
	FM1R   hw.Reg32
	FS1R   hw.Reg32
	FFA1R  hw.Reg32
	FA1R   hw.Reg32
	Filter [NumFilterBanks]FilterBank
}

// MCR
const (
	MCR_INRQ  = 1 << 0
	MCR_SLEEP = 1 << 1
	MCR_TXFP  = 1 << 2
	MCR_RFLM  = 1 << 3
	MCR_NART  = 1 << 4
	MCR_AWUM  = 1 << 5
	MCR_ABOM  = 1 << 6
	MCR_TTCM  = 1 << 7
	MCR_RESET = 1 << 15
)

// MSR
const (
	MSR_INAK = 1 << 0
	MSR_SLAK = 1 << 1
)

// TSR
const (
	TSR_RQCP0 = 1 << 0
	TSR_TXOK0 = 1 << 1
	TSR_RQCP1 = 1 << 8
	TSR_TXOK1 = 1 << 9
	TSR_RQCP2 = 1 << 16
	TSR_TXOK2 = 1 << 17

	TSR_CODE_Pos = 24
	TSR_CODE_Msk = 0x3 << TSR_CODE_Pos
	TSR_TME0     = 1 << 26
	TSR_TME1     = 1 << 27
	TSR_TME2     = 1 << 28
	TSR_TME      = TSR_TME0 | TSR_TME1 | TSR_TME2
)

// RF0R / RF1R
const (
	RFR_FMP_Msk = 0x3
	RFR_FULL    = 1 << 3
	RFR_FOVR    = 1 << 4
	RFR_RFOM    = 1 << 5
)

// IER
const (
	IER_TMEIE  = 1 << 0
	IER_FMPIE0 = 1 << 1
	IER_FFIE0  = 1 << 2
	IER_FOVIE0 = 1 << 3
	IER_FMPIE1 = 1 << 4
	IER_FFIE1  = 1 << 5
	IER_FOVIE1 = 1 << 6
	IER_BOFIE  = 1 << 10
	IER_ERRIE  = 1 << 15
)

// ESR
const (
	ESR_EWGF    = 1 << 0
	ESR_EPVF    = 1 << 1
	ESR_BOFF    = 1 << 2
	ESR_LEC_Pos = 4
	ESR_LEC_Msk = 0x7 << ESR_LEC_Pos
	ESR_TEC_Pos = 16
	ESR_TEC_Msk = 0xFF << ESR_TEC_Pos
	ESR_REC_Pos = 24
	ESR_REC_Msk = 0xFF << ESR_REC_Pos
)

// BTR fields hold value-1.
const (
	BTR_BRP_Pos = 0
	BTR_BRP_Msk = 0x3FF << BTR_BRP_Pos
	BTR_TS1_Pos = 16
	BTR_TS1_Msk = 0xF << BTR_TS1_Pos
	BTR_TS2_Pos = 20
	BTR_TS2_Msk = 0x7 << BTR_TS2_Pos
	BTR_SJW_Pos = 24
	BTR_SJW_Msk = 0x3 << BTR_SJW_Pos
	BTR_LBKM    = 1 << 30
	BTR_SILM    = 1 << 31
)

// TIxR / RIxR
const (
	IR_TXRQ     = 1 << 0
	IR_RTR      = 1 << 1
	IR_IDE      = 1 << 2
	IR_EXID_Pos = 3
	IR_EXID_Msk = 0x1FFFFFFF << IR_EXID_Pos
	IR_STID_Pos = 21
	IR_STID_Msk = 0x7FF << IR_STID_Pos
)

// TDTxR / RDTxR
const (
	DTR_DLC_Msk  = 0xF
	DTR_FMI_Pos  = 8
	DTR_FMI_Msk  = 0xFF << DTR_FMI_Pos
	DTR_TIME_Pos = 16
	DTR_TIME_Msk = 0xFFFF << DTR_TIME_Pos
)

// FMR
const (
	FMR_FINIT      = 1 << 0
	FMR_CAN2SB_Pos = 8
	FMR_CAN2SB_Msk = 0x3F << FMR_CAN2SB_Pos
)

// PackID encodes an identifier the way TIxR and RIxR hold it, without
// the TXRQ bit.
func PackID(id uint32, extended bool) uint32 {
	if extended {
		return (id&0x1FFFFFFF)<<IR_EXID_Pos | IR_IDE
	}
	return (id & 0x7FF) << IR_STID_Pos
}

// UnpackID reverses PackID.
func UnpackID(ir uint32) (id uint32, extended bool) {
	if ir&IR_IDE != 0 {
		return (ir & IR_EXID_Msk) >> IR_EXID_Pos, true
	}
	return (ir & IR_STID_Msk) >> IR_STID_Pos, false
}

// PackData loads eight payload bytes into the low and high data
// registers, byte 0 in the least significant position.
func PackData(data [8]byte) (lo, hi uint32) {
	lo = uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	hi = uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24
	return lo, hi
}

func UnpackData(lo, hi uint32) (data [8]byte) {
	for i := 0; i < 4; i++ {
		data[i] = byte(lo >> (8 * i))
		data[i+4] = byte(hi >> (8 * i))
	}
	return data
}
