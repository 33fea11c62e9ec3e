package fdcan

import "github.com/roffe/canfw/pkg/hw"

const (
	NumStdFilters  = 28
	NumExtFilters  = 8
	NumRxFIFOs     = 2
	FIFODepth      = 3
	NumTxElements  = 3
	NumTxEventElem = 3
)

// RxElement is one receive FIFO element holding a classic frame.
type RxElement struct {
	R0   hw.Reg32
	R1   hw.Reg32
	Data [2]hw.Reg32
}

// TxElement is one transmit buffer element holding a classic frame.
type TxElement struct {
	T0   hw.Reg32
	T1   hw.Reg32
	Data [2]hw.Reg32
}

type ExtFilter struct {
	F0 hw.Reg32
	F1 hw.Reg32
}

// MessageRAM is the fixed message RAM layout of the STM32G4 class FDCAN,
// trimmed to 8 data bytes per element.
type MessageRAM struct {
	Std     [NumStdFilters]hw.Reg32
	Ext     [NumExtFilters]ExtFilter
	RxFIFO  [NumRxFIFOs][FIFODepth]RxElement
	TxEvent [NumTxEventElem][2]hw.Reg32
	Tx      [NumTxElements]TxElement
}

// RxFIFORegs are the status and acknowledge registers of one receive
// FIFO.
type RxFIFORegs struct {
	S hw.Reg32
	A hw.Reg32
}

// Registers is the FDCAN register block plus its message RAM.
type Registers struct {
	CCCR   hw.Reg32
	NBTP   hw.Reg32
	DBTP   hw.Reg32
	PSR    hw.Reg32
	ECR    hw.Reg32
	IR     hw.Reg32
	IE     hw.Reg32
	ILS    hw.Reg32
	ILE    hw.Reg32
	RXGFC  hw.Reg32
	RXF    [NumRxFIFOs]RxFIFORegs
	TXBC   hw.Reg32
	TXFQS  hw.Reg32
	TXBRP  hw.Reg32
	TXBAR  hw.Reg32
	TXBTO  hw.Reg32
	TXBTIE hw.Reg32

	RAM MessageRAM
}

// CCCR
const (
	CCCR_INIT = 1 << 0
	CCCR_CCE  = 1 << 1
	CCCR_ASM  = 1 << 2
	CCCR_CSA  = 1 << 3
	CCCR_CSR  = 1 << 4
	CCCR_MON  = 1 << 5
	CCCR_DAR  = 1 << 6
	CCCR_TEST = 1 << 7
	CCCR_FDOE = 1 << 8
	CCCR_BRSE = 1 << 9
)

// NBTP fields hold value-1.
const (
	NBTP_NTSEG2_Pos = 0
	NBTP_NTSEG2_Msk = 0x7F
	NBTP_NTSEG1_Pos = 8
	NBTP_NTSEG1_Msk = 0xFF
	NBTP_NBRP_Pos   = 16
	NBTP_NBRP_Msk   = 0x1FF
	NBTP_NSJW_Pos   = 25
	NBTP_NSJW_Msk   = 0x7F
)

// DBTP fields hold value-1.
const (
	DBTP_DSJW_Pos   = 0
	DBTP_DSJW_Msk   = 0xF
	DBTP_DTSEG2_Pos = 4
	DBTP_DTSEG2_Msk = 0xF
	DBTP_DTSEG1_Pos = 8
	DBTP_DTSEG1_Msk = 0x1F
	DBTP_DBRP_Pos   = 16
	DBTP_DBRP_Msk   = 0x1F
)

// PSR
const (
	PSR_EP = 1 << 5
	PSR_EW = 1 << 6
	PSR_BO = 1 << 7
)

// ECR
const (
	ECR_TEC_Pos = 0
	ECR_TEC_Msk = 0xFF
	ECR_REC_Pos = 8
	ECR_REC_Msk = 0x7F
)

// IR / IE
const (
	IR_RF0N = 1 << 0
	IR_RF0F = 1 << 1
	IR_RF0L = 1 << 2
	IR_RF1N = 1 << 3
	IR_RF1F = 1 << 4
	IR_RF1L = 1 << 5
	IR_HPM  = 1 << 6
	IR_TC   = 1 << 7
	IR_TCF  = 1 << 8
	IR_TFE  = 1 << 9
	IR_TEFN = 1 << 10
	IR_EP   = 1 << 17
	IR_EW   = 1 << 18
	IR_BO   = 1 << 19
)

// ILS interrupt groups; a set bit routes the group to line 1.
const (
	ILS_RXFIFO0 = 1 << 0
	ILS_RXFIFO1 = 1 << 1
	ILS_SMSG    = 1 << 2
	ILS_TFERR   = 1 << 3
	ILS_MISC    = 1 << 4
	ILS_BERR    = 1 << 5
	ILS_PERR    = 1 << 6
)

// ILE
const (
	ILE_EINT0 = 1 << 0
	ILE_EINT1 = 1 << 1
)

// RXGFC
const (
	RXGFC_RRFE     = 1 << 0
	RXGFC_RRFS     = 1 << 1
	RXGFC_ANFE_Pos = 2
	RXGFC_ANFS_Pos = 4
	RXGFC_ANF_Msk  = 0x3
	RXGFC_LSS_Pos  = 16
	RXGFC_LSS_Msk  = 0x1F
	RXGFC_LSE_Pos  = 24
	RXGFC_LSE_Msk  = 0xF

	// Non-matching frames: 0 FIFO0, 1 FIFO1, 2 reject.
	AcceptNonMatchingReject = 2
)

// RXFnS
const (
	RXFS_FFL_Msk = 0xF
	RXFS_FGI_Pos = 8
	RXFS_FGI_Msk = 0x3
	RXFS_FPI_Pos = 16
	RXFS_FPI_Msk = 0x3
	RXFS_FF      = 1 << 24
	RXFS_RFL     = 1 << 25
)

// TXBC
const (
	TXBC_TFQM = 1 << 24
)

// TXFQS
const (
	TXFQS_TFFL_Msk  = 0x7
	TXFQS_TFGI_Pos  = 8
	TXFQS_TFGI_Msk  = 0x3
	TXFQS_TFQPI_Pos = 16
	TXFQS_TFQPI_Msk = 0x3
	TXFQS_TFQF      = 1 << 21
)

// AllTxBuffers selects the three transmit buffers in TXBAR, TXBTIE and
// friends.
const AllTxBuffers = 1<<NumTxElements - 1

// T0 / R0
const (
	E0_ID_Msk    = 0x1FFFFFFF
	E0_STDID_Pos = 18
	E0_STDID_Msk = 0x7FF
	E0_RTR       = 1 << 29
	E0_XTD       = 1 << 30
	E0_ESI       = 1 << 31
	E1_DLC_Pos   = 16
	E1_DLC_Msk   = 0xF
	E1_BRS       = 1 << 20
	E1_FDF       = 1 << 21
	R1_RXTS_Msk  = 0xFFFF
	R1_FIDX_Pos  = 24
	R1_FIDX_Msk  = 0x7F
	R1_ANMF      = 1 << 31
	T1_EFC       = 1 << 23
	T1_MM_Pos    = 24
)

// Standard filter element
const (
	SFT_Pos   = 30
	SFEC_Pos  = 27
	SFID1_Pos = 16
	SFID_Msk  = 0x7FF

	FilterRange = 0
	FilterDual  = 1
	FilterMask  = 2

	FilterDisable     = 0
	FilterToFIFO0     = 1
	FilterToFIFO1     = 2
	FilterEC_Pos_Ext  = 29
	ExtFilterType_Pos = 30
)

// PackID places an identifier into element word 0.
func PackID(id uint32, extended bool) uint32 {
	if extended {
		return id&E0_ID_Msk | E0_XTD
	}
	return (id & E0_STDID_Msk) << E0_STDID_Pos
}

// UnpackID reads an identifier from element word 0.
func UnpackID(w0 uint32) (id uint32, extended bool) {
	if w0&E0_XTD != 0 {
		return w0 & E0_ID_Msk, true
	}
	return (w0 >> E0_STDID_Pos) & E0_STDID_Msk, false
}

// StdFilterElement builds a standard filter element.
func StdFilterElement(kind, config, id1, id2 uint32) uint32 {
	return kind<<SFT_Pos | config<<SFEC_Pos | (id1&SFID_Msk)<<SFID1_Pos | id2&SFID_Msk
}

// ExtFilterElement builds the two words of an extended filter element.
func ExtFilterElement(kind, config, id1, id2 uint32) (f0, f1 uint32) {
	return config<<FilterEC_Pos_Ext | id1&E0_ID_Msk, kind<<ExtFilterType_Pos | id2&E0_ID_Msk
}

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
