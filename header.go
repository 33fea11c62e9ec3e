package canfw

// DataLengthScalar converts a byte count into the flexible family's data
// length code field. Only valid for lengths up to 8.
const DataLengthScalar = 0x10000

type IDType uint8

const (
	StandardID IDType = iota
	ExtendedID
)

// ClassicTxHeader is the transmit header of the classic family. DLC is
// the byte count.
type ClassicTxHeader struct {
	StdID uint32
	ExtID uint32
	IDE   IDType
	RTR   bool
	DLC   uint8
}

// ClassicRxHeader is what the classic family reports for a received
// frame.
type ClassicRxHeader struct {
	StdID            uint32
	ExtID            uint32
	IDE              IDType
	RTR              bool
	DLC              uint8
	FilterMatchIndex uint8
	Timestamp        uint16
}

// FlexibleTxHeader is the transmit header of the flexible family.
// DataLength holds the length scaled by DataLengthScalar.
type FlexibleTxHeader struct {
	Identifier    uint32
	IDType        IDType
	RemoteFrame   bool
	DataLength    uint32
	FDFormat      bool
	BitRateSwitch bool
}

// FlexibleRxHeader is what the flexible family reports for a received
// frame.
type FlexibleRxHeader struct {
	Identifier  uint32
	IDType      IDType
	RemoteFrame bool
	DataLength  uint32
	FDFormat    bool
	FilterIndex uint8
	Timestamp   uint16
}

func (f Frame) idType() IDType {
	if f.extended {
		return ExtendedID
	}
	return StandardID
}

// ClassicHeader builds the classic family transmit header.
func (f Frame) ClassicHeader() ClassicTxHeader {
	return ClassicTxHeader{
		StdID: min(f.id, StandardIDMask),
		ExtID: min(f.id, ExtendedIDMask),
		IDE:   f.idType(),
		DLC:   f.length,
	}
}

// FlexibleHeader builds the flexible family transmit header, always in
// classic (non-FD) format.
func (f Frame) FlexibleHeader() FlexibleTxHeader {
	return FlexibleTxHeader{
		Identifier: f.id,
		IDType:     f.idType(),
		DataLength: uint32(f.length) * DataLengthScalar,
	}
}

// FrameFromClassic builds a frame from a classic receive header and the
// eight data bytes read alongside it.
func FrameFromClassic(h ClassicRxHeader, data [MaxDataLength]byte) Frame {
	if h.IDE == ExtendedID {
		return NewFrameLen(h.ExtID, h.DLC, data, true)
	}
	return NewFrameLen(h.StdID, h.DLC, data, false)
}

// FrameFromFlexible builds a frame from a flexible receive header and the
// eight data bytes read alongside it.
func FrameFromFlexible(h FlexibleRxHeader, data [MaxDataLength]byte) Frame {
	length := h.DataLength / DataLengthScalar
	return NewFrameLen(h.Identifier, uint8(min(length, MaxDataLength)), data, h.IDType == ExtendedID)
}
