package canfw

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/roffe/canfw/pkg/rtc"
)

const (
	// MaxDataLength is the payload size of a classic frame.
	MaxDataLength = 8

	StandardIDMask = 0x7FF
	ExtendedIDMask = 0x1FFFFFFF
)

// Frame is one CAN message. Identifiers wider than the frame's ID type
// are truncated by mask and lengths above 8 are clamped; neither is an
// error. A frame is immutable once built apart from its receive
// timestamp, which can be set once.
type Frame struct {
	id        uint32
	length    uint8
	data      [MaxDataLength]byte
	extended  bool
	stamped   bool
	timestamp rtc.TimePoint
}

// NewFrame builds a frame carrying a copy of up to 8 bytes of data.
func NewFrame(identifier uint32, data []byte, extended bool) Frame {
	f := Frame{
		id:       maskID(identifier, extended),
		length:   uint8(min(len(data), MaxDataLength)),
		extended: extended,
	}
	copy(f.data[:], data)
	return f
}

// NewExtendedFrame builds a 29-bit identifier frame.
func NewExtendedFrame(identifier uint32, data []byte) Frame {
	return NewFrame(identifier, data, true)
}

// NewFrameLen builds a frame from a full payload array and an explicit
// length, clamped to 8.
func NewFrameLen(identifier uint32, length uint8, data [MaxDataLength]byte, extended bool) Frame {
	return Frame{
		id:       maskID(identifier, extended),
		length:   min(length, MaxDataLength),
		data:     data,
		extended: extended,
	}
}

func maskID(id uint32, extended bool) uint32 {
	if extended {
		return id & ExtendedIDMask
	}
	return id & StandardIDMask
}

func (f Frame) ID() uint32 {
	return f.id
}

// Len returns the data length (DLC) in bytes.
func (f Frame) Len() uint8 {
	return f.length
}

func (f Frame) Extended() bool {
	return f.extended
}

// Payload returns the full 8 byte data array; bytes past Len are zero
// unless the frame was built with NewFrameLen.
func (f Frame) Payload() [MaxDataLength]byte {
	return f.data
}

// Data returns a copy of the first Len bytes.
func (f Frame) Data() []byte {
	out := make([]byte, f.length)
	copy(out, f.data[:f.length])
	return out
}

// Timestamp returns the receive time and whether one was set.
func (f Frame) Timestamp() (rtc.TimePoint, bool) {
	return f.timestamp, f.stamped
}

// Stamp records the receive time. Only the first call has an effect.
func (f *Frame) Stamp(tp rtc.TimePoint) bool {
	if f.stamped {
		return false
	}
	f.timestamp = tp
	f.stamped = true
	return true
}

const hexDigits = "0123456789ABCDEF"

// HexDump writes the payload as uppercase hex pairs followed by a NUL
// into dst and returns the number of bytes written, always 2*Len()+1.
// Nothing is written if dst is too short.
func (f Frame) HexDump(dst []byte) int {
	n := 2*int(f.length) + 1
	if len(dst) < n {
		return 0
	}
	for i := 0; i < int(f.length); i++ {
		dst[2*i] = hexDigits[f.data[i]>>4]
		dst[2*i+1] = hexDigits[f.data[i]&0xF]
	}
	dst[n-1] = 0
	return n
}

// Hex returns the payload as uppercase hex.
func (f Frame) Hex() string {
	var buf [2*MaxDataLength + 1]byte
	n := f.HexDump(buf[:])
	return string(buf[:n-1])
}

var (
	yellow = color.New(color.FgHiBlue).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	green  = color.New(color.FgGreen).SprintfFunc()
)

func (f Frame) idString() string {
	if f.extended {
		return fmt.Sprintf("0x%08X", f.id)
	}
	return fmt.Sprintf("0x%03X", f.id)
}

func (f Frame) hexView() string {
	var hexView strings.Builder
	for i := 0; i < int(f.length); i++ {
		hexView.WriteString(fmt.Sprintf("%02X", f.data[i]))
		if i != int(f.length)-1 {
			hexView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-23s", hexView.String())
}

func (f Frame) binView() string {
	var binView strings.Builder
	for i := 0; i < int(f.length); i++ {
		binView.WriteString(fmt.Sprintf("%08b", f.data[i]))
		if i != int(f.length)-1 {
			binView.WriteString(" ")
		}
	}
	return fmt.Sprintf("%-72s", binView.String())
}

func (f Frame) String() string {
	var out strings.Builder
	out.WriteString(f.idString() + " || ")
	out.WriteString(strconv.Itoa(int(f.length)) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(f.binView())
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.data[:f.length]))
	return out.String()
}

func (f Frame) ColorString() string {
	var out strings.Builder
	out.WriteString(green("%s", f.idString()) + " || ")
	out.WriteString(strconv.Itoa(int(f.length)) + " || ")
	out.WriteString(f.hexView())
	out.WriteString(" || ")
	out.WriteString(red("%s", f.binView()))
	out.WriteString(" || ")
	out.WriteString(yellow("%s", onlyPrintable(f.data[:f.length])))
	if tp, ok := f.Timestamp(); ok {
		out.WriteString(" || " + tp.String())
	}
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteString("·")
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}
