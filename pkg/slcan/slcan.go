// Package slcan speaks the Lawicel serial line CAN protocol: ASCII
// commands terminated by a carriage return, with frames written as
// tIIILDD.. (standard) and TIIIIIIIILDD.. (extended).
package slcan

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/roffe/canfw"
)

const (
	CR   = '\r'
	Bell = 0x07
)

var (
	ErrShortFrame     = errors.New("slcan: frame too short")
	ErrUnknownCommand = errors.New("slcan: unknown command")
	ErrBitrate        = errors.New("slcan: unsupported bitrate")
)

// bitrates indexes the Sn setup codes by n.
var bitrates = [...]int{10, 20, 50, 100, 125, 250, 500, 750, 1000}

// BitrateCommand returns the setup command for kbps.
func BitrateCommand(kbps int) (string, error) {
	for i, r := range bitrates {
		if r == kbps {
			return fmt.Sprintf("S%d\r", i), nil
		}
	}
	return "", fmt.Errorf("%w: %d kbit/s", ErrBitrate, kbps)
}

// ParseBitrate decodes the digit of an Sn command.
func ParseBitrate(code byte) (int, error) {
	n := int(code - '0')
	if n < 0 || n >= len(bitrates) {
		return 0, fmt.Errorf("%w: S%c", ErrBitrate, code)
	}
	return bitrates[n], nil
}

func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// Encode appends the frame command for f, carriage return included, to
// dst and returns the extended slice.
func Encode(dst []byte, f canfw.Frame) []byte {
	id := f.ID()
	digits := 3
	if f.Extended() {
		dst = append(dst, 'T')
		digits = 8
	} else {
		dst = append(dst, 't')
	}
	for i := digits - 1; i >= 0; i-- {
		dst = append(dst, nybbleToHex(byte(id>>(4*i))&0xF))
	}
	data := f.Payload()
	dst = append(dst, nybbleToHex(f.Len()))
	for _, b := range data[:f.Len()] {
		dst = append(dst, nybbleToHex(b>>4), nybbleToHex(b&0xF))
	}
	return append(dst, CR)
}

// Decode parses a t or T command without its carriage return.
func Decode(line []byte) (canfw.Frame, error) {
	if len(line) == 0 {
		return canfw.Frame{}, ErrShortFrame
	}
	digits := 3
	extended := false
	switch line[0] {
	case 't':
	case 'T':
		digits, extended = 8, true
	default:
		return canfw.Frame{}, fmt.Errorf("%w: %q", ErrUnknownCommand, line[0])
	}
	if len(line) < 2+digits {
		return canfw.Frame{}, ErrShortFrame
	}
	id, err := strconv.ParseUint(string(line[1:1+digits]), 16, 32)
	if err != nil {
		return canfw.Frame{}, fmt.Errorf("failed to decode identifier: %w", err)
	}
	dataLen, err := strconv.ParseUint(string(line[1+digits]), 16, 8)
	if err != nil {
		return canfw.Frame{}, fmt.Errorf("failed to decode data length: %w", err)
	}
	if dataLen > canfw.MaxDataLength {
		return canfw.Frame{}, fmt.Errorf("invalid data length: %d", dataLen)
	}
	body := line[2+digits:]
	if len(body) < int(dataLen)*2 {
		return canfw.Frame{}, ErrShortFrame
	}
	var data [canfw.MaxDataLength]byte
	for i := 0; i < int(dataLen); i++ {
		b, err := strconv.ParseUint(string(body[2*i:2*i+2]), 16, 8)
		if err != nil {
			return canfw.Frame{}, fmt.Errorf("failed to decode frame body: %w", err)
		}
		data[i] = byte(b)
	}
	return canfw.NewFrameLen(uint32(id), uint8(dataLen), data, extended), nil
}

// Splitter collects bytes from a stream into complete commands.
type Splitter struct {
	buf []byte
}

// Feed appends chunk and calls fn with every complete command, without
// its carriage return. The slice passed to fn is reused afterwards.
func (s *Splitter) Feed(chunk []byte, fn func(cmd []byte)) {
	for _, b := range chunk {
		if b != CR {
			s.buf = append(s.buf, b)
			continue
		}
		if len(s.buf) > 0 {
			fn(s.buf)
		}
		s.buf = s.buf[:0]
	}
}

// Pending returns the length of the incomplete command buffered so far.
func (s *Splitter) Pending() int {
	return len(s.buf)
}
