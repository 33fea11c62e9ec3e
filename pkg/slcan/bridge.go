package slcan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/roffe/canfw"
)

// Version is what the bridge answers to the V command.
const Version = "V1013"

// Sender puts frames on a bus. *sim.Tap satisfies it.
type Sender interface {
	Send(f canfw.Frame)
}

// Bridge makes a bus look like an SLCAN adapter on the far end of a
// serial line. Commands read from the port are answered in place; frames
// seen on the bus are written to the port while the channel is open.
type Bridge struct {
	port      io.ReadWriter
	bus       Sender
	onMessage func(string)

	wmu  sync.Mutex
	out  []byte
	open atomic.Bool
	kbps atomic.Int32

	rx     atomic.Uint32
	tx     atomic.Uint32
	errors atomic.Uint32
}

// NewBridge ties port to bus. onMessage receives protocol errors and may
// be nil.
func NewBridge(port io.ReadWriter, bus Sender, onMessage func(string)) *Bridge {
	if onMessage == nil {
		onMessage = func(string) {}
	}
	return &Bridge{
		port:      port,
		bus:       bus,
		onMessage: onMessage,
		out:       make([]byte, 0, 32),
	}
}

func (b *Bridge) Open() bool {
	return b.open.Load()
}

// Bitrate is the last rate set with an S command, in kbit/s.
func (b *Bridge) Bitrate() int {
	return int(b.kbps.Load())
}

// Stats returns frames taken from the port, frames written to it and
// rejected commands.
func (b *Bridge) Stats() (rx, tx, errs uint32) {
	return b.rx.Load(), b.tx.Load(), b.errors.Load()
}

// Forward writes f to the port if the channel is open. Use it as the
// bus receive callback.
func (b *Bridge) Forward(f canfw.Frame) {
	if !b.open.Load() {
		return
	}
	b.wmu.Lock()
	defer b.wmu.Unlock()
	b.out = Encode(b.out[:0], f)
	if _, err := b.port.Write(b.out); err != nil {
		b.onMessage(fmt.Sprintf("failed to write to com port: %v", err))
		return
	}
	b.tx.Add(1)
}

func (b *Bridge) reply(s string) {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	b.out = append(append(b.out[:0], s...), CR)
	if _, err := b.port.Write(b.out); err != nil {
		b.onMessage(fmt.Sprintf("failed to write to com port: %v", err))
	}
}

func (b *Bridge) fail(format string, args ...any) {
	b.errors.Add(1)
	b.onMessage(fmt.Sprintf(format, args...))
	b.wmu.Lock()
	defer b.wmu.Unlock()
	b.port.Write([]byte{Bell})
}

// Run reads commands until ctx is done or the port fails. A port that
// reaches EOF ends Run without error.
func (b *Bridge) Run(ctx context.Context) error {
	var split Splitter
	readBuf := make([]byte, 64)
	for ctx.Err() == nil {
		n, err := b.port.Read(readBuf)
		if n > 0 {
			split.Feed(readBuf[:n], b.handle)
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read com port: %w", err)
		}
	}
	return ctx.Err()
}

func (b *Bridge) handle(cmd []byte) {
	switch cmd[0] {
	case 'S':
		if len(cmd) != 2 || b.open.Load() {
			b.fail("bad setup command %q", cmd)
			return
		}
		kbps, err := ParseBitrate(cmd[1])
		if err != nil {
			b.fail("%v", err)
			return
		}
		b.kbps.Store(int32(kbps))
		b.reply("")
	case 'O':
		b.open.Store(true)
		b.reply("")
	case 'C':
		b.open.Store(false)
		b.reply("")
	case 'V':
		b.reply(Version)
	case 'F':
		b.reply("F00")
	case 't', 'T':
		if !b.open.Load() {
			b.fail("frame while closed: %q", cmd)
			return
		}
		f, err := Decode(cmd)
		if err != nil {
			b.fail("%v: %X", err, cmd)
			return
		}
		b.bus.Send(f)
		b.rx.Add(1)
		if f.Extended() {
			b.reply("Z")
		} else {
			b.reply("z")
		}
	default:
		b.fail("unknown>> %s", cmd)
	}
}
