package slcan

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/roffe/canfw"
	"github.com/roffe/canfw/pkg/sim"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		frame canfw.Frame
		want  string
	}{
		{"standard", canfw.NewFrame(0x123, []byte{0x8A, 0x1B}, false), "t12328A1B\r"},
		{"empty", canfw.NewFrame(0x7FF, nil, false), "t7FF0\r"},
		{"extended", canfw.NewExtendedFrame(0x18DAF110, []byte{0x02, 0x10, 0x03}), "T18DAF1103021003\r"},
		{"full", canfw.NewFrame(0x001, []byte{1, 2, 3, 4, 5, 6, 7, 8}, false), "t00180102030405060708\r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, string(Encode(nil, tt.frame)))
		})
	}
}

func TestDecode(t *testing.T) {
	f, err := Decode([]byte("t12328A1B"))
	require.NoError(t, err)
	require.EqualValues(t, 0x123, f.ID())
	require.Equal(t, []byte{0x8A, 0x1B}, f.Data())
	require.False(t, f.Extended())

	f, err = Decode([]byte("T18DAF1103021003"))
	require.NoError(t, err)
	require.True(t, f.Extended())
	require.EqualValues(t, 0x18DAF110, f.ID())
	require.Equal(t, []byte{0x02, 0x10, 0x03}, f.Data())

	for _, bad := range []string{"", "t12", "t1239", "t1232AA", "tXYZ0", "t123GAA", "x1230"} {
		_, err := Decode([]byte(bad))
		require.Error(t, err, bad)
	}
	_, err = Decode([]byte("t12"))
	require.ErrorIs(t, err, ErrShortFrame)
}

func TestBitrate(t *testing.T) {
	cmd, err := BitrateCommand(500)
	require.NoError(t, err)
	require.Equal(t, "S6\r", cmd)
	kbps, err := ParseBitrate('6')
	require.NoError(t, err)
	require.Equal(t, 500, kbps)

	_, err = BitrateCommand(615)
	require.ErrorIs(t, err, ErrBitrate)
	_, err = ParseBitrate('9')
	require.ErrorIs(t, err, ErrBitrate)
}

func TestSplitter(t *testing.T) {
	var s Splitter
	var got []string
	collect := func(cmd []byte) { got = append(got, string(cmd)) }
	s.Feed([]byte("O\rt12"), collect)
	require.Equal(t, 3, s.Pending())
	s.Feed([]byte("30\r\r"), collect)
	require.Equal(t, []string{"O", "t1230"}, got)
	require.Zero(t, s.Pending())
}

type fakePort struct {
	in io.Reader

	mu  sync.Mutex
	out bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) {
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.String()
}

type recorder struct {
	frames []canfw.Frame
}

func (r *recorder) Send(f canfw.Frame) {
	r.frames = append(r.frames, f)
}

func TestBridgeCommands(t *testing.T) {
	port := &fakePort{in: strings.NewReader("V\rt1230\rS6\rO\rt1232AABB\rS4\rT000000011FF\rQ\rC\r")}
	bus := &recorder{}
	var msgs []string
	b := NewBridge(port, bus, func(s string) { msgs = append(msgs, s) })

	require.NoError(t, b.Run(context.Background()))
	require.Equal(t, "V1013\r\a\r\rz\r\aZ\r\a\r", port.String())
	require.Len(t, bus.frames, 2)
	require.EqualValues(t, 0x123, bus.frames[0].ID())
	require.True(t, bus.frames[1].Extended())
	require.Equal(t, 500, b.Bitrate())
	require.False(t, b.Open())

	rx, tx, errs := b.Stats()
	require.EqualValues(t, 2, rx)
	require.Zero(t, tx)
	require.EqualValues(t, 3, errs)
	require.Len(t, msgs, 3)
}

func TestBridgeForwardsOnlyWhenOpen(t *testing.T) {
	port := &fakePort{in: strings.NewReader("O\r")}
	b := NewBridge(port, &recorder{}, nil)

	b.Forward(canfw.NewFrame(0x10, nil, false))
	require.Empty(t, port.String())

	require.NoError(t, b.Run(context.Background()))
	b.Forward(canfw.NewFrame(0x10, []byte{0xFF}, false))
	require.Equal(t, "\rt0101FF\r", port.String())
	_, tx, _ := b.Stats()
	require.EqualValues(t, 1, tx)
}

func TestBridgeOverSimBus(t *testing.T) {
	bus := sim.NewBus(sim.Options{})
	gw := sim.NewTap("gateway")
	peer := sim.NewTap("peer")
	bus.Attach(gw, peer)

	var seen []canfw.Frame
	peer.OnReceive(func(f canfw.Frame) { seen = append(seen, f) })

	port := &fakePort{in: strings.NewReader("S6\rO\rt7DF20201\r")}
	b := NewBridge(port, gw, nil)
	gw.OnReceive(b.Forward)
	require.NoError(t, b.Run(context.Background()))

	peer.Send(canfw.NewFrame(0x7E8, []byte{0x41}, false))
	require.Equal(t, 2, bus.Settle(10))

	require.Len(t, seen, 1)
	require.EqualValues(t, 0x7DF, seen[0].ID())
	require.True(t, strings.HasSuffix(port.String(), "t7E8141\r"))
}

func TestBridgeStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	port := &fakePort{in: r}
	b := NewBridge(port, &recorder{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	w.Write([]byte("O\r"))
	cancel()
	r.CloseWithError(context.Canceled)
	require.ErrorIs(t, <-done, context.Canceled)
}
