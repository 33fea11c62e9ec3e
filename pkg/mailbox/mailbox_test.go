package mailbox

import (
	"sync"
	"testing"

	"github.com/roffe/canfw"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	require.NotEqual(t, StdKey(0x100), ExtKey(0x100))
	require.EqualValues(t, 0x100, ExtKey(0x100).ID())
	require.True(t, ExtKey(0x100).Extended())
	require.False(t, StdKey(0x100).Extended())
	require.Equal(t, StdKey(0x000), StdKey(0x800))
	require.Equal(t, ExtKey(0x18DAF110), KeyOf(canfw.NewExtendedFrame(0x18DAF110, nil)))
}

func TestTableLatestWins(t *testing.T) {
	tbl := NewStandard(0x300, 0x100, 0x200, 0x100)
	require.Equal(t, []Key{0x100, 0x200, 0x300}, tbl.Keys())

	tbl.Deliver(canfw.NewFrame(0x200, []byte{1}, false))
	tbl.Deliver(canfw.NewFrame(0x200, []byte{2}, false))
	tbl.Deliver(canfw.NewFrame(0x555, []byte{3}, false))

	f, ok := tbl.Latest(StdKey(0x200))
	require.True(t, ok)
	require.Equal(t, []byte{2}, f.Data())

	_, ok = tbl.Latest(StdKey(0x200))
	require.False(t, ok)
	require.Equal(t, []byte{2}, tbl.Last(StdKey(0x200)).Data())

	_, ok = tbl.Latest(StdKey(0x100))
	require.False(t, ok)
	_, ok = tbl.Latest(StdKey(0x555))
	require.False(t, ok)
	require.EqualValues(t, 1, tbl.Unmatched())
}

func TestTableExtendedDoesNotCollide(t *testing.T) {
	tbl := New(StdKey(0x10), ExtKey(0x10))
	tbl.Deliver(canfw.NewExtendedFrame(0x10, []byte{0xE}))
	_, ok := tbl.Latest(StdKey(0x10))
	require.False(t, ok)
	f, ok := tbl.Latest(ExtKey(0x10))
	require.True(t, ok)
	require.True(t, f.Extended())
	require.Equal(t, []uint32{0x10}, tbl.IDs(true))
	require.Equal(t, []uint32{0x10}, tbl.IDs(false))
}

func TestTableDrain(t *testing.T) {
	tbl := NewStandard(1, 2, 3)
	tbl.Deliver(canfw.NewFrame(3, nil, false))
	tbl.Deliver(canfw.NewFrame(1, nil, false))

	var got []uint32
	require.Equal(t, 2, tbl.Drain(func(f canfw.Frame) { got = append(got, f.ID()) }))
	require.Equal(t, []uint32{1, 3}, got)
	require.Zero(t, tbl.Drain(func(canfw.Frame) {}))
}

func TestTableAsRxSink(t *testing.T) {
	var sink canfw.RxSink = NewStandard(0x42)
	sink.Deliver(canfw.NewFrame(0x42, nil, false))
}

func TestTableConcurrentDeliver(t *testing.T) {
	tbl := NewStandard(0x100)
	const n = 10000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			tbl.Deliver(canfw.NewFrame(0x100, []byte{byte(i >> 8), byte(i)}, false))
		}
	}()
	last := 0
	for done := false; !done; {
		if f, ok := tbl.Latest(StdKey(0x100)); ok {
			d := f.Data()
			v := int(d[0])<<8 | int(d[1])
			require.Greater(t, v, last)
			last = v
			done = v == n
		}
	}
	wg.Wait()
}
