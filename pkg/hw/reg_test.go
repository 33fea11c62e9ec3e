package hw

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReg32Fields(t *testing.T) {
	var r Reg32
	r.SetBits(1 << 3)
	require.True(t, r.HasBits(1<<3))
	r.ReplaceBits(0x3FF, 0x3FF, 0)
	require.Equal(t, uint32(0x3FF), r.Field(0x3FF, 0))
	r.ReplaceBits(0x5, 0xF, 16)
	require.Equal(t, uint32(0x5), r.Field(0xF, 16))
	r.ClearBits(0x3FF)
	require.Equal(t, uint32(0x5<<16), r.Get())
}

func TestWaitFor(t *testing.T) {
	var r Reg32
	n := 0
	ok := WaitFor(func() bool { return r.HasBits(1) }, 10, func() {
		n++
		if n == 3 {
			r.Set(1)
		}
	})
	require.True(t, ok)
	require.Equal(t, 3, n)

	require.False(t, WaitFor(func() bool { return false }, 5, nil))
}

func TestPinsString(t *testing.T) {
	p := Pins{Port: 'B', RX: 8, TX: 9, AF: 9}
	require.Equal(t, "PB8/PB9 AF9", p.String())
}

func TestWrite1LeavesContent(t *testing.T) {
	var r Reg32
	r.Set(0x0F)
	r.Write1(0x01)
	r.Write1(0x04)
	require.Equal(t, uint32(0x0F), r.Get())
	require.Equal(t, uint32(0x05), r.TakeWritten())
	require.Zero(t, r.TakeWritten())
}
