package buffer

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTripleLatestValueWins(t *testing.T) {
	b := NewTriple(0)
	b.Push(1) // A
	b.Push(2) // B
	require.True(t, b.Pop())
	require.Equal(t, 2, b.Read())
	require.False(t, b.Pop())
}

func TestTripleManyPushesOnePop(t *testing.T) {
	b := NewTriple("")
	for _, v := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		require.True(t, b.Push(v))
	}
	require.True(t, b.Pop())
	require.Equal(t, "g", b.Read())
}

func TestTripleSecondPopIsStale(t *testing.T) {
	b := NewTriple(-1)
	require.True(t, b.Stale())
	require.False(t, b.Pop())
	require.Equal(t, -1, b.Read())

	b.Push(7)
	require.False(t, b.Stale())
	require.True(t, b.Pop())
	require.Equal(t, 7, b.Read())
	require.False(t, b.Pop())
	require.Equal(t, 7, b.Read())

	b.Push(8)
	require.True(t, b.Pop())
	require.Equal(t, 8, b.Read())
}

func TestTripleRolesStayAPermutation(t *testing.T) {
	b := NewTriple(0)
	check := func() {
		seen := map[uint32]bool{
			b.producing:                       true,
			b.consuming:                       true,
			b.transfer.Load() & slotIndexMask: true,
		}
		require.Len(t, seen, 3)
	}
	check()
	for i := 0; i < 20; i++ {
		b.Push(i)
		check()
		if i%3 == 0 {
			b.Pop()
			check()
		}
	}
}

func TestTripleConcurrentMonotonic(t *testing.T) {
	n := 100000
	if testing.Short() {
		n = 5000
	}
	b := NewTriple(0)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			b.Push(i)
		}
	}()

	last := 0
	for last < n {
		if !b.Pop() {
			runtime.Gosched()
			continue
		}
		v := b.Read()
		require.Greater(t, v, last)
		last = v
	}
	wg.Wait()
}
