package buffer

import (
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func drain[T any](r *Ring[T]) []T {
	var out []T
	for r.Pop() {
		out = append(out, r.Read())
	}
	return out
}

func TestRingWrapKeepsOrder(t *testing.T) {
	r := NewRing[int](4)
	for _, v := range []int{1, 2, 3} {
		require.False(t, r.Push(v))
	}
	require.True(t, r.Pop())
	require.Equal(t, 1, r.Read())
	require.True(t, r.Pop())
	require.Equal(t, 2, r.Read())

	require.False(t, r.Push(4))
	require.False(t, r.Push(5))
	require.Equal(t, []int{3, 4, 5}, drain(r))
	require.False(t, r.Pop())
}

func TestRingOverflowSignal(t *testing.T) {
	r := NewRing[int](4)
	require.Equal(t, 3, r.Cap())
	for _, v := range []int{10, 20, 30} {
		require.False(t, r.Push(v))
	}
	require.Equal(t, 3, r.Len())
	require.True(t, r.Push(40))
	require.Equal(t, 3, r.Len())
	require.Equal(t, []int{10, 20, 30}, drain(r))
}

func TestRingPeekDoesNotRemove(t *testing.T) {
	r := NewRing[string](3)
	require.False(t, r.Peek())
	r.Push("a")
	r.Push("b")
	for i := 0; i < 3; i++ {
		require.True(t, r.Peek())
		require.Equal(t, "a", r.Read())
	}
	require.True(t, r.Pop())
	require.Equal(t, "a", r.Read())
	require.True(t, r.Peek())
	require.Equal(t, "b", r.Read())
}

func TestRingReadSurvivesLaterPush(t *testing.T) {
	r := NewRing[int](2)
	r.Push(1)
	require.True(t, r.Pop())
	r.Push(2)
	require.Equal(t, 1, r.Read())
	require.True(t, r.Pop())
	r.Push(3)
	r.Push(4)
	require.Equal(t, 2, r.Read())
}

func TestRingLenAcrossWrap(t *testing.T) {
	r := NewRing[int](5)
	for i := 0; i < 4; i++ {
		r.Push(i)
	}
	r.Pop()
	r.Pop()
	r.Push(9)
	require.Equal(t, 3, r.Len())
}

func TestRingTooSmall(t *testing.T) {
	require.Panics(t, func() { NewRing[int](1) })
}

func TestRingConcurrentFIFO(t *testing.T) {
	n := 50000
	if testing.Short() {
		n = 2000
	}
	r := NewRing[int](16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; {
			if r.Push(i) {
				runtime.Gosched()
				continue
			}
			i++
		}
	}()
	for want := 0; want < n; {
		if !r.Pop() {
			runtime.Gosched()
			continue
		}
		require.Equal(t, want, r.Read())
		want++
	}
	wg.Wait()
}
