package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferCapacityRoundsToPowerOfTwo(t *testing.T) {
	b := New(200, 0)
	require.Equal(t, 256, b.Capacity())
}

func TestBufferPushAndSnapshotOrder(t *testing.T) {
	b := New(4, 0)
	b.Push(1, 100, 1000)
	b.Push(2, 100, 5000)
	b.Push(3, 200, 9000)

	got := b.Snapshot(10)
	require.Len(t, got, 3)
	require.Equal(t, uint32(3), got[0].TokenHash)
	require.Equal(t, uint32(2), got[1].TokenHash)
	require.Equal(t, uint32(1), got[2].TokenHash)
}

func TestBufferWrapAroundKeepsOnlyNewest(t *testing.T) {
	b := New(4, 0)
	for i := uint32(0); i < 10; i++ {
		b.Push(i, 1, uint64(i)*1000)
	}
	got := b.Snapshot(10)
	require.Len(t, got, 4)
	require.Equal(t, uint32(9), got[0].TokenHash)
	require.Equal(t, uint32(6), got[3].TokenHash)
}

func TestBufferDedupCollapsesAutoRepeat(t *testing.T) {
	b := New(8, 2000)
	require.True(t, b.Push(1, 1, 0))
	require.False(t, b.Push(1, 1, 500)) // within dedup window
	require.True(t, b.Push(1, 1, 3000)) // past dedup window

	got := b.Snapshot(10)
	require.Len(t, got, 2)
}

func TestBufferDedupIsPerDevice(t *testing.T) {
	b := New(8, 2000)
	require.True(t, b.Push(1, 1, 0))
	require.True(t, b.Push(1, 2, 100)) // different device, not a dup
	got := b.Snapshot(10)
	require.Len(t, got, 2)
}

func TestBufferConcurrentPushNoTornReads(t *testing.T) {
	b := New(64, 0)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(device uint32) {
			defer wg.Done()
			for i := uint32(0); i < 200; i++ {
				b.Push(i, device, uint64(i)+1)
			}
		}(uint32(p))
	}
	wg.Wait()

	seen := 0
	b.ForEachBackward(func(e Entry) bool {
		seen++
		return true
	})
	require.LessOrEqual(t, seen, b.Capacity())
}

func TestBackwardIteratorUnreadReplaysEntry(t *testing.T) {
	b := New(8, 0)
	b.Push(1, 1, 100)
	b.Push(2, 1, 200)
	b.Push(3, 1, 300)

	it := b.newBackwardIterator()
	first, ok := it.next()
	require.True(t, ok)
	require.Equal(t, uint32(3), first.TokenHash)

	second, ok := it.next()
	require.True(t, ok)
	require.Equal(t, uint32(2), second.TokenHash)

	it.unread(second)
	replayed, ok := it.next()
	require.True(t, ok)
	require.Equal(t, second, replayed)

	third, ok := it.next()
	require.True(t, ok)
	require.Equal(t, uint32(1), third.TokenHash)

	_, ok = it.next()
	require.False(t, ok)
}
