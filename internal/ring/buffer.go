// Package ring implements the fixed-capacity, multi-producer,
// single-consumer lock-free ring buffer of recent canonical inputs, plus
// the sequence matcher that walks it looking for completed chord
// sequences.
package ring

import (
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the ring's default slot count (power of two).
const DefaultCapacity = 256

// DefaultDedupWindowUS is the default hardware-auto-repeat dedup window.
const DefaultDedupWindowUS = 2000

// Entry is one published ring slot, read back by the matcher.
type Entry struct {
	TokenHash   uint32
	DeviceTag   uint32
	TimestampUS uint64
}

// slot is kept small and flat rather than padded to a cache line; Go gives
// no portable alignment pragma, and the fields here are small enough that
// false sharing is a minor concern next to avoiding any lock on the hot path.
type slot struct {
	tokenHash  uint32
	deviceTag  uint32
	ts         uint64
	generation atomic.Uint32 // 0 == never written; else real generation + 1
}

type lastSeen struct {
	tokenHash uint32
	ts        uint64
}

// Buffer is a lock-free, fixed-capacity, wraparound ring of recently
// published canonical inputs.
type Buffer struct {
	capacity      uint64
	mask          uint64
	slots         []slot
	writeIndex    atomic.Uint64
	dedupWindowUS uint64

	// lastByDevice tracks, per device tag, the most recently published
	// token+timestamp, for hardware auto-repeat deduplication. A sync.Map
	// of atomic pointers gives each device its own independent, essentially
	// lock-free update path without a global mutex on the push hot path.
	lastByDevice sync.Map // uint32 -> *atomic.Pointer[lastSeen]
}

// New creates a Buffer with the given capacity (rounded up to the next
// power of two) and dedup window in microseconds.
func New(capacity int, dedupWindowUS uint64) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	capacity = nextPow2(capacity)
	if dedupWindowUS == 0 {
		dedupWindowUS = DefaultDedupWindowUS
	}
	return &Buffer{
		capacity:      uint64(capacity),
		mask:          uint64(capacity - 1),
		slots:         make([]slot, capacity),
		dedupWindowUS: dedupWindowUS,
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Capacity returns the ring's slot count.
func (b *Buffer) Capacity() int { return int(b.capacity) }

// Push publishes one input into the ring. It is lock-free and O(1), never
// blocks, and overwrites the oldest slot once the ring has wrapped. It
// returns false without publishing if the input is a duplicate of the same
// device's previous input within the dedup window (hardware auto-repeat).
func (b *Buffer) Push(tokenHash, deviceTag uint32, tsUS uint64) bool {
	if b.isDuplicate(deviceTag, tokenHash, tsUS) {
		return false
	}

	idx := b.writeIndex.Add(1) - 1
	pos := idx & b.mask
	gen := idx/b.capacity + 1

	s := &b.slots[pos]
	s.tokenHash = tokenHash
	s.deviceTag = deviceTag
	s.ts = tsUS
	s.generation.Store(uint32(gen)) // release: publishes the fields above

	b.recordLastSeen(deviceTag, tokenHash, tsUS)
	return true
}

func (b *Buffer) isDuplicate(deviceTag, tokenHash uint32, tsUS uint64) bool {
	v, ok := b.lastByDevice.Load(deviceTag)
	if !ok {
		return false
	}
	ptr := v.(*atomic.Pointer[lastSeen])
	prev := ptr.Load()
	if prev == nil {
		return false
	}
	if prev.tokenHash != tokenHash {
		return false
	}
	if tsUS < prev.ts {
		return false // out of order, let it through rather than guess
	}
	return tsUS-prev.ts < b.dedupWindowUS
}

func (b *Buffer) recordLastSeen(deviceTag, tokenHash uint32, tsUS uint64) {
	v, _ := b.lastByDevice.LoadOrStore(deviceTag, &atomic.Pointer[lastSeen]{})
	ptr := v.(*atomic.Pointer[lastSeen])
	ptr.Store(&lastSeen{tokenHash: tokenHash, ts: tsUS})
}

// ForEachBackward walks the ring from the newest published entry backward
// toward the oldest, calling fn for each. Walking stops early if fn returns
// false, once fewer than Capacity() entries have ever been published, or
// upon encountering a torn/overwritten slot (a generation mismatch), which
// can only happen if the walk is slower than concurrent writers lap it —
// in that case the walk simply stops rather than read inconsistent data.
func (b *Buffer) ForEachBackward(fn func(Entry) bool) {
	writeIdx := b.writeIndex.Load()
	if writeIdx == 0 {
		return
	}
	count := b.capacity
	if writeIdx < count {
		count = writeIdx
	}
	for i := uint64(0); i < count; i++ {
		idx := writeIdx - 1 - i
		pos := idx & b.mask
		wantGen := uint32(idx/b.capacity + 1)

		s := &b.slots[pos]
		gotGen := s.generation.Load()
		if gotGen != wantGen {
			return // torn or overwritten since we started; stop, don't guess
		}
		e := Entry{TokenHash: s.tokenHash, DeviceTag: s.deviceTag, TimestampUS: s.ts}
		// Re-check generation after reading fields: if a writer lapped us
		// mid-read the fields we just copied may be inconsistent.
		if s.generation.Load() != wantGen {
			return
		}
		if !fn(e) {
			return
		}
	}
}

// Snapshot materializes up to maxN of the most recent entries, newest
// first. Intended for tests and diagnostics, not the matcher's hot path.
func (b *Buffer) Snapshot(maxN int) []Entry {
	out := make([]Entry, 0, maxN)
	b.ForEachBackward(func(e Entry) bool {
		if len(out) >= maxN {
			return false
		}
		out = append(out, e)
		return true
	})
	return out
}

// backwardIterator is a pull-based view over ForEachBackward's walk, with a
// one-entry unread buffer so the sequence matcher can look ahead by one
// slot (needed for diagonal bidirectional matching) and put it back if it
// turns out not to belong to the current match attempt.
type backwardIterator struct {
	b         *Buffer
	nextIdx   uint64
	remaining uint64
	unreadBuf []Entry
}

func (b *Buffer) newBackwardIterator() *backwardIterator {
	writeIdx := b.writeIndex.Load()
	if writeIdx == 0 {
		return &backwardIterator{b: b}
	}
	count := b.capacity
	if writeIdx < count {
		count = writeIdx
	}
	return &backwardIterator{b: b, nextIdx: writeIdx - 1, remaining: count}
}

func (it *backwardIterator) next() (Entry, bool) {
	if n := len(it.unreadBuf); n > 0 {
		e := it.unreadBuf[n-1]
		it.unreadBuf = it.unreadBuf[:n-1]
		return e, true
	}
	if it.remaining == 0 {
		return Entry{}, false
	}
	idx := it.nextIdx
	pos := idx & it.b.mask
	wantGen := uint32(idx/it.b.capacity + 1)

	s := &it.b.slots[pos]
	gotGen := s.generation.Load()
	if gotGen != wantGen {
		it.remaining = 0
		return Entry{}, false
	}
	e := Entry{TokenHash: s.tokenHash, DeviceTag: s.deviceTag, TimestampUS: s.ts}
	if s.generation.Load() != wantGen {
		it.remaining = 0
		return Entry{}, false
	}

	it.nextIdx--
	it.remaining--
	return e, true
}

// unread pushes e back so the next call to next() returns it again.
func (it *backwardIterator) unread(e Entry) {
	it.unreadBuf = append(it.unreadBuf, e)
}
