package synth

import (
	"math"
	"sync"

	"github.com/chordforge/engine/internal/canonical"
)

// MotionAccumulator vector-merges the cursor motion of every concurrently
// active MOUSE_UP/DOWN/LEFT/RIGHT/diagonal mapping into one relative delta
// per tick. Keeping the merge in a pure, lock-protected function (rather
// than folding it into the worker pool's tick loop) makes the vector math
// independently testable without real timers: two workers ticking at the
// same wall-clock instant each just register their own contribution and
// read back the combined delta.
type MotionAccumulator struct {
	mu     sync.Mutex
	active map[mappingKey]vector
}

type mappingKey struct {
	workerSlot int
	mappingID  string
}

type vector struct {
	x, y float64
}

// NewMotionAccumulator returns an empty accumulator.
func NewMotionAccumulator() *MotionAccumulator {
	return &MotionAccumulator{active: map[mappingKey]vector{}}
}

// Set records the motion contribution for (workerSlot, mappingID) — the
// unit vector of direction scaled by speed — replacing any contribution
// previously recorded for the same key. A mapping ticking with the same
// direction and speed every tick simply overwrites its own prior entry.
func (m *MotionAccumulator) Set(workerSlot int, mappingID string, direction canonical.MotionDirection, speed float64) {
	ux, uy := direction.Unit()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active[mappingKey{workerSlot, mappingID}] = vector{x: ux * speed, y: uy * speed}
}

// Clear removes the motion contribution for (workerSlot, mappingID), called
// when that mapping's target key releases.
func (m *MotionAccumulator) Clear(workerSlot int, mappingID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, mappingKey{workerSlot, mappingID})
}

// Merge sums every active contribution and rounds to the nearest integer
// pixel delta, half-away-from-zero. Returns dx=dy=0 when nothing is active.
func (m *MotionAccumulator) Merge() (dx, dy int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var x, y float64
	for _, v := range m.active {
		x += v.x
		y += v.y
	}
	return roundHalfAwayFromZero(x), roundHalfAwayFromZero(y)
}

func roundHalfAwayFromZero(f float64) int {
	if f >= 0 {
		return int(math.Floor(f + 0.5))
	}
	return -int(math.Floor(-f + 0.5))
}
