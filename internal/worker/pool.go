// Package worker implements the turbo dispatcher: a fixed set of
// single-threaded workers, each owning a shard of the active mapping set
// by FNV1a(mapping_id) hash, each running one tick loop that fires a
// mapping's target on its configured interval for as long as the trigger
// stays depressed.
package worker

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/chordforge/engine/internal/canonical"
	"github.com/chordforge/engine/internal/mapping"
	"github.com/chordforge/engine/internal/synth"
	"github.com/chordforge/engine/internal/telemetry"
)

// activationInboxSize bounds each worker's pending-activation queue. Once
// full, a new activation evicts the oldest one rather than being dropped
// itself, matching the "never silently lose the newest press" policy;
// telemetry.InboxFull still fires for the eviction.
const activationInboxSize = 1024

// Activation requests a worker start (or restart) turbo-firing a mapping.
// FromSequenceMatch marks an activation that originated from the sequence
// matcher rather than a physically-held chord: a matched sequence has no
// corresponding release event, so it always fires exactly one cycle and
// tears itself down, regardless of the mapping's turbo_enabled setting.
type Activation struct {
	MappingID         uint32
	DeviceTag         uint32
	FromSequenceMatch bool
}

// Release requests a worker stop firing a mapping because its trigger
// chord is no longer fully depressed.
type Release struct {
	MappingID uint32
}

// Pool owns W workers and shards mappings across them by mapping id, a
// sharding that stays stable across config reloads since it depends only
// on the id, never on slice position or registration order.
type Pool struct {
	workers []*worker
	synth   *synth.Synthesizer
	res     *mapping.Resolver
}

// New builds a Pool of count workers driving synthesizer sy and resolving
// mapping ids through res. Workers start running immediately, in their own
// goroutines, and run until Stop is called.
func New(count int, sy *synth.Synthesizer, res *mapping.Resolver) *Pool {
	if count < 1 {
		count = 1
	}
	p := &Pool{synth: sy, res: res}
	p.workers = make([]*worker, count)
	for i := range p.workers {
		w := newWorker(i, sy, res)
		p.workers[i] = w
		go w.run()
	}
	return p
}

// Stop signals every worker to exit its tick loop. Does not wait for
// in-flight EmitChord hold phases to finish; callers that need a clean
// shutdown should give workers a moment to drain before process exit.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		close(w.stop)
	}
}

// Activate routes an activation to the worker that owns mappingID.
func (p *Pool) Activate(a Activation) {
	p.shardFor(a.MappingID).activate(a)
}

// Release routes a release to the worker that owns mappingID.
func (p *Pool) Release(r Release) {
	p.shardFor(r.MappingID).release(r)
}

// Reconcile is called after a config swap: every worker drops turbo state
// for any mapping id no longer present in the resolver's active snapshot,
// which stops that mapping's ticks and clears its motion contribution. It
// injects no key-up of its own; each fired chord is already released within
// its own EmitChord call, so no target key is left held between ticks.
func (p *Pool) Reconcile() {
	live := p.res.All()
	for _, w := range p.workers {
		w.reconcile(live)
	}
}

func (p *Pool) shardFor(mappingID uint32) *worker {
	h := fnv.New32a()
	var b [4]byte
	b[0] = byte(mappingID)
	b[1] = byte(mappingID >> 8)
	b[2] = byte(mappingID >> 16)
	b[3] = byte(mappingID >> 24)
	_, _ = h.Write(b[:])
	return p.workers[int(h.Sum32())%len(p.workers)]
}

// turboState tracks one actively-firing mapping's tick schedule and, for
// TargetModeSequence, its position in the target chord list. oneShot marks
// a non-turbo or sequence-matched activation of a sequence-mode target: it
// plays the chord list through exactly once, one chord per tick, and tears
// itself down at the end instead of waiting for a release.
type turboState struct {
	mapping       *mapping.Mapping
	deviceTag     uint32
	nextFireAtUS  int64
	sequenceIndex int
	oneShot       bool
}

type worker struct {
	id    int
	synth *synth.Synthesizer
	res   *mapping.Resolver

	mu         sync.Mutex
	activation chan Activation
	releaseCh  chan Release
	stop       chan struct{}

	active map[uint32]*turboState
}

func newWorker(id int, sy *synth.Synthesizer, res *mapping.Resolver) *worker {
	return &worker{
		id:         id,
		synth:      sy,
		res:        res,
		activation: make(chan Activation, activationInboxSize),
		releaseCh:  make(chan Release, activationInboxSize),
		stop:       make(chan struct{}),
		active:     map[uint32]*turboState{},
	}
}

func (w *worker) activate(a Activation) {
	select {
	case w.activation <- a:
		return
	default:
	}
	// Inbox full: evict the oldest queued activation to make room, rather
	// than dropping the new press, since a held-down key's repeated
	// activation attempts must not be the ones that get lost.
	select {
	case evicted := <-w.activation:
		telemetry.InboxFull(evicted.MappingID, w.id)
	default:
	}
	select {
	case w.activation <- a:
	default:
	}
}

func (w *worker) release(r Release) {
	// Releases must never drop: a dropped release is a stuck key. The
	// channel is sized identically to the activation inbox, which is far
	// larger than any realistic number of simultaneously-held mappings.
	w.releaseCh <- r
}

func (w *worker) reconcile(live map[uint32]*mapping.Mapping) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, st := range w.active {
		if _, ok := live[id]; ok {
			continue
		}
		w.teardown(st)
		delete(w.active, id)
		telemetry.StuckKeyCorrected(id)
	}
}

// run is the worker's single select loop: drain releases first (never
// drop), then activations, then sleep until the nearest scheduled tick
// across every mapping this worker owns.
func (w *worker) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		// Releases outrank everything else: a pending release must be
		// observed before the next activation or tick, so it gets its own
		// non-blocking drain ahead of the combined wait below (a plain
		// select would pick among ready channels at random).
		select {
		case r := <-w.releaseCh:
			w.handleRelease(r)
			continue
		default:
		}

		w.resetTimer(timer)

		select {
		case r := <-w.releaseCh:
			w.handleRelease(r)
		case a := <-w.activation:
			w.handleActivation(a)
		case <-timer.C:
			w.fireDue()
		case <-w.stop:
			return
		}
	}
}

func (w *worker) resetTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}

	w.mu.Lock()
	var next int64 = -1
	now := time.Now().UnixMicro()
	for _, st := range w.active {
		if next == -1 || st.nextFireAtUS < next {
			next = st.nextFireAtUS
		}
	}
	w.mu.Unlock()

	if next == -1 {
		timer.Reset(time.Hour)
		return
	}
	d := time.Duration(next-now) * time.Microsecond
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}

func (w *worker) handleActivation(a Activation) {
	m, ok := w.res.Lookup(a.MappingID)
	if !ok {
		return
	}
	telemetry.TriggerActivated(a.MappingID, w.id)

	// A sequence match or a turbo-disabled mapping fires exactly one cycle
	// and never enters the held-trigger loop: "await deactivation" means
	// waiting for a real release, and a sequence match has none to wait
	// for, so it never reactivates until matched again. For a sequence-mode
	// target, one cycle means one full pass over the chord list, one chord
	// per tick, so the state still enters the schedule as a oneShot.
	if a.FromSequenceMatch || !m.TurboEnabled {
		if m.Target.Mode == mapping.TargetModeSequence && len(m.Target.Chords) > 1 {
			w.mu.Lock()
			if _, exists := w.active[a.MappingID]; !exists {
				w.active[a.MappingID] = &turboState{
					mapping: m, deviceTag: a.DeviceTag,
					nextFireAtUS: time.Now().UnixMicro(), oneShot: true,
				}
			}
			w.mu.Unlock()
			return
		}
		w.fireOne(&turboState{mapping: m, deviceTag: a.DeviceTag})
		return
	}

	w.mu.Lock()
	st, exists := w.active[a.MappingID]
	if !exists {
		st = &turboState{mapping: m, deviceTag: a.DeviceTag}
		w.active[a.MappingID] = st
	}
	st.nextFireAtUS = time.Now().UnixMicro()
	w.mu.Unlock()
}

func (w *worker) handleRelease(r Release) {
	w.mu.Lock()
	st, ok := w.active[r.MappingID]
	if ok && st.oneShot {
		// A one-shot pass runs to completion on its own; the physical
		// release that follows it must not cut the playback short.
		w.mu.Unlock()
		return
	}
	if ok {
		delete(w.active, r.MappingID)
	}
	w.mu.Unlock()
	if ok {
		w.teardown(st)
	}
}

// teardown releases any motion contribution a mapping was holding, so a
// released or reconciled-away motion mapping doesn't leave a residual
// vector in the merged cursor delta.
func (w *worker) teardown(st *turboState) {
	for _, c := range st.mapping.Target.Chords {
		if _, ok := c.Main.MotionDirectionOf(); ok {
			w.synth.ReleaseMotion(w.id, mappingKey(st.mapping.ID))
			return
		}
	}
}

// fireDue emits one turbo tick for every mapping whose schedule has come
// due, then reschedules each for its next tick.
func (w *worker) fireDue() {
	now := time.Now().UnixMicro()

	w.mu.Lock()
	due := make([]*turboState, 0, len(w.active))
	for _, st := range w.active {
		if st.nextFireAtUS <= now {
			due = append(due, st)
		}
	}
	w.mu.Unlock()

	for _, st := range due {
		w.fireOne(st)

		if st.oneShot && st.sequenceIndex >= len(st.mapping.Target.Chords) {
			w.mu.Lock()
			delete(w.active, st.mapping.ID)
			w.mu.Unlock()
			w.teardown(st)
			continue
		}

		// Advance from the scheduled time, not from "now": the hold phase
		// inside fireOne would otherwise stretch every period by
		// event_duration_ms. Clamp forward if the worker fell behind so a
		// stall doesn't turn into a burst of catch-up fires.
		w.mu.Lock()
		st.nextFireAtUS += int64(st.mapping.IntervalMS) * 1000
		if now := time.Now().UnixMicro(); st.nextFireAtUS < now {
			st.nextFireAtUS = now
		}
		w.mu.Unlock()
	}
}

// fireOne emits one output cycle for a due mapping according to its
// target mode, advancing the sequence cursor on every tick for
// TargetModeSequence so a held sequence target walks its chord list one
// step per tick rather than repeating the first chord forever.
func (w *worker) fireOne(st *turboState) {
	hold := time.Duration(st.mapping.EventDurationMS) * time.Millisecond
	depressed := w.res.DepressedModifiers()

	switch st.mapping.Target.Mode {
	case mapping.TargetModeSingle:
		w.emitChordOrMotion(st, st.mapping.Target.Chords[0], depressed, hold)

	case mapping.TargetModeMulti:
		for _, c := range st.mapping.Target.Chords {
			w.emitChordOrMotion(st, c, depressed, hold)
		}

	case mapping.TargetModeSequence:
		chords := st.mapping.Target.Chords
		if len(chords) == 0 {
			return
		}
		c := chords[st.sequenceIndex%len(chords)]
		st.sequenceIndex++
		w.emitChordOrMotion(st, c, depressed, hold)
	}
}

func (w *worker) emitChordOrMotion(st *turboState, c canonical.Chord, depressed canonical.Modifier, hold time.Duration) {
	if dir, ok := c.Main.MotionDirectionOf(); ok {
		_ = w.synth.EmitMotion(w.id, mappingKey(st.mapping.ID), dir, st.mapping.MoveSpeed)
		return
	}
	if delta, ok := c.Main.WheelDelta(); ok {
		// WheelDelta is a unit sign; the magnitude comes from the mapping's
		// move_speed, same as the motion branch above.
		speed := int16(st.mapping.MoveSpeed)
		if speed == 0 {
			speed = 1
		}
		_ = w.synth.EmitWheel(delta * speed)
		return
	}
	_ = w.synth.EmitChord(depressed, c, hold)
}

// mappingKey derives the MotionAccumulator key for a mapping id. A decimal
// string is enough: motion keys only need to be unique per (worker,
// mapping), never parsed back.
func mappingKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
