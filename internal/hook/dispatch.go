// Package hook owns the platform input-capture boundary: it turns raw OS
// events into canonical.Input values and drives them through the ring
// buffer, sequence matcher, and mapping resolver to the worker pool:
// raw event -> canonical event -> ring buffer push -> (resolver ||
// sequence matcher) -> dispatch decision -> worker selection.
package hook

import (
	"sync"
	"sync/atomic"

	"github.com/chordforge/engine/internal/canonical"
	"github.com/chordforge/engine/internal/hidbaseline"
	"github.com/chordforge/engine/internal/mapping"
	"github.com/chordforge/engine/internal/ring"
	"github.com/chordforge/engine/internal/runtime"
	"github.com/chordforge/engine/internal/telemetry"
	"github.com/chordforge/engine/internal/worker"
)

// Capture is the platform capability a concrete hook implementation
// provides: install its OS hooks and start delivering events to the
// Dispatcher until Close is called.
type Capture interface {
	Start(d *Dispatcher) error
	Close() error
}

// Dispatcher is the platform-independent half of the hook layer: the
// piece every OS backend feeds canonical input into.
type Dispatcher struct {
	ring    *ring.Buffer
	matcher *ring.Matcher
	res     *mapping.Resolver
	pool    *worker.Pool
	rt      *runtime.Runtime
	hid     *hidbaseline.Store

	cfg atomic.Pointer[mapping.Config]

	devState *mapping.DeviceButtonState

	mu     sync.Mutex
	active map[canonical.Token]uint32 // main-key token -> currently-activated mapping id
}

// New wires a Dispatcher over an already-constructed ring buffer,
// resolver, worker pool, runtime, and HID baseline store.
func New(buf *ring.Buffer, res *mapping.Resolver, pool *worker.Pool, rt *runtime.Runtime, hid *hidbaseline.Store) *Dispatcher {
	d := &Dispatcher{
		ring: buf, res: res, pool: pool, rt: rt, hid: hid,
		devState: mapping.NewDeviceButtonState(),
		active:   map[canonical.Token]uint32{},
	}
	d.matcher = ring.NewMatcher(buf, res.Registry(), d.onSequenceMatch)
	return d
}

// SetConfig installs the config snapshot the dispatcher consults for
// process-whitelist checks. Call after every successful runtime.Reload.
func (d *Dispatcher) SetConfig(cfg *mapping.Config) {
	d.cfg.Store(cfg)
}

func (d *Dispatcher) onSequenceMatch(mappingID uint32, matchedAtUS uint64) {
	_ = matchedAtUS
	telemetry.SequenceMatched(mappingID, 0)
	d.pool.Activate(worker.Activation{MappingID: mappingID, FromSequenceMatch: true})
}

// Feed pushes in into the ring buffer, runs it through the sequence
// matcher, and resolves/dispatches it against the active chord mappings.
// ts is a monotonic microsecond timestamp from the hook's own clock.
func (d *Dispatcher) Feed(in canonical.Input, ts uint64) {
	tok := in.Token()
	if tok == "" {
		return
	}
	deviceTag := canonical.DeviceTagFor(in)

	if kb, ok := in.(canonical.Keyboard); ok {
		d.res.UpdateModifierState(tok, kb.Pressed)
		if kb.Pressed && kb.VK == d.res.SwitchVK() {
			d.rt.ToggleEnabled()
			return
		}
	}

	pressed, havePress := pressedState(in)

	allowed := d.rt.Enabled()
	if allowed {
		if cfg := d.cfg.Load(); cfg != nil && !d.rt.ProcessAllowed(cfg) {
			allowed = false
		}
	}
	if !allowed {
		// No new output may start while disabled or outside the whitelist,
		// but a release for an already-firing mapping still has to land or
		// the turbo loop would outlive the key that started it.
		if havePress && !pressed {
			d.dispatchChord(tok, deviceTag, false)
		}
		return
	}

	if havePress {
		switch in.(type) {
		case canonical.XInput, canonical.HID:
			d.devState.Update(deviceTag, tok.Hash(), pressed)
		}
	}

	// A deduplicated push never published an entry, so the matcher must not
	// observe it either: hardware auto-repeat would otherwise re-complete a
	// sequence whose final token is being held down.
	if d.ring.Push(tok.Hash(), deviceTag, ts) {
		d.matcher.Observe(ring.Entry{TokenHash: tok.Hash(), DeviceTag: deviceTag, TimestampUS: ts})
	}

	if !havePress {
		return
	}
	d.dispatchChord(tok, deviceTag, pressed)
}

// DeviceHeld reports whether a gamepad or HID button is currently depressed
// on the given device, from the dispatcher's own press tracking. Diagnostic
// surface; chord resolution never consults it.
func (d *Dispatcher) DeviceHeld(deviceTag, tokenHash uint32) bool {
	return d.devState.Held(deviceTag, tokenHash)
}

// FeedHIDReport diffs a raw HID report against id's recorded baseline and,
// if the diff produced a button transition, feeds it through the same
// path as any other input source. Devices with no baseline yet are
// reported via telemetry rather than treated as an error the caller must
// handle, matching chorderr.ErrDeviceNotActivated's "GUI prompt" recovery.
func (d *Dispatcher) FeedHIDReport(id hidbaseline.DeviceID, report []byte, frameIx uint8, ts uint64) {
	h, err := d.hid.Diff(id, report, frameIx, uint32(id.VID)<<16|uint32(id.PID))
	if err != nil {
		telemetry.DeviceNotActivated(id.String())
		return
	}
	if h == nil {
		return
	}
	d.Feed(*h, ts)
}

func pressedState(in canonical.Input) (bool, bool) {
	switch v := in.(type) {
	case canonical.Keyboard:
		return v.Pressed, true
	case canonical.MouseButton:
		return v.Pressed, true
	case canonical.XInput:
		return v.Pressed, true
	case canonical.HID:
		return v.Pressed, true
	default:
		return false, false
	}
}

func (d *Dispatcher) dispatchChord(tok canonical.Token, deviceTag uint32, pressed bool) {
	if tok.IsModifier() {
		return
	}

	// A release resolves from the activation record, not the resolver: the
	// modifier mask may already have changed (LSHIFT up before the main key
	// up), and re-resolving against it would miss the mapping and leave the
	// turbo loop firing forever.
	if !pressed {
		d.mu.Lock()
		id, wasActive := d.active[tok]
		delete(d.active, tok)
		d.mu.Unlock()
		if wasActive {
			d.pool.Release(worker.Release{MappingID: id})
		}
		return
	}

	var m *mapping.Mapping
	var ok bool
	switch tok.Kind() {
	case canonical.KindGamepad, canonical.KindHID:
		m, ok = d.res.ResolveDevice(tok)
	default:
		m, ok = d.res.ResolveKeyboard(tok)
	}
	if !ok {
		return
	}

	d.mu.Lock()
	_, wasActive := d.active[tok]
	d.active[tok] = m.ID
	d.mu.Unlock()

	if wasActive {
		return // auto-repeat: already turbo-firing, no re-activation needed
	}
	d.pool.Activate(worker.Activation{MappingID: m.ID, DeviceTag: deviceTag})
}
