package mapping

import (
	"sync/atomic"

	"github.com/chordforge/engine/internal/canonical"
	"github.com/chordforge/engine/internal/ring"
)

// MappingRef is one candidate in a main-key bucket: the mapping itself plus
// its pre-canonicalized modifier mask, cached so resolution never re-walks
// the chord's token list on the hot path.
type MappingRef struct {
	Mapping      *Mapping
	ModifierMask canonical.Modifier
}

type resolverSnapshot struct {
	mainKeyIndex map[uint32][]*MappingRef
	byID         map[uint32]*Mapping
}

// Resolver holds the live mapping set: an O(1) hash-bucketed main-key
// lookup plus an atomically swapped config snapshot, with a live
// depressed-modifier bitmask for picking among chord candidates.
type Resolver struct {
	snapshot atomic.Pointer[resolverSnapshot]

	// registry is long-lived across config swaps; Swap tombstones and
	// re-registers sequence mappings in place rather than replacing the
	// registry wholesale, since the ring matcher holds a direct reference
	// to it.
	registry *ring.Registry

	depressed atomic.Uint32 // canonical.Modifier bitmask, updated on every keyboard event
	switchVK  atomic.Uint32
}

// NewResolver returns an empty Resolver; call Swap to install a Config.
func NewResolver() *Resolver {
	r := &Resolver{registry: ring.NewRegistry()}
	r.snapshot.Store(&resolverSnapshot{
		mainKeyIndex: map[uint32][]*MappingRef{},
		byID:         map[uint32]*Mapping{},
	})
	return r
}

// Registry returns the sequence registry the caller's ring.Matcher should
// be built against. Stable across the Resolver's lifetime.
func (r *Resolver) Registry() *ring.Registry { return r.registry }

// Swap validates cfg and installs it as the active mapping set. On
// validation failure the previous snapshot remains active, matching the
// "parse errors abort the reload but keep the previous snapshot" recovery
// policy.
func (r *Resolver) Swap(cfg *Config) error {
	if err := ValidateConfig(cfg); err != nil {
		return err
	}

	mainKeyIndex := make(map[uint32][]*MappingRef)
	byID := make(map[uint32]*Mapping, len(cfg.Mappings))

	for _, existing := range r.registry.Snapshot() {
		r.registry.Remove(existing.ID)
	}

	for _, m := range cfg.Mappings {
		byID[m.ID] = m
		switch m.Trigger.Kind {
		case TriggerSingle:
			hash := m.Trigger.Chord.Main.Hash()
			mainKeyIndex[hash] = append(mainKeyIndex[hash], &MappingRef{
				Mapping:      m,
				ModifierMask: m.Trigger.Chord.Modifiers,
			})
		case TriggerSequence:
			pattern, vid, deviceFilter := buildSequencePattern(m.Trigger.Sequence)
			windowUS := uint64(m.Trigger.WindowMS) * 1000
			r.registry.Register(ring.NewRegistration(m.ID, pattern, windowUS, vid, deviceFilter))
		}
	}
	r.registry.Compact()

	r.snapshot.Store(&resolverSnapshot{mainKeyIndex: mainKeyIndex, byID: byID})
	r.switchVK.Store(uint32(cfg.SwitchVK))
	return nil
}

// buildSequencePattern converts a trigger's token list into ring pattern
// elements, recognizing XInput stick/d-pad tokens so the matcher can apply
// transition tolerance and diagonal bidirectional matching. The vendor id
// of any gamepad token found becomes both the registration's VID (for
// precomputing tolerated intermediates) and its device filter, scoping the
// sequence to that pad.
func buildSequencePattern(tokens []canonical.Token) (pattern []ring.PatternElem, vid uint16, deviceFilter *uint32) {
	pattern = make([]ring.PatternElem, len(tokens))
	isPad := false
	for i, tok := range tokens {
		if v, stick, dir, ok := canonical.ParseGamepadStickToken(tok); ok {
			vid, isPad = v, true
			pattern[i] = ring.NewStickPatternElem(v, stick, dir)
			continue
		}
		if v, ok := canonical.GamepadVID(tok); ok {
			vid, isPad = v, true
		}
		pattern[i] = ring.NewPatternElem(tok)
	}
	if isPad {
		tag := uint32(vid)
		deviceFilter = &tag
	}
	return pattern, vid, deviceFilter
}

// UpdateModifierState tracks the currently-depressed keyboard modifier
// bitmask; call it for every keyboard press/release before resolving.
func (r *Resolver) UpdateModifierState(tok canonical.Token, pressed bool) {
	bit := tok.ModifierBit()
	if bit == 0 {
		return
	}
	for {
		old := r.depressed.Load()
		next := old
		if pressed {
			next = old | uint32(bit)
		} else {
			next = old &^ uint32(bit)
		}
		if r.depressed.CompareAndSwap(old, next) {
			return
		}
	}
}

// DepressedModifiers returns the currently-tracked keyboard modifier mask.
func (r *Resolver) DepressedModifiers() canonical.Modifier {
	return canonical.Modifier(r.depressed.Load())
}

// SwitchVK returns the configured switch-key virtual key code.
func (r *Resolver) SwitchVK() uint16 { return uint16(r.switchVK.Load()) }

// ResolveKeyboard looks up a keyboard or mouse main-key press against the
// currently-depressed modifier set: the first candidate whose
// ModifierMask equals it wins; ties break by mapping order (candidates are
// appended in config order), mismatches fall through with no activation.
func (r *Resolver) ResolveKeyboard(mainToken canonical.Token) (*Mapping, bool) {
	return r.resolve(mainToken, r.DepressedModifiers())
}

// ResolveDevice looks up an XInput or HID main-key press. The main-key
// hash already embeds the device identity, so no modifier-set check is
// performed beyond requiring a zero modifier mask, which every device
// token naturally has (gamepad and HID tokens are never modifier tokens).
func (r *Resolver) ResolveDevice(mainToken canonical.Token) (*Mapping, bool) {
	return r.resolve(mainToken, 0)
}

func (r *Resolver) resolve(mainToken canonical.Token, modMask canonical.Modifier) (*Mapping, bool) {
	snap := r.snapshot.Load()
	for _, c := range snap.mainKeyIndex[mainToken.Hash()] {
		if c.ModifierMask == modMask {
			return c.Mapping, true
		}
	}
	return nil, false
}

// Lookup returns the mapping with the given id from the active snapshot,
// used by the worker pool to resolve a SequenceMatched or TriggerActivated
// event's mapping_id back to its full definition.
func (r *Resolver) Lookup(id uint32) (*Mapping, bool) {
	snap := r.snapshot.Load()
	m, ok := snap.byID[id]
	return m, ok
}

// All returns every mapping in the active snapshot, used by the worker
// pool to tear down turbo state for mappings a new snapshot no longer
// contains.
func (r *Resolver) All() map[uint32]*Mapping {
	return r.snapshot.Load().byID
}
