package ring

import (
	"sync"
	"sync/atomic"

	"github.com/chordforge/engine/internal/canonical"
)

// PatternElem is one token in a registered sequence pattern. Stick/Direction
// are populated only for XInput analog-stick elements, enabling transition
// tolerance and diagonal bidirectional matching; all other pattern elements
// match only by exact hash.
type PatternElem struct {
	Hash          uint32
	Stick         string
	Direction     canonical.MotionDirection
	IsDirectional bool
}

// NewPatternElem builds a plain (non-directional) pattern element from a
// KeyToken, for keyboard/mouse/button sequence steps.
func NewPatternElem(t canonical.Token) PatternElem {
	return PatternElem{Hash: t.Hash()}
}

// NewStickPatternElem builds a directional pattern element for an XInput
// stick, used for transition tolerance and diagonal matching.
func NewStickPatternElem(vid uint16, stick string, dir canonical.MotionDirection) PatternElem {
	return PatternElem{
		Hash:          canonical.FormatGamepadStickToken(vid, stick, dir).Hash(),
		Stick:         stick,
		Direction:     dir,
		IsDirectional: true,
	}
}

// Registration is one registered sequence trigger.
type Registration struct {
	ID       uint32
	Pattern  []PatternElem
	WindowUS uint64
	VID      uint16 // vendor id pattern elements belong to, 0 if n/a

	// DeviceFilter, if non-nil, restricts matching entries to this device
	// tag, e.g. scoping a sequence to a single pad or vendor.
	DeviceFilter *uint32

	tombstoned    atomic.Bool
	cooldownUntil atomic.Uint64

	// tolerated maps a target pattern index (the older, not-yet-consumed
	// element) to the hash of the single intermediate stick direction that
	// transition tolerance permits between it and the next (newer,
	// already-consumed) element.
	tolerated map[int]uint32
}

// NewRegistration builds a Registration, precomputing the transition
// tolerance table for adjacent same-stick directional elements.
func NewRegistration(id uint32, pattern []PatternElem, windowUS uint64, vid uint16, deviceFilter *uint32) *Registration {
	r := &Registration{
		ID:           id,
		Pattern:      pattern,
		WindowUS:     windowUS,
		VID:          vid,
		DeviceFilter: deviceFilter,
		tolerated:    map[int]uint32{},
	}
	for i := 0; i+1 < len(pattern); i++ {
		target, next := pattern[i], pattern[i+1]
		if !target.IsDirectional || !next.IsDirectional || target.Stick != next.Stick {
			continue
		}
		if mid, ok := tolerantIntermediate(target.Direction, next.Direction); ok {
			r.tolerated[i] = canonical.FormatGamepadStickToken(vid, target.Stick, mid).Hash()
		}
	}
	return r
}

// tolerantIntermediate returns the single compass direction that sits
// directly between a and b, if and only if a and b are exactly two
// 8-compass steps apart (e.g. Down and Right are two steps apart, with
// DownRight between them — a pattern transitioning Down to Right tolerates
// an intervening DownRight sample without failing the match).
func tolerantIntermediate(a, b canonical.MotionDirection) (canonical.MotionDirection, bool) {
	ai, bi := int(a), int(b)
	diff := (bi - ai + 8) % 8
	switch diff {
	case 2:
		return canonical.MotionDirection((ai + 1) % 8), true
	case 6:
		return canonical.MotionDirection((bi + 1) % 8), true
	default:
		return 0, false
	}
}

// Registry is the append-mostly, tombstone-on-remove table of registered
// sequences. Reads are lock-free via an atomically swapped
// snapshot slice; writes are serialized by a mutex, the same copy-on-write
// discipline the mapping resolver uses for its own indices.
type Registry struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]*Registration]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := []*Registration{}
	r.snapshot.Store(&empty)
	return r
}

// Register appends a new sequence registration.
func (r *Registry) Register(reg *Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.snapshot.Load()
	next := make([]*Registration, len(old)+1)
	copy(next, old)
	next[len(old)] = reg
	r.snapshot.Store(&next)
}

// Remove tombstones every registration with the given mapping id. The
// matcher skips tombstoned entries; Compact later reclaims their slots.
func (r *Registry) Remove(id uint32) {
	for _, reg := range *r.snapshot.Load() {
		if reg.ID == id {
			reg.tombstoned.Store(true)
		}
	}
}

// Compact drops tombstoned registrations, typically called on config swap.
func (r *Registry) Compact() {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := *r.snapshot.Load()
	next := make([]*Registration, 0, len(old))
	for _, reg := range old {
		if !reg.tombstoned.Load() {
			next = append(next, reg)
		}
	}
	r.snapshot.Store(&next)
}

// Snapshot returns the current registration list (may include tombstoned
// entries; callers must check IsTombstoned).
func (r *Registry) Snapshot() []*Registration {
	return *r.snapshot.Load()
}

// IsTombstoned reports whether reg has been removed but not yet compacted.
func (reg *Registration) IsTombstoned() bool { return reg.tombstoned.Load() }

// Matcher runs the sequence-completion algorithm against a Buffer and
// Registry, invoking onMatch at most once per cooldown window per sequence.
type Matcher struct {
	buf      *Buffer
	registry *Registry
	onMatch  func(mappingID uint32, matchedAtUS uint64)
}

// NewMatcher builds a Matcher. onMatch is invoked synchronously from
// Observe; callers needing asynchronous dispatch should hand off inside it.
func NewMatcher(buf *Buffer, registry *Registry, onMatch func(mappingID uint32, matchedAtUS uint64)) *Matcher {
	return &Matcher{buf: buf, registry: registry, onMatch: onMatch}
}

// Observe runs every registered, non-tombstoned sequence's match attempt
// against the ring after a new entry has been published. Call it once per
// successful Buffer.Push with the entry that was just pushed.
func (m *Matcher) Observe(pushed Entry) {
	for _, reg := range m.registry.Snapshot() {
		if reg.IsTombstoned() || len(reg.Pattern) == 0 {
			continue
		}
		inCooldown := pushed.TimestampUS < reg.cooldownUntil.Load()

		matchedTS, ok := tryMatch(reg, m.buf)
		if !ok {
			continue
		}
		if inCooldown {
			// MatchCooldown: suppressed re-fire, telemetry-only.
			continue
		}
		reg.cooldownUntil.Store(matchedTS + reg.WindowUS)
		if m.onMatch != nil {
			m.onMatch(reg.ID, matchedTS)
		}
	}
}

// tryMatch walks the ring backward from the newest entry, consuming reg's
// pattern right-to-left, and reports the timestamp of the oldest matched
// entry on success.
func tryMatch(reg *Registration, buf *Buffer) (matchedAtUS uint64, ok bool) {
	it := buf.newBackwardIterator()
	pi := len(reg.Pattern) - 1
	var newestTS, lastConsumedTS uint64
	first := true

	for {
		e, has := it.next()
		if !has {
			return 0, false
		}
		if reg.DeviceFilter != nil && *reg.DeviceFilter != e.DeviceTag {
			continue
		}

		if first {
			newestTS = e.TimestampUS
			lastConsumedTS = e.TimestampUS + 1 // sentinel: anything is "older"
			first = false
		} else if e.TimestampUS >= lastConsumedTS {
			return 0, false // timestamps must be strictly monotonic backward
		}
		if newestTS-e.TimestampUS > reg.WindowUS {
			return 0, false
		}

		target := reg.Pattern[pi]
		if matchedE2, extra := matchTarget(reg, target, e, it); matchedE2 {
			lastConsumedTS = e.TimestampUS
			if extra != nil {
				if extra.TimestampUS >= e.TimestampUS || newestTS-extra.TimestampUS > reg.WindowUS {
					return 0, false
				}
				lastConsumedTS = extra.TimestampUS
			}
			pi--
			if pi < 0 {
				return lastConsumedTS, true
			}
			continue
		}

		if toleratedHash, tolerable := reg.tolerated[pi]; tolerable && e.TokenHash == toleratedHash {
			continue // skip the interpolated intermediate state
		}

		return 0, false // unexpected token breaks the match
	}
}

// matchTarget checks entry e against pattern element target. For a diagonal
// stick element it additionally accepts two consecutive entries equal to
// the diagonal's component cardinals in either order (bidirectional
// diagonal matching), returning the second consumed entry so the caller
// can fold its timestamp into the monotonicity/window checks.
func matchTarget(reg *Registration, target PatternElem, e Entry, it *backwardIterator) (bool, *Entry) {
	if e.TokenHash == target.Hash {
		return true, nil
	}
	if !target.IsDirectional || !target.Direction.IsDiagonal() {
		return false, nil
	}
	c1, c2 := target.Direction.Cardinals()
	h1 := canonical.FormatGamepadStickToken(reg.VID, target.Stick, c1).Hash()
	h2 := canonical.FormatGamepadStickToken(reg.VID, target.Stick, c2).Hash()
	if e.TokenHash != h1 && e.TokenHash != h2 {
		return false, nil
	}
	e2, has := it.next()
	if !has {
		return false, nil
	}
	if (e.TokenHash == h1 && e2.TokenHash == h2) || (e.TokenHash == h2 && e2.TokenHash == h1) {
		return true, &e2
	}
	it.unread(e2)
	return false, nil
}
