package synth

import (
	"time"

	"github.com/chordforge/engine/internal/canonical"
)

// Synthesizer turns a mapping's target chords into injected OS events,
// applying the modifier-suppression policy: a modifier the trigger is
// holding that the target chord doesn't want is released for the
// duration of the emission and restored afterward; a modifier the target
// wants that the trigger isn't holding is pressed down first and released
// after. Motion and wheel targets bypass the down/hold/up cycle entirely
// since they carry no press state to hold.
type Synthesizer struct {
	inj    Injector
	Motion *MotionAccumulator
	Sleep  func(time.Duration) // overridable for tests; defaults to time.Sleep
}

// New returns a Synthesizer driving inj.
func New(inj Injector) *Synthesizer {
	return &Synthesizer{inj: inj, Motion: NewMotionAccumulator(), Sleep: time.Sleep}
}

// EmitChord performs one full down -> hold -> up cycle for target,
// suppressing the modifiers depressed (the trigger's currently-held
// modifier mask) does not share with target, and pressing whatever
// modifiers target needs that depressed isn't already holding. Both
// phases are each submitted as a single injection batch, matching the
// "batch adjacent events into one call" requirement.
func (s *Synthesizer) EmitChord(depressed canonical.Modifier, target canonical.Chord, hold time.Duration) error {
	additions := target.Modifiers &^ depressed
	subtractions := depressed &^ target.Modifiers

	down := Batch{}
	for _, tok := range canonical.ModifierTokens(subtractions) {
		appendKey(&down, tok, false)
	}
	for _, tok := range canonical.ModifierTokens(additions) {
		appendKey(&down, tok, true)
	}
	appendMain(&down, target.Main, true)

	if !down.Empty() {
		if err := s.inj.InjectBatch(down); err != nil {
			return err
		}
	}

	if hold > 0 {
		s.Sleep(hold)
	}

	up := Batch{}
	appendMain(&up, target.Main, false)
	for _, tok := range canonical.ModifierTokens(additions) {
		appendKey(&up, tok, false)
	}
	for _, tok := range canonical.ModifierTokens(subtractions) {
		appendKey(&up, tok, true)
	}

	if up.Empty() {
		return nil
	}
	return s.inj.InjectBatch(up)
}

// EmitMotion registers workerSlot/mappingID's contribution to the merged
// cursor delta, re-reads the merged total, and injects it. Called once per
// turbo tick for as long as a motion mapping's target key stays pressed.
func (s *Synthesizer) EmitMotion(workerSlot int, mappingID string, direction canonical.MotionDirection, speed uint8) error {
	s.Motion.Set(workerSlot, mappingID, direction, float64(speed))
	dx, dy := s.Motion.Merge()
	if dx == 0 && dy == 0 {
		return nil
	}
	return s.inj.InjectBatch(Batch{Motion: []MotionEvent{{DX: dx, DY: dy}}})
}

// ReleaseMotion clears workerSlot/mappingID's contribution to the merged
// cursor delta, called when a motion mapping's target key releases.
func (s *Synthesizer) ReleaseMotion(workerSlot int, mappingID string) {
	s.Motion.Clear(workerSlot, mappingID)
}

// EmitWheel injects one scroll tick. Unlike motion, wheel deltas are never
// merged across mappings: each tick of each active wheel mapping emits its
// own WHEEL_DELTA, matching a real scroll wheel's discrete notches.
func (s *Synthesizer) EmitWheel(delta int16) error {
	return s.inj.InjectBatch(Batch{Wheel: []WheelEvent{{Delta: delta}}})
}

func appendMain(b *Batch, tok canonical.Token, down bool) {
	if tok == "" {
		return
	}
	appendKey(b, tok, down)
}

// appendKey dispatches tok to the right Batch field by its canonical kind.
// Motion and wheel tokens never reach here as a chord's Main: the worker
// pool routes those targets to EmitMotion/EmitWheel instead of EmitChord.
func appendKey(b *Batch, tok canonical.Token, down bool) {
	switch tok.Kind() {
	case canonical.KindMouseButton:
		btn, _ := tok.MouseButtonID()
		b.Buttons = append(b.Buttons, ButtonEvent{Button: btn, XIndex: xIndex(btn), Down: down})
	default:
		vk, ok := tok.VK()
		if !ok {
			return
		}
		sc, extended, _ := canonical.ScancodeForVK(vk)
		b.Keys = append(b.Keys, KeyEvent{VK: vk, Scancode: sc, Extended: extended, Down: down})
	}
}

func xIndex(btn canonical.MouseButtonID) uint8 {
	switch btn {
	case canonical.MouseX1:
		return 1
	case canonical.MouseX2:
		return 2
	default:
		return 0
	}
}
