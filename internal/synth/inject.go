// Package synth implements the output synthesizer: it turns a mapping's
// target chords into OS-level input events, suppressing the trigger's
// modifiers when the target needs a different set, merging concurrently
// active cursor-motion mappings into one delta per tick, and batching
// adjacent synthetic events into a single injection call.
package synth

import "github.com/chordforge/engine/internal/canonical"

// KeyEvent is a synthetic keyboard down/up, carrying the extended-scancode
// flag the injector needs for arrows, navigation, numpad divide, and the
// right-hand modifiers.
type KeyEvent struct {
	VK       uint16
	Scancode uint16
	Extended bool
	Down     bool
}

// ButtonEvent is a synthetic mouse button down/up. XIndex carries the
// button-index field MOUSEEVENTF_XDOWN/UP requires for X1/X2.
type ButtonEvent struct {
	Button canonical.MouseButtonID
	XIndex uint8
	Down   bool
}

// MotionEvent is a synthetic relative cursor move, already vector-merged
// across every concurrently active motion mapping.
type MotionEvent struct {
	DX, DY int
}

// WheelEvent is a synthetic scroll delta, positive meaning up/right.
type WheelEvent struct {
	Delta int16
}

// Batch is one injection call's worth of synthetic events, packed together
// so the platform injector can submit them in a single OS call when the
// API supports batching (Windows SendInput accepts an INPUT array).
type Batch struct {
	Keys    []KeyEvent
	Buttons []ButtonEvent
	Motion  []MotionEvent
	Wheel   []WheelEvent
}

// Empty reports whether b carries no events at all.
func (b Batch) Empty() bool {
	return len(b.Keys) == 0 && len(b.Buttons) == 0 && len(b.Motion) == 0 && len(b.Wheel) == 0
}

// Injector is the platform capability the output synthesizer drives:
// keyboard down/up with extended flag, mouse button down/up with X-index,
// cursor delta, wheel delta, batched into one call where the OS supports
// it.
type Injector interface {
	InjectBatch(b Batch) error
}
