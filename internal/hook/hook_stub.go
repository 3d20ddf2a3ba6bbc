//go:build !windows

package hook

import (
	"fmt"

	"github.com/chordforge/engine/internal/chorderr"
)

type stubCapture struct{}

// NewCapture returns a Capture that always fails to start on non-Windows
// builds. The engine's input sources (low-level keyboard/mouse hooks,
// XInput, raw HID) are all Windows-only APIs; there is no portable
// fallback to degrade to.
func NewCapture() Capture {
	return stubCapture{}
}

func (stubCapture) Start(*Dispatcher) error {
	return fmt.Errorf("hook: input capture is only implemented on windows: %w", chorderr.ErrHookUnavailable)
}

func (stubCapture) Close() error { return nil }
