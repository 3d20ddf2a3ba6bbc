//go:build !windows

package synth

import "fmt"

// stubInjector backs non-Windows builds, where no platform injection API is
// wired up: the engine's input model and turbo/matching logic are still
// fully testable, but nothing reaches real OS input.
type stubInjector struct{}

// NewWindowsInjector is named for parity with the Windows build so callers
// (cmd/chordforged/main.go) can construct the platform injector without a build-tagged
// call site of their own.
func NewWindowsInjector() Injector { return &stubInjector{} }

func (stubInjector) InjectBatch(b Batch) error {
	if b.Empty() {
		return nil
	}
	return fmt.Errorf("synth: input injection not supported on this platform")
}
