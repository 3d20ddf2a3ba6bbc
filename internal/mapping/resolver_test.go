package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chordforge/engine/internal/canonical"
)

func mustChord(t *testing.T, s string) canonical.Chord {
	t.Helper()
	c, err := canonical.ParseChord(s)
	require.NoError(t, err)
	return c
}

func singleMapping(t *testing.T, id uint32, trigger, target string) *Mapping {
	t.Helper()
	return &Mapping{
		ID:              id,
		Trigger:         TriggerSpec{Kind: TriggerSingle, Chord: mustChord(t, trigger)},
		Target:          TargetSpec{Mode: TargetModeSingle, Chords: []canonical.Chord{mustChord(t, target)}},
		IntervalMS:      10,
		EventDurationMS: 5,
		MoveSpeed:       1,
		TurboEnabled:    true,
	}
}

func TestResolverModifierExactness(t *testing.T) {
	r := NewResolver()
	m := singleMapping(t, 1, "LSHIFT+A", "F1")
	require.NoError(t, r.Swap(&Config{Mappings: []*Mapping{m}}))

	a, _ := canonical.ParseToken("A")

	r.UpdateModifierState(canonical.Token("LSHIFT"), true)
	got, ok := r.ResolveKeyboard(a)
	require.True(t, ok)
	require.Equal(t, m, got)

	r.UpdateModifierState(canonical.Token("LSHIFT"), false)
	r.UpdateModifierState(canonical.Token("RSHIFT"), true)
	_, ok = r.ResolveKeyboard(a)
	require.False(t, ok, "RSHIFT+A must not match a LSHIFT+A trigger")
}

func TestResolverMismatchFallsThrough(t *testing.T) {
	r := NewResolver()
	m := singleMapping(t, 1, "LCTRL+C", "LCTRL+V")
	require.NoError(t, r.Swap(&Config{Mappings: []*Mapping{m}}))

	c, _ := canonical.ParseToken("C")
	_, ok := r.ResolveKeyboard(c) // no modifiers held
	require.False(t, ok)
}

func TestResolverSwapRejectsDuplicateTrigger(t *testing.T) {
	r := NewResolver()
	m1 := singleMapping(t, 1, "A", "F1")
	m2 := singleMapping(t, 2, "A", "F2")
	// Both triggers canonicalize identically, which ValidateConfig should
	// reject rather than silently pick one.
	err := r.Swap(&Config{Mappings: []*Mapping{m1, m2}})
	require.Error(t, err)
}

func TestValidateConfigRejectsDuplicateTrigger(t *testing.T) {
	cfg := &Config{Mappings: []*Mapping{
		singleMapping(t, 1, "A", "F1"),
		singleMapping(t, 2, "A", "F2"),
	}}
	require.Error(t, ValidateConfig(cfg))
}

func TestValidateConfigRejectsOutOfRangeSequenceWindow(t *testing.T) {
	m := &Mapping{
		ID: 1,
		Trigger: TriggerSpec{
			Kind:     TriggerSequence,
			Sequence: []canonical.Token{"A", "B"},
			WindowMS: 10, // below the 50ms floor
		},
		Target:          TargetSpec{Mode: TargetModeSingle, Chords: []canonical.Chord{mustChord(t, "F1")}},
		IntervalMS:      10,
		EventDurationMS: 5,
	}
	require.Error(t, ValidateConfig(&Config{Mappings: []*Mapping{m}}))
}

func TestResolverDeviceResolutionIgnoresKeyboardModifiers(t *testing.T) {
	r := NewResolver()
	button := canonical.FormatGamepadToken(0x045E, "A")
	m := &Mapping{
		ID:              1,
		Trigger:         TriggerSpec{Kind: TriggerSingle, Chord: mustChord(t, string(button))},
		Target:          TargetSpec{Mode: TargetModeSingle, Chords: []canonical.Chord{mustChord(t, "F1")}},
		IntervalMS:      10,
		EventDurationMS: 5,
	}
	require.NoError(t, r.Swap(&Config{Mappings: []*Mapping{m}}))

	// Holding a keyboard modifier must not prevent a gamepad button match.
	r.UpdateModifierState(canonical.Token("LCTRL"), true)
	got, ok := r.ResolveDevice(button)
	require.True(t, ok)
	require.Equal(t, m, got)
}

func TestResolverSwapRebuildsSequenceRegistry(t *testing.T) {
	r := NewResolver()
	m := &Mapping{
		ID:              1,
		Trigger:         TriggerSpec{Kind: TriggerSequence, Sequence: []canonical.Token{"A", "B"}, WindowMS: 500},
		Target:          TargetSpec{Mode: TargetModeSingle, Chords: []canonical.Chord{mustChord(t, "F1")}},
		IntervalMS:      10,
		EventDurationMS: 5,
	}
	require.NoError(t, r.Swap(&Config{Mappings: []*Mapping{m}}))
	require.Len(t, r.Registry().Snapshot(), 1)

	// Swapping to a config without the mapping tombstones and compacts it.
	require.NoError(t, r.Swap(&Config{Mappings: nil}))
	require.Empty(t, r.Registry().Snapshot())
}

func TestResolverLookupAndAll(t *testing.T) {
	r := NewResolver()
	m := singleMapping(t, 7, "A", "F1")
	require.NoError(t, r.Swap(&Config{Mappings: []*Mapping{m}}))

	got, ok := r.Lookup(7)
	require.True(t, ok)
	require.Equal(t, m, got)

	all := r.All()
	require.Len(t, all, 1)
	require.Same(t, m, all[7])
}

func TestDeviceButtonStateTracksHeldButtons(t *testing.T) {
	s := NewDeviceButtonState()
	s.Update(1, 100, true)
	require.True(t, s.Held(1, 100))
	s.Update(1, 100, false)
	require.False(t, s.Held(1, 100))
}
