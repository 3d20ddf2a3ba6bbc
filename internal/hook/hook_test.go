package hook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chordforge/engine/internal/canonical"
	"github.com/chordforge/engine/internal/hidbaseline"
	"github.com/chordforge/engine/internal/mapping"
	"github.com/chordforge/engine/internal/ring"
	"github.com/chordforge/engine/internal/runtime"
	"github.com/chordforge/engine/internal/synth"
	"github.com/chordforge/engine/internal/worker"
)

type countingInjector struct{ batches int }

func (c *countingInjector) InjectBatch(synth.Batch) error {
	c.batches++
	return nil
}

func newTestDispatcher(t *testing.T, foreground runtime.ForegroundProcessName) (*Dispatcher, *mapping.Resolver, *countingInjector) {
	t.Helper()
	res := mapping.NewResolver()
	inj := &countingInjector{}
	sy := synth.New(inj)
	pool := worker.New(1, sy, res)
	t.Cleanup(pool.Stop)
	rt := runtime.New(res, pool, foreground)
	buf := ring.New(64, 0)
	hid := hidbaseline.NewStore()
	return New(buf, res, pool, rt, hid), res, inj
}

func singleMapping(id uint32, mainTrigger canonical.Token) *mapping.Mapping {
	target, _ := canonical.ParseChord("B")
	return &mapping.Mapping{
		ID:              id,
		Trigger:         mapping.TriggerSpec{Kind: mapping.TriggerSingle, Chord: canonical.Chord{Main: mainTrigger}},
		Target:          mapping.TargetSpec{Mode: mapping.TargetModeSingle, Chords: []canonical.Chord{target}},
		IntervalMS:      20,
		EventDurationMS: 5,
		TurboEnabled:    true,
	}
}

func TestFeedActivatesAndReleasesMappingOnChordPressRelease(t *testing.T) {
	d, res, inj := newTestDispatcher(t, nil)
	m := singleMapping(1, "A")
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: true}, 1000)
	time.Sleep(30 * time.Millisecond)
	require.Greater(t, inj.batches, 0)

	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: false}, 2000)
	time.Sleep(10 * time.Millisecond)
	after := inj.batches
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, inj.batches)
}

func TestFeedSuppressesReactivationOnAutoRepeat(t *testing.T) {
	d, res, _ := newTestDispatcher(t, nil)
	m := singleMapping(2, "A")
	m.TurboEnabled = false
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: true}, 1000)
	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: true}, 1100) // OS auto-repeat
	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: true}, 1200)

	d.mu.Lock()
	_, active := d.active["A"]
	d.mu.Unlock()
	require.True(t, active)
}

func TestFeedIgnoresEverythingWhenDisabled(t *testing.T) {
	d, res, inj := newTestDispatcher(t, nil)
	m := singleMapping(3, "A")
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	d.rt.SetEnabled(false)
	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: true}, 1000)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, inj.batches)
}

func TestFeedRespectsProcessWhitelistViaConfig(t *testing.T) {
	d, res, inj := newTestDispatcher(t, func() (string, error) { return "blocked.exe", nil })
	m := singleMapping(4, "A")
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	cfg := &mapping.Config{ProcessWhitelist: map[string]struct{}{"allowed.exe": {}}}
	d.SetConfig(cfg)

	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: true}, 1000)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, inj.batches)
}

func TestFeedRoutesMouseButtonThroughKeyboardResolver(t *testing.T) {
	d, res, inj := newTestDispatcher(t, nil)
	target, _ := canonical.ParseChord("B")
	m := &mapping.Mapping{
		ID:              5,
		Trigger:         mapping.TriggerSpec{Kind: mapping.TriggerSingle, Chord: canonical.Chord{Main: "MOUSE_L"}},
		Target:          mapping.TargetSpec{Mode: mapping.TargetModeSingle, Chords: []canonical.Chord{target}},
		IntervalMS:      20,
		EventDurationMS: 5,
		TurboEnabled:    false,
	}
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	d.Feed(canonical.MouseButton{Button: canonical.MouseL, Pressed: true}, 1000)
	time.Sleep(20 * time.Millisecond)
	require.Greater(t, inj.batches, 0)
}

func TestFeedDoesNotActivateOnModifierKeyAlone(t *testing.T) {
	d, res, inj := newTestDispatcher(t, nil)
	m := singleMapping(6, "A")
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	d.Feed(canonical.Keyboard{VK: 0xA2, Pressed: true}, 1000) // VK_LCONTROL
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, inj.batches)
}

func TestFeedReleasesMappingWhenModifierLiftsFirst(t *testing.T) {
	d, res, inj := newTestDispatcher(t, nil)
	trigger, _ := canonical.ParseChord("LSHIFT+A")
	target, _ := canonical.ParseChord("B")
	m := &mapping.Mapping{
		ID:              7,
		Trigger:         mapping.TriggerSpec{Kind: mapping.TriggerSingle, Chord: trigger},
		Target:          mapping.TargetSpec{Mode: mapping.TargetModeSingle, Chords: []canonical.Chord{target}},
		IntervalMS:      10,
		EventDurationMS: 2,
		TurboEnabled:    true,
	}
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	lshiftVK, _ := canonical.Token("LSHIFT").VK()
	d.Feed(canonical.Keyboard{VK: lshiftVK, Pressed: true}, 1000)
	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: true}, 2000)
	time.Sleep(30 * time.Millisecond)
	require.Greater(t, inj.batches, 0)

	// Modifier lifts before the main key; the main-key release must still
	// stop the turbo loop even though the chord no longer resolves.
	d.Feed(canonical.Keyboard{VK: lshiftVK, Pressed: false}, 40_000)
	d.Feed(canonical.Keyboard{VK: 0x41, Pressed: false}, 50_000)
	time.Sleep(20 * time.Millisecond)
	after := inj.batches
	time.Sleep(40 * time.Millisecond)
	require.Equal(t, after, inj.batches)
}

func TestFeedTracksDeviceButtonState(t *testing.T) {
	d, _, _ := newTestDispatcher(t, nil)
	in := canonical.XInput{VID: 0x045E, Button: canonical.XButton{Name: "A"}, Pressed: true}
	d.Feed(in, 1000)
	tag := canonical.DeviceTagFor(in)
	require.True(t, d.DeviceHeld(tag, in.Token().Hash()))

	in.Pressed = false
	d.Feed(in, 50_000)
	require.False(t, d.DeviceHeld(tag, in.Token().Hash()))
}

func TestFeedWithUnknownTokenIsNoop(t *testing.T) {
	d, _, inj := newTestDispatcher(t, nil)
	d.Feed(canonical.Keyboard{VK: 0xFFFF, Pressed: true}, 1000)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 0, inj.batches)
}
