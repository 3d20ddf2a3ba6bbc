package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chordforge/engine/internal/canonical"
	"github.com/chordforge/engine/internal/mapping"
	"github.com/chordforge/engine/internal/synth"
)

type countingInjector struct {
	batches []synth.Batch
}

func newCountingInjector() *countingInjector {
	return &countingInjector{}
}

func (c *countingInjector) InjectBatch(b synth.Batch) error {
	c.batches = append(c.batches, b)
	return nil
}

func newTestMapping(id uint32, intervalMS, durationMS uint16) *mapping.Mapping {
	target, _ := canonical.ParseChord("B")
	return &mapping.Mapping{
		ID:              id,
		Trigger:         mapping.TriggerSpec{Kind: mapping.TriggerSingle, Chord: canonical.Chord{Main: "A"}},
		Target:          mapping.TargetSpec{Mode: mapping.TargetModeSingle, Chords: []canonical.Chord{target}},
		IntervalMS:      intervalMS,
		EventDurationMS: durationMS,
		TurboEnabled:    true,
	}
}

func TestShardingIsStableAcrossCalls(t *testing.T) {
	p := &Pool{workers: make([]*worker, 4)}
	for i := range p.workers {
		p.workers[i] = &worker{id: i}
	}
	first := p.shardFor(42)
	for i := 0; i < 100; i++ {
		require.Same(t, first, p.shardFor(42))
	}
}

func TestShardingDistributesAcrossWorkers(t *testing.T) {
	p := &Pool{workers: make([]*worker, 4)}
	for i := range p.workers {
		p.workers[i] = &worker{id: i}
	}
	seen := map[*worker]bool{}
	for id := uint32(0); id < 64; id++ {
		seen[p.shardFor(id)] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestActivationFiresAndReleaseStopsTicking(t *testing.T) {
	inj := newCountingInjector()
	sy := synth.New(inj)
	res := mapping.NewResolver()

	m := newTestMapping(1, 10, 2)
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	pool := New(1, sy, res)
	defer pool.Stop()

	pool.Activate(Activation{MappingID: 1})
	time.Sleep(50 * time.Millisecond)
	pool.Release(Release{MappingID: 1})
	time.Sleep(20 * time.Millisecond)

	countAfterRelease := len(inj.batches)
	require.Greater(t, countAfterRelease, 0)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, countAfterRelease, len(inj.batches))
}

func TestReconcileCorrectsStuckMappingOnRemoval(t *testing.T) {
	inj := newCountingInjector()
	sy := synth.New(inj)
	res := mapping.NewResolver()

	m := newTestMapping(7, 10, 2)
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	pool := New(1, sy, res)
	defer pool.Stop()

	pool.Activate(Activation{MappingID: 7})
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, res.Swap(&mapping.Config{Mappings: nil}))
	pool.Reconcile()
	time.Sleep(20 * time.Millisecond)

	countAfterReconcile := len(inj.batches)
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, countAfterReconcile, len(inj.batches))
}

func TestTurboDisabledMappingFiresOnceThenAwaitsReactivation(t *testing.T) {
	inj := newCountingInjector()
	sy := synth.New(inj)
	res := mapping.NewResolver()

	m := newTestMapping(3, 10, 2)
	m.TurboEnabled = false
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	pool := New(1, sy, res)
	defer pool.Stop()

	pool.Activate(Activation{MappingID: 3})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, len(inj.batches)) // one down batch, one up batch; no repeat ticks
}

func TestNonTurboSequenceTargetPlaysFullPassOnce(t *testing.T) {
	inj := newCountingInjector()
	sy := synth.New(inj)
	res := mapping.NewResolver()

	chords := make([]canonical.Chord, 0, 5)
	for _, s := range []string{"H", "E", "L", "L", "O"} {
		c, err := canonical.ParseChord(s)
		require.NoError(t, err)
		chords = append(chords, c)
	}
	m := &mapping.Mapping{
		ID:              11,
		Trigger:         mapping.TriggerSpec{Kind: mapping.TriggerSingle, Chord: canonical.Chord{Main: "F5"}},
		Target:          mapping.TargetSpec{Mode: mapping.TargetModeSequence, Chords: chords},
		IntervalMS:      10,
		EventDurationMS: 2,
		TurboEnabled:    false,
	}
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	pool := New(1, sy, res)
	defer pool.Stop()

	pool.Activate(Activation{MappingID: 11})
	pool.Release(Release{MappingID: 11}) // a quick tap must not cut the playback short
	time.Sleep(150 * time.Millisecond)

	require.Equal(t, 10, len(inj.batches)) // five chords, one down and one up batch each
	var mains []uint16
	for i := 0; i < len(inj.batches); i += 2 {
		require.Len(t, inj.batches[i].Keys, 1)
		mains = append(mains, inj.batches[i].Keys[0].VK)
	}
	require.Equal(t, []uint16{'H', 'E', 'L', 'L', 'O'}, mains)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 10, len(inj.batches)) // exactly one pass, no repeat
}

func TestWheelTargetScalesDeltaByMoveSpeed(t *testing.T) {
	cases := []struct {
		name      string
		target    string
		moveSpeed uint8
		want      int16
	}{
		{"up scaled", "WHEEL_UP", 5, 5},
		{"down scaled", "WHEEL_DOWN", 3, -3},
		{"unset speed falls back to one notch", "WHEEL_UP", 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inj := newCountingInjector()
			sy := synth.New(inj)
			res := mapping.NewResolver()

			wheel, err := canonical.ParseChord(tc.target)
			require.NoError(t, err)
			m := &mapping.Mapping{
				ID:              13,
				Trigger:         mapping.TriggerSpec{Kind: mapping.TriggerSingle, Chord: canonical.Chord{Main: "A"}},
				Target:          mapping.TargetSpec{Mode: mapping.TargetModeSingle, Chords: []canonical.Chord{wheel}},
				IntervalMS:      10,
				EventDurationMS: 2,
				MoveSpeed:       tc.moveSpeed,
				TurboEnabled:    false,
			}
			require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

			pool := New(1, sy, res)
			defer pool.Stop()

			pool.Activate(Activation{MappingID: 13})
			time.Sleep(30 * time.Millisecond)

			require.Len(t, inj.batches, 1)
			require.Len(t, inj.batches[0].Wheel, 1)
			require.Equal(t, tc.want, inj.batches[0].Wheel[0].Delta)
		})
	}
}

func TestSequenceMatchActivationIsOneShot(t *testing.T) {
	inj := newCountingInjector()
	sy := synth.New(inj)
	res := mapping.NewResolver()

	m := newTestMapping(9, 10, 2)
	require.NoError(t, res.Swap(&mapping.Config{Mappings: []*mapping.Mapping{m}}))

	pool := New(1, sy, res)
	defer pool.Stop()

	pool.Activate(Activation{MappingID: 9, FromSequenceMatch: true})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, len(inj.batches))
}
