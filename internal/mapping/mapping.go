// Package mapping maintains the active set of trigger-to-target mappings,
// the reverse index that turns a pressed main key into candidate mappings,
// and the currently-depressed modifier state needed to pick among them.
package mapping

import (
	"fmt"
	"strings"

	"github.com/chordforge/engine/internal/canonical"
)

// TriggerKind distinguishes a simultaneous chord trigger from an ordered
// sequence trigger.
type TriggerKind uint8

const (
	TriggerSingle TriggerKind = iota
	TriggerSequence
)

// TargetMode controls how a mapping's target chords are emitted each turbo
// tick, numbered to match the configuration file's target_mode field.
type TargetMode uint8

const (
	TargetModeSingle TargetMode = iota
	TargetModeMulti
	TargetModeSequence
)

// TriggerSpec is either a simultaneously-depressed Chord or an ordered
// Sequence of tokens observed within WindowMS.
type TriggerSpec struct {
	Kind     TriggerKind
	Chord    canonical.Chord   // valid when Kind == TriggerSingle
	Sequence []canonical.Token // valid when Kind == TriggerSequence
	WindowMS uint16            // valid when Kind == TriggerSequence; must be in [50, 10000]
}

// TargetSpec is a non-empty list of chords to emit, interpreted according
// to Mode.
type TargetSpec struct {
	Mode   TargetMode
	Chords []canonical.Chord
}

// Mapping is one trigger-to-target binding.
type Mapping struct {
	ID              uint32
	Trigger         TriggerSpec
	Target          TargetSpec
	IntervalMS      uint16
	EventDurationMS uint16
	MoveSpeed       uint8
	TurboEnabled    bool
}

// Config is an immutable snapshot of the full mapping set plus the global
// settings that accompany it. A new Config replaces the active one by
// atomic swap through Resolver.Swap.
type Config struct {
	Mappings         []*Mapping
	SwitchVK         uint16
	ProcessWhitelist map[string]struct{}
	WorkerCount      uint16
	InputTimeoutMS   uint16
	HIDBaselines     map[string][]byte
	Language         string
}

// ValidateConfig enforces the mapping-set invariants ahead of a Resolver
// swap: no two mappings may share a trigger after canonicalization, every
// sequence window must fall in [50, 10000] ms, and every target must name
// at least one chord.
func ValidateConfig(cfg *Config) error {
	seen := make(map[string]uint32, len(cfg.Mappings))
	for _, m := range cfg.Mappings {
		key := triggerKey(m.Trigger)
		if other, ok := seen[key]; ok {
			return fmt.Errorf("mapping %d and %d share the same trigger %q", other, m.ID, key)
		}
		seen[key] = m.ID

		if m.Trigger.Kind == TriggerSequence {
			if m.Trigger.WindowMS < 50 || m.Trigger.WindowMS > 10_000 {
				return fmt.Errorf("mapping %d: sequence window_ms %d outside [50, 10000]", m.ID, m.Trigger.WindowMS)
			}
			if len(m.Trigger.Sequence) == 0 {
				return fmt.Errorf("mapping %d: sequence trigger has no tokens", m.ID)
			}
		}
		if len(m.Target.Chords) == 0 {
			return fmt.Errorf("mapping %d: target has no chords", m.ID)
		}
		if m.IntervalMS < 2 {
			return fmt.Errorf("mapping %d: interval_ms must be >= 2", m.ID)
		}
		if m.EventDurationMS < 2 {
			return fmt.Errorf("mapping %d: event_duration_ms must be >= 2", m.ID)
		}
	}
	return nil
}

// triggerKey derives the canonicalization key used to detect duplicate
// triggers.
func triggerKey(t TriggerSpec) string {
	switch t.Kind {
	case TriggerSingle:
		return "single:" + t.Chord.Format()
	case TriggerSequence:
		parts := make([]string, len(t.Sequence))
		for i, tok := range t.Sequence {
			parts[i] = string(tok)
		}
		return fmt.Sprintf("seq:%d:%s", t.WindowMS, strings.Join(parts, ","))
	default:
		return ""
	}
}
