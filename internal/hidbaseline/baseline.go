// Package hidbaseline implements the device baseline store: per-device
// reference HID report snapshots, captured through a press-and-release
// activation gesture, used to diff subsequent raw reports into canonical
// button press/release events.
package hidbaseline

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chordforge/engine/internal/canonical"
	"github.com/chordforge/engine/internal/chorderr"
)

// DeviceID identifies one physical HID device by vendor id, product id, and
// serial number (or instance path, for devices that expose no serial).
// Identical VID/PID with differing serials are distinct devices.
type DeviceID struct {
	VID, PID uint16
	Serial   string
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%04X:%04X:%s", d.VID, d.PID, d.Serial)
}

// ParseDeviceID parses the "VID:PID:SERIAL" form used by the configuration
// file's [[hid_baselines]] device_id field.
func ParseDeviceID(s string) (DeviceID, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return DeviceID{}, chorderr.NewParseError(s, "device id must be VID:PID:SERIAL")
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return DeviceID{}, chorderr.NewParseError(s, "bad vendor id")
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return DeviceID{}, chorderr.NewParseError(s, "bad product id")
	}
	return DeviceID{VID: uint16(vid), PID: uint16(pid), Serial: parts[2]}, nil
}

// DefaultThreshold is the per-byte deviation from baseline, as an absolute
// difference of unsigned byte values, that a live report must cross before
// a byte is considered pressed rather than analog noise around baseline.
const DefaultThreshold uint8 = 8

// DefaultActivationTimeout bounds how long an activation waits for the
// press-then-release gesture before it is aborted.
const DefaultActivationTimeout = 10 * time.Second

type deviceState struct {
	baseline  []byte
	threshold uint8

	// A report is modeled as carrying at most one active button
	// transition at a time: once a byte crosses threshold we track it as
	// the active bit and wait for that same byte to return within
	// threshold before considering the button released. This follows the
	// single differing-byte description of the protocol directly rather
	// than inventing multi-button simultaneous tracking.
	pressed      bool
	activeByteIx uint8
	activeBitIx  uint8
}

type activation struct {
	baseline []byte
	sawPress bool
	deadline time.Time
}

// Store holds every known device's baseline and any in-progress activation.
type Store struct {
	mu          sync.Mutex
	devices     map[DeviceID]*deviceState
	activations map[DeviceID]*activation
}

// NewStore returns an empty baseline store.
func NewStore() *Store {
	return &Store{
		devices:     map[DeviceID]*deviceState{},
		activations: map[DeviceID]*activation{},
	}
}

// Load installs a persisted baseline set, keyed by the "VID:PID:SERIAL"
// form used in configuration, replacing any baseline already recorded for
// the same device. Malformed keys are skipped; callers that need strict
// validation should run ParseDeviceID themselves ahead of time.
func (s *Store) Load(baselines map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, raw := range baselines {
		id, err := ParseDeviceID(key)
		if err != nil {
			continue
		}
		s.devices[id] = &deviceState{baseline: append([]byte(nil), raw...), threshold: DefaultThreshold}
	}
}

// Snapshot returns every known baseline in the persisted "VID:PID:SERIAL"
// keyed form, suitable for writing back into a configuration file's
// [[hid_baselines]] tables.
func (s *Store) Snapshot() map[string][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.devices))
	for id, ds := range s.devices {
		out[id.String()] = append([]byte(nil), ds.baseline...)
	}
	return out
}

// SetBaseline installs baseline directly, bypassing the activation gesture.
// Used by tests and by an explicit "re-baseline this device" admin action.
func (s *Store) SetBaseline(id DeviceID, baseline []byte, threshold uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[id] = &deviceState{baseline: append([]byte(nil), baseline...), threshold: threshold}
}

// Activated reports whether id has a recorded baseline.
func (s *Store) Activated(id DeviceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.devices[id]
	return ok
}

// BeginActivation starts a press-and-release capture session for id,
// discarding any session already in progress for that device.
func (s *Store) BeginActivation(id DeviceID, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activations[id] = &activation{deadline: now.Add(DefaultActivationTimeout)}
}

// CancelActivation abandons an in-progress activation without installing a
// baseline.
func (s *Store) CancelActivation(id DeviceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activations, id)
}

// Feed advances an in-progress activation with one raw report. The first
// report establishes the provisional baseline; a later report that differs
// from it marks the press half of the gesture; a report that matches it
// again after a press finalizes that provisional baseline as the device's
// permanent baseline and reports activated=true. Feed on a device with no
// BeginActivation call returns an error.
func (s *Store) Feed(id DeviceID, report []byte, now time.Time) (activated bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	act, ok := s.activations[id]
	if !ok {
		return false, fmt.Errorf("hidbaseline: %s: %w", id, chorderr.ErrDeviceNotActivated)
	}
	if now.After(act.deadline) {
		delete(s.activations, id)
		return false, fmt.Errorf("hidbaseline: %s: activation timed out", id)
	}

	if act.baseline == nil {
		act.baseline = append([]byte(nil), report...)
		return false, nil
	}

	if !bytes.Equal(act.baseline, report) {
		act.sawPress = true
		return false, nil
	}

	if !act.sawPress {
		return false, nil
	}

	s.devices[id] = &deviceState{baseline: act.baseline, threshold: DefaultThreshold}
	delete(s.activations, id)
	return true, nil
}

// Diff compares a live report against id's recorded baseline and returns
// the button transition it produces, if any. An error of kind
// chorderr.ErrDeviceNotActivated is returned when id has no baseline, or
// when report's length no longer matches the baseline's (the length
// mismatch invalidates the recorded baseline, per the device baseline
// contract: a baseline is only valid for reports of the length observed at
// activation time).
func (s *Store) Diff(id DeviceID, report []byte, frameIx uint8, deviceTag uint32) (*canonical.HID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("hidbaseline: %s: %w", id, chorderr.ErrDeviceNotActivated)
	}
	if len(report) != len(ds.baseline) {
		return nil, fmt.Errorf("hidbaseline: %s: report length %d no longer matches baseline length %d: %w",
			id, len(report), len(ds.baseline), chorderr.ErrDeviceNotActivated)
	}

	if !ds.pressed {
		byteIx, bitIx, found := firstDifferingBit(ds.baseline, report, ds.threshold)
		if !found {
			return nil, nil
		}
		ds.pressed = true
		ds.activeByteIx = byteIx
		ds.activeBitIx = bitIx
		return &canonical.HID{
			VID: id.VID, PID: id.PID, Serial: id.Serial,
			ByteIx: byteIx, BitIx: bitIx, FrameIx: frameIx,
			Pressed: true, DeviceTag: deviceTag,
		}, nil
	}

	if byteDelta(ds.baseline[ds.activeByteIx], report[ds.activeByteIx]) >= ds.threshold {
		return nil, nil
	}
	ds.pressed = false
	return &canonical.HID{
		VID: id.VID, PID: id.PID, Serial: id.Serial,
		ByteIx: ds.activeByteIx, BitIx: ds.activeBitIx, FrameIx: frameIx,
		Pressed: false, DeviceTag: deviceTag,
	}, nil
}

// firstDifferingBit scans baseline/live byte-by-byte for the first byte
// whose deviation crosses threshold, then returns the lowest set bit of
// that byte's XOR against baseline as the button's bit index.
func firstDifferingBit(baseline, live []byte, threshold uint8) (byteIx, bitIx uint8, found bool) {
	for i := range baseline {
		if byteDelta(baseline[i], live[i]) < threshold {
			continue
		}
		xor := baseline[i] ^ live[i]
		for b := 0; b < 8; b++ {
			if xor&(1<<uint(b)) != 0 {
				return uint8(i), uint8(b), true
			}
		}
		// Threshold crossed but no bit differs: only reachable with a zero
		// threshold, where an unchanged byte counts as crossing. Bit 0 of
		// this byte is reported as the button.
		return uint8(i), 0, true
	}
	return 0, 0, false
}

func byteDelta(a, b byte) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
