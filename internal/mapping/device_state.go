package mapping

import "sync"

// DeviceButtonState tracks, per device tag, which button token hashes are
// currently depressed. XInput and HID main-key lookups resolve purely from
// the main token's hash (which already embeds device identity), so this
// table is not consulted during resolution; it serves diagnostics
// (Dispatcher.DeviceHeld), answering "what else is this pad holding right
// now" without re-deriving it from the ring buffer.
type DeviceButtonState struct {
	mu   sync.Mutex
	held map[uint32]map[uint32]bool // deviceTag -> set of token hashes
}

// NewDeviceButtonState returns an empty tracker.
func NewDeviceButtonState() *DeviceButtonState {
	return &DeviceButtonState{held: map[uint32]map[uint32]bool{}}
}

// Update records a button transition on the given device.
func (s *DeviceButtonState) Update(deviceTag, tokenHash uint32, pressed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.held[deviceTag]
	if !ok {
		if !pressed {
			return
		}
		set = map[uint32]bool{}
		s.held[deviceTag] = set
	}
	if pressed {
		set[tokenHash] = true
	} else {
		delete(set, tokenHash)
	}
}

// Held reports whether tokenHash is currently depressed on deviceTag.
func (s *DeviceButtonState) Held(deviceTag, tokenHash uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held[deviceTag][tokenHash]
}
