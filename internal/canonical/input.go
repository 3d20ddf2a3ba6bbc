package canonical

// Input is the tagged union of every input source the engine normalizes:
// a closed set of concrete types behind a marker interface, switched on by
// the consumer, rather than a single struct with a discriminant field.
type Input interface {
	canonicalInput()
	// Token returns the KeyToken this input maps to, used to hash into the
	// ring buffer and the mapping resolver's reverse index.
	Token() Token
}

// Keyboard is a physical key transition.
type Keyboard struct {
	VK        uint16
	Scancode  uint16
	Extended  bool
	Pressed   bool
	DeviceTag uint32
}

func (Keyboard) canonicalInput() {}

// Token resolves the VK code back to its canonical keyboard token.
func (k Keyboard) Token() Token {
	if name, ok := vkToName[k.VK]; ok {
		return Token(name)
	}
	return ""
}

// MouseButtonID enumerates the five mouse buttons the engine recognizes.
type MouseButtonID uint8

const (
	MouseL MouseButtonID = iota
	MouseR
	MouseM
	MouseX1
	MouseX2
)

var mouseButtonTokens = [...]Token{"MOUSE_L", "MOUSE_R", "MOUSE_M", "MOUSE_X1", "MOUSE_X2"}

// MouseButton is a mouse button press/release.
type MouseButton struct {
	Button    MouseButtonID
	Pressed   bool
	DeviceTag uint32
}

func (MouseButton) canonicalInput() {}

func (m MouseButton) Token() Token { return mouseButtonTokens[m.Button] }

// XButton enumerates the XInput button/stick-direction space.
type XButton struct {
	Name string // "A","B","X","Y","START","BACK","LB","RB","LT","RT","LS_CLICK","RS_CLICK"
	// Stick/DPad names carry a direction instead (set Name to "DPAD", "LS",
	// or "RS" and Direction to the compass position).
	Direction    MotionDirection
	HasDirection bool
}

// XInput is one button or stick-direction transition from an XInput pad.
type XInput struct {
	VID       uint16
	Button    XButton
	Pressed   bool
	DeviceTag uint32
}

func (XInput) canonicalInput() {}

func (x XInput) Token() Token {
	if x.Button.HasDirection {
		return FormatGamepadStickToken(x.VID, x.Button.Name, x.Button.Direction)
	}
	return FormatGamepadToken(x.VID, x.Button.Name)
}

// HID is a raw-HID button transition derived by the device baseline store's
// diff of a report against its recorded baseline.
type HID struct {
	VID, PID  uint16
	Serial    string
	ByteIx    uint8
	BitIx     uint8
	FrameIx   uint8
	Pressed   bool
	DeviceTag uint32
}

func (HID) canonicalInput() {}

func (h HID) Token() Token {
	return FormatHIDToken(h.VID, h.PID, h.Serial, h.ByteIx, h.BitIx)
}

// MouseMotion is an output-only directional cursor move at a given speed
// (1..=100), used by target chords and the output synthesizer's vector
// merge; never produced by the hook layer.
type MouseMotion struct {
	Direction MotionDirection
	Speed     uint8
}

func (MouseMotion) canonicalInput() {}

var motionTokens = map[MotionDirection]Token{
	DirUp: "MOUSE_UP", DirDown: "MOUSE_DOWN", DirLeft: "MOUSE_LEFT", DirRight: "MOUSE_RIGHT",
	DirUpLeft: "MOUSE_UPLEFT", DirUpRight: "MOUSE_UPRIGHT",
	DirDownLeft: "MOUSE_DOWNLEFT", DirDownRight: "MOUSE_DOWNRIGHT",
}

func (m MouseMotion) Token() Token { return motionTokens[m.Direction] }

// MouseWheel is an output-only scroll delta, positive meaning up/right.
type MouseWheel struct {
	Delta int16
}

func (MouseWheel) canonicalInput() {}

func (w MouseWheel) Token() Token {
	if w.Delta >= 0 {
		return "WHEEL_UP"
	}
	return "WHEEL_DOWN"
}

// DeviceTagFor derives the u32 device filter tag used by sequence
// registrations to scope a pattern to one physical device or vendor.
// Keyboard/mouse events share a constant per-source tag
// since there is normally one of each; XInput and HID tag by vendor/id so
// per-pad and per-device filters are possible.
func DeviceTagFor(in Input) uint32 {
	switch v := in.(type) {
	case Keyboard:
		return v.DeviceTag
	case MouseButton:
		return v.DeviceTag
	case XInput:
		return uint32(v.VID)
	case HID:
		return uint32(v.VID)<<16 | uint32(v.PID)
	default:
		return 0
	}
}
