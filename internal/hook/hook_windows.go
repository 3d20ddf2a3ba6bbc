//go:build windows

package hook

import (
	"fmt"
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/chordforge/engine/internal/canonical"
	"github.com/chordforge/engine/internal/chorderr"
	"github.com/chordforge/engine/internal/hidbaseline"
)

var (
	user32   = windows.NewLazySystemDLL("user32.dll")
	kernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procSetWindowsHookEx      = user32.NewProc("SetWindowsHookExW")
	procCallNextHookEx        = user32.NewProc("CallNextHookEx")
	procUnhookWindowsHookEx   = user32.NewProc("UnhookWindowsHookEx")
	procGetMessage            = user32.NewProc("GetMessageW")
	procTranslateMessage      = user32.NewProc("TranslateMessage")
	procDispatchMessage       = user32.NewProc("DispatchMessageW")
	procPostThreadMessage     = user32.NewProc("PostThreadMessageW")
	procRegisterRawInputDevs  = user32.NewProc("RegisterRawInputDevices")
	procGetRawInputData       = user32.NewProc("GetRawInputData")
	procGetRawInputDeviceInfo = user32.NewProc("GetRawInputDeviceInfoW")
	procCreateWindowEx        = user32.NewProc("CreateWindowExW")
	procDefWindowProc         = user32.NewProc("DefWindowProcW")
	procRegisterClassEx       = user32.NewProc("RegisterClassExW")
	procGetModuleHandle       = kernel32.NewProc("GetModuleHandleW")

	xinputDLL         = windows.NewLazySystemDLL("xinput1_4.dll")
	procXInputGetState = xinputDLL.NewProc("XInputGetState")
)

const (
	wmQuit              = 0x0012
	wmInput             = 0x00FF
	whKeyboardLL        = 13
	whMouseLL           = 14
	wmKeyDown           = 0x0100
	wmKeyUp             = 0x0101
	wmSysKeyDown        = 0x0104
	wmSysKeyUp          = 0x0105
	wmLButtonDown       = 0x0201
	wmLButtonUp         = 0x0202
	wmRButtonDown       = 0x0204
	wmRButtonUp         = 0x0205
	wmMButtonDown       = 0x0207
	wmMButtonUp         = 0x0208
	wmXButtonDown       = 0x020B
	wmXButtonUp         = 0x020C
	ridInput            = 0x10000003
	ridevInputSink      = 0x00000100
	riDeviceInfoKind    = 0x2000000B
	rimTypeHID          = 2
	deviceTagKeyboard   = 1
	deviceTagMouse      = 2
)

type kbdllHookStruct struct {
	VkCode      uint32
	ScanCode    uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type msllHookStruct struct {
	Pt          struct{ X, Y int32 }
	MouseData   uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

type rawInputDevice struct {
	UsagePage uint16
	Usage     uint16
	Flags     uint32
	Target    syscall.Handle
}

type rawInputHeader struct {
	Type   uint32
	Size   uint32
	Device syscall.Handle
	WParam uintptr
}

// ridDeviceInfoHID mirrors RID_DEVICE_INFO's HID union member, used to read
// a raw input device's vendor/product id out of GetRawInputDeviceInfo.
type ridDeviceInfoHID struct {
	Size          uint32
	Type          uint32
	VendorID      uint32
	ProductID     uint32
	VersionNumber uint32
	UsagePage     uint16
	Usage         uint16
}

type xinputGamepad struct {
	Buttons      uint16
	LeftTrigger  uint8
	RightTrigger uint8
	ThumbLX      int16
	ThumbLY      int16
	ThumbRX      int16
	ThumbRY      int16
}

type xinputState struct {
	PacketNumber uint32
	Gamepad      xinputGamepad
}

const (
	xbA, xbB, xbX, xbY       = 0x1000, 0x2000, 0x4000, 0x8000
	xbLB, xbRB               = 0x0100, 0x0200
	xbBack, xbStart          = 0x0020, 0x0010
	xbLThumb, xbRThumb       = 0x0040, 0x0080
	xbDPadUp, xbDPadDown     = 0x0001, 0x0002
	xbDPadLeft, xbDPadRight  = 0x0004, 0x0008
	xinputDeadzone     int16 = 7849
	xinputTriggerThreshold   = 30
)

// winCapture is the real Windows Capture backend: WH_KEYBOARD_LL/WH_MOUSE_LL
// low-level hooks for keyboard and mouse, a polling loop over
// XInputGetState for up to four gamepads, and a raw-input window registered
// for the generic HID usage pages so devices the engine doesn't
// special-case (foot pedals, macro pads, etc.) still reach the device
// baseline store.
type winCapture struct {
	d *Dispatcher

	threadID uint32
	hwnd     syscall.Handle

	mu          sync.Mutex
	running     bool
	stopPolling chan struct{}

	keyboardHook uintptr
	mouseHook    uintptr

	lastButtons  [4]uint16
	lastStick    [4][2]stickDirState
	lastTriggers [4][2]bool
}

type stickDirState struct {
	dir    canonical.MotionDirection
	active bool
}

func NewCapture() Capture {
	return &winCapture{stopPolling: make(chan struct{})}
}

var activeCapture *winCapture

func (c *winCapture) Start(d *Dispatcher) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("hook: capture already running")
	}
	c.running = true
	c.d = d
	activeCapture = c
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.hookThread(ready)
	if err := <-ready; err != nil {
		return err
	}

	go c.pollXInput()
	return nil
}

func (c *winCapture) Close() error {
	c.mu.Lock()
	running := c.running
	c.running = false
	threadID := c.threadID
	c.mu.Unlock()
	if !running {
		return nil
	}
	close(c.stopPolling)
	if threadID != 0 {
		procPostThreadMessage.Call(uintptr(threadID), wmQuit, 0, 0)
	}
	return nil
}

// hookThread installs the low-level hooks and the raw-input window on a
// single locked OS thread, since both SetWindowsHookEx and RegisterRawInputDevices
// deliver through whichever thread's message loop is pumping.
func (c *winCapture) hookThread(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	c.threadID = windows.GetCurrentThreadId()

	if err := c.createMessageWindow(); err != nil {
		ready <- err
		return
	}
	if err := c.registerRawInput(); err != nil {
		ready <- err
		return
	}

	hMod, _, _ := procGetModuleHandle.Call(0)

	kh, _, e := procSetWindowsHookEx.Call(whKeyboardLL, syscall.NewCallback(keyboardHookProc), hMod, 0)
	if kh == 0 {
		ready <- fmt.Errorf("hook: SetWindowsHookEx keyboard: %v: %w", e, chorderr.ErrHookUnavailable)
		return
	}
	c.keyboardHook = kh

	mh, _, e := procSetWindowsHookEx.Call(whMouseLL, syscall.NewCallback(mouseHookProc), hMod, 0)
	if mh == 0 {
		procUnhookWindowsHookEx.Call(kh)
		ready <- fmt.Errorf("hook: SetWindowsHookEx mouse: %v: %w", e, chorderr.ErrHookUnavailable)
		return
	}
	c.mouseHook = mh

	ready <- nil

	var msg struct {
		Hwnd    syscall.Handle
		Message uint32
		WParam  uintptr
		LParam  uintptr
		Time    uint32
		Pt      struct{ X, Y int32 }
	}
	for {
		ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
		if int32(ret) <= 0 {
			break
		}
		if msg.Message == wmInput {
			c.handleRawInput(msg.LParam)
			continue
		}
		procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
		procDispatchMessage.Call(uintptr(unsafe.Pointer(&msg)))
	}

	procUnhookWindowsHookEx.Call(c.keyboardHook)
	procUnhookWindowsHookEx.Call(c.mouseHook)
}

func (c *winCapture) createMessageWindow() error {
	className, err := syscall.UTF16PtrFromString("ChordforgeEngineMessageWindow")
	if err != nil {
		return err
	}
	hInstance, _, _ := procGetModuleHandle.Call(0)

	type wndClassEx struct {
		cbSize        uint32
		style         uint32
		lpfnWndProc   uintptr
		cbClsExtra    int32
		cbWndExtra    int32
		hInstance     syscall.Handle
		hIcon         syscall.Handle
		hCursor       syscall.Handle
		hbrBackground syscall.Handle
		lpszMenuName  *uint16
		lpszClassName *uint16
		hIconSm       syscall.Handle
	}
	wc := wndClassEx{
		lpfnWndProc:   syscall.NewCallback(defMessageWindowProc),
		hInstance:     syscall.Handle(hInstance),
		lpszClassName: className,
	}
	wc.cbSize = uint32(unsafe.Sizeof(wc))

	if ret, _, e := procRegisterClassEx.Call(uintptr(unsafe.Pointer(&wc))); ret == 0 {
		return fmt.Errorf("hook: RegisterClassEx: %w", e)
	}

	hwnd, _, e := procCreateWindowEx.Call(
		0,
		uintptr(unsafe.Pointer(className)),
		0, 0,
		0, 0, 0, 0,
		uintptr(^uintptr(2)), // HWND_MESSAGE
		0, 0, 0,
	)
	if hwnd == 0 {
		return fmt.Errorf("hook: CreateWindowEx: %w", e)
	}
	c.hwnd = syscall.Handle(hwnd)
	return nil
}

func defMessageWindowProc(hwnd syscall.Handle, msg uint32, wparam, lparam uintptr) uintptr {
	if msg == wmInput && activeCapture != nil {
		activeCapture.handleRawInput(lparam)
		return 0
	}
	ret, _, _ := procDefWindowProc.Call(uintptr(hwnd), uintptr(msg), wparam, lparam)
	return ret
}

// registerRawInput registers the message window for the generic-desktop
// joystick, gamepad and multi-axis collections plus consumer control, so
// HID devices outside the keyboard/mouse hooks and the XInput poll (macro
// pads, foot pedals, flight sticks the OS doesn't expose via XInput) still
// produce raw reports for the device baseline store to diff.
func (c *winCapture) registerRawInput() error {
	devices := []rawInputDevice{
		{UsagePage: 0x01, Usage: 0x04, Flags: ridevInputSink, Target: c.hwnd}, // joystick
		{UsagePage: 0x01, Usage: 0x05, Flags: ridevInputSink, Target: c.hwnd}, // gamepad
		{UsagePage: 0x01, Usage: 0x08, Flags: ridevInputSink, Target: c.hwnd}, // multi-axis
		{UsagePage: 0x0C, Usage: 0x01, Flags: ridevInputSink, Target: c.hwnd}, // consumer control
	}
	ret, _, err := procRegisterRawInputDevs.Call(
		uintptr(unsafe.Pointer(&devices[0])),
		uintptr(len(devices)),
		unsafe.Sizeof(devices[0]),
	)
	if ret == 0 {
		return fmt.Errorf("hook: RegisterRawInputDevices: %w", err)
	}
	return nil
}

func (c *winCapture) handleRawInput(lparam uintptr) {
	var size uint32
	procGetRawInputData.Call(lparam, ridInput, 0, uintptr(unsafe.Pointer(&size)), unsafe.Sizeof(rawInputHeader{}))
	if size == 0 || size > 4096 {
		return
	}
	buf := make([]byte, size)
	ret, _, _ := procGetRawInputData.Call(
		lparam, ridInput,
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&size)),
		unsafe.Sizeof(rawInputHeader{}),
	)
	if ret == 0 || ret == ^uintptr(0) {
		return
	}
	header := (*rawInputHeader)(unsafe.Pointer(&buf[0]))
	if header.Type != rimTypeHID {
		return
	}

	id, ok := c.deviceID(header.Device)
	if !ok {
		return
	}

	// The HID payload follows RAWINPUTHEADER then a RAWHID header
	// (dwSizeHid, dwCount) before the report bytes themselves.
	type rawHID struct {
		SizeHid uint32
		Count   uint32
	}
	hidOff := unsafe.Sizeof(rawInputHeader{})
	if int(hidOff)+int(unsafe.Sizeof(rawHID{})) > len(buf) {
		return
	}
	rh := (*rawHID)(unsafe.Pointer(&buf[hidOff]))
	reportOff := int(hidOff) + int(unsafe.Sizeof(rawHID{}))
	if rh.Count == 0 || reportOff+int(rh.SizeHid) > len(buf) {
		return
	}
	report := append([]byte(nil), buf[reportOff:reportOff+int(rh.SizeHid)]...)

	ts := uint64(time.Now().UnixMicro())
	c.d.FeedHIDReport(id, report, 0, ts)
}

func (c *winCapture) deviceID(h syscall.Handle) (hidbaseline.DeviceID, bool) {
	var info ridDeviceInfoHID
	info.Size = uint32(unsafe.Sizeof(info))
	size := info.Size
	ret, _, _ := procGetRawInputDeviceInfo.Call(
		uintptr(h), riDeviceInfoKind,
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&size)),
	)
	if int32(ret) <= 0 {
		return hidbaseline.DeviceID{}, false
	}
	return hidbaseline.DeviceID{
		VID:    uint16(info.VendorID),
		PID:    uint16(info.ProductID),
		Serial: fmt.Sprintf("h%x", uintptr(h)),
	}, true
}

func keyboardHookProc(nCode int32, wParam uintptr, lParam uintptr) uintptr {
	if nCode == 0 && activeCapture != nil {
		k := (*kbdllHookStruct)(unsafe.Pointer(lParam))
		pressed := wParam == wmKeyDown || wParam == wmSysKeyDown
		if _, ok := canonical.TokenForVK(uint16(k.VkCode)); ok {
			scan, ext, _ := canonical.ScancodeForVK(uint16(k.VkCode))
			ev := canonical.Keyboard{
				VK: uint16(k.VkCode), Scancode: scan, Extended: ext,
				Pressed: pressed, DeviceTag: deviceTagKeyboard,
			}
			activeCapture.d.Feed(ev, uint64(time.Now().UnixMicro()))
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

func mouseHookProc(nCode int32, wParam uintptr, lParam uintptr) uintptr {
	if nCode == 0 && activeCapture != nil {
		ms := (*msllHookStruct)(unsafe.Pointer(lParam))
		ts := uint64(time.Now().UnixMicro())
		switch wParam {
		case wmLButtonDown, wmLButtonUp:
			activeCapture.d.Feed(canonical.MouseButton{Button: canonical.MouseL, Pressed: wParam == wmLButtonDown, DeviceTag: deviceTagMouse}, ts)
		case wmRButtonDown, wmRButtonUp:
			activeCapture.d.Feed(canonical.MouseButton{Button: canonical.MouseR, Pressed: wParam == wmRButtonDown, DeviceTag: deviceTagMouse}, ts)
		case wmMButtonDown, wmMButtonUp:
			activeCapture.d.Feed(canonical.MouseButton{Button: canonical.MouseM, Pressed: wParam == wmMButtonDown, DeviceTag: deviceTagMouse}, ts)
		case wmXButtonDown, wmXButtonUp:
			btn := canonical.MouseX1
			if (ms.MouseData >> 16) == 2 {
				btn = canonical.MouseX2
			}
			activeCapture.d.Feed(canonical.MouseButton{Button: btn, Pressed: wParam == wmXButtonDown, DeviceTag: deviceTagMouse}, ts)
		}
	}
	ret, _, _ := procCallNextHookEx.Call(0, uintptr(nCode), wParam, lParam)
	return ret
}

// pollXInput samples up to four XInput pads at roughly 1kHz, emitting
// button, D-pad, trigger, and stick-direction transitions as
// canonical.XInput events. Sticks are quantized into eight digital compass
// positions once an axis crosses xinputDeadzone, so the matcher sees the
// same press/release event stream for a stick flick as for any button;
// the analog position itself is never surfaced.
func (c *winCapture) pollXInput() {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopPolling:
			return
		case <-ticker.C:
			for pad := uint32(0); pad < 4; pad++ {
				var st xinputState
				ret, _, _ := procXInputGetState.Call(uintptr(pad), uintptr(unsafe.Pointer(&st)))
				if ret != 0 {
					continue
				}
				c.diffXInputButtons(pad, st.Gamepad.Buttons)
				c.diffStick(pad, 0, st.Gamepad.ThumbLX, st.Gamepad.ThumbLY)
				c.diffStick(pad, 1, st.Gamepad.ThumbRX, st.Gamepad.ThumbRY)
				c.diffTrigger(pad, 0, st.Gamepad.LeftTrigger)
				c.diffTrigger(pad, 1, st.Gamepad.RightTrigger)
			}
		}
	}
}

var (
	stickNames   = [2]string{"LS", "RS"}
	triggerNames = [2]string{"LT", "RT"}
)

// stickDirection quantizes a thumbstick position into one of the eight
// compass directions, or none while both axes sit inside the deadzone.
// XInput's Y axis grows upward.
func stickDirection(x, y int16) (canonical.MotionDirection, bool) {
	up := y > xinputDeadzone
	down := y < -xinputDeadzone
	right := x > xinputDeadzone
	left := x < -xinputDeadzone
	switch {
	case up && right:
		return canonical.DirUpRight, true
	case up && left:
		return canonical.DirUpLeft, true
	case down && right:
		return canonical.DirDownRight, true
	case down && left:
		return canonical.DirDownLeft, true
	case up:
		return canonical.DirUp, true
	case down:
		return canonical.DirDown, true
	case right:
		return canonical.DirRight, true
	case left:
		return canonical.DirLeft, true
	}
	return 0, false
}

// diffStick emits a release for the direction a stick is leaving and a
// press for the one it is entering, so a sweep through DownRight between
// Down and Right shows up in the ring exactly as the transition-tolerance
// rule expects.
func (c *winCapture) diffStick(pad uint32, stick int, x, y int16) {
	dir, active := stickDirection(x, y)
	prev := c.lastStick[pad][stick]
	if prev.active == active && (!active || prev.dir == dir) {
		return
	}
	ts := uint64(time.Now().UnixMicro())
	if prev.active {
		c.d.Feed(canonical.XInput{
			VID:    uint16(pad),
			Button: canonical.XButton{Name: stickNames[stick], Direction: prev.dir, HasDirection: true},
		}, ts)
	}
	if active {
		c.d.Feed(canonical.XInput{
			VID:     uint16(pad),
			Button:  canonical.XButton{Name: stickNames[stick], Direction: dir, HasDirection: true},
			Pressed: true,
		}, ts)
	}
	c.lastStick[pad][stick] = stickDirState{dir: dir, active: active}
}

func (c *winCapture) diffTrigger(pad uint32, ix int, value uint8) {
	down := value > xinputTriggerThreshold
	if c.lastTriggers[pad][ix] == down {
		return
	}
	c.lastTriggers[pad][ix] = down
	c.d.Feed(canonical.XInput{
		VID:     uint16(pad),
		Button:  canonical.XButton{Name: triggerNames[ix]},
		Pressed: down,
	}, uint64(time.Now().UnixMicro()))
}

var xinputButtonNames = []struct {
	mask uint16
	name string
}{
	{xbA, "A"}, {xbB, "B"}, {xbX, "X"}, {xbY, "Y"},
	{xbLB, "LB"}, {xbRB, "RB"}, {xbBack, "BACK"}, {xbStart, "START"},
	{xbLThumb, "LS_CLICK"}, {xbRThumb, "RS_CLICK"},
}

func (c *winCapture) diffXInputButtons(pad uint32, buttons uint16) {
	prev := c.lastButtons[pad]
	if prev == buttons {
		return
	}
	c.lastButtons[pad] = buttons
	ts := uint64(time.Now().UnixMicro())

	for _, b := range xinputButtonNames {
		wasDown := prev&b.mask != 0
		isDown := buttons&b.mask != 0
		if wasDown == isDown {
			continue
		}
		c.d.Feed(canonical.XInput{
			VID: uint16(pad), Button: canonical.XButton{Name: b.name}, Pressed: isDown, DeviceTag: 0,
		}, ts)
	}

	dpad := map[uint16]canonical.MotionDirection{
		xbDPadUp: canonical.DirUp, xbDPadDown: canonical.DirDown,
		xbDPadLeft: canonical.DirLeft, xbDPadRight: canonical.DirRight,
	}
	for mask, dir := range dpad {
		wasDown := prev&mask != 0
		isDown := buttons&mask != 0
		if wasDown == isDown {
			continue
		}
		c.d.Feed(canonical.XInput{
			VID: uint16(pad), Button: canonical.XButton{Name: "DPAD", Direction: dir, HasDirection: true}, Pressed: isDown,
		}, ts)
	}
}
