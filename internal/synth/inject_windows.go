//go:build windows

package synth

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/chordforge/engine/internal/canonical"
)

var (
	user32             = windows.NewLazySystemDLL("user32.dll")
	procSendInput      = user32.NewProc("SendInput")
	procMapVirtualKeyW = user32.NewProc("MapVirtualKeyW")
)

const (
	inputMouse    = 0
	inputKeyboard = 1

	keyeventfExtendedKey = 0x0001
	keyeventfKeyUp       = 0x0002
	keyeventfScancode    = 0x0008

	mouseeventfMove       = 0x0001
	mouseeventfLeftDown   = 0x0002
	mouseeventfLeftUp     = 0x0004
	mouseeventfRightDown  = 0x0008
	mouseeventfRightUp    = 0x0010
	mouseeventfMiddleDown = 0x0020
	mouseeventfMiddleUp   = 0x0040
	mouseeventfXDown      = 0x0080
	mouseeventfXUp        = 0x0100
	mouseeventfWheel      = 0x0800

	xbutton1 = 0x0001
	xbutton2 = 0x0002

	mapvkVKToVSC = 0
)

type mouseInput struct {
	dx, dy    int32
	mouseData uint32
	flags     uint32
	time      uint32
	extraInfo uintptr
}

type keybdInput struct {
	vk        uint16
	scan      uint16
	flags     uint32
	time      uint32
	extraInfo uintptr
}

// input mirrors Windows' tagged INPUT struct: a type discriminant followed
// by a union of the mouse/keyboard/hardware payloads. mouseInput is the
// union's largest member, so it also doubles as the union's raw storage;
// a keyboard event is written through a *keybdInput reinterpretation of
// the same bytes rather than a separate field, to get real union overlay
// instead of Go struct fields laid out back to back.
type input struct {
	typ uint32
	_   uint32 // union must start 8-byte aligned on amd64, matching the real INPUT layout
	mi  mouseInput
}

func (i *input) asKeybd() *keybdInput {
	return (*keybdInput)(unsafe.Pointer(&i.mi))
}

// windowsInjector drives Windows' SendInput API, submitting every event in
// one Batch as a single array so the OS delivers them atomically with
// respect to other threads' input.
type windowsInjector struct{}

// NewWindowsInjector returns the real Injector used on Windows builds.
func NewWindowsInjector() Injector { return &windowsInjector{} }

func (windowsInjector) InjectBatch(b Batch) error {
	inputs := make([]input, 0, len(b.Keys)+len(b.Buttons)+len(b.Motion)+len(b.Wheel))

	for _, k := range b.Keys {
		flags := uint32(keyeventfScancode)
		if !k.Down {
			flags |= keyeventfKeyUp
		}
		if k.Extended {
			flags |= keyeventfExtendedKey
		}
		scan := k.Scancode
		if scan == 0 {
			r, _, _ := procMapVirtualKeyW.Call(uintptr(k.VK), mapvkVKToVSC)
			scan = uint16(r)
		}
		var ev input
		ev.typ = inputKeyboard
		ki := ev.asKeybd()
		ki.vk, ki.scan, ki.flags = k.VK, scan, flags
		inputs = append(inputs, ev)
	}

	for _, bt := range b.Buttons {
		flags, data := buttonFlagsAndData(bt)
		inputs = append(inputs, input{typ: inputMouse, mi: mouseInput{flags: flags, mouseData: data}})
	}

	for _, m := range b.Motion {
		inputs = append(inputs, input{
			typ: inputMouse,
			mi:  mouseInput{dx: int32(m.DX), dy: int32(m.DY), flags: mouseeventfMove},
		})
	}

	for _, w := range b.Wheel {
		inputs = append(inputs, input{
			typ: inputMouse,
			mi:  mouseInput{mouseData: uint32(int32(w.Delta) * 120), flags: mouseeventfWheel},
		})
	}

	if len(inputs) == 0 {
		return nil
	}

	n, _, err := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if n != uintptr(len(inputs)) {
		return err
	}
	return nil
}

func buttonFlagsAndData(b ButtonEvent) (flags, data uint32) {
	switch b.Button {
	case canonical.MouseL:
		if b.Down {
			return mouseeventfLeftDown, 0
		}
		return mouseeventfLeftUp, 0
	case canonical.MouseR:
		if b.Down {
			return mouseeventfRightDown, 0
		}
		return mouseeventfRightUp, 0
	case canonical.MouseM:
		if b.Down {
			return mouseeventfMiddleDown, 0
		}
		return mouseeventfMiddleUp, 0
	default:
		xdata := uint32(xbutton1)
		if b.XIndex == 2 {
			xdata = xbutton2
		}
		if b.Down {
			return mouseeventfXDown, xdata
		}
		return mouseeventfXUp, xdata
	}
}
