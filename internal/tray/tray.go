// Package tray renders the engine's system tray presence: an icon and
// checkbox that mirror the enable switch, plus reload and quit items.
// The switch can flip underneath the tray at any time (the switch key
// toggles the same atomic), so the menu re-reads it on a short poll
// instead of assuming it owns the state.
package tray

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/getlantern/systray"
)

// Controller is the slice of the engine runtime the tray drives: reading
// and writing the enable switch.
type Controller interface {
	Enabled() bool
	SetEnabled(bool)
}

// Tray owns the systray loop for one engine process.
type Tray struct {
	tooltip  string
	ctrl     Controller
	onReload func()
	onQuit   func()
	stop     chan struct{}
}

// New builds a Tray. onReload fires when the user picks "Reload config";
// onQuit fires once the systray loop has exited, however it exited.
func New(tooltip string, ctrl Controller, onReload, onQuit func()) *Tray {
	return &Tray{
		tooltip:  tooltip,
		ctrl:     ctrl,
		onReload: onReload,
		onQuit:   onQuit,
		stop:     make(chan struct{}),
	}
}

// Run blocks driving the systray event loop until Stop is called or the
// user picks Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, func() {
		if t.onQuit != nil {
			t.onQuit()
		}
	})
}

// Stop tears the tray down from outside (signal handler, config error).
func (t *Tray) Stop() {
	select {
	case <-t.stop:
	default:
		close(t.stop)
	}
	systray.Quit()
}

func (t *Tray) onReady() {
	enabled := t.ctrl.Enabled()
	systray.SetTitle("Chordforge")
	systray.SetTooltip(t.tooltip)
	systray.SetIcon(iconFor(enabled))

	enabledItem := systray.AddMenuItemCheckbox("Enabled", "Dispatch matched triggers", enabled)
	reloadItem := systray.AddMenuItem("Reload config", "Re-read the configuration file")
	systray.AddSeparator()
	quitItem := systray.AddMenuItem("Quit", "Stop the engine")

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		shown := enabled
		for {
			select {
			case <-enabledItem.ClickedCh:
				t.ctrl.SetEnabled(!t.ctrl.Enabled())
			case <-reloadItem.ClickedCh:
				if t.onReload != nil {
					t.onReload()
				}
			case <-quitItem.ClickedCh:
				systray.Quit()
				return
			case <-ticker.C:
				// Fall through to the mirror check: the switch key may have
				// flipped the atomic since the last tick.
			case <-t.stop:
				return
			}
			if now := t.ctrl.Enabled(); now != shown {
				shown = now
				if now {
					enabledItem.Check()
				} else {
					enabledItem.Uncheck()
				}
				systray.SetIcon(iconFor(now))
			}
		}
	}()
}

// The tray glyph is rendered in memory rather than shipped as an asset:
// a 16x16 keycap outline, filled while the engine dispatches and hollow
// while it is paused, packed as a single-image 32-bit ICO.

const glyphSize = 16

type iconDirEntry struct {
	Width, Height, Colors, Reserved byte
	Planes, BitCount                uint16
	BytesInRes, Offset              uint32
}

type bitmapInfoHeader struct {
	Size                  uint32
	Width, Height         int32
	Planes, BitCount      uint16
	Compression, SizeImage uint32
	XPelsPerM, YPelsPerM  int32
	ClrUsed, ClrImportant uint32
}

func iconFor(enabled bool) []byte {
	px := renderGlyph(enabled)
	// 1bpp AND mask, rows padded to 32 bits; all zero since the BGRA alpha
	// channel already carries the transparency.
	mask := make([]byte, glyphSize*4)

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, [3]uint16{0, 1, 1})
	binary.Write(&buf, binary.LittleEndian, iconDirEntry{
		Width: glyphSize, Height: glyphSize,
		Planes: 1, BitCount: 32,
		BytesInRes: uint32(40 + len(px) + len(mask)),
		Offset:     22,
	})
	binary.Write(&buf, binary.LittleEndian, bitmapInfoHeader{
		Size:  40,
		Width: glyphSize, Height: glyphSize * 2, // image + mask rows
		Planes: 1, BitCount: 32,
		SizeImage: uint32(len(px) + len(mask)),
	})
	buf.Write(px)
	buf.Write(mask)
	return buf.Bytes()
}

// renderGlyph draws the keycap as bottom-up BGRA rows, the layout the ICO
// bitmap payload expects.
func renderGlyph(enabled bool) []byte {
	px := make([]byte, glyphSize*glyphSize*4)
	set := func(x, y int, b, g, r byte) {
		off := ((glyphSize-1-y)*glyphSize + x) * 4
		px[off], px[off+1], px[off+2], px[off+3] = b, g, r, 0xFF
	}
	for y := 2; y <= 13; y++ {
		for x := 2; x <= 13; x++ {
			onEdge := x == 2 || x == 13 || y == 2 || y == 13
			switch {
			case onEdge:
				set(x, y, 0x30, 0x30, 0x30)
			case enabled:
				set(x, y, 0x3C, 0xA8, 0x32)
			}
		}
	}
	return px
}
