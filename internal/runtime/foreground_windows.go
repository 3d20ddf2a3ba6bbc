//go:build windows

package runtime

import (
	"fmt"
	"path/filepath"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32                 = windows.NewLazySystemDLL("user32.dll")
	procGetForegroundWindow = user32.NewProc("GetForegroundWindow")
	procGetWindowThreadProcessId = user32.NewProc("GetWindowThreadProcessId")
)

// ForegroundExeName queries the foreground window's owning process and
// returns its executable's base name (e.g. "notepad.exe"), the form the
// process_whitelist configuration field names processes by.
func ForegroundExeName() (string, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return "", fmt.Errorf("runtime: no foreground window")
	}

	var pid uint32
	procGetWindowThreadProcessId.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	if pid == 0 {
		return "", fmt.Errorf("runtime: foreground window has no owning process")
	}

	proc, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return "", fmt.Errorf("runtime: OpenProcess(%d): %w", pid, err)
	}
	defer windows.CloseHandle(proc)

	var pathBuf [windows.MAX_PATH]uint16
	pathLen := uint32(len(pathBuf))
	if err := windows.QueryFullProcessImageName(proc, 0, &pathBuf[0], &pathLen); err != nil {
		return "", fmt.Errorf("runtime: QueryFullProcessImageName: %w", err)
	}

	return filepath.Base(syscall.UTF16ToString(pathBuf[:pathLen])), nil
}
