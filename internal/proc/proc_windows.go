//go:build windows

// Package proc locates the target process.
package proc

import (
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/reccapture/recc/internal/handle"
	"github.com/reccapture/recc/internal/winerr"
)

var (
	user32                   = windows.NewLazySystemDLL("user32.dll")
	procGetWindowTextW       = user32.NewProc("GetWindowTextW")
	procGetWindowTextLengthW = user32.NewProc("GetWindowTextLengthW")
)

// FromID opens the process with full access. A pid that names no process
// and a 32-bit process both yield an empty handle: the stub builder only
// emits x64 code.
func FromID(pid uint32) (handle.Handle, error) {
	h, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, pid)
	if err == windows.ERROR_INVALID_PARAMETER {
		return handle.Handle{}, nil
	}
	if err != nil {
		return handle.Handle{}, winerr.From("OpenProcess failed.", err)
	}

	wow64 := true
	if err := windows.IsWow64Process(h, &wow64); err == nil && wow64 {
		windows.CloseHandle(h)
		return handle.Handle{}, nil
	}
	return handle.New(h), nil
}

// FromWindow finds a top-level window whose title contains substr and opens
// its owning process. No matching window yields an empty handle.
func FromWindow(substr string) (handle.Handle, error) {
	var found windows.HWND
	cb := syscall.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		if strings.Contains(windowTitle(hwnd), substr) {
			found = hwnd
			return 0 // stop enumeration
		}
		return 1
	})
	// EnumWindows reports an error when the callback stopped it; that is
	// the found case, not a failure.
	windows.EnumWindows(cb, nil)

	if found == 0 {
		return handle.Handle{}, nil
	}

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(found, &pid); err != nil {
		return handle.Handle{}, winerr.From("GetWindowThreadProcessId failed.", err)
	}
	return FromID(pid)
}

func windowTitle(hwnd windows.HWND) string {
	n, _, _ := procGetWindowTextLengthW.Call(uintptr(hwnd))
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	read, _, _ := procGetWindowTextW.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:read])
}
