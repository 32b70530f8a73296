//go:build windows

package sched

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32                          = windows.NewLazySystemDLL("kernel32.dll")
	procGetNumberOfConsoleInputEvents = kernel32.NewProc("GetNumberOfConsoleInputEvents")
	procReadConsoleInputW             = kernel32.NewProc("ReadConsoleInputW")
)

// consoleAwaiter waits for keyboard input on the console, ignoring wakes
// caused by other input records.
type consoleAwaiter struct {
	*handleAwaiter
}

func (a *consoleAwaiter) Spurious() bool {
	records := drainConsoleInput(a.handle)
	return !hasKeyEvent(records)
}

// drainConsoleInput removes and returns all pending input records.
func drainConsoleInput(h windows.Handle) []inputRecord {
	var pending uint32
	r, _, _ := procGetNumberOfConsoleInputEvents.Call(uintptr(h), uintptr(unsafe.Pointer(&pending)))
	if r == 0 || pending == 0 {
		return nil
	}
	records := make([]inputRecord, pending)
	var read uint32
	r, _, _ = procReadConsoleInputW.Call(uintptr(h),
		uintptr(unsafe.Pointer(&records[0])), uintptr(pending), uintptr(unsafe.Pointer(&read)))
	if r == 0 {
		return nil
	}
	return records[:read]
}

// AwaitConsole parks the calling task until the console receives a key
// event.
func AwaitConsole(c *Context) {
	stdin, _ := windows.GetStdHandle(windows.STD_INPUT_HANDLE)
	a := &consoleAwaiter{handleAwaiter: newHandleAwaiter(c, stdin)}
	c.Install(stdin, a)
	c.park(a.resume)
}
