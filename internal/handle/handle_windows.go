//go:build windows

// Package handle provides scoped ownership of Win32 handles.
package handle

import "golang.org/x/sys/windows"

// Handle owns zero or one Win32 handle. The zero value is empty. An empty or
// invalid Handle never closes anything; an owned one closes exactly once.
type Handle struct {
	h windows.Handle
}

// New takes ownership of h.
func New(h windows.Handle) Handle {
	return Handle{h: h}
}

// Valid reports whether the handle is owned, as opposed to empty or the
// INVALID_HANDLE_VALUE sentinel some APIs return.
func (h *Handle) Valid() bool {
	return h.h != 0 && h.h != windows.InvalidHandle
}

// Get returns the raw handle without transferring ownership.
func (h *Handle) Get() windows.Handle {
	return h.h
}

// Release transfers the raw handle out, leaving h empty.
func (h *Handle) Release() windows.Handle {
	raw := h.h
	h.h = 0
	return raw
}

// Close releases the handle if owned. Safe to call repeatedly.
func (h *Handle) Close() {
	if h.Valid() {
		windows.CloseHandle(h.h)
	}
	h.h = 0
}
