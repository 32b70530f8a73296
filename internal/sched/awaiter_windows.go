//go:build windows

package sched

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/reccapture/recc/internal/winerr"
)

var procGetExitCodeThread = kernel32.NewProc("GetExitCodeThread")

// handleAwaiter parks a task until one handle signals.
type handleAwaiter struct {
	ctx    *Context
	handle windows.Handle
	resume chan struct{}
}

func newHandleAwaiter(c *Context, h windows.Handle) *handleAwaiter {
	return &handleAwaiter{ctx: c, handle: h, resume: make(chan struct{})}
}

func (a *handleAwaiter) Spurious() bool { return false }

func (a *handleAwaiter) OnSignaled() {
	a.resume <- struct{}{}
	<-a.ctx.yield
}

// Await parks the calling task until h is signaled.
func Await(c *Context, h windows.Handle) {
	a := newHandleAwaiter(c, h)
	c.Install(h, a)
	c.park(a.resume)
}

// threadAwaiter additionally captures the thread's exit code at signal time.
type threadAwaiter struct {
	*handleAwaiter
	code uint32
	err  error
}

func (a *threadAwaiter) OnSignaled() {
	ok, _, err := procGetExitCodeThread.Call(uintptr(a.handle), uintptr(unsafe.Pointer(&a.code)))
	if ok == 0 {
		a.err = winerr.From("GetExitCodeThread failed.", err)
	}
	a.handleAwaiter.OnSignaled()
}

// AwaitThread parks the calling task until the thread behind h exits and
// returns its exit code.
func AwaitThread(c *Context, h windows.Handle) (uint32, error) {
	a := &threadAwaiter{handleAwaiter: newHandleAwaiter(c, h)}
	c.Install(h, a)
	c.park(a.resume)
	return a.code, a.err
}
