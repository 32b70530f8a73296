//go:build windows

// Package sched is a single-threaded cooperative scheduler over Win32 wait
// handles.
//
// A Context owns {handle, observer} pairs and blocks in an any-of wait.
// Cooperative tasks are goroutines lock-stepped with the scheduler through a
// baton channel: exactly one of the scheduler or a single task runs at any
// time, so observers never run concurrently and may install new waits
// freely.
package sched

import (
	"golang.org/x/sys/windows"

	"github.com/reccapture/recc/internal/winerr"
)

// Observer reacts to one of the scheduler's handles becoming signaled.
type Observer interface {
	// Spurious decides whether this wake should be ignored, leaving the
	// installation in place.
	Spurious() bool

	// OnSignaled runs after the pair has been detached. It must return only
	// once the resumed task has parked again or finished.
	OnSignaled()
}

// Context multiplexes wait handles onto one scheduling goroutine.
type Context struct {
	handles   []windows.Handle
	observers []Observer

	// baton: a task sends when it parks or finishes, handing control back.
	yield chan struct{}
	fault error
}

// New returns an empty scheduling context.
func New() *Context {
	return &Context{yield: make(chan struct{})}
}

// Install registers o to run when h signals. Only the scheduler's own thread
// of control may call this; tasks hold it implicitly while running.
func (c *Context) Install(h windows.Handle, o Observer) {
	c.handles = append(c.handles, h)
	c.observers = append(c.observers, o)
}

// Run dispatches until every observer has detached or a task fails. When
// several handles are signaled at once the lowest-indexed wins.
func (c *Context) Run() error {
	for len(c.handles) > 0 && c.fault == nil {
		ev, err := windows.WaitForMultipleObjects(c.handles, false, windows.INFINITE)
		if err != nil {
			return winerr.From("WaitForMultipleObjects failed.", err)
		}
		idx := int(ev - windows.WAIT_OBJECT_0)
		if idx < 0 || idx >= len(c.handles) {
			continue
		}
		o := c.observers[idx]
		if o.Spurious() {
			continue
		}
		// Detach before dispatch so the observer may re-install itself.
		c.handles = append(c.handles[:idx], c.handles[idx+1:]...)
		c.observers = append(c.observers[:idx], c.observers[idx+1:]...)
		o.OnSignaled()
	}
	return c.fault
}

// Task is a cooperative computation spawned on a Context. Its result is
// observable once Run has returned.
type Task struct {
	done bool
	err  error
}

// Done reports whether the task has run to completion.
func (t *Task) Done() bool { return t.done }

// Err returns the task's error, if it completed with one.
func (t *Task) Err() error { return t.err }

// Spawn starts fn as a cooperative task and returns once it has parked on
// its first await or finished. A task error aborts Run; tasks still parked
// at that point are abandoned, so drivers must let tasks finish before
// tearing the context down.
func (c *Context) Spawn(fn func() error) *Task {
	t := &Task{}
	go func() {
		t.err = fn()
		t.done = true
		if t.err != nil && c.fault == nil {
			c.fault = t.err
		}
		c.yield <- struct{}{}
	}()
	<-c.yield
	return t
}

// park hands the baton to the scheduler and waits for resume.
func (c *Context) park(resume chan struct{}) {
	c.yield <- struct{}{}
	<-resume
}
