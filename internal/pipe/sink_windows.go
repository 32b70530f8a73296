//go:build windows

package pipe

import (
	"os"
	"sync/atomic"

	"golang.org/x/sys/windows"

	"github.com/reccapture/recc/internal/handle"
	"github.com/reccapture/recc/internal/sched"
	"github.com/reccapture/recc/internal/winerr"
)

const readBufferSize = 1024

// Sink owns one inbound named pipe and forwards whatever a writer sends
// into it to dst. It runs as a cooperative task; a broken pipe means the
// writer is done and ends the task cleanly.
type Sink struct {
	path  string
	dst   *os.File
	bytes atomic.Uint64
}

// NewSink returns a sink that will create path and forward to dst.
func NewSink(path string, dst *os.File) *Sink {
	return &Sink{path: path, dst: dst}
}

// Bytes returns how many bytes have been forwarded so far.
func (s *Sink) Bytes() uint64 {
	return s.bytes.Load()
}

// Run creates the pipe, awaits a writer, then forwards until disconnect.
func (s *Sink) Run(ctx *sched.Context) error {
	path, err := windows.UTF16PtrFromString(s.path)
	if err != nil {
		return err
	}

	raw, err := windows.CreateNamedPipe(path,
		windows.PIPE_ACCESS_INBOUND|windows.FILE_FLAG_OVERLAPPED,
		windows.PIPE_TYPE_BYTE, 1, readBufferSize, readBufferSize, 0, nil)
	if err != nil {
		return winerr.From("CreateNamedPipeW failed.", err)
	}
	hpipe := handle.New(raw)
	defer hpipe.Close()

	rawEvent, err := windows.CreateEvent(nil, 1, 0, nil)
	if err != nil {
		return winerr.From("CreateEventW failed.", err)
	}
	hevent := handle.New(rawEvent)
	defer hevent.Close()

	// Overlapped operations signal the event on completion.
	overlapped := windows.Overlapped{HEvent: hevent.Get()}

	if err := windows.ConnectNamedPipe(hpipe.Get(), &overlapped); err != nil && err != windows.ERROR_IO_PENDING {
		return winerr.From("ConnectNamedPipe failed.", err)
	}
	sched.Await(ctx, hevent.Get())

	buf := make([]byte, readBufferSize)
	for {
		err := windows.ReadFile(hpipe.Get(), buf, nil, &overlapped)
		if err == windows.ERROR_BROKEN_PIPE {
			return nil // writer disconnected
		}
		if err != nil && err != windows.ERROR_IO_PENDING {
			return winerr.From("ReadFile failed.", err)
		}

		sched.Await(ctx, hevent.Get())

		var n uint32
		if err := windows.GetOverlappedResult(hpipe.Get(), &overlapped, &n, false); err != nil {
			if err == windows.ERROR_BROKEN_PIPE {
				return nil
			}
			return winerr.From("GetOverlappedResult failed.", err)
		}

		if _, err := s.dst.Write(buf[:n]); err != nil {
			return winerr.From("write to standard stream failed.", err)
		}
		s.bytes.Add(uint64(n))
	}
}
