//go:build windows

package capture

import (
	"log/slog"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/reccapture/recc/internal/wave"
	"github.com/reccapture/recc/internal/winerr"
)

func init() {
	Register("dsound", newDSound)
}

// IDirectSoundBuffer dispatch-table slots used by the hook. The table is
// shared by every buffer instance of the class, so patching it captures all
// buffers in the target.
const (
	slotQueryInterface = 0  // unused on the hot path; holds the back-pointer
	slotGetFormat      = 5
	slotUnlock         = 19
	slotCreateBuffer   = 3 // on IDirectSound
	slotRelease        = 2
)

const dsBufferBytesMin = 4

type waveFormatEx struct {
	FormatTag      uint16
	Channels       uint16
	SamplesPerSec  uint32
	AvgBytesPerSec uint32
	BlockAlign     uint16
	BitsPerSample  uint16
	Size           uint16
}

type dsBufferDesc struct {
	Size            uint32
	Flags           uint32
	BufferBytes     uint32
	Reserved        uint32
	Format          *waveFormatEx
	Guid3DAlgorithm windows.GUID
}

// comObject is the memory layout every COM interface pointer starts with.
type comObject struct {
	vtbl *[32]uintptr
}

func comCall(obj *comObject, slot int, args ...uintptr) uintptr {
	full := append([]uintptr{uintptr(unsafe.Pointer(obj))}, args...)
	r, _, _ := syscall.SyscallN(obj.vtbl[slot], full...)
	return r
}

// dsound hooks IDirectSoundBuffer::Unlock by replacing its dispatch-table
// slot. Slot 0 (QueryInterface) of the same table stores the device pointer
// so the static hook can find its state again.
type dsound struct {
	mu    *sync.Mutex
	log   *slog.Logger
	sink  wave.Sink
	setup bool

	vtbl       *[32]uintptr
	oldQuery   uintptr
	oldUnlock  uintptr
	oldProtect uint32
}

// hookCallback is created once; NewCallback slots are never released.
var hookCallback = sync.OnceValue(func() uintptr {
	return windows.NewCallback(hookUnlock)
})

func newDSound(mu *sync.Mutex, log *slog.Logger, sink wave.Sink) (Device, error) {
	// Locate DirectSound without loading it: a target that never loaded
	// dsound.dll has no buffers to capture.
	name, err := windows.UTF16PtrFromString("dsound.dll")
	if err != nil {
		return nil, err
	}
	mod, err := windows.GetModuleHandle(name)
	if err != nil {
		return nil, winerr.From("dsound.dll not loaded.", err)
	}

	dsc, err := windows.GetProcAddress(mod, "DirectSoundCreate")
	if err != nil {
		return nil, winerr.From("DirectSoundCreate not in dsound.dll.", err)
	}

	// Create a dummy device and buffer to reach the class dispatch table.
	var device *comObject
	if r, _, _ := syscall.SyscallN(dsc, 0, uintptr(unsafe.Pointer(&device)), 0); r != 0 {
		return nil, winerr.New(uint32(r), "DirectSoundCreate failed.")
	}
	defer comCall(device, slotRelease)

	format := waveFormatEx{
		FormatTag:     1,
		Channels:      2,
		SamplesPerSec: 44100,
		BitsPerSample: 16,
		Size:          12,
	}
	format.BlockAlign = format.BitsPerSample * format.Channels / 8
	format.AvgBytesPerSec = format.SamplesPerSec * uint32(format.BlockAlign)

	desc := dsBufferDesc{
		Size:        uint32(unsafe.Sizeof(dsBufferDesc{})),
		BufferBytes: dsBufferBytesMin,
		Format:      &format,
	}
	var buffer *comObject
	if r := comCall(device, slotCreateBuffer,
		uintptr(unsafe.Pointer(&desc)), uintptr(unsafe.Pointer(&buffer)), 0); r != 0 {
		return nil, winerr.New(uint32(r), "CreateSoundBuffer failed.")
	}
	defer comCall(buffer, slotRelease)

	d := &dsound{mu: mu, log: log, sink: sink, vtbl: buffer.vtbl}
	d.oldQuery = d.vtbl[slotQueryInterface]
	d.oldUnlock = d.vtbl[slotUnlock]

	if err := windows.VirtualProtect(uintptr(unsafe.Pointer(d.vtbl)), 0x1000,
		windows.PAGE_READWRITE, &d.oldProtect); err != nil {
		return nil, winerr.From("VirtualProtect failed.", err)
	}

	d.vtbl[slotQueryInterface] = uintptr(unsafe.Pointer(d))
	d.vtbl[slotUnlock] = hookCallback() // aligned slot store, atomic on x64

	return d, nil
}

// Close restores the patched slots and the table page's prior protection.
func (d *dsound) Close() error {
	d.vtbl[slotUnlock] = d.oldUnlock
	d.vtbl[slotQueryInterface] = d.oldQuery

	var ignored uint32
	windows.VirtualProtect(uintptr(unsafe.Pointer(d.vtbl)), 0x1000, d.oldProtect, &ignored)
	return nil
}

// hookUnlock replaces IDirectSoundBuffer::Unlock. It runs on whatever
// thread the target unlocks its buffers from.
func hookUnlock(buffer *comObject, ptr1, len1, ptr2, len2 uintptr) uintptr {
	d := (*dsound)(unsafe.Pointer(buffer.vtbl[slotQueryInterface]))

	d.mu.Lock()
	defer d.mu.Unlock()

	r, _, _ := syscall.SyscallN(d.oldUnlock,
		uintptr(unsafe.Pointer(buffer)), ptr1, len1, ptr2, len2)
	if r != 0 {
		return r
	}

	if !d.setup {
		var format waveFormatEx
		comCall(buffer, slotGetFormat,
			uintptr(unsafe.Pointer(&format)), unsafe.Sizeof(format), 0)

		d.log.Info("output format",
			"frequency", format.SamplesPerSec,
			"bits", format.BitsPerSample,
			"channels", format.Channels)
		if err := d.sink.Setup(int(format.SamplesPerSec), int(format.BitsPerSample), int(format.Channels)); err != nil {
			d.log.Error("format sink setup failed", "error", err)
			return r
		}
		d.setup = true
	}

	d.writeRegion(ptr1, len1)
	if ptr2 != 0 {
		d.writeRegion(ptr2, len2)
	}
	return r
}

func (d *dsound) writeRegion(ptr, n uintptr) {
	if ptr == 0 || n == 0 {
		return
	}
	if err := d.sink.WritePCM(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)); err != nil {
		d.log.Error("pcm write failed", "error", err)
	}
}
