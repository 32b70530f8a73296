//go:build windows

package remote

import (
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/reccapture/recc/internal/handle"
	"github.com/reccapture/recc/internal/winerr"
)

var (
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx     = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx      = kernel32.NewProc("VirtualFreeEx")
	procWriteProcessMemory = kernel32.NewProc("WriteProcessMemory")
	procCreateRemoteThread = kernel32.NewProc("CreateRemoteThread")
)

// kernelImports resolves the addresses the stub calls. Kernel32 loads at
// the same base in every process of a session, so controller-side addresses
// are valid inside the target.
func kernelImports() Imports {
	return Imports{
		GetModuleHandleW: kernel32.NewProc("GetModuleHandleW").Addr(),
		LoadLibraryW:     kernel32.NewProc("LoadLibraryW").Addr(),
		GetProcAddress:   kernel32.NewProc("GetProcAddress").Addr(),
		GetLastError:     kernel32.NewProc("GetLastError").Addr(),
		FreeLibrary:      kernel32.NewProc("FreeLibrary").Addr(),
		VirtualProtect:   kernel32.NewProc("VirtualProtect").Addr(),
		VirtualFree:      kernel32.NewProc("VirtualFree").Addr(),
		ExitThread:       kernel32.NewProc("ExitThread").Addr(),
	}
}

func freeRemote(process windows.Handle, base uintptr) {
	procVirtualFreeEx.Call(uintptr(process), base, 0, memRelease)
}

// Call loads dllPath into the target (unless already loaded) and invokes the
// named entry point there with the given arguments, on a new remote thread.
// With unloadAfter the module is freed once the entry point returns. The
// returned handle signals when the call is done; its exit code is the entry
// point's 32-bit result, or a Win32 error code if the stub failed before
// the call.
//
// The remote region holding the stub is owned by the controller only until
// the thread is created; from then on the stub frees it itself.
func Call(process windows.Handle, unloadAfter bool, dllPath, entry string, args ...Arg) (handle.Handle, error) {
	base, _, err := procVirtualAllocEx.Call(uintptr(process), 0, stubRegionSize,
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READ)
	if base == 0 {
		return handle.Handle{}, winerr.From("VirtualAllocEx failed.", err)
	}

	code, err := emitStub(base, kernelImports(), unloadAfter, dllPath, entry, args)
	if err != nil {
		freeRemote(process, base)
		return handle.Handle{}, err
	}

	var written uintptr
	ok, _, err := procWriteProcessMemory.Call(uintptr(process), base,
		uintptr(unsafe.Pointer(&code[0])), uintptr(len(code)), uintptr(unsafe.Pointer(&written)))
	if ok == 0 {
		freeRemote(process, base)
		return handle.Handle{}, winerr.From("WriteProcessMemory failed.", err)
	}

	thread, _, err := procCreateRemoteThread.Call(uintptr(process), 0, 0, base, 0, 0, 0)
	if thread == 0 {
		freeRemote(process, base)
		return handle.Handle{}, winerr.From("CreateRemoteThread failed.", err)
	}

	// The stub owns the region now; freeing it here would race the thread.
	return handle.New(windows.Handle(thread)), nil
}
