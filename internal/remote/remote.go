// Package remote makes function calls inside another process.
//
// A call is a one-shot x64 stub written into the target's address space and
// run on a fresh remote thread. The stub loads (or finds) the agent module,
// resolves the entry point, calls it with the marshalled arguments, frees
// its own memory through a trampoline staged on the thread's stack, and
// exits the thread with the call's result.
package remote

import (
	"fmt"
	"unicode/utf16"
)

// Arg is one argument of a remote call: either a 64-bit integral passed by
// value, or a string whose bytes are embedded in the stub and passed by
// address. At most four arguments fit the calling convention's registers.
type Arg struct {
	integral bool
	value    uint64
	data     []byte // embedded bytes including the terminator
}

// Int passes v by value.
func Int(v uint64) Arg {
	return Arg{integral: true, value: v}
}

// Str passes the address of a NUL-terminated byte copy of s.
func Str(s string) Arg {
	return Arg{data: append([]byte(s), 0)}
}

// Wide passes the address of a NUL-terminated UTF-16 copy of s.
func Wide(s string) Arg {
	return Arg{data: encodeWide(s)}
}

func encodeWide(s string) []byte {
	units := utf16.Encode([]rune(s))
	data := make([]byte, 0, 2*len(units)+2)
	for _, u := range units {
		data = append(data, byte(u), byte(u>>8))
	}
	return append(data, 0, 0)
}

// Imports holds the addresses of the kernel32 exports the stub calls.
// Kernel32 loads at the same base in every process of a session, so the
// controller-side addresses are valid inside the target. Tests substitute
// a sandbox here.
type Imports struct {
	GetModuleHandleW uintptr
	LoadLibraryW     uintptr
	GetProcAddress   uintptr
	GetLastError     uintptr
	FreeLibrary      uintptr
	VirtualProtect   uintptr
	VirtualFree      uintptr
	ExitThread       uintptr
}

// stubRegionSize is the fixed size of the remote allocation: one region for
// code and inline string data.
const stubRegionSize = 0x2000

const (
	pageExecuteReadWrite = 0x40
	memRelease           = 0x8000
)

// emitStub builds the stub for a remote call, parameterised on the address
// the blob will live at. Layout and register discipline:
//
//	align rsp, reserve shadow space
//	GetModuleHandleW(dllpath) -> found: skip load
//	LoadLibraryW(dllpath)     -> zero: fail tail
//	r12 = module handle (callee-saved across the following calls)
//	GetProcAddress(r12, entry) -> zero: fail tail
//	entry(args...)            -> exit tail
//	fail: GetLastError()      so the thread's exit code means something
//	exit: rsi = result; optionally FreeLibrary(r12)
//	stage {mov rcx, rsi; mov rax, &ExitThread; jmp rax} on the stack,
//	VirtualProtect it executable, then *jmp* to VirtualFree(base) with the
//	trampoline's address as the pushed return address: the region is gone
//	before the trampoline runs, and the thread exits with rsi.
func emitStub(base uintptr, imp Imports, unloadAfter bool, dllPath, entry string, args []Arg) ([]byte, error) {
	if len(args) > len(argRegisters) {
		return nil, fmt.Errorf("too many arguments: %d, the calling convention passes at most %d in registers", len(args), len(argRegisters))
	}

	as := newAssembler()

	as.andRspImm8(-16)
	as.subRspImm8(32)

	as.leaRegLabel(rcx, "dllpath")
	as.movRegImm64(rax, uint64(imp.GetModuleHandleW))
	as.callRax()
	as.testRaxRax()
	as.jnz("findfunc")

	as.leaRegLabel(rcx, "dllpath")
	as.movRegImm64(rax, uint64(imp.LoadLibraryW))
	as.callRax()
	as.testRaxRax()
	as.jz("fail")

	as.label("findfunc")
	as.movRegReg(r12, rax)
	as.movRegReg(rcx, rax)
	as.leaRegLabel(rdx, "funcname")
	as.movRegImm64(rax, uint64(imp.GetProcAddress))
	as.callRax()
	as.testRaxRax()
	as.jz("fail")

	for i, arg := range args {
		if arg.integral {
			as.movRegImm64(argRegisters[i], arg.value)
		} else {
			as.leaRegLabel(argRegisters[i], argLabel(i))
		}
	}
	as.callRax()
	as.jmp("exit")

	as.label("fail")
	as.movRegImm64(rax, uint64(imp.GetLastError))
	as.callRax()

	as.label("exit")
	as.movRegReg(rsi, rax)

	if unloadAfter {
		as.movRegReg(rcx, r12)
		as.movRegImm64(rax, uint64(imp.FreeLibrary))
		as.callRax()
	}

	// Trampoline bytes at [rsp..rsp+14]: mov rcx, rsi; mov rax, imm64; jmp rax.
	as.movBytePtrRsp(0, 0x48)
	as.movBytePtrRsp(1, 0x89)
	as.movBytePtrRsp(2, 0xF1)
	as.movBytePtrRsp(3, 0x48)
	as.movBytePtrRsp(4, 0xB8)
	as.movRegImm64(rax, uint64(imp.ExitThread))
	as.movPtrRspRax(5)
	as.movBytePtrRsp(13, 0xFF)
	as.movBytePtrRsp(14, 0xE0)
	as.movRegReg(rdi, rsp)
	as.subRspImm8(32)

	as.movRegReg(rcx, rdi)
	as.movRegImm64(rdx, 32)
	as.movRegImm64(r8, pageExecuteReadWrite)
	as.leaRegRspDisp8(r9, 16) // lpflOldProtect points at scratch stack
	as.movRegImm64(rax, uint64(imp.VirtualProtect))
	as.callRax()

	as.movRegImm64(rcx, uint64(base))
	as.movRegImm64(rdx, 0)
	as.movRegImm64(r8, memRelease)
	as.movRegImm64(rax, uint64(imp.VirtualFree))
	as.pushRdi()
	as.jmpRax() // VirtualFree "returns" onto the trampoline

	as.label("dllpath")
	as.embed(encodeWide(dllPath))

	as.label("funcname")
	as.embed(append([]byte(entry), 0))

	for i, arg := range args {
		if !arg.integral {
			as.label(argLabel(i))
			as.embed(arg.data)
		}
	}

	code, err := as.finalize()
	if err != nil {
		return nil, err
	}
	if len(code) > stubRegionSize {
		return nil, fmt.Errorf("stub of %d bytes exceeds the %d byte remote region", len(code), stubRegionSize)
	}
	return code, nil
}

func argLabel(i int) string {
	return fmt.Sprintf("arg%d", i)
}
