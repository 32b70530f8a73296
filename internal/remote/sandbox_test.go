package remote

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
)

// The tests execute emitted stubs inside a small x64 interpreter that
// implements exactly the instruction forms the assembler can produce and
// stubs out the eight OS imports. Import addresses live outside any mapped
// region; control transfer onto one dispatches the matching fake.

const (
	impGetModuleHandleW = 0xFEED0000 + 16*iota
	impLoadLibraryW
	impGetProcAddress
	impGetLastError
	impFreeLibrary
	impVirtualProtect
	impVirtualFree
	impExitThread
	impEntryPoint
)

const (
	sandboxLastError = 0x7F
	stackBase        = 0x7FFE0000
	stackSize        = 0x10000
)

var sandboxImports = Imports{
	GetModuleHandleW: impGetModuleHandleW,
	LoadLibraryW:     impLoadLibraryW,
	GetProcAddress:   impGetProcAddress,
	GetLastError:     impGetLastError,
	FreeLibrary:      impFreeLibrary,
	VirtualProtect:   impVirtualProtect,
	VirtualFree:      impVirtualFree,
	ExitThread:       impExitThread,
}

type region struct {
	base uint64
	data []byte
}

type entryCall struct {
	rcx, rdx, r8, r9 uint64
}

type sandbox struct {
	regions []*region

	regs [16]uint64 // rax rcx rdx rbx rsp rbp rsi rdi r8..r15
	zf   bool
	rip  uint64

	halted   bool
	exitCode uint32

	// behaviour knobs
	moduleLoaded bool   // GetModuleHandleW finds the module
	loadResult   uint64 // LoadLibraryW return value
	procResult   uint64 // GetProcAddress return value
	entryResult  uint64 // entry point return value

	// observations
	allocs           map[uint64]int // remote allocation table
	events           []string
	moduleQueries    []string
	loadCalls        []string
	procModules      []uint64
	procNames        []string
	entryCalls       []entryCall
	freeLibraryCalls []uint64
	protectCalls     []entryCall
}

const sandboxModuleHandle = 0xAB000000

func newSandbox(code []byte, base uint64) *sandbox {
	s := &sandbox{
		loadResult: sandboxModuleHandle,
		procResult: impEntryPoint,
		allocs:     map[uint64]int{base: stubRegionSize},
		regions:    []*region{{base: base, data: append([]byte(nil), code...)}},
		rip:        base,
	}
	stack := &region{base: stackBase, data: make([]byte, stackSize)}
	s.regions = append(s.regions, stack)
	s.regs[4] = stackBase + stackSize - 8 // rsp as at thread entry
	return s
}

func (s *sandbox) region(addr uint64, n int) (*region, int, error) {
	for _, r := range s.regions {
		if addr >= r.base && addr+uint64(n) <= r.base+uint64(len(r.data)) {
			return r, int(addr - r.base), nil
		}
	}
	return nil, 0, fmt.Errorf("memory fault at %#x (%d bytes)", addr, n)
}

func (s *sandbox) read(addr uint64, n int) ([]byte, error) {
	r, off, err := s.region(addr, n)
	if err != nil {
		return nil, err
	}
	return r.data[off : off+n], nil
}

func (s *sandbox) write(addr uint64, p []byte) error {
	r, off, err := s.region(addr, len(p))
	if err != nil {
		return err
	}
	copy(r.data[off:], p)
	return nil
}

func (s *sandbox) read64(addr uint64) (uint64, error) {
	b, err := s.read(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (s *sandbox) write64(addr, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return s.write(addr, b[:])
}

func (s *sandbox) push(v uint64) error {
	s.regs[4] -= 8
	return s.write64(s.regs[4], v)
}

func (s *sandbox) pop() (uint64, error) {
	v, err := s.read64(s.regs[4])
	s.regs[4] += 8
	return v, err
}

// readWideString reads a NUL-terminated UTF-16 string at addr.
func (s *sandbox) readWideString(addr uint64) (string, error) {
	var units []uint16
	for {
		b, err := s.read(addr, 2)
		if err != nil {
			return "", err
		}
		u := binary.LittleEndian.Uint16(b)
		if u == 0 {
			return string(utf16.Decode(units)), nil
		}
		units = append(units, u)
		addr += 2
	}
}

// readByteString reads a NUL-terminated byte string at addr.
func (s *sandbox) readByteString(addr uint64) (string, error) {
	var out []byte
	for {
		b, err := s.read(addr, 1)
		if err != nil {
			return "", err
		}
		if b[0] == 0 {
			return string(out), nil
		}
		out = append(out, b[0])
		addr++
	}
}

// dispatchImport runs the fake OS function at addr. Except for ExitThread,
// the "call" returns by popping the return address like a real ret would.
func (s *sandbox) dispatchImport(addr uint64) error {
	rcx, rdx, r8c, r9c := s.regs[1], s.regs[2], s.regs[8], s.regs[9]

	switch addr {
	case impGetModuleHandleW:
		name, err := s.readWideString(rcx)
		if err != nil {
			return err
		}
		s.moduleQueries = append(s.moduleQueries, name)
		if s.moduleLoaded {
			s.regs[0] = sandboxModuleHandle
		} else {
			s.regs[0] = 0
		}
	case impLoadLibraryW:
		name, err := s.readWideString(rcx)
		if err != nil {
			return err
		}
		s.loadCalls = append(s.loadCalls, name)
		s.events = append(s.events, "load-library")
		s.regs[0] = s.loadResult
	case impGetProcAddress:
		name, err := s.readByteString(rdx)
		if err != nil {
			return err
		}
		s.procModules = append(s.procModules, rcx)
		s.procNames = append(s.procNames, name)
		s.regs[0] = s.procResult
	case impGetLastError:
		s.regs[0] = sandboxLastError
	case impFreeLibrary:
		s.freeLibraryCalls = append(s.freeLibraryCalls, rcx)
		s.events = append(s.events, "free-library")
		s.regs[0] = 1
	case impVirtualProtect:
		s.protectCalls = append(s.protectCalls, entryCall{rcx, rdx, r8c, r9c})
		if err := s.write(r9c, []byte{0, 0, 0, 0}); err != nil {
			return err
		}
		s.regs[0] = 1
	case impVirtualFree:
		if _, ok := s.allocs[rcx]; !ok {
			return fmt.Errorf("VirtualFree of unknown region %#x", rcx)
		}
		delete(s.allocs, rcx)
		s.events = append(s.events, "virtual-free")
		// The region is gone; executing it afterwards must fault.
		for i, r := range s.regions {
			if r.base == rcx {
				s.regions = append(s.regions[:i], s.regions[i+1:]...)
				break
			}
		}
		s.regs[0] = 1
	case impExitThread:
		s.exitCode = uint32(rcx)
		s.events = append(s.events, "exit-thread")
		s.halted = true
		return nil
	case impEntryPoint:
		s.entryCalls = append(s.entryCalls, entryCall{rcx, rdx, r8c, r9c})
		s.events = append(s.events, "entry")
		s.regs[0] = s.entryResult
	default:
		return fmt.Errorf("transfer to unmapped address %#x", addr)
	}

	ret, err := s.pop()
	if err != nil {
		return err
	}
	s.rip = ret
	return nil
}

func isImport(addr uint64) bool {
	return addr >= impGetModuleHandleW && addr <= impEntryPoint
}

// step decodes and executes one instruction.
func (s *sandbox) step() error {
	if isImport(s.rip) {
		return s.dispatchImport(s.rip)
	}

	fetch := func(n int) ([]byte, error) { return s.read(s.rip, n) }

	op, err := fetch(1)
	if err != nil {
		return err
	}

	var rexR, rexB bool
	code := op[0]
	if code&0xF0 == 0x40 { // REX prefix
		rexR = code&0x04 != 0
		rexB = code&0x01 != 0
		s.rip++
		op, err = fetch(1)
		if err != nil {
			return err
		}
		code = op[0]
	}
	ext := func(lo byte, set bool) int {
		if set {
			return int(lo) + 8
		}
		return int(lo)
	}

	switch {
	case code == 0x83: // and/sub r64, imm8
		b, err := fetch(3)
		if err != nil {
			return err
		}
		modrm, imm := b[1], int8(b[2])
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported group-1 form %#x", modrm)
		}
		r := ext(modrm&7, rexB)
		switch modrm >> 3 & 7 {
		case 4:
			s.regs[r] &= uint64(int64(imm))
		case 5:
			s.regs[r] -= uint64(int64(imm))
		default:
			return fmt.Errorf("unsupported group-1 op %d", modrm>>3&7)
		}
		s.rip += 3
	case code == 0x8D: // lea
		b, err := fetch(6)
		if err != nil {
			return err
		}
		modrm := b[1]
		dst := ext(modrm>>3&7, rexR)
		switch {
		case modrm>>6 == 0 && modrm&7 == 5: // rip-relative
			disp := int32(binary.LittleEndian.Uint32(b[2:6]))
			s.rip += 6
			s.regs[dst] = s.rip + uint64(int64(disp))
		case modrm>>6 == 1 && modrm&7 == 4 && b[2] == 0x24: // [rsp+disp8]
			s.regs[dst] = s.regs[4] + uint64(int64(int8(b[3])))
			s.rip += 4
		default:
			return fmt.Errorf("unsupported lea form %#x", modrm)
		}
	case code >= 0xB8 && code <= 0xBF: // mov r64, imm64
		b, err := fetch(9)
		if err != nil {
			return err
		}
		s.regs[ext(code-0xB8, rexB)] = binary.LittleEndian.Uint64(b[1:9])
		s.rip += 9
	case code == 0x89: // mov r/m64, r64
		b, err := fetch(5)
		if err != nil {
			return err
		}
		modrm := b[1]
		src := ext(modrm>>3&7, rexR)
		switch {
		case modrm>>6 == 3:
			s.regs[ext(modrm&7, rexB)] = s.regs[src]
			s.rip += 2
		case modrm>>6 == 1 && modrm&7 == 4 && b[2] == 0x24: // [rsp+disp8]
			s.rip += 4
			if err := s.write64(s.regs[4]+uint64(int64(int8(b[3]))), s.regs[src]); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported mov form %#x", modrm)
		}
	case code == 0xC6: // mov byte [rsp+disp8], imm8
		b, err := fetch(5)
		if err != nil {
			return err
		}
		if b[1] != 0x44 || b[2] != 0x24 {
			return fmt.Errorf("unsupported mov-imm8 form %#x %#x", b[1], b[2])
		}
		s.rip += 5
		if err := s.write(s.regs[4]+uint64(int64(int8(b[3]))), []byte{b[4]}); err != nil {
			return err
		}
	case code == 0x85: // test r64, r64
		b, err := fetch(2)
		if err != nil {
			return err
		}
		modrm := b[1]
		if modrm>>6 != 3 {
			return fmt.Errorf("unsupported test form %#x", modrm)
		}
		s.zf = s.regs[ext(modrm&7, rexB)]&s.regs[ext(modrm>>3&7, rexR)] == 0
		s.rip += 2
	case code == 0xFF: // call/jmp rax
		b, err := fetch(2)
		if err != nil {
			return err
		}
		switch b[1] {
		case 0xD0:
			s.rip += 2
			if err := s.push(s.rip); err != nil {
				return err
			}
			s.rip = s.regs[0]
		case 0xE0:
			s.rip = s.regs[0]
		default:
			return fmt.Errorf("unsupported FF form %#x", b[1])
		}
	case code == 0x0F: // jz/jnz rel32
		b, err := fetch(6)
		if err != nil {
			return err
		}
		disp := int32(binary.LittleEndian.Uint32(b[2:6]))
		s.rip += 6
		taken := false
		switch b[1] {
		case 0x84:
			taken = s.zf
		case 0x85:
			taken = !s.zf
		default:
			return fmt.Errorf("unsupported 0F form %#x", b[1])
		}
		if taken {
			s.rip += uint64(int64(disp))
		}
	case code == 0xE9: // jmp rel32
		b, err := fetch(5)
		if err != nil {
			return err
		}
		disp := int32(binary.LittleEndian.Uint32(b[1:5]))
		s.rip += 5
		s.rip += uint64(int64(disp))
	case code == 0x57: // push rdi
		s.rip++
		if err := s.push(s.regs[7]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported opcode %#x at %#x", code, s.rip)
	}
	return nil
}

func (s *sandbox) run() error {
	for steps := 0; !s.halted; steps++ {
		if steps > 10000 {
			return fmt.Errorf("stub did not terminate")
		}
		if err := s.step(); err != nil {
			return err
		}
	}
	return nil
}
