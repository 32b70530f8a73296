package remote

import (
	"encoding/binary"
	"fmt"
)

// reg identifies an x64 general-purpose register. ext is the REX extension
// bit for r8..r15.
type reg struct {
	lo  byte
	ext bool
}

var (
	rax = reg{0, false}
	rcx = reg{1, false}
	rdx = reg{2, false}
	rsp = reg{4, false}
	rsi = reg{6, false}
	rdi = reg{7, false}
	r8  = reg{0, true}
	r9  = reg{1, true}
	r12 = reg{4, true}
)

// argRegisters is the Microsoft x64 calling convention's register order for
// the first four integer arguments.
var argRegisters = [4]reg{rcx, rdx, r8, r9}

type relocKind int

const (
	relocRel32 relocKind = iota // 32-bit displacement relative to the next instruction
)

type reloc struct {
	offset int // position of the 4 displacement bytes
	label  string
	kind   relocKind
}

// assembler emits the small subset of x64 encodings the remote stub needs.
// Labels bind to buffer offsets; rip-relative references are resolved in
// finalize, so the emitted blob works at whatever base it was built for.
type assembler struct {
	buf    []byte
	labels map[string]int
	relocs []reloc
}

func newAssembler() *assembler {
	return &assembler{labels: make(map[string]int)}
}

func (a *assembler) bytes(b ...byte) {
	a.buf = append(a.buf, b...)
}

// label binds name to the current offset.
func (a *assembler) label(name string) {
	a.labels[name] = len(a.buf)
}

func (a *assembler) refRel32(name string) {
	a.relocs = append(a.relocs, reloc{offset: len(a.buf), label: name, kind: relocRel32})
	a.bytes(0, 0, 0, 0)
}

func rexW(dst, src reg) byte {
	rex := byte(0x48)
	if src.ext {
		rex |= 0x04 // REX.R
	}
	if dst.ext {
		rex |= 0x01 // REX.B
	}
	return rex
}

// andRspImm8 emits `and rsp, imm8` (sign-extended).
func (a *assembler) andRspImm8(v int8) {
	a.bytes(0x48, 0x83, 0xE4, byte(v))
}

// subRspImm8 emits `sub rsp, imm8`.
func (a *assembler) subRspImm8(v int8) {
	a.bytes(0x48, 0x83, 0xEC, byte(v))
}

// movRegImm64 emits `mov r64, imm64`.
func (a *assembler) movRegImm64(r reg, v uint64) {
	rex := byte(0x48)
	if r.ext {
		rex |= 0x01
	}
	a.bytes(rex, 0xB8+r.lo)
	var imm [8]byte
	binary.LittleEndian.PutUint64(imm[:], v)
	a.bytes(imm[:]...)
}

// movRegReg emits `mov dst, src` between 64-bit registers.
func (a *assembler) movRegReg(dst, src reg) {
	a.bytes(rexW(dst, src), 0x89, 0xC0|src.lo<<3|dst.lo)
}

// leaRegLabel emits a rip-relative `lea r64, [label]`.
func (a *assembler) leaRegLabel(r reg, name string) {
	rex := byte(0x48)
	if r.ext {
		rex |= 0x04
	}
	a.bytes(rex, 0x8D, 0x05|r.lo<<3) // mod=00 rm=101: rip+disp32
	a.refRel32(name)
}

// leaRegRspDisp8 emits `lea r64, [rsp+disp8]`.
func (a *assembler) leaRegRspDisp8(r reg, disp int8) {
	rex := byte(0x48)
	if r.ext {
		rex |= 0x04
	}
	a.bytes(rex, 0x8D, 0x44|r.lo<<3, 0x24, byte(disp))
}

// movBytePtrRsp emits `mov byte [rsp+disp8], imm8`.
func (a *assembler) movBytePtrRsp(disp int8, v byte) {
	a.bytes(0xC6, 0x44, 0x24, byte(disp), v)
}

// movPtrRspRax emits `mov [rsp+disp8], rax`.
func (a *assembler) movPtrRspRax(disp int8) {
	a.bytes(0x48, 0x89, 0x44, 0x24, byte(disp))
}

// callRax emits `call rax`.
func (a *assembler) callRax() {
	a.bytes(0xFF, 0xD0)
}

// jmpRax emits `jmp rax`.
func (a *assembler) jmpRax() {
	a.bytes(0xFF, 0xE0)
}

// testRaxRax emits `test rax, rax`.
func (a *assembler) testRaxRax() {
	a.bytes(0x48, 0x85, 0xC0)
}

// jz emits `jz label` with a rel32 displacement.
func (a *assembler) jz(name string) {
	a.bytes(0x0F, 0x84)
	a.refRel32(name)
}

// jnz emits `jnz label` with a rel32 displacement.
func (a *assembler) jnz(name string) {
	a.bytes(0x0F, 0x85)
	a.refRel32(name)
}

// jmp emits `jmp label` with a rel32 displacement.
func (a *assembler) jmp(name string) {
	a.bytes(0xE9)
	a.refRel32(name)
}

// pushRdi emits `push rdi`.
func (a *assembler) pushRdi() {
	a.bytes(0x57)
}

// embed appends raw data at the current position.
func (a *assembler) embed(data []byte) {
	a.buf = append(a.buf, data...)
}

// finalize resolves label references and returns the blob.
func (a *assembler) finalize() ([]byte, error) {
	for _, rl := range a.relocs {
		target, ok := a.labels[rl.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", rl.label)
		}
		switch rl.kind {
		case relocRel32:
			disp := int64(target) - int64(rl.offset+4)
			if disp < -1<<31 || disp >= 1<<31 {
				return nil, fmt.Errorf("label %q out of rel32 range", rl.label)
			}
			binary.LittleEndian.PutUint32(a.buf[rl.offset:], uint32(int32(disp)))
		}
	}
	return a.buf, nil
}
