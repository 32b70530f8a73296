package remote

import (
	"bytes"
	"testing"
)

func emit(f func(a *assembler)) []byte {
	a := newAssembler()
	f(a)
	code, err := a.finalize()
	if err != nil {
		panic(err)
	}
	return code
}

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		f    func(a *assembler)
		want []byte
	}{
		{"and rsp, -16", func(a *assembler) { a.andRspImm8(-16) }, []byte{0x48, 0x83, 0xE4, 0xF0}},
		{"sub rsp, 32", func(a *assembler) { a.subRspImm8(32) }, []byte{0x48, 0x83, 0xEC, 0x20}},
		{"mov rax, imm64", func(a *assembler) { a.movRegImm64(rax, 0x1122334455667788) },
			[]byte{0x48, 0xB8, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22, 0x11}},
		{"mov r9, imm64", func(a *assembler) { a.movRegImm64(r9, 1) },
			[]byte{0x49, 0xB9, 1, 0, 0, 0, 0, 0, 0, 0}},
		{"mov r12, rax", func(a *assembler) { a.movRegReg(r12, rax) }, []byte{0x49, 0x89, 0xC4}},
		{"mov rcx, r12", func(a *assembler) { a.movRegReg(rcx, r12) }, []byte{0x4C, 0x89, 0xE1}},
		{"mov rsi, rax", func(a *assembler) { a.movRegReg(rsi, rax) }, []byte{0x48, 0x89, 0xC6}},
		{"mov rdi, rsp", func(a *assembler) { a.movRegReg(rdi, rsp) }, []byte{0x48, 0x89, 0xE7}},
		{"lea r9, [rsp+16]", func(a *assembler) { a.leaRegRspDisp8(r9, 16) }, []byte{0x4C, 0x8D, 0x4C, 0x24, 0x10}},
		{"mov [rsp+5], rax", func(a *assembler) { a.movPtrRspRax(5) }, []byte{0x48, 0x89, 0x44, 0x24, 0x05}},
		{"mov byte [rsp+0], 0x48", func(a *assembler) { a.movBytePtrRsp(0, 0x48) }, []byte{0xC6, 0x44, 0x24, 0x00, 0x48}},
		{"call rax", func(a *assembler) { a.callRax() }, []byte{0xFF, 0xD0}},
		{"jmp rax", func(a *assembler) { a.jmpRax() }, []byte{0xFF, 0xE0}},
		{"test rax, rax", func(a *assembler) { a.testRaxRax() }, []byte{0x48, 0x85, 0xC0}},
		{"push rdi", func(a *assembler) { a.pushRdi() }, []byte{0x57}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := emit(tt.f); !bytes.Equal(got, tt.want) {
				t.Errorf("emitted % X, want % X", got, tt.want)
			}
		})
	}
}

func TestLabelResolution(t *testing.T) {
	// jmp over one 4-byte instruction: displacement 4.
	code := emit(func(a *assembler) {
		a.jmp("end")
		a.andRspImm8(-16)
		a.label("end")
	})
	want := []byte{0xE9, 0x04, 0x00, 0x00, 0x00, 0x48, 0x83, 0xE4, 0xF0}
	if !bytes.Equal(code, want) {
		t.Errorf("emitted % X, want % X", code, want)
	}

	// Backward reference: jnz to offset 0 from a jnz ending at 9.
	code = emit(func(a *assembler) {
		a.label("top")
		a.testRaxRax()
		a.jnz("top")
	})
	want = []byte{0x48, 0x85, 0xC0, 0x0F, 0x85, 0xF7, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(code, want) {
		t.Errorf("emitted % X, want % X", code, want)
	}

	// lea rcx, [rip+label] straight after the instruction: displacement 0.
	code = emit(func(a *assembler) {
		a.leaRegLabel(rcx, "data")
		a.label("data")
		a.embed([]byte{0xAA})
	})
	want = []byte{0x48, 0x8D, 0x0D, 0x00, 0x00, 0x00, 0x00, 0xAA}
	if !bytes.Equal(code, want) {
		t.Errorf("emitted % X, want % X", code, want)
	}
}

func TestUndefinedLabel(t *testing.T) {
	a := newAssembler()
	a.jmp("nowhere")
	if _, err := a.finalize(); err == nil {
		t.Fatal("finalize accepted an undefined label")
	}
}
