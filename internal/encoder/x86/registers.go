// Package x86 implements the shared ModR/M/SIB/REX encoder used by all
// three x86-family targets (x86-64, x86-32, x86-16). The three targets
// share a register-numbering scheme: register id N always names the N-th
// slot of the ModR/M reg/rm field, widened to the target's native operand
// size.
package x86

import "github.com/wasmback/wasmback/internal/ir"

// Register ids 0-7 are encodable on every x86 target; 8-15 require a REX
// prefix and exist only on x86-64.
const (
	AX ir.Register = iota // 0
	CX                    // 1
	DX                    // 2
	BX                    // 3
	SP                    // 4
	BP                    // 5
	SI                    // 6
	DI                    // 7
	R8                    // 8..15: x86-64 only
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Width is the operand size an instruction is encoded at.
type Width int

const (
	W16 Width = 16
	W32 Width = 32
	W64 Width = 64
)

// lowBits returns the 3-bit ModR/M/SIB encoding of r (ignores the REX
// extension bit, which the caller emits separately).
func lowBits(r ir.Register) byte {
	return byte(r) & 0x7
}

// needsRex reports whether r requires the REX.R/X/B extension bit.
func needsRex(r ir.Register) bool {
	return r >= R8
}

func regName(r ir.Register, w Width) string {
	names16 := [...]string{"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
		"r8w", "r9w", "r10w", "r11w", "r12w", "r13w", "r14w", "r15w"}
	names32 := [...]string{"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi",
		"r8d", "r9d", "r10d", "r11d", "r12d", "r13d", "r14d", "r15d"}
	names64 := [...]string{"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15"}
	if int(r) >= len(names64) {
		return "?"
	}
	switch w {
	case W16:
		return names16[r]
	case W32:
		return names32[r]
	default:
		return names64[r]
	}
}
