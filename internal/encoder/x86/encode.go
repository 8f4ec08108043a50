// Package x86 (continued): the per-mnemonic encoder/estimator, shared by
// the three x86-family isa.Descriptor implementations. One function per
// instruction shape selects the ModR/M/REX/SIB encoding over the typed
// ir.Instr operands, rather than a single monolithic switch.
package x86

import (
	"fmt"

	"github.com/wasmback/wasmback/internal/diag"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
)

// Encoder holds the three x86 targets' shared encoding logic, parameterized
// by operand width and addressing discipline.
type Encoder struct {
	W        Width
	LongMode bool // true only for x86-64: REX prefixes and 64-bit operand size available
	RealMode bool // true only for x86-16: no REX, memory addressing restricted to [BX+disp]
}

func rexByte(w64, r, x, b bool) byte {
	rex := byte(0x40)
	if w64 {
		rex |= 0x08
	}
	if r {
		rex |= 0x04
	}
	if x {
		rex |= 0x02
	}
	if b {
		rex |= 0x01
	}
	return rex
}

func asReg(o ir.Operand) (ir.Register, bool) {
	r, ok := o.(ir.Reg)
	return r.R, ok
}
func asImm(o ir.Operand) (int64, bool) {
	i, ok := o.(ir.Imm)
	return i.V, ok
}
func asMem(o ir.Operand) (ir.Mem, bool) {
	m, ok := o.(ir.Mem)
	return m, ok
}
func asLabel(o ir.Operand) (string, bool) {
	l, ok := o.(ir.LabelRef)
	return l.Name, ok
}

// condJccOpcode maps a target-independent ir.Cond to the 0x0F 0x8x Jcc
// second opcode byte, and to the SETcc/CMOVcc low nibble (same value).
func condJccOpcode(c ir.Cond) (byte, error) {
	switch c {
	case ir.CondEQ:
		return 0x84, nil
	case ir.CondNE:
		return 0x85, nil
	case ir.CondLtS:
		return 0x8C, nil
	case ir.CondGeS:
		return 0x8D, nil
	case ir.CondLeS:
		return 0x8E, nil
	case ir.CondGtS:
		return 0x8F, nil
	case ir.CondLtU:
		return 0x82, nil
	case ir.CondGeU:
		return 0x83, nil
	case ir.CondLeU:
		return 0x86, nil
	case ir.CondGtU:
		return 0x87, nil
	default:
		return 0, fmt.Errorf("unsupported condition %d", c)
	}
}

// build is the single code path used by both Size (estimate=true, pc/symbols
// ignored) and Encode (estimate=false). Sizes chosen from immediates,
// displacements or register identities are always available at estimate
// time; only a branch's resolved target address requires pass 2, and those
// mnemonics always choose the conservative (largest) encoding up front so
// their length never varies between the two calls.
func (e *Encoder) build(in *ir.Instr, pc uint64, symbols isa.SymbolTable, estimate bool) ([]byte, error) {
	w64 := e.W == W64
	opSizePrefix := e.W == W16 && !e.RealMode // 32-bit default mode needs 0x66 for 16-bit operands; real mode is natively 16-bit.

	var out []byte
	emit := func(b ...byte) { out = append(out, b...) }

	regReg := func(opcode byte, dst, src ir.Register, regIsReg bool) {
		// regIsReg picks which of dst/src occupies ModR/M.reg vs .rm; x86
		// opcodes come in /r pairs (e.g. 01 /r vs 03 /r) that just swap this.
		if opSizePrefix {
			emit(0x66)
		}
		if e.LongMode {
			r := needsRex(dst)
			b := needsRex(src)
			if regIsReg {
				r, b = needsRex(src), needsRex(dst)
			}
			if w64 || r || b {
				emit(rexByte(w64, r, false, b))
			}
		}
		emit(opcode)
		var modrm byte
		if regIsReg {
			modrm, _, _ = encodeModRM(lowBits(src), lowBits(dst), false, 0)
		} else {
			modrm, _, _ = encodeModRM(lowBits(dst), lowBits(src), false, 0)
		}
		emit(modrm)
	}

	memForm := func(opcode byte, reg ir.Register, mem ir.Mem, regIsDst bool) error {
		if opSizePrefix {
			emit(0x66)
		}
		base := mem.Base
		if e.RealMode {
			if base == SP {
				// 16-bit addressing has no ModR/M encoding that reaches SP at
				// all; the prologue's frame-alloc pairs every `sub sp, N`
				// with `mov bp, sp` (see the OpSub case below), so every
				// stack-pointer-relative operand the lowerer emits addresses
				// through BP instead, which encodes cleanly.
				base = BP
			}
			modrm, disp, ok := encodeModRM16(lowBits(reg), base, mem.Offset)
			if !ok {
				return fmt.Errorf("x86-16: register r%d has no 16-bit real-mode memory-addressing form (only BX, BP, SI, DI can base a memory operand)", base)
			}
			emit(opcode)
			emit(modrm)
			emit(disp...)
			_ = regIsDst
			return nil
		}
		if e.LongMode {
			r := needsRex(reg)
			b := needsRex(base)
			if w64 || r || b {
				emit(rexByte(w64, r, false, b))
			}
		}
		emit(opcode)
		modrm, sib, disp := encodeModRM(lowBits(reg), lowBits(base), true, mem.Offset)
		emit(modrm)
		emit(sib...)
		emit(disp...)
		_ = regIsDst
		return nil
	}

	movImm := func(dst ir.Register, imm int64) {
		if e.LongMode && w64 {
			emit(rexByte(true, false, false, needsRex(dst)))
			emit(0xB8 + lowBits(dst))
			emit(le64(uint64(imm))...)
		} else {
			if opSizePrefix {
				emit(0x66)
			}
			if e.LongMode && needsRex(dst) {
				emit(rexByte(false, false, false, true))
			}
			emit(0xB8 + lowBits(dst))
			if e.W == W16 {
				emit(le16(uint16(imm))...)
			} else {
				emit(le32(uint32(imm))...)
			}
		}
	}

	switch in.Op {
	case ir.OpNop:
		emit(0x90)

	case ir.OpBreakpoint:
		emit(0x0F, 0x0B) // UD2

	case ir.OpMov:
		dst, _ := asReg(in.Dst)
		if src, ok := asReg(in.Src); ok {
			regReg(0x89, dst, src, true) // MOV r/m, r  (dst is r/m, src is reg field)
		} else if imm, ok := asImm(in.Src); ok {
			movImm(dst, imm)
		} else {
			return nil, fmt.Errorf("MOV: unsupported operand combination")
		}

	case ir.OpLoadLabelAddr:
		dst, _ := asReg(in.Dst)
		name, ok := asLabel(in.Src)
		if !ok {
			return nil, fmt.Errorf("OpLoadLabelAddr requires a label operand")
		}
		if estimate {
			movImm(dst, 0)
		} else {
			offset, ok := symbols[name]
			if !ok {
				return nil, diag.New(diag.UnresolvedLabel, "", "label %q not found in symbol table", name)
			}
			movImm(dst, int64(symbols["$base"]+offset))
		}

	case ir.OpLoad:
		dst, _ := asReg(in.Dst)
		mem, _ := asMem(in.Src)
		if err := memForm(0x8B, dst, mem, true); err != nil {
			return nil, err
		}

	case ir.OpStore:
		mem, _ := asMem(in.Dst)
		src, _ := asReg(in.Src)
		if err := memForm(0x89, src, mem, false); err != nil {
			return nil, err
		}

	case ir.OpPush:
		src, _ := asReg(in.Src)
		if e.LongMode && needsRex(src) {
			emit(rexByte(false, false, false, true))
		}
		emit(0x50 + lowBits(src))

	case ir.OpPop:
		dst, _ := asReg(in.Dst)
		if e.LongMode && needsRex(dst) {
			emit(rexByte(false, false, false, true))
		}
		emit(0x58 + lowBits(dst))

	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpCmp:
		dst, _ := asReg(in.Dst)
		opReg := map[ir.Mnemonic]byte{ir.OpAdd: 0x01, ir.OpSub: 0x29, ir.OpAnd: 0x21, ir.OpOr: 0x09, ir.OpXor: 0x31, ir.OpCmp: 0x39}[in.Op]
		extDigit := map[ir.Mnemonic]byte{ir.OpAdd: 0, ir.OpSub: 5, ir.OpAnd: 4, ir.OpOr: 1, ir.OpXor: 6, ir.OpCmp: 7}[in.Op]
		if src, ok := asReg(in.Src); ok {
			regReg(opReg, dst, src, true)
		} else if imm, ok := asImm(in.Src); ok {
			if opSizePrefix {
				emit(0x66)
			}
			if e.LongMode {
				b := needsRex(dst)
				if w64 || b {
					emit(rexByte(w64, false, false, b))
				}
			}
			if fits8(imm) {
				emit(0x83)
				modrm, _, _ := encodeModRM(extDigit, lowBits(dst), false, 0)
				emit(modrm)
				emit(byte(int8(imm)))
			} else {
				emit(0x81)
				modrm, _, _ := encodeModRM(extDigit, lowBits(dst), false, 0)
				emit(modrm)
				if e.W == W16 {
					emit(le16(uint16(imm))...)
				} else {
					emit(le32(uint32(imm))...)
				}
			}
		} else {
			return nil, fmt.Errorf("%v: unsupported operand combination", in.Op)
		}
		if e.RealMode && in.Op == ir.OpSub && dst == SP {
			// Establish BP as SP's frame-pointer alias right after the
			// prologue reserves the frame: 16-bit addressing can never
			// reference SP, so memForm addresses every stack-relative
			// operand through BP instead (see memForm's RealMode branch).
			// The epilogue's matching `add sp, N` needs no such pairing:
			// BP is reconstructed fresh by the next call into this frame.
			regReg(0x89, BP, SP, true)
		}

	case ir.OpMul:
		dst, _ := asReg(in.Dst)
		src, _ := asReg(in.Src)
		if opSizePrefix {
			emit(0x66)
		}
		if e.LongMode {
			r := needsRex(dst)
			b := needsRex(src)
			if w64 || r || b {
				emit(rexByte(w64, r, false, b))
			}
		}
		emit(0x0F, 0xAF)
		modrm, _, _ := encodeModRM(lowBits(dst), lowBits(src), false, 0)
		emit(modrm)

	case ir.OpDivS, ir.OpDivU:
		// Dst holds the dividend and receives the quotient; Src is the
		// divisor register. Sign/zero-extend dividend into the upper half
		// first (CDQ/CQO for signed; XOR upper half for unsigned), per the
		// x86 DIV/IDIV calling convention.
		dst, _ := asReg(in.Dst)
		src, _ := asReg(in.Src)
		if dst != AX {
			return nil, fmt.Errorf("DIV: dividend must be in AX, got r%d", dst)
		}
		if in.Op == ir.OpDivS {
			if e.LongMode && w64 {
				emit(rexByte(true, false, false, false))
				emit(0x99) // CQO
			} else {
				if opSizePrefix {
					emit(0x66)
				}
				emit(0x99) // CDQ/CWD
			}
		} else {
			// unsigned: zero the upper half (DX/EDX/RDX) before dividing.
			regReg(0x31, DX, DX, true) // XOR DX,DX
		}
		if opSizePrefix {
			emit(0x66)
		}
		if e.LongMode {
			b := needsRex(src)
			if w64 || b {
				emit(rexByte(w64, false, false, b))
			}
		}
		emit(0xF7)
		digit := byte(6)
		if in.Op == ir.OpDivS {
			digit = 7
		}
		modrm, _, _ := encodeModRM(digit, lowBits(src), false, 0)
		emit(modrm)

	case ir.OpRemS, ir.OpRemU:
		return nil, fmt.Errorf("OpRemS/OpRemU must be lowered via OpDivS/OpDivU + DX read by the function lowerer")

	case ir.OpNeg:
		dst, _ := asReg(in.Dst)
		if opSizePrefix {
			emit(0x66)
		}
		if e.LongMode {
			b := needsRex(dst)
			if w64 || b {
				emit(rexByte(w64, false, false, b))
			}
		}
		emit(0xF7)
		modrm, _, _ := encodeModRM(3, lowBits(dst), false, 0)
		emit(modrm)

	case ir.OpShl, ir.OpShrS, ir.OpShrU:
		dst, _ := asReg(in.Dst)
		digit := map[ir.Mnemonic]byte{ir.OpShl: 4, ir.OpShrU: 5, ir.OpShrS: 7}[in.Op]
		if opSizePrefix {
			emit(0x66)
		}
		if e.LongMode {
			b := needsRex(dst)
			if w64 || b {
				emit(rexByte(w64, false, false, b))
			}
		}
		if imm, ok := asImm(in.Src); ok {
			emit(0xC1)
			modrm, _, _ := encodeModRM(digit, lowBits(dst), false, 0)
			emit(modrm)
			emit(byte(imm))
		} else {
			// variable shift count must already be in CL by convention.
			emit(0xD3)
			modrm, _, _ := encodeModRM(digit, lowBits(dst), false, 0)
			emit(modrm)
		}

	case ir.OpSetCC:
		// XOR dst,dst; SETcc dst_low8 — avoids AH/BH/CH/DH aliasing entirely.
		dst, _ := asReg(in.Dst)
		regReg(0x31, dst, dst, true) // XOR dst,dst (zeroes the whole register)
		op, err := condJccOpcode(ir.Cond(in.Cond))
		if err != nil {
			return nil, err
		}
		if e.LongMode && needsRex(dst) {
			emit(rexByte(false, false, false, true))
		} else if e.LongMode {
			emit(0x40) // force REX so SPL/BPL/SIL/DIL address the low byte, not AH-style aliasing
		}
		emit(0x0F, 0x90+(op&0x0F))
		modrm, _, _ := encodeModRM(0, lowBits(dst), false, 0)
		emit(modrm)

	case ir.OpCMovCC:
		dst, _ := asReg(in.Dst)
		src, _ := asReg(in.Src)
		op, err := condJccOpcode(ir.Cond(in.Cond))
		if err != nil {
			return nil, err
		}
		if e.LongMode {
			r := needsRex(dst)
			b := needsRex(src)
			if w64 || r || b {
				emit(rexByte(w64, r, false, b))
			}
		}
		emit(0x0F, 0x40+(op&0x0F))
		modrm, _, _ := encodeModRM(lowBits(dst), lowBits(src), false, 0)
		emit(modrm)

	case ir.OpJump, ir.OpCall:
		opcode := byte(0xE9)
		if in.Op == ir.OpCall {
			opcode = 0xE8
		}
		if e.W == W16 {
			// x86-16 near jmp/call rel16.
			emit(opcode)
			disp, derr := relDisp(in, pc, symbols, estimate, 1+2, 2)
			if derr != nil {
				return nil, derr
			}
			emit(le16(uint16(disp))...)
		} else {
			emit(opcode)
			disp, derr := relDisp(in, pc, symbols, estimate, 1+4, 4)
			if derr != nil {
				return nil, derr
			}
			emit(le32(uint32(disp))...)
		}

	case ir.OpBranch, ir.OpCBZ, ir.OpCBNZ:
		var op byte
		var err error
		switch in.Op {
		case ir.OpCBZ:
			op, err = condJccOpcode(ir.CondEQ)
		case ir.OpCBNZ:
			op, err = condJccOpcode(ir.CondNE)
		default:
			op, err = condJccOpcode(ir.Cond(in.Cond))
		}
		if err != nil {
			return nil, err
		}
		if in.Op != ir.OpBranch {
			// CBZ/CBNZ compare the tested register against zero first via
			// TEST reg,reg (85 /r), which sets ZF exactly when reg == 0.
			src, _ := asReg(in.Src)
			if opSizePrefix {
				emit(0x66)
			}
			if e.LongMode {
				b := needsRex(src)
				if w64 || b {
					emit(rexByte(w64, b, false, b))
				}
			}
			emit(0x85)
			modrm, _, _ := encodeModRM(lowBits(src), lowBits(src), false, 0)
			emit(modrm)
		}
		if e.W == W16 {
			emit(0x0F, op)
			disp, derr := relDisp(in, pc, symbols, estimate, int64(len(out))+4, 4)
			if derr != nil {
				return nil, derr
			}
			emit(le32(uint32(disp))...)
		} else {
			emit(0x0F, op)
			disp, derr := relDisp(in, pc, symbols, estimate, int64(len(out))+4, 4)
			if derr != nil {
				return nil, derr
			}
			emit(le32(uint32(disp))...)
		}

	case ir.OpCallIndirect:
		src, _ := asReg(in.Src)
		if e.LongMode {
			b := needsRex(src)
			if b {
				emit(rexByte(false, false, false, b))
			}
		}
		emit(0xFF)
		modrm, _, _ := encodeModRM(2, lowBits(src), false, 0)
		emit(modrm)

	case ir.OpRet:
		emit(0xC3)

	case ir.OpWrap:
		dst, _ := asReg(in.Dst)
		src, _ := asReg(in.Src)
		saved := e.W
		e.W = W32
		regReg(0x89, dst, src, true)
		e.W = saved

	case ir.OpExtendS32:
		dst, _ := asReg(in.Dst)
		src, _ := asReg(in.Src)
		if e.LongMode {
			r := needsRex(dst)
			b := needsRex(src)
			emit(rexByte(true, r, false, b))
			emit(0x63) // MOVSXD r64, r/m32
			modrm, _, _ := encodeModRM(lowBits(dst), lowBits(src), false, 0)
			emit(modrm)
		} else {
			regReg(0x89, dst, src, true)
		}

	case ir.OpExtendU32:
		dst, _ := asReg(in.Dst)
		src, _ := asReg(in.Src)
		saved := e.W
		e.W = W32
		regReg(0x89, dst, src, true) // plain 32-bit MOV zero-extends into the 64-bit register
		e.W = saved

	case ir.OpMemSize:
		dst, _ := asReg(in.Dst)
		if e.LongMode && w64 {
			emit(rexByte(true, false, false, needsRex(dst)))
			emit(0xB8 + lowBits(dst))
			emit(le64(0)...)
		} else {
			emit(0xB8 + lowBits(dst))
			emit(le32(0)...)
		}

	case ir.OpMemGrowFail:
		dst, _ := asReg(in.Dst)
		if e.LongMode && w64 {
			emit(rexByte(true, false, false, needsRex(dst)))
			emit(0xB8 + lowBits(dst))
			emit(le64(uint64(uint32(^uint32(0))))...) // -1 truncated to the instruction's load width below
		} else {
			emit(0xB8 + lowBits(dst))
			emit(le32(0xFFFFFFFF)...)
		}

	default:
		return nil, fmt.Errorf("x86 encoder: unsupported mnemonic %v", in.Op)
	}

	return out, nil
}

// relDisp resolves a LabelRef operand to a PC-relative displacement.
// prefixLen is the number of bytes already emitted before the displacement
// field (opcode(s) + any prefixes), used to compute "current address" as
// pc + prefixLen + fieldWidth (the x86 PC-relative convention: relative to
// the address of the NEXT instruction). During estimation (estimate=true)
// the returned value is always 0 (only its encoded width matters).
func relDisp(in *ir.Instr, pc uint64, symbols isa.SymbolTable, estimate bool, totalLen int64, fieldWidth int) (int64, error) {
	name, ok := asLabel(in.Dst)
	if !ok {
		return 0, fmt.Errorf("branch/call instruction missing a label operand")
	}
	if estimate {
		return 0, nil
	}
	target, ok := symbols[name]
	if !ok {
		return 0, diag.New(diag.UnresolvedLabel, "", "label %q not found in symbol table", name)
	}
	disp := int64(target) - (int64(pc) + totalLen)
	limit := int64(1) << uint(fieldWidth*8-1)
	if disp < -limit || disp >= limit {
		return 0, diag.New(diag.BranchOutOfRange, "", "branch displacement %d out of range for %d-bit field", disp, fieldWidth*8)
	}
	return disp, nil
}

// Size returns the byte length in will occupy once encoded — pass 1 of the
// two-pass assembler. Never consults pc/symbols.
func (e *Encoder) Size(in *ir.Instr) ([]byte, error) {
	return e.build(in, 0, nil, true)
}

// EncodeAt produces the final bytes for in at address pc, given the fully
// resolved symbol table — pass 2.
func (e *Encoder) EncodeAt(in *ir.Instr, pc uint64, symbols isa.SymbolTable) ([]byte, error) {
	return e.build(in, pc, symbols, false)
}
