// Package armv7 implements the ARMv7 (32-bit ARM, A32 encoding) fixed-width
// encoder. Every instruction is exactly 4 bytes except an immediate MOV
// that cannot be expressed as an 8-bit-rotated modified immediate, which
// always falls back to a fixed MOVW+MOVT pair (8 bytes) rather than a
// variable-size literal-pool load, keeping pass 1 and pass 2 in byte
// agreement without end-of-function pool placement. Instruction selection
// follows the same opcode-dictionary approach (one function per
// instruction shape) used by the x86 and AArch64 encoders.
package armv7

import (
	"encoding/binary"
	"fmt"

	"github.com/wasmback/wasmback/internal/diag"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
)

const (
	R0 ir.Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11 // frame pointer (FP)
	R12 // IP, scratch
	R13 // SP
	R14 // LR
	R15 // PC
)

const condAL = 0xE

type Encoder struct{}

func le(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func asReg(o ir.Operand) ir.Register   { r, _ := o.(ir.Reg); return r.R }
func asImm(o ir.Operand) (int64, bool) { i, ok := o.(ir.Imm); return i.V, ok }
func asLabel(o ir.Operand) (string, bool) {
	l, ok := o.(ir.LabelRef)
	return l.Name, ok
}

func rotl32(v uint32, n uint) uint32 { n &= 31; return (v << n) | (v >> (32 - n)) }

// findModifiedImmediate searches for an 8-bit value and an even rotation
// (0..30) such that ROR(imm8, rotation) == value, the standard ARM
// data-processing modified-immediate search.
func findModifiedImmediate(value uint32) (imm8 uint32, rot4 uint32, ok bool) {
	for r := uint(0); r < 32; r += 2 {
		cand := rotl32(value, r)
		if cand <= 0xFF {
			return cand, uint32(r / 2), true
		}
	}
	return 0, 0, false
}

func condBits(c ir.Cond) (uint32, error) {
	switch c {
	case ir.CondEQ:
		return 0x0, nil
	case ir.CondNE:
		return 0x1, nil
	case ir.CondGeU:
		return 0x2, nil
	case ir.CondLtU:
		return 0x3, nil
	case ir.CondGtS:
		return 0xC, nil
	case ir.CondLeS:
		return 0xD, nil
	case ir.CondGeS:
		return 0xA, nil
	case ir.CondLtS:
		return 0xB, nil
	case ir.CondGtU:
		return 0x8, nil
	case ir.CondLeU:
		return 0x9, nil
	default:
		return 0, fmt.Errorf("unsupported condition %d", c)
	}
}

func (e *Encoder) Size(in *ir.Instr) ([]byte, error) { return e.build(in, 0, nil, true) }
func (e *Encoder) EncodeAt(in *ir.Instr, pc uint64, symbols isa.SymbolTable) ([]byte, error) {
	return e.build(in, pc, symbols, false)
}

// movImmWords emits the fixed-size MOVW+MOVT pair unconditionally: used for
// every OpLoadLabelAddr (value unknown at estimate time) so EstimateSize and
// Encode always agree.
func movImmWords(rd ir.Register, value uint32) []uint32 {
	lo := value & 0xFFFF
	hi := (value >> 16) & 0xFFFF
	movw := uint32(condAL)<<28 | 0x03000000 | (lo>>12)<<16 | uint32(rd)<<12 | (lo & 0xFFF)
	movt := uint32(condAL)<<28 | 0x03400000 | (hi>>12)<<16 | uint32(rd)<<12 | (hi & 0xFFF)
	return []uint32{movw, movt}
}

func (e *Encoder) build(in *ir.Instr, pc uint64, symbols isa.SymbolTable, estimate bool) ([]byte, error) {
	switch in.Op {
	case ir.OpNop:
		return le(uint32(condAL)<<28 | 0x0320F000), nil // MOV r0,r0 idiom
	case ir.OpBreakpoint:
		return le(0xE1200070), nil // BKPT #0

	case ir.OpMov:
		dst := asReg(in.Dst)
		if _, ok := in.Src.(ir.Reg); ok {
			src := asReg(in.Src)
			return le(uint32(condAL)<<28 | 0x01A00000 | uint32(dst)<<12 | uint32(src)), nil
		}
		imm, _ := asImm(in.Src)
		if imm8, rot4, ok := findModifiedImmediate(uint32(imm)); ok {
			return le(uint32(condAL)<<28 | 0x03A00000 | uint32(dst)<<12 | rot4<<8 | imm8), nil
		}
		return le(movImmWords(dst, uint32(imm))...), nil

	case ir.OpLoadLabelAddr:
		dst := asReg(in.Dst)
		name, ok := asLabel(in.Src)
		if !ok {
			return nil, fmt.Errorf("OpLoadLabelAddr requires a label operand")
		}
		var abs uint32
		if !estimate {
			off, ok := symbols[name]
			if !ok {
				return nil, diag.New(diag.UnresolvedLabel, "", "label %q not found in symbol table", name)
			}
			abs = uint32(symbols["$base"] + off)
		}
		return le(movImmWords(dst, abs)...), nil

	case ir.OpLoad:
		dst := asReg(in.Dst)
		mem, _ := in.Src.(ir.Mem)
		u := uint32(1)
		off := mem.Offset
		if off < 0 {
			u, off = 0, -off
		}
		if off > 0xFFF {
			return nil, fmt.Errorf("LDR immediate offset %d out of range", mem.Offset)
		}
		return le(uint32(condAL)<<28 | 0x05100000 | u<<23 | uint32(mem.Base)<<16 | uint32(dst)<<12 | uint32(off)), nil

	case ir.OpStore:
		mem, _ := in.Dst.(ir.Mem)
		src := asReg(in.Src)
		u := uint32(1)
		off := mem.Offset
		if off < 0 {
			u, off = 0, -off
		}
		if off > 0xFFF {
			return nil, fmt.Errorf("STR immediate offset %d out of range", mem.Offset)
		}
		return le(uint32(condAL)<<28 | 0x05000000 | u<<23 | uint32(mem.Base)<<16 | uint32(src)<<12 | uint32(off)), nil

	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpCmp:
		dst := asReg(in.Dst)
		opcodeBits := map[ir.Mnemonic]uint32{
			ir.OpAdd: 0x4, ir.OpSub: 0x2, ir.OpAnd: 0x0, ir.OpOr: 0xC, ir.OpXor: 0x1, ir.OpCmp: 0xA,
		}[in.Op]
		s := uint32(0)
		rd := dst
		if in.Op == ir.OpCmp {
			s = 1
			rd = 0 // Rd field is SBZ for CMP
		}
		if imm, ok := asImm(in.Src); ok {
			imm8, rot4, ok := findModifiedImmediate(uint32(imm))
			if !ok {
				return nil, fmt.Errorf("immediate %d not representable as ARM modified immediate", imm)
			}
			return le(uint32(condAL)<<28 | 0x02000000 | opcodeBits<<21 | s<<20 | uint32(dst)<<16 | uint32(rd)<<12 | rot4<<8 | imm8), nil
		}
		rm := asReg(in.Src)
		return le(uint32(condAL)<<28 | 0x00000000 | opcodeBits<<21 | s<<20 | uint32(dst)<<16 | uint32(rd)<<12 | uint32(rm)), nil

	case ir.OpMul:
		dst, rm := asReg(in.Dst), asReg(in.Src)
		return le(uint32(condAL)<<28 | 0x00000090 | uint32(dst)<<16 | uint32(rm)<<8 | uint32(dst)), nil

	case ir.OpDivS, ir.OpDivU:
		dst, rm := asReg(in.Dst), asReg(in.Src)
		base := uint32(0x0710F010) // SDIV Rd, Rd, Rm; requires the integer-divide extension
		if in.Op == ir.OpDivU {
			base = 0x0730F010
		}
		return le(uint32(condAL)<<28 | base | uint32(dst)<<16 | uint32(rm)<<8 | uint32(dst)), nil

	case ir.OpRemS, ir.OpRemU:
		return nil, fmt.Errorf("OpRemS/OpRemU must be lowered via div + MLS by the function lowerer")

	case ir.OpNeg:
		dst := asReg(in.Dst)
		return le(uint32(condAL)<<28 | 0x02600000 | uint32(dst)<<16 | uint32(dst)<<12), nil // RSB Rd, Rd, #0

	case ir.OpShl, ir.OpShrS, ir.OpShrU:
		dst := asReg(in.Dst)
		shiftType := map[ir.Mnemonic]uint32{ir.OpShl: 0x0, ir.OpShrU: 0x1, ir.OpShrS: 0x2}[in.Op]
		if imm, ok := asImm(in.Src); ok {
			if imm < 0 || imm > 31 {
				return nil, fmt.Errorf("shift amount %d out of range", imm)
			}
			return le(uint32(condAL)<<28 | 0x01A00000 | uint32(dst)<<12 | uint32(imm)<<7 | shiftType<<5 | uint32(dst)), nil
		}
		rs := asReg(in.Src)
		return le(uint32(condAL)<<28 | 0x01A00010 | uint32(dst)<<12 | uint32(rs)<<8 | shiftType<<5 | uint32(dst)), nil

	case ir.OpSetCC:
		dst := asReg(in.Dst)
		c, err := condBits(ir.Cond(in.Cond))
		if err != nil {
			return nil, err
		}
		nc := c ^ 1
		movTrue := c<<28 | 0x03A00001 | uint32(dst)<<12
		movFalse := nc<<28 | 0x03A00000 | uint32(dst)<<12
		return le(movTrue, movFalse), nil

	case ir.OpCMovCC:
		dst, src := asReg(in.Dst), asReg(in.Src)
		c, err := condBits(ir.Cond(in.Cond))
		if err != nil {
			return nil, err
		}
		return le(c<<28 | 0x01A00000 | uint32(dst)<<12 | uint32(src)), nil // MOV<cond> Rd, Rm

	case ir.OpJump, ir.OpCall:
		name, ok := asLabel(in.Dst)
		if !ok {
			return nil, fmt.Errorf("missing label operand")
		}
		link := uint32(0)
		if in.Op == ir.OpCall {
			link = 1 << 24
		}
		imm24, err := branchImm24(name, pc, symbols, estimate)
		if err != nil {
			return nil, err
		}
		return le(uint32(condAL)<<28 | 0x0A000000 | link | imm24), nil

	case ir.OpBranch:
		name, _ := asLabel(in.Dst)
		c, err := condBits(ir.Cond(in.Cond))
		if err != nil {
			return nil, err
		}
		imm24, err := branchImm24(name, pc, symbols, estimate)
		if err != nil {
			return nil, err
		}
		return le(c<<28 | 0x0A000000 | imm24), nil

	case ir.OpCBZ, ir.OpCBNZ:
		name, _ := asLabel(in.Dst)
		src := asReg(in.Src)
		cmp := uint32(condAL)<<28 | 0x03500000 | uint32(src)<<16 // CMP Rn, #0
		cond := uint32(0x0)                                      // EQ
		if in.Op == ir.OpCBNZ {
			cond = 0x1 // NE
		}
		imm24, err := branchImm24(name, pc+4, symbols, estimate)
		if err != nil {
			return nil, err
		}
		branch := cond<<28 | 0x0A000000 | imm24
		return le(cmp, branch), nil

	case ir.OpCallIndirect:
		src := asReg(in.Src)
		return le(uint32(condAL)<<28 | 0x012FFF30 | uint32(src)), nil // BLX Rm

	case ir.OpRet:
		return le(uint32(condAL)<<28 | 0x012FFF10 | uint32(R14)), nil // BX LR

	case ir.OpWrap, ir.OpExtendU32:
		dst, src := asReg(in.Dst), asReg(in.Src)
		return le(uint32(condAL)<<28 | 0x01A00000 | uint32(dst)<<12 | uint32(src)), nil // MOV Rd, Rm

	case ir.OpExtendS32:
		dst, src := asReg(in.Dst), asReg(in.Src)
		return le(uint32(condAL)<<28 | 0x01A00000 | uint32(dst)<<12 | uint32(src)), nil // same slot width, value already sign-correct

	case ir.OpMemSize:
		dst := asReg(in.Dst)
		return le(uint32(condAL)<<28 | 0x03A00000 | uint32(dst)<<12), nil // MOV Rd, #0

	case ir.OpMemGrowFail:
		dst := asReg(in.Dst)
		return le(uint32(condAL)<<28 | 0x03E00000 | uint32(dst)<<12), nil // MVN Rd, #0 -> Rd = -1

	default:
		return nil, fmt.Errorf("armv7 encoder: unsupported mnemonic %v", in.Op)
	}
}

func branchImm24(name string, pc uint64, symbols isa.SymbolTable, estimate bool) (uint32, error) {
	if estimate {
		return 0, nil
	}
	target, ok := symbols[name]
	if !ok {
		return 0, diag.New(diag.UnresolvedLabel, "", "label %q not found in symbol table", name)
	}
	disp := int64(target) - int64(pc) - 8 // ARM pipeline offset: PC reads as instr addr + 8
	if disp%4 != 0 {
		return 0, fmt.Errorf("branch displacement %d not word-aligned", disp)
	}
	scaled := disp / 4
	const limit = 1 << 23
	if scaled < -limit || scaled >= limit {
		return 0, diag.New(diag.BranchOutOfRange, "", "branch displacement %d out of range for 24-bit field", disp)
	}
	return uint32(scaled) & 0xFFFFFF, nil
}
