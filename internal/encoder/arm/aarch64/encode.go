// Package aarch64 implements the AArch64 fixed-width encoder: every
// instruction is exactly 4 bytes, except OpLoadLabelAddr and 64-bit
// immediate loads which are always-fixed-size bundles of MOVZ/MOVK words
// (4 chunks), keeping the pass-1/pass-2 size agreement trivial. Opcode
// selection follows the same "dictionary of opcode -> encoder function"
// shape as the x86 and ARMv7 encoders, translated into direct bit-packing
// for A64's fixed-width instruction format.
package aarch64

import (
	"encoding/binary"
	"fmt"

	"github.com/wasmback/wasmback/internal/diag"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
)

// Register ids 0-30 are X0-X30 (W0-W30 in 32-bit form); 31 is the zero
// register (XZR/WZR) when used as a source, or SP when used as the base of
// a memory/stack-pointer instruction — AArch64 overloads encoding 31 this
// way and callers must pick the correct meaning from context, exactly as
// the ISA itself does.
const (
	X0 ir.Register = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29 // frame pointer (FP)
	X30 // link register (LR)
	ZRorSP = 31
)

type Encoder struct {
	Width64 bool // selects 32-bit (Wn) vs 64-bit (Xn) for width-sensitive ops; Width field on the ir.Instr chooses per-instruction when both are needed.
}

func asReg(o ir.Operand) ir.Register   { r, _ := o.(ir.Reg); return r.R }
func asImm(o ir.Operand) (int64, bool) { i, ok := o.(ir.Imm); return i.V, ok }
func asLabel(o ir.Operand) (string, bool) {
	l, ok := o.(ir.LabelRef)
	return l.Name, ok
}

func condBits(c ir.Cond) (uint32, error) {
	switch c {
	case ir.CondEQ:
		return 0x0, nil
	case ir.CondNE:
		return 0x1, nil
	case ir.CondGeU:
		return 0x2, nil // CS/HS
	case ir.CondLtU:
		return 0x3, nil // CC/LO
	case ir.CondGtS:
		return 0xC, nil
	case ir.CondLeS:
		return 0xD, nil
	case ir.CondGeS:
		return 0xA, nil
	case ir.CondLtS:
		return 0xB, nil
	case ir.CondGtU:
		return 0x8, nil // HI
	case ir.CondLeU:
		return 0x9, nil // LS
	default:
		return 0, fmt.Errorf("unsupported condition %d", c)
	}
}

func le(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// movImmBundle always emits exactly 4 32-bit words (MOVZ + 3x MOVK) for a
// 64-bit destination, or 2 words for a 32-bit destination, regardless of
// how many chunks of value are actually nonzero — a fixed-size encoding so
// EstimateSize and Encode never disagree for a value unknown until symbol
// resolution.
func movImmBundle(rd ir.Register, value uint64, is64 bool) []uint32 {
	chunks := 2
	if is64 {
		chunks = 4
	}
	out := make([]uint32, 0, chunks)
	for hw := 0; hw < chunks; hw++ {
		imm16 := uint32((value >> (16 * hw)) & 0xFFFF)
		var base uint32
		if hw == 0 {
			base = 0x52800000 // MOVZ (32-bit base)
		} else {
			base = 0x72800000 // MOVK (32-bit base)
		}
		if is64 {
			base |= 0x80000000
		}
		out = append(out, base|uint32(hw)<<21|imm16<<5|uint32(rd))
	}
	return out
}

func (e *Encoder) Size(in *ir.Instr) ([]byte, error) { return e.build(in, 0, nil, true) }
func (e *Encoder) EncodeAt(in *ir.Instr, pc uint64, symbols isa.SymbolTable) ([]byte, error) {
	return e.build(in, pc, symbols, false)
}

func (e *Encoder) build(in *ir.Instr, pc uint64, symbols isa.SymbolTable, estimate bool) ([]byte, error) {
	is64 := e.Width64

	switch in.Op {
	case ir.OpNop:
		return le(0xD503201F), nil
	case ir.OpBreakpoint:
		return le(0xD4200000), nil // BRK #0

	case ir.OpMov:
		dst := asReg(in.Dst)
		if _, ok := in.Src.(ir.Reg); ok {
			src := asReg(in.Src)
			op := uint32(0x2A0003E0) // ORR Wd, WZR, Wm (32-bit MOV alias)
			if is64 {
				op = 0xAA0003E0
			}
			return le(op | uint32(src)<<16 | uint32(dst)), nil
		}
		imm, _ := asImm(in.Src)
		return le(movImmBundle(dst, uint64(imm), is64)...), nil

	case ir.OpLoadLabelAddr:
		dst := asReg(in.Dst)
		name, ok := asLabel(in.Src)
		if !ok {
			return nil, fmt.Errorf("OpLoadLabelAddr requires a label operand")
		}
		var abs uint64
		if !estimate {
			off, ok := symbols[name]
			if !ok {
				return nil, diag.New(diag.UnresolvedLabel, "", "label %q not found in symbol table", name)
			}
			abs = symbols["$base"] + off
		}
		return le(movImmBundle(dst, abs, true)...), nil // addresses are always 64-bit internally

	case ir.OpLoad:
		dst := asReg(in.Dst)
		mem, _ := in.Src.(ir.Mem)
		op := uint32(0xB9400000) // LDR Wt, [Xn, #imm12*4]
		scale := uint32(4)
		if is64 {
			op = 0xF9400000
			scale = 8
		}
		if mem.Offset%int32(scale) != 0 || mem.Offset < 0 || uint32(mem.Offset)/scale > 0xFFF {
			return nil, fmt.Errorf("LDR immediate offset %d not encodable (scale %d)", mem.Offset, scale)
		}
		imm12 := uint32(mem.Offset) / scale
		return le(op | imm12<<10 | uint32(mem.Base)<<5 | uint32(dst)), nil

	case ir.OpStore:
		mem, _ := in.Dst.(ir.Mem)
		src := asReg(in.Src)
		op := uint32(0xB9000000)
		scale := uint32(4)
		if is64 {
			op = 0xF9000000
			scale = 8
		}
		if mem.Offset%int32(scale) != 0 || mem.Offset < 0 || uint32(mem.Offset)/scale > 0xFFF {
			return nil, fmt.Errorf("STR immediate offset %d not encodable (scale %d)", mem.Offset, scale)
		}
		imm12 := uint32(mem.Offset) / scale
		return le(op | imm12<<10 | uint32(mem.Base)<<5 | uint32(src)), nil

	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpCmp:
		dst := asReg(in.Dst)
		var rm ir.Register
		var pre []uint32
		if imm, ok := asImm(in.Src); ok {
			// Values here come from already-known constants (not labels),
			// so the fixed-size scratch-register fallback never varies
			// between estimate and encode for a given instruction.
			rm = 16 // X16/W16: IP0, never allocated by the virtual-stack bank or ABI roles
			pre = movImmBundle(rm, uint64(imm), is64)
		} else {
			rm = asReg(in.Src)
		}
		var op uint32
		rd := dst
		switch in.Op {
		case ir.OpAdd:
			op = 0x0B000000
		case ir.OpSub:
			op = 0x4B000000
		case ir.OpAnd:
			op = 0x0A000000
		case ir.OpOr:
			op = 0x2A000000
		case ir.OpXor:
			op = 0x4A000000
		case ir.OpCmp:
			op = 0x6B000000 // SUBS, Rd=ZR
			rd = ZRorSP
		}
		if is64 {
			op |= 0x80000000
		}
		word := op | uint32(rm)<<16 | uint32(dst)<<5 | uint32(rd)
		return le(append(pre, word)...), nil

	case ir.OpMul:
		dst, rm := asReg(in.Dst), asReg(in.Src)
		op := uint32(0x1B007C00)
		if is64 {
			op = 0x9B007C00
		}
		return le(op | uint32(rm)<<16 | uint32(dst)<<5 | uint32(dst)), nil

	case ir.OpDivS, ir.OpDivU:
		dst, rm := asReg(in.Dst), asReg(in.Src)
		op := uint32(0x1AC00C00) // SDIV 32-bit
		if in.Op == ir.OpDivU {
			op = 0x1AC00800
		}
		if is64 {
			op |= 0x80000000
		}
		return le(op | uint32(rm)<<16 | uint32(dst)<<5 | uint32(dst)), nil

	case ir.OpRemS, ir.OpRemU:
		return nil, fmt.Errorf("OpRemS/OpRemU must be lowered via OpDivS/OpDivU + MSUB by the function lowerer")

	case ir.OpNeg:
		dst := asReg(in.Dst)
		op := uint32(0x4B0003E0) // SUB Wd, WZR, Wn
		if is64 {
			op = 0xCB0003E0
		}
		return le(op | uint32(dst)<<16 | uint32(dst)), nil

	case ir.OpShl, ir.OpShrS, ir.OpShrU:
		dst := asReg(in.Dst)
		var rm ir.Register
		var pre []uint32
		if imm, ok := asImm(in.Src); ok {
			rm = 16
			pre = movImmBundle(rm, uint64(imm), is64)
		} else {
			rm = asReg(in.Src)
		}
		op := map[ir.Mnemonic]uint32{ir.OpShl: 0x1AC02000, ir.OpShrU: 0x1AC02400, ir.OpShrS: 0x1AC02800}[in.Op]
		if is64 {
			op |= 0x80000000
		}
		word := op | uint32(rm)<<16 | uint32(dst)<<5 | uint32(dst)
		return le(append(pre, word)...), nil

	case ir.OpSetCC:
		dst := asReg(in.Dst)
		c, err := condBits(ir.Cond(in.Cond))
		if err != nil {
			return nil, err
		}
		// CSET Wd, cond == CSINC Wd, WZR, WZR, invert(cond).
		op := uint32(0x1A9F07E0)
		if is64 {
			op = 0x9A9F07E0
		}
		return le(op | invertCond(c)<<12 | uint32(dst)), nil

	case ir.OpCMovCC:
		dst, src := asReg(in.Dst), asReg(in.Src)
		c, err := condBits(ir.Cond(in.Cond))
		if err != nil {
			return nil, err
		}
		// CSEL Wd, Wn(=src, selected when cond holds), Wm(=dst, else-value), cond
		op := uint32(0x1A800000)
		if is64 {
			op = 0x9A800000
		}
		return le(op | uint32(dst)<<16 | c<<12 | uint32(src)<<5 | uint32(dst)), nil

	case ir.OpJump, ir.OpCall:
		name, ok := asLabel(in.Dst)
		if !ok {
			return nil, fmt.Errorf("missing label operand")
		}
		base := uint32(0x14000000)
		if in.Op == ir.OpCall {
			base = 0x94000000
		}
		imm26, err := branchImm(name, pc, symbols, estimate, 26, 4)
		if err != nil {
			return nil, err
		}
		return le(base | imm26), nil

	case ir.OpBranch:
		name, _ := asLabel(in.Dst)
		c, err := condBits(ir.Cond(in.Cond))
		if err != nil {
			return nil, err
		}
		imm19, err := branchImm(name, pc, symbols, estimate, 19, 4)
		if err != nil {
			return nil, err
		}
		return le(0x54000000 | imm19<<5 | c), nil

	case ir.OpCBZ, ir.OpCBNZ:
		name, _ := asLabel(in.Dst)
		src := asReg(in.Src)
		op := uint32(0x34000000)
		if in.Op == ir.OpCBNZ {
			op = 0x35000000
		}
		if is64 {
			op |= 0x80000000
		}
		imm19, err := branchImm(name, pc, symbols, estimate, 19, 4)
		if err != nil {
			return nil, err
		}
		return le(op | imm19<<5 | uint32(src)), nil

	case ir.OpCallIndirect:
		src := asReg(in.Src)
		return le(0xD63F0000 | uint32(src)<<5), nil

	case ir.OpRet:
		return le(0xD65F0000 | uint32(X30)<<5), nil

	case ir.OpWrap:
		dst, src := asReg(in.Dst), asReg(in.Src)
		return le(0x2A0003E0 | uint32(src)<<16 | uint32(dst)), nil // 32-bit MOV: truncates

	case ir.OpExtendS32:
		dst, src := asReg(in.Dst), asReg(in.Src)
		return le(0x93407C00 | uint32(src)<<5 | uint32(dst)), nil // SXTW Xd, Wn

	case ir.OpExtendU32:
		dst, src := asReg(in.Dst), asReg(in.Src)
		return le(0x2A0003E0 | uint32(src)<<16 | uint32(dst)), nil // 32-bit MOV zero-extends

	case ir.OpMemSize:
		dst := asReg(in.Dst)
		return le(movImmBundle(dst, 0, is64)...), nil

	case ir.OpMemGrowFail:
		dst := asReg(in.Dst)
		return le(movImmBundle(dst, ^uint64(0), is64)...), nil

	default:
		return nil, fmt.Errorf("aarch64 encoder: unsupported mnemonic %v", in.Op)
	}
}

func invertCond(c uint32) uint32 { return c ^ 1 }

func branchImm(name string, pc uint64, symbols isa.SymbolTable, estimate bool, fieldBits int, quantum int64) (uint32, error) {
	if estimate {
		return 0, nil
	}
	target, ok := symbols[name]
	if !ok {
		return 0, diag.New(diag.UnresolvedLabel, "", "label %q not found in symbol table", name)
	}
	disp := int64(target) - int64(pc) // AArch64 pipeline offset is 0
	if disp%quantum != 0 {
		return 0, fmt.Errorf("branch displacement %d not a multiple of %d", disp, quantum)
	}
	scaled := disp / quantum
	limit := int64(1) << uint(fieldBits-1)
	if scaled < -limit || scaled >= limit {
		return 0, diag.New(diag.BranchOutOfRange, "", "branch displacement %d out of range for %d-bit field", disp, fieldBits)
	}
	mask := uint32(1)<<uint(fieldBits) - 1
	return uint32(scaled) & mask, nil
}
