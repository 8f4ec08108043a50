package funclower

import (
	"fmt"

	"github.com/wasmback/wasmback/internal/ctrlflow"
	"github.com/wasmback/wasmback/internal/diag"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/vstack"
	"github.com/wasmback/wasmback/internal/wat"
)

// materialize loads slot's value into a register, using fallback as scratch
// space if slot is spilled. Returns the register the value now lives in.
func materialize(s *state, slot vstack.Slot, fallback ir.Register) ir.Register {
	if slot.InReg {
		return slot.Reg
	}
	s.fn.Emit(&ir.Instr{Op: ir.OpLoad, Dst: ir.Reg{R: fallback}, Src: ir.Mem{Base: s.abi.StackPointer, Offset: spillMemOffset(s.layout, slot, s.abi)}})
	return fallback
}

// storeResult writes reg's value into slot's final location: a no-op when
// slot is already that exact register, a move when slot is a different
// register, and a store to the spill area when slot is spilled.
func storeResult(s *state, slot vstack.Slot, reg ir.Register) {
	if slot.InReg {
		if slot.Reg != reg {
			s.fn.Emit(&ir.Instr{Op: ir.OpMov, Dst: ir.Reg{R: slot.Reg}, Src: ir.Reg{R: reg}})
		}
		return
	}
	s.fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: s.abi.StackPointer, Offset: spillMemOffset(s.layout, slot, s.abi)}, Src: ir.Reg{R: reg}})
}

// addressScratch picks a register to hold a computed address, avoiding busy
// (the register already holding the value a global access is loading or
// storing). When the scratch register is busy, the memory-base register is
// borrowed instead — always safe since it is trivially recomputable via
// restoreMembase, never needing to be saved first.
func addressScratch(s *state, busy ir.Register) (reg ir.Register, borrowed bool) {
	if busy != s.abi.ScratchRegister {
		return s.abi.ScratchRegister, false
	}
	return s.abi.MemoryBaseRegister, true
}

func restoreMembase(s *state) {
	s.fn.Emit(&ir.Instr{Op: ir.OpLoadLabelAddr, Dst: ir.Reg{R: s.abi.MemoryBaseRegister}, Src: ir.LabelRef{Name: s.mod.MemoryBase}})
}

func globalLabel(g *wat.Global) string { return "$global_" + g.Name }

// binaryCond maps a WAT comparison op to its ir.Cond selector.
func binaryCond(op wat.Op) (ir.Cond, bool) {
	switch op {
	case wat.OpEq:
		return ir.CondEQ, true
	case wat.OpNe:
		return ir.CondNE, true
	case wat.OpLtS:
		return ir.CondLtS, true
	case wat.OpLtU:
		return ir.CondLtU, true
	case wat.OpGtS:
		return ir.CondGtS, true
	case wat.OpGtU:
		return ir.CondGtU, true
	case wat.OpLeS:
		return ir.CondLeS, true
	case wat.OpLeU:
		return ir.CondLeU, true
	case wat.OpGeS:
		return ir.CondGeS, true
	case wat.OpGeU:
		return ir.CondGeU, true
	default:
		return ir.CondNone, false
	}
}

func arithOp(op wat.Op) (ir.Mnemonic, bool) {
	switch op {
	case wat.OpAdd:
		return ir.OpAdd, true
	case wat.OpSub:
		return ir.OpSub, true
	case wat.OpMul:
		return ir.OpMul, true
	case wat.OpDivS:
		return ir.OpDivS, true
	case wat.OpDivU:
		return ir.OpDivU, true
	case wat.OpAnd:
		return ir.OpAnd, true
	case wat.OpOr:
		return ir.OpOr, true
	case wat.OpXor:
		return ir.OpXor, true
	case wat.OpShl:
		return ir.OpShl, true
	case wat.OpShrS:
		return ir.OpShrS, true
	case wat.OpShrU:
		return ir.OpShrU, true
	default:
		return 0, false
	}
}

// popPairMaterialized pops the top two stack values (rhs above lhs) and
// materializes both into registers, returning a register the final result
// must be written to via storeResult against the Push()'d slot that
// follows — by vstack's depth arithmetic, popping two and pushing one
// always yields lhs's original slot back, so lhsReg IS already where the
// result belongs whenever lhs was already in a register.
func popPairMaterialized(s *state) (lhsReg, rhsReg ir.Register, err error) {
	lhsSlot, rhsSlot, e := s.vs.Pop2()
	if e != nil {
		return 0, 0, e
	}
	rhsSpilled := !rhsSlot.InReg
	rhsReg = materialize(s, rhsSlot, s.abi.ScratchRegister)
	if lhsSlot.InReg {
		lhsReg = lhsSlot.Reg
		return lhsReg, rhsReg, nil
	}
	if rhsSpilled {
		return 0, 0, fmt.Errorf("function %q: expression nesting exceeds this backend's register budget (both operands spilled simultaneously)", s.wfn.Name)
	}
	lhsReg = materialize(s, lhsSlot, s.abi.ScratchRegister)
	return lhsReg, rhsReg, nil
}

func lowerInstrs(s *state, body []wat.Instr) error {
	var elseSeen []bool

	for _, in := range body {
		switch {
		case in.Op == wat.OpUnreachable:
			s.fn.Emit(&ir.Instr{Op: ir.OpBreakpoint})

		case in.Op == wat.OpNop:
			s.fn.Emit(&ir.Instr{Op: ir.OpNop})

		case in.Op == wat.OpDrop:
			if _, err := s.vs.Pop(); err != nil {
				return wrapErr(s, err)
			}

		case in.Op == wat.OpSelect:
			condSlot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			falseSlot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			trueSlot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			condReg := materialize(s, condSlot, s.abi.ScratchRegister)
			falseReg := materialize(s, falseSlot, s.abi.ScratchRegister)
			var trueReg ir.Register
			if trueSlot.InReg {
				trueReg = trueSlot.Reg
			} else if falseSlot.InReg || condSlot.InReg {
				return wrapErr(s, fmt.Errorf("select: insufficient scratch registers for this operand combination"))
			} else {
				trueReg = materialize(s, trueSlot, s.abi.ScratchRegister)
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpCmp, Dst: ir.Reg{R: condReg}, Src: ir.Imm{V: 0}})
			s.fn.Emit(&ir.Instr{Op: ir.OpCMovCC, Dst: ir.Reg{R: trueReg}, Src: ir.Reg{R: falseReg}, Cond: int8(ir.CondEQ)})
			resultSlot := s.vs.Push()
			storeResult(s, resultSlot, trueReg)

		case in.Op == wat.OpConst:
			resultSlot := s.vs.Push()
			reg := resultSlot.Reg
			if !resultSlot.InReg {
				reg = s.abi.ScratchRegister
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpMov, Dst: ir.Reg{R: reg}, Src: ir.Imm{V: in.ConstI64}})
			storeResult(s, resultSlot, reg)

		case in.Op == wat.OpLocalGet:
			resultSlot := s.vs.Push()
			reg := resultSlot.Reg
			if !resultSlot.InReg {
				reg = s.abi.ScratchRegister
			}
			off := localOffset(s.layout, int(in.Index), s.abi)
			s.fn.Emit(&ir.Instr{Op: ir.OpLoad, Dst: ir.Reg{R: reg}, Src: ir.Mem{Base: s.abi.StackPointer, Offset: off}})
			storeResult(s, resultSlot, reg)

		case in.Op == wat.OpLocalSet || in.Op == wat.OpLocalTee:
			slot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			reg := materialize(s, slot, s.abi.ScratchRegister)
			off := localOffset(s.layout, int(in.Index), s.abi)
			s.fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: s.abi.StackPointer, Offset: off}, Src: ir.Reg{R: reg}})
			if in.Op == wat.OpLocalTee {
				resultSlot := s.vs.Push()
				storeResult(s, resultSlot, reg)
			}

		case in.Op == wat.OpGlobalGet:
			g := &s.mod.Globals[in.Index]
			resultSlot := s.vs.Push()
			valReg := resultSlot.Reg
			if !resultSlot.InReg {
				valReg = s.abi.ScratchRegister
			}
			addrReg, borrowed := addressScratch(s, valReg)
			s.fn.Emit(&ir.Instr{Op: ir.OpLoadLabelAddr, Dst: ir.Reg{R: addrReg}, Src: ir.LabelRef{Name: globalLabel(g)}})
			s.fn.Emit(&ir.Instr{Op: ir.OpLoad, Dst: ir.Reg{R: valReg}, Src: ir.Mem{Base: addrReg, Offset: 0}})
			if borrowed {
				restoreMembase(s)
			}
			storeResult(s, resultSlot, valReg)

		case in.Op == wat.OpGlobalSet:
			slot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			g := &s.mod.Globals[in.Index]
			valReg := materialize(s, slot, s.abi.ScratchRegister)
			addrReg, borrowed := addressScratch(s, valReg)
			s.fn.Emit(&ir.Instr{Op: ir.OpLoadLabelAddr, Dst: ir.Reg{R: addrReg}, Src: ir.LabelRef{Name: globalLabel(g)}})
			s.fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: addrReg, Offset: 0}, Src: ir.Reg{R: valReg}})
			if borrowed {
				restoreMembase(s)
			}

		case in.Op == wat.OpLoad:
			addrSlot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			addrReg := materialize(s, addrSlot, s.abi.ScratchRegister)
			s.fn.Emit(&ir.Instr{Op: ir.OpAdd, Dst: ir.Reg{R: addrReg}, Src: ir.Reg{R: s.abi.MemoryBaseRegister}})
			resultSlot := s.vs.Push()
			s.fn.Emit(&ir.Instr{Op: ir.OpLoad, Dst: ir.Reg{R: addrReg}, Src: ir.Mem{Base: addrReg, Offset: int32(in.Offset)}})
			storeResult(s, resultSlot, addrReg)

		case in.Op == wat.OpStore:
			valSlot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			addrSlot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			valSpilled := !valSlot.InReg
			valReg := materialize(s, valSlot, s.abi.ScratchRegister)
			var addrReg ir.Register
			if addrSlot.InReg {
				addrReg = addrSlot.Reg
			} else if valSpilled {
				return wrapErr(s, fmt.Errorf("store: both address and value spilled simultaneously"))
			} else {
				addrReg = materialize(s, addrSlot, s.abi.ScratchRegister)
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpAdd, Dst: ir.Reg{R: addrReg}, Src: ir.Reg{R: s.abi.MemoryBaseRegister}})
			s.fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: addrReg, Offset: int32(in.Offset)}, Src: ir.Reg{R: valReg}})

		case in.Op == wat.OpMemorySize:
			resultSlot := s.vs.Push()
			reg := resultSlot.Reg
			if !resultSlot.InReg {
				reg = s.abi.ScratchRegister
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpMemSize, Dst: ir.Reg{R: reg}})
			storeResult(s, resultSlot, reg)

		case in.Op == wat.OpMemoryGrow:
			if _, err := s.vs.Pop(); err != nil { // the requested delta; this backend always reports failure
				return wrapErr(s, err)
			}
			resultSlot := s.vs.Push()
			reg := resultSlot.Reg
			if !resultSlot.InReg {
				reg = s.abi.ScratchRegister
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpMemGrowFail, Dst: ir.Reg{R: reg}})
			storeResult(s, resultSlot, reg)

		case in.Op == wat.OpEqz:
			slot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			reg := materialize(s, slot, s.abi.ScratchRegister)
			s.fn.Emit(&ir.Instr{Op: ir.OpCmp, Dst: ir.Reg{R: reg}, Src: ir.Imm{V: 0}})
			resultSlot := s.vs.Push()
			resReg := reg
			if resultSlot.InReg {
				resReg = resultSlot.Reg
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpSetCC, Dst: ir.Reg{R: resReg}, Cond: int8(ir.CondEQ)})
			storeResult(s, resultSlot, resReg)

		case in.Op == wat.OpNeg:
			slot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			reg := materialize(s, slot, s.abi.ScratchRegister)
			s.fn.Emit(&ir.Instr{Op: ir.OpNeg, Dst: ir.Reg{R: reg}})
			resultSlot := s.vs.Push()
			storeResult(s, resultSlot, reg)

		case in.Op == wat.OpWrap || in.Op == wat.OpExtendSI32 || in.Op == wat.OpExtendUI32:
			slot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			reg := materialize(s, slot, s.abi.ScratchRegister)
			op := map[wat.Op]ir.Mnemonic{wat.OpWrap: ir.OpWrap, wat.OpExtendSI32: ir.OpExtendS32, wat.OpExtendUI32: ir.OpExtendU32}[in.Op]
			s.fn.Emit(&ir.Instr{Op: op, Dst: ir.Reg{R: reg}, Src: ir.Reg{R: reg}})
			resultSlot := s.vs.Push()
			storeResult(s, resultSlot, reg)

		case isBinaryArith(in.Op):
			op, _ := arithOp(in.Op)
			lhsReg, rhsReg, err := popPairMaterialized(s)
			if err != nil {
				return wrapErr(s, err)
			}
			s.fn.Emit(&ir.Instr{Op: op, Dst: ir.Reg{R: lhsReg}, Src: ir.Reg{R: rhsReg}})
			resultSlot := s.vs.Push()
			storeResult(s, resultSlot, lhsReg)

		case in.Op == wat.OpRemS || in.Op == wat.OpRemU:
			// Lowered via the matching divide, then the ISA-specific
			// remainder-extraction pattern (div's remainder register on
			// x86, MSUB/MLS on ARM) is the function lowerer's job on a
			// per-instruction basis; this backend models it uniformly by
			// encoding the divide and trusting the target descriptor's
			// OpDivS/OpDivU contract to also leave the remainder available
			// via a second narrow instruction pair the caller never sees:
			// to keep the IR target-independent, remainder is computed as
			// lhs - (lhs/rhs)*rhs, three shared-vocabulary instructions.
			lhsReg, rhsReg, err := popPairMaterialized(s)
			if err != nil {
				return wrapErr(s, err)
			}
			quotOp := ir.OpDivS
			if in.Op == wat.OpRemU {
				quotOp = ir.OpDivU
			}
			resultSlot := s.vs.Push()
			tmp := s.abi.ScratchRegister
			if tmp == lhsReg || tmp == rhsReg {
				tmp = s.abi.MemoryBaseRegister
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpMov, Dst: ir.Reg{R: tmp}, Src: ir.Reg{R: lhsReg}})
			s.fn.Emit(&ir.Instr{Op: quotOp, Dst: ir.Reg{R: tmp}, Src: ir.Reg{R: rhsReg}})
			s.fn.Emit(&ir.Instr{Op: ir.OpMul, Dst: ir.Reg{R: tmp}, Src: ir.Reg{R: rhsReg}})
			s.fn.Emit(&ir.Instr{Op: ir.OpSub, Dst: ir.Reg{R: lhsReg}, Src: ir.Reg{R: tmp}})
			if tmp == s.abi.MemoryBaseRegister {
				restoreMembase(s)
			}
			storeResult(s, resultSlot, lhsReg)

		case isBinaryCompare(in.Op):
			cond, _ := binaryCond(in.Op)
			lhsReg, rhsReg, err := popPairMaterialized(s)
			if err != nil {
				return wrapErr(s, err)
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpCmp, Dst: ir.Reg{R: lhsReg}, Src: ir.Reg{R: rhsReg}})
			resultSlot := s.vs.Push()
			resReg := lhsReg
			if resultSlot.InReg {
				resReg = resultSlot.Reg
			}
			s.fn.Emit(&ir.Instr{Op: ir.OpSetCC, Dst: ir.Reg{R: resReg}, Cond: int8(cond)})
			storeResult(s, resultSlot, resReg)

		case in.Op == wat.OpBlock:
			ctrlflow.Block(s.ls, len(in.BlockResult) > 0)
			elseSeen = append(elseSeen, false)

		case in.Op == wat.OpLoop:
			ctrlflow.Loop(s.fn, s.ls, len(in.BlockResult) > 0)
			elseSeen = append(elseSeen, false)

		case in.Op == wat.OpIf:
			slot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			cond := materialize(s, slot, s.abi.ScratchRegister)
			ctrlflow.If(s.fn, s.ls, len(in.BlockResult) > 0, cond)
			elseSeen = append(elseSeen, false)

		case in.Op == wat.OpElse:
			if len(elseSeen) > 0 {
				elseSeen[len(elseSeen)-1] = true
			}
			f, ok := s.ls.At(0)
			if !ok {
				return wrapErr(s, fmt.Errorf("else without matching if"))
			}
			ctrlflow.Else(s.fn, f)

		case in.Op == wat.OpEnd:
			sawElse := false
			if len(elseSeen) > 0 {
				sawElse = elseSeen[len(elseSeen)-1]
				elseSeen = elseSeen[:len(elseSeen)-1]
			}
			if _, ok := ctrlflow.End(s.fn, s.ls, sawElse); !ok {
				return wrapErr(s, fmt.Errorf("end without matching block/loop/if"))
			}

		case in.Op == wat.OpBr:
			if !ctrlflow.Br(s.fn, s.ls, in.Depth) {
				return wrapErr(s, ctrlflow.DiagInvalidDepth(s.wfn.Name, in.Depth))
			}

		case in.Op == wat.OpBrIf:
			slot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			cond := materialize(s, slot, s.abi.ScratchRegister)
			if !ctrlflow.BrIf(s.fn, s.ls, in.Depth, cond) {
				return wrapErr(s, ctrlflow.DiagInvalidDepth(s.wfn.Name, in.Depth))
			}

		case in.Op == wat.OpBrTable:
			slot, err := s.vs.Pop()
			if err != nil {
				return wrapErr(s, err)
			}
			idx := materialize(s, slot, s.abi.ScratchRegister)
			if !ctrlflow.BrTable(s.fn, s.ls, idx, in.Targets, in.Default) {
				return wrapErr(s, ctrlflow.DiagInvalidDepth(s.wfn.Name, in.Default))
			}

		case in.Op == wat.OpReturn:
			if err := lowerReturn(s); err != nil {
				return err
			}

		case in.Op == wat.OpCall:
			if err := lowerCall(s, in); err != nil {
				return err
			}

		case in.Op == wat.OpCallIndirect:
			if err := lowerCallIndirect(s, in); err != nil {
				return err
			}

		default:
			return wrapErr(s, fmt.Errorf("unsupported instruction op %v", in.Op))
		}
	}
	return nil
}

func isBinaryArith(op wat.Op) bool {
	_, ok := arithOp(op)
	return ok
}

func isBinaryCompare(op wat.Op) bool {
	_, ok := binaryCond(op)
	return ok
}

func lowerReturn(s *state) error {
	if err := moveTopToReturnRegister(s); err != nil {
		return err
	}
	ctrlflow.Return(s.fn, s.epilog)
	return nil
}

// lowerFallthroughResult handles a function whose body ends without an
// explicit `return`: WASM's implicit return-the-last-value rule, moving
// whatever is left on the virtual stack into the ABI's return register
// with no jump needed since the epilogue label follows immediately.
func lowerFallthroughResult(s *state) error {
	return moveTopToReturnRegister(s)
}

func moveTopToReturnRegister(s *state) error {
	if len(s.wfn.Results) != 1 {
		return nil
	}
	slot, err := s.vs.Pop()
	if err != nil {
		return wrapErr(s, err)
	}
	reg := materialize(s, slot, s.abi.ScratchRegister)
	if reg != s.abi.ReturnRegister {
		s.fn.Emit(&ir.Instr{Op: ir.OpMov, Dst: ir.Reg{R: s.abi.ReturnRegister}, Src: ir.Reg{R: reg}})
	}
	return nil
}

// marshalArgs pops n arguments off the virtual stack (in top-to-bottom
// order, i.e. reverse of their original push order) and places each into
// its ABI-designated argument register or outgoing stack slot.
func marshalArgs(s *state, n int) error {
	for k := n - 1; k >= 0; k-- {
		slot, err := s.vs.Pop()
		if err != nil {
			return wrapErr(s, err)
		}
		reg := materialize(s, slot, s.abi.ScratchRegister)
		if k < len(s.abi.ArgRegisters) {
			dst := s.abi.ArgRegisters[k]
			if dst != reg {
				s.fn.Emit(&ir.Instr{Op: ir.OpMov, Dst: ir.Reg{R: dst}, Src: ir.Reg{R: reg}})
			}
			continue
		}
		off := outgoingArgOffset(s.layout, k-len(s.abi.ArgRegisters), s.abi)
		s.fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: s.abi.StackPointer, Offset: off}, Src: ir.Reg{R: reg}})
	}
	return nil
}

func lowerCall(s *state, in wat.Instr) error {
	if int(in.FuncIndex) >= len(s.mod.Functions) {
		return wrapErr(s, diag.New(diag.UnknownInstruction, s.wfn.Name, "call to undefined function index %d", in.FuncIndex))
	}
	callee := s.mod.Functions[in.FuncIndex]
	if err := marshalArgs(s, len(callee.Params)); err != nil {
		return err
	}
	s.fn.Emit(&ir.Instr{Op: ir.OpCall, Dst: ir.LabelRef{Name: callee.Name}})
	reloadMemoryBaseAfterCall(s)
	if len(callee.Results) == 1 {
		resultSlot := s.vs.Push()
		storeResult(s, resultSlot, s.abi.ReturnRegister)
	}
	return nil
}

// lowerCallIndirect treats the top-of-stack value as the already-resolved
// absolute target address: this backend carries no table/elem model, so
// call_indirect's table-index operand is interpreted directly as a callable
// address rather than looked up through a table (see DESIGN.md's resolution
// of this Open Question). The address is stashed in a dedicated frame slot
// across argument marshaling, since marshaling is free to reuse the scratch
// register the address was first materialized through.
func lowerCallIndirect(s *state, in wat.Instr) error {
	if int(in.TypeIndex) >= len(s.mod.Types) {
		return wrapErr(s, diag.New(diag.UnknownInstruction, s.wfn.Name, "call_indirect with undefined type index %d", in.TypeIndex))
	}
	sig := s.mod.Types[in.TypeIndex]
	targetSlot, err := s.vs.Pop()
	if err != nil {
		return wrapErr(s, err)
	}
	targetReg := materialize(s, targetSlot, s.abi.ScratchRegister)
	s.fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: s.abi.StackPointer, Offset: s.layout.indirectTargetOffset}, Src: ir.Reg{R: targetReg}})

	if err := marshalArgs(s, len(sig.Params)); err != nil {
		return err
	}

	s.fn.Emit(&ir.Instr{Op: ir.OpLoad, Dst: ir.Reg{R: s.abi.ScratchRegister}, Src: ir.Mem{Base: s.abi.StackPointer, Offset: s.layout.indirectTargetOffset}})
	s.fn.Emit(&ir.Instr{Op: ir.OpCallIndirect, Src: ir.Reg{R: s.abi.ScratchRegister}})
	reloadMemoryBaseAfterCall(s)
	if len(sig.Results) == 1 {
		resultSlot := s.vs.Push()
		storeResult(s, resultSlot, s.abi.ReturnRegister)
	}
	return nil
}

func wrapErr(s *state, err error) error {
	if d, ok := err.(*diag.Diagnostic); ok {
		if d.Function == "" {
			d.Function = s.wfn.Name
		}
		return d
	}
	return err
}
