// Package funclower lowers one WAT function into target-independent ir, by
// walking its instruction list and emitting the shared ir vocabulary:
// prologue/epilogue synthesis, parameter and local placement,
// virtual-stack-backed expression evaluation, memory and global access,
// and call/return. Structured control flow is delegated to ctrlflow; this
// package owns everything else.
//
// Each function is lowered twice: a throwaway measuring pass establishes
// the virtual-stack spill-area high-water mark, then a real pass lowers
// the function against that now-known frame layout. Everything this
// package emits is driven off the target's isa.Descriptor/isa.ABI, so the
// same walk-and-emit logic covers all five backends.
package funclower

import (
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
	"github.com/wasmback/wasmback/internal/labels"
	"github.com/wasmback/wasmback/internal/vstack"
	"github.com/wasmback/wasmback/internal/wat"
)

// pointerPushSize is the number of bytes a `call` instruction implicitly
// pushes onto the stack as a return address, per target. Zero for the ARM
// targets, which pass the return address in the link register instead.
func pointerPushSize(target isa.Target) int {
	switch target {
	case isa.X86_64:
		return 8
	case isa.X86_32:
		return 4
	case isa.X86_16:
		return 2
	default:
		return 0
	}
}

type frameLayout struct {
	calleeSaveOffset     int32
	localsOffset         int32
	spillOffset          int32
	indirectTargetOffset int32
	outgoingArgOffset    int32
	totalSize            int32
	retAddrSize          int32
	registersToSave      []ir.Register
}

func computeLayout(abi isa.ABI, target isa.Target, fn *wat.Function, mod *wat.Module, spillAreaSize, maxOutgoingArgs int) frameLayout {
	toSave := registersToSave(abi)
	var l frameLayout
	l.registersToSave = toSave
	l.calleeSaveOffset = 0
	l.localsOffset = int32(len(toSave) * abi.SlotWidth)
	l.spillOffset = l.localsOffset + int32(fn.NumLocalSlots()*abi.SlotWidth)
	// One dedicated slot holds call_indirect's resolved target address
	// across argument marshaling, since marshaling is free to reuse the
	// scratch register the address was first materialized through. It gets
	// its own slot rather than sharing the outgoing-arg area so the two
	// never alias when a call_indirect also passes stack arguments.
	l.indirectTargetOffset = l.spillOffset + int32(spillAreaSize)
	l.outgoingArgOffset = l.indirectTargetOffset + int32(abi.SlotWidth)
	total := l.outgoingArgOffset + int32(maxOutgoingArgs*abi.SlotWidth)
	if align := int32(abi.StackAlignment); align > 1 && total%align != 0 {
		total += align - total%align
	}
	l.totalSize = total
	l.retAddrSize = int32(pointerPushSize(target))
	return l
}

// registersToSave is the deterministic set of callee-saved registers this
// backend's lowering can write to: the virtual-stack bank plus the memory
// base register, restricted to those the ABI actually requires a callee to
// preserve (x86-32's caller-saved memory-base register is excluded; it is
// reloaded after every call instead, see reloadMemoryBaseAfterCall).
func registersToSave(abi isa.ABI) []ir.Register {
	saved := make(map[ir.Register]bool, len(abi.CalleeSaved))
	for _, r := range abi.CalleeSaved {
		saved[r] = true
	}
	seen := make(map[ir.Register]bool)
	var out []ir.Register
	add := func(r ir.Register) {
		if saved[r] && !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	for _, r := range abi.VStackBank {
		add(r)
	}
	add(abi.MemoryBaseRegister)
	return out
}

// state threads the mutable lowering context for one function through the
// instruction-by-instruction handlers in body.go.
type state struct {
	fn      *ir.Func
	wfn     *wat.Function
	mod     *wat.Module
	target  isa.Descriptor
	abi     isa.ABI
	vs      *vstack.Stack
	ls      *labels.Stack
	layout  frameLayout
	epilog  string
}

// Compile lowers fn into a complete ir.Func: prologue, body, epilogue.
func Compile(wfn *wat.Function, mod *wat.Module, target isa.Descriptor) (*ir.Func, error) {
	abi := target.ABI()
	maxArgs := maxOutgoingArgs(wfn, mod)

	// Measuring pass: lower the body once with a throwaway vstack/label
	// stack purely to discover the spill-area high-water mark; its emitted
	// lines are discarded. Lowering is a pure function of (wfn, mod, abi,
	// target), so re-running it with the now-known frame layout in the real
	// pass produces identical control flow and operand placement.
	measureLayout := computeLayout(abi, target.Target(), wfn, mod, 0, maxArgs)
	spillSize, err := measureSpillSize(wfn, mod, target, abi, measureLayout)
	if err != nil {
		return nil, err
	}

	layout := computeLayout(abi, target.Target(), wfn, mod, spillSize, maxArgs)
	fn := &ir.Func{Name: wfn.Name}
	s := &state{fn: fn, wfn: wfn, mod: mod, target: target, abi: abi, vs: vstack.New(abi), ls: labels.New(), layout: layout}
	s.epilog = s.ls.NextLabel("epilogue")

	emitPrologue(s)
	if err := lowerInstrs(s, wfn.Body); err != nil {
		return nil, err
	}
	// WASM functions return their body's final stack value implicitly, with
	// no explicit "return" instruction required when control simply falls
	// off the end — only an early exit needs one (lowerReturn, above). If
	// the walk left a value on the virtual stack, this is that implicit
	// case: move it into the return register before the epilogue restores
	// callee-saved state.
	if s.vs.Depth() > 0 {
		if err := lowerFallthroughResult(s); err != nil {
			return nil, err
		}
	}
	fn.Label(s.epilog)
	emitEpilogue(s)
	return fn, nil
}

// measureSpillSize runs the body-lowering walk once against a throwaway
// vstack/ir.Func pair purely to learn the spill-area high-water mark, so
// the real pass below can size the frame correctly before emitting a single
// instruction. No process-global state is involved: every input this walk
// touches is freshly constructed here and discarded on return.
func measureSpillSize(wfn *wat.Function, mod *wat.Module, target isa.Descriptor, abi isa.ABI, layout frameLayout) (int, error) {
	vs := vstack.New(abi)
	s := &state{fn: &ir.Func{Name: wfn.Name}, wfn: wfn, mod: mod, target: target, abi: abi, vs: vs, ls: labels.New(), layout: layout}
	s.epilog = s.ls.NextLabel("epilogue")
	if err := lowerInstrs(s, wfn.Body); err != nil {
		return 0, err
	}
	return vs.SpillAreaSize(), nil
}

func maxOutgoingArgs(wfn *wat.Function, mod *wat.Module) int {
	max := 0
	var walk func([]wat.Instr)
	walk = func(body []wat.Instr) {
		for _, in := range body {
			switch in.Op {
			case wat.OpCall:
				if int(in.FuncIndex) < len(mod.Functions) {
					if n := len(mod.Functions[in.FuncIndex].Params); n > max {
						max = n
					}
				}
			case wat.OpCallIndirect:
				if int(in.TypeIndex) < len(mod.Types) {
					if n := len(mod.Types[in.TypeIndex].Params); n > max {
						max = n
					}
				}
			}
		}
	}
	walk(wfn.Body)
	return max
}

func localOffset(layout frameLayout, index int, abi isa.ABI) int32 {
	return layout.localsOffset + int32(index*abi.SlotWidth)
}

func spillMemOffset(layout frameLayout, slot vstack.Slot, abi isa.ABI) int32 {
	return layout.spillOffset + int32(slot.Index*abi.SlotWidth)
}

func outgoingArgOffset(layout frameLayout, index int, abi isa.ABI) int32 {
	return layout.outgoingArgOffset + int32(index*abi.SlotWidth)
}

func emitPrologue(s *state) {
	fn := s.fn
	abi := s.abi
	if s.layout.totalSize > 0 {
		fn.Emit(&ir.Instr{Op: ir.OpSub, Dst: ir.Reg{R: abi.StackPointer}, Src: ir.Imm{V: int64(s.layout.totalSize)}})
	}
	for i, r := range s.layout.registersToSave {
		off := s.layout.calleeSaveOffset + int32(i*abi.SlotWidth)
		fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: abi.StackPointer, Offset: off}, Src: ir.Reg{R: r}})
	}
	fn.Emit(&ir.Instr{Op: ir.OpLoadLabelAddr, Dst: ir.Reg{R: abi.MemoryBaseRegister}, Src: ir.LabelRef{Name: s.mod.MemoryBase}})

	for i := range s.wfn.Params {
		off := localOffset(s.layout, i, abi)
		if i < len(abi.ArgRegisters) {
			fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: abi.StackPointer, Offset: off}, Src: ir.Reg{R: abi.ArgRegisters[i]}})
			continue
		}
		stackIdx := i - len(abi.ArgRegisters)
		srcOff := s.layout.totalSize + s.layout.retAddrSize + int32(stackIdx*abi.SlotWidth)
		fn.Emit(&ir.Instr{Op: ir.OpLoad, Dst: ir.Reg{R: abi.ScratchRegister}, Src: ir.Mem{Base: abi.StackPointer, Offset: srcOff}})
		fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: abi.StackPointer, Offset: off}, Src: ir.Reg{R: abi.ScratchRegister}})
	}
	for i := len(s.wfn.Params); i < s.wfn.NumLocalSlots(); i++ {
		off := localOffset(s.layout, i, abi)
		fn.Emit(&ir.Instr{Op: ir.OpMov, Dst: ir.Reg{R: abi.ScratchRegister}, Src: ir.Imm{V: 0}})
		fn.Emit(&ir.Instr{Op: ir.OpStore, Dst: ir.Mem{Base: abi.StackPointer, Offset: off}, Src: ir.Reg{R: abi.ScratchRegister}})
	}
}

func emitEpilogue(s *state) {
	fn := s.fn
	abi := s.abi
	for i := len(s.layout.registersToSave) - 1; i >= 0; i-- {
		r := s.layout.registersToSave[i]
		off := s.layout.calleeSaveOffset + int32(i*abi.SlotWidth)
		fn.Emit(&ir.Instr{Op: ir.OpLoad, Dst: ir.Reg{R: r}, Src: ir.Mem{Base: abi.StackPointer, Offset: off}})
	}
	if s.layout.totalSize > 0 {
		fn.Emit(&ir.Instr{Op: ir.OpAdd, Dst: ir.Reg{R: abi.StackPointer}, Src: ir.Imm{V: int64(s.layout.totalSize)}})
	}
	fn.Emit(&ir.Instr{Op: ir.OpRet})
}

// reloadMemoryBaseAfterCall re-materializes the memory-base register
// immediately after a call returns, for targets where it is caller-saved
// (x86-32's EDX; see isa/x86_32's package doc). A no-op for targets where
// the register is callee-saved, since the callee is required to preserve it.
func reloadMemoryBaseAfterCall(s *state) {
	saved := false
	for _, r := range s.layout.registersToSave {
		if r == s.abi.MemoryBaseRegister {
			saved = true
		}
	}
	if !saved {
		s.fn.Emit(&ir.Instr{Op: ir.OpLoadLabelAddr, Dst: ir.Reg{R: s.abi.MemoryBaseRegister}, Src: ir.LabelRef{Name: s.mod.MemoryBase}})
	}
}
