// Package ctrlflow lowers WAT's structured control flow (block, loop, if,
// br, br_if, br_table, return) into the target-independent ir vocabulary:
// labels, unconditional/conditional jumps, and compare-then-branch chains.
// It never chooses ISA-specific encodings; it only emits ir.Label and
// ir.Instr lines plus maintains the labels.Stack, matching the "encoder
// never sees structured control flow" split this package performs.
//
// br_table is expanded here into a linear chain of compare-and-branch
// instructions terminated by an unconditional jump to the default target,
// rather than an indirect jump through a literal jump table: the ir
// vocabulary carries no jump-table operand, so the expansion has to happen
// upstream of assembly, exactly where this package sits.
//
// Break-depth resolution walks labels.Stack from the innermost frame
// outward, turning a br/br_if's numeric depth into the matching frame's
// break label before any ir is emitted.
package ctrlflow

import (
	"github.com/wasmback/wasmback/internal/diag"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/labels"
)

// Block opens a block construct and returns its Frame; the caller pushes it
// onto the function's label stack (labels.Stack.PushBlock already does
// this) and lowers the body, then calls End to close it.
func Block(ls *labels.Stack, hasResult bool) labels.Frame {
	return ls.PushBlock(hasResult)
}

// Loop opens a loop construct: emits its start label immediately (the
// backward branch target) and returns the Frame.
func Loop(fn *ir.Func, ls *labels.Stack, hasResult bool) labels.Frame {
	start := ls.NextLabel("loop_start")
	f := ls.PushLoop(start, hasResult)
	fn.Label(start)
	return f
}

// If pops the i32 condition register and emits a conditional jump to the
// else label (or the end label, if the body turns out to have no else —
// CompileEnd handles coalescing that case), then returns the opened Frame.
// cond must already be materialized in a register (funclower's job).
func If(fn *ir.Func, ls *labels.Stack, hasResult bool, cond ir.Register) labels.Frame {
	f := ls.PushIf(hasResult)
	fn.Emit(&ir.Instr{Op: ir.OpCBZ, Dst: ir.LabelRef{Name: f.ElseLabel}, Src: ir.Reg{R: cond}})
	return f
}

// Else emits the then-branch's escape jump to the end label followed by the
// else label itself, switching the body being lowered to the else arm.
func Else(fn *ir.Func, f labels.Frame) {
	fn.Emit(&ir.Instr{Op: ir.OpJump, Dst: ir.LabelRef{Name: f.EndLabel}})
	fn.Label(f.ElseLabel)
}

// End closes the innermost construct, popping it from ls and emitting
// whatever trailing labels are needed: for If, the else label is emitted
// here (coalesced with the end label) if Else was never called.
func End(fn *ir.Func, ls *labels.Stack, sawElse bool) (labels.Frame, bool) {
	f, ok := ls.Pop()
	if !ok {
		return labels.Frame{}, false
	}
	if f.Kind == labels.KindIf && !sawElse {
		fn.Label(f.ElseLabel)
	}
	fn.Label(f.EndLabel)
	return f, true
}

// Br emits an unconditional jump to the label depth resolves to. ok is
// false if depth exceeds the current nesting (diag.InvalidBranchDepth is
// the caller's — funclower's — responsibility, since only it knows the
// function name to attach).
func Br(fn *ir.Func, ls *labels.Stack, depth uint32) bool {
	f, ok := ls.At(depth)
	if !ok {
		return false
	}
	fn.Emit(&ir.Instr{Op: ir.OpJump, Dst: ir.LabelRef{Name: f.BreakLabel}})
	return true
}

// BrIf emits a conditional jump (taken when cond != 0) to the label depth
// resolves to.
func BrIf(fn *ir.Func, ls *labels.Stack, depth uint32, cond ir.Register) bool {
	f, ok := ls.At(depth)
	if !ok {
		return false
	}
	fn.Emit(&ir.Instr{Op: ir.OpCBNZ, Dst: ir.LabelRef{Name: f.BreakLabel}, Src: ir.Reg{R: cond}})
	return true
}

// BrTable expands a br_table into a linear compare-and-branch chain: for
// each entry i, "cmp index, #i; je target[i]", followed by an unconditional
// jump to the default target. index is clobbered by the comparisons (a
// fresh copy, never the original stack value, must be passed in by the
// caller if the original is still needed — it never is, since br_table
// always terminates the block it appears in).
func BrTable(fn *ir.Func, ls *labels.Stack, index ir.Register, targets []uint32, def uint32) bool {
	for i, depth := range targets {
		f, ok := ls.At(depth)
		if !ok {
			return false
		}
		fn.Emit(&ir.Instr{Op: ir.OpCmp, Dst: ir.Reg{R: index}, Src: ir.Imm{V: int64(i)}})
		fn.Emit(&ir.Instr{Op: ir.OpBranch, Dst: ir.LabelRef{Name: f.BreakLabel}, Cond: int8(ir.CondEQ)})
	}
	f, ok := ls.At(def)
	if !ok {
		return false
	}
	fn.Emit(&ir.Instr{Op: ir.OpJump, Dst: ir.LabelRef{Name: f.BreakLabel}})
	return true
}

// Return emits an unconditional jump to the function's single epilogue
// label; the caller (funclower) has already moved any result value into
// the ABI's return register before calling this.
func Return(fn *ir.Func, epilogueLabel string) {
	fn.Emit(&ir.Instr{Op: ir.OpJump, Dst: ir.LabelRef{Name: epilogueLabel}})
}

// diagInvalidDepth is a convenience constructor funclower uses when Br/BrIf/
// BrTable report a depth that doesn't resolve, so the message stays
// consistent across all three call sites.
func DiagInvalidDepth(function string, depth uint32) error {
	return diag.New(diag.InvalidBranchDepth, function, "branch depth %d exceeds enclosing construct nesting", depth)
}
