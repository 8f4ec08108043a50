// Package assemble implements the two-pass assembler: pass 1
// walks a function's IR lines computing each instruction's byte size and
// each label's offset; pass 2 re-walks the same lines encoding every
// instruction against the now-complete symbol table. A mismatch between the
// size an isa.Descriptor predicted in pass 1 and what it actually produced
// in pass 2 is a fatal diag.SizeEstimateMismatch — the pipeline's central
// correctness invariant.
//
// The same two-pass scheme runs unmodified against any isa.Descriptor, so
// one assembler implementation covers all five backends.
package assemble

import (
	"github.com/wasmback/wasmback/internal/diag"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
	"github.com/wasmback/wasmback/internal/log"
)

// Result is one function's assembled machine code plus the labels it
// exports into the caller's (container-wide) symbol table.
type Result struct {
	Name   string
	Code   []byte
	Labels map[string]uint64 // label name -> offset from Code[0]
}

// Func assembles one IR function against target, placed at image address
// base+funcOffset (funcOffset is this function's byte offset within the
// container's code section; base is the container's load address, injected
// into the symbol table under the reserved "$base" key so OpLoadLabelAddr
// can materialize absolute addresses). externalSymbols carries any
// already-resolved cross-function labels (e.g. other functions' entry
// points) the caller wants visible to this function's branches; may be nil.
func Func(fn *ir.Func, target isa.Descriptor, base, funcOffset uint64, externalSymbols isa.SymbolTable) (*Result, error) {
	offsets, size, err := pass1(fn, target)
	if err != nil {
		return nil, err
	}

	symbols := isa.SymbolTable{"$base": base}
	for name, off := range externalSymbols {
		symbols[name] = off
	}
	for name, off := range offsets {
		symbols[name] = funcOffset + off
	}

	code, err := pass2(fn, target, funcOffset, symbols)
	if err != nil {
		return nil, err
	}
	if uint64(len(code)) != size {
		return nil, diag.New(diag.SizeEstimateMismatch, fn.Name,
			"pass 1 predicted %d bytes, pass 2 produced %d", size, len(code))
	}

	labels := make(map[string]uint64, len(offsets))
	for name, off := range offsets {
		labels[name] = off
	}
	log.FunctionCompiled(fn.Name, target.Target().String(), len(code))
	return &Result{Name: fn.Name, Code: code, Labels: labels}, nil
}

// EstimateFuncSize returns the total encoded byte size fn will occupy,
// without resolving any symbol. The pipeline driver uses this to lay out
// multiple functions' offsets within one module image before a single one
// of them is actually encoded (multi-function layout) — safe
// because EstimateSize, by the pass-1/pass-2 invariant, never depends on a
// label's resolved address.
func EstimateFuncSize(fn *ir.Func, target isa.Descriptor) (uint64, error) {
	_, size, err := pass1(fn, target)
	return size, err
}

// pass1 walks the line sequence, calling EstimateSize on every instruction
// and recording every label's running byte offset. It never resolves a
// branch target, so it never depends on a value pass 2 hasn't computed yet.
func pass1(fn *ir.Func, target isa.Descriptor) (map[string]uint64, uint64, error) {
	offsets := make(map[string]uint64)
	var cursor uint64

	for _, line := range fn.Lines {
		switch l := line.(type) {
		case *ir.Label:
			if _, dup := offsets[l.Name]; dup {
				return nil, 0, diag.New(diag.UnresolvedLabel, fn.Name, "label %q defined more than once", l.Name)
			}
			offsets[l.Name] = cursor
		case *ir.Instr:
			n, err := target.EstimateSize(l)
			if err != nil {
				return nil, 0, wrapInstrErr(fn.Name, err)
			}
			cursor += uint64(n)
		}
	}
	return offsets, cursor, nil
}

// pass2 re-walks the same lines, now with the complete symbol table, and
// encodes every instruction at its final address (funcOffset + cursor).
func pass2(fn *ir.Func, target isa.Descriptor, funcOffset uint64, symbols isa.SymbolTable) ([]byte, error) {
	var out []byte
	var cursor uint64

	for _, line := range fn.Lines {
		instr, ok := line.(*ir.Instr)
		if !ok {
			continue
		}
		pc := funcOffset + cursor
		b, err := target.Encode(instr, pc, symbols)
		if err != nil {
			return nil, wrapInstrErr(fn.Name, err)
		}
		if rng, hasRange := target.BranchRangeFor(instr.Op); hasRange {
			if err := checkRange(fn.Name, pc, rng, instr, symbols); err != nil {
				return nil, err
			}
		}
		out = append(out, b...)
		cursor += uint64(len(b))
	}
	return out, nil
}

// checkRange re-derives the displacement an already-encoded branch used and
// confirms it was within the ISA's field width, surfacing a precise
// diag.BranchOutOfRange rather than letting a silently-truncated field
// produce a wrong jump. Branch target resolution itself happens inside
// Encode; this is a defense-in-depth check against the field actually
// fitting what Encode computed.
func checkRange(function string, pc uint64, rng isa.BranchRange, instr *ir.Instr, symbols isa.SymbolTable) error {
	lbl, ok := instr.Dst.(ir.LabelRef)
	if !ok {
		return nil
	}
	target, ok := symbols[lbl.Name]
	if !ok {
		return nil // Encode already raised UnresolvedLabel
	}
	disp := int64(target) - int64(pc) - rng.Pipeline
	min, max := rng.Range()
	if disp < min || disp > max {
		return diag.New(diag.BranchOutOfRange, function,
			"displacement %d to %q out of range [%d, %d]", disp, lbl.Name, min, max)
	}
	return nil
}

func wrapInstrErr(function string, err error) error {
	if d, ok := err.(*diag.Diagnostic); ok {
		if d.Function == "" {
			d.Function = function
		}
		return d
	}
	return diag.New(diag.UnknownInstruction, function, "%s", err.Error())
}
