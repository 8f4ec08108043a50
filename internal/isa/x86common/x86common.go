// Package x86common factors the isa.Descriptor boilerplate identical across
// all three x86-family targets (x86-64, x86-32, x86-16): the encoder-backed
// EstimateSize/Encode pair, the shared variable-width WidthPolicy, and the
// branch-range table every x86 target encodes the same way (a 32-bit
// PC-relative displacement field for every branch/call/conditional-jump
// class — rel32 is available on all three widths this backend targets).
//
// Each of amd64, x86_32 and x86_16 embeds Base and only adds what actually
// differs between them: register naming, ABI assignment, and the PE
// machine-type constant.
package x86common

import (
	"github.com/wasmback/wasmback/internal/encoder/x86"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
)

// Base embeds the width/mode-configured x86 encoder and implements the
// four isa.Descriptor methods that never vary across the three x86
// targets. Each target's descriptor embeds Base and supplies the
// target-specific Target/ABI/PointerSize/MachineType methods.
type Base struct {
	Enc x86.Encoder
}

func (b *Base) WidthPolicy() isa.WidthPolicy {
	return isa.WidthPolicy{Fixed: false, Min: 1, Max: 15}
}

func (b *Base) EstimateSize(in *ir.Instr) (int, error) {
	out, err := b.Enc.Size(in)
	return len(out), err
}

func (b *Base) Encode(in *ir.Instr, pc uint64, symbols isa.SymbolTable) ([]byte, error) {
	return b.Enc.EncodeAt(in, pc, symbols)
}

func (b *Base) BranchRangeFor(op ir.Mnemonic) (isa.BranchRange, bool) {
	switch op {
	case ir.OpJump, ir.OpBranch, ir.OpCBZ, ir.OpCBNZ, ir.OpCall:
		return isa.BranchRange{FieldBits: 32}, true
	default:
		return isa.BranchRange{}, false
	}
}
