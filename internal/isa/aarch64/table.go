// Package aarch64 is the AArch64 (ARM64) ISA descriptor table, the one
// native 64-bit ARM target alongside x86-64.
package aarch64

import (
	"github.com/wasmback/wasmback/internal/encoder/arm/aarch64"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
)

const (
	X0  = aarch64.X0
	X1  = aarch64.X1
	X2  = aarch64.X2
	X3  = aarch64.X3
	X4  = aarch64.X4
	X5  = aarch64.X5
	X19 = aarch64.X19
	X20 = aarch64.X20
	X21 = aarch64.X21
	X22 = aarch64.X22
	X28 = aarch64.X28
	X29 = aarch64.X29 // FP
	X30 = aarch64.X30 // LR
)

type descriptor struct {
	enc aarch64.Encoder
}

func New() isa.Descriptor { return &descriptor{enc: aarch64.Encoder{Width64: true}} }

func (d *descriptor) Target() isa.Target { return isa.AArch64 }

func (d *descriptor) ABI() isa.ABI {
	return isa.ABI{
		ArgRegisters:       []ir.Register{X0, X1, X2, X3, X4, X5},
		ReturnRegister:     X0,
		CalleeSaved:        []ir.Register{X19, X20, X21, X22, X28, X29, X30},
		StackAlignment:     16,
		VStackBank:         []ir.Register{X19, X20, X21, X22},
		MemoryBaseRegister: X28,
		ScratchRegister:    16, // X16/IP0, the platform's designated intra-procedure scratch register
		FramePointer:       X29,
		StackPointer:       31, // SP; encoding 31 in base-register position, never as ZR there
		SlotWidth:          8,
	}
}

func (d *descriptor) WidthPolicy() isa.WidthPolicy {
	return isa.WidthPolicy{Fixed: true, Width: 4}
}

func (d *descriptor) PointerSize() int    { return 8 }
func (d *descriptor) MachineType() uint16 { return 0xAA64 } // IMAGE_FILE_MACHINE_ARM64

func (d *descriptor) EstimateSize(in *ir.Instr) (int, error) {
	b, err := d.enc.Size(in)
	return len(b), err
}

func (d *descriptor) Encode(in *ir.Instr, pc uint64, symbols isa.SymbolTable) ([]byte, error) {
	return d.enc.EncodeAt(in, pc, symbols)
}

func (d *descriptor) BranchRangeFor(op ir.Mnemonic) (isa.BranchRange, bool) {
	switch op {
	case ir.OpJump, ir.OpCall:
		return isa.BranchRange{FieldBits: 26, Scaled: true, Quantum: 4, Pipeline: 0}, true
	case ir.OpBranch, ir.OpCBZ, ir.OpCBNZ:
		return isa.BranchRange{FieldBits: 19, Scaled: true, Quantum: 4, Pipeline: 0}, true
	default:
		return isa.BranchRange{}, false
	}
}
