// Package armv7 is the ARMv7 (32-bit ARM) ISA descriptor table.
package armv7

import (
	"github.com/wasmback/wasmback/internal/encoder/arm/armv7"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
)

const (
	R0  = armv7.R0
	R1  = armv7.R1
	R2  = armv7.R2
	R3  = armv7.R3
	R4  = armv7.R4
	R5  = armv7.R5
	R6  = armv7.R6
	R7  = armv7.R7
	R8  = armv7.R8
	R9  = armv7.R9
	R11 = armv7.R11 // FP
	R12 = armv7.R12 // IP, scratch
	R14 = armv7.R14 // LR
)

type descriptor struct {
	enc armv7.Encoder
}

func New() isa.Descriptor { return &descriptor{} }

func (d *descriptor) Target() isa.Target { return isa.ARMv7 }

func (d *descriptor) ABI() isa.ABI {
	return isa.ABI{
		ArgRegisters:       []ir.Register{R0, R1, R2, R3},
		ReturnRegister:     R0,
		CalleeSaved:        []ir.Register{R4, R5, R6, R7, R8, R9, R11, R14},
		StackAlignment:     8,
		VStackBank:         []ir.Register{R4, R5, R6, R7},
		MemoryBaseRegister: R8,
		ScratchRegister:    R12,
		FramePointer:       R11,
		StackPointer:       13, // SP
		SlotWidth:          4,
	}
}

func (d *descriptor) WidthPolicy() isa.WidthPolicy {
	return isa.WidthPolicy{Fixed: true, Width: 4}
}

func (d *descriptor) PointerSize() int    { return 4 }
func (d *descriptor) MachineType() uint16 { return 0x01C0 } // IMAGE_FILE_MACHINE_ARM (ARMv7)

func (d *descriptor) EstimateSize(in *ir.Instr) (int, error) {
	b, err := d.enc.Size(in)
	return len(b), err
}

func (d *descriptor) Encode(in *ir.Instr, pc uint64, symbols isa.SymbolTable) ([]byte, error) {
	return d.enc.EncodeAt(in, pc, symbols)
}

func (d *descriptor) BranchRangeFor(op ir.Mnemonic) (isa.BranchRange, bool) {
	switch op {
	case ir.OpJump, ir.OpCall, ir.OpBranch, ir.OpCBZ, ir.OpCBNZ:
		return isa.BranchRange{FieldBits: 24, Scaled: true, Quantum: 4, Pipeline: 8}, true
	default:
		return isa.BranchRange{}, false
	}
}
