// Package amd64 is the x86-64 ISA descriptor table: register identities,
// ABI assignment, and the size-estimator/encoder pair backed by
// internal/encoder/x86. The ABI assignment follows the System V AMD64
// calling convention's register set.
package amd64

import (
	"github.com/wasmback/wasmback/internal/encoder/x86"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
	"github.com/wasmback/wasmback/internal/isa/x86common"
)

// Register names, aliasing the shared x86 numbering.
const (
	RAX = x86.AX
	RCX = x86.CX
	RDX = x86.DX
	RBX = x86.BX
	RSP = x86.SP
	RBP = x86.BP
	RSI = x86.SI
	RDI = x86.DI
	R8  = x86.R8
	R9  = x86.R9
	R10 = x86.R10
	R11 = x86.R11
	R12 = x86.R12
	R13 = x86.R13
	R14 = x86.R14
	R15 = x86.R15
)

type descriptor struct {
	x86common.Base
}

// New returns the x86-64 isa.Descriptor.
func New() isa.Descriptor {
	return &descriptor{x86common.Base{Enc: x86.Encoder{W: x86.W64, LongMode: true}}}
}

func (d *descriptor) Target() isa.Target { return isa.X86_64 }

func (d *descriptor) ABI() isa.ABI {
	return isa.ABI{
		// System V AMD64: rdi, rsi, rdx, rcx, r8, r9.
		ArgRegisters:       []ir.Register{RDI, RSI, RDX, RCX, R8, R9},
		ReturnRegister:     RAX,
		CalleeSaved:        []ir.Register{RBX, R12, R13, R14, R15, RBP},
		StackAlignment:     16,
		VStackBank:         []ir.Register{RBX, R12, R13, R14},
		MemoryBaseRegister: R15,
		ScratchRegister:    R11,
		FramePointer:       RBP,
		StackPointer:       RSP,
		SlotWidth:          8,
	}
}

func (d *descriptor) PointerSize() int { return 8 }

func (d *descriptor) MachineType() uint16 { return 0x8664 } // IMAGE_FILE_MACHINE_AMD64
