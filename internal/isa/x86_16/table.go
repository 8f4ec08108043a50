// Package x86_16 is the x86-16 real-mode ISA descriptor table. This is the
// degenerate case: all arguments pass on the stack, and the register file
// (8 16-bit registers total) is too small to carry a K=4 virtual-stack bank
// plus a dedicated frame pointer, memory-base register, scratch register
// and return register simultaneously — see DESIGN.md for the K=2 deviation
// this target takes, a deliberate, documented exception to the
// otherwise-universal K=4 bank size. The bank is further restricted to SI
// and DI (excluding AX/CX/DX), since a vstack-bank register can end up
// directly addressing WASM linear memory (ir.Mem's base register), and
// 16-bit real-mode addressing can only ever use BX, BP, SI or DI as a
// memory base.
package x86_16

import (
	"github.com/wasmback/wasmback/internal/encoder/x86"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
	"github.com/wasmback/wasmback/internal/isa/x86common"
)

const (
	AX = x86.AX
	CX = x86.CX
	DX = x86.DX
	BX = x86.BX
	SP = x86.SP
	BP = x86.BP
	SI = x86.SI
	DI = x86.DI
)

type descriptor struct {
	x86common.Base
}

// New returns the x86-16 isa.Descriptor.
func New() isa.Descriptor {
	return &descriptor{x86common.Base{Enc: x86.Encoder{W: x86.W16, LongMode: false, RealMode: true}}}
}

func (d *descriptor) Target() isa.Target { return isa.X86_16 }

func (d *descriptor) ABI() isa.ABI {
	return isa.ABI{
		ArgRegisters:       nil, // degenerate: every argument passes on the stack
		ReturnRegister:     AX,
		CalleeSaved:        []ir.Register{BX, DX, SI, DI, BP},
		StackAlignment:     2,
		VStackBank:         []ir.Register{SI, DI}, // K=2, see package doc
		MemoryBaseRegister: BX,
		ScratchRegister:    CX,
		FramePointer:       BP,
		StackPointer:       SP,
		SlotWidth:          4,
	}
}

func (d *descriptor) PointerSize() int    { return 2 }
func (d *descriptor) MachineType() uint16 { return 0x014C } // PE32 with i386 machine type
