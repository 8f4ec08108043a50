// Package x86_32 is the x86-32 (IA-32) ISA descriptor table. It reuses the
// shared internal/encoder/x86 encoder with no REX prefixes available
// (registers 0-7 only) and the cdecl-flavored callee-saved set.
package x86_32

import (
	"github.com/wasmback/wasmback/internal/encoder/x86"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
	"github.com/wasmback/wasmback/internal/isa/x86common"
)

const (
	EAX = x86.AX
	ECX = x86.CX
	EDX = x86.DX
	EBX = x86.BX
	ESP = x86.SP
	EBP = x86.BP
	ESI = x86.SI
	EDI = x86.DI
)

type descriptor struct {
	x86common.Base
}

// New returns the x86-32 isa.Descriptor. This backend's calling convention
// is register-argument-free (all parameters are loaded from the caller's
// stack by the function lowerer), matching the common cdecl ABI; there is
// no System V/Win32 distinction relevant to a no-import, no-export binary.
func New() isa.Descriptor {
	return &descriptor{x86common.Base{Enc: x86.Encoder{W: x86.W32, LongMode: false}}}
}

func (d *descriptor) Target() isa.Target { return isa.X86_32 }

func (d *descriptor) ABI() isa.ABI {
	// x86-32 only has seven general-purpose registers. A dedicated frame
	// pointer, a K=4 callee-saved virtual-stack bank, a memory-base
	// register and a scratch register don't all fit simultaneously, so this
	// backend omits a dedicated frame pointer: ESP doubles as the frame
	// pointer, since it is otherwise constant across a function body (the
	// only adjustments are the prologue's subtract-frame-size and the
	// epilogue's matching add, with call sites keeping push/pop balanced).
	// That frees EBP to join the callee-saved virtual-stack bank. The
	// memory-base register (EDX) is therefore caller-saved and is reloaded
	// by the function lowerer immediately after every call returns — see
	// funclower's reloadMemoryBaseAfterCall.
	return isa.ABI{
		ArgRegisters:       nil, // cdecl: all arguments on the caller stack
		ReturnRegister:     EAX,
		CalleeSaved:        []ir.Register{EBX, ESI, EDI, EBP},
		StackAlignment:     8,
		VStackBank:         []ir.Register{EBX, ESI, EDI, EBP},
		MemoryBaseRegister: EDX,
		ScratchRegister:    ECX,
		FramePointer:       ESP,
		StackPointer:       ESP,
		SlotWidth:          4,
	}
}

func (d *descriptor) PointerSize() int    { return 4 }
func (d *descriptor) MachineType() uint16 { return 0x014C } // IMAGE_FILE_MACHINE_I386
