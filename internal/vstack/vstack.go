// Package vstack implements the virtual-stack operand allocator: a fixed
// K-register bank backed by frame-memory spill slots once the bank is
// exhausted. One Stack is created fresh per function — never
// process-global or reused across functions — so concurrent compilation of
// independent functions never shares allocator state.
//
// Each value pushed onto the WAT operand stack lands either in a bank
// register or a frame-memory slot; Stack tracks which uniformly, keyed off
// isa.ABI.VStackBank and isa.ABI.SlotWidth so the same allocation policy
// works across all five backends without a target-specific variant.
package vstack

import (
	"github.com/wasmback/wasmback/internal/diag"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
)

// Slot is one value's location: either a bank register or a frame-memory
// spill slot (Reg==false).
type Slot struct {
	InReg bool
	Reg   ir.Register
	Index int // spill slot index when !InReg, 0-based from the spill area's start
}

// Stack is the per-function virtual operand stack. Construct one with New
// per function; never reuse across functions.
type Stack struct {
	bank      []ir.Register
	slotWidth int
	entries   []Slot
	spillUsed int // number of spill slots ever allocated; frame sizing reads this via MaxSpill
	maxDepth  int
}

// New builds an empty Stack sized to abi's K-register bank.
func New(abi isa.ABI) *Stack {
	bank := make([]ir.Register, len(abi.VStackBank))
	copy(bank, abi.VStackBank)
	return &Stack{bank: bank, slotWidth: abi.SlotWidth}
}

// Depth reports the number of values currently pushed.
func (s *Stack) Depth() int { return len(s.entries) }

// MaxDepth reports the high-water mark of Depth across the Stack's
// lifetime, the figure the function lowerer needs to size the spill area
// (it is exactly MaxSpill, since a spill slot is freed on pop like a
// register is).
func (s *Stack) MaxDepth() int { return s.maxDepth }

// SlotWidth returns the configured spill slot width in bytes.
func (s *Stack) SlotWidth() int { return s.slotWidth }

// Push allocates the next slot: the lowest-indexed free bank register if
// one exists, else the next frame spill slot.
func (s *Stack) Push() Slot {
	depth := len(s.entries)
	var slot Slot
	if depth < len(s.bank) {
		slot = Slot{InReg: true, Reg: s.bank[depth]}
	} else {
		idx := depth - len(s.bank)
		slot = Slot{InReg: false, Index: idx}
		if idx+1 > s.spillUsed {
			s.spillUsed = idx + 1
		}
	}
	s.entries = append(s.entries, slot)
	if len(s.entries) > s.maxDepth {
		s.maxDepth = len(s.entries)
	}
	return slot
}

// Pop removes and returns the top slot. Returns a diag.StackUnderflow error
// if the stack is already empty.
func (s *Stack) Pop() (Slot, error) {
	if len(s.entries) == 0 {
		return Slot{}, diag.New(diag.StackUnderflow, "", "pop from empty virtual stack")
	}
	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top, nil
}

// Pop2 pops the top two slots in push order: (second-from-top, top), the
// (lhs, rhs) order WAT's binary operators expect.
func (s *Stack) Pop2() (lhs, rhs Slot, err error) {
	rhs, err = s.Pop()
	if err != nil {
		return Slot{}, Slot{}, err
	}
	lhs, err = s.Pop()
	if err != nil {
		return Slot{}, Slot{}, err
	}
	return lhs, rhs, nil
}

// Peek returns the top slot without removing it.
func (s *Stack) Peek() (Slot, error) {
	if len(s.entries) == 0 {
		return Slot{}, diag.New(diag.StackUnderflow, "", "peek on empty virtual stack")
	}
	return s.entries[len(s.entries)-1], nil
}

// PeekAt returns the slot at depth below the top (0 = top), used by
// br_if/select lowering that must inspect a value without consuming
// everything above it.
func (s *Stack) PeekAt(depthFromTop int) (Slot, error) {
	i := len(s.entries) - 1 - depthFromTop
	if i < 0 || i >= len(s.entries) {
		return Slot{}, diag.New(diag.StackUnderflow, "", "peek depth %d exceeds current stack depth %d", depthFromTop, len(s.entries))
	}
	return s.entries[i], nil
}

// Reset clears the stack to empty, retaining MaxDepth for frame sizing.
// Used between straight-line basic blocks where WASM's validation already
// guarantees a known, empty-relative stack height (spec: block/loop entry).
func (s *Stack) Reset() {
	s.entries = s.entries[:0]
}

// Offset computes a spill slot's byte offset from the frame's spill-area
// base, for use as a Mem.Offset operand.
func (s *Stack) Offset(index int) int32 {
	return int32(index * s.slotWidth)
}

// SpillAreaSize returns the number of bytes the spill area must reserve in
// the frame, derived from the high-water mark of spill slot usage.
func (s *Stack) SpillAreaSize() int {
	return s.spillUsed * s.slotWidth
}
