// Package ir defines the typed assembly intermediate representation
// produced by the lowerers and consumed by the two-pass assembler: a sum
// type per operand kind (register ids, immediates, label references, and
// base+displacement memory operands) in place of a string-then-regex
// representation. Every label referenced by a branch must be defined
// exactly once within the same function's line sequence.
package ir

import "fmt"

// Register is an opaque, ISA-specific register id. Each ISA package (e.g.
// internal/isa/amd64) defines its own named constants of this type; the
// numeric value only has meaning together with a Target.
type Register uint8

// Mnemonic is an opaque, ISA-specific instruction identifier. Each ISA
// package defines its own constants (e.g. amd64.ADDQ, aarch64.ADD,
// armv7.MOVW) so mnemonic sets never collide across architectures.
type Mnemonic uint16

// Operand is the sum type of operand kinds an Instr can carry. Implemented
// by Reg, Imm, Mem, and LabelRef below; the zero Operand (nil) means "no
// operand" (e.g. the second operand of a unary instruction).
type Operand interface {
	isOperand()
	String() string
}

// Reg is a register operand.
type Reg struct{ R Register }

func (Reg) isOperand()       {}
func (r Reg) String() string { return fmt.Sprintf("r%d", r.R) }

// Imm is a constant-value operand, known at lowering time: never computed
// from label distances, so it never breaks the pass-1/pass-2 size
// invariant.
type Imm struct{ V int64 }

func (Imm) isOperand()       {}
func (i Imm) String() string { return fmt.Sprintf("#%d", i.V) }

// Mem is a base-register-plus-constant-displacement memory operand. The
// lowerers never need scaled-index addressing: WASM's dynamic address and
// linear-memory base are combined into a single base register by an ADD
// before the load/store is emitted.
type Mem struct {
	Base   Register
	Offset int32
}

func (Mem) isOperand()       {}
func (m Mem) String() string { return fmt.Sprintf("[r%d+%d]", m.Base, m.Offset) }

// LabelRef is a symbolic branch/call target, resolved to a byte offset by
// the two-pass assembler's symbol table.
type LabelRef struct{ Name string }

func (LabelRef) isOperand()       {}
func (l LabelRef) String() string { return l.Name }

// Line is either an *Instr or a *Label; both implement Line.
type Line interface {
	isLine()
}

// Label defines a symbolic address at this point in the line sequence. Every
// Label name must be unique within its function.
type Label struct {
	Name string
}

func (*Label) isLine() {}

// Instr is one machine instruction awaiting size estimation (pass 1) and
// encoding (pass 2).
type Instr struct {
	Op   Mnemonic
	Dst  Operand
	Src  Operand
	Src2 Operand // third operand, e.g. shift count or cmov source

	// Cond carries an ISA-specific condition-code selector for conditional
	// instructions (Jcc, CMOVcc, B.cond, ARM condition field). Ignored when
	// the mnemonic is unconditional.
	Cond int8
}

func (*Instr) isLine() {}

// Func is the complete assembly IR for one WAT function: an ordered line
// sequence plus the set of labels it defines, for the assembler to walk.
type Func struct {
	Name  string
	Lines []Line
}

func (f *Func) Label(name string) {
	f.Lines = append(f.Lines, &Label{Name: name})
}

func (f *Func) Emit(in *Instr) {
	f.Lines = append(f.Lines, in)
}
