package ir

// Mnemonic values below are shared across every target ISA: the lowerers
// (vstack, ctrlflow, funclower) are entirely target-independent and only
// ever emit these. Each isa.Descriptor.Encode implementation maps them onto
// its own concrete instruction encoding.
const (
	OpNop Mnemonic = iota
	OpBreakpoint // traps; used for OpUnreachable lowering

	// Data movement. MOV covers reg<-reg and reg<-imm (Src is Reg or Imm).
	OpMov
	OpLoad         // Dst=Reg, Src=Mem
	OpStore        // Dst=Mem, Src=Reg
	OpPush         // Src=Reg
	OpPop          // Dst=Reg
	OpLoadLabelAddr // Dst=Reg, Src=LabelRef; loads the label's resolved absolute
	// address (not a PC-relative branch displacement) into Dst. Used once per
	// function prologue to materialize the memory-base register, and by
	// ARMv7's literal-pool fallback. Since the container is always
	// position-fixed ("no imports, no relocations"), an absolute
	// load is well-defined once pass 1 has placed every label.

	// Arithmetic / logical. Two-operand form: Dst=Dst op Src (Dst is also a
	// source register, matching the x86 and ARM two/three-address forms the
	// encoders target).
	OpAdd
	OpSub
	OpMul
	OpDivS
	OpDivU
	OpRemS
	OpRemU
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShrS
	OpShrU
	OpNeg

	// Comparison / boolean materialization.
	OpCmp    // sets flags from Dst, Src; no result register
	OpSetCC  // Dst=Reg set to 0/1 per Cond, reading flags from the preceding OpCmp
	OpCMovCC // Dst=Reg <- Src=Reg when Cond holds, else unchanged (x86-64 select)

	// Control flow.
	OpLabel        // placeholder; Label lines are represented by *Label, not *Instr
	OpJump         // Dst=LabelRef, unconditional
	OpBranch       // Dst=LabelRef, conditional on Cond reading flags from preceding OpCmp
	OpCBZ          // Dst=LabelRef, Src=Reg; branch if Src == 0 (no separate compare needed)
	OpCBNZ         // Dst=LabelRef, Src=Reg; branch if Src != 0
	OpCall
	OpCallIndirect // Src=Reg holding the target address
	OpRet

	// Type conversion.
	OpWrap      // i64 -> i32 (truncate)
	OpExtendS32 // i32 -> i64 sign-extend
	OpExtendU32 // i32 -> i64 zero-extend (x86-64: plain 32-bit MOV; writing the low 32 bits zeroes the upper 32)

	// memory.grow sentinel failure / memory.size.
	OpMemSize
	OpMemGrowFail // Dst=Reg always set to -1 (memory.grow always reports sentinel failure)
)

// Cond is a target-independent condition-code selector for OpCmp-consuming
// instructions (OpBranch, OpSetCC, OpCMovCC). Each encoder maps these onto
// its own flag/condition encoding.
type Cond int8

const (
	CondNone Cond = iota
	CondEQ
	CondNE
	CondLtS
	CondLtU
	CondGtS
	CondGtU
	CondLeS
	CondLeU
	CondGeS
	CondGeU
)

// Width selects the operand width an arithmetic/compare/load/store
// instruction operates at. Carried on Instr via the high bit of Cond's
// sibling field would be awkward, so lowerers fold width into the chosen
// Mnemonic's register operands: callers pick 32- vs 64-bit physical
// registers and the encoder infers width from the register id's class
// (see isa package's register classes). ISAs without native 64-bit
// registers (x86-32, x86-16, ARMv7) have no register-pair widening pass:
// i64 arithmetic on those targets is computed in a single 32-bit register,
// silently truncating any carry or value past the low 32 bits.
type Width int8

const (
	Width32 Width = iota
	Width64
)
