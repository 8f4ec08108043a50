// Package wat defines the abstract syntax tree delivered by the (external)
// WAT lexer/parser. Nothing in this package parses text; it only describes
// the shape the front-end must produce, and the shape the lowering pipeline
// consumes.
package wat

// ValueType is one of the four WASM value types. Width drives register-width
// selection at lowering time.
type ValueType byte

const (
	I32 ValueType = iota
	I64
	F32
	F64
)

func (t ValueType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "unknown"
	}
}

// Size returns the width of t in bytes.
func (t ValueType) Size() int {
	switch t {
	case I32, F32:
		return 4
	case I64, F64:
		return 8
	default:
		return 0
	}
}

// Global is a module-scoped global variable declaration. Per E.3, the index
// space is flat across module-defined and externally-imported globals; an
// imported global simply carries Imported=true and no initializer.
type Global struct {
	Name     string
	Type     ValueType
	Mutable  bool
	Imported bool
	Init     int64 // constant initializer, ignored when Imported
}

// Function is one WAT function: identifier, typed parameter/result/local
// lists, and an ordered instruction body. The result list has 0 or 1 entries
// in the scope this backend covers.
type Function struct {
	Name    string
	Params  []ValueType
	Results []ValueType
	Locals  []ValueType // additional locals declared after params, same index space
	Body    []Instr
}

// NumLocalSlots is the total count of parameter + declared-local slots.
func (f *Function) NumLocalSlots() int {
	return len(f.Params) + len(f.Locals)
}

// LocalType returns the value type of local slot index i (0-based, params first).
func (f *Function) LocalType(i int) ValueType {
	if i < len(f.Params) {
		return f.Params[i]
	}
	return f.Locals[i-len(f.Params)]
}

// FuncType is a call_indirect signature: the table of these a module
// declares is indexed by Instr.TypeIndex, mirroring WASM's type section
// closely enough to size an indirect call's argument marshaling without
// carrying the rest of the type-checking machinery this backend doesn't
// need (validation already happened upstream of this AST).
type FuncType struct {
	Params  []ValueType
	Results []ValueType
}

// Module is the top-level unit handed to the pipeline driver.
type Module struct {
	Functions  []*Function
	MemoryBase string // symbolic reference to the linear memory base, see Global semantics
	Globals    []Global
	Types      []FuncType // indexed by Instr.TypeIndex, for call_indirect arity
}

// Op is the tagged opcode of an Instr.
type Op int

const (
	OpUnreachable Op = iota
	OpNop
	OpDrop
	OpSelect

	// Control flow.
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpBrTable
	OpReturn
	OpCall
	OpCallIndirect

	// Locals / globals.
	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	// Memory.
	OpLoad
	OpStore
	OpMemorySize
	OpMemoryGrow

	// Constants.
	OpConst

	// Arithmetic / logical / comparison (generic; Type field on Instr selects width).
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
	OpEqz
	OpEq
	OpNe
	OpLtS
	OpLtU
	OpGtS
	OpGtU
	OpLeS
	OpLeU
	OpGeS
	OpGeU

	// Conversions.
	OpWrap       // i64 -> i32
	OpExtendSI32 // i32 -> i64 signed
	OpExtendUI32 // i32 -> i64 unsigned
)

// Instr is a single tagged WAT instruction. Not every field is meaningful for
// every Op; see the Op-specific comments.
type Instr struct {
	Op   Op
	Type ValueType // operand width for arithmetic/compare/load/store/const

	// OpConst
	ConstI64 int64

	// OpLocalGet/Set/Tee, OpGlobalGet/Set
	Index uint32

	// OpLoad/OpStore
	Offset uint32
	Align  uint32

	// OpBr/OpBrIf: break depth, counted from the innermost enclosing construct.
	Depth uint32
	// OpBrTable
	Targets []uint32
	Default uint32

	// OpBlock/OpLoop/OpIf: result type carried by the construct (0 or 1 value).
	BlockResult  []ValueType
	HasBlockType bool

	// OpCall
	FuncIndex uint32
	// OpCallIndirect
	TypeIndex uint32
}
