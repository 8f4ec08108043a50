package funclower_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmback/wasmback/internal/funclower"
	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa/amd64"
	"github.com/wasmback/wasmback/internal/wat"
)

func moduleOf(fns ...*wat.Function) *wat.Module {
	return &wat.Module{Functions: fns, MemoryBase: "$memory"}
}

func countOp(fn *ir.Func, op ir.Mnemonic) int {
	n := 0
	for _, l := range fn.Lines {
		if in, ok := l.(*ir.Instr); ok && in.Op == op {
			n++
		}
	}
	return n
}

func TestCompileEmptyFunctionEndsInRet(t *testing.T) {
	wfn := &wat.Function{Name: "f"}
	fn, err := funclower.Compile(wfn, moduleOf(wfn), amd64.New())
	require.NoError(t, err)
	require.NotEmpty(t, fn.Lines)
	last, ok := fn.Lines[len(fn.Lines)-1].(*ir.Instr)
	require.True(t, ok)
	require.Equal(t, ir.OpRet, last.Op)
}

func TestCompileFallthroughResultMovesToReturnRegister(t *testing.T) {
	wfn := &wat.Function{
		Name:    "const",
		Results: []wat.ValueType{wat.I32},
		Body:    []wat.Instr{{Op: wat.OpConst, ConstI64: 7}},
	}
	fn, err := funclower.Compile(wfn, moduleOf(wfn), amd64.New())
	require.NoError(t, err)

	found := false
	for _, l := range fn.Lines {
		if in, ok := l.(*ir.Instr); ok && in.Op == ir.OpMov {
			if dst, ok := in.Dst.(ir.Reg); ok && dst.R == amd64.RAX {
				found = true
			}
		}
	}
	require.True(t, found, "expected a mov into RAX for the implicit fallthrough result")
}

func TestCompileExplicitReturnJumpsToEpilogue(t *testing.T) {
	wfn := &wat.Function{
		Name:    "early",
		Results: []wat.ValueType{wat.I32},
		Body: []wat.Instr{
			{Op: wat.OpConst, ConstI64: 1},
			{Op: wat.OpReturn},
		},
	}
	fn, err := funclower.Compile(wfn, moduleOf(wfn), amd64.New())
	require.NoError(t, err)
	require.Equal(t, 1, countOp(fn, ir.OpJump))
}

func TestCompilePrologueStoresParamsToLocalSlots(t *testing.T) {
	wfn := &wat.Function{
		Name:   "add",
		Params: []wat.ValueType{wat.I32, wat.I32},
		Body: []wat.Instr{
			{Op: wat.OpLocalGet, Index: 0},
			{Op: wat.OpLocalGet, Index: 1},
			{Op: wat.OpAdd},
		},
	}
	fn, err := funclower.Compile(wfn, moduleOf(wfn), amd64.New())
	require.NoError(t, err)
	// Two param stores (RDI, RSI) land before any local.get reload.
	require.GreaterOrEqual(t, countOp(fn, ir.OpStore), 2)
}

func TestCompileSavesAndRestoresCalleeSavedRegisters(t *testing.T) {
	wfn := &wat.Function{Name: "f"}
	fn, err := funclower.Compile(wfn, moduleOf(wfn), amd64.New())
	require.NoError(t, err)

	saves := countOp(fn, ir.OpStore)
	restores := countOp(fn, ir.OpLoad)
	require.Equal(t, saves, restores, "every saved callee-saved register must be restored")
	require.Greater(t, saves, 0)
}

func TestCompileCallMarshalsArgsIntoRegisters(t *testing.T) {
	callee := &wat.Function{Name: "callee", Params: []wat.ValueType{wat.I32}, Results: []wat.ValueType{wat.I32}}
	caller := &wat.Function{
		Name: "caller",
		Body: []wat.Instr{
			{Op: wat.OpConst, ConstI64: 9},
			{Op: wat.OpCall, FuncIndex: 0},
		},
	}
	mod := moduleOf(callee, caller)
	fn, err := funclower.Compile(caller, mod, amd64.New())
	require.NoError(t, err)
	require.Equal(t, 1, countOp(fn, ir.OpCall))
}

func TestCompileCallIndirectStashesTargetAcrossMarshal(t *testing.T) {
	caller := &wat.Function{
		Name: "caller",
		Body: []wat.Instr{
			{Op: wat.OpConst, ConstI64: 3},
			{Op: wat.OpConst, ConstI64: 0},
			{Op: wat.OpCallIndirect, TypeIndex: 0},
		},
	}
	mod := moduleOf(caller)
	mod.Types = []wat.FuncType{{Params: []wat.ValueType{wat.I32}}}
	fn, err := funclower.Compile(caller, mod, amd64.New())
	require.NoError(t, err)
	require.Equal(t, 1, countOp(fn, ir.OpCallIndirect))
}
