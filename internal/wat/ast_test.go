package wat_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/wasmback/wasmback/internal/wat"
)

func TestValueTypeStringAndSize(t *testing.T) {
	require.Equal(t, "i32", wat.I32.String())
	require.Equal(t, 4, wat.I32.Size())
	require.Equal(t, "i64", wat.I64.String())
	require.Equal(t, 8, wat.I64.Size())
	require.Equal(t, "f32", wat.F32.String())
	require.Equal(t, 4, wat.F32.Size())
	require.Equal(t, "f64", wat.F64.String())
	require.Equal(t, 8, wat.F64.Size())
}

func TestNumLocalSlotsCountsParamsAndLocals(t *testing.T) {
	fn := &wat.Function{
		Params: []wat.ValueType{wat.I32, wat.I32},
		Locals: []wat.ValueType{wat.I64},
	}
	require.Equal(t, 3, fn.NumLocalSlots())
}

func TestModuleStructuralEqualityAcrossEquivalentConstructions(t *testing.T) {
	// Two Modules assembled through different code paths (append-as-you-go
	// vs a single composite literal) that describe the same function list,
	// global list and type table should be indistinguishable structurally.
	add := &wat.Function{
		Name:    "add",
		Params:  []wat.ValueType{wat.I32, wat.I32},
		Results: []wat.ValueType{wat.I32},
		Body: []wat.Instr{
			{Op: wat.OpLocalGet, Index: 0},
			{Op: wat.OpLocalGet, Index: 1},
			{Op: wat.OpAdd, Type: wat.I32},
		},
	}

	built := &wat.Module{MemoryBase: "$memory"}
	built.Globals = append(built.Globals, wat.Global{Name: "$memory", Type: wat.I32, Mutable: true})
	built.Types = append(built.Types, wat.FuncType{Params: []wat.ValueType{wat.I32, wat.I32}, Results: []wat.ValueType{wat.I32}})
	built.Functions = append(built.Functions, add)

	want := &wat.Module{
		Functions:  []*wat.Function{add},
		MemoryBase: "$memory",
		Globals:    []wat.Global{{Name: "$memory", Type: wat.I32, Mutable: true}},
		Types:      []wat.FuncType{{Params: []wat.ValueType{wat.I32, wat.I32}, Results: []wat.ValueType{wat.I32}}},
	}

	if diff := cmp.Diff(want, built); diff != "" {
		t.Fatalf("Module assembled incrementally diverged from the equivalent literal (-want +got):\n%s", diff)
	}
}

func TestLocalTypeResolvesAcrossParamsAndLocals(t *testing.T) {
	fn := &wat.Function{
		Params: []wat.ValueType{wat.I32, wat.I64},
		Locals: []wat.ValueType{wat.F32},
	}
	require.Equal(t, wat.I32, fn.LocalType(0))
	require.Equal(t, wat.I64, fn.LocalType(1))
	require.Equal(t, wat.F32, fn.LocalType(2))
}
