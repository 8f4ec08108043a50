package isa_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmback/wasmback/internal/isa"
)

func TestParseTargetAcceptsCanonicalAndAliasNames(t *testing.T) {
	cases := map[string]isa.Target{
		"x86_64":  isa.X86_64,
		"amd64":   isa.X86_64,
		"x86_32":  isa.X86_32,
		"386":     isa.X86_32,
		"x86_16":  isa.X86_16,
		"aarch64": isa.AArch64,
		"arm64":   isa.AArch64,
		"armv7":   isa.ARMv7,
		"arm":     isa.ARMv7,
	}
	for name, want := range cases {
		got, ok := isa.ParseTarget(name)
		require.True(t, ok, name)
		require.Equal(t, want, got, name)
	}
}

func TestParseTargetRejectsUnknownName(t *testing.T) {
	_, ok := isa.ParseTarget("riscv64")
	require.False(t, ok)
}

func TestTargetStringNames(t *testing.T) {
	require.Equal(t, "x86_64", isa.X86_64.String())
	require.Equal(t, "armv7", isa.ARMv7.String())
}

func TestBranchRangeUnscaled(t *testing.T) {
	br := isa.BranchRange{FieldBits: 8}
	min, max := br.Range()
	require.Equal(t, int64(-128), min)
	require.Equal(t, int64(127), max)
}

func TestBranchRangeScaledByQuantum(t *testing.T) {
	// AArch64 B: 26-bit signed field, scaled by instruction quantum 4.
	br := isa.BranchRange{FieldBits: 26, Scaled: true, Quantum: 4}
	min, max := br.Range()
	require.Equal(t, int64(-1)<<27, min)
	require.Equal(t, (int64(1)<<27)-4, max)
}
