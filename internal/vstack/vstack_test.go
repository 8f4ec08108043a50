package vstack_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmback/wasmback/internal/ir"
	"github.com/wasmback/wasmback/internal/isa"
	"github.com/wasmback/wasmback/internal/vstack"
)

func testABI() isa.ABI {
	return isa.ABI{VStackBank: []ir.Register{1, 2}, SlotWidth: 8}
}

func TestPushFillsBankBeforeSpilling(t *testing.T) {
	s := vstack.New(testABI())

	a := s.Push()
	b := s.Push()
	c := s.Push()

	require.True(t, a.InReg)
	require.True(t, b.InReg)
	require.False(t, c.InReg)
	require.Equal(t, 0, c.Index)
	require.Equal(t, 3, s.Depth())
	require.Equal(t, 3, s.MaxDepth())
}

func TestPopReleasesInReverseOrder(t *testing.T) {
	s := vstack.New(testABI())
	s.Push()
	second := s.Push()

	top, err := s.Pop()
	require.NoError(t, err)
	require.Equal(t, second, top)
	require.Equal(t, 1, s.Depth())
}

func TestPop2OrdersLhsThenRhs(t *testing.T) {
	s := vstack.New(testABI())
	lhsPushed := s.Push()
	rhsPushed := s.Push()

	lhs, rhs, err := s.Pop2()
	require.NoError(t, err)
	require.Equal(t, lhsPushed, lhs)
	require.Equal(t, rhsPushed, rhs)
	require.Equal(t, 0, s.Depth())
}

func TestPopEmptyReturnsStackUnderflow(t *testing.T) {
	s := vstack.New(testABI())
	_, err := s.Pop()
	require.Error(t, err)
}

func TestSpillAreaSizeTracksHighWaterMark(t *testing.T) {
	s := vstack.New(testABI())
	for i := 0; i < 5; i++ {
		s.Push()
	}
	require.Equal(t, 3*8, s.SpillAreaSize()) // 2 bank slots, 3 spilled

	for i := 0; i < 5; i++ {
		_, err := s.Pop()
		require.NoError(t, err)
	}
	s.Push() // re-push after full drain must not grow the high-water mark
	require.Equal(t, 3*8, s.SpillAreaSize())
}

func TestResetClearsDepthNotHighWaterMark(t *testing.T) {
	s := vstack.New(testABI())
	s.Push()
	s.Push()
	s.Push()
	s.Reset()
	require.Equal(t, 0, s.Depth())
	require.Equal(t, 3, s.MaxDepth())
}

func TestPeekAtResolvesFromTop(t *testing.T) {
	s := vstack.New(testABI())
	first := s.Push()
	s.Push()

	got, err := s.PeekAt(1)
	require.NoError(t, err)
	require.Equal(t, first, got)
}
