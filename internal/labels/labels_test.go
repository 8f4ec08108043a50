package labels_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wasmback/wasmback/internal/labels"
)

func TestBlockBreakLabelIsEndLabel(t *testing.T) {
	s := labels.New()
	f := s.PushBlock(false)
	require.Equal(t, f.EndLabel, f.BreakLabel)
}

func TestLoopBreakLabelIsStartNotEnd(t *testing.T) {
	s := labels.New()
	f := s.PushLoop("loop_start_1", true)
	require.Equal(t, "loop_start_1", f.BreakLabel)
	require.NotEqual(t, f.EndLabel, f.BreakLabel)
}

func TestIfHasDistinctElseAndEndLabels(t *testing.T) {
	s := labels.New()
	f := s.PushIf(false)
	require.NotEmpty(t, f.ElseLabel)
	require.NotEqual(t, f.ElseLabel, f.EndLabel)
	require.Equal(t, f.EndLabel, f.BreakLabel)
}

func TestAtResolvesInnermostAsDepthZero(t *testing.T) {
	s := labels.New()
	outer := s.PushBlock(false)
	inner := s.PushLoop("l", false)

	got, ok := s.At(0)
	require.True(t, ok)
	require.Equal(t, inner, got)

	got, ok = s.At(1)
	require.True(t, ok)
	require.Equal(t, outer, got)

	_, ok = s.At(2)
	require.False(t, ok)
}

func TestPopReturnsInnermostFirst(t *testing.T) {
	s := labels.New()
	s.PushBlock(false)
	inner := s.PushIf(false)

	got, ok := s.Pop()
	require.True(t, ok)
	require.Equal(t, inner, got)
	require.Equal(t, 1, s.Depth())
}

func TestPopEmptyReportsNotOk(t *testing.T) {
	s := labels.New()
	_, ok := s.Pop()
	require.False(t, ok)
}

func TestNextLabelNamesAreUniqueWithinFunction(t *testing.T) {
	s := labels.New()
	a := s.NextLabel("x")
	b := s.NextLabel("x")
	require.NotEqual(t, a, b)
}
