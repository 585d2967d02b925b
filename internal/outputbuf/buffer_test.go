package outputbuf

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWithinFirstLimitStreamsEverything(t *testing.T) {
	b := New(10, 10)
	out := b.Append("hello")
	assert.Equal(t, "hello", out)
	assert.Empty(t, b.TruncationNotice())
}

func TestAppendOverflowTruncates(t *testing.T) {
	b := New(5, 5)
	first := b.Append("abcdefghij")
	assert.Equal(t, "abcde", first)

	notice := b.TruncationNotice()
	require.NotEmpty(t, notice)
	assert.Contains(t, notice, "truncated")
	assert.Contains(t, notice, "fghij")

	// second call returns empty — notice is one-shot.
	assert.Empty(t, b.TruncationNotice())
}

func TestResetForInteractionFreezesSegment(t *testing.T) {
	b := New(100, 100)
	b.Append("line one")
	require.Equal(t, 0, b.SegmentCount())
	b.ResetForInteraction()
	require.Equal(t, 1, b.SegmentCount())

	b.Append("line two")
	out := b.GetOutput()
	assert.True(t, strings.Contains(out, "line one"))
	assert.True(t, strings.Contains(out, "line two"))
}

func TestGetOutputBoundedBySumOfLimits(t *testing.T) {
	b := New(10, 10)
	b.Append(strings.Repeat("x", 1000))
	out := b.GetOutput()
	assert.LessOrEqual(t, len(out), 10+10+64)
}
