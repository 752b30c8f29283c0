package chunker

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChunk_FitsInSingleChunk verifies content under max_tokens returns
// exactly one chunk equal to the original content.
func TestChunk_FitsInSingleChunk(t *testing.T) {
	text := "package main\n\nfunc main() {}\n"
	opts := Options{TargetTokens: 1000, MaxTokens: 2000, MinTokens: 50, OverlapTokens: 20}

	chunks := Chunk(text, "a.go", "go", opts)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
	assert.True(t, chunks[0].CutAtBoundary)
}

// TestChunk_OversizeSplitsWithOverlap verifies large input yields multiple
// chunks, each within MaxTokens, with overlap recorded.
func TestChunk_OversizeSplitsWithOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 4000; i++ {
		b.WriteString("function doThing")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("() {\n    return 1;\n}\n\n")
	}
	text := b.String()

	opts := Options{TargetTokens: 2000, MaxTokens: 2500, MinTokens: 500, OverlapTokens: 50}
	chunks := Chunk(text, "big.js", "javascript", opts)

	require.GreaterOrEqual(t, len(chunks), 2)
	for i, c := range chunks {
		assert.LessOrEqual(t, c.TokenEstimate, opts.MaxTokens+opts.OverlapTokens+5, "chunk %d exceeds budget", i)
		if i > 0 {
			assert.GreaterOrEqual(t, c.CarryOverTokens, opts.OverlapTokens)
		}
	}
}

func TestChunk_TerminalShortChunkMerged(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 300; i++ {
		b.WriteString("def f")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("():\n    pass\n\n")
	}
	text := b.String()
	opts := Options{TargetTokens: 800, MaxTokens: 1200, MinTokens: 300, OverlapTokens: 20}

	chunks := Chunk(text, "m.py", "python", opts)
	require.GreaterOrEqual(t, len(chunks), 2)
	for _, c := range chunks {
		assert.GreaterOrEqual(t, c.TokenEstimate, opts.MinTokens)
	}
}

func TestEstimateTokens_IsCeilBytesOverFour(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("a"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}

