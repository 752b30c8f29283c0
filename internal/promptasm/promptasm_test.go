package promptasm

import (
	"strings"
	"testing"

	"github.com/airouter/airouter/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func endpoint(ctxTokens, respTokens int) types.Endpoint {
	return types.Endpoint{Name: "local", MaxContextTokens: ctxTokens, MaxResponseTokens: respTokens}
}

func TestAssemble_IncludesPromptAndFiles(t *testing.T) {
	req := types.Request{Prompt: "Summarize this file."}
	files := []types.FileUnit{
		{Path: "a.go", Language: "go", Content: "package main", ComplexityBucket: "medium", Size: 500},
	}

	got := Assemble(req, endpoint(8000, 1000), files)

	assert.Contains(t, got.PromptText, "Summarize this file.")
	assert.Contains(t, got.PromptText, "a.go")
	assert.Contains(t, got.PromptText, "package main")
}

func TestAssemble_OmitsFilesBeyondBudgetWithSentinel(t *testing.T) {
	req := types.Request{Prompt: "short"}
	big := strings.Repeat("x", 20000)
	files := []types.FileUnit{
		{Path: "a.go", Language: "go", Content: big, ComplexityBucket: "high", Size: int64(len(big))},
		{Path: "b.go", Language: "go", Content: big, ComplexityBucket: "high", Size: int64(len(big))},
		{Path: "c.go", Language: "go", Content: big, ComplexityBucket: "high", Size: int64(len(big))},
	}

	got := Assemble(req, endpoint(2000, 500), files)
	assert.Contains(t, got.PromptText, "omitted")
}

func TestAssemble_PrefersHigherComplexityFileFirst(t *testing.T) {
	req := types.Request{Prompt: "p"}
	files := []types.FileUnit{
		{Path: "low.go", Language: "go", Content: "low", ComplexityBucket: "low", Size: 10},
		{Path: "high.go", Language: "go", Content: "high", ComplexityBucket: "high", Size: 10},
	}

	got := Assemble(req, endpoint(8000, 500), files)
	idxHigh := strings.Index(got.PromptText, "high.go")
	idxLow := strings.Index(got.PromptText, "low.go")
	require.NotEqual(t, -1, idxHigh)
	require.NotEqual(t, -1, idxLow)
	assert.Less(t, idxHigh, idxLow)
}

func TestAssemble_RespectsMaxTokensOverride(t *testing.T) {
	override := 50
	req := types.Request{Prompt: "p", MaxTokensOverride: &override}
	got := Assemble(req, endpoint(8000, 1000), nil)
	assert.Equal(t, 50, got.AdvisoryMaxTokens)
}

// TestAssemble_SendsOnlyTopRankedChunk covers §4.4: when a file has
// pre-computed chunks, only the top-ranked chunk is emitted.
func TestAssemble_SendsOnlyTopRankedChunk(t *testing.T) {
	req := types.Request{Prompt: "p"}
	files := []types.FileUnit{
		{
			Path: "big.go", Language: "go", ComplexityBucket: "high", Size: 10,
			Chunks: []types.Chunk{
				{OrderIndex: 0, Text: "CHUNK_ZERO"},
				{OrderIndex: 1, Text: "CHUNK_ONE"},
			},
		},
	}

	got := Assemble(req, endpoint(8000, 500), files)
	assert.Contains(t, got.PromptText, "CHUNK_ZERO")
	assert.NotContains(t, got.PromptText, "CHUNK_ONE")
}
