// Package promptasm assembles the outbound prompt for an endpoint from a
// request and its analyzed file inputs, within the endpoint's token budget
//.
package promptasm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/airouter/airouter/internal/chunker"
	"github.com/airouter/airouter/internal/types"
)

const safetyMarginTokens = 512

var sourceExtensions = map[string]bool{
	"go": true, "python": true, "javascript": true, "typescript": true,
	"java": true, "c": true, "cpp": true, "rust": true, "ruby": true,
	"php": true, "csharp": true, "swift": true, "kotlin": true, "scala": true,
}

// Assembled is the result of Assemble.
type Assembled struct {
	PromptText        string
	AdvisoryMaxTokens int
}

// Assemble builds the outbound prompt text for endpoint from request and
// the already-analyzed fileUnits.
func Assemble(request types.Request, endpoint types.Endpoint, fileUnits []types.FileUnit) Assembled {
	budget := endpoint.MaxContextTokens - endpoint.MaxResponseTokens - safetyMarginTokens
	if budget < 0 {
		budget = 0
	}

	var b strings.Builder
	b.WriteString(request.Prompt)
	if request.Context != "" {
		b.WriteString("\n\n")
		b.WriteString(request.Context)
	}
	used := chunker.EstimateTokens(b.String())

	ordered := rankFiles(fileUnits)
	omitted := 0

	for _, f := range ordered {
		section := renderFileSection(f)
		sectionTokens := chunker.EstimateTokens(section)

		if used+sectionTokens <= budget {
			b.WriteString(section)
			used += sectionTokens
			continue
		}

		remaining := budget - used
		if remaining <= 0 {
			omitted++
			continue
		}

		truncated := truncateToBudget(f, remaining)
		if truncated == "" {
			omitted++
			continue
		}
		b.WriteString(truncated)
		used += chunker.EstimateTokens(truncated)
	}

	if omitted > 0 {
		sentinel := fmt.Sprintf("\n\n[note: %d file(s) omitted to fit the context budget]\n", omitted)
		b.WriteString(sentinel)
		used += chunker.EstimateTokens(sentinel)
	}

	responseMax := endpoint.MaxResponseTokens
	if request.MaxTokensOverride != nil && *request.MaxTokensOverride < responseMax {
		responseMax = *request.MaxTokensOverride
	}

	return Assembled{PromptText: b.String(), AdvisoryMaxTokens: responseMax}
}

func renderFileSection(f types.FileUnit) string {
	body := f.Content
	if len(f.Chunks) > 0 {
		body = topRankedChunk(f.Chunks).Text
	}
	return fmt.Sprintf("\n\n--- file: %s (%s) ---\n%s\n", f.Path, f.Language, body)
}

func topRankedChunk(chunks []types.Chunk) types.Chunk {
	best := chunks[0]
	for _, c := range chunks[1:] {
		if c.OrderIndex < best.OrderIndex {
			best = c
		}
	}
	return best
}

func truncateToBudget(f types.FileUnit, remainingTokens int) string {
	if remainingTokens <= 0 {
		return ""
	}
	body := f.Content
	if len(f.Chunks) > 0 {
		body = topRankedChunk(f.Chunks).Text
	}
	chunks := chunker.Chunk(body, f.Path, f.Language, chunker.Options{
		TargetTokens: remainingTokens, MaxTokens: remainingTokens, MinTokens: 1, OverlapTokens: 0,
	})
	if len(chunks) == 0 {
		return ""
	}
	return fmt.Sprintf("\n\n--- file: %s (%s, truncated) ---\n%s\n", f.Path, f.Language, chunks[0].Text)
}

// rankFiles orders files by descending priority score: higher complexity
// bucket, then source-language extensions over markup, then moderate file
// size (1 KiB - 50 KiB preferred).
func rankFiles(files []types.FileUnit) []types.FileUnit {
	out := append([]types.FileUnit(nil), files...)
	sort.SliceStable(out, func(i, j int) bool {
		return priorityScore(out[i]) > priorityScore(out[j])
	})
	return out
}

func priorityScore(f types.FileUnit) float64 {
	score := 0.0
	switch f.ComplexityBucket {
	case "high":
		score += 3
	case "medium":
		score += 2
	case "low":
		score += 1
	}
	if sourceExtensions[f.Language] {
		score += 2
	}
	const kib = 1024
	size := float64(f.Size)
	switch {
	case size >= kib && size <= 50*kib:
		score += 1
	case size < kib:
		score += 0.5
	default:
		score += 0.1
	}
	return score
}
