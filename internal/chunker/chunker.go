// Package chunker splits oversized file content into overlapping,
// token-bounded chunks at language-aware semantic boundaries.
package chunker

import (
	"regexp"
	"strings"

	"github.com/airouter/airouter/internal/types"
)

// Options controls one chunk() call. Token counts are all estimates.
type Options struct {
	TargetTokens  int
	MaxTokens     int
	MinTokens     int
	OverlapTokens int
}

// DefaultOptions mirrors typical endpoint context budgets; callers usually
// derive these from the endpoint in use rather than taking the default.
func DefaultOptions() Options {
	return Options{TargetTokens: 2000, MaxTokens: 3000, MinTokens: 200, OverlapTokens: 100}
}

// EstimateTokens is a byte-based token estimate: ceil(bytes/4).
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// boundaryPatterns finds candidate semantic cut points: blank lines, import
// statements, and the start of a function/class/comment block. Shared
// across languages rather than parsed per-language — only determinism
// given the same input is required.
var boundaryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*$`),                                             // blank line
	regexp.MustCompile(`(?m)^(import|from|use|require|#include)\b`),             // import/export-ish
	regexp.MustCompile(`(?m)^(func|def|class|function|type|struct|fn|public|private|protected)\b`), // def start
	regexp.MustCompile(`(?m)^\s*(//|#|/\*|\*)`),                                 // comment block start
}

// Chunk splits text into Chunks per opts. language is accepted for API
// symmetry with a real parser-backed implementation but the current
// boundary search is language-agnostic (see boundaryPatterns).
func Chunk(text, sourcePath, language string, opts Options) []types.Chunk {
	_ = language
	total := EstimateTokens(text)
	if total <= opts.MaxTokens {
		return []types.Chunk{{
			SourcePath:    sourcePath,
			OrderIndex:    0,
			TokenEstimate: total,
			Text:          text,
			CutAtBoundary: true,
		}}
	}

	lines := strings.Split(text, "\n")
	lineOffsets := make([]int, len(lines)+1)
	for i, l := range lines {
		lineOffsets[i+1] = lineOffsets[i] + len(l) + 1 // +1 for the stripped "\n"
	}
	totalBytes := lineOffsets[len(lines)]

	boundaries := findBoundaryLines(lines)

	var chunks []types.Chunk
	cursorLine := 0
	order := 0
	var prevTailText string

	for cursorLine < len(lines) {
		startByte := lineOffsets[cursorLine]
		targetByte := startByte + opts.TargetTokens*4
		maxByte := startByte + opts.MaxTokens*4

		if targetByte >= totalBytes {
			// remainder fits in one final chunk
			chunkLine := len(lines)
			text, cutAt := buildChunk(lines, lineOffsets, cursorLine, chunkLine, prevTailText, opts)
			est := EstimateTokens(text)
			chunks = append(chunks, types.Chunk{
				SourcePath: sourcePath, OrderIndex: order, TokenEstimate: est,
				Text: text, CutAtBoundary: cutAt, CarryOverTokens: estimateOverlapTokens(prevTailText),
			})
			order++
			break
		}

		cutLine := pickBoundary(lines, boundaries, lineOffsets, cursorLine, targetByte, maxByte, len(lines))
		chunkText, cutAt := buildChunk(lines, lineOffsets, cursorLine, cutLine, prevTailText, opts)
		est := EstimateTokens(chunkText)

		chunks = append(chunks, types.Chunk{
			SourcePath: sourcePath, OrderIndex: order, TokenEstimate: est,
			Text: chunkText, CutAtBoundary: cutAt, CarryOverTokens: estimateOverlapTokens(prevTailText),
		})
		order++

		prevTailText = tailByTokens(joinLines(lines, cursorLine, cutLine), opts.OverlapTokens)
		cursorLine = cutLine
	}

	return mergeShortTail(chunks, opts)
}

func joinLines(lines []string, from, to int) string {
	if from >= to {
		return ""
	}
	return strings.Join(lines[from:to], "\n")
}

func buildChunk(lines []string, _ []int, from, to int, prevTail string, opts Options) (string, bool) {
	body := joinLines(lines, from, to)
	cutAt := to >= len(lines) // whole-remainder chunks are always "at a boundary" (end of file)
	if prevTail != "" {
		body = prevTail + "\n" + body
	}
	return body, cutAt
}

// findBoundaryLines returns the set of line indices (0-based, pointing at
// the line itself) that start a semantic boundary.
func findBoundaryLines(lines []string) map[int]bool {
	out := map[int]bool{}
	for i, l := range lines {
		for _, re := range boundaryPatterns {
			if re.MatchString(l) {
				out[i] = true
				break
			}
		}
	}
	return out
}

// pickBoundary finds the boundary line within +/-10 lines of the target
// byte offset that is closest to target, preferring (on ties) the one after
// a blank line. If none qualify, it cuts at the start of the line that
// contains maxByte (or one line past cursorLine when that is no further);
// a line is never split, so a single line longer than MaxTokens yields an
// oversized chunk.
func pickBoundary(lines []string, boundaries map[int]bool, lineOffsets []int, cursorLine int, targetByte, maxByte int, numLines int) int {
	targetLine := lineForByte(lineOffsets, targetByte)
	maxLine := lineForByte(lineOffsets, maxByte)
	if maxLine >= numLines {
		maxLine = numLines
	}
	if targetLine <= cursorLine {
		targetLine = cursorLine + 1
	}

	best := -1
	bestDist := -1
	bestAfterBlank := false
	window := 10

	lo := targetLine - window
	if lo < cursorLine+1 {
		lo = cursorLine + 1
	}
	hi := targetLine + window
	if hi > maxLine {
		hi = maxLine
	}

	for i := lo; i <= hi && i < numLines; i++ {
		if !boundaries[i] {
			continue
		}
		dist := i - targetLine
		if dist < 0 {
			dist = -dist
		}
		afterBlank := i > 0 && strings.TrimSpace(lines[i-1]) == ""
		if best == -1 || dist < bestDist || (dist == bestDist && afterBlank && !bestAfterBlank) {
			best = i
			bestDist = dist
			bestAfterBlank = afterBlank
		}
	}

	if best != -1 {
		return best
	}
	if maxLine > cursorLine {
		return maxLine
	}
	return cursorLine + 1
}

func lineForByte(lineOffsets []int, b int) int {
	for i := 0; i < len(lineOffsets)-1; i++ {
		if lineOffsets[i] <= b && b < lineOffsets[i+1] {
			return i
		}
	}
	return len(lineOffsets) - 1
}

// estimateOverlapTokens returns the token estimate carried over as a prefix
// from the previous chunk.
func estimateOverlapTokens(prevTail string) int {
	if prevTail == "" {
		return 0
	}
	return EstimateTokens(prevTail)
}

// tailByTokens returns the suffix of s worth approximately n tokens.
func tailByTokens(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	byteBudget := n * 4
	if byteBudget >= len(s) {
		return s
	}
	return s[len(s)-byteBudget:]
}

// mergeShortTail merges a too-short terminal chunk into its predecessor
// unless doing so would exceed MaxTokens, in which case it is left as-is.
func mergeShortTail(chunks []types.Chunk, opts Options) []types.Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	if last.TokenEstimate >= opts.MinTokens {
		return chunks
	}
	prev := chunks[len(chunks)-2]
	combinedEstimate := prev.TokenEstimate + last.TokenEstimate
	if combinedEstimate > opts.MaxTokens {
		return chunks
	}
	merged := types.Chunk{
		SourcePath:      prev.SourcePath,
		OrderIndex:       prev.OrderIndex,
		TokenEstimate:    EstimateTokens(prev.Text + "\n" + last.Text),
		Text:             prev.Text + "\n" + last.Text,
		CutAtBoundary:    last.CutAtBoundary,
		CarryOverTokens:  prev.CarryOverTokens,
	}
	out := append([]types.Chunk{}, chunks[:len(chunks)-2]...)
	out = append(out, merged)
	for i := range out {
		out[i].OrderIndex = i
	}
	return out
}
