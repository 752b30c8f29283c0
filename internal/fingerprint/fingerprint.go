// Package fingerprint produces a stable, deterministic summary of a Request
// used as a cache key and empirical-learning key. The
// keyword table and domain weighting below follow the category-weighted
// scoring idiom used throughout the example pack's complexity/classifier
// code (e.g. assessComplexity-style closed keyword tables).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/airouter/airouter/internal/types"
)

// domainKeywords is the fixed canonical keyword table mapping domain to the
// keywords that signal it.
var domainKeywords = map[types.Domain][]string{
	types.DomainDataProcessing: {"csv", "json", "parse", "etl", "pipeline", "dataset", "transform"},
	types.DomainFrontend:       {"react", "component", "css", "html", "ui", "dom", "render", "jsx"},
	types.DomainBackend:        {"api", "server", "endpoint", "database", "sql", "handler", "middleware"},
	types.DomainDebugging:      {"bug", "error", "crash", "fix", "stack trace", "exception", "fails"},
	types.DomainArchitecture:   {"architecture", "design", "pattern", "microservice", "scalability", "system"},
	types.DomainFileAnalysis:   {"file", "directory", "analyze", "scan", "repository", "codebase"},
}

var questionTypePatterns = []struct {
	typ types.QuestionType
	re  *regexp.Regexp
}{
	{types.QuestionHowTo, regexp.MustCompile(`(?i)^\s*how (do|can|to|would)\b`)},
	{types.QuestionTroubleshoot, regexp.MustCompile(`(?i)\b(why (is|does|doesn't|won't)|not working|error|broken|fails?)\b`)},
	{types.QuestionImplementation, regexp.MustCompile(`(?i)\b(write|implement|create|build|add)\b`)},
	{types.QuestionExplanation, regexp.MustCompile(`(?i)^\s*(what is|what are|explain|describe)\b`)},
	{types.QuestionAnalysis, regexp.MustCompile(`(?i)\b(analy[sz]e|review|assess|evaluate)\b`)},
}

var codePattern = regexp.MustCompile("```|func |def |class |{\\s*$|;\\s*$")
var jsonPattern = regexp.MustCompile(`(?m)^\s*[{\[]`)

// Fingerprint is pure and deterministic: the same request text always
// yields the same hash.
func Fingerprint(request types.Request) types.Fingerprint {
	text := normalizeWhitespace(request.Prompt + " " + request.Context)
	lower := strings.ToLower(text)

	domain := classifyDomain(lower, request.TaskHint)
	qType := classifyQuestionType(text)
	keywords := matchKeywords(lower, domain)
	complexity := estimateComplexity(lower)
	bucket := lengthBucket(len(text))
	hasCode := codePattern.MatchString(request.Prompt)
	hasJSON := jsonPattern.MatchString(request.Prompt)

	fp := types.Fingerprint{
		Domain:       domain,
		QuestionType: qType,
		Keywords:     keywords,
		Complexity:   complexity,
		LengthBucket: bucket,
		HasCode:      hasCode,
		HasJSON:      hasJSON,
	}
	fp.Hash = computeHash(fp)
	return fp
}

// normalizeWhitespace collapses runs of whitespace so that prompts
// differing only by whitespace reduce to the same signal.
func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func classifyDomain(lower string, hint types.TaskHint) types.Domain {
	if hint == types.TaskDebugging {
		return types.DomainDebugging
	}

	domains := make([]types.Domain, 0, len(domainKeywords))
	for domain := range domainKeywords {
		domains = append(domains, domain)
	}
	sort.Slice(domains, func(i, j int) bool { return domains[i] < domains[j] })

	best := types.DomainGeneral
	bestScore := 0
	for _, domain := range domains {
		words := domainKeywords[domain]
		score := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = domain
		}
	}
	return best
}

func classifyQuestionType(text string) types.QuestionType {
	for _, p := range questionTypePatterns {
		if p.re.MatchString(text) {
			return p.typ
		}
	}
	return types.QuestionGeneral
}

func matchKeywords(lower string, domain types.Domain) []string {
	seen := map[string]bool{}
	var out []string
	for _, words := range domainKeywords {
		for _, w := range words {
			if strings.Contains(lower, w) && !seen[w] {
				seen[w] = true
				out = append(out, w)
			}
		}
	}
	sort.Strings(out)
	return out
}

// estimateComplexity is a cheap length/keyword-density signal used only to
// seed the Fingerprint; the authoritative complexity score is produced by
// internal/classifier.
func estimateComplexity(lower string) float64 {
	score := float64(len(strings.Fields(lower))) / 200.0
	if score > 1 {
		score = 1
	}
	return score
}

func lengthBucket(n int) types.LengthBucket {
	switch {
	case n < 200:
		return types.LengthSmall
	case n < 1000:
		return types.LengthMedium
	default:
		return types.LengthLarge
	}
}

// computeHash derives a canonical string <=64 chars from all fingerprint
// fields: domain, question type, keywords, complexity, length bucket, and
// the has-code/has-json flags.
func computeHash(fp types.Fingerprint) string {
	var b strings.Builder
	b.WriteString(string(fp.Domain))
	b.WriteByte('|')
	b.WriteString(string(fp.QuestionType))
	b.WriteByte('|')
	b.WriteString(strings.Join(fp.Keywords, ","))
	b.WriteByte('|')
	b.WriteString(fmt.Sprintf("%.2f", fp.Complexity))
	b.WriteByte('|')
	b.WriteString(string(fp.LengthBucket))
	b.WriteByte('|')
	if fp.HasCode {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}
	if fp.HasJSON {
		b.WriteByte('1')
	} else {
		b.WriteByte('0')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:32]
}
