// Package classifier scores a request's complexity and matches simple and
// complex intent patterns. The weighted keyword-category scoring and
// closed pattern sets follow the idiom of typical complexity-assessment
// heuristics (category -> weight tables, capped additive scoring), adapted
// to a fixed, deterministic rule set.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/airouter/airouter/internal/types"
)

// Intent is the classifier's advisory verdict. It never forbids an
// endpoint by itself.
type Intent string

const (
	IntentSimple    Intent = "simple"
	IntentComplex   Intent = "complex"
	IntentAmbiguous Intent = "ambiguous"
)

// Result is the classifier's output.
type Result struct {
	Score           float64
	Intent          Intent
	MatchedPatterns []string
	Reason          string
}

type weightedPattern struct {
	pattern string
	re      *regexp.Regexp
	weight  float64
}

// simplePatterns and complexPatterns are the two closed intent pattern
// sets, each carrying a weight; the highest-weighted match per set is the
// primary signal.
var simplePatterns = []weightedPattern{
	{pattern: "fix typo", re: regexp.MustCompile(`(?i)\bfix (a |this )?typo\b`), weight: 0.9},
	{pattern: "rename", re: regexp.MustCompile(`(?i)\brename\b`), weight: 0.8},
	{pattern: "what is", re: regexp.MustCompile(`(?i)\bwhat is\b`), weight: 0.6},
	{pattern: "simple function", re: regexp.MustCompile(`(?i)\b(write|add) a (simple |small )?function\b`), weight: 0.7},
	{pattern: "format code", re: regexp.MustCompile(`(?i)\bformat (the |this )?code\b`), weight: 0.6},
}

var complexPatterns = []weightedPattern{
	{pattern: "design system", re: regexp.MustCompile(`(?i)\bdesign (a |the )?(system|architecture)\b`), weight: 0.95},
	{pattern: "refactor across", re: regexp.MustCompile(`(?i)\brefactor\b.*\bacross\b`), weight: 0.85},
	{pattern: "migrate", re: regexp.MustCompile(`(?i)\bmigrat(e|ion)\b`), weight: 0.8},
	{pattern: "multi-service", re: regexp.MustCompile(`(?i)\b(multi[- ]service|microservices?)\b`), weight: 0.85},
	{pattern: "end-to-end", re: regexp.MustCompile(`(?i)\bend[- ]to[- ]end\b`), weight: 0.7},
}

// complexityCategories is the closed set of complexity-indicator keyword
// categories with per-category weights.
var complexityCategories = map[string]struct {
	weight   float64
	keywords []string
}{
	"architectural": {0.25, []string{"architecture", "design pattern", "scalability", "distributed"}},
	"coordination":  {0.15, []string{"coordinate", "synchronize", "orchestrate"}},
	"enterprise":    {0.2, []string{"enterprise", "compliance", "audit", "governance"}},
	"integration":   {0.2, []string{"integrate", "integration", "third-party", "external api"}},
	"planning":      {0.2, []string{"plan", "roadmap", "phased", "milestone"}},
}

// Classify scores request and returns its advisory intent.
func Classify(request types.Request) Result {
	prompt := request.Prompt
	lower := strings.ToLower(prompt)

	simpleConf, simpleMatch := bestMatch(lower, simplePatterns)
	complexConf, complexMatch := bestMatch(lower, complexPatterns)

	complexityScore := 0.0
	var matched []string
	names := make([]string, 0, len(complexityCategories))
	for name := range complexityCategories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cat := complexityCategories[name]
		for _, kw := range cat.keywords {
			if strings.Contains(lower, kw) {
				complexityScore += cat.weight
				matched = append(matched, name)
				break
			}
		}
	}

	lengthFactor := float64(len(prompt)) / 1000.0
	if lengthFactor > 0.3 {
		lengthFactor = 0.3
	}

	score := clamp01(complexConf + complexityScore + lengthFactor)

	var intent Intent
	var reason string
	switch {
	case complexConf > 0.7:
		intent = IntentComplex
		reason = "complex intent pattern matched with high confidence: " + complexMatch
	case score >= 0.6:
		intent = IntentComplex
		reason = "aggregate complexity score >= 0.6"
	case simpleConf > 0.7 && score < 0.3:
		intent = IntentSimple
		reason = "simple intent pattern matched with high confidence: " + simpleMatch
	default:
		intent = IntentAmbiguous
		reason = "no pattern reached its confidence threshold"
	}

	var allMatched []string
	if simpleMatch != "" {
		allMatched = append(allMatched, simpleMatch)
	}
	if complexMatch != "" {
		allMatched = append(allMatched, complexMatch)
	}
	allMatched = append(allMatched, matched...)

	return Result{Score: score, Intent: intent, MatchedPatterns: allMatched, Reason: reason}
}

func bestMatch(lower string, patterns []weightedPattern) (float64, string) {
	best := 0.0
	bestName := ""
	for _, p := range patterns {
		if p.re.MatchString(lower) && p.weight > best {
			best = p.weight
			bestName = p.pattern
		}
	}
	return best, bestName
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
