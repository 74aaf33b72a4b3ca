// Package injection implements the prompt-injection gate: a binary
// classifier run before sanitization so that partial redaction cannot
// mask an injection pattern.
package injection

import (
	"regexp"
)

// DefaultCharBudget is the fixed character budget input is truncated to
// before classification.
const DefaultCharBudget = 4000

// DefaultThreshold is the score at or above which a positive
// classification causes rejection.
const DefaultThreshold = 0.5

// Scanner classifies text for prompt-injection attempts.
type Scanner struct {
	charBudget int
	patterns   []weightedPattern
}

type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

func NewScanner(charBudget int) *Scanner {
	if charBudget <= 0 {
		charBudget = DefaultCharBudget
	}
	return &Scanner{charBudget: charBudget, patterns: defaultPatterns()}
}

// defaultPatterns is a small curated set of classic injection phrasing.
// Each hit contributes its weight to the score, capped at 1.0; this
// stands in for a learned classifier — no injection-classifier model
// ships with this core.
func defaultPatterns() []weightedPattern {
	mk := func(pattern string, weight float64) weightedPattern {
		return weightedPattern{re: regexp.MustCompile(`(?i)` + pattern), weight: weight}
	}
	return []weightedPattern{
		mk(`ignore (?:all|the|any) (?:previous|prior|above) instructions`, 0.9),
		mk(`disregard (?:all|the|any) (?:previous|prior|above)`, 0.85),
		mk(`you are now (?:in )?(?:dan|developer|jailbreak)`, 0.8),
		mk(`system prompt`, 0.3),
		mk(`reveal (?:your|the) (?:system|hidden) prompt`, 0.7),
		mk(`act as (?:if you (?:are|were)|an unrestricted)`, 0.5),
		mk(`\bsudo\b.*\boverride\b`, 0.6),
		mk(`forget (?:everything|all) (?:you (?:were|have been)) told`, 0.8),
		mk(`\[\[system\]\]|<\|system\|>`, 0.7),
		mk(`do anything now`, 0.6),
	}
}

// Classify truncates text to the configured character budget and returns
// whether it looks like a prompt-injection attempt along with a score in
// [0,1].
func (s *Scanner) Classify(text string) (isInjection bool, score float64) {
	truncated := text
	if len(truncated) > s.charBudget {
		truncated = truncated[:s.charBudget]
	}

	var total float64
	for _, p := range s.patterns {
		if p.re.MatchString(truncated) {
			total += p.weight
		}
	}
	if total > 1.0 {
		total = 1.0
	}

	return total >= DefaultThreshold, total
}

// ShouldReject combines the binary classification with the score
// threshold: both must agree before a contribution is rejected.
func ShouldReject(isInjection bool, score, threshold float64) bool {
	return isInjection && score >= threshold
}
