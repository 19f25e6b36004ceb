package tokens

import (
	"math"
	"regexp"
	"strings"
)

// RoleOverhead is the fixed per-turn cost added on top of the content tokens
// to account for role tags and prompt formatting.
const RoleOverhead = 4

// Estimation ratios. Both deliberately over-estimate so a prompt never
// silently exceeds a real model limit.
const (
	wordTokenRatio = 1.3
	charTokenRatio = 0.25
)

// Estimator converts text into an estimated token count.
type Estimator interface {
	Count(text string) int
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Approximate estimates tokens without a real tokenizer. It normalizes
// whitespace, then takes the larger of a word-based and a character-based
// estimate.
type Approximate struct{}

// Count implements Estimator.
func (Approximate) Count(text string) int {
	cleaned := strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
	if cleaned == "" {
		return 0
	}

	words := len(strings.Fields(cleaned))
	wordEstimate := int(math.Round(float64(words) * wordTokenRatio))
	charEstimate := int(math.Round(float64(len([]rune(cleaned))) * charTokenRatio))

	if wordEstimate > charEstimate {
		return wordEstimate
	}
	return charEstimate
}

// NewEstimator returns the precise estimator when one is supplied (a real
// tokenizer binding, for instance) and the approximate strategy otherwise.
func NewEstimator(precise Estimator) Estimator {
	if precise != nil {
		return precise
	}
	return Approximate{}
}

// TurnCost is the budget charge for including a turn: its content tokens
// plus the fixed role overhead.
func TurnCost(contentTokens int) int {
	return contentTokens + RoleOverhead
}
