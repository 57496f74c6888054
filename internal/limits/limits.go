package limits

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Tolerance is the absolute window accepted around an approximate target,
// unit-agnostic (degrees, ppm, whatever the limit text is written in).
const Tolerance = 3.0

// Result is the outcome of judging a reading against a limit rule.
type Result struct {
	Pass        bool   `json:"pass"`
	MatchedRule string `json:"matched_rule,omitempty"`
}

var (
	approxRe = regexp.MustCompile(`[≈~=]\s*(-?\d+(?:\.\d+)?)`)
	upperRe  = regexp.MustCompile(`[≤<=]\s*(-?\d+(?:\.\d+)?)`)
	lowerRe  = regexp.MustCompile(`[≥>=]\s*(-?\d+(?:\.\d+)?)`)
)

// Evaluate judges a numeric reading against a free-text limit rule.
// Pattern families are tried in a fixed order: approximate, then upper
// bound, then lower bound; only the first match applies. Text that parses
// as none of them passes, so a malformed rule can never block an operator
// from recording a reading.
func Evaluate(limitText string, value float64) Result {
	text := strings.TrimSpace(limitText)
	if text == "" {
		return Result{Pass: true}
	}
	if m := approxRe.FindStringSubmatch(text); m != nil {
		target, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			diff := value - target
			if diff < 0 {
				diff = -diff
			}
			return Result{Pass: diff <= Tolerance, MatchedRule: fmt.Sprintf("≈ %s", m[1])}
		}
	}
	if m := upperRe.FindStringSubmatch(text); m != nil {
		target, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return Result{Pass: value <= target, MatchedRule: fmt.Sprintf("≤ %s", m[1])}
		}
	}
	if m := lowerRe.FindStringSubmatch(text); m != nil {
		target, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return Result{Pass: value >= target, MatchedRule: fmt.Sprintf("≥ %s", m[1])}
		}
	}
	return Result{Pass: true}
}
