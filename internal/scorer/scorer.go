// Package scorer implements the runtime candidate scorer: probe each
// candidate target against the live page and
// produce (matchCount, visibility, uniqueness, base-quality, final-score),
// plus the adoption rule over the probed scores.
package scorer

import (
	"context"
	"fmt"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/step"
)

// AdoptMargin is the minimum final-score improvement a non-current
// candidate needs before it is adopted.
const AdoptMargin = 0.15

// basePriors assigns the base-quality prior per target kind:
// "role-engine > test-id > id > unique text > CSS path > long CSS chain >
// xpath." Target.Kind alone cannot distinguish "test-id" / "id" / "unique
// text" / "CSS path" / "long CSS chain" (those are all KindCSS or
// KindLocatorExpr at the type level), so Score additionally inspects the
// target value/reason to refine the prior within a kind (see basePrior).
var kindBasePrior = map[step.TargetKind]float64{
	step.KindRoleEngine:    0.95,
	step.KindTextSelector:  0.80,
	step.KindPlaywrightSel: 0.78,
	step.KindInternal:      0.75,
	step.KindCSS:           0.55,
	step.KindLocatorExpr:   0.85,
	step.KindXPath:         0.35,
}

// Result is the per-candidate outcome of probing, carrying the
// tuple (matchCount, visibility, uniqueness, base-quality, final-score).
type Result struct {
	MatchCount   int
	Visible      bool
	Uniqueness   float64
	BaseQuality  float64
	FinalScore   float64
	ResolveError error
}

// Score probes target against the live page and computes its Result.
func Score(ctx context.Context, facade browser.Facade, target step.Target) Result {
	loc, err := facade.ResolveLocator(ctx, target)
	if err != nil {
		return Result{ResolveError: err}
	}
	base := basePrior(target)
	uniq := uniqueness(loc.MatchCount)
	vis := 0.0
	if loc.FirstVisible {
		vis = 1.0
	}
	return Result{
		MatchCount:  loc.MatchCount,
		Visible:     loc.FirstVisible,
		Uniqueness:  uniq,
		BaseQuality: base,
		FinalScore:  finalScore(base, uniq, vis),
	}
}

// weights for the final-score weighted sum of the three named terms: base
// quality counts most, then uniqueness, then visibility. They sum to 1, so
// the final score stays in [0,1], the scale the adoption margin (0.15) is
// measured on.
const (
	weightBase       = 0.5
	weightUniqueness = 0.3
	weightVisibility = 0.2
)

func finalScore(base, uniqueness, visibility float64) float64 {
	return weightBase*base + weightUniqueness*uniqueness + weightVisibility*visibility
}

func uniqueness(matchCount int) float64 {
	switch {
	case matchCount == 1:
		return 1.0
	case matchCount >= 2 && matchCount <= 3:
		return 0.5
	default:
		return 0.2
	}
}

// basePrior refines kindBasePrior using cues available on the target value
// itself: a locatorExpression rooted at getByTestId scores above one rooted
// at getByRole's generic locator() escape hatch; an id-anchored CSS
// selector ("#id" with no descendant combinator) scores above a long
// structural CSS chain.
func basePrior(t step.Target) float64 {
	prior, ok := kindBasePrior[t.Kind]
	if !ok {
		prior = 0.5
	}
	switch t.Kind {
	case step.KindLocatorExpr:
		switch {
		case hasPrefix(t.Value, "getByTestId("):
			return 0.92
		case hasPrefix(t.Value, "getByRole("):
			return 0.90
		case hasPrefix(t.Value, "getByLabel(") || hasPrefix(t.Value, "getByPlaceholder("):
			return 0.84
		case hasPrefix(t.Value, "getByTitle(") || hasPrefix(t.Value, "getByAltText("):
			return 0.80
		case hasPrefix(t.Value, "getByText("):
			return 0.78
		}
	case step.KindCSS:
		if isIDAnchored(t.Value) {
			return 0.70
		}
		if isLongCSSChain(t.Value) {
			return 0.40
		}
	}
	return prior
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// isIDAnchored reports whether selector is a bare "#id" with no descendant
// combinator (space), the most stable CSS form.
func isIDAnchored(selector string) bool {
	if len(selector) == 0 || selector[0] != '#' {
		return false
	}
	for _, r := range selector[1:] {
		if r == ' ' || r == '>' || r == '.' {
			return false
		}
	}
	return true
}

// isLongCSSChain reports whether selector has 3+ descendant/combinator
// segments, the lowest-trust CSS base-prior tier.
func isLongCSSChain(selector string) bool {
	depth := 0
	for _, r := range selector {
		if r == ' ' || r == '>' {
			depth++
		}
	}
	return depth >= 3
}

// Adopt implements the adoption rule: a non-current
// candidate is adopted iff its final score exceeds the current score by
// >= AdoptMargin AND it matches uniquely (matchCount == 1). Among
// qualifying candidates the highest final score wins; equal scores are
// broken by lower Target.Kind priority then insertion order.
//
// targets and results are index-aligned; index 0 in both is the step's
// current target (see internal/selectorpass).
func Adopt(targets []step.Target, results []Result) (winnerIndex int, adopted bool) {
	if len(targets) == 0 || len(results) == 0 {
		return 0, false
	}
	currentScore := results[0].FinalScore
	best := 0
	bestScore := currentScore
	found := false
	for i := 1; i < len(results); i++ {
		r := results[i]
		if r.ResolveError != nil || r.MatchCount != 1 {
			continue
		}
		if r.FinalScore < currentScore+AdoptMargin {
			continue
		}
		if !found {
			best, bestScore, found = i, r.FinalScore, true
			continue
		}
		if r.FinalScore > bestScore {
			best, bestScore = i, r.FinalScore
			continue
		}
		if r.FinalScore == bestScore {
			if step.KindPriority(targets[i].Kind) < step.KindPriority(targets[best].Kind) {
				best = i
			}
			// else: keep earlier-inserted candidate (stable insertion order).
		}
	}
	return best, found
}

// Describe renders a Result for diagnostics/logging.
func Describe(r Result) string {
	if r.ResolveError != nil {
		return fmt.Sprintf("error: %v", r.ResolveError)
	}
	return fmt.Sprintf("matches=%d visible=%v base=%.2f uniq=%.2f score=%.3f",
		r.MatchCount, r.Visible, r.BaseQuality, r.Uniqueness, r.FinalScore)
}
