// Package policy implements stability evaluation and the policy
// engine: stability scoring + volatility
// flags per candidate, the three named apply-policy profiles, the smart
// snapshot cap, and coverage-fallback suppression.
package policy

import (
	"sort"

	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/volatility"
)

// Name identifies one of the three apply-policy profiles.
type Name string

const (
	Reliable   Name = "reliable"
	Balanced   Name = "balanced"
	Aggressive Name = "aggressive"
)

// Profile is the resolved set of thresholds for a Name.
type Profile struct {
	Name                   Name
	MinConfidence          float64
	SnapshotTextExtraMin   float64
	PerStepAppliedCap      int
	VolatileTextHardFilter bool
}

var profiles = map[Name]Profile{
	Reliable:   {Name: Reliable, MinConfidence: 0.80, SnapshotTextExtraMin: 0.90, PerStepAppliedCap: 1, VolatileTextHardFilter: true},
	Balanced:   {Name: Balanced, MinConfidence: 0.75, SnapshotTextExtraMin: 0.80, PerStepAppliedCap: 2, VolatileTextHardFilter: true},
	Aggressive: {Name: Aggressive, MinConfidence: 0.70, SnapshotTextExtraMin: 0.70, PerStepAppliedCap: 3, VolatileTextHardFilter: false},
}

// Resolve returns the Profile for name, defaulting to Balanced for an
// unknown/empty name (a conservative, documented default rather than a
// fatal error, since policy is an optional entry-contract field).
func Resolve(name Name) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles[Balanced]
}

// stabilityPenalty is the per-volatility-flag penalty subtracted from
// confidence to compute stabilityScore. exact_true is weighted heaviest
// since it signals the author explicitly pinned brittle literal text.
var stabilityPenalty = map[string]float64{
	volatility.FlagNumericFragment:  0.08,
	volatility.FlagDateTimeFragment: 0.12,
	volatility.FlagLongText:         0.06,
	volatility.FlagDynamicKeyword:   0.10,
	volatility.FlagExactTrue:        0.15,
}

// EvaluateStability computes volatilityFlags for the candidate's
// observable text (target value, text scalar, rationale) and the
// resulting stabilityScore, clamped to [0, confidence].
func EvaluateStability(confidence float64, text string) (stabilityScore float64, flags []string) {
	flags = volatility.Detect(text)
	score := confidence
	for _, f := range flags {
		score -= stabilityPenalty[f]
	}
	if score < 0 {
		score = 0
	}
	if score > confidence {
		score = confidence
	}
	return score, flags
}

// SmartSnapshotCap is the configurable maximum number of snapshot-sourced
// candidates retained per source step.
// Overflow candidates are recorded forced skipped_policy by
// ApplySmartSnapshotCap.
const SmartSnapshotCap = 2

// ApplySmartSnapshotCap marks every snapshot-sourced candidate for a given
// step beyond SmartSnapshotCap as skipped_policy, leaving
// deterministic candidates for that step untouched (the cap is scoped to
// "snapshot-sourced candidates" only). Candidates are taken in their
// existing slice order, which callers ensure is confidence-descending
// before this runs (see Rank).
func ApplySmartSnapshotCap(candidates []finding.AssertionCandidate) {
	countByStep := map[int]int{}
	for i := range candidates {
		c := &candidates[i]
		if c.CandidateSource == finding.SourceDeterministic {
			continue
		}
		countByStep[c.Index]++
		if countByStep[c.Index] > SmartSnapshotCap {
			c.ApplyStatus = finding.ApplyStatusSkippedPolicy
			c.ApplyMessage = "smart snapshot cap exceeded for this step"
		}
	}
}

// Rank sorts candidates by confidence descending, a stable sort so ties
// preserve their existing order; within one step that is generator
// emission order (deterministic before snapshot-delta before
// snapshot-inventory, per their call order in internal/engine).
func Rank(candidates []finding.AssertionCandidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
}

// SuppressFallbacksWithNonFallbackSibling marks coverageFallback=true
// candidates skipped_policy for any step that has at least one
// non-fallback candidate. Operates across the full candidate set (all
// steps), grouping by Index.
func SuppressFallbacksWithNonFallbackSibling(candidates []finding.AssertionCandidate) {
	hasNonFallback := map[int]bool{}
	for _, c := range candidates {
		if !c.CoverageFallback {
			hasNonFallback[c.Index] = true
		}
	}
	for i := range candidates {
		c := &candidates[i]
		if c.CoverageFallback && hasNonFallback[c.Index] && c.ApplyStatus == "" {
			c.ApplyStatus = finding.ApplyStatusSkippedPolicy
			c.ApplyMessage = "coverage fallback suppressed: step has a non-fallback candidate"
		}
	}
}

// Gate decides the pre-validation applyStatus for one candidate against
// profile p, prior to replay. Candidates that pass
// this gate proceed to the assertion validator for the actual
// runtime apply/skip decision; those that fail are finalized here and
// never reach replay. appliedSoFarForStep is the count of candidates for
// the same step already past this gate with an empty applyStatus (i.e.
// still eligible) — used for the per-step cap.
func Gate(c *finding.AssertionCandidate, p Profile, appliedSoFarForStep int) {
	if c.ApplyStatus != "" {
		return // already finalized by an earlier pass (smart cap, fallback suppression).
	}

	threshold := p.MinConfidence
	if c.CandidateSource != finding.SourceDeterministic && c.StabilityScore < p.SnapshotTextExtraMin {
		// Snapshot-text candidates carry an extra, usually-higher, confidence
		// floor;
		// falling below it is treated the same as falling below the
		// baseline min-confidence gate.
		if c.Confidence < p.SnapshotTextExtraMin {
			c.ApplyStatus = finding.ApplyStatusSkippedLowConfidence
			c.ApplyMessage = "below snapshot-text confidence threshold"
			return
		}
	}
	if c.Confidence < threshold {
		c.ApplyStatus = finding.ApplyStatusSkippedLowConfidence
		c.ApplyMessage = "below policy minimum confidence"
		return
	}
	if p.VolatileTextHardFilter && hasHardFilteredVolatility(c.VolatilityFlags) {
		c.ApplyStatus = finding.ApplyStatusSkippedLowConfidence
		c.ApplyMessage = "volatile text hard filter rejected candidate"
		return
	}
	if appliedSoFarForStep >= p.PerStepAppliedCap {
		c.ApplyStatus = finding.ApplyStatusSkippedPolicy
		c.ApplyMessage = "per-step applied cap reached"
		return
	}
	// Leave ApplyStatus empty: eligible, proceeds to validation replay.
}

// hasHardFilteredVolatility reports whether flags contains a volatility
// signal the "reliable"/"balanced" hard filter rejects outright (date/time
// and exact:true are the strongest brittleness signals; a bare numeric or
// long-text flag alone does not trigger the hard filter, only the
// confidence threshold does).
func hasHardFilteredVolatility(flags []string) bool {
	for _, f := range flags {
		if f == volatility.FlagDateTimeFragment || f == volatility.FlagExactTrue {
			return true
		}
	}
	return false
}
