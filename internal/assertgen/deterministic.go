// Package assertgen implements the assertion candidate pipeline: the
// deterministic generator, the snapshot-
// delta generator, and the snapshot-inventory generator. All three feed
// the same finding.AssertionCandidate shape so the policy engine and
// assertion validator can treat them uniformly.
package assertgen

import (
	"fmt"

	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/step"
	"github.com/webtestkit/improve/internal/volatility"
)

// Confidence levels per candidate source.
const (
	ConfidenceDeterministic     = 0.92
	ConfidenceCoverageFallback  = 0.76
	ConfidenceSnapshotDelta     = 0.83
	ConfidenceSnapshotInventory = 0.79
)

// SkipReason records why a coverage-fallback assertion was intentionally
// not emitted for a step.
type SkipReason struct {
	Index  int
	Reason string
}

// Deterministic emits the deterministic assertion candidate (or fallback)
// for one qualifying step. repairedTarget,
// if non-nil, is the target the selector pass adopted for this step (a
// repaired/adopted candidate); the generated assertion adopts it in place
// of the step's original target, so a repaired step is asserted through
// its repaired target.
//
// Returns (nil, skip) when no candidate is appropriate: skip is non-nil
// only for the navigation-like-dynamic-click suppression case; a nil
// target or an action outside the deterministic generator's scope
// (navigate, existing assertions) yields (nil, nil).
func Deterministic(originalIndex int, s step.Step, repairedTarget *step.Target) (cand *finding.AssertionCandidate, skip *SkipReason) {
	target := s.Target
	if repairedTarget != nil {
		target = repairedTarget
	}
	if target == nil {
		return nil, nil
	}

	switch s.Action {
	case step.ActionFill, step.ActionSelect:
		value := s.Text
		if value == "" {
			value = s.Value
		}
		return &finding.AssertionCandidate{
			Index:           originalIndex,
			AfterAction:     s.Action,
			Candidate:       assertValueStep(*target, value),
			Confidence:      ConfidenceDeterministic,
			Rationale:       "deterministic: step wrote a value, assert it stuck",
			CandidateSource: finding.SourceDeterministic,
		}, nil

	case step.ActionCheck, step.ActionUncheck:
		checked := s.Action == step.ActionCheck
		return &finding.AssertionCandidate{
			Index:           originalIndex,
			AfterAction:     s.Action,
			Candidate:       assertCheckedStep(*target, checked),
			Confidence:      ConfidenceDeterministic,
			Rationale:       "deterministic: step changed checked state, assert it took effect",
			CandidateSource: finding.SourceDeterministic,
		}, nil

	case step.ActionClick, step.ActionPress, step.ActionHover:
		if s.Action == step.ActionClick && isNavigationLikeDynamicClick(target) {
			return nil, &SkipReason{
				Index:  originalIndex,
				Reason: "navigation_like_dynamic_click: role=link target has long/volatile accessible name",
			}
		}
		return &finding.AssertionCandidate{
			Index:            originalIndex,
			AfterAction:      s.Action,
			Candidate:        assertVisibleStep(*target),
			Confidence:       ConfidenceCoverageFallback,
			Rationale:        "coverage fallback: no deterministic post-condition for this action, assert target is still visible",
			CoverageFallback: true,
			CandidateSource:  finding.SourceDeterministic,
		}, nil
	}

	return nil, nil
}

// isNavigationLikeDynamicClick reports whether target is a role=link
// locator whose accessible name carries long/volatile dynamic markers.
func isNavigationLikeDynamicClick(target *step.Target) bool {
	name := linkAccessibleName(target)
	if name == "" {
		return false
	}
	flags := volatility.Detect(name)
	return len(flags) > 0
}

func linkAccessibleName(target *step.Target) string {
	if target == nil {
		return ""
	}
	if target.Kind == step.KindRoleEngine {
		// Encoded as `role=link[name="..."]` by internal/candidate.
		const prefix = `role=link[name="`
		v := target.Value
		if len(v) > len(prefix) && v[:len(prefix)] == prefix {
			rest := v[len(prefix):]
			if end := indexByte(rest, '"'); end >= 0 {
				return rest[:end]
			}
		}
		return ""
	}
	if target.Kind == step.KindLocatorExpr {
		// getByRole('link', { name: '...' }) style.
		if p, ok := parseGetByRoleName(target.Value); ok && p.role == "link" {
			return p.name
		}
	}
	return ""
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

type roleNameParse struct {
	role string
	name string
}

// parseGetByRoleName extracts role+name from a getByRole(...) locator
// expression without pulling in internal/repair (which targets a narrower
// use case and would create an import cycle concern if this package ever
// became a repair consumer); kept intentionally minimal.
func parseGetByRoleName(expr string) (roleNameParse, bool) {
	const rolePrefix = "getByRole("
	if len(expr) < len(rolePrefix) || expr[:len(rolePrefix)] != rolePrefix {
		return roleNameParse{}, false
	}
	// naive scrape: find first quoted string (role) and a name: 'value' pair.
	role, rest, ok := firstQuoted(expr[len(rolePrefix):])
	if !ok {
		return roleNameParse{}, false
	}
	name, _, ok := afterKey(rest, "name")
	if !ok {
		return roleNameParse{role: role}, true
	}
	return roleNameParse{role: role, name: name}, true
}

func firstQuoted(s string) (value, rest string, ok bool) {
	start := -1
	var quote byte
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' || s[i] == '"' {
			start = i
			quote = s[i]
			break
		}
	}
	if start < 0 {
		return "", s, false
	}
	for j := start + 1; j < len(s); j++ {
		if s[j] == quote && s[j-1] != '\\' {
			return s[start+1 : j], s[j+1:], true
		}
	}
	return "", s, false
}

func afterKey(s, key string) (value, rest string, ok bool) {
	idx := indexOf(s, key+":")
	if idx < 0 {
		return "", s, false
	}
	return firstQuoted(s[idx+len(key)+1:])
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func assertValueStep(target step.Target, value string) step.Step {
	return step.Step{Action: step.ActionAssertValue, Target: &target, Value: value}
}

func assertCheckedStep(target step.Target, checked bool) step.Step {
	return step.Step{Action: step.ActionAssertChecked, Target: &target, Checked: &checked}
}

func assertVisibleStep(target step.Target) step.Step {
	return step.Step{Action: step.ActionAssertVisible, Target: &target}
}

// Describe renders a candidate for diagnostics.
func Describe(c finding.AssertionCandidate) string {
	return fmt.Sprintf("index=%d action=%s confidence=%.2f source=%s", c.Index, c.Candidate.Action, c.Confidence, c.CandidateSource)
}
