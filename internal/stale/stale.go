// Package stale implements the stale-assertion detector: scans existing
// assertion steps, before the selector pass
// runs, for assertions whose target has disappeared or whose expected
// value no longer matches.
package stale

import (
	"context"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/step"
)

// Reason codes for a detected stale assertion.
const (
	ReasonTargetDisappeared = "stale_assertion_target_disappeared"
	ReasonVacuous           = "stale_assertion_vacuous"
)

// Finding records one stale assertion, by its original step index.
type Finding struct {
	Index      int
	ReasonCode string
}

// Detect scans t.Steps in original order and returns the original indexes
// of every assertion step found stale. facade is used
// read-only to probe whether an assertion's target still resolves
// (condition a); condition (b), vacuity, is a pure data-flow check over
// the step sequence and needs no browser access.
func Detect(ctx context.Context, facade browser.Facade, t step.Test) ([]Finding, error) {
	var out []Finding
	for i, s := range t.Steps {
		if !s.Action.IsAssertion() || s.Target == nil {
			continue
		}

		if isVacuous(t.Steps, i, s) {
			out = append(out, Finding{Index: i, ReasonCode: ReasonVacuous})
			continue
		}

		loc, err := facade.ResolveLocator(ctx, *s.Target)
		if err != nil || loc.MatchCount == 0 {
			out = append(out, Finding{Index: i, ReasonCode: ReasonTargetDisappeared})
			continue
		}
	}
	return out, nil
}

// isVacuous reports whether a later interacting step re-targets the same
// element in a way that invalidates this assertion's expectation before
// any subsequent assertion re-checks it: an assertValue/assertChecked
// whose target is acted on again by a data-changing step (fill, select,
// check, uncheck) with no intervening re-assertion on the same target
// makes the original assertion's recorded expectation vacuous.
func isVacuous(steps []step.Step, assertionIndex int, assertion step.Step) bool {
	if assertion.Action != step.ActionAssertValue && assertion.Action != step.ActionAssertChecked {
		return false
	}
	for j := assertionIndex + 1; j < len(steps); j++ {
		later := steps[j]
		if later.Target == nil || !later.Target.Equivalent(*assertion.Target) {
			continue
		}
		if later.Action.IsAssertion() {
			// A re-assertion on the same target supersedes the staleness
			// question for this one; stop looking further.
			return false
		}
		switch later.Action {
		case step.ActionFill, step.ActionSelect, step.ActionCheck, step.ActionUncheck:
			return true
		}
	}
	return false
}
