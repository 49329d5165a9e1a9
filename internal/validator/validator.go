// Package validator implements assertion validation: replay the mutated
// test step by step against a fresh
// page and, per step, execute the policy-eligible candidates attached to
// it in analysis mode, finalizing each candidate's applyStatus.
package validator

import (
	"context"
	"fmt"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/diag"
	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/policy"
	"github.com/webtestkit/improve/internal/step"
)

// Diagnostic codes emitted during validation.
const (
	DiagAssertionApplied        = "assertion_applied"
	DiagAssertionRuntimeFailure = "assertion_validation_runtime_failure"
	DiagReplayStepFailed        = "replay_step_failed_aborting_validation"
	DiagDuplicateExisting       = "assertion_duplicate_of_existing"
)

// Run replays steps (the mutated runtime sequence) and validates the
// candidates in cands whose ApplyStatus is still empty (i.e. the ones that
// passed the policy gate). originalIndexes is index-aligned with steps and
// maps each runtime position to its original index; candidates are matched
// to the runtime step whose original index equals their Index. cands is
// mutated in place: every entry leaves this function with a final
// ApplyStatus.
func Run(ctx context.Context, facade browser.Facade, steps []step.Step, originalIndexes []int, cands []finding.AssertionCandidate, profile policy.Profile, baseURL string, log *diag.Log) ([]finding.AssertionCandidate, error) {
	if len(originalIndexes) != len(steps) {
		return cands, fmt.Errorf("validator: originalIndexes length %d != steps length %d", len(originalIndexes), len(steps))
	}

	// Source-order candidate positions per original step index.
	byStep := map[int][]int{}
	for i, c := range cands {
		if c.ApplyStatus == "" {
			byStep[c.Index] = append(byStep[c.Index], i)
		}
	}

	aborted := false
	abortMessage := ""

	for i := range steps {
		s := steps[i]
		origIdx := originalIndexes[i]

		if aborted {
			failRemaining(cands, byStep[origIdx], abortMessage)
			continue
		}

		if err := executeStep(ctx, facade, s, baseURL); err != nil {
			// Hard runtime failure at the step itself: all remaining
			// candidates at this step and later -> skipped_runtime_failure;
			// replay aborts.
			aborted = true
			abortMessage = fmt.Sprintf("replay aborted at original index %d: %v", origIdx, err)
			log.Warn(DiagReplayStepFailed, "%s", abortMessage)
			failRemaining(cands, byStep[origIdx], abortMessage)
			continue
		}

		if timedOut, err := facade.WaitForNetworkIdle(ctx, browser.NetworkIdleTimeout); err == nil && timedOut {
			// Timeouts are a warning elsewhere in the pipeline; during
			// validation they only mean the page may still settle under an
			// assertion, which the assertion's own timeout absorbs.
			_ = timedOut
		}

		appliedForStep := 0
		for _, ci := range byStep[origIdx] {
			c := &cands[ci]
			if c.ApplyStatus != "" {
				continue
			}

			if dup, ok := adjacentExistingAssertion(steps, i, c.Candidate); ok {
				c.ApplyStatus = finding.ApplyStatusSkippedExisting
				c.ApplyMessage = fmt.Sprintf("equivalent %s assertion already adjacent to this step", dup.Action)
				log.Info(DiagDuplicateExisting, "original index %d: candidate duplicates existing %s assertion", origIdx, dup.Action)
				continue
			}

			if appliedForStep >= profile.PerStepAppliedCap {
				c.ApplyStatus = finding.ApplyStatusSkippedPolicy
				c.ApplyMessage = "per-step applied cap reached during validation"
				continue
			}

			if err := facade.ExecuteStep(ctx, c.Candidate, browser.ModeAnalysis, browser.DefaultRuntimeTimeout, baseURL); err != nil {
				c.ApplyStatus = finding.ApplyStatusSkippedRuntimeFailure
				c.ApplyMessage = err.Error()
				log.Warn(DiagAssertionRuntimeFailure, "original index %d: %s candidate failed validation: %v", origIdx, c.Candidate.Action, err)
				continue
			}

			c.ApplyStatus = finding.ApplyStatusApplied
			appliedForStep++
			log.Info(DiagAssertionApplied, "original index %d: %s candidate validated", origIdx, c.Candidate.Action)
		}
	}

	// Candidates attached to steps that never appeared in the runtime
	// sequence (e.g. their source step was removed) also need a terminal
	// status.
	for i := range cands {
		if cands[i].ApplyStatus == "" {
			cands[i].ApplyStatus = finding.ApplyStatusSkippedRuntimeFailure
			if aborted {
				cands[i].ApplyMessage = abortMessage
			} else {
				cands[i].ApplyMessage = "source step absent from replay sequence"
			}
		}
	}

	return cands, nil
}

func executeStep(ctx context.Context, facade browser.Facade, s step.Step, baseURL string) error {
	if s.Action == step.ActionNavigate {
		return facade.Navigate(ctx, s.URL, baseURL, browser.DefaultRuntimeTimeout)
	}
	return facade.ExecuteStep(ctx, s, browser.ModePlayback, browser.DefaultRuntimeTimeout, baseURL)
}

func failRemaining(cands []finding.AssertionCandidate, indexes []int, message string) {
	for _, ci := range indexes {
		if cands[ci].ApplyStatus == "" {
			cands[ci].ApplyStatus = finding.ApplyStatusSkippedRuntimeFailure
			cands[ci].ApplyMessage = message
		}
	}
}

// adjacentExistingAssertion reports whether an assertion step equivalent
// to candidate already sits adjacent to the source step at runtime index
// stepIdx.
func adjacentExistingAssertion(steps []step.Step, stepIdx int, candidate step.Step) (step.Step, bool) {
	for _, j := range []int{stepIdx + 1, stepIdx - 1} {
		if j < 0 || j >= len(steps) {
			continue
		}
		existing := steps[j]
		if !existing.Action.IsAssertion() {
			continue
		}
		if assertionsEquivalent(existing, candidate) {
			return existing, true
		}
	}
	return step.Step{}, false
}

func assertionsEquivalent(a, b step.Step) bool {
	if a.Action != b.Action {
		return false
	}
	if a.Target == nil || b.Target == nil {
		return a.Target == nil && b.Target == nil
	}
	if !a.Target.Equivalent(*b.Target) {
		return false
	}
	if a.Text != b.Text || a.Value != b.Value {
		return false
	}
	if (a.Checked == nil) != (b.Checked == nil) {
		return false
	}
	if a.Checked != nil && *a.Checked != *b.Checked {
		return false
	}
	return true
}
