// Package selectorpass implements the selector pass: execute the test
// step-by-step; per interacting step,
// generate and score candidates, decide adoption, execute the step, and
// optionally capture a pre/post accessibility snapshot.
package selectorpass

import (
	"context"
	"fmt"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/candidate"
	"github.com/webtestkit/improve/internal/diag"
	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/repair"
	"github.com/webtestkit/improve/internal/scorer"
	"github.com/webtestkit/improve/internal/step"
)

// Runtime timeouts come from internal/browser.DefaultRuntimeTimeout and
// NetworkIdleTimeout.

// Diagnostic codes this pass emits.
const (
	DiagNetworkIdleTimeout       = "runtime_network_idle_wait_timed_out"
	DiagNetworkIdleFailed        = "runtime_network_idle_wait_failed"
	DiagRepairUnsupportedShape   = "repair_unsupported_shape"
	DiagSelectorAdopted          = "selector_adopted"
	DiagRuntimeStepFailed        = "runtime_step_failed"
	DiagNavigationFailedAborting = "navigation_failed_aborting"
)

// Options controls one Run invocation.
type Options struct {
	ApplySelectors   bool
	CaptureSnapshots bool
	BaseURL          string
}

// RuntimeFailure records one step that failed during playback execution.
type RuntimeFailure struct {
	RuntimeIndex int
	Step         step.Step
	Err          error
}

// Result is everything the selector pass produces for the Index Mapper,
// the assertion generators, and the report assembler to consume.
type Result struct {
	// Steps is the (possibly selector-mutated) runtime step sequence, in
	// runtime order — indexes here correspond 1:1 to those used in
	// Findings, Snapshots, and Failures.
	Steps     []step.Step
	Findings  []finding.StepFinding
	Snapshots []finding.StepSnapshot
	Failures  []RuntimeFailure
}

// Run executes t.Steps in runtime order against facade.
// originalIndexes is index-aligned with t.Steps and records, for each
// position, the *original* (pre-stale-cleanup) step index the Index Mapper
// assigned — callers pass indexmap.Map.RuntimeToOriginal() here so findings
// and snapshots can be tagged with stable original indexes.
func Run(ctx context.Context, facade browser.Facade, t step.Test, originalIndexes []int, opts Options, log *diag.Log) (Result, error) {
	if len(originalIndexes) != len(t.Steps) {
		return Result{}, fmt.Errorf("selectorpass: originalIndexes length %d != steps length %d", len(originalIndexes), len(t.Steps))
	}

	res := Result{Steps: make([]step.Step, len(t.Steps))}
	copy(res.Steps, t.Steps)

	for i := range res.Steps {
		s := res.Steps[i]
		origIdx := originalIndexes[i]

		var pre string
		if opts.CaptureSnapshots {
			pre, _ = facade.Snapshot(ctx, "")
		}

		if s.Action == step.ActionNavigate {
			if err := facade.Navigate(ctx, s.URL, opts.BaseURL, browser.DefaultRuntimeTimeout); err != nil {
				res.Failures = append(res.Failures, RuntimeFailure{RuntimeIndex: i, Step: s, Err: err})
				log.Error(DiagNavigationFailedAborting, "navigation step (original index %d) failed: %v", origIdx, err)
				return res, fmt.Errorf("navigation step failed, aborting selector pass: %w", err)
			}
			waitNetworkIdle(ctx, facade, log)
			continue
		}

		if s.Action.IsAssertion() {
			// Pre-existing assertion steps are executed but not re-scored
			// here.
			if err := facade.ExecuteStep(ctx, s, browser.ModePlayback, browser.DefaultRuntimeTimeout, opts.BaseURL); err != nil {
				res.Failures = append(res.Failures, RuntimeFailure{RuntimeIndex: i, Step: s, Err: err})
				log.Warn(DiagRuntimeStepFailed, "assertion step (original index %d) failed: %v", origIdx, err)
			}
			waitNetworkIdle(ctx, facade, log)
			if opts.CaptureSnapshots {
				post, _ := facade.Snapshot(ctx, "")
				res.Snapshots = append(res.Snapshots, finding.StepSnapshot{RuntimeIndex: i, Pre: pre, Post: post})
			}
			continue
		}

		if s.Target == nil {
			return res, fmt.Errorf("selectorpass: non-navigate step at runtime index %d has no target", i)
		}

		sf, adoptedTarget, err := analyzeStep(ctx, facade, origIdx, s, log)
		if err != nil {
			return res, err
		}
		res.Findings = append(res.Findings, sf)

		if opts.ApplySelectors && sf.Changed {
			s.Target = adoptedTarget
			res.Steps[i] = s
		}

		if err := facade.ExecuteStep(ctx, s, browser.ModePlayback, browser.DefaultRuntimeTimeout, opts.BaseURL); err != nil {
			res.Failures = append(res.Failures, RuntimeFailure{RuntimeIndex: i, Step: s, Err: err})
			log.Warn(DiagRuntimeStepFailed, "step (original index %d, action %s) failed at runtime: %v", origIdx, s.Action, err)
		}

		waitNetworkIdle(ctx, facade, log)

		if opts.CaptureSnapshots {
			post, _ := facade.Snapshot(ctx, "")
			res.Snapshots = append(res.Snapshots, finding.StepSnapshot{RuntimeIndex: i, Pre: pre, Post: post})
		}
	}

	return res, nil
}

func waitNetworkIdle(ctx context.Context, facade browser.Facade, log *diag.Log) {
	timedOut, err := facade.WaitForNetworkIdle(ctx, browser.NetworkIdleTimeout)
	if err != nil {
		log.Warn(DiagNetworkIdleFailed, "network-idle wait failed: %v", err)
		return
	}
	if timedOut {
		log.Warn(DiagNetworkIdleTimeout, "network-idle wait timed out")
	}
}

// analyzeStep generates candidates (C4+C5), scores them (C6), and returns
// the StepFinding plus the target that would be adopted if ApplySelectors
// is set.
func analyzeStep(ctx context.Context, facade browser.Facade, originalIndex int, s step.Step, log *diag.Log) (finding.StepFinding, *step.Target, error) {
	current := *s.Target

	candidates, err := candidate.Generate(ctx, facade, current)
	if err != nil {
		return finding.StepFinding{}, nil, fmt.Errorf("candidate generation failed at original index %d: %w", originalIndex, err)
	}

	if current.Kind == step.KindLocatorExpr {
		if repaired, ok := repair.Generate(current.Value); ok {
			for _, r := range repaired {
				candidates = append(candidates, candidate.Candidate{
					Target:         r.Target,
					ReasonCodes:    []string{r.ReasonCode},
					DynamicSignals: r.DynamicSignals,
				})
			}
		} else if _, parsed := repair.Parse(current.Value); parsed {
			// Parsed but no dynamic signal: no repair needed, nothing to log.
			_ = parsed
		} else {
			log.Info(DiagRepairUnsupportedShape, "locator expression at original index %d does not match a supported repair shape", originalIndex)
		}
	}

	targets := make([]step.Target, len(candidates))
	results := make([]scorer.Result, len(candidates))
	var reasonCodes []string
	for i, c := range candidates {
		targets[i] = c.Target
		results[i] = scorer.Score(ctx, facade, c.Target)
		if i > 0 {
			reasonCodes = append(reasonCodes, c.ReasonCodes...)
		}
	}

	winner, adopted := scorer.Adopt(targets, results)

	sf := finding.StepFinding{
		Index:             originalIndex,
		Action:            s.Action,
		OldTarget:         current,
		RecommendedTarget: current,
		OldScore:          results[0].FinalScore,
		RecommendedScore:  results[0].FinalScore,
		ReasonCodes:       reasonCodes,
		Changed:           false,
	}

	var adoptedTarget *step.Target
	if adopted {
		sf.RecommendedTarget = targets[winner]
		sf.RecommendedScore = results[winner].FinalScore
		sf.ConfidenceDelta = results[winner].FinalScore - results[0].FinalScore
		sf.Changed = true
		adoptedTarget = &targets[winner]
		log.Info(DiagSelectorAdopted, "original index %d: adopted %s (score %.3f -> %.3f)",
			originalIndex, targets[winner].Kind, results[0].FinalScore, results[winner].FinalScore)
	}

	return sf, adoptedTarget, nil
}
