// Package engine wires the full improve pipeline: YAML in,
// stale-assertion cleanup, selector pass, runtime-failure
// classification and removal, assertion candidate generation, stability
// and policy gating, validation replay, and report assembly. The engine
// owns all mutable run state; the browser facade owns the page. All
// configuration arrives explicitly through Options.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/webtestkit/improve/internal/assertgen"
	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/classifier"
	"github.com/webtestkit/improve/internal/diag"
	"github.com/webtestkit/improve/internal/errs"
	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/indexmap"
	"github.com/webtestkit/improve/internal/policy"
	"github.com/webtestkit/improve/internal/report"
	"github.com/webtestkit/improve/internal/selectorpass"
	"github.com/webtestkit/improve/internal/stale"
	"github.com/webtestkit/improve/internal/step"
	"github.com/webtestkit/improve/internal/triage"
	"github.com/webtestkit/improve/internal/validator"
	"github.com/webtestkit/improve/internal/yamlio"
)

// Assertion-mode values for Options.Assertions.
const (
	AssertionsNone       = "none"
	AssertionsCandidates = "candidates"
)

// Assertion-source values for Options.AssertionSource.
const (
	SourceDeterministic  = "deterministic"
	SourceSnapshotNative = "snapshot-native"
	SourceSnapshotCLI    = "snapshot-cli"
)

// Diagnostic codes emitted by the engine itself.
const (
	DiagApplyAssertionsDowngraded = "apply_assertions_downgraded_assertions_none"
	DiagStaleAssertionDetected    = "stale_assertion_detected"
	DiagStaleAssertionRemoved     = "stale_assertion_removed"
	DiagRuntimeFailingRemoved     = "runtime_failing_step_removed"
	DiagRuntimeFailingRetained    = "runtime_failing_step_retained"
	DiagRuntimeFailedTarget       = "runtime_step_failed_target"
	DiagFailureTriage             = "runtime_failure_triage"
	DiagFragileAcrossRuns         = "selector_fragile_across_runs"
	DiagCoverageFallbackSkipped   = "coverage_fallback_skipped_dynamic_link"
	DiagSelectorPassAborted       = "selector_pass_aborted"
)

// Options is the improve entry contract.
type Options struct {
	TestFile        string
	ApplySelectors  bool
	ApplyAssertions bool
	Assertions      string // none | candidates
	AssertionSource string // deterministic | snapshot-native | snapshot-cli
	AssertionPolicy policy.Name
	ReportPath      string // optional; defaults adjacent to the test file

	// Sink receives mirrored diagnostics as they are produced (stderr if
	// nil). NewFacade is the browser construction seam; nil means the real
	// CDP facade. Now is the report timestamp source; nil means time.Now.
	Sink      io.Writer
	NewFacade func(log *diag.Log) browser.Facade
	Now       func() time.Time
}

// Result is the engine's output: the report path, the test
// file path when a mutation was written, and the in-memory report, which
// is returned even when a disk write fails.
type Result struct {
	ReportPath string
	OutputPath string
	Report     report.Report
}

// Run executes the full improve pipeline for one test file.
func Run(ctx context.Context, opts Options) (Result, error) {
	log := diag.NewLog(opts.Sink, "improve")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newFacade := opts.NewFacade
	if newFacade == nil {
		newFacade = func(l *diag.Log) browser.Facade { return browser.NewCDPFacade(l) }
	}

	if opts.Assertions == "" {
		opts.Assertions = AssertionsNone
	}
	if opts.AssertionSource == "" {
		opts.AssertionSource = SourceDeterministic
	}
	if opts.ApplyAssertions && opts.Assertions == AssertionsNone {
		opts.ApplyAssertions = false
		log.Warn(DiagApplyAssertionsDowngraded, "applyAssertions requested with assertions=none; downgrading to applyAssertions=false")
	}

	reportPath := opts.ReportPath
	if reportPath == "" {
		reportPath = report.DefaultPath(opts.TestFile)
	}

	raw, err := os.ReadFile(opts.TestFile)
	if err != nil {
		return Result{ReportPath: reportPath}, errs.NewUserError("test_file_unreadable", fmt.Sprintf("cannot read %s: %v", opts.TestFile, err))
	}
	test, err := yamlio.YAMLToTest(raw)
	if err != nil {
		return Result{ReportPath: reportPath}, err
	}
	original := test.Clone()
	totalOriginalSteps := len(original.Steps)

	facade := newFacade(log)
	if err := facade.Launch(ctx); err != nil {
		return Result{ReportPath: reportPath}, err
	}
	defer facade.Close()

	if err := ctx.Err(); err != nil {
		return Result{ReportPath: reportPath}, &errs.CancelledError{}
	}

	// Stale-assertion detection needs a live page to probe condition (a);
	// execute the leading navigation (if any) before scanning. See
	// executeLeadingNavigation's doc comment for the probing scope.
	if err := executeLeadingNavigation(ctx, facade, test, log); err != nil {
		return Result{ReportPath: reportPath}, err
	}
	staleFindings, err := stale.Detect(ctx, facade, test)
	if err != nil {
		return Result{ReportPath: reportPath}, err
	}
	for _, f := range staleFindings {
		log.Info(DiagStaleAssertionDetected, "assertion at original index %d is stale (%s)", f.Index, f.ReasonCode)
	}

	writePass := opts.ApplySelectors || opts.ApplyAssertions
	working := test.Clone()
	idx := indexmap.Identity(totalOriginalSteps)
	staleRemoved := 0
	if writePass && len(staleFindings) > 0 {
		staleIndexes := make([]int, len(staleFindings))
		for i, f := range staleFindings {
			staleIndexes[i] = f.Index
			log.Info(DiagStaleAssertionRemoved, "removing stale assertion at original index %d", f.Index)
		}
		working.Steps = removeOriginalIndexes(working.Steps, staleIndexes)
		idx.AfterRemoveStaleAssertions(staleIndexes)
		staleRemoved = len(staleIndexes)
	}

	captureSnapshots := opts.Assertions == AssertionsCandidates &&
		(opts.AssertionSource == SourceSnapshotNative || opts.AssertionSource == SourceSnapshotCLI)

	passRes, passErr := selectorpass.Run(ctx, facade, working, idx.RuntimeToOriginal(), selectorpass.Options{
		ApplySelectors:   opts.ApplySelectors,
		CaptureSnapshots: captureSnapshots,
		BaseURL:          test.BaseURL,
	}, log)
	if passErr != nil {
		var inv *errs.InvariantError
		if errors.As(passErr, &inv) {
			return Result{ReportPath: reportPath}, passErr
		}
		// A navigation abort ends the run's mutating passes
		// but still produces a report from what was observed.
		log.Error(DiagSelectorPassAborted, "selector pass aborted: %v", passErr)
		return assembleAndWrite(ctx, opts, reportPath, now(), totalOriginalSteps,
			countCoverageSteps(original.Steps), staleRemoved, 0,
			passRes.Findings, nil, log, step.Test{}, false)
	}

	if err := ctx.Err(); err != nil {
		return Result{ReportPath: reportPath}, &errs.CancelledError{}
	}

	// Triage and cross-run fragility diagnostics for every runtime failure.
	annotateFailures(passRes.Failures, reportPath, log)

	// Runtime-failing step classification and removal.
	mutated := passRes.Steps
	runtimeFailingRemoved := 0
	if writePass && len(passRes.Failures) > 0 {
		var removedRuntime []int
		for _, f := range passRes.Failures {
			if f.Step.Action == step.ActionNavigate || f.Step.Action.IsAssertion() {
				continue
			}
			role, name := targetRoleAndName(f.Step.Target)
			decision := classifier.Classify(classifier.Input{Step: f.Step, AccessibleName: name, Role: role})
			origIdx, ierr := idx.ToOriginal(f.RuntimeIndex)
			if ierr != nil {
				return Result{ReportPath: reportPath}, ierr
			}
			if !decision.Remove {
				log.Info(DiagRuntimeFailingRetained, "failed step at original index %d retained (%s)", origIdx, decision.ReasonCode)
				continue
			}
			if classifier.IsSoleContextForSurvivingAssertion(f.Step, nextSurviving(mutated, f.RuntimeIndex)) {
				log.Info(DiagRuntimeFailingRetained, "failed step at original index %d retained: sole context for a surviving assertion", origIdx)
				continue
			}
			log.Info(DiagRuntimeFailingRemoved, "removing failed step at original index %d (%s)", origIdx, decision.ReasonCode)
			removedRuntime = append(removedRuntime, f.RuntimeIndex)
		}
		if len(removedRuntime) > 0 {
			mutated = removeRuntimeIndexes(mutated, removedRuntime)
			remapSnapshots(&passRes.Snapshots, removedRuntime)
			idx.AfterRuntimeFailingRemoval(removedRuntime)
			runtimeFailingRemoved = len(removedRuntime)
		}
	}

	// Assertion candidate pipeline.
	var candidates []finding.AssertionCandidate
	if opts.Assertions == AssertionsCandidates {
		candidates = generateCandidates(opts, idx, mutated, passRes, log)
		profile := policy.Resolve(opts.AssertionPolicy)
		gateCandidates(candidates, profile)

		if opts.ApplyAssertions {
			// Validation replays against a fresh page.
			facade.Close()
			replayFacade := newFacade(log)
			if err := replayFacade.Launch(ctx); err != nil {
				return Result{ReportPath: reportPath}, err
			}
			defer replayFacade.Close()
			candidates, err = validator.Run(ctx, replayFacade, mutated, idx.RuntimeToOriginal(), candidates, profile, test.BaseURL, log)
			if err != nil {
				return Result{ReportPath: reportPath}, err
			}
		} else {
			for i := range candidates {
				if candidates[i].ApplyStatus == "" {
					candidates[i].ApplyStatus = finding.ApplyStatusNotRequested
				}
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{ReportPath: reportPath}, &errs.CancelledError{}
	}

	// Assemble the output test: mutated steps plus applied assertions
	// inserted after their source step; insertApplied builds a new slice in
	// one forward pass, so no runtime index shifts during insertion.
	output := test.Clone()
	output.Steps = mutated
	if opts.ApplyAssertions {
		output.Steps = insertApplied(output.Steps, idx, candidates)
	}

	return assembleAndWrite(ctx, opts, reportPath, now(), totalOriginalSteps,
		countCoverageSteps(original.Steps), staleRemoved, runtimeFailingRemoved,
		passRes.Findings, candidates, log, output, writePass)
}

// executeLeadingNavigation runs the test's first step when it is a
// navigation, so stale-assertion probing sees the application rather than
// a blank page. A test that does not start with navigate is probed
// against whatever the facade's initial page shows.
func executeLeadingNavigation(ctx context.Context, facade browser.Facade, t step.Test, log *diag.Log) error {
	if len(t.Steps) == 0 || t.Steps[0].Action != step.ActionNavigate {
		return nil
	}
	return facade.Navigate(ctx, t.Steps[0].URL, t.BaseURL, browser.DefaultRuntimeTimeout)
}

func countCoverageSteps(steps []step.Step) int {
	n := 0
	for _, s := range steps {
		if s.Action.IsCoverageStep() {
			n++
		}
	}
	return n
}

func removeOriginalIndexes(steps []step.Step, staleIndexes []int) []step.Step {
	staleSet := make(map[int]bool, len(staleIndexes))
	for _, i := range staleIndexes {
		staleSet[i] = true
	}
	out := make([]step.Step, 0, len(steps))
	for i, s := range steps {
		if staleSet[i] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func removeRuntimeIndexes(steps []step.Step, removed []int) []step.Step {
	removedSet := make(map[int]bool, len(removed))
	for _, i := range removed {
		removedSet[i] = true
	}
	out := make([]step.Step, 0, len(steps))
	for i, s := range steps {
		if removedSet[i] {
			continue
		}
		out = append(out, s)
	}
	return out
}

func remapSnapshots(snapshots *[]finding.StepSnapshot, removedRuntime []int) {
	keys := make([]int, len(*snapshots))
	for i, s := range *snapshots {
		keys[i] = s.RuntimeIndex
	}
	mapping := indexmap.RemapSnapshotIndexes(keys, removedRuntime)
	out := make([]finding.StepSnapshot, 0, len(*snapshots))
	for _, s := range *snapshots {
		newIdx, ok := mapping[s.RuntimeIndex]
		if !ok {
			continue
		}
		s.RuntimeIndex = newIdx
		out = append(out, s)
	}
	*snapshots = out
}

// nextSurviving returns the step after runtimeIndex, if any. Removals are
// decided in runtime order within one pass, so "next surviving" at
// decision time is simply the next step still in the sequence.
func nextSurviving(steps []step.Step, runtimeIndex int) *step.Step {
	if runtimeIndex+1 >= len(steps) {
		return nil
	}
	return &steps[runtimeIndex+1]
}

// annotateFailures emits, per runtime failure, a target-value diagnostic
// (consumed by the next run's cross-run fragility check), a triage
// classification, and the fragility warning itself when the same target
// also failed in the previous run's report.
func annotateFailures(failures []selectorpass.RuntimeFailure, reportPath string, log *diag.Log) {
	if len(failures) == 0 {
		return
	}
	prevFailed := map[string]bool{}
	if prev, ok, err := report.ReadJSON(reportPath); err == nil && ok {
		for _, d := range prev.Diagnostics {
			if d.Code == DiagRuntimeFailedTarget {
				prevFailed[d.Message] = true
			}
		}
	}
	for _, f := range failures {
		if f.Step.Target == nil {
			continue
		}
		value := f.Step.Target.Value
		log.Warn(DiagRuntimeFailedTarget, "%s", value)
		c := triage.Classify(f.Err.Error())
		log.Info(DiagFailureTriage, "failure at runtime index %d classified %s (%.2f): %s",
			f.RuntimeIndex, c.Category, c.Confidence, c.RecommendedAction)
		if prevFailed[value] {
			log.Warn(DiagFragileAcrossRuns, "target %q failed in consecutive improve runs; consider repairing or removing it", value)
		}
	}
}

// generateCandidates runs the deterministic and snapshot generators over
// the surviving runtime steps.
func generateCandidates(opts Options, idx *indexmap.Map, mutated []step.Step, passRes selectorpass.Result, log *diag.Log) []finding.AssertionCandidate {
	findingByOriginal := map[int]finding.StepFinding{}
	for _, f := range passRes.Findings {
		findingByOriginal[f.Index] = f
	}
	snapshotByRuntime := map[int]finding.StepSnapshot{}
	for _, s := range passRes.Snapshots {
		snapshotByRuntime[s.RuntimeIndex] = s
	}

	snapshotSource := finding.SourceSnapshotNative
	if opts.AssertionSource == SourceSnapshotCLI {
		snapshotSource = finding.SourceSnapshotCLI
	}

	var all []finding.AssertionCandidate
	for runtimeIdx, s := range mutated {
		if !s.Action.IsCoverageStep() {
			continue
		}
		origIdx, err := idx.ToOriginal(runtimeIdx)
		if err != nil {
			continue
		}

		var repairedTarget *step.Target
		if f, ok := findingByOriginal[origIdx]; ok && f.Changed && opts.ApplySelectors {
			t := f.RecommendedTarget
			repairedTarget = &t
		}

		var stepCands []finding.AssertionCandidate
		det, skip := assertgen.Deterministic(origIdx, s, repairedTarget)
		if det != nil {
			stepCands = append(stepCands, *det)
		}
		if skip != nil {
			log.Info(DiagCoverageFallbackSkipped, "original index %d: %s", skip.Index, skip.Reason)
		}

		if opts.AssertionSource != SourceDeterministic {
			if snap, ok := snapshotByRuntime[runtimeIdx]; ok {
				_, actedName := targetRoleAndName(s.Target)
				delta := assertgen.SnapshotDelta(origIdx, s.Action, snap.Pre, snap.Post, actedName)
				for i := range delta {
					delta[i].CandidateSource = snapshotSource
				}
				stepCands = append(stepCands, delta...)

				if !hasNonFallback(stepCands) {
					inv := assertgen.SnapshotInventory(origIdx, s.Action, snap.Post)
					for i := range inv {
						inv[i].CandidateSource = snapshotSource
					}
					stepCands = append(stepCands, inv...)
				}
			}
		}

		all = append(all, assertgen.DeduplicateSnapshotCandidates(stepCands)...)
	}

	// Stability evaluation over the candidate's observable text.
	for i := range all {
		c := &all[i]
		text := c.Candidate.Text + " " + c.Candidate.Value
		if c.Candidate.Target != nil {
			text += " " + c.Candidate.Target.Value
		}
		c.StabilityScore, c.VolatilityFlags = policy.EvaluateStability(c.Confidence, text)
	}
	return all
}

func hasNonFallback(cands []finding.AssertionCandidate) bool {
	for _, c := range cands {
		if !c.CoverageFallback {
			return true
		}
	}
	return false
}

// gateCandidates applies the policy engine's pre-validation passes:
// rank, smart snapshot cap, fallback suppression, then the per-candidate
// confidence/volatility/cap gate in ranked order.
func gateCandidates(cands []finding.AssertionCandidate, profile policy.Profile) {
	policy.Rank(cands)
	policy.ApplySmartSnapshotCap(cands)
	policy.SuppressFallbacksWithNonFallbackSibling(cands)

	eligibleByStep := map[int]int{}
	for i := range cands {
		c := &cands[i]
		policy.Gate(c, profile, eligibleByStep[c.Index])
		if c.ApplyStatus == "" {
			eligibleByStep[c.Index]++
		}
	}
}

// insertApplied builds a new sequence with every applied candidate's
// assertion step placed immediately after its source step, in one forward
// pass over the runtime steps, so no position shifts before it is read.
func insertApplied(steps []step.Step, idx *indexmap.Map, cands []finding.AssertionCandidate) []step.Step {
	byRuntime := map[int][]step.Step{}
	for _, c := range cands {
		if c.ApplyStatus != finding.ApplyStatusApplied {
			continue
		}
		if runtimeIdx, ok := idx.ToRuntime(c.Index); ok {
			byRuntime[runtimeIdx] = append(byRuntime[runtimeIdx], c.Candidate)
		}
	}
	if len(byRuntime) == 0 {
		return steps
	}
	out := make([]step.Step, 0, len(steps)+len(cands))
	for i, s := range steps {
		out = append(out, s)
		out = append(out, byRuntime[i]...)
	}
	return out
}

// targetRoleAndName extracts the role and accessible name encoded in a
// target value, for the classifier and the snapshot-delta exclusion. It
// understands the two shapes the pipeline itself produces:
// `role=X[name="Y"]` (candidate generator) and `getByRole('X', { name:
// 'Y' })` (locator expressions).
func targetRoleAndName(t *step.Target) (role, name string) {
	if t == nil {
		return "", ""
	}
	v := t.Value
	if t.Kind == step.KindRoleEngine {
		rest := v
		if i := indexOf(rest, "role="); i == 0 {
			rest = rest[len("role="):]
		}
		if i := indexOf(rest, "["); i >= 0 {
			role = rest[:i]
			attrs := rest[i:]
			if j := indexOf(attrs, `name="`); j >= 0 {
				nameRest := attrs[j+len(`name="`):]
				if k := indexOf(nameRest, `"`); k >= 0 {
					name = nameRest[:k]
				}
			}
		} else {
			role = rest
		}
		return role, name
	}
	if t.Kind == step.KindLocatorExpr {
		if i := indexOf(v, "getByRole("); i == 0 {
			inner := v[len("getByRole("):]
			role, inner = firstQuoted(inner)
			if j := indexOf(inner, "name"); j >= 0 {
				name, _ = firstQuoted(inner[j:])
			}
		}
		if i := indexOf(v, "getByText("); i == 0 {
			name, _ = firstQuoted(v[len("getByText("):])
		}
	}
	return role, name
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func firstQuoted(s string) (value, rest string) {
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
		return "", s
	}
	for j := start + 1; j < len(s); j++ {
		if s[j] == quote && s[j-1] != '\\' {
			return s[start+1 : j], s[j+1:]
		}
	}
	return "", s
}

// assembleAndWrite builds, validates, and writes the report, and writes
// the mutated YAML when a write pass produced one. The in-memory report is
// returned even when a disk write fails.
func assembleAndWrite(ctx context.Context, opts Options, reportPath string, generatedAt time.Time, totalOriginalSteps, coverageSteps, staleRemoved, runtimeFailingRemoved int, findings []finding.StepFinding, candidates []finding.AssertionCandidate, log *diag.Log, output step.Test, writePass bool) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ReportPath: reportPath}, &errs.CancelledError{}
	}

	rep := report.Assemble(opts.TestFile, generatedAt, totalOriginalSteps, coverageSteps,
		staleRemoved, runtimeFailingRemoved, findings, candidates, log.Entries())
	if err := rep.Validate(totalOriginalSteps); err != nil {
		return Result{ReportPath: reportPath, Report: rep}, err
	}

	res := Result{ReportPath: reportPath, Report: rep}

	if err := rep.WriteJSON(reportPath); err != nil {
		return res, fmt.Errorf("write report: %w", err)
	}

	if writePass && len(output.Steps) > 0 {
		data, err := yamlio.TestToYAML(output)
		if err != nil {
			return res, err
		}
		if err := report.AtomicWrite(opts.TestFile, data); err != nil {
			return res, fmt.Errorf("write improved test: %w", err)
		}
		res.OutputPath = opts.TestFile
	}

	return res, nil
}
