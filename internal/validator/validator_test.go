package validator

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/diag"
	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/policy"
	"github.com/webtestkit/improve/internal/step"
)

// fakeFacade scripts failures by target value: playback steps fail when
// their target value is in failSteps, analysis-mode assertions fail when
// their target value is in failAsserts.
type fakeFacade struct {
	failSteps   map[string]bool
	failAsserts map[string]bool
}

func (f *fakeFacade) Launch(context.Context) error                                  { return nil }
func (f *fakeFacade) Close() error                                                  { return nil }
func (f *fakeFacade) Navigate(context.Context, string, string, time.Duration) error { return nil }
func (f *fakeFacade) ExecuteStep(ctx context.Context, s step.Step, mode browser.Mode, timeout time.Duration, baseURL string) error {
	value := ""
	if s.Target != nil {
		value = s.Target.Value
	}
	if mode == browser.ModeAnalysis {
		if f.failAsserts[value] {
			return errors.New("assertion did not hold")
		}
		return nil
	}
	if f.failSteps[value] {
		return errors.New("element not found")
	}
	return nil
}
func (f *fakeFacade) ResolveLocator(context.Context, step.Target) (browser.Locator, error) {
	return browser.Locator{MatchCount: 1, FirstVisible: true}, nil
}
func (f *fakeFacade) Snapshot(context.Context, string) (string, error) { return "", nil }
func (f *fakeFacade) WaitForNetworkIdle(context.Context, time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeFacade) DescribeCurrentMatch(context.Context, step.Target) (browser.ElementDescriptor, error) {
	return browser.ElementDescriptor{}, nil
}

func testLog() *diag.Log { return diag.NewLog(io.Discard, "test") }

func cssTarget(value string) *step.Target {
	return &step.Target{Kind: step.KindCSS, Source: step.SourceManual, Value: value}
}

func candidateFor(index int, target string, value string) finding.AssertionCandidate {
	return finding.AssertionCandidate{
		Index:           index,
		AfterAction:     step.ActionFill,
		Candidate:       step.Step{Action: step.ActionAssertValue, Target: cssTarget(target), Value: value},
		Confidence:      0.92,
		CandidateSource: finding.SourceDeterministic,
	}
}

func TestRunAppliesPassingCandidate(t *testing.T) {
	steps := []step.Step{
		{Action: step.ActionNavigate, URL: "https://example.com"},
		{Action: step.ActionFill, Target: cssTarget("#name"), Text: "Alice"},
	}
	cands := []finding.AssertionCandidate{candidateFor(1, "#name", "Alice")}

	out, err := Run(context.Background(), &fakeFacade{}, steps, []int{0, 1}, cands, policy.Resolve(policy.Reliable), "", testLog())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ApplyStatus != finding.ApplyStatusApplied {
		t.Errorf("applyStatus = %s, want applied", out[0].ApplyStatus)
	}
}

func TestRunMarksFailingCandidateSkippedRuntimeFailure(t *testing.T) {
	steps := []step.Step{{Action: step.ActionFill, Target: cssTarget("#name"), Text: "Alice"}}
	cands := []finding.AssertionCandidate{candidateFor(0, "#gone", "Alice")}
	facade := &fakeFacade{failAsserts: map[string]bool{"#gone": true}}

	out, err := Run(context.Background(), facade, steps, []int{0}, cands, policy.Resolve(policy.Reliable), "", testLog())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ApplyStatus != finding.ApplyStatusSkippedRuntimeFailure {
		t.Errorf("applyStatus = %s, want skipped_runtime_failure", out[0].ApplyStatus)
	}
	if out[0].ApplyMessage == "" {
		t.Error("expected the underlying error message to be attached")
	}
}

func TestRunEnforcesPerStepCap(t *testing.T) {
	steps := []step.Step{{Action: step.ActionFill, Target: cssTarget("#name"), Text: "Alice"}}
	cands := []finding.AssertionCandidate{
		candidateFor(0, "#name", "Alice"),
		candidateFor(0, "#status", "Saved"),
	}

	out, err := Run(context.Background(), &fakeFacade{}, steps, []int{0}, cands, policy.Resolve(policy.Reliable), "", testLog())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ApplyStatus != finding.ApplyStatusApplied {
		t.Errorf("first candidate = %s, want applied", out[0].ApplyStatus)
	}
	if out[1].ApplyStatus != finding.ApplyStatusSkippedPolicy {
		t.Errorf("second candidate = %s, want skipped_policy (reliable cap is 1)", out[1].ApplyStatus)
	}
}

func TestRunSkipsDuplicateOfAdjacentExistingAssertion(t *testing.T) {
	login := cssTarget("#login")
	steps := []step.Step{
		{Action: step.ActionClick, Target: login},
		{Action: step.ActionAssertVisible, Target: cssTarget("#login")},
	}
	dup := finding.AssertionCandidate{
		Index:       0,
		AfterAction: step.ActionClick,
		Candidate: step.Step{
			Action: step.ActionAssertVisible,
			// Different source provenance must still count as a duplicate.
			Target: &step.Target{Kind: step.KindCSS, Source: step.SourceDerived, Value: "#login"},
		},
		Confidence:      0.85,
		CandidateSource: finding.SourceDeterministic,
	}

	out, err := Run(context.Background(), &fakeFacade{}, steps, []int{0, 1}, []finding.AssertionCandidate{dup}, policy.Resolve(policy.Balanced), "", testLog())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ApplyStatus != finding.ApplyStatusSkippedExisting {
		t.Errorf("applyStatus = %s, want skipped_existing", out[0].ApplyStatus)
	}
}

func TestRunAbortsOnHardStepFailure(t *testing.T) {
	steps := []step.Step{
		{Action: step.ActionClick, Target: cssTarget("#broken")},
		{Action: step.ActionFill, Target: cssTarget("#name"), Text: "Alice"},
	}
	cands := []finding.AssertionCandidate{
		candidateFor(0, "#after-broken", "x"),
		candidateFor(1, "#name", "Alice"),
	}
	facade := &fakeFacade{failSteps: map[string]bool{"#broken": true}}

	out, err := Run(context.Background(), facade, steps, []int{0, 1}, cands, policy.Resolve(policy.Balanced), "", testLog())
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range out {
		if c.ApplyStatus != finding.ApplyStatusSkippedRuntimeFailure {
			t.Errorf("candidate %d: applyStatus = %s, want skipped_runtime_failure after abort", i, c.ApplyStatus)
		}
	}
}

func TestRunFinalizesCandidateWithAbsentSourceStep(t *testing.T) {
	steps := []step.Step{{Action: step.ActionNavigate, URL: "https://example.com"}}
	cands := []finding.AssertionCandidate{candidateFor(9, "#name", "Alice")}

	out, err := Run(context.Background(), &fakeFacade{}, steps, []int{0}, cands, policy.Resolve(policy.Balanced), "", testLog())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ApplyStatus == "" {
		t.Error("every candidate must leave validation with a terminal applyStatus")
	}
}

func TestRunPreservesAlreadyFinalizedStatuses(t *testing.T) {
	steps := []step.Step{{Action: step.ActionFill, Target: cssTarget("#name"), Text: "Alice"}}
	c := candidateFor(0, "#name", "Alice")
	c.ApplyStatus = finding.ApplyStatusSkippedLowConfidence
	out, err := Run(context.Background(), &fakeFacade{}, steps, []int{0}, []finding.AssertionCandidate{c}, policy.Resolve(policy.Balanced), "", testLog())
	if err != nil {
		t.Fatal(err)
	}
	if out[0].ApplyStatus != finding.ApplyStatusSkippedLowConfidence {
		t.Errorf("pre-gated status must not be overwritten, got %s", out[0].ApplyStatus)
	}
}
