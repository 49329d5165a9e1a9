package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/diag"
	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/policy"
	"github.com/webtestkit/improve/internal/step"
)

// fakeFacade scripts playback failures by target value. ResolveLocator
// reports a unique visible match for everything so stale detection and
// scoring stay out of the way unless a test opts in via matchCounts.
type fakeFacade struct {
	failSteps   map[string]bool
	matchCounts map[string]int
	snapshots   []string
	snapshotPos int
}

func (f *fakeFacade) Launch(context.Context) error                                  { return nil }
func (f *fakeFacade) Close() error                                                  { return nil }
func (f *fakeFacade) Navigate(context.Context, string, string, time.Duration) error { return nil }
func (f *fakeFacade) ExecuteStep(ctx context.Context, s step.Step, mode browser.Mode, timeout time.Duration, baseURL string) error {
	if s.Target != nil && mode == browser.ModePlayback && f.failSteps[s.Target.Value] {
		return errors.New("element not found: " + s.Target.Value)
	}
	return nil
}
func (f *fakeFacade) ResolveLocator(ctx context.Context, target step.Target) (browser.Locator, error) {
	count, ok := f.matchCounts[target.Value]
	if !ok {
		count = 1
	}
	return browser.Locator{MatchCount: count, FirstVisible: count > 0}, nil
}
func (f *fakeFacade) Snapshot(context.Context, string) (string, error) {
	if f.snapshotPos < len(f.snapshots) {
		s := f.snapshots[f.snapshotPos]
		f.snapshotPos++
		return s, nil
	}
	return "", nil
}
func (f *fakeFacade) WaitForNetworkIdle(context.Context, time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeFacade) DescribeCurrentMatch(context.Context, step.Target) (browser.ElementDescriptor, error) {
	return browser.ElementDescriptor{}, nil
}

func writeTestFile(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseOptions(testFile string, facade *fakeFacade) Options {
	return Options{
		TestFile: testFile,
		Sink:     io.Discard,
		NewFacade: func(*diag.Log) browser.Facade {
			return facade
		},
		Now: func() time.Time { return time.Unix(1700000000, 0).UTC() },
	}
}

const fillTestYAML = `name: "signup"
baseUrl: "https://example.com"
steps:
  - action: "navigate"
    url: "/signup"
  - action: "fill"
    target:
      value: "#name"
      kind: "css"
      source: "manual"
    text: "Alice"
`

func TestRunAppliesDeterministicAssertValue(t *testing.T) {
	path := writeTestFile(t, fillTestYAML)
	opts := baseOptions(path, &fakeFacade{})
	opts.ApplyAssertions = true
	opts.Assertions = AssertionsCandidates
	opts.AssertionPolicy = policy.Reliable

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	if res.Report.Summary.AppliedAssertions != 1 {
		t.Fatalf("appliedAssertions = %d, want 1; candidates: %+v",
			res.Report.Summary.AppliedAssertions, res.Report.AssertionCandidates)
	}
	if res.OutputPath != path {
		t.Errorf("outputPath = %q, want the test file", res.OutputPath)
	}

	written, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(written), "assertValue") || !strings.Contains(string(written), "Alice") {
		t.Errorf("written YAML missing inserted assertValue:\n%s", written)
	}

	if _, err := os.Stat(res.ReportPath); err != nil {
		t.Errorf("report not written: %v", err)
	}

	// Every candidate carries a terminal applyStatus; applied ones only
	// when requested.
	for _, c := range res.Report.AssertionCandidates {
		if c.ApplyStatus == "" {
			t.Errorf("candidate without applyStatus: %+v", c)
		}
	}
}

func TestRunWithoutApplyLeavesFileUntouched(t *testing.T) {
	path := writeTestFile(t, fillTestYAML)
	before, _ := os.ReadFile(path)

	opts := baseOptions(path, &fakeFacade{})
	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	after, _ := os.ReadFile(path)
	if string(before) != string(after) {
		t.Error("test file must not change when no apply mode is requested")
	}
	if res.OutputPath != "" {
		t.Errorf("outputPath = %q, want empty", res.OutputPath)
	}
	if len(res.Report.StepFindings) != 1 {
		t.Errorf("expected 1 finding for the fill step, got %d", len(res.Report.StepFindings))
	}
}

func TestRunDowngradesApplyAssertionsWithoutCandidates(t *testing.T) {
	path := writeTestFile(t, fillTestYAML)
	opts := baseOptions(path, &fakeFacade{})
	opts.ApplyAssertions = true
	opts.Assertions = AssertionsNone

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if res.OutputPath != "" {
		t.Error("downgraded run must not write the test file")
	}
	found := false
	for _, d := range res.Report.Diagnostics {
		if d.Code == DiagApplyAssertionsDowngraded {
			found = true
		}
	}
	if !found {
		t.Error("expected the downgrade diagnostic in the report")
	}
}

const cookieTestYAML = `name: "news"
steps:
  - action: "navigate"
    url: "https://news.example.com"
  - action: "click"
    target:
      value: "role=button[name=\"Akkoord\"]"
      kind: "role-engine"
      source: "codegen-jsonl"
  - action: "fill"
    target:
      value: "#search"
      kind: "css"
      source: "manual"
    text: "weather"
`

func TestRunRemovesRuntimeFailingCookieStep(t *testing.T) {
	path := writeTestFile(t, cookieTestYAML)
	facade := &fakeFacade{failSteps: map[string]bool{`role=button[name="Akkoord"]`: true}}
	opts := baseOptions(path, facade)
	opts.ApplySelectors = true

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	if res.Report.Summary.RuntimeFailingStepsRemoved != 1 {
		t.Fatalf("runtimeFailingStepsRemoved = %d, want 1", res.Report.Summary.RuntimeFailingStepsRemoved)
	}

	written, _ := os.ReadFile(path)
	if strings.Contains(string(written), "Akkoord") {
		t.Errorf("cookie-consent step still present in written YAML:\n%s", written)
	}

	// Surviving steps keep their original indexes in the report.
	for _, f := range res.Report.StepFindings {
		if f.OldTarget.Value == "#search" && f.Index != 2 {
			t.Errorf("fill step finding index = %d, want original index 2", f.Index)
		}
	}
}

const duplicateTestYAML = `name: "login"
steps:
  - action: "navigate"
    url: "https://example.com/login"
  - action: "click"
    target:
      value: "#login"
      kind: "css"
      source: "manual"
  - action: "assertVisible"
    target:
      value: "#login"
      kind: "css"
      source: "manual"
`

func TestRunSkipsCandidateDuplicatingAdjacentAssertion(t *testing.T) {
	path := writeTestFile(t, duplicateTestYAML)
	opts := baseOptions(path, &fakeFacade{})
	opts.ApplyAssertions = true
	opts.Assertions = AssertionsCandidates
	opts.AssertionPolicy = policy.Aggressive

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}

	var dup *finding.AssertionCandidate
	for i := range res.Report.AssertionCandidates {
		c := &res.Report.AssertionCandidates[i]
		if c.Index == 1 && c.Candidate.Action == step.ActionAssertVisible {
			dup = c
		}
	}
	if dup == nil {
		t.Fatal("expected a coverage-fallback assertVisible candidate for the click step")
	}
	if dup.ApplyStatus != finding.ApplyStatusSkippedExisting {
		t.Errorf("applyStatus = %s, want skipped_existing", dup.ApplyStatus)
	}

	written, _ := os.ReadFile(path)
	if n := strings.Count(string(written), "assertVisible"); n != 1 {
		t.Errorf("written YAML has %d assertVisible steps, want exactly 1:\n%s", n, written)
	}
}

func TestRunMarksCandidatesNotRequestedWithoutApply(t *testing.T) {
	path := writeTestFile(t, fillTestYAML)
	opts := baseOptions(path, &fakeFacade{})
	opts.Assertions = AssertionsCandidates
	opts.AssertionPolicy = policy.Reliable

	res, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Report.AssertionCandidates) == 0 {
		t.Fatal("expected candidates to be generated")
	}
	for _, c := range res.Report.AssertionCandidates {
		if c.ApplyStatus == finding.ApplyStatusApplied {
			t.Errorf("no candidate may be applied when applyAssertions=false: %+v", c)
		}
	}
	if res.OutputPath != "" {
		t.Error("candidates-only run must not write the test file")
	}
}

func TestRunCancelledContext(t *testing.T) {
	path := writeTestFile(t, fillTestYAML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, baseOptions(path, &fakeFacade{}))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	reportPath := strings.TrimSuffix(path, ".yaml") + ".improve-report.json"
	if _, statErr := os.Stat(reportPath); statErr == nil {
		t.Error("no partial report may be written after cancellation")
	}
}

func TestRunEmitsFragileAcrossRunsDiagnostic(t *testing.T) {
	path := writeTestFile(t, cookieTestYAML)
	facade := &fakeFacade{failSteps: map[string]bool{`role=button[name="Akkoord"]`: true}}

	// First run records the failing target in its report.
	if _, err := Run(context.Background(), baseOptions(path, facade)); err != nil {
		t.Fatal(err)
	}
	// Second run sees the same target fail again.
	res, err := Run(context.Background(), baseOptions(path, facade))
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, d := range res.Report.Diagnostics {
		if d.Code == DiagFragileAcrossRuns {
			found = true
		}
	}
	if !found {
		t.Error("expected selector_fragile_across_runs after two consecutive failures")
	}
}
