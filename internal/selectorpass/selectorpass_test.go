package selectorpass

import (
	"context"
	"testing"
	"time"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/diag"
	"github.com/webtestkit/improve/internal/step"
)

// fakeFacade is a scriptable browser.Facade: ResolveLocator returns a
// fixed match count per target value, ExecuteStep can be made to fail for
// specific indexes, and DescribeCurrentMatch supplies derivation fields
// for the candidate generator.
type fakeFacade struct {
	matchCounts map[string]int
	visible     map[string]bool
	desc        browser.ElementDescriptor
	failActions map[int]bool
	executed    int
}

func (f *fakeFacade) Launch(context.Context) error                                  { return nil }
func (f *fakeFacade) Close() error                                                  { return nil }
func (f *fakeFacade) Navigate(context.Context, string, string, time.Duration) error { return nil }
func (f *fakeFacade) ExecuteStep(ctx context.Context, s step.Step, mode browser.Mode, timeout time.Duration, baseURL string) error {
	idx := f.executed
	f.executed++
	if f.failActions[idx] {
		return errFake{}
	}
	return nil
}
func (f *fakeFacade) ResolveLocator(ctx context.Context, target step.Target) (browser.Locator, error) {
	count := f.matchCounts[target.Value]
	if count == 0 {
		count = 1
	}
	return browser.Locator{MatchCount: count, FirstVisible: f.visible[target.Value] || count == 1}, nil
}
func (f *fakeFacade) Snapshot(context.Context, string) (string, error) { return "", nil }
func (f *fakeFacade) WaitForNetworkIdle(context.Context, time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeFacade) DescribeCurrentMatch(context.Context, step.Target) (browser.ElementDescriptor, error) {
	return f.desc, nil
}

type errFake struct{}

func (errFake) Error() string { return "fake execution failure" }

func TestRun_AdoptsBetterCandidateWhenApplySelectors(t *testing.T) {
	facade := &fakeFacade{
		matchCounts: map[string]int{
			"#submit-button-3":                 1,
			`role=button[name="Submit order"]`: 1,
		},
		desc: browser.ElementDescriptor{
			Found: true, Role: "button", AccessibleName: "Submit order",
		},
	}
	target := step.Target{Kind: step.KindCSS, Value: "#submit-button-3"}
	test := step.Test{Steps: []step.Step{
		{Action: step.ActionClick, Target: &target},
	}}

	log := diag.NewLog(discard{}, "test")
	res, err := Run(context.Background(), facade, test, []int{0}, Options{ApplySelectors: true}, log)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(res.Findings))
	}
	if !res.Findings[0].Changed {
		t.Fatalf("expected the role-engine candidate to be adopted over css, finding=%+v", res.Findings[0])
	}
	if res.Steps[0].Target.Kind != step.KindRoleEngine {
		t.Fatalf("expected mutated step to carry the adopted role-engine target, got %+v", res.Steps[0].Target)
	}
}

func TestRun_NoMutationWhenApplySelectorsFalse(t *testing.T) {
	facade := &fakeFacade{
		matchCounts: map[string]int{
			"#submit-button-3":                 1,
			`role=button[name="Submit order"]`: 1,
		},
		desc: browser.ElementDescriptor{Found: true, Role: "button", AccessibleName: "Submit order"},
	}
	target := step.Target{Kind: step.KindCSS, Value: "#submit-button-3"}
	test := step.Test{Steps: []step.Step{{Action: step.ActionClick, Target: &target}}}

	log := diag.NewLog(discard{}, "test")
	res, err := Run(context.Background(), facade, test, []int{0}, Options{ApplySelectors: false}, log)
	if err != nil {
		t.Fatal(err)
	}
	if res.Steps[0].Target.Kind != step.KindCSS {
		t.Fatalf("expected step target unchanged when ApplySelectors=false, got %+v", res.Steps[0].Target)
	}
	if !res.Findings[0].Changed {
		t.Fatalf("finding should still report the recommendation even when not applied")
	}
}

func TestRun_RecordsRuntimeFailureAndContinues(t *testing.T) {
	facade := &fakeFacade{
		matchCounts: map[string]int{"#flaky": 1},
		failActions: map[int]bool{0: true},
	}
	target := step.Target{Kind: step.KindCSS, Value: "#flaky"}
	navTarget := step.Target{Kind: step.KindCSS, Value: "#next"}
	test := step.Test{Steps: []step.Step{
		{Action: step.ActionClick, Target: &target},
		{Action: step.ActionClick, Target: &navTarget},
	}}

	log := diag.NewLog(discard{}, "test")
	res, err := Run(context.Background(), facade, test, []int{0, 1}, Options{}, log)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Failures) != 1 || res.Failures[0].RuntimeIndex != 0 {
		t.Fatalf("expected one recorded runtime failure at index 0, got %+v", res.Failures)
	}
	if len(res.Findings) != 2 {
		t.Fatalf("expected execution to continue to the second step, got %d findings", len(res.Findings))
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
