package candidate

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/step"
)

// fakeFacade is a minimal browser.Facade stub so this package's tests don't
// need a real Chromium binary; only DescribeCurrentMatch is exercised here.
type fakeFacade struct {
	desc browser.ElementDescriptor
	err  error
}

func (f *fakeFacade) Launch(context.Context) error                                  { return nil }
func (f *fakeFacade) Close() error                                                  { return nil }
func (f *fakeFacade) Navigate(context.Context, string, string, time.Duration) error { return nil }
func (f *fakeFacade) ExecuteStep(context.Context, step.Step, browser.Mode, time.Duration, string) error {
	return nil
}
func (f *fakeFacade) ResolveLocator(context.Context, step.Target) (browser.Locator, error) {
	return browser.Locator{}, nil
}
func (f *fakeFacade) Snapshot(context.Context, string) (string, error) { return "", nil }
func (f *fakeFacade) WaitForNetworkIdle(context.Context, time.Duration) (bool, error) {
	return false, nil
}
func (f *fakeFacade) DescribeCurrentMatch(context.Context, step.Target) (browser.ElementDescriptor, error) {
	return f.desc, f.err
}

func TestGenerateOrdersCurrentFirstThenDerived(t *testing.T) {
	current := step.Target{Kind: step.KindCSS, Value: "#submit", Source: step.SourceManual}
	facade := &fakeFacade{desc: browser.ElementDescriptor{
		Found:          true,
		Role:           "button",
		AccessibleName: "Submit order",
		TestID:         "submit-btn",
		IDAnchoredCSS:  "#form > button:nth-of-type(1)",
	}}

	candidates, err := Generate(context.Background(), facade, current)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) < 2 {
		t.Fatalf("expected at least current + one derived candidate, got %d", len(candidates))
	}
	if candidates[0].ReasonCodes[0] != ReasonCurrent {
		t.Fatalf("expected first candidate to be current, got %v", candidates[0].ReasonCodes)
	}
	if !reflect.DeepEqual(candidates[0].Target, current) {
		t.Fatalf("expected first candidate target to equal current, got %+v", candidates[0].Target)
	}

	var sawRole, sawTestID, sawCSS bool
	for _, c := range candidates[1:] {
		switch c.ReasonCodes[0] {
		case ReasonDerivedRole:
			sawRole = true
			if c.Target.Kind != step.KindRoleEngine {
				t.Errorf("expected role candidate to use role-engine kind, got %s", c.Target.Kind)
			}
		case ReasonDerivedTestID:
			sawTestID = true
			if c.Target.Kind != step.KindLocatorExpr {
				t.Errorf("expected testid candidate to use locatorExpression kind, got %s", c.Target.Kind)
			}
		case ReasonDerivedIDCSS:
			sawCSS = true
		}
	}
	if !sawRole || !sawTestID || !sawCSS {
		t.Fatalf("expected role, testid, and id-css derived candidates, got %+v", candidates)
	}
}

func TestGenerateSkipsEmptyAttributesAndDuplicates(t *testing.T) {
	current := step.Target{Kind: step.KindCSS, Value: "#submit", Source: step.SourceManual}
	facade := &fakeFacade{desc: browser.ElementDescriptor{
		Found:         true,
		IDAnchoredCSS: "#submit", // duplicates current target value+kind
	}}

	candidates, err := Generate(context.Background(), facade, current)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected duplicate derived candidate to be suppressed, got %d candidates: %+v", len(candidates), candidates)
	}
}

func TestGenerateReturnsOnlyCurrentWhenNoMatch(t *testing.T) {
	current := step.Target{Kind: step.KindCSS, Value: "#gone", Source: step.SourceManual}
	facade := &fakeFacade{desc: browser.ElementDescriptor{Found: false}}

	candidates, err := Generate(context.Background(), facade, current)
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected only the current candidate when nothing resolves, got %d", len(candidates))
	}
}

func TestCallExprEscapesQuotes(t *testing.T) {
	got := callExpr("getByLabel", "it's here")
	want := `getByLabel('it\'s here')`
	if got != want {
		t.Errorf("callExpr = %q, want %q", got, want)
	}
}
