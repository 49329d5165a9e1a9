package assertgen

import (
	"testing"

	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/step"
)

func TestDeterministic_FillEmitsAssertValue(t *testing.T) {
	target := step.Target{Kind: step.KindCSS, Value: "#name"}
	s := step.Step{Action: step.ActionFill, Target: &target, Text: "Alice"}

	cand, skip := Deterministic(0, s, nil)
	if skip != nil {
		t.Fatalf("unexpected skip: %+v", skip)
	}
	if cand == nil {
		t.Fatal("expected a candidate")
	}
	if cand.Candidate.Action != step.ActionAssertValue || cand.Candidate.Value != "Alice" {
		t.Errorf("candidate = %+v, want assertValue(value=Alice)", cand.Candidate)
	}
	if cand.Confidence != ConfidenceDeterministic {
		t.Errorf("confidence = %v, want %v", cand.Confidence, ConfidenceDeterministic)
	}
}

func TestDeterministic_CheckEmitsAssertChecked(t *testing.T) {
	target := step.Target{Kind: step.KindCSS, Value: "#tos"}
	s := step.Step{Action: step.ActionCheck, Target: &target}
	cand, _ := Deterministic(0, s, nil)
	if cand.Candidate.Action != step.ActionAssertChecked || cand.Candidate.Checked == nil || !*cand.Candidate.Checked {
		t.Errorf("candidate = %+v, want assertChecked(true)", cand.Candidate)
	}
}

func TestDeterministic_ClickEmitsCoverageFallback(t *testing.T) {
	target := step.Target{Kind: step.KindCSS, Value: "#submit"}
	s := step.Step{Action: step.ActionClick, Target: &target}
	cand, skip := Deterministic(0, s, nil)
	if skip != nil {
		t.Fatalf("unexpected skip: %+v", skip)
	}
	if !cand.CoverageFallback || cand.Candidate.Action != step.ActionAssertVisible {
		t.Errorf("candidate = %+v, want coverage-fallback assertVisible", cand)
	}
}

func TestDeterministic_NavigationLikeDynamicClickSkipped(t *testing.T) {
	target := step.Target{
		Kind:  step.KindLocatorExpr,
		Value: `getByRole('link', { name: 'Schiphol vluchten winterweer update 12:30' })`,
	}
	s := step.Step{Action: step.ActionClick, Target: &target}
	cand, skip := Deterministic(0, s, nil)
	if cand != nil {
		t.Fatalf("expected no candidate for a dynamic link click, got %+v", cand)
	}
	if skip == nil {
		t.Fatal("expected a skip reason recorded")
	}
}

func TestDeterministic_RepairedTargetAdopted(t *testing.T) {
	original := step.Target{Kind: step.KindCSS, Value: "#name"}
	repaired := step.Target{Kind: step.KindRoleEngine, Value: `role=textbox[name="Name"]`}
	s := step.Step{Action: step.ActionFill, Target: &original, Text: "Alice"}
	cand, _ := Deterministic(0, s, &repaired)
	if cand.Candidate.Target.Value != repaired.Value {
		t.Errorf("expected candidate to adopt repaired target, got %v", cand.Candidate.Target.Value)
	}
}

func TestSnapshotDelta_ExcludesActedNameAndNumeric(t *testing.T) {
	pre := "button: \"Add to cart\""
	post := "button: \"Add to cart\"\nstatus: \"Item added to cart\"\nstatus: \"42\""
	out := SnapshotDelta(0, step.ActionClick, pre, post, "Item added to cart")
	if len(out) != 0 {
		t.Fatalf("expected all delta nodes excluded (acted name + numeric), got %d: %+v", len(out), out)
	}
}

func TestSnapshotDelta_EmitsNewStableNode(t *testing.T) {
	pre := "button: \"Add to cart\""
	post := "button: \"Add to cart\"\nstatus: \"1 item in cart\""
	out := SnapshotDelta(0, step.ActionClick, pre, post, "Add to cart")
	if len(out) != 1 {
		t.Fatalf("expected 1 delta candidate, got %d", len(out))
	}
	if out[0].Candidate.Action != step.ActionAssertText {
		t.Errorf("expected assertText, got %v", out[0].Candidate.Action)
	}
}

func TestSnapshotInventory_CapsAtTwoSalientNodes(t *testing.T) {
	post := "heading: \"Checkout\"\nnavigation: \"Main nav\"\ndialog: \"Confirm\"\nstatus: \"99\""
	out := SnapshotInventory(0, step.ActionClick, post)
	if len(out) != 2 {
		t.Fatalf("expected cap of 2 candidates, got %d", len(out))
	}
	for _, c := range out {
		if !c.CoverageFallback {
			t.Errorf("snapshot inventory candidates must be coverage fallbacks")
		}
	}
}

func TestDeduplicateSnapshotCandidates(t *testing.T) {
	target := step.Target{Kind: step.KindTextSelector, Value: "hello"}
	mk := func() finding.AssertionCandidate {
		return finding.AssertionCandidate{
			Index:     0,
			Candidate: step.Step{Action: step.ActionAssertText, Target: &target, Text: "hello"},
		}
	}
	in := []finding.AssertionCandidate{mk(), mk()}
	out := DeduplicateSnapshotCandidates(in)
	if len(out) != 1 {
		t.Fatalf("expected duplicates collapsed to 1, got %d", len(out))
	}
}
