package classifier

import (
	"testing"

	"github.com/webtestkit/improve/internal/step"
)

func btn(value string) step.Step {
	return step.Step{Action: step.ActionClick, Target: &step.Target{Kind: step.KindCSS, Value: value}}
}

func TestClassify_DismissTextInDictionary(t *testing.T) {
	langs := map[string]string{
		"en": "Accept all",
		"nl": "Akkoord",
		"de": "Akzeptieren",
		"fr": "Accepter",
	}
	for lang, text := range langs {
		d := Classify(Input{Step: btn("#consent"), AccessibleName: text, Role: "button"})
		if !d.Remove {
			t.Errorf("lang=%s text=%q: expected remove=true, got %+v", lang, text, d)
		}
	}
}

func TestClassify_KnownCMPSelector(t *testing.T) {
	s := btn("#onetrust-accept-btn-handler")
	d := Classify(Input{Step: s, AccessibleName: "Accept", Role: "button"})
	if !d.Remove || d.ReasonCode != ReasonCMPSelector {
		t.Fatalf("Classify() = %+v, want remove via ReasonCMPSelector", d)
	}
}

func TestClassify_ControlFalsePositivesRetained(t *testing.T) {
	for _, text := range []string{"Okidoki", "Accept and subscribe"} {
		d := Classify(Input{Step: btn("#whatever"), AccessibleName: text, Role: "button"})
		if d.Remove {
			t.Errorf("text=%q: expected retain, got remove (%s)", text, d.ReasonCode)
		}
	}
}

func TestClassify_BusinessIntentRetained(t *testing.T) {
	d := Classify(Input{Step: btn("#checkout-btn"), AccessibleName: "Proceed to checkout", Role: "button"})
	if d.Remove {
		t.Fatalf("expected business-intent step to be retained, got %+v", d)
	}
}

func TestClassify_ContentLinkRetained(t *testing.T) {
	d := Classify(Input{Step: btn("a.story"), AccessibleName: "Read more about this story", Role: "link"})
	if d.Remove {
		t.Fatalf("expected content link to be retained, got %+v", d)
	}
}

func TestClassify_TransientContextWithDismissVerb(t *testing.T) {
	d := Classify(Input{Step: btn("#banner-x"), AccessibleName: "Close cookie banner", Role: "button"})
	if !d.Remove {
		t.Fatalf("expected transient cookie-banner dismissal to be removed, got %+v", d)
	}
}

func TestClassify_PlainContentRetained(t *testing.T) {
	d := Classify(Input{Step: btn("#add-to-cart"), AccessibleName: "Add to cart", Role: "button"})
	if d.Remove {
		t.Fatalf("expected ordinary business action to be retained, got %+v", d)
	}
}

func TestIsSoleContextForSurvivingAssertion(t *testing.T) {
	target := step.Target{Kind: step.KindCSS, Value: "#login"}
	candidate := step.Step{Action: step.ActionClick, Target: &target}
	next := step.Step{Action: step.ActionAssertVisible, Target: &target}
	if !IsSoleContextForSurvivingAssertion(candidate, &next) {
		t.Fatalf("expected sole-context guard to trigger on matching target")
	}
	otherTarget := step.Target{Kind: step.KindCSS, Value: "#other"}
	next2 := step.Step{Action: step.ActionAssertVisible, Target: &otherTarget}
	if IsSoleContextForSurvivingAssertion(candidate, &next2) {
		t.Fatalf("did not expect sole-context guard for unrelated assertion target")
	}
}
