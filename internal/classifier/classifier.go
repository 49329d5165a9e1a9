// Package classifier implements the runtime-failing step classifier:
// for a non-navigate step that failed during
// the selector pass, decide remove (cookie-consent / transient dismissal)
// or retain.
package classifier

import (
	"github.com/webtestkit/improve/internal/consent"
	"github.com/webtestkit/improve/internal/step"
)

// Decision is the classifier's remove/retain verdict plus the reason code
// recorded in the report diagnostics.
type Decision struct {
	Remove     bool
	ReasonCode string
}

// Reason codes recorded on a Decision. Classify checks its rules in its
// own order (control false-positive, CMP selector, dismiss text, business
// intent, content link, transient context, default retain); the order of
// these constants carries no meaning.
const (
	ReasonCMPSelector          = "runtime_failing_step_cmp_selector"
	ReasonDismissText          = "runtime_failing_step_dismiss_text"
	ReasonTransientContext     = "runtime_failing_step_transient_context"
	ReasonControlFalsePositive = "runtime_failing_step_control_false_positive_retained"
	ReasonContentLink          = "runtime_failing_step_content_link_retained"
	ReasonBusinessIntent       = "runtime_failing_step_business_intent_retained"
	ReasonDefaultRetain        = "runtime_failing_step_retained"
)

// Input bundles the observable signals the classifier has for a failed
// step: the step itself, plus the accessible name/text of its target
// gathered at the time of failure, since the element may since have
// disappeared.
type Input struct {
	Step           step.Step
	AccessibleName string
	Role           string
}

// Classify decides remove or retain for a non-navigate step that failed at
// runtime during the selector pass. Navigation steps must
// never reach this function.
func Classify(in Input) Decision {
	text := in.AccessibleName
	if text == "" && in.Step.Target != nil {
		text = in.Step.Target.Value
	}

	// Control false-positives must win outright, before any dismiss-phrase
	// match would otherwise trigger removal.
	if consent.IsControlFalsePositive(text) {
		return Decision{Remove: false, ReasonCode: ReasonControlFalsePositive}
	}

	if in.Step.Target != nil && consent.IsKnownCMPSelector(in.Step.Target.Value) {
		return Decision{Remove: true, ReasonCode: ReasonCMPSelector}
	}

	if _, ok := consent.MatchesDismissText(text); ok {
		return Decision{Remove: true, ReasonCode: ReasonDismissText}
	}

	// Business-intent verbs are a hard retain-safeguard: never removed even
	// if transient-context keywords also appear (e.g. "Accept cookie policy
	// and proceed to checkout" must not be auto-removed).
	if consent.HasBusinessIntentVerb(text) {
		return Decision{Remove: false, ReasonCode: ReasonBusinessIntent}
	}

	// Plausible content links are retained even when a soft keyword
	// coincidentally appears.
	if in.Role == "link" && consent.HasContentKeyword(text) {
		return Decision{Remove: false, ReasonCode: ReasonContentLink}
	}

	if consent.HasTransientContextKeyword(text) && (consent.HasDismissVerb(text) || in.Role == "button") {
		return Decision{Remove: true, ReasonCode: ReasonTransientContext}
	}

	return Decision{Remove: false, ReasonCode: ReasonDefaultRetain}
}

// IsSoleContextForSurvivingAssertion reports whether removing candidate
// would strip the only preceding interaction the surviving assertion
// nextSurviving depends on. A step is sole context for
// an assertion if the assertion is the very next surviving step and
// targets the same element (assertions on a different target don't depend
// on this interaction having happened).
func IsSoleContextForSurvivingAssertion(candidate step.Step, nextSurviving *step.Step) bool {
	if nextSurviving == nil || !nextSurviving.Action.IsAssertion() {
		return false
	}
	if candidate.Target == nil || nextSurviving.Target == nil {
		return false
	}
	return candidate.Target.Equivalent(*nextSurviving.Target)
}
