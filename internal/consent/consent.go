// Package consent holds the multilingual cookie-consent dictionary and CMP
// selector list shared by the browser facade's init-script dismisser
// and the runtime-failing-step classifier.
// Keeping one dictionary avoids the two components silently drifting apart.
package consent

import "strings"

// CMPSelectors is a curated list of CMP-vendor-specific accept-button
// selectors, checked before falling back to text matching.
var CMPSelectors = []string{
	"#onetrust-accept-btn-handler",
	".ot-sdk-container #accept-recommended-btn-handler",
	"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
	"#didomi-notice-agree-button",
	".qc-cmp2-summary-buttons button[mode='primary']",
	"#sp_choice_type_11",
	".fc-cta-consent",
	"#cookiescript_accept",
	"button[data-testid='uc-accept-all-button']",
	".cc-btn.cc-allow",
}

// DismissTexts maps a BCP-47-ish language tag to the accept/dismiss button
// texts a cookie banner is likely to use in that language.
var DismissTexts = map[string][]string{
	"en": {"accept all", "accept cookies", "i agree", "agree", "ok", "got it", "allow all", "accept"},
	"nl": {"accepteren", "alles accepteren", "akkoord", "ik ga akkoord", "sta toe"},
	"de": {"akzeptieren", "alle akzeptieren", "zustimmen", "einverstanden"},
	"fr": {"accepter", "tout accepter", "j'accepte", "je suis d'accord"},
}

// transientContextKeywords are words that, combined with a dismiss verb or
// role=button cue, indicate a step is acting on a transient consent/overlay
// widget rather than real application content.
var transientContextKeywords = []string{
	"cookie", "cookies", "consent", "gdpr", "banner", "popup", "pop-up", "dialog",
	"privacy", "tracking", "overlay",
	// nl
	"cookies toestaan", "privacyvoorkeuren",
	// de
	"datenschutz", "einwilligung",
	// fr
	"confidentialité", "témoins",
}

// controlFalsePositives is the set the classifier must
// retain despite superficially resembling a consent dismiss action.
var controlFalsePositives = map[string]bool{
	"okidoki":              true,
	"accept and subscribe": true,
}

// IsKnownCMPSelector reports whether selector matches a known CMP vendor
// selector (exact match, case-insensitive on the whole string).
func IsKnownCMPSelector(selector string) bool {
	lower := strings.ToLower(strings.TrimSpace(selector))
	for _, s := range CMPSelectors {
		if strings.ToLower(s) == lower {
			return true
		}
	}
	return false
}

// MatchesDismissText reports whether text matches one of the dictionary's
// dismiss phrases in any language, after folding to lowercase.
func MatchesDismissText(text string) (lang string, ok bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return "", false
	}
	for _, phrases := range sortedLangs() {
		for _, phrase := range DismissTexts[phrases] {
			if lower == phrase {
				return phrases, true
			}
		}
	}
	return "", false
}

func sortedLangs() []string {
	// Fixed iteration order keeps classification deterministic.
	return []string{"en", "nl", "de", "fr"}
}

// IsControlFalsePositive reports whether text is in the curated set of
// phrases that must never be classified as a consent dismiss action
// despite superficial resemblance.
func IsControlFalsePositive(text string) bool {
	return controlFalsePositives[strings.ToLower(strings.TrimSpace(text))]
}

// HasTransientContextKeyword reports whether text contains one of the
// transient-context keywords (cookie, consent, gdpr, banner, ...).
func HasTransientContextKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range transientContextKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// dismissVerbs are verbs that, paired with a transient-context keyword,
// strengthen the case for removal.
var dismissVerbs = []string{"accept", "agree", "allow", "dismiss", "close", "ok", "got it", "accepteren", "akzeptieren", "accepter"}

// HasDismissVerb reports whether text contains a dismiss verb.
func HasDismissVerb(text string) bool {
	lower := strings.ToLower(text)
	for _, v := range dismissVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// businessIntentVerbs are verbs that indicate the step carries real
// application intent and must never be auto-removed by the classifier.
var businessIntentVerbs = []string{"checkout", "payment", "order", "billing", "pay", "purchase", "subscribe"}

// HasBusinessIntentVerb reports whether text contains a business-intent verb.
func HasBusinessIntentVerb(text string) bool {
	lower := strings.ToLower(text)
	for _, v := range businessIntentVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// contentKeywords indicate a plausible real content link when the step's
// role is link.
var contentKeywords = []string{"article", "story", "read more", "learn more", "product", "details", "blog", "news"}

// HasContentKeyword reports whether text contains a content keyword.
func HasContentKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, v := range contentKeywords {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// consentHostMarkers are host/path fragments that indicate consent context
// evidence (a CMP marker or a known consent host/path).
var consentHostMarkers = []string{"consent.", "cdn.cookielaw.org", "cookiebot.com", "onetrust.com", "didomi.io", "/cdn-cgi/consent", "quantcast.com"}

// HasConsentHostEvidence reports whether a URL or DOM marker string
// indicates consent-management context.
func HasConsentHostEvidence(marker string) bool {
	lower := strings.ToLower(marker)
	for _, m := range consentHostMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
