// Package triage classifies captured runtime failure messages into repair
// categories, independent of a live browser. The engine uses it to annotate
// runtime-failing-step diagnostics; the CLI exposes it as a standalone
// `classify` action for post-mortem triage of CI failure logs.
package triage

import (
	"regexp"
	"strings"
)

// Category values for a classified failure.
const (
	CategorySelectorBroken = "selector_broken"
	CategoryTimingFlaky    = "timing_flaky"
	CategoryNetworkFlaky   = "network_flaky"
	CategoryRealBug        = "real_bug"
	CategoryTestBug        = "test_bug"
	CategoryUnknown        = "unknown"
)

// categoryActions maps a category to the recommended follow-up.
var categoryActions = map[string]string{
	CategorySelectorBroken: "rerun improve with --apply-selectors",
	CategoryTimingFlaky:    "add an explicit wait before the failing step",
	CategoryNetworkFlaky:   "retry; if persistent, stub the flaky endpoint",
	CategoryRealBug:        "investigate the application, not the test",
	CategoryTestBug:        "fix the test step itself",
}

// Classification is the result for one failure message.
type Classification struct {
	Category          string   `json:"category"`
	Confidence        float64  `json:"confidence"`
	Evidence          []string `json:"evidence"`
	RecommendedAction string   `json:"recommendedAction"`
}

// BatchResult aggregates classifications over a set of failure messages.
type BatchResult struct {
	TotalClassified int              `json:"totalClassified"`
	Classifications []Classification `json:"classifications"`
	Summary         map[string]int   `json:"summary"`
	RealBugs        int              `json:"realBugs"`
	Flaky           int              `json:"flaky"`
	Uncertain       int              `json:"uncertain"`
}

type rule struct {
	match      func(string) bool
	category   string
	confidence float64
	evidence   func(string) []string
}

var selectorQuotePattern = regexp.MustCompile(`(?:selector|locator|target)\s+["']([^"']+)["']`)

// rules is evaluated in order; the first match wins.
var rules = []rule{
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "waiting for") && selectorQuotePattern.MatchString(msg)
		},
		category:   CategorySelectorBroken,
		confidence: 0.9,
		evidence: func(msg string) []string {
			m := selectorQuotePattern.FindStringSubmatch(msg)
			return []string{
				"target " + m[1] + " not found in current DOM",
				"timed out waiting for an element that never resolved",
			}
		},
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "zero matches") || strings.Contains(msg, "no element matches")
		},
		category:   CategorySelectorBroken,
		confidence: 0.85,
		evidence: func(msg string) []string {
			return []string{"locator resolved to zero matches", msg}
		},
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "waiting for")
		},
		category:   CategoryTimingFlaky,
		confidence: 0.8,
		evidence: func(string) []string {
			return []string{"timed out waiting; the element may exist but appear late"}
		},
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "net::ERR_") || strings.Contains(strings.ToLower(msg), "network")
		},
		category:   CategoryNetworkFlaky,
		confidence: 0.85,
		evidence: func(msg string) []string {
			return []string{"network error detected: " + msg}
		},
	},
	{
		match: func(msg string) bool {
			lower := strings.ToLower(msg)
			return strings.Contains(lower, "expected") &&
				(strings.Contains(lower, "to be") || strings.Contains(lower, "to equal") || strings.Contains(lower, "got"))
		},
		category:   CategoryRealBug,
		confidence: 0.7,
		evidence: func(string) []string {
			return []string{"assertion failed: actual value differs from expected"}
		},
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "not attached") || strings.Contains(msg, "detached")
		},
		category:   CategoryTimingFlaky,
		confidence: 0.8,
		evidence: func(string) []string {
			return []string{"element detached from the DOM during the step"}
		},
	},
	{
		match: func(msg string) bool {
			return strings.Contains(msg, "outside viewport") || strings.Contains(msg, "not visible")
		},
		category:   CategoryTestBug,
		confidence: 0.75,
		evidence: func(string) []string {
			return []string{"element outside the viewport or hidden; the step needs a scroll or a different target"}
		},
	},
}

// Classify categorizes a single captured failure message.
func Classify(message string) Classification {
	for _, r := range rules {
		if r.match(message) {
			return Classification{
				Category:          r.category,
				Confidence:        r.confidence,
				Evidence:          r.evidence(message),
				RecommendedAction: categoryActions[r.category],
			}
		}
	}
	return Classification{
		Category:          CategoryUnknown,
		Confidence:        0.3,
		Evidence:          []string{"failure pattern not recognized", "message: " + message},
		RecommendedAction: "manual review",
	}
}

// ClassifyBatch classifies multiple failure messages and aggregates counts.
func ClassifyBatch(messages []string) BatchResult {
	out := BatchResult{
		TotalClassified: len(messages),
		Classifications: make([]Classification, len(messages)),
		Summary:         make(map[string]int),
	}
	for i, msg := range messages {
		c := Classify(msg)
		out.Classifications[i] = c
		out.Summary[c.Category]++
		if c.Category == CategoryRealBug {
			out.RealBugs++
		}
		if c.Category == CategoryTimingFlaky || c.Category == CategoryNetworkFlaky {
			out.Flaky++
		}
		if c.Confidence < 0.5 {
			out.Uncertain++
		}
	}
	return out
}
