package assertgen

import (
	"regexp"
	"strings"

	"github.com/webtestkit/improve/internal/finding"
	"github.com/webtestkit/improve/internal/step"
)

// node is one parsed line of a browser.Facade.Snapshot() accessibility
// summary: "<indent>role: \"name\"" (see internal/browser/facade_cdp.go's
// snapshotScript doc comment for the exact wire format).
type node struct {
	Role string
	Name string
	raw  string
}

var snapshotLinePattern = regexp.MustCompile(`^(\S+)(?:: "(.*)")?$`)

// parseSnapshot splits a Snapshot() string into its nodes, preserving
// document order.
func parseSnapshot(text string) []node {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var nodes []node
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimLeft(line, " ")
		if trimmed == "" {
			continue
		}
		m := snapshotLinePattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		nodes = append(nodes, node{Role: m[1], Name: m[2], raw: trimmed})
	}
	return nodes
}

var purelyNumericPattern = regexp.MustCompile(`^[\d.,\s%$€£¥+-]+$`)

func isPurelyNumeric(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && purelyNumericPattern.MatchString(s)
}

// salientRoles is the role set the snapshot-inventory generator (C12b)
// considers "salient stable nodes".
var salientRoles = map[string]bool{
	"heading": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"status": true, "navigation": true, "nav": true, "dialog": true,
}

// SnapshotDelta implements C12a: given pre/post accessibility-tree
// snapshots for a coverage step, extract nodes present in post but not pre
// and emit assertText (for nodes with a name) or assertVisible (role+name)
// candidates, excluding nodes whose text equals the acted target's
// accessible name or that are purely numeric.
func SnapshotDelta(originalIndex int, afterAction step.Action, pre, post string, actedAccessibleName string) []finding.AssertionCandidate {
	preSet := map[string]bool{}
	for _, n := range parseSnapshot(pre) {
		preSet[n.raw] = true
	}

	var out []finding.AssertionCandidate
	for _, n := range parseSnapshot(post) {
		if preSet[n.raw] {
			continue
		}
		if n.Name != "" && strings.EqualFold(n.Name, actedAccessibleName) {
			continue
		}
		if n.Name != "" && isPurelyNumeric(n.Name) {
			continue
		}
		out = append(out, snapshotCandidate(originalIndex, afterAction, n, finding.SourceSnapshotNative, ConfidenceSnapshotDelta))
	}
	return out
}

// SnapshotInventory implements C12b: only invoked when a coverage step has
// zero non-fallback candidates (caller's responsibility to check), pick up
// to two salient stable nodes from the post-snapshot and emit candidates.
func SnapshotInventory(originalIndex int, afterAction step.Action, post string) []finding.AssertionCandidate {
	var out []finding.AssertionCandidate
	for _, n := range parseSnapshot(post) {
		if !salientRoles[n.Role] {
			continue
		}
		if n.Name != "" && isPurelyNumeric(n.Name) {
			continue
		}
		c := snapshotCandidate(originalIndex, afterAction, n, finding.SourceSnapshotNative, ConfidenceSnapshotInventory)
		c.CoverageFallback = true
		out = append(out, c)
		if len(out) >= 2 {
			break
		}
	}
	return out
}

func snapshotCandidate(originalIndex int, afterAction step.Action, n node, source finding.CandidateSource, confidence float64) finding.AssertionCandidate {
	var candidateStep step.Step
	rationale := ""
	if n.Name != "" {
		target := step.Target{Kind: step.KindTextSelector, Source: step.SourceDerived, Value: n.Name}
		candidateStep = step.Step{Action: step.ActionAssertText, Target: &target, Text: n.Name}
		rationale = "snapshot delta: new \"" + n.Role + "\" node with text observed after the step"
	} else {
		target := step.Target{
			Kind:   step.KindRoleEngine,
			Source: step.SourceDerived,
			Value:  "role=" + n.Role,
		}
		candidateStep = step.Step{Action: step.ActionAssertVisible, Target: &target}
		rationale = "snapshot delta: new \"" + n.Role + "\" node observed after the step"
	}
	return finding.AssertionCandidate{
		Index:           originalIndex,
		AfterAction:     afterAction,
		Candidate:       candidateStep,
		Confidence:      confidence,
		Rationale:       rationale,
		CandidateSource: source,
	}
}

// DeduplicateSnapshotCandidates removes duplicates by (stepIndex, action,
// target.value, auxiliary scalar), keeping the first occurrence.
func DeduplicateSnapshotCandidates(candidates []finding.AssertionCandidate) []finding.AssertionCandidate {
	seen := make(map[string]bool, len(candidates))
	out := make([]finding.AssertionCandidate, 0, len(candidates))
	for _, c := range candidates {
		key := c.DedupeKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
