// Package finding holds the shared result types threaded through the
// pipeline from the selector pass through the report assembler:
// StepFinding, AssertionCandidate, and StepSnapshot. They live
// in one package, independent of any single pass, because multiple
// components (selector pass, assertion generators, policy engine,
// validator, report assembler) all read and write them.
package finding

import "github.com/webtestkit/improve/internal/step"

// StepFinding is one row per interacting step summarizing selector
// analysis.
type StepFinding struct {
	Index             int         `json:"index"` // original step index
	Action            step.Action `json:"action"`
	OldTarget         step.Target `json:"oldTarget"`
	RecommendedTarget step.Target `json:"recommendedTarget"`
	OldScore          float64     `json:"oldScore"`
	RecommendedScore  float64     `json:"recommendedScore"`
	ConfidenceDelta   float64     `json:"confidenceDelta"`
	ReasonCodes       []string    `json:"reasonCodes"`
	Changed           bool        `json:"changed"`
}

// ApplyStatus enumerates AssertionCandidate.applyStatus.
type ApplyStatus string

const (
	ApplyStatusApplied               ApplyStatus = "applied"
	ApplyStatusSkippedLowConfidence  ApplyStatus = "skipped_low_confidence"
	ApplyStatusSkippedRuntimeFailure ApplyStatus = "skipped_runtime_failure"
	ApplyStatusSkippedPolicy         ApplyStatus = "skipped_policy"
	ApplyStatusSkippedExisting       ApplyStatus = "skipped_existing"
	ApplyStatusNotRequested          ApplyStatus = "not_requested"
)

// CandidateSource enumerates AssertionCandidate.candidateSource.
type CandidateSource string

const (
	SourceDeterministic  CandidateSource = "deterministic"
	SourceSnapshotNative CandidateSource = "snapshot_native"
	SourceSnapshotCLI    CandidateSource = "snapshot_cli"
)

// AssertionCandidate is a proposed post-condition assertion for the
// interacting step at Index.
type AssertionCandidate struct {
	Index            int             `json:"index"` // original step index this candidate follows
	AfterAction      step.Action     `json:"afterAction"`
	Candidate        step.Step       `json:"candidate"`
	Confidence       float64         `json:"confidence"`
	Rationale        string          `json:"rationale"`
	CoverageFallback bool            `json:"coverageFallback,omitempty"`
	StabilityScore   float64         `json:"stabilityScore"`
	VolatilityFlags  []string        `json:"volatilityFlags,omitempty"`
	CandidateSource  CandidateSource `json:"candidateSource"`
	ApplyStatus      ApplyStatus     `json:"applyStatus"`
	ApplyMessage     string          `json:"applyMessage,omitempty"`
}

// DedupeKey returns the (stepIndex, action, target.value, auxiliary
// scalar) tuple snapshot candidates are required to be
// deduplicated by.
func (c AssertionCandidate) DedupeKey() string {
	aux := c.Candidate.Text + "\x00" + c.Candidate.Value
	if c.Candidate.Checked != nil {
		if *c.Candidate.Checked {
			aux += "\x00true"
		} else {
			aux += "\x00false"
		}
	}
	target := ""
	if c.Candidate.Target != nil {
		target = c.Candidate.Target.Value
	}
	return itoa(c.Index) + "\x00" + string(c.Candidate.Action) + "\x00" + target + "\x00" + aux
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// StepSnapshot holds pre/post accessibility-tree strings for one runtime
// step, keyed by runtime index at capture time.
type StepSnapshot struct {
	RuntimeIndex int    `json:"runtimeIndex"`
	Pre          string `json:"pre,omitempty"`
	Post         string `json:"post,omitempty"`
}
