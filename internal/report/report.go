// Package report assembles the run report: the final Report document,
// its Summary aggregation, the
// schema validation pass over the assembled report, and the atomic
// write-then-rename disk writes for both the report JSON and the mutated
// test YAML.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/webtestkit/improve/internal/diag"
	"github.com/webtestkit/improve/internal/errs"
	"github.com/webtestkit/improve/internal/finding"
)

// Summary aggregates per-outcome counts and coverage ratios.
type Summary struct {
	TotalSteps         int `json:"totalSteps"`
	InteractingSteps   int `json:"interactingSteps"`
	SelectorsChanged   int `json:"selectorsChanged"`
	SelectorsUnchanged int `json:"selectorsUnchanged"`

	AppliedAssertions          int `json:"appliedAssertions"`
	SkippedLowConfidence       int `json:"skippedLowConfidence"`
	SkippedRuntimeFailure      int `json:"skippedRuntimeFailure"`
	SkippedPolicy              int `json:"skippedPolicy"`
	SkippedExisting            int `json:"skippedExisting"`
	NotRequested               int `json:"notRequested"`
	CoverageFallbackCandidates int `json:"coverageFallbackCandidates"`

	StaleAssertionsRemoved     int `json:"staleAssertionsRemoved"`
	RuntimeFailingStepsRemoved int `json:"runtimeFailingStepsRemoved"`

	// Coverage ratios:
	// WithApplied <= WithCandidates <= Total.
	AssertionCoverageStepsTotal          int     `json:"assertionCoverageStepsTotal"`
	AssertionCoverageStepsWithCandidates int     `json:"assertionCoverageStepsWithCandidates"`
	AssertionCoverageStepsWithApplied    int     `json:"assertionCoverageStepsWithApplied"`
	AssertionCoverageRatio               float64 `json:"assertionCoverageRatio"`
}

// Report is the final document written to disk.
type Report struct {
	TestFile            string                       `json:"testFile"`
	GeneratedAt         time.Time                    `json:"generatedAt"`
	Provider            string                       `json:"provider"`
	Summary             Summary                      `json:"summary"`
	StepFindings        []finding.StepFinding        `json:"stepFindings"`
	AssertionCandidates []finding.AssertionCandidate `json:"assertionCandidates"`
	Diagnostics         []diag.Diagnostic            `json:"diagnostics"`
}

// ProviderTag identifies this engine in the report's provider field.
const ProviderTag = "improve-engine"

// DefaultPath derives the report path from the test file path.
func DefaultPath(testFile string) string {
	ext := filepath.Ext(testFile)
	return strings.TrimSuffix(testFile, ext) + ".improve-report.json"
}

// Assemble builds the Report for one run. totalOriginalSteps is the step
// count of the input file before any removal; coverage counts are computed
// from the candidate set itself.
func Assemble(testFile string, generatedAt time.Time, totalOriginalSteps, interactingSteps, staleRemoved, runtimeFailingRemoved int, findings []finding.StepFinding, candidates []finding.AssertionCandidate, diags []diag.Diagnostic) Report {
	s := Summary{
		TotalSteps:                  totalOriginalSteps,
		InteractingSteps:            interactingSteps,
		StaleAssertionsRemoved:      staleRemoved,
		RuntimeFailingStepsRemoved:  runtimeFailingRemoved,
		AssertionCoverageStepsTotal: interactingSteps,
	}
	for _, f := range findings {
		if f.Changed {
			s.SelectorsChanged++
		} else {
			s.SelectorsUnchanged++
		}
	}

	stepsWithCandidates := map[int]bool{}
	stepsWithApplied := map[int]bool{}
	for _, c := range candidates {
		stepsWithCandidates[c.Index] = true
		switch c.ApplyStatus {
		case finding.ApplyStatusApplied:
			s.AppliedAssertions++
			stepsWithApplied[c.Index] = true
		case finding.ApplyStatusSkippedLowConfidence:
			s.SkippedLowConfidence++
		case finding.ApplyStatusSkippedRuntimeFailure:
			s.SkippedRuntimeFailure++
		case finding.ApplyStatusSkippedPolicy:
			s.SkippedPolicy++
		case finding.ApplyStatusSkippedExisting:
			s.SkippedExisting++
		case finding.ApplyStatusNotRequested:
			s.NotRequested++
		}
		if c.CoverageFallback {
			s.CoverageFallbackCandidates++
		}
	}
	s.AssertionCoverageStepsWithCandidates = len(stepsWithCandidates)
	s.AssertionCoverageStepsWithApplied = len(stepsWithApplied)
	if s.AssertionCoverageStepsTotal > 0 {
		s.AssertionCoverageRatio = float64(s.AssertionCoverageStepsWithCandidates) / float64(s.AssertionCoverageStepsTotal)
	}

	return Report{
		TestFile:            testFile,
		GeneratedAt:         generatedAt,
		Provider:            ProviderTag,
		Summary:             s,
		StepFindings:        findings,
		AssertionCandidates: candidates,
		Diagnostics:         diags,
	}
}

// Validate runs the schema validation pass over the assembled report
// before it leaves the process. totalOriginalSteps bounds index
// validity. Violations are fatal: a report that
// fails here is never written.
func (r Report) Validate(totalOriginalSteps int) error {
	var paths []string

	for i, f := range r.StepFindings {
		if f.Index < 0 || f.Index >= totalOriginalSteps {
			paths = append(paths, fmt.Sprintf("stepFindings[%d].index=%d out of range [0,%d)", i, f.Index, totalOriginalSteps))
		}
	}
	for i, c := range r.AssertionCandidates {
		if c.Index < 0 || c.Index >= totalOriginalSteps {
			paths = append(paths, fmt.Sprintf("assertionCandidates[%d].index=%d out of range [0,%d)", i, c.Index, totalOriginalSteps))
		}
		if !validApplyStatus(c.ApplyStatus) {
			paths = append(paths, fmt.Sprintf("assertionCandidates[%d].applyStatus=%q invalid", i, c.ApplyStatus))
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			paths = append(paths, fmt.Sprintf("assertionCandidates[%d].confidence=%v out of range [0,1]", i, c.Confidence))
		}
	}
	for i, d := range r.Diagnostics {
		switch d.Level {
		case diag.LevelInfo, diag.LevelWarn, diag.LevelError:
		default:
			paths = append(paths, fmt.Sprintf("diagnostics[%d].level=%q invalid", i, d.Level))
		}
		if d.Code == "" {
			paths = append(paths, fmt.Sprintf("diagnostics[%d].code empty", i))
		}
	}

	s := r.Summary
	if !(s.AssertionCoverageStepsWithApplied <= s.AssertionCoverageStepsWithCandidates &&
		s.AssertionCoverageStepsWithCandidates <= s.AssertionCoverageStepsTotal) {
		paths = append(paths, fmt.Sprintf("summary coverage not monotone: applied=%d candidates=%d total=%d",
			s.AssertionCoverageStepsWithApplied, s.AssertionCoverageStepsWithCandidates, s.AssertionCoverageStepsTotal))
	}

	if len(paths) > 0 {
		return errs.NewValidationError(errs.CodeSchemaViolation, "report failed schema validation", paths...)
	}
	return nil
}

func validApplyStatus(s finding.ApplyStatus) bool {
	switch s {
	case finding.ApplyStatusApplied, finding.ApplyStatusSkippedLowConfidence,
		finding.ApplyStatusSkippedRuntimeFailure, finding.ApplyStatusSkippedPolicy,
		finding.ApplyStatusSkippedExisting, finding.ApplyStatusNotRequested:
		return true
	}
	return false
}

// WriteJSON writes the report to path atomically.
func (r Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	return AtomicWrite(path, data)
}

// AtomicWrite writes data to path via a temp file in the same directory
// followed by a rename, so readers never observe a half-written file.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s -> %s: %w", tmpName, path, err)
	}
	return nil
}

// ReadJSON loads a previously written report, used by the fragile-selector
// cross-run check. A missing file is not an error: ok is false.
func ReadJSON(path string) (Report, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, false, nil
		}
		return Report{}, false, err
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, false, fmt.Errorf("parse previous report %s: %w", path, err)
	}
	return r, true, nil
}
