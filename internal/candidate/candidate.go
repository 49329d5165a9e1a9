// Package candidate implements the Candidate Generator:
// given a step's current target, enumerate alternative targets derived from
// the live DOM in a fixed, reproducible order.
package candidate

import (
	"context"
	"fmt"

	"github.com/webtestkit/improve/internal/browser"
	"github.com/webtestkit/improve/internal/step"
	"github.com/webtestkit/improve/internal/volatility"
)

// Reason codes recorded on each emitted Candidate.
const (
	ReasonCurrent            = "current"
	ReasonDerivedRole        = "derived_role"
	ReasonDerivedLabel       = "derived_label"
	ReasonDerivedPlaceholder = "derived_placeholder"
	ReasonDerivedTitle       = "derived_title"
	ReasonDerivedAltText     = "derived_alt_text"
	ReasonDerivedText        = "derived_text"
	ReasonDerivedTestID      = "derived_testid"
	ReasonDerivedIDCSS       = "derived_id_anchored_css"
	ReasonDerivedMinimalCSS  = "derived_minimal_css"
)

// Candidate is one alternative target for a step, carrying the provenance
// (ReasonCodes) and textual volatility signals (DynamicSignals) every
// generated candidate carries.
type Candidate struct {
	Target         step.Target
	ReasonCodes    []string
	DynamicSignals []string
}

// MaxDerived bounds how many derived alternatives are
// emitted per step, beyond the always-included current target.
const MaxDerived = 8

// Generate enumerates candidates for the step currently targeting current,
// in a deterministic order: current first, then
// derived strategies in a fixed priority order, skipping any strategy whose
// source attribute is empty or that would duplicate an already-emitted
// target value.
func Generate(ctx context.Context, facade browser.Facade, current step.Target) ([]Candidate, error) {
	out := []Candidate{{Target: current, ReasonCodes: []string{ReasonCurrent}, DynamicSignals: volatility.Detect(current.Value)}}

	desc, err := facade.DescribeCurrentMatch(ctx, current)
	if err != nil {
		return nil, fmt.Errorf("describe current match: %w", err)
	}
	if !desc.Found {
		return out, nil
	}

	seen := map[string]bool{dedupeKey(current): true}
	add := func(target step.Target, reason string, signalSource string) {
		key := dedupeKey(target)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, Candidate{
			Target:         target,
			ReasonCodes:    []string{reason},
			DynamicSignals: volatility.Detect(signalSource),
		})
	}

	if desc.Role != "" && desc.AccessibleName != "" {
		add(roleTarget(desc.Role, desc.AccessibleName), ReasonDerivedRole, desc.AccessibleName)
	}
	if desc.Label != "" {
		add(locatorExprTarget(callExpr("getByLabel", desc.Label)), ReasonDerivedLabel, desc.Label)
	}
	if desc.Placeholder != "" {
		add(locatorExprTarget(callExpr("getByPlaceholder", desc.Placeholder)), ReasonDerivedPlaceholder, desc.Placeholder)
	}
	if desc.Title != "" {
		add(locatorExprTarget(callExpr("getByTitle", desc.Title)), ReasonDerivedTitle, desc.Title)
	}
	if desc.AltText != "" {
		add(locatorExprTarget(callExpr("getByAltText", desc.AltText)), ReasonDerivedAltText, desc.AltText)
	}
	if desc.TextContent != "" {
		add(textTarget(desc.TextContent), ReasonDerivedText, desc.TextContent)
	}
	if desc.TestID != "" {
		add(locatorExprTarget(callExpr("getByTestId", desc.TestID)), ReasonDerivedTestID, "")
	}
	if desc.IDAnchoredCSS != "" {
		add(cssTarget(desc.IDAnchoredCSS), ReasonDerivedIDCSS, "")
	}
	if desc.MinimalCSS != "" {
		add(cssTarget(desc.MinimalCSS), ReasonDerivedMinimalCSS, "")
	}

	if len(out) > MaxDerived+1 {
		out = out[:MaxDerived+1]
	}
	return out, nil
}

func dedupeKey(t step.Target) string {
	return string(t.Kind) + "\x00" + t.Value
}

func roleTarget(role, name string) step.Target {
	return step.Target{
		Kind:   step.KindRoleEngine,
		Source: step.SourceDerived,
		Value:  fmt.Sprintf(`role=%s[name="%s"]`, role, name),
	}
}

func textTarget(text string) step.Target {
	return step.Target{Kind: step.KindTextSelector, Source: step.SourceDerived, Value: text}
}

func cssTarget(selector string) step.Target {
	return step.Target{Kind: step.KindCSS, Source: step.SourceDerived, Value: selector}
}

func locatorExprTarget(expr string) step.Target {
	return step.Target{Kind: step.KindLocatorExpr, Source: step.SourceDerived, Value: expr}
}

// callExpr renders `fn('arg')` with arg single-quote-escaped, keeping the
// result a valid locatorExpression per internal/step's restricted grammar
// (a single quoted string argument; callExpr emits no object-literal
// options).
func callExpr(fn, arg string) string {
	return fmt.Sprintf("%s(%s)", fn, quoteArg(arg))
}

func quoteArg(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\'' || c == '\\' {
			out = append(out, '\\')
		}
		if c == '\n' {
			out = append(out, '\\', 'n')
			continue
		}
		out = append(out, c)
	}
	out = append(out, '\'')
	return string(out)
}
