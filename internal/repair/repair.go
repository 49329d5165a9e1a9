// Package repair implements the locator repair generator: parse a
// `locatorExpression` target, detect the dynamic
// signals it looks for (exact:true, long text, numeric/date-time
// fragment, volatile keyword, unsupported shape), and emit up to three
// repaired variants in a fixed order: remove-exact, regex
// name, regex + filter({hasText}).
package repair

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/webtestkit/improve/internal/step"
	"github.com/webtestkit/improve/internal/volatility"
)

// Variant reason codes, in emission order.
const (
	ReasonRemoveExact  = "repair_remove_exact"
	ReasonRegexName    = "repair_regex_name"
	ReasonRegexHasText = "repair_regex_filter_has_text"
	ReasonUnsupported  = "repair_unsupported_shape"
)

// roleCallPattern recognizes `getByRole('role', { name: '...', exact: true })`
// style expressions, the only shape this repair generator supports.
var roleCallPattern = regexp.MustCompile(`(?s)^getByRole\(\s*(['"])([^'"]*)['"]\s*,\s*\{(.*)\}\s*\)$`)

var nameOptPattern = regexp.MustCompile(`(?s)name\s*:\s*(['"])((?:[^'"\\]|\\.)*)['"]`)
var exactTruePattern = regexp.MustCompile(`exact\s*:\s*true`)

// Candidate is one repaired locatorExpression target, carrying the reason
// code and the dynamic signals (from internal/volatility, plus the
// structural FlagExactTrue) that triggered the repair.
type Candidate struct {
	Target         step.Target
	ReasonCode     string
	DynamicSignals []string
}

// Parsed is the decomposition of a `getByRole` locator expression this
// generator understands.
type Parsed struct {
	Role  string
	Name  string
	Exact bool
}

// Parse extracts role/name/exact from a getByRole locatorExpression value.
// ok is false for any shape this generator does not understand; callers should emit
// an info diagnostic (repair_unsupported_shape) and no candidate in that case.
func Parse(value string) (p Parsed, ok bool) {
	m := roleCallPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return Parsed{}, false
	}
	nameMatch := nameOptPattern.FindStringSubmatch(m[3])
	if nameMatch == nil {
		return Parsed{}, false
	}
	return Parsed{
		Role:  m[2],
		Name:  unescapeQuoted(nameMatch[2]),
		Exact: exactTruePattern.MatchString(m[3]),
	}, true
}

// DynamicSignals reports the dynamic-text signals detected on
// a parsed locator's accessible-name/text argument, including the
// structural exact:true flag absent from internal/volatility.Detect.
func DynamicSignals(p Parsed) []string {
	flags := volatility.Detect(p.Name)
	if p.Exact {
		flags = append([]string{volatility.FlagExactTrue}, flags...)
	}
	return flags
}

// HasDynamicSignal reports whether p carries at least one dynamic signal,
// the trigger condition for emitting repair variants.
func HasDynamicSignal(p Parsed) bool {
	return len(DynamicSignals(p)) > 0
}

// Generate emits the repaired variants for value, in fixed order,
// when value parses to a supported shape and carries at
// least one dynamic signal. Returns (nil, false) for unsupported shapes or
// static targets (no repair needed).
func Generate(value string) (candidates []Candidate, ok bool) {
	p, parsed := Parse(value)
	if !parsed {
		return nil, false
	}
	signals := DynamicSignals(p)
	if len(signals) == 0 {
		return nil, false
	}

	// Variant 1: remove-exact — same name, drop exact:true. Only
	// meaningful (distinct from the original) when exact was actually set.
	if p.Exact {
		candidates = append(candidates, Candidate{
			Target:         roleExprTarget(p.Role, quoteArg(p.Name), false),
			ReasonCode:     ReasonRemoveExact,
			DynamicSignals: signals,
		})
	}

	// Variant 2: regex name — replace the literal name with a case-
	// insensitive regex over its first stable token (keeps the match loose
	// enough to survive minor text churn without becoming a catch-all).
	regexName := regexFromName(p.Name)
	candidates = append(candidates, Candidate{
		Target:         roleExprTarget(p.Role, regexName, false),
		ReasonCode:     ReasonRegexName,
		DynamicSignals: signals,
	})

	// Variant 3: regex + filter({hasText}) — a role-only locator narrowed
	// by a loose hasText filter, the most resilient of the three variants.
	candidates = append(candidates, Candidate{
		Target:         roleFilterHasTextTarget(p.Role, regexName),
		ReasonCode:     ReasonRegexHasText,
		DynamicSignals: signals,
	})

	return candidates, true
}

func roleExprTarget(role, nameArg string, exact bool) step.Target {
	opts := "{ name: " + nameArg
	if exact {
		opts += ", exact: true"
	}
	opts += " }"
	return step.Target{
		Kind:   step.KindLocatorExpr,
		Source: step.SourceDerived,
		Value:  fmt.Sprintf("getByRole(%s, %s)", quoteArg(role), opts),
	}
}

func roleFilterHasTextTarget(role, regexArg string) step.Target {
	return step.Target{
		Kind:   step.KindLocatorExpr,
		Source: step.SourceDerived,
		Value:  fmt.Sprintf("getByRole(%s).filter({ hasText: %s })", quoteArg(role), regexArg),
	}
}

// regexFromName builds a loose, case-insensitive JS regex literal from the
// first stable (non-volatile) word run in name, so the repaired locator
// keeps matching when trailing dynamic text (headline, timestamp) changes.
func regexFromName(name string) string {
	words := strings.Fields(name)
	var stable []string
	for _, w := range words {
		if volatility.HasNumericFragment(w) || volatility.HasDateTimeFragment(w) || volatility.HasDynamicKeyword(w) {
			break
		}
		stable = append(stable, w)
		if len(stable) >= 4 {
			break
		}
	}
	if len(stable) == 0 {
		stable = words
		if len(stable) > 4 {
			stable = stable[:4]
		}
	}
	pattern := regexp.QuoteMeta(strings.Join(stable, " "))
	return "/" + pattern + "/i"
}

func quoteArg(s string) string {
	escaped := strings.ReplaceAll(s, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `'`, `\'`)
	return "'" + escaped + "'"
}

func unescapeQuoted(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
