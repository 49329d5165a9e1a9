package step

import (
	"fmt"
	"strings"
)

// allowedLocatorRoots is the whitelist of element-locator factory calls a
// locatorExpression may start from.
var allowedLocatorRoots = map[string]bool{
	"getByRole":        true,
	"getByText":        true,
	"getByLabel":       true,
	"getByPlaceholder": true,
	"getByTestId":      true,
	"getByTitle":       true,
	"getByAltText":     true,
	"locator":          true,
}

// allowedChainMethods is the whitelist of dotted member calls permitted
// after the root call (e.g. `.filter(...)`, `.first()`, `.nth(n)`).
var allowedChainMethods = map[string]bool{
	"filter": true,
	"first":  true,
	"last":   true,
	"nth":    true,
	"and":    true,
	"or":     true,
}

// ValidateLocatorExpressionShape performs a syntactic, allowlist-only check
// that value is a restricted dotted call chain rooted at one of
// allowedLocatorRoots, using only dotted member access. It never evaluates
// the expression; internal/browser.ResolveLocator is the only component
// that interprets it at runtime, through the same restricted grammar.
func ValidateLocatorExpressionShape(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("unsafe_locator_expression: empty expression")
	}
	if strings.ContainsAny(trimmed, "[];") {
		return fmt.Errorf("unsafe_locator_expression: computed member access or statement separators are not permitted")
	}
	if strings.Contains(trimmed, "=>") || strings.Contains(trimmed, "function") {
		return fmt.Errorf("unsafe_locator_expression: function expressions are not permitted")
	}

	segments, err := splitCallChain(trimmed)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("unsafe_locator_expression: empty call chain")
	}

	rootName, _, err := splitCall(segments[0])
	if err != nil {
		return err
	}
	if !allowedLocatorRoots[rootName] {
		return fmt.Errorf("unsafe_locator_expression: root %q is not an allowed locator factory", rootName)
	}

	for _, seg := range segments[1:] {
		name, _, err := splitCall(seg)
		if err != nil {
			return err
		}
		if !allowedChainMethods[name] {
			return fmt.Errorf("unsafe_locator_expression: chained call %q is not permitted", name)
		}
	}
	return nil
}

// splitCallChain splits "a(...).b(...).c(...)" into ["a(...)", "b(...)", "c(...)"]
// respecting parenthesis nesting so arguments containing "." are not
// mistaken for chain separators.
func splitCallChain(expr string) ([]string, error) {
	var segments []string
	depth := 0
	start := 0
	for i, r := range expr {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unsafe_locator_expression: unbalanced parentheses")
			}
		case '.':
			if depth == 0 {
				segments = append(segments, strings.TrimSpace(expr[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unsafe_locator_expression: unbalanced parentheses")
	}
	segments = append(segments, strings.TrimSpace(expr[start:]))
	return segments, nil
}

// splitCall splits "name(args)" into name and raw argument text. It rejects
// anything that is not a bare identifier followed by a parenthesized
// argument list — no computed access (`foo[bar]`), no bare property read
// used as a call root.
func splitCall(segment string) (name, args string, err error) {
	open := strings.IndexByte(segment, '(')
	if open < 0 || !strings.HasSuffix(segment, ")") {
		return "", "", fmt.Errorf("unsafe_locator_expression: %q is not a call expression", segment)
	}
	name = strings.TrimSpace(segment[:open])
	if !isIdentifier(name) {
		return "", "", fmt.Errorf("unsafe_locator_expression: %q is not a valid method name", name)
	}
	args = segment[open+1 : len(segment)-1]
	return name, args, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_' || r == '$'
		isDigit := r >= '0' && r <= '9'
		if i == 0 && !isAlpha {
			return false
		}
		if !isAlpha && !isDigit {
			return false
		}
	}
	return true
}
