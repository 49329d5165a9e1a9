package browser

import (
	"strings"
	"testing"

	"github.com/webtestkit/improve/internal/step"
)

func TestResolveURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		baseURL string
		want    string
	}{
		{"absolute passthrough", "https://example.com/a", "https://shop.test", "https://example.com/a"},
		{"root-relative joins scheme+host", "/cart", "https://shop.test/catalog", "https://shop.test/cart"},
		{"path-relative appends to base", "confirm", "https://shop.test/checkout", "https://shop.test/checkout/confirm"},
		{"no baseURL leaves relative untouched", "/cart", "", "/cart"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolveURL(tc.url, tc.baseURL)
			if got != tc.want {
				t.Errorf("resolveURL(%q, %q) = %q, want %q", tc.url, tc.baseURL, got, tc.want)
			}
		})
	}
}

func TestHasScheme(t *testing.T) {
	if !hasScheme("https://example.com") {
		t.Error("expected https:// to have a scheme")
	}
	if hasScheme("/relative/path") {
		t.Error("expected a root-relative path to have no scheme")
	}
	if hasScheme("checkout") {
		t.Error("expected a bare path segment to have no scheme")
	}
}

func TestParseRoleEngineValue(t *testing.T) {
	role, name, ok := parseRoleEngineValue(`role=button[name="Accept all"]`)
	if role != "button" || name != "Accept all" || !ok {
		t.Fatalf("got role=%q name=%q ok=%v", role, name, ok)
	}

	role2, _, ok2 := parseRoleEngineValue("role=heading")
	if role2 != "heading" || ok2 {
		t.Fatalf("got role=%q ok=%v, want no name present", role2, ok2)
	}
}

func TestMatchExpressionCSS(t *testing.T) {
	expr, err := matchExpression(step.Target{Kind: step.KindCSS, Value: "#submit"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(expr, "locator('#submit')") {
		t.Errorf("expected a locator() call, got %q", expr)
	}
}

func TestMatchExpressionLocatorExpressionForwardsVerbatim(t *testing.T) {
	value := `getByRole('button', {name: 'Submit'}).first()`
	expr, err := matchExpression(step.Target{Kind: step.KindLocatorExpr, Value: value})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(expr, value) {
		t.Errorf("expected validated locatorExpression forwarded verbatim, got %q", expr)
	}
}

func TestMatchExpressionPlaywrightSelectorPrefixes(t *testing.T) {
	cases := map[string]string{
		"text=Sign in":   "getByText(",
		"css=.btn":       "locator(",
		"xpath=//button": "document.evaluate",
	}
	for value, wantSubstr := range cases {
		expr, err := matchExpression(step.Target{Kind: step.KindPlaywrightSel, Value: value})
		if err != nil {
			t.Fatalf("%s: %v", value, err)
		}
		if !strings.Contains(expr, wantSubstr) {
			t.Errorf("%s: expected expression to contain %q, got %q", value, wantSubstr, expr)
		}
	}
}

func TestActionScriptRejectsTargetlessNonNavigate(t *testing.T) {
	_, err := actionScript(step.Step{Action: step.ActionClick}, "")
	if err == nil {
		t.Fatal("expected an error for a click step with no target")
	}
}

func TestActionScriptFillEmbedsText(t *testing.T) {
	target := &step.Target{Kind: step.KindCSS, Value: "#email", Source: step.SourceManual}
	script, err := actionScript(step.Step{Action: step.ActionFill, Target: target, Text: "a@b.com"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, "'a@b.com'") {
		t.Errorf("expected fill text embedded in script, got %q", script)
	}
}

func TestCSSStringLiteralEscapesQuotesAndBackslashes(t *testing.T) {
	got := cssStringLiteral(`it's a "test" \ value`)
	want := `'it\'s a "test" \\ value'`
	if got != want {
		t.Errorf("cssStringLiteral = %q, want %q", got, want)
	}
}
