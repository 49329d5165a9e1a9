package browser

import (
	"fmt"
	"strings"

	"github.com/webtestkit/improve/internal/step"
)

// cssStringLiteral renders s as a single-quoted JS string literal, escaping
// the handful of characters that could break out of the quoted context.
func cssStringLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\', '\'':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// matchExpression returns a JS expression (evaluated against jsPrelude) that
// yields an array of matched elements for target, per its Kind.
func matchExpression(target step.Target) (string, error) {
	switch target.Kind {
	case step.KindCSS, step.KindInternal:
		return fmt.Sprintf("locator(%s).elements", cssStringLiteral(target.Value)), nil
	case step.KindXPath:
		return fmt.Sprintf(`(function(){
			var r = document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
			var out = [];
			for (var i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
			return out;
		})()`, cssStringLiteral(target.Value)), nil
	case step.KindTextSelector:
		return fmt.Sprintf("getByText(%s).elements", cssStringLiteral(target.Value)), nil
	case step.KindRoleEngine:
		role, name, hasName := parseRoleEngineValue(target.Value)
		if hasName {
			return fmt.Sprintf("getByRole(%s, {name: %s}).elements", cssStringLiteral(role), cssStringLiteral(name)), nil
		}
		return fmt.Sprintf("getByRole(%s).elements", cssStringLiteral(role)), nil
	case step.KindPlaywrightSel:
		return translatePlaywrightSelector(target.Value)
	case step.KindLocatorExpr:
		// Already validated by step.ValidateLocatorExpressionShape: a dotted
		// call chain over the allowlisted factories, which jsPrelude defines
		// as real JS globals, so the value is directly evaluable.
		return target.Value + ".elements", nil
	default:
		return "", fmt.Errorf("unsupported target kind %q", target.Kind)
	}
}

// parseRoleEngineValue parses the role-engine shorthand "role=button[name=\"Accept\"]"
// the role-engine Target.value encoding uses.
func parseRoleEngineValue(value string) (role, name string, hasName bool) {
	value = strings.TrimPrefix(value, "role=")
	bracket := strings.IndexByte(value, '[')
	if bracket < 0 {
		return value, "", false
	}
	role = value[:bracket]
	rest := value[bracket:]
	const marker = `name="`
	idx := strings.Index(rest, marker)
	if idx < 0 {
		return role, "", false
	}
	rest = rest[idx+len(marker):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return role, "", false
	}
	return role, rest[:end], true
}

// translatePlaywrightSelector handles the "engine=body" shorthand forms
// (text=, css=, xpath=) a playwrightSelector target may carry.
func translatePlaywrightSelector(value string) (string, error) {
	switch {
	case strings.HasPrefix(value, "text="):
		return fmt.Sprintf("getByText(%s).elements", cssStringLiteral(strings.TrimPrefix(value, "text="))), nil
	case strings.HasPrefix(value, "css="):
		return fmt.Sprintf("locator(%s).elements", cssStringLiteral(strings.TrimPrefix(value, "css="))), nil
	case strings.HasPrefix(value, "xpath="):
		t := step.Target{Kind: step.KindXPath, Value: strings.TrimPrefix(value, "xpath=")}
		return matchExpression(t)
	default:
		return fmt.Sprintf("locator(%s).elements", cssStringLiteral(value)), nil
	}
}

// resolveScript builds the full script Runtime.evaluate runs for
// Facade.ResolveLocator: it reports the match count and whether the first
// match is visible, without mutating the page.
func resolveScript(target step.Target) (string, error) {
	match, err := matchExpression(target)
	if err != nil {
		return "", err
	}
	return jsPrelude + fmt.Sprintf(`
(function() {
	var matches = %s;
	return JSON.stringify({
		count: matches.length,
		firstVisible: matches.length > 0 && __isVisible(matches[0])
	});
})()`, match), nil
}

// actionScript builds the script that performs s's action against its first
// matched element (playback) or evaluates its assertion (analysis/playback
// alike — assertions never mutate state). Returns a JS expression that
// evaluates to a JSON string {"ok": bool, "actual": string, "message": string}.
func actionScript(s step.Step, baseURL string) (string, error) {
	if s.Action == step.ActionNavigate {
		return navigateScript(s.URL, baseURL), nil
	}
	if s.Target == nil {
		return "", fmt.Errorf("%s step has no target", s.Action)
	}
	match, err := matchExpression(*s.Target)
	if err != nil {
		return "", err
	}
	epilogue, err := actionEpilogue(s)
	if err != nil {
		return "", err
	}
	return jsPrelude + fmt.Sprintf(`
(function() {
	var matches = %s;
	var el = matches.length > 0 ? matches[0] : null;
	if (!el) {
		return JSON.stringify({ok: false, message: 'no element matched target'});
	}
	%s
})()`, match, epilogue), nil
}

func navigateScript(url, baseURL string) string {
	return fmt.Sprintf(`(function(){ window.location.href = %s; return JSON.stringify({ok: true}); })()`,
		cssStringLiteral(resolveURL(url, baseURL)))
}

func actionEpilogue(s step.Step) (string, error) {
	switch s.Action {
	case step.ActionClick:
		return `el.scrollIntoView({block: 'center'}); el.click(); return JSON.stringify({ok: true});`, nil
	case step.ActionHover:
		return `el.scrollIntoView({block: 'center'}); el.dispatchEvent(new MouseEvent('mouseover', {bubbles: true})); return JSON.stringify({ok: true});`, nil
	case step.ActionFill:
		return fmt.Sprintf(`
			el.focus();
			el.value = %s;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return JSON.stringify({ok: true});`, cssStringLiteral(s.Text)), nil
	case step.ActionPress:
		return fmt.Sprintf(`
			el.focus();
			el.dispatchEvent(new KeyboardEvent('keydown', {key: %s, bubbles: true}));
			el.dispatchEvent(new KeyboardEvent('keyup', {key: %s, bubbles: true}));
			return JSON.stringify({ok: true});`, cssStringLiteral(s.Key), cssStringLiteral(s.Key)), nil
	case step.ActionCheck, step.ActionUncheck:
		want := s.Action == step.ActionCheck
		return fmt.Sprintf(`
			if (el.checked !== %t) { el.click(); }
			return JSON.stringify({ok: true});`, want), nil
	case step.ActionSelect:
		return fmt.Sprintf(`
			el.value = %s;
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return JSON.stringify({ok: true});`, cssStringLiteral(s.Value)), nil
	case step.ActionAssertVisible:
		return `return JSON.stringify({ok: __isVisible(el), actual: String(__isVisible(el))});`, nil
	case step.ActionAssertText:
		return fmt.Sprintf(`
			var actual = (el.textContent || '').trim();
			return JSON.stringify({ok: actual.indexOf(%s) !== -1, actual: actual});`, cssStringLiteral(s.Text)), nil
	case step.ActionAssertValue:
		return fmt.Sprintf(`
			var actual = el.value !== undefined ? String(el.value) : '';
			return JSON.stringify({ok: actual === %s, actual: actual});`, cssStringLiteral(s.Value)), nil
	case step.ActionAssertChecked:
		want := s.Checked == nil || *s.Checked
		return fmt.Sprintf(`
			var actual = !!el.checked;
			return JSON.stringify({ok: actual === %t, actual: String(actual)});`, want), nil
	default:
		return "", fmt.Errorf("unsupported action %q", s.Action)
	}
}

// resolveURL implements the relative-navigation resolution Navigate
// requires: resolve url against baseURL when url has no scheme, else return
// it unchanged. Callers are responsible for raising
// errs.CodeRelativeNavUnresolved when neither yields an absolute URL.
func resolveURL(url, baseURL string) string {
	if hasScheme(url) {
		return url
	}
	if baseURL == "" {
		return url
	}
	if strings.HasPrefix(url, "/") {
		if idx := schemeHostEnd(baseURL); idx >= 0 {
			return baseURL[:idx] + url
		}
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(url, "/")
}

func hasScheme(url string) bool {
	idx := strings.Index(url, "://")
	return idx > 0 && isIdentifierPrefix(url[:idx])
}

func isIdentifierPrefix(s string) bool {
	for _, r := range s {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '+' || r == '-' || r == '.') {
			return false
		}
	}
	return s != ""
}

// schemeHostEnd returns the index right after "scheme://host[:port]" in a
// baseURL, or -1 if baseURL has no recognizable scheme.
func schemeHostEnd(baseURL string) int {
	schemeEnd := strings.Index(baseURL, "://")
	if schemeEnd < 0 {
		return -1
	}
	rest := baseURL[schemeEnd+3:]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		return schemeEnd + 3 + slash
	}
	return len(baseURL)
}
