package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/webtestkit/improve/internal/consent"
	"github.com/webtestkit/improve/internal/diag"
	"github.com/webtestkit/improve/internal/errs"
	"github.com/webtestkit/improve/internal/step"
)

// CDPFacade is the concrete Facade driving a headless Chromium instance
// over its DevTools protocol.
type CDPFacade struct {
	log *diag.Log

	proc   *processHandle
	target devToolsTarget
	page   *cdpConn

	navigatedURL string
}

// NewCDPFacade constructs a Facade that logs diagnostics to log.
func NewCDPFacade(log *diag.Log) *CDPFacade {
	return &CDPFacade{log: log}
}

func (f *CDPFacade) Launch(ctx context.Context) error {
	userDataDir, err := os.MkdirTemp("", "improve-chromium-*")
	if err != nil {
		return fmt.Errorf("%s: create user data dir: %w", errs.CodeLaunchFailed, err)
	}

	proc, err := launchChromium(ctx, userDataDir)
	if err != nil {
		return err
	}
	f.proc = proc

	target, err := newPageTarget(ctx, proc.debugPort)
	if err != nil {
		_ = proc.close()
		return fmt.Errorf("%s: %w", errs.CodeLaunchFailed, err)
	}
	f.target = target

	page, err := dialCDP(ctx, target.WebSocketDebuggerURL)
	if err != nil {
		_ = proc.close()
		return fmt.Errorf("%s: %w", errs.CodeLaunchFailed, err)
	}
	f.page = page

	for _, domain := range []string{"Page.enable", "Network.enable", "Runtime.enable", "DOM.enable"} {
		if _, err := f.page.call(ctx, "", domain, struct{}{}); err != nil {
			f.log.Warn(errs.CodeLaunchFailed, "enabling %s: %v", domain, err)
		}
	}
	return nil
}

func (f *CDPFacade) Close() error {
	if f.page != nil {
		_ = f.page.close()
	}
	if f.proc != nil && f.target.ID != "" {
		closePageTarget(context.Background(), f.proc.debugPort, f.target.ID)
	}
	if f.proc != nil {
		return f.proc.close()
	}
	return nil
}

func (f *CDPFacade) Navigate(ctx context.Context, url string, baseURL string, timeout time.Duration) error {
	resolved := resolveURL(url, baseURL)
	if !hasScheme(resolved) {
		return errs.NewUserError(errs.CodeRelativeNavUnresolved,
			fmt.Sprintf("navigation target %q could not be resolved against baseUrl %q", url, baseURL))
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := struct {
		URL string `json:"url"`
	}{URL: resolved}
	if _, err := f.page.call(ctx, "", "Page.navigate", params); err != nil {
		return fmt.Errorf("navigate to %s: %w", resolved, err)
	}
	f.navigatedURL = resolved

	if err := f.waitForLoadEvent(ctx); err != nil {
		return err
	}
	f.dismissConsentIfPresent(ctx)
	return nil
}

// waitForLoadEvent subscribes to Page.loadEventFired once and blocks until
// it fires or ctx expires. CDP's event stream has no synchronous
// "navigate and wait" call, so the async signal is wrapped in a
// context-bounded channel wait.
func (f *CDPFacade) waitForLoadEvent(ctx context.Context) error {
	done := make(chan struct{}, 1)
	f.page.on("Page.loadEventFired", func(json.RawMessage) {
		select {
		case done <- struct{}{}:
		default:
		}
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("navigation load event: %w", ctx.Err())
	}
}

func (f *CDPFacade) ExecuteStep(ctx context.Context, s step.Step, mode Mode, timeout time.Duration, baseURL string) error {
	if mode == ModeAnalysis && !s.Action.IsAssertion() {
		return fmt.Errorf("analysis mode may only evaluate assertions, got %s", s.Action)
	}
	if s.Action == step.ActionNavigate {
		return f.Navigate(ctx, s.URL, baseURL, timeout)
	}

	script, err := actionScript(s, baseURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := f.evaluate(ctx, script)
	if err != nil {
		return fmt.Errorf("%s: %w", s.Action, err)
	}

	var result struct {
		OK      bool   `json:"ok"`
		Actual  string `json:"actual"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("%s: decode result: %w", s.Action, err)
	}
	if !result.OK {
		msg := result.Message
		if msg == "" {
			msg = fmt.Sprintf("assertion failed: actual=%q", result.Actual)
		}
		return fmt.Errorf("%s: %s", s.Action, msg)
	}

	if s.Action.IsCoverageStep() {
		f.settleAfterAction(ctx)
	}
	return nil
}

// settleAfterAction gives the page a brief beat to run event handlers
// (React-style re-renders, validation messages) before the next candidate
// probe reads the DOM, without a hard network-idle wait on every step.
func (f *CDPFacade) settleAfterAction(ctx context.Context) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
	}
}

func (f *CDPFacade) ResolveLocator(ctx context.Context, target step.Target) (Locator, error) {
	script, err := resolveScript(target)
	if err != nil {
		return Locator{}, err
	}
	raw, err := f.evaluate(ctx, script)
	if err != nil {
		return Locator{}, err
	}
	var result struct {
		Count        int  `json:"count"`
		FirstVisible bool `json:"firstVisible"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return Locator{}, fmt.Errorf("decode resolve result: %w", err)
	}
	return Locator{MatchCount: result.Count, FirstVisible: result.FirstVisible}, nil
}

func (f *CDPFacade) DescribeCurrentMatch(ctx context.Context, target step.Target) (ElementDescriptor, error) {
	match, err := matchExpression(target)
	if err != nil {
		return ElementDescriptor{}, err
	}
	script := jsPrelude + fmt.Sprintf(describeScriptTemplate, match)
	raw, err := f.evaluate(ctx, script)
	if err != nil {
		return ElementDescriptor{}, err
	}
	var desc ElementDescriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		return ElementDescriptor{}, fmt.Errorf("decode element descriptor: %w", err)
	}
	return desc, nil
}

// describeScriptTemplate builds the id-anchored and minimal CSS paths the
// same way a human debugging in devtools would: walk up from the element
// to the nearest ancestor with an id, or to the document root, recording
// each level's tag plus nth-of-type index.
const describeScriptTemplate = `
(function() {
	var matches = %s;
	if (matches.length === 0) return JSON.stringify({found: false});
	var el = matches[0];

	function nthOfType(e) {
		var tag = e.tagName;
		var i = 1;
		var sib = e.previousElementSibling;
		while (sib) { if (sib.tagName === tag) i++; sib = sib.previousElementSibling; }
		return i;
	}

	function minimalPath(e) {
		var parts = [];
		var cur = e;
		while (cur && cur.nodeType === 1 && parts.length < 6) {
			var seg = cur.tagName.toLowerCase() + ':nth-of-type(' + nthOfType(cur) + ')';
			parts.unshift(seg);
			cur = cur.parentElement;
		}
		return parts.join(' > ');
	}

	function idAnchoredPath(e) {
		var parts = [];
		var cur = e;
		while (cur && cur.nodeType === 1) {
			if (cur.id) { parts.unshift('#' + cur.id); return parts.join(' > '); }
			parts.unshift(cur.tagName.toLowerCase() + ':nth-of-type(' + nthOfType(cur) + ')');
			cur = cur.parentElement;
		}
		return '';
	}

	return JSON.stringify({
		found: true,
		tagName: el.tagName.toLowerCase(),
		role: el.getAttribute('role') || '',
		accessibleName: __accessibleName(el),
		label: (function() {
			if (el.id) {
				var l = document.querySelector('label[for="' + el.id + '"]');
				if (l) return (l.textContent || '').trim();
			}
			var wrap = el.closest ? el.closest('label') : null;
			return wrap ? (wrap.textContent || '').trim() : '';
		})(),
		placeholder: el.getAttribute('placeholder') || '',
		title: el.getAttribute('title') || '',
		altText: el.getAttribute('alt') || '',
		testID: el.getAttribute('data-testid') || '',
		id: el.id || '',
		textContent: (el.textContent || '').trim().slice(0, 200),
		idAnchoredCSS: idAnchoredPath(el),
		minimalCSS: minimalPath(el)
	});
})()`

// snapshotScript renders a stable, indented textual accessibility summary:
// one line per element carrying a role or accessible name, in document
// order. This is a lightweight stand-in for CDP's Accessibility domain
// tree.
const snapshotScript = jsPrelude + `
(function(root) {
	var base = root ? document.querySelector(root) : document.body;
	if (!base) return JSON.stringify('');
	var lines = [];
	var interactiveSelector = 'a, button, input, select, textarea, [role], h1, h2, h3, h4, h5, h6, img, label';
	var seen = [];
	Array.from(base.querySelectorAll(interactiveSelector)).forEach(function(el, idx) {
		if (!__isVisible(el) && el.tagName !== 'OPTION') return;
		var role = el.getAttribute('role') || el.tagName.toLowerCase();
		var name = __accessibleName(el).replace(/\s+/g, ' ').trim();
		var depth = 0;
		var p = el;
		while (p && p !== base) { depth++; p = p.parentElement; }
		lines.push(new Array(depth).join('  ') + role + (name ? ': ' + JSON.stringify(name).slice(1, -1) : ''));
	});
	return JSON.stringify(lines.join('\n'));
})(%s)`

func (f *CDPFacade) Snapshot(ctx context.Context, root string) (string, error) {
	script := fmt.Sprintf(snapshotScript, cssStringLiteral(root))
	raw, err := f.evaluate(ctx, script)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("decode snapshot: %w", err)
	}
	return text, nil
}

// WaitForNetworkIdle waits for a quiet window with zero in-flight requests,
// returning (true, nil) on timeout rather than an error: a
// page that never goes idle is common and not itself a failure.
func (f *CDPFacade) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) (bool, error) {
	const quietWindow = 500 * time.Millisecond
	var inFlight atomic.Int64
	lastActivity := make(chan struct{}, 1)
	signal := func() {
		select {
		case lastActivity <- struct{}{}:
		default:
		}
	}

	f.page.on("Network.requestWillBeSent", func(json.RawMessage) { inFlight.Add(1); signal() })
	f.page.on("Network.loadingFinished", func(json.RawMessage) { decrementFloor(&inFlight); signal() })
	f.page.on("Network.loadingFailed", func(json.RawMessage) { decrementFloor(&inFlight); signal() })

	deadline := time.Now().Add(timeout)
	timer := time.NewTimer(quietWindow)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if inFlight.Load() == 0 {
				return false, nil
			}
			timer.Reset(quietWindow)
		case <-lastActivity:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(quietWindow)
		case <-ctx.Done():
			return false, ctx.Err()
		}
		if time.Now().After(deadline) {
			return true, nil
		}
	}
}

// decrementFloor decrements n but never below zero, guarding against a
// loadingFinished/loadingFailed event arriving for a request this facade
// never counted (e.g. one already in flight when WaitForNetworkIdle began
// listening).
func decrementFloor(n *atomic.Int64) {
	for {
		cur := n.Load()
		if cur <= 0 {
			return
		}
		if n.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// evaluate runs script as a CDP Runtime.evaluate call and returns its JSON
// string result's raw bytes (the scripts in resolve.go always resolve to a
// JSON.stringify(...) call, so the returned value is itself JSON text).
func (f *CDPFacade) evaluate(ctx context.Context, script string) (json.RawMessage, error) {
	params := struct {
		Expression    string `json:"expression"`
		ReturnByValue bool   `json:"returnByValue"`
		AwaitPromise  bool   `json:"awaitPromise"`
	}{Expression: script, ReturnByValue: true, AwaitPromise: true}

	raw, err := f.page.call(ctx, "", "Runtime.evaluate", params)
	if err != nil {
		return nil, err
	}
	var out struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode Runtime.evaluate response: %w", err)
	}
	if out.ExceptionDetails != nil {
		return nil, fmt.Errorf("page script threw: %s", out.ExceptionDetails.Text)
	}
	var jsonText string
	if err := json.Unmarshal(out.Result.Value, &jsonText); err != nil {
		// already-decoded JSON value (e.g. the script returned an object
		// directly rather than a JSON string)
		return out.Result.Value, nil
	}
	return json.RawMessage(jsonText), nil
}

// dismissConsentIfPresent runs the shared consent dictionary
// (internal/consent) against the freshly loaded page, clicking the first
// visible CMP selector or dismiss-text match it finds. Text matching only
// fires when the page shows consent-context evidence (a CMP marker or a
// known consent host/path); hidden, disabled, or off-viewport controls
// are skipped by the probe script.
func (f *CDPFacade) dismissConsentIfPresent(ctx context.Context) {
	if !consent.HasConsentHostEvidence(f.navigatedURL) && !f.pageMentionsConsent(ctx) {
		return
	}
	script := jsPrelude + buildConsentDismissScript()
	raw, err := f.evaluate(ctx, script)
	if err != nil {
		f.log.Info(errs.CodeLaunchFailed, "consent dismiss probe failed: %v", err)
		return
	}
	var dismissed bool
	if err := json.Unmarshal(raw, &dismissed); err == nil && dismissed {
		f.log.Info("consent_dismissed", "dismissed a cookie-consent banner before proceeding")
	}
}

func (f *CDPFacade) pageMentionsConsent(ctx context.Context) bool {
	raw, err := f.evaluate(ctx, jsPrelude+`(function(){ return JSON.stringify(document.body ? document.body.innerHTML.slice(0, 20000) : ''); })()`)
	if err != nil {
		return false
	}
	var html string
	if err := json.Unmarshal(raw, &html); err != nil {
		return false
	}
	return consent.HasTransientContextKeyword(html)
}

// buildConsentDismissScript compiles internal/consent's dictionary into a
// single evaluation: try each known CMP selector first, then fall back to
// scanning clickable elements for a matching dismiss phrase in any of the
// dictionary's languages, skipping hidden/disabled controls.
func buildConsentDismissScript() string {
	var selectors []string
	for _, s := range consent.CMPSelectors {
		selectors = append(selectors, cssStringLiteral(s))
	}
	var phrases []string
	for _, lang := range []string{"en", "nl", "de", "fr"} {
		for _, phrase := range consent.DismissTexts[lang] {
			phrases = append(phrases, cssStringLiteral(phrase))
		}
	}
	return fmt.Sprintf(`
(function() {
	var selectors = [%s];
	for (var i = 0; i < selectors.length; i++) {
		var el = document.querySelector(selectors[i]);
		if (el && __isVisible(el)) { el.click(); return JSON.stringify(true); }
	}
	var phrases = [%s];
	var clickable = Array.from(document.querySelectorAll('button, a[role="button"], [role="button"], input[type="button"], input[type="submit"]'));
	for (var j = 0; j < clickable.length; j++) {
		var el2 = clickable[j];
		if (!__isVisible(el2)) continue;
		var text = (el2.textContent || el2.value || '').trim().toLowerCase();
		if (phrases.indexOf(text) !== -1) { el2.click(); return JSON.stringify(true); }
	}
	return JSON.stringify(false);
})()`, strings.Join(selectors, ", "), strings.Join(phrases, ", "))
}
