// Package browser is the engine's sole point of contact with a real
// headless browser. Everything above this package talks only to the
// Facade interface; the concrete automation surface is a collaborator
// the core merely consumes through this contract.
package browser

import (
	"context"
	"time"

	"github.com/webtestkit/improve/internal/step"
)

// Mode distinguishes step execution that is allowed to mutate application
// state (Playback) from read-only observation (Analysis).
type Mode int

const (
	// ModePlayback performs the user-visible action (click, fill, navigate).
	ModePlayback Mode = iota
	// ModeAnalysis performs only observation-safe operations (asserts) and
	// may be invoked during candidate probing without mutating state.
	ModeAnalysis
)

func (m Mode) String() string {
	if m == ModeAnalysis {
		return "analysis"
	}
	return "playback"
}

// Locator is the result of resolving a Target against the live page.
type Locator struct {
	MatchCount int
	// FirstVisible reports whether the first matched element is visible
	// (not hidden, not disabled, not out of viewport), used by the scorer's
	// visibility component.
	FirstVisible bool
}

// ElementDescriptor is a read-only snapshot of the attributes the
// Candidate Generator (C4) needs to derive alternative targets for the
// currently-resolved element: accessible name/role, label/placeholder/
// title/alt text, test-id, id, and a minimal CSS path. Not part of
// the minimal driving protocol, but a strictly
// observation-only extension the Facade needs to expose to keep candidate
// derivation out of the DOM-walking business entirely.
type ElementDescriptor struct {
	Found          bool   `json:"found"`
	TagName        string `json:"tagName"`
	Role           string `json:"role"`
	AccessibleName string `json:"accessibleName"`
	Label          string `json:"label"`
	Placeholder    string `json:"placeholder"`
	Title          string `json:"title"`
	AltText        string `json:"altText"`
	TestID         string `json:"testID"`
	ID             string `json:"id"`
	TextContent    string `json:"textContent"`
	IDAnchoredCSS  string `json:"idAnchoredCSS"`
	MinimalCSS     string `json:"minimalCSS"`
}

// Facade is the browser contract the engine drives. Implementations must
// serialize all calls onto a single page: the engine never
// invokes two Facade methods concurrently for the same run.
type Facade interface {
	Launch(ctx context.Context) error
	Close() error

	// Navigate resolves url against baseURL if given, else against the
	// current page URL, failing with errs.CodeRelativeNavUnresolved if
	// neither yields an absolute URL.
	Navigate(ctx context.Context, url string, baseURL string, timeout time.Duration) error

	// ExecuteStep runs s in the given Mode. Playback performs the
	// user-visible action; Analysis only evaluates assertions.
	ExecuteStep(ctx context.Context, s step.Step, mode Mode, timeout time.Duration, baseURL string) error

	// ResolveLocator evaluates target against the current page state,
	// which must be the state immediately after the preceding executed
	// step.
	ResolveLocator(ctx context.Context, target step.Target) (Locator, error)

	// Snapshot returns a stable textual accessibility-tree serialization
	// rooted at root ("" means the document root).
	Snapshot(ctx context.Context, root string) (string, error)

	// WaitForNetworkIdle returns true on timeout (not an error) and false
	// on success; a hard error is only raised on non-timeout failures.
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) (timedOut bool, err error)

	// DescribeCurrentMatch reports the attributes of the first element
	// target currently resolves to, for the Candidate Generator (C4) to
	// derive role/label/placeholder/title/text/testid/css alternatives
	// from. Found is false when target has zero matches.
	DescribeCurrentMatch(ctx context.Context, target step.Target) (ElementDescriptor, error)
}

// DefaultRuntimeTimeout bounds every individual browser call.
const DefaultRuntimeTimeout = 10 * time.Second

// NetworkIdleTimeout is network-idle wait's own shorter timeout.
const NetworkIdleTimeout = 2 * time.Second
