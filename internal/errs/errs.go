// Package errs defines the engine's typed error taxonomy. Every error
// carries a stable snake_case Code so a caller or test can match on it
// without parsing the message string.
package errs

import "fmt"

// Code values. Schema and validation codes are produced by internal/yamlio
// (internal/report's schema check also uses schema_violation); environmental
// codes by internal/browser; the invariant code by internal/indexmap.
const (
	CodeInvalidYAML           = "invalid_yaml"
	CodeSchemaViolation       = "schema_violation"
	CodeDeprecatedKey         = "deprecated_key"
	CodeUnknownRootKey        = "unknown_root_key"
	CodeChromiumNotInstalled  = "chromium_not_installed"
	CodeLaunchFailed          = "launch_failed"
	CodeRelativeNavUnresolved = "relative_navigation_unresolvable"
	CodeUnsafeLocatorExpr     = "unsafe_locator_expression"
	CodeInvariantViolation    = "invariant_violation"
	CodeCancelled             = "cancelled"
)

// UserError is an actionable, fatal error the caller can fix (bad CLI
// arguments, missing files, disallowed paths).
type UserError struct {
	Code    string
	Message string
}

func (e *UserError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// NewUserError constructs a UserError.
func NewUserError(code, message string) *UserError {
	return &UserError{Code: code, Message: message}
}

// ValidationError is a fatal schema/document error. Paths enumerates every
// offending location in the document, so a single validation pass can
// report everything wrong at once
// instead of failing on the first problem.
type ValidationError struct {
	Code    string
	Message string
	Paths   []string
}

func (e *ValidationError) Error() string {
	if len(e.Paths) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%d offending path(s): %v)", e.Code, e.Message, len(e.Paths), e.Paths)
}

// NewValidationError constructs a ValidationError.
func NewValidationError(code, message string, paths ...string) *ValidationError {
	return &ValidationError{Code: code, Message: message, Paths: paths}
}

// ChromiumNotInstalledError is an environmental, fatal error: the headless
// browser binary could not be found or launched.
type ChromiumNotInstalledError struct {
	Message string
}

func (e *ChromiumNotInstalledError) Error() string {
	return fmt.Sprintf("%s: %s", CodeChromiumNotInstalled, e.Message)
}

// NewChromiumNotInstalledError constructs a ChromiumNotInstalledError.
func NewChromiumNotInstalledError(message string) *ChromiumNotInstalledError {
	return &ChromiumNotInstalledError{Message: message}
}

// InvariantError is a fatal internal error: the engine detected it has
// broken one of its own invariants.
// The engine always aborts on this error rather than trying to continue.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: invariant %q violated: %s", CodeInvariantViolation, e.Invariant, e.Detail)
}

// NewInvariantError constructs an InvariantError naming the violated invariant.
func NewInvariantError(invariant, detail string) *InvariantError {
	return &InvariantError{Invariant: invariant, Detail: detail}
}

// CancelledError reports that an external cancellation signal interrupted
// the run. No partial report is written when this is
// returned.
type CancelledError struct{}

func (e *CancelledError) Error() string { return CodeCancelled + ": run was cancelled" }
