// Package types provides shared types, interfaces, and errors for the application.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for consistent error handling across the application.
// These errors can be checked with errors.Is() for type-safe error handling.
var (
	// Pool lifecycle errors
	ErrPoolInit               = errors.New("session pool initialization failed")
	ErrPoolClosed             = errors.New("session pool is closed")
	ErrPoolAlreadyInitialized = errors.New("session pool is already initialized")
	ErrInvalidPoolSize        = errors.New("pool size must be a positive integer")
	ErrTooFewSessions         = errors.New("too few usable sessions")
	ErrRecycleInProgress      = errors.New("session pool recycle already in progress")

	// ErrNoAvailableSessions is the capacity-exhaustion signal returned by Acquire.
	ErrNoAvailableSessions = errors.New("no available pages")

	// Browser errors
	ErrBrowserLaunch    = errors.New("failed to launch browser")
	ErrNavigationFailed = errors.New("all translation hosts failed to load")
	ErrSessionPageNil   = errors.New("session page is nil or has been closed")

	// Request errors
	ErrTextRequired     = errors.New("text is required")
	ErrTextTooLong      = errors.New("text is too long")
	ErrInvalidLanguage  = errors.New("invalid language code")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrTranslationEmpty = errors.New("translation result is empty")

	// ErrTargetBlocked means the translation host served a block page
	// (rate limit interstitial or CAPTCHA) instead of a result.
	ErrTargetBlocked = errors.New("translation host blocked the request")

	// ErrTranslationFailed wraps every failure of the page parser.
	ErrTranslationFailed = errors.New("translation failed")
)

// PoolError provides detailed information about session pool failures.
// Kind is the sentinel the failure belongs to (ErrPoolInit, ErrBrowserLaunch, ...);
// both Kind and Err are visible to errors.Is/As.
type PoolError struct {
	Operation string // The operation that failed: "initialize", "launch", "recycle"
	Message   string // Human-readable error message
	Kind      error  // Sentinel classification
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *PoolError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

// Unwrap returns the classification and the underlying error.
func (e *PoolError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewPoolInitError creates an error for failures during Initialize.
func NewPoolInitError(reason string, err error) *PoolError {
	return &PoolError{
		Operation: "initialize",
		Message:   "Failed to initialize session pool: " + reason,
		Kind:      ErrPoolInit,
		Err:       err,
	}
}

// NewBrowserLaunchError creates an error for a browser that could not be started.
func NewBrowserLaunchError(err error) *PoolError {
	return &PoolError{
		Operation: "launch",
		Message:   "Failed to launch browser",
		Kind:      ErrBrowserLaunch,
		Err:       err,
	}
}

// NewRecycleError creates an error for a recycle that could not rebuild the pool.
func NewRecycleError(reason string, err error) *PoolError {
	return &PoolError{
		Operation: "recycle",
		Message:   "Failed to recycle session pool: " + reason,
		Err:       err,
	}
}

// SetupError reports a single session that could not be made ready.
type SetupError struct {
	Index int      // Creation index of the session
	Hosts []string // Hosts that were attempted, in order
	Err   error    // Underlying error
}

// Error implements the error interface.
func (e *SetupError) Error() string {
	return fmt.Sprintf("session %d setup failed: %v", e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *SetupError) Unwrap() error {
	return e.Err
}

// SetupErrors aggregates the failures of one batch of session setups.
type SetupErrors struct {
	Requested int
	Failures  []*SetupError
}

// Error implements the error interface.
func (e *SetupErrors) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return fmt.Sprintf("%d of %d sessions failed: %s", len(e.Failures), e.Requested, strings.Join(parts, "; "))
}

// Unwrap exposes every failure to errors.Is/As.
func (e *SetupErrors) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// TranslationError describes a failed page-parser run.
type TranslationError struct {
	Stage   string // "navigate", "wait", "extract"
	Message string
	Err     error
}

// Error implements the error interface.
func (e *TranslationError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

// Unwrap returns both ErrTranslationFailed and the cause.
func (e *TranslationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTranslationFailed}
	}
	return []error{ErrTranslationFailed, e.Err}
}

// NewTranslationError creates a TranslationError for the given stage.
func NewTranslationError(stage, message string, err error) *TranslationError {
	return &TranslationError{Stage: stage, Message: message, Err: err}
}
