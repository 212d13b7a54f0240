// Package errors provides centralized error definitions and error handling utilities
// for patchloop. It defines the sentinel errors of the loop, the error result a run
// aborts with, and classification helpers.
//
// # Error Types
//
// Domain-specific errors:
//   - LoopError: the terminal error result of a run (planning or patching aborted)
//   - ProviderError: a completion provider could not be reached or answered badly
//
// Semantic errors:
//   - ValidationError: invalid input or state
//   - TimeoutError: an operation ran out of time
//
// # Usage
//
//	err := errors.NewProviderError("anthropic", cause).WithStatusCode(529)
//	if errors.Is(err, errors.ErrProviderFailed) { ... }
//
//	var loopErr *errors.LoopError
//	if errors.As(err, &loopErr) {
//	    fmt.Fprintln(os.Stderr, loopErr.Reason)
//	}
//
// # Error Classification
//
// Only provider-communication failures during planning or patching and unusable
// plans end a run. Everything else (malformed responses, failed diffs, failing
// verification commands) is recovered locally and reported through events.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that end the run.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Loop sentinel errors
var (
	// ErrProviderFailed indicates the completion provider request failed.
	ErrProviderFailed = New("completion provider failed")
	// ErrPlanUnusable indicates the plan response held no usable object.
	ErrPlanUnusable = New("plan response unusable")
	// ErrPatchRequestFailed indicates a patch request could not be completed.
	ErrPatchRequestFailed = New("patch request failed")
	// ErrNoObject indicates no structured object could be extracted from text.
	ErrNoObject = New("no object found")
	// ErrUnknownBackend is returned when the configured backend is unsupported.
	ErrUnknownBackend = New("unknown completion backend")
	// ErrRunInProgress is returned when a Controller is asked to start a
	// second run before the first reached a terminal state.
	ErrRunInProgress = New("run already in progress")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// maxDetailLen and maxRawLen bound what a LoopError carries from model output.
const (
	maxDetailLen = 500
	maxRawLen    = 2000
)

// ClassifiedError is implemented by all patchloop error types.
type ClassifiedError interface {
	error
	Unwrap() error
	Severity() Severity
	IsRetryable() bool
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error       { return e.cause }
func (e *baseError) Severity() Severity  { return e.severity }
func (e *baseError) IsRetryable() bool   { return e.retryable }
func (e *baseError) IsUserFacing() bool  { return e.userFacing }
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// LoopError is the error result of an aborted run. Reason is a short
// human-readable string; Detail is a truncated diagnostic.
//
// Example:
//
//	err := errors.NewLoopError("Plan step did not return valid JSON", errors.ErrPlanUnusable).
//		WithDetail(response).WithRawResponse(response)
type LoopError struct {
	baseError
	Reason      string
	Detail      string
	RawResponse string
	MilestoneID string
	Phase       string
}

// NewLoopError creates a LoopError with the given reason and cause.
func NewLoopError(reason string, cause error) *LoopError {
	return &LoopError{
		baseError: baseError{
			message:    reason,
			cause:      cause,
			severity:   SeverityCritical,
			retryable:  false,
			userFacing: true,
		},
		Reason: reason,
	}
}

// WithDetail sets the diagnostic detail, truncated to 500 characters.
func (e *LoopError) WithDetail(detail string) *LoopError {
	e.Detail = truncate(detail, maxDetailLen)
	return e
}

// WithRawResponse records the raw model response, truncated to 2000 characters.
func (e *LoopError) WithRawResponse(raw string) *LoopError {
	e.RawResponse = truncate(raw, maxRawLen)
	return e
}

// WithMilestone records which milestone was active when the run aborted.
func (e *LoopError) WithMilestone(id string) *LoopError {
	e.MilestoneID = id
	return e
}

// WithPhase records the loop phase that failed.
func (e *LoopError) WithPhase(phase string) *LoopError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *LoopError) Error() string {
	var parts []string
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	if e.MilestoneID != "" {
		parts = append(parts, fmt.Sprintf("milestone=%s", e.MilestoneID))
	}

	prefix := "loop error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("loop error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Reason)
}

// Is checks if this error matches the target.
func (e *LoopError) Is(target error) bool {
	if _, ok := target.(*LoopError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ProviderError represents a failed exchange with a completion provider.
//
// Example:
//
//	err := errors.NewProviderError("openai", cause).WithStatusCode(429)
type ProviderError struct {
	baseError
	Backend    string
	StatusCode int
}

// NewProviderError creates a ProviderError for the named backend.
func NewProviderError(backend string, cause error) *ProviderError {
	return &ProviderError{
		baseError: baseError{
			message:    "completion request failed",
			cause:      cause,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		Backend: backend,
	}
}

// WithStatusCode records the HTTP status the provider answered with.
func (e *ProviderError) WithStatusCode(code int) *ProviderError {
	e.StatusCode = code
	if code >= 400 && code < 500 && code != 429 {
		e.retryable = false
	}
	return e
}

// WithMessage replaces the default message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.message = msg
	return e
}

// Error returns the formatted error message.
func (e *ProviderError) Error() string {
	var parts []string
	if e.Backend != "" {
		parts = append(parts, fmt.Sprintf("backend=%s", e.Backend))
	}
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}

	prefix := "provider error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("provider error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ProviderError) Is(target error) bool {
	if _, ok := target.(*ProviderError); ok {
		return true
	}
	if target == ErrProviderFailed {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("goal must not be empty").WithField("goal")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	msg := "validation error"
	if e.Field != "" {
		msg = fmt.Sprintf("validation error [field=%s]", e.Field)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.message)
	if e.Value != nil {
		msg = fmt.Sprintf("%s (got: %v)", msg, e.Value)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("patch -p1", 30*time.Second)
//	fmt.Println(err) // "timeout error: patch -p1 (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	return target == ErrTimeout
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that are not classified.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var classified ClassifiedError
	if As(err, &classified) {
		return classified.Severity()
	}
	return SeverityError
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// truncate keeps the first n runes of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
