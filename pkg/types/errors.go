package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode identifies a class of orchestration failure.
type ErrorCode string

const (
	// ErrCodeInvalidConfiguration indicates a strategy config inconsistent with the data.
	ErrCodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	// ErrCodeEmptyInput indicates zero-length input data.
	ErrCodeEmptyInput ErrorCode = "EMPTY_INPUT"
	// ErrCodeUnauthenticated indicates missing or rejected credentials.
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	// ErrCodeBackendUnavailable indicates the provider could not be reached.
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// ErrCodeNoEndpointsAvailable indicates an empty endpoint list.
	ErrCodeNoEndpointsAvailable ErrorCode = "NO_ENDPOINTS_AVAILABLE"
	// ErrCodeSubmission indicates a failure detected before dispatch.
	ErrCodeSubmission ErrorCode = "SUBMISSION_ERROR"
	// ErrCodeTimedOut indicates a wait that elapsed before the task resolved.
	ErrCodeTimedOut ErrorCode = "TIMED_OUT"
	// ErrCodeRemoteExecution indicates a failure on the worker side.
	ErrCodeRemoteExecution ErrorCode = "REMOTE_EXECUTION_ERROR"
	// ErrCodeReduceOnIncompleteResult indicates reduce over a result with failed positions.
	ErrCodeReduceOnIncompleteResult ErrorCode = "REDUCE_ON_INCOMPLETE_RESULT"
)

// NoPosition marks an error that is not tied to a chunk.
const NoPosition = -1

// Error is the error type returned by strategies, backends and the master.
type Error struct {
	Code     ErrorCode
	Message  string
	Position int
	Endpoint string
	Cause    error
}

// Sentinels for errors.Is. They match any *Error carrying the same code.
var (
	ErrInvalidConfiguration     = &Error{Code: ErrCodeInvalidConfiguration, Position: NoPosition}
	ErrEmptyInput               = &Error{Code: ErrCodeEmptyInput, Position: NoPosition}
	ErrUnauthenticated          = &Error{Code: ErrCodeUnauthenticated, Position: NoPosition}
	ErrBackendUnavailable       = &Error{Code: ErrCodeBackendUnavailable, Position: NoPosition}
	ErrNoEndpointsAvailable     = &Error{Code: ErrCodeNoEndpointsAvailable, Position: NoPosition}
	ErrSubmission               = &Error{Code: ErrCodeSubmission, Position: NoPosition}
	ErrTimedOut                 = &Error{Code: ErrCodeTimedOut, Position: NoPosition}
	ErrRemoteExecution          = &Error{Code: ErrCodeRemoteExecution, Position: NoPosition}
	ErrReduceOnIncompleteResult = &Error{Code: ErrCodeReduceOnIncompleteResult, Position: NoPosition}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Message == "" {
		msg = fmt.Sprintf("[%s]", e.Code)
	}
	if e.Position != NoPosition {
		msg = fmt.Sprintf("%s (chunk %d", msg, e.Position)
		if e.Endpoint != "" {
			msg += " @ " + e.Endpoint
		}
		msg += ")"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithPosition returns a copy of the error tied to a chunk and endpoint.
func (e *Error) WithPosition(position int, endpoint string) *Error {
	cp := *e
	cp.Position = position
	cp.Endpoint = endpoint
	return &cp
}

// NewError creates a new Error not tied to any chunk.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Position: NoPosition,
		Cause:    cause,
	}
}

// NewInvalidConfigurationError creates an error for inconsistent strategy configuration.
func NewInvalidConfigurationError(format string, args ...any) *Error {
	return NewError(ErrCodeInvalidConfiguration, fmt.Sprintf(format, args...), nil)
}

// NewEmptyInputError creates an error for zero-length input.
func NewEmptyInputError() *Error {
	return NewError(ErrCodeEmptyInput, "input data is empty", nil)
}

// NewUnauthenticatedError creates an error for missing or rejected credentials.
func NewUnauthenticatedError(message string, cause error) *Error {
	return NewError(ErrCodeUnauthenticated, message, cause)
}

// NewBackendUnavailableError creates an error for an unreachable provider.
func NewBackendUnavailableError(message string, cause error) *Error {
	return NewError(ErrCodeBackendUnavailable, message, cause)
}

// NewNoEndpointsAvailableError creates an error for an empty endpoint list.
func NewNoEndpointsAvailableError() *Error {
	return NewError(ErrCodeNoEndpointsAvailable, "backend returned no endpoints", nil)
}

// NewSubmissionError creates an error for a chunk that could not be dispatched.
func NewSubmissionError(position int, endpoint, message string, cause error) *Error {
	return &Error{
		Code:     ErrCodeSubmission,
		Message:  message,
		Position: position,
		Endpoint: endpoint,
		Cause:    cause,
	}
}

// NewTimedOutError creates an error for a wait that elapsed.
func NewTimedOutError(position int, endpoint string, timeout time.Duration) *Error {
	msg := "stopped waiting for result; remote work may still be running"
	if timeout > 0 {
		msg = fmt.Sprintf("no result after %v; remote work may still be running", timeout)
	}
	return &Error{
		Code:     ErrCodeTimedOut,
		Message:  msg,
		Position: position,
		Endpoint: endpoint,
	}
}

// NewRemoteExecutionError creates an error for a failure on the worker side.
func NewRemoteExecutionError(position int, endpoint, message string, cause error) *Error {
	return &Error{
		Code:     ErrCodeRemoteExecution,
		Message:  message,
		Position: position,
		Endpoint: endpoint,
		Cause:    cause,
	}
}

// NewReduceOnIncompleteResultError creates an error for reduce over failed positions.
func NewReduceOnIncompleteResultError(failed []int) *Error {
	return NewError(ErrCodeReduceOnIncompleteResult,
		fmt.Sprintf("%d chunk(s) failed: positions %v", len(failed), failed), nil)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTimedOut checks if the error is a timeout.
func IsTimedOut(err error) bool {
	return errors.Is(err, ErrTimedOut)
}

// IsRemoteExecutionError checks if the error happened on the worker side.
func IsRemoteExecutionError(err error) bool {
	return errors.Is(err, ErrRemoteExecution)
}

// IsSubmissionError checks if the error happened before dispatch.
func IsSubmissionError(err error) bool {
	return errors.Is(err, ErrSubmission)
}

// IsPreDispatch reports whether the error class aborts a run before any work starts.
func IsPreDispatch(err error) bool {
	switch CodeOf(err) {
	case ErrCodeInvalidConfiguration, ErrCodeEmptyInput, ErrCodeUnauthenticated,
		ErrCodeBackendUnavailable, ErrCodeNoEndpointsAvailable, ErrCodeSubmission:
		return true
	}
	return false
}
