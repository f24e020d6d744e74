package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Scribbly error code.
type ErrorCode string

const (
	ErrInvalidRequest        ErrorCode = "INVALID_REQUEST"        // 400
	ErrNotFound              ErrorCode = "NOT_FOUND"              // 404
	ErrMissingAPIKey         ErrorCode = "MISSING_API_KEY"        // 412
	ErrCancelled             ErrorCode = "CANCELLED"              // 499
	ErrCloudRequestFailed    ErrorCode = "CLOUD_REQUEST_FAILED"   // 502
	ErrEmptyResponse         ErrorCode = "EMPTY_RESPONSE"         // 502
	ErrSummaryFailed         ErrorCode = "SUMMARY_FAILED"         // 502
	ErrCapabilityUnavailable ErrorCode = "CAPABILITY_UNAVAILABLE" // 503
	ErrInternal              ErrorCode = "INTERNAL"               // 500
)

// ScribblyError represents a structured error with code, status, and details.
type ScribblyError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *ScribblyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *ScribblyError) Unwrap() error {
	return e.Cause
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *ScribblyError {
	return &ScribblyError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(kind, identifier string) *ScribblyError {
	return &ScribblyError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewMissingAPIKey creates a 412 error when cloud mode is selected without a key.
func NewMissingAPIKey() *ScribblyError {
	return &ScribblyError{
		Code:    ErrMissingAPIKey,
		Status:  412,
		Message: "cloud mode requires an API key (cloudApiKey is not set)",
	}
}

// NewCancelled creates a 499 error for an abandoned request.
func NewCancelled(cause error) *ScribblyError {
	return &ScribblyError{
		Code:    ErrCancelled,
		Status:  499,
		Message: "request cancelled",
		Cause:   cause,
	}
}

// NewCloudRequestFailed creates a 502 error for a failed cloud call.
// status is the upstream HTTP status, or 0 when the request never completed.
func NewCloudRequestFailed(status int, cause error) *ScribblyError {
	msg := fmt.Sprintf("cloud summarization failed with status %d", status)
	if status == 0 && cause != nil {
		msg = fmt.Sprintf("cloud summarization request failed: %v", cause)
	}
	return &ScribblyError{
		Code:    ErrCloudRequestFailed,
		Status:  502,
		Message: msg,
		Details: map[string]any{"upstream_status": status},
		Cause:   cause,
	}
}

// NewEmptyResponse creates a 502 error when a backend produced no text.
func NewEmptyResponse(source string) *ScribblyError {
	return &ScribblyError{
		Code:    ErrEmptyResponse,
		Status:  502,
		Message: fmt.Sprintf("%s returned an empty response", source),
		Details: map[string]any{"source": source},
	}
}

// NewSummaryFailed creates a 502 error describing a summary record that
// ended in the error or cancelled state.
func NewSummaryFailed(id, status, msg string) *ScribblyError {
	return &ScribblyError{
		Code:    ErrSummaryFailed,
		Status:  502,
		Message: msg,
		Details: map[string]any{"id": id, "status": status},
	}
}

// NewCapabilityUnavailable creates a 503 error when no model session can be obtained.
func NewCapabilityUnavailable(capability, msg string) *ScribblyError {
	return &ScribblyError{
		Code:    ErrCapabilityUnavailable,
		Status:  503,
		Message: msg,
		Details: map[string]any{"capability": capability},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *ScribblyError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ScribblyError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// Is checks if err (or anything it wraps) is a ScribblyError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *ScribblyError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// Message returns the human-readable message of err.
// ScribblyErrors yield their Message without the code prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var sErr *ScribblyError
	if stderrors.As(err, &sErr) {
		return sErr.Message
	}
	return err.Error()
}
