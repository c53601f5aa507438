// Package apperr defines the coded error taxonomy surfaced on the wire.
// Every error that reaches a caller carries a fixed code string and an
// HTTP status; anything unclassified maps to INTERNAL_ERROR.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. Each maps to exactly one HTTP status.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeEvidenceViolation = "EVIDENCE_VIOLATION" // reserved: defined, never emitted
	CodeRateLimited       = "RATE_LIMIT_EXCEEDED"
	CodeLowConfidence     = "LOW_CONFIDENCE"
	CodeInsufficientData  = "INSUFFICIENT_DATA"
	CodePrereqMissing     = "UPSTREAM_ARTIFACT_MISSING"
	CodeOpenAIError       = "OPENAI_ERROR"
	CodeOpenAITimeout     = "OPENAI_TIMEOUT"
	CodeRequestTimeout    = "REQUEST_TIMEOUT"
	CodeInternal          = "INTERNAL_ERROR"
)

// statusByCode pins each code to its HTTP status.
var statusByCode = map[string]int{
	CodeValidation:        http.StatusBadRequest,
	CodeUnauthorized:      http.StatusUnauthorized,
	CodeEvidenceViolation: http.StatusConflict,
	CodeRateLimited:       http.StatusTooManyRequests,
	CodeLowConfidence:     http.StatusUnprocessableEntity,
	CodeInsufficientData:  http.StatusFailedDependency,
	CodePrereqMissing:     http.StatusFailedDependency,
	CodeOpenAIError:       http.StatusServiceUnavailable,
	CodeOpenAITimeout:     http.StatusGatewayTimeout,
	CodeRequestTimeout:    http.StatusGatewayTimeout,
	CodeInternal:          http.StatusInternalServerError,
}

// Error is a coded application error. Details, when set, is marshaled into
// the error envelope's details field.
type Error struct {
	Code    string
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// HTTPStatus returns the status pinned to the error's code.
func (e *Error) HTTPStatus() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WithDetails attaches structured details for the error envelope.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// New builds an Error with the given code and message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf builds an Error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error that carries a cause for logging; the cause is never
// serialized to callers.
func Wrap(err error, code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// Validation reports a failed schema or input check.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf reports a failed schema or input check with formatting.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// Unauthorized reports a missing or wrong API key.
func Unauthorized() *Error {
	return New(CodeUnauthorized, "missing or invalid API key")
}

// RateLimited reports an exceeded per-client window.
func RateLimited() *Error {
	return New(CodeRateLimited, "rate limit exceeded")
}

// LowConfidence reports an adjusted confidence below the acceptance gate.
func LowConfidence(confidence float64, details any) *Error {
	e := Newf(CodeLowConfidence, "analysis confidence %.3f below 0.6 threshold", confidence)
	e.Details = details
	return e
}

// InsufficientData reports that scraping produced too little material.
func InsufficientData(message string) *Error {
	return New(CodeInsufficientData, message)
}

// PrereqMissing reports a phase invoked before its upstream artifact exists.
func PrereqMissing(message string) *Error {
	return New(CodePrereqMissing, message)
}

// RequestTimeout reports an exceeded end-to-end request deadline.
func RequestTimeout() *Error {
	return New(CodeRequestTimeout, "request timed out")
}

// Internal wraps an unclassified failure.
func Internal(err error) *Error {
	return Wrap(err, CodeInternal, "internal error")
}

// From extracts the coded error from err's chain, or wraps err as
// INTERNAL_ERROR when no coded error is present.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Internal(err)
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
