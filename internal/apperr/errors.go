// Package apperr provides the error taxonomy shared by the store, the
// pipeline, and the HTTP surface. Errors carry a kind for classification
// via errors.As plus a stable machine-readable code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation policy decisions.
type Kind int

const (
	// KindValidation marks malformed or out-of-range input. Never retried.
	KindValidation Kind = iota
	// KindNotFound marks an absent record or an ownership mismatch. Never retried.
	KindNotFound
	// KindAlreadyExists marks an id collision on create.
	KindAlreadyExists
	// KindConflict marks a lost conditional-transition race. Absorbed, not surfaced.
	KindConflict
	// KindProcessing marks an OCR or structuring capability failure.
	KindProcessing
	// KindUnavailable marks an external capability that is unreachable.
	KindUnavailable
)

// String returns the stable machine-readable code for the kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindNotFound:
		return "NOT_FOUND"
	case KindAlreadyExists:
		return "ALREADY_EXISTS"
	case KindConflict:
		return "CONFLICT"
	case KindProcessing:
		return "PROCESSING_ERROR"
	case KindUnavailable:
		return "CAPABILITY_UNAVAILABLE"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps the kind onto an HTTP-like status code.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyExists, KindConflict:
		return http.StatusConflict
	case KindUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error with a plain message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error without losing it for errors.Is.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind of err, or ok=false for unclassified errors.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Convenience classifiers used throughout the pipeline and API.

func IsValidation(err error) bool    { return IsKind(err, KindValidation) }
func IsNotFound(err error) bool      { return IsKind(err, KindNotFound) }
func IsAlreadyExists(err error) bool { return IsKind(err, KindAlreadyExists) }
func IsConflict(err error) bool      { return IsKind(err, KindConflict) }
