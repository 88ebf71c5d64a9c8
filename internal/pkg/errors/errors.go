package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// Kind classifies a failure. Security kinds are raised at the boundary and
// never create an event; ValidationError and ProcessorError are retryable.
type Kind string

const (
	KindMalformedSignature Kind = "MalformedSignature"
	KindSignatureMismatch  Kind = "SignatureMismatch"
	KindReplayDetected     Kind = "ReplayDetected"
	KindIPBlocked          Kind = "IPBlocked"
	KindRateLimited        Kind = "RateLimited"
	KindPayloadTooLarge    Kind = "PayloadTooLarge"
	KindValidation         Kind = "ValidationError"
	KindProcessor          Kind = "ProcessorError"
	KindMaxRetriesExceeded Kind = "MaxRetriesExceeded"

	KindNotFound     Kind = "NotFound"
	KindInvalidState Kind = "InvalidState"
	KindInvalidInput Kind = "InvalidInput"
	KindUnauthorized Kind = "Unauthorized"
	KindInternal     Kind = "Internal"
)

const (
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	ErrCodePayloadTooLarge   = "PAYLOAD_TOO_LARGE"
	ErrCodeSignature         = "SIGNATURE_INVALID"
	ErrCodeReplay            = "REPLAY_DETECTED"
	ErrCodeValidation        = "VALIDATION_FAILED"
	ErrCodeMaxRetries        = "MAX_RETRIES_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// IsSecurity reports whether k is rejected synchronously at the boundary.
func (k Kind) IsSecurity() bool {
	switch k {
	case KindMalformedSignature, KindSignatureMismatch, KindReplayDetected,
		KindIPBlocked, KindRateLimited, KindPayloadTooLarge:
		return true
	}
	return false
}

// Status maps a kind to its HTTP response status.
func (k Kind) Status() int {
	switch k {
	case KindMalformedSignature, KindSignatureMismatch, KindReplayDetected, KindUnauthorized:
		return http.StatusUnauthorized
	case KindIPBlocked:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindMaxRetriesExceeded:
		return http.StatusConflict
	case KindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Code maps a kind to the envelope's machine-readable code.
func (k Kind) Code() string {
	switch k {
	case KindMalformedSignature, KindSignatureMismatch:
		return ErrCodeSignature
	case KindReplayDetected:
		return ErrCodeReplay
	case KindIPBlocked:
		return ErrCodeForbidden
	case KindRateLimited:
		return ErrCodeRateLimitExceeded
	case KindPayloadTooLarge:
		return ErrCodePayloadTooLarge
	case KindValidation:
		return ErrCodeValidation
	case KindMaxRetriesExceeded:
		return ErrCodeMaxRetries
	case KindNotFound:
		return ErrCodeNotFound
	case KindInvalidState:
		return ErrCodeConflict
	case KindInvalidInput:
		return ErrCodeInvalidInput
	case KindUnauthorized:
		return ErrCodeUnauthorized
	}
	return ErrCodeInternal
}

type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, New(KindX, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return stderrors.As(err, &e) && e.Kind == kind
}

func WriteError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    code,
		Details: details,
	})
}

// Write renders err using its kind's status and code. Internal errors hide
// their message.
func Write(w http.ResponseWriter, err error) {
	var e *Error
	if !stderrors.As(err, &e) {
		WriteError(w, http.StatusInternalServerError, ErrCodeInternal, "Internal server error", nil)
		return
	}
	message := e.Message
	if e.Kind == KindInternal {
		message = "Internal server error"
	}
	var details interface{}
	if len(e.Details) > 0 {
		details = e.Details
	}
	WriteError(w, e.Kind.Status(), e.Kind.Code(), message, details)
}
