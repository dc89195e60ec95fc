package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind groups error codes by how callers are expected to react to them.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindAccessDenied   Kind = "access_denied"
	KindStateViolation Kind = "state_violation"
	KindToken          Kind = "token"
	KindConflict       Kind = "conflict"
	KindCapacity       Kind = "capacity"
	KindTimeout        Kind = "timeout"
	KindUnavailable    Kind = "unavailable"
	KindInternal       Kind = "internal"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so that clones and wraps of a predefined error
// still satisfy errors.Is against it.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// Kind reports the taxonomy bucket of the error code.
func (e *Error) Kind() Kind {
	if e == nil {
		return ""
	}
	if k, ok := kinds[e.Code]; ok {
		return k
	}
	return KindInternal
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound       = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden      = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized   = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict       = New("CONFLICT", http.StatusConflict, "conflict")
	ErrBadRequest     = New("BAD_REQUEST", http.StatusBadRequest, "malformed request")
	ErrValidation     = New("VALIDATION_ERROR", http.StatusUnprocessableEntity, "validation failed")
	ErrInternal       = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss      = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrTimeout        = New("TIMEOUT", http.StatusGatewayTimeout, "operation timed out")
	ErrUnavailable    = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "repository unavailable")
	ErrCapacity       = New("CAPACITY_EXCEEDED", http.StatusTooManyRequests, "max_per_day exceeded and rollover disabled")
	ErrInvalidTransit = New("INVALID_TRANSITION", http.StatusConflict, "illegal status transition")
)

// Check-in and lifecycle state violations.
var (
	ErrAlreadyCheckedIn  = New("ALREADY_CHECKED_IN", http.StatusConflict, "schedule already checked in")
	ErrScheduleCancelled = New("SCHEDULE_CANCELLED", http.StatusConflict, "schedule cancelled")
	ErrScheduleCompleted = New("SCHEDULE_COMPLETED", http.StatusConflict, "schedule completed")
	ErrScheduleNoShow    = New("SCHEDULE_NO_SHOW", http.StatusConflict, "schedule marked as no-show")
	ErrWrongDay          = New("WRONG_DAY", http.StatusConflict, "schedule is not for today")
	ErrWrongCandidate    = New("WRONG_CANDIDATE", http.StatusConflict, "token candidate does not match schedule")
	ErrTooEarly          = New("TOO_EARLY", http.StatusConflict, "check-in window has not opened")
	ErrTooLate           = New("TOO_LATE", http.StatusConflict, "check-in window has closed")
	ErrLaneBusy          = New("LANE_BUSY", http.StatusConflict, "lane is at service capacity")
	ErrNoShowTooEarly    = New("NO_SHOW_TOO_EARLY", http.StatusConflict, "no-show allowed only after the slot ends")
)

// Token verification failures.
var (
	ErrTokenMalformed        = New("TOKEN_MALFORMED", http.StatusBadRequest, "token malformed")
	ErrTokenSignatureInvalid = New("TOKEN_SIGNATURE_INVALID", http.StatusBadRequest, "token signature invalid")
	ErrTokenExpired          = New("TOKEN_EXPIRED", http.StatusBadRequest, "token expired")
	ErrTokenNotYetValid      = New("TOKEN_NOT_YET_VALID", http.StatusBadRequest, "token not yet valid")
)

var kinds = map[string]Kind{
	ErrNotFound.Code:              KindValidation,
	ErrBadRequest.Code:            KindValidation,
	ErrValidation.Code:            KindValidation,
	ErrForbidden.Code:             KindAccessDenied,
	ErrUnauthorized.Code:          KindAccessDenied,
	ErrConflict.Code:              KindConflict,
	ErrCapacity.Code:              KindCapacity,
	ErrTimeout.Code:               KindTimeout,
	ErrUnavailable.Code:           KindUnavailable,
	ErrInternal.Code:              KindInternal,
	ErrInvalidTransit.Code:        KindStateViolation,
	ErrAlreadyCheckedIn.Code:      KindStateViolation,
	ErrScheduleCancelled.Code:     KindStateViolation,
	ErrScheduleCompleted.Code:     KindStateViolation,
	ErrScheduleNoShow.Code:        KindStateViolation,
	ErrWrongDay.Code:              KindStateViolation,
	ErrWrongCandidate.Code:        KindStateViolation,
	ErrTooEarly.Code:              KindStateViolation,
	ErrTooLate.Code:               KindStateViolation,
	ErrLaneBusy.Code:              KindStateViolation,
	ErrNoShowTooEarly.Code:        KindStateViolation,
	ErrTokenMalformed.Code:        KindToken,
	ErrTokenSignatureInvalid.Code: KindToken,
	ErrTokenExpired.Code:          KindToken,
	ErrTokenNotYetValid.Code:      KindToken,
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Wrap(err, ErrTimeout.Code, ErrTimeout.Status, ErrTimeout.Message)
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// Retryable reports whether err is a commit conflict or a transient
// repository failure. Everything else is surfaced to the caller as is.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind() {
	case KindConflict, KindUnavailable:
		return true
	default:
		return false
	}
}

// KindOf returns the taxonomy bucket for any error.
func KindOf(err error) Kind {
	return FromError(err).Kind()
}
