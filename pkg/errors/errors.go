package errors

import (
	"errors"
	"fmt"
	"net/http"
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
	ErrInvalidCredentials = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount    = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")

	// Consent and delivery invariant violations. These are data or
	// programming errors and must be rejected loudly, never coerced.
	ErrContactRights       = New("CONTACT_RIGHTS_VIOLATION", http.StatusUnprocessableEntity, "informational contacts cannot hold pickup or decision rights")
	ErrGuardianLimit       = New("GUARDIAN_LIMIT_EXCEEDED", http.StatusConflict, "student already has the maximum number of guardians")
	ErrPrimaryLimit        = New("PRIMARY_GUARDIAN_LIMIT", http.StatusConflict, "student already has the maximum number of primary guardians")
	ErrWithdrawnImmutable  = New("WITHDRAWN_NOT_OVERRIDABLE", http.StatusForbidden, "explicitly withdrawn consent cannot be overridden")
	ErrOverrideNotAllowed  = New("OVERRIDE_NOT_ALLOWED", http.StatusForbidden, "role may not override consent for this category")
	ErrEmergencyPrefLocked = New("EMERGENCY_PREF_LOCKED", http.StatusUnprocessableEntity, "emergency notifications cannot be disabled")
	ErrInvalidTransition   = New("INVALID_STATE_TRANSITION", http.StatusConflict, "delivery state transition not permitted")
	ErrDeliveryNotFound    = New("DELIVERY_NOT_FOUND", http.StatusNotFound, "delivery not found")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
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
