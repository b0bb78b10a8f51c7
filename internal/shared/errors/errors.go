package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new application error.
func New(code, message string, statusCode int) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCode}
}

// linkUnavailable is shared by every unusable-link error so responses do
// not reveal why a link stopped working.
const linkUnavailable = "this link is no longer available"

// Domain errors. Callers compare with errors.Is.
var (
	ErrNotFound            = New("not_found", "resource not found", http.StatusNotFound)
	ErrForbidden           = New("forbidden", "insufficient permission", http.StatusForbidden)
	ErrUnauthorized        = New("unauthorized", "authentication required", http.StatusUnauthorized)
	ErrInvalid             = New("invalid_request", "invalid request", http.StatusBadRequest)
	ErrAlreadyResolved     = New("invitation_resolved", "invitation is no longer pending", http.StatusConflict)
	ErrDuplicateInvitation = New("duplicate_invitation", "a pending invitation already exists for this email", http.StatusConflict)
	ErrAlreadyMember       = New("already_member", "user already has access to this project", http.StatusConflict)
	ErrEmailTaken          = New("email_taken", "email is registered to another account", http.StatusConflict)
	ErrLinkInactive        = New("link_unavailable", linkUnavailable, http.StatusGone)
	ErrLinkExpired         = New("link_unavailable", linkUnavailable, http.StatusGone)
	ErrLinkExhausted       = New("link_unavailable", linkUnavailable, http.StatusGone)
	ErrConcurrencyConflict = New("conflict", "concurrent modification, please retry", http.StatusConflict)
	ErrMaintenance         = New("maintenance", "service is in maintenance mode", http.StatusServiceUnavailable)
	ErrInternal            = New("internal_error", "internal error", http.StatusInternalServerError)
)

// Invalid creates a validation error with a specific message.
func Invalid(message string) *AppError {
	return &AppError{
		Code:       ErrInvalid.Code,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalid,
	}
}

// Forbidden creates a forbidden error with a specific message.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:       ErrForbidden.Code,
		Message:    message,
		StatusCode: http.StatusForbidden,
		Err:        ErrForbidden,
	}
}

// NotFound creates a not found error naming the resource.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:       ErrNotFound.Code,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// Internal wraps an unexpected error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       ErrInternal.Code,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// As extracts the outermost AppError, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetStatusCode returns the HTTP status code for an error.
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
