package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to callers
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnknownParticipant  = "UNKNOWN_PARTICIPANT"
	CodeForbiddenPair       = "FORBIDDEN_PARTICIPANT_PAIR"
	CodeNotParticipant      = "NOT_A_PARTICIPANT"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeRateLimited         = "RATE_LIMITED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

// ForbiddenPairMessage is shown verbatim to end users.
const ForbiddenPairMessage = "Direct communication between buyers and sellers is not allowed. Please communicate through an agent."

type AppError struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code string, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest, nil)
}

func UnknownParticipant(userID string, err error) *AppError {
	return New(CodeUnknownParticipant, fmt.Sprintf("unknown participant %q", userID), http.StatusBadRequest, err)
}

func ForbiddenPair() *AppError {
	return New(CodeForbiddenPair, ForbiddenPairMessage, http.StatusForbidden, nil)
}

func NotParticipant(userID string) *AppError {
	return New(CodeNotParticipant, fmt.Sprintf("user %q is not a participant of this conversation", userID), http.StatusForbidden, nil)
}

// Forbidden is for authenticated callers acting on behalf of someone else
func Forbidden(message string) *AppError {
	return New(CodeForbidden, message, http.StatusForbidden, nil)
}

func NotFound(resource string, err error) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound, err)
}

func Unavailable(message string, err error) *AppError {
	return New(CodeUpstreamUnavailable, message, http.StatusServiceUnavailable, err)
}

func RateLimited() *AppError {
	return New(CodeRateLimited, "Rate limit exceeded", http.StatusTooManyRequests, nil)
}

func Unauthorized(message string, err error) *AppError {
	return New(CodeUnauthorized, message, http.StatusUnauthorized, err)
}

func Internal(message string, err error) *AppError {
	return New(CodeInternal, message, http.StatusInternalServerError, err)
}

// Is reports whether err carries an AppError with the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// StatusOf returns the HTTP status for err; errors outside the taxonomy map to 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

// MessageOf returns the caller-facing message for err.
func MessageOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}
