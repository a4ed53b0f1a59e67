package errors

import (
	"errors"
	"fmt"
	"net/http"

	"paintwithchat/internal/core/domain"
	"paintwithchat/pkg/circuitbreaker"
)

type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// GetAppError extracts the first AppError in err's chain.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// Is lets callers that import this package as "errors" keep using Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// FromDomain maps an error returned by the core onto an AppError. Errors
// that are already AppErrors are returned as they are.
func FromDomain(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr := GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return WrapError(err, ErrCodeNotFound, domain.ErrSessionNotFound.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrUserNotFound):
		return WrapError(err, ErrCodeNotFound, domain.ErrUserNotFound.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidCredential):
		return WrapError(err, ErrCodeUnauthorized, domain.ErrInvalidCredential.Error(), http.StatusUnauthorized)
	case errors.Is(err, domain.ErrNotAuthorized):
		return WrapError(err, ErrCodeForbidden, domain.ErrNotAuthorized.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrSessionAlreadyActive):
		return WrapError(err, ErrCodeInvalidInput, domain.ErrSessionAlreadyActive.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrUserNotInSession):
		return WrapError(err, ErrCodeInvalidInput, domain.ErrUserNotInSession.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNoUsersInSession):
		return WrapError(err, ErrCodeInvalidInput, domain.ErrNoUsersInSession.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrStorageFailure), errors.Is(err, circuitbreaker.ErrOpen):
		return WrapError(err, ErrCodeServiceUnavailable, domain.ErrStorageFailure.Error(), http.StatusServiceUnavailable)
	default:
		return WrapError(err, ErrCodeInternal, "internal error", http.StatusInternalServerError)
	}
}
