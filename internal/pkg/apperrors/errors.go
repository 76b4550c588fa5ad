package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrInvalidRequest    ErrorType = "INVALID_REQUEST"
	ErrAuthFailed        ErrorType = "AUTH_FAILED"
	ErrReadOnly          ErrorType = "READ_ONLY"
	ErrNotFound          ErrorType = "NOT_FOUND"
	ErrUpstream          ErrorType = "UPSTREAM_ERROR"
	ErrInsufficientStake ErrorType = "INSUFFICIENT_STAKE"
	ErrInternal          ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func NewUpstream(msg string, cause error) *AppError {
	return New(ErrUpstream, msg, cause)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// Is reports whether err carries an AppError of the given type.
func Is(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest, ErrInsufficientStake:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrReadOnly:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrAuthFailed:
		return "Check the control key header."
	case ErrReadOnly:
		return "Disable server.read_only to change settings."
	case ErrUpstream:
		return "Exchange call failed, retry on the next tick."
	case ErrInsufficientStake:
		return "Lower the amount or subscribe more first."
	default:
		return ""
	}
}
