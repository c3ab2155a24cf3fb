package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the type of error.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeTimeout      ErrorType = "TIMEOUT"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeServiceDown  ErrorType = "SERVICE_DOWN"
	ErrorTypeInvalidState ErrorType = "INVALID_PLAYBACK_STATE"
	ErrorTypeRateLimited  ErrorType = "RATE_LIMITED"
)

// AppError is an API-facing error. RetryAfter, when set, is sent to clients
// as a Retry-After header rounded up to whole seconds.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	RetryAfter time.Duration          `json:"-"`
	Err        error                  `json:"-"`
}

// Temporary reports whether the same request may succeed if retried.
func (e *AppError) Temporary() bool {
	switch e.HTTPStatus {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusRequestTimeout:
		return true
	}
	return false
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCode adds an error code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// New creates a new AppError.
func New(errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an existing error.
func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// NewInternalError creates an internal server error.
func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

// WrapInternalError wraps an error as internal server error.
func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message, http.StatusInternalServerError)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(message string) *AppError {
	return New(ErrorTypeTimeout, message, http.StatusRequestTimeout)
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message, http.StatusConflict)
}

// NewInvalidStateError reports a command the scheduler cannot apply in its
// current state, such as a frame outside the loaded range.
func NewInvalidStateError(message string) *AppError {
	return New(ErrorTypeInvalidState, message, http.StatusUnprocessableEntity)
}

// NewFrameOutOfRangeError describes a frame request outside [start, end).
func NewFrameOutOfRangeError(frame, start, end int) *AppError {
	return NewInvalidStateError(fmt.Sprintf("frame %d outside range [%d, %d)", frame, start, end)).
		WithCode("FRAME_OUT_OF_RANGE").
		WithDetails(map[string]interface{}{
			"frame":       frame,
			"range_start": start,
			"range_end":   end,
		})
}

// NewServiceDownError creates a service down error.
func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, fmt.Sprintf("%s service is currently unavailable", service), http.StatusServiceUnavailable)
}

// NewQueueFullError reports a control loop that is not draining commands
// fast enough. Clients should back off briefly.
func NewQueueFullError(err error) *AppError {
	return Wrap(err, ErrorTypeServiceDown, "playback is busy, retry shortly", http.StatusServiceUnavailable).
		WithCode("QUEUE_FULL").
		WithRetryAfter(time.Second)
}

func NewRateLimitedError(message string, retryAfter time.Duration) *AppError {
	return New(ErrorTypeRateLimited, message, http.StatusTooManyRequests).WithRetryAfter(retryAfter)
}

// IsAppError checks if an error is, or wraps, an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
