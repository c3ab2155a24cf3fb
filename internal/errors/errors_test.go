package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(ErrorTypeValidation, "inc must not be zero", http.StatusBadRequest)
	assert.Equal(t, "VALIDATION_ERROR: inc must not be zero", err.Error())
	assert.Nil(t, err.Unwrap())

	cause := errors.New("redis: connection refused")
	wrapped := WrapInternalError(cause, "Failed to save session")
	assert.Equal(t, "INTERNAL_ERROR: Failed to save session (caused by: redis: connection refused)", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name      string
		err       *AppError
		errType   ErrorType
		status    int
		temporary bool
	}{
		{"validation", NewValidationError("fps must be positive"), ErrorTypeValidation, http.StatusBadRequest, false},
		{"not found", NewNotFoundError("session"), ErrorTypeNotFound, http.StatusNotFound, false},
		{"internal", NewInternalError("scheduler failed"), ErrorTypeInternal, http.StatusInternalServerError, false},
		{"timeout", NewTimeoutError("playback command timed out"), ErrorTypeTimeout, http.StatusRequestTimeout, true},
		{"conflict", NewConflictError("already playing"), ErrorTypeConflict, http.StatusConflict, false},
		{"invalid state", NewInvalidStateError("range is degenerate"), ErrorTypeInvalidState, http.StatusUnprocessableEntity, false},
		{"service down", NewServiceDownError("playback"), ErrorTypeServiceDown, http.StatusServiceUnavailable, true},
		{"rate limited", NewRateLimitedError("slow down", time.Second), ErrorTypeRateLimited, http.StatusTooManyRequests, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.errType, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
			assert.Equal(t, tt.temporary, tt.err.Temporary())
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestNewFrameOutOfRangeError(t *testing.T) {
	err := NewFrameOutOfRangeError(250, 1, 241)

	assert.Equal(t, ErrorTypeInvalidState, err.Type)
	assert.Equal(t, "FRAME_OUT_OF_RANGE", err.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, err.HTTPStatus)
	assert.Equal(t, map[string]interface{}{"frame": 250, "range_start": 1, "range_end": 241}, err.Details)
	assert.Equal(t, "frame 250 outside range [1, 241)", err.Message)
}

func TestNewQueueFullError(t *testing.T) {
	cause := errors.New("command queue full")
	err := NewQueueFullError(cause)

	assert.Equal(t, ErrorTypeServiceDown, err.Type)
	assert.Equal(t, "QUEUE_FULL", err.Code)
	assert.Equal(t, time.Second, err.RetryAfter)
	assert.True(t, err.Temporary())
	assert.ErrorIs(t, err, cause)
}

func TestGetAppError(t *testing.T) {
	inner := NewConflictError("already playing")

	tests := []struct {
		name string
		err  error
		want *AppError
	}{
		{"direct", inner, inner},
		{"wrapped", fmt.Errorf("apply command: %w", inner), inner},
		{"plain", errors.New("standard error"), nil},
		{"nil", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GetAppError(tt.err)
			assert.Equal(t, tt.want != nil, ok)
			assert.Equal(t, ok, IsAppError(tt.err))
			if tt.want != nil {
				require.NotNil(t, got)
				assert.Same(t, tt.want, got)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}
