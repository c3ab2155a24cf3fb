package errors

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietHandler() (*ErrorHandler, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(io.Discard)
	return NewErrorHandler(logger), hook
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		errType    ErrorType
		code       string
		retryable  bool
		retryAfter string
		level      logrus.Level
	}{
		{
			name:    "validation",
			err:     NewValidationError("fps must be positive").WithCode("INVALID_FPS"),
			status:  http.StatusBadRequest,
			errType: ErrorTypeValidation,
			code:    "INVALID_FPS",
			level:   logrus.WarnLevel,
		},
		{
			name:    "frame out of range",
			err:     NewFrameOutOfRangeError(500, 1, 100),
			status:  http.StatusUnprocessableEntity,
			errType: ErrorTypeInvalidState,
			code:    "FRAME_OUT_OF_RANGE",
			level:   logrus.WarnLevel,
		},
		{
			name:       "queue full",
			err:        NewQueueFullError(errors.New("command queue full")),
			status:     http.StatusServiceUnavailable,
			errType:    ErrorTypeServiceDown,
			code:       "QUEUE_FULL",
			retryable:  true,
			retryAfter: "1",
			level:      logrus.WarnLevel,
		},
		{
			name:       "rate limited",
			err:        NewRateLimitedError("slow down", 1500*time.Millisecond),
			status:     http.StatusTooManyRequests,
			errType:    ErrorTypeRateLimited,
			retryable:  true,
			retryAfter: "2",
			level:      logrus.InfoLevel,
		},
		{
			name:    "plain error",
			err:     errors.New("graph exploded"),
			status:  http.StatusInternalServerError,
			errType: ErrorTypeInternal,
			level:   logrus.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, hook := quietHandler()
			req := httptest.NewRequest("PUT", "/api/v1/playback/frame", nil)
			req.Header.Set("X-Request-ID", "req-123")
			rr := httptest.NewRecorder()

			handler.HandleError(rr, req, tt.err)

			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.retryAfter, rr.Header().Get("Retry-After"))

			resp := decode(t, rr)
			assert.Equal(t, tt.errType, resp.Error.Type)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Equal(t, tt.retryable, resp.Retryable)
			assert.Equal(t, "req-123", resp.TraceID)
			assert.NotContains(t, resp.Error.Message, "graph exploded", "internal causes stay server side")

			require.NotNil(t, hook.LastEntry())
			assert.Equal(t, tt.level, hook.LastEntry().Level)
			assert.Equal(t, tt.status, hook.LastEntry().Data["status"])
		})
	}
}

func TestHandleErrorEchoesSession(t *testing.T) {
	handler, hook := quietHandler()
	req := httptest.NewRequest("POST", "/api/v1/playback/play", nil)
	rr := httptest.NewRecorder()
	rr.Header().Set(SessionHeader, "session-42")

	handler.HandleError(rr, req, NewServiceDownError("playback"))

	resp := decode(t, rr)
	assert.Equal(t, "session-42", resp.SessionID)
	assert.Equal(t, "session-42", hook.LastEntry().Data["session_id"])
}

func TestHandleErrorWrappedAppError(t *testing.T) {
	handler, _ := quietHandler()
	req := httptest.NewRequest("PUT", "/api/v1/playback/range", nil)
	rr := httptest.NewRecorder()

	err := NewValidationError("end must be greater than start")
	handler.HandleError(rr, req, errors.Join(errors.New("range"), err))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "end must be greater than start", decode(t, rr).Error.Message)
}

func TestHandleNotFound(t *testing.T) {
	handler, _ := quietHandler()
	rr := httptest.NewRecorder()

	handler.HandleNotFound(rr, httptest.NewRequest("GET", "/api/v1/nowhere", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, ErrorTypeNotFound, resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "endpoint")
	assert.False(t, resp.Retryable)
}

func TestHandleMethodNotAllowed(t *testing.T) {
	handler, _ := quietHandler()
	rr := httptest.NewRecorder()

	handler.HandleMethodNotAllowed(rr, httptest.NewRequest("DELETE", "/api/v1/playback/play", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, ErrorTypeValidation, decode(t, rr).Error.Type)
}

func TestMiddlewareRecoversPanics(t *testing.T) {
	handler, hook := quietHandler()
	protected := handler.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("renderer blew up")
	}))

	rr := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		protected.ServeHTTP(rr, httptest.NewRequest("POST", "/api/v1/playback/play", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	resp := decode(t, rr)
	assert.Equal(t, ErrorTypeInternal, resp.Error.Type)
	assert.Contains(t, resp.Error.Message, "unexpected error")

	var sawPanic bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Panic recovered in HTTP handler" {
			sawPanic = true
			assert.Equal(t, "renderer blew up", e.Data["panic"])
		}
	}
	assert.True(t, sawPanic)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, logrus.ErrorLevel, levelFor(http.StatusInternalServerError))
	assert.Equal(t, logrus.WarnLevel, levelFor(http.StatusServiceUnavailable))
	assert.Equal(t, logrus.WarnLevel, levelFor(http.StatusConflict))
	assert.Equal(t, logrus.InfoLevel, levelFor(http.StatusTooManyRequests))
	assert.Equal(t, logrus.InfoLevel, levelFor(http.StatusRequestTimeout))
	assert.Equal(t, logrus.InfoLevel, levelFor(http.StatusOK))
}
