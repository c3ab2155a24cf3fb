package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/pkg/version"
)

func serveHealth(h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h(rr, httptest.NewRequest("GET", path, nil))
	return rr
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus Status
		wantMsg    string
	}{
		{"playing", nil, http.StatusOK, StatusOK, ""},
		{"buffering stays in rotation", Degraded("buffering"), http.StatusOK, StatusDegraded, "buffering"},
		{"driver stopped", assert.AnError, http.StatusServiceUnavailable, StatusDown, assert.AnError.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t)
			m.Register(&fakeChecker{name: "playback", err: tt.err})
			h := NewHandler(m)

			rr := serveHealth(h.HandleHealth, "/health")
			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

			var resp Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, version.Version, resp.Version)
			assert.NotEmpty(t, resp.Uptime)
			assert.False(t, resp.Timestamp.IsZero())
			require.Contains(t, resp.Checks, "playback")
			assert.Equal(t, tt.wantMsg, resp.Checks["playback"].Message)
		})
	}
}

func TestHandleReady(t *testing.T) {
	m, _ := newTestManager(t)
	checker := &fakeChecker{name: "playback"}
	m.Register(checker)
	h := NewHandler(m)

	rr := serveHealth(h.HandleReady, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "not ready before the first run")
	assert.Zero(t, checker.calls.Load(), "ready does not run checks itself")

	m.RunChecks(context.Background())
	rr = serveHealth(h.HandleReady, "/ready")
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Status    Status    `json:"status"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, StatusOK, resp.Status)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestHandleLive(t *testing.T) {
	m, _ := newTestManager(t)
	m.Register(&fakeChecker{name: "redis", err: assert.AnError})
	m.RunChecks(context.Background())
	h := NewHandler(m)

	rr := serveHealth(h.HandleLive, "/live")
	assert.Equal(t, http.StatusOK, rr.Code, "liveness ignores failing checks")

	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp.Status)
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{2*time.Minute + 30*time.Second + 400*time.Millisecond, "2m30s"},
		{3*time.Hour + 15*time.Minute + 45*time.Second, "3h15m45s"},
		{2*24*time.Hour + 6*time.Hour + 30*time.Minute + 15*time.Second, "2d6h30m15s"},
		{24 * time.Hour, "1d0s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatUptime(tt.d), tt.d.String())
	}
}
