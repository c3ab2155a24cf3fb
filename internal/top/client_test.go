package top

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/playback/driver"
)

type recordedRequest struct {
	method string
	path   string
	body   string
}

func newTestAPI(t *testing.T, handler http.HandlerFunc) (*Client, *[]recordedRequest) {
	t.Helper()
	var reqs []recordedRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		reqs = append(reqs, recordedRequest{method: r.Method, path: r.URL.Path, body: string(body)})
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	c := NewClient(ts.URL+"/", ClientOptions{Timeout: 2 * time.Second})
	t.Cleanup(func() { _ = c.Close() })
	return c, &reqs
}

func TestClient_Snapshot(t *testing.T) {
	c, reqs := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		snap := testSnapshot()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})

	snap, err := c.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-1", snap.State.SessionID)
	assert.Equal(t, 12, snap.State.Frame)
	assert.True(t, snap.CacheValid)

	require.Len(t, *reqs, 1)
	assert.Equal(t, "GET", (*reqs)[0].method)
	assert.Equal(t, "/api/v1/playback", (*reqs)[0].path)
}

func TestClient_Commands(t *testing.T) {
	c, reqs := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(driver.Snapshot{}.State)
	})
	ctx := context.Background()

	require.NoError(t, c.Play(ctx))
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.SetFrame(ctx, 42))
	require.NoError(t, c.SetInc(ctx, -1))
	require.NoError(t, c.SetPlayMode(ctx, "pingpong"))
	require.NoError(t, c.SetCacheMode(ctx, "region"))
	require.NoError(t, c.SetRealtime(ctx, false))

	want := []recordedRequest{
		{"POST", "/api/v1/playback/play", `{"reason":"cadence-top"}`},
		{"POST", "/api/v1/playback/stop", `{"reason":"cadence-top"}`},
		{"PUT", "/api/v1/playback/frame", `{"frame":42}`},
		{"PUT", "/api/v1/playback/inc", `{"inc":-1}`},
		{"PUT", "/api/v1/playback/play-mode", `{"mode":"pingpong"}`},
		{"PUT", "/api/v1/playback/cache-mode", `{"mode":"region"}`},
		{"PUT", "/api/v1/playback/realtime", `{"realtime":false}`},
	}
	assert.Equal(t, want, *reqs)
}

func TestClient_ErrorResponse(t *testing.T) {
	c, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(apperrors.ErrorResponse{
			Error: apperrors.ErrorDetails{
				Type:    apperrors.ErrorTypeInvalidState,
				Message: "frame 500 outside range [1, 100)",
				Code:    "FRAME_OUT_OF_RANGE",
			},
		})
	})

	err := c.SetFrame(context.Background(), 500)
	require.Error(t, err)
	assert.Equal(t, "422 Unprocessable Entity: frame 500 outside range [1, 100)", err.Error())
}

func TestClient_PlainErrorResponse(t *testing.T) {
	c, _ := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream gone", http.StatusBadGateway)
	})

	_, err := c.Snapshot(context.Background())
	require.Error(t, err)
	assert.Equal(t, "502 Bad Gateway", err.Error())
}

func TestClient_HTTP3Transport(t *testing.T) {
	c := NewClient("https://localhost:8443", ClientOptions{HTTP3: true, Insecure: true})
	assert.NotNil(t, c.http.Transport)
	assert.NoError(t, c.Close())
}
