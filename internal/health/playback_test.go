package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/playback/driver"
	"github.com/zsiec/cadence/internal/playback/scheduler"
)

type fakeProbe struct {
	alive bool
	snap  driver.Snapshot
}

func (f *fakeProbe) Alive(time.Duration) bool  { return f.alive }
func (f *fakeProbe) Snapshot() driver.Snapshot { return f.snap }

func healthyProbe() *fakeProbe {
	return &fakeProbe{
		alive: true,
		snap: driver.Snapshot{
			State:      scheduler.State{SessionID: "s1", Frame: 12, Running: true},
			RendererOK: true,
		},
	}
}

func TestPlaybackChecker_Healthy(t *testing.T) {
	checker := NewPlaybackChecker(healthyProbe(), 0, 0)
	assert.Equal(t, "playback", checker.Name())
	require.NoError(t, checker.Check(context.Background()))

	details := checker.Details()
	assert.Equal(t, "s1", details["session_id"])
	assert.Equal(t, 12, details["frame"])
	assert.Equal(t, true, details["playing"])
}

func TestPlaybackChecker_StalledLoop(t *testing.T) {
	probe := healthyProbe()
	probe.alive = false

	err := NewPlaybackChecker(probe, time.Second, 0).Check(context.Background())
	require.Error(t, err)
	var degraded *DegradedError
	assert.NotErrorAs(t, err, &degraded)
	assert.Contains(t, err.Error(), "has not ticked")
}

func TestPlaybackChecker_Degraded(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*driver.Snapshot)
		reason string
	}{
		{
			name:   "renderer unsupported",
			mutate: func(s *driver.Snapshot) { s.RendererOK = false },
			reason: "renderer not supported",
		},
		{
			name:   "error frame",
			mutate: func(s *driver.Snapshot) { s.State.ErrorMessage = "decode failed" },
			reason: "decode failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			probe := healthyProbe()
			tt.mutate(&probe.snap)

			err := NewPlaybackChecker(probe, 0, 0).Check(context.Background())
			var degraded *DegradedError
			require.ErrorAs(t, err, &degraded)
			assert.Contains(t, degraded.Reason, tt.reason)
		})
	}
}

func TestPlaybackChecker_LongBuffering(t *testing.T) {
	probe := healthyProbe()
	probe.snap.State.BufferWait = true

	checker := NewPlaybackChecker(probe, 0, 5*time.Second)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return now }

	require.NoError(t, checker.Check(context.Background()), "short stalls are fine")

	now = now.Add(6 * time.Second)
	var degraded *DegradedError
	require.ErrorAs(t, checker.Check(context.Background()), &degraded)

	probe.snap.State.BufferWait = false
	require.NoError(t, checker.Check(context.Background()))

	probe.snap.State.BufferWait = true
	now = now.Add(time.Second)
	assert.NoError(t, checker.Check(context.Background()), "a new stall restarts the clock")
}
