package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordTick(t *testing.T) {
	session := "tick-session"
	initial := testutil.ToFloat64(playbackTicksTotal.WithLabelValues(session))

	durations := []float64{0.0002, 0.001, 0.004}
	for _, d := range durations {
		RecordTick(session, d)
	}

	assert.Equal(t, initial+3, testutil.ToFloat64(playbackTicksTotal.WithLabelValues(session)))

	histogram := playbackTickDuration.WithLabelValues(session).(prometheus.Histogram)
	var m dto.Metric
	require.NoError(t, histogram.Write(&m))
	assert.GreaterOrEqual(t, m.Histogram.GetSampleCount(), uint64(len(durations)))
	assert.InDelta(t, 0.0052, m.Histogram.GetSampleSum(), 1e-9)
}

func TestRecordCommand(t *testing.T) {
	session := "command-session"
	ok := testutil.ToFloat64(playbackCommandsTotal.WithLabelValues(session, "ok"))
	failed := testutil.ToFloat64(playbackCommandsTotal.WithLabelValues(session, "error"))

	RecordCommand(session, true)
	RecordCommand(session, true)
	RecordCommand(session, false)

	assert.Equal(t, ok+2, testutil.ToFloat64(playbackCommandsTotal.WithLabelValues(session, "ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(playbackCommandsTotal.WithLabelValues(session, "error")))
}

func TestAddSchedulerEvents(t *testing.T) {
	tests := []struct {
		kind string
		adds []uint64
		want float64
	}{
		{"frames_advanced", []uint64{1, 1, 5}, 7},
		{"frames_skipped", []uint64{0, 0}, 0},
		{"drift_corrections", []uint64{1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			session := "events-" + tt.kind
			initial := testutil.ToFloat64(playbackEventsTotal.WithLabelValues(session, tt.kind))
			for _, n := range tt.adds {
				AddSchedulerEvents(session, tt.kind, n)
			}
			assert.Equal(t, initial+tt.want, testutil.ToFloat64(playbackEventsTotal.WithLabelValues(session, tt.kind)))
		})
	}
}

func TestUpdatePlaybackState(t *testing.T) {
	session := "state-session"

	UpdatePlaybackState(session, 42, 23.976, true, false)
	assert.Equal(t, 42.0, testutil.ToFloat64(playbackFrame.WithLabelValues(session)))
	assert.Equal(t, 23.976, testutil.ToFloat64(playbackRealFPS.WithLabelValues(session)))
	assert.Equal(t, 1.0, testutil.ToFloat64(playbackPlaying.WithLabelValues(session)))
	assert.Equal(t, 0.0, testutil.ToFloat64(playbackBuffering.WithLabelValues(session)))

	UpdatePlaybackState(session, 42, 0, false, true)
	assert.Equal(t, 0.0, testutil.ToFloat64(playbackPlaying.WithLabelValues(session)))
	assert.Equal(t, 1.0, testutil.ToFloat64(playbackBuffering.WithLabelValues(session)))

	RemoveSession(session)
	assert.False(t, hasSeries(t, playbackFrame, session))
}

// hasSeries reports whether vec currently exports a series for session.
func hasSeries(t *testing.T, vec *prometheus.GaugeVec, session string) bool {
	t.Helper()
	ch := make(chan prometheus.Metric, 64)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	found := false
	for m := range ch {
		var out dto.Metric
		require.NoError(t, m.Write(&out))
		for _, l := range out.GetLabel() {
			if l.GetName() == "session_id" && l.GetValue() == session {
				found = true
			}
		}
	}
	return found
}

func TestEventMetrics(t *testing.T) {
	published := testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("play-start"))
	dropped := testutil.ToFloat64(eventsDroppedTotal.WithLabelValues("sub-1", "full"))

	IncrementEventPublished("play-start")
	IncrementEventDropped("sub-1", "full")
	IncrementEventDropped("sub-1", "full")

	assert.Equal(t, published+1, testutil.ToFloat64(eventsPublishedTotal.WithLabelValues("play-start")))
	assert.Equal(t, dropped+2, testutil.ToFloat64(eventsDroppedTotal.WithLabelValues("sub-1", "full")))
}

func TestRecordStoreOperation(t *testing.T) {
	ok := testutil.ToFloat64(storeOperationsTotal.WithLabelValues("save", "ok"))
	failed := testutil.ToFloat64(storeOperationsTotal.WithLabelValues("save", "error"))

	RecordStoreOperation("save", nil)
	RecordStoreOperation("save", errors.New("connection refused"))

	assert.Equal(t, ok+1, testutil.ToFloat64(storeOperationsTotal.WithLabelValues("save", "ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(storeOperationsTotal.WithLabelValues("save", "error")))
}

func TestRemoteSyncMetrics(t *testing.T) {
	for _, typ := range []string{"rtp", "rtcp"} {
		sent := testutil.ToFloat64(remoteSyncPacketsTotal.WithLabelValues(typ))
		errs := testutil.ToFloat64(remoteSyncErrorsTotal.WithLabelValues(typ))

		IncrementRemoteSyncPackets(typ)
		IncrementRemoteSyncErrors(typ)

		assert.Equal(t, sent+1, testutil.ToFloat64(remoteSyncPacketsTotal.WithLabelValues(typ)))
		assert.Equal(t, errs+1, testutil.ToFloat64(remoteSyncErrorsTotal.WithLabelValues(typ)))
	}
}

func TestGoroutineLifecycle(t *testing.T) {
	component := "lifecycle_test"
	initialActive := testutil.ToFloat64(activeGoroutines.WithLabelValues(component))

	for i := 0; i < 5; i++ {
		IncrementGoroutineCreated(component)
	}
	assert.Equal(t, initialActive+5, testutil.ToFloat64(activeGoroutines.WithLabelValues(component)))

	for i := 0; i < 3; i++ {
		IncrementGoroutineDestroyed(component)
	}
	assert.Equal(t, initialActive+2, testutil.ToFloat64(activeGoroutines.WithLabelValues(component)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(goroutinesCreated.WithLabelValues(component)), 5.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(goroutinesDestroyed.WithLabelValues(component)), 3.0)
}

func TestIncrementContextCancellation(t *testing.T) {
	reasons := []string{"shutdown", "deadline"}
	for _, reason := range reasons {
		initial := testutil.ToFloat64(contextCancellations.WithLabelValues("playback_driver", reason))
		IncrementContextCancellation("playback_driver", reason)
		assert.Equal(t, initial+1, testutil.ToFloat64(contextCancellations.WithLabelValues("playback_driver", reason)))
	}
}

func TestConcurrentMetricsUpdates(t *testing.T) {
	session := "concurrent-session"
	initial := testutil.ToFloat64(playbackTicksTotal.WithLabelValues(session))

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				RecordTick(session, 0.001)
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, initial+1000, testutil.ToFloat64(playbackTicksTotal.WithLabelValues(session)))
}
