package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Control loop metrics
	playbackTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_ticks_total",
		Help: "Scheduler ticks executed by the control loop",
	}, []string{"session_id"})

	playbackTickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playback_tick_duration_seconds",
		Help:    "Time spent in one scheduler tick",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100µs to ~200ms
	}, []string{"session_id"})

	playbackCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_commands_total",
		Help: "Commands executed between ticks",
	}, []string{"session_id", "result"})

	// Scheduler counters, labelled by what happened
	playbackEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playback_scheduler_events_total",
		Help: "Scheduler activity by kind (frames_advanced, frames_skipped, turn_arounds, buffer_waits, drift_corrections, ...)",
	}, []string{"session_id", "kind"})

	playbackRealFPS = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playback_real_fps",
		Help: "Measured presentation frame rate",
	}, []string{"session_id"})

	playbackPlaying = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playback_playing",
		Help: "1 while the session is playing",
	}, []string{"session_id"})

	playbackBuffering = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playback_buffering",
		Help: "1 while the session is paused waiting for the cache",
	}, []string{"session_id"})

	playbackFrame = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playback_frame",
		Help: "Frame currently on display",
	}, []string{"session_id"})

	// Event fan-out
	eventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_published_total",
		Help: "Notifications published on the event bus",
	}, []string{"event"})

	eventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "events_dropped_total",
		Help: "Notifications dropped because a subscriber was full or throttled",
	}, []string{"subscriber", "reason"})

	// Session store
	storeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_store_operations_total",
		Help: "Session store operations by result",
	}, []string{"operation", "result"})

	// Remote sync
	remoteSyncPacketsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_sync_packets_total",
		Help: "RTP and RTCP packets sent to remote review peers",
	}, []string{"type"})

	remoteSyncErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_sync_errors_total",
		Help: "Remote sync send failures",
	}, []string{"type"})

	// Debug metrics
	goroutinesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_created_total",
		Help: "Total number of goroutines created",
	}, []string{"component"})

	goroutinesDestroyed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_goroutines_destroyed_total",
		Help: "Total number of goroutines destroyed",
	}, []string{"component"})

	contextCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "debug_context_cancellations_total",
		Help: "Total context cancellations by reason",
	}, []string{"component", "reason"})

	activeGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "debug_goroutines_active",
		Help: "Number of active goroutines",
	}, []string{"component"})
)

// RecordTick records one scheduler tick and its duration in seconds
func RecordTick(sessionID string, seconds float64) {
	playbackTicksTotal.WithLabelValues(sessionID).Inc()
	playbackTickDuration.WithLabelValues(sessionID).Observe(seconds)
}

// RecordCommand counts a command run by the control loop
func RecordCommand(sessionID string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	playbackCommandsTotal.WithLabelValues(sessionID, result).Inc()
}

// AddSchedulerEvents adds n occurrences of kind for a session
func AddSchedulerEvents(sessionID, kind string, n uint64) {
	if n == 0 {
		return
	}
	playbackEventsTotal.WithLabelValues(sessionID, kind).Add(float64(n))
}

// UpdatePlaybackState sets the per-session gauges
func UpdatePlaybackState(sessionID string, frame int, realFPS float64, playing, buffering bool) {
	playbackFrame.WithLabelValues(sessionID).Set(float64(frame))
	playbackRealFPS.WithLabelValues(sessionID).Set(realFPS)
	playbackPlaying.WithLabelValues(sessionID).Set(boolToFloat(playing))
	playbackBuffering.WithLabelValues(sessionID).Set(boolToFloat(buffering))
}

// RemoveSession drops the per-session series once a session is closed
func RemoveSession(sessionID string) {
	playbackFrame.DeleteLabelValues(sessionID)
	playbackRealFPS.DeleteLabelValues(sessionID)
	playbackPlaying.DeleteLabelValues(sessionID)
	playbackBuffering.DeleteLabelValues(sessionID)
}

// IncrementEventPublished counts a notification on the bus
func IncrementEventPublished(event string) {
	eventsPublishedTotal.WithLabelValues(event).Inc()
}

// IncrementEventDropped counts a notification a subscriber did not receive
func IncrementEventDropped(subscriber, reason string) {
	eventsDroppedTotal.WithLabelValues(subscriber, reason).Inc()
}

// RecordStoreOperation counts a session store call
func RecordStoreOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOperationsTotal.WithLabelValues(operation, result).Inc()
}

// IncrementRemoteSyncPackets counts a packet sent; packetType is rtp or rtcp
func IncrementRemoteSyncPackets(packetType string) {
	remoteSyncPacketsTotal.WithLabelValues(packetType).Inc()
}

// IncrementRemoteSyncErrors counts a failed send
func IncrementRemoteSyncErrors(packetType string) {
	remoteSyncErrorsTotal.WithLabelValues(packetType).Inc()
}

// Debug metrics functions

// IncrementGoroutineCreated increments the goroutine creation counter
func IncrementGoroutineCreated(component string) {
	goroutinesCreated.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Inc()
}

// IncrementGoroutineDestroyed increments the goroutine destruction counter
func IncrementGoroutineDestroyed(component string) {
	goroutinesDestroyed.WithLabelValues(component).Inc()
	activeGoroutines.WithLabelValues(component).Dec()
}

// IncrementContextCancellation increments context cancellation counter
func IncrementContextCancellation(component, reason string) {
	contextCancellations.WithLabelValues(component, reason).Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
