package scheduler

import "github.com/zsiec/cadence/internal/playback/types"

// State is a copy of the playback state taken between ticks.
type State struct {
	SessionID string `json:"session_id"`

	Frame    int            `json:"frame"`
	Inc      int            `json:"inc"`
	PlayMode types.PlayMode `json:"play_mode"`
	Running  bool           `json:"running"`

	RangeStart    int `json:"range_start"`
	RangeEnd      int `json:"range_end"`
	NarrowedStart int `json:"narrowed_start"`
	NarrowedEnd   int `json:"narrowed_end"`
	InPoint       int `json:"in_point"`
	OutPoint      int `json:"out_point"`
	Shift         int `json:"shift"`

	FastStart  bool            `json:"fast_start"`
	BufferWait bool            `json:"buffer_wait"`
	Degraded   bool            `json:"buffer_degraded"`
	CacheMode  types.CacheMode `json:"cache_mode"`
	FPS        float64         `json:"fps"`
	Realtime   bool            `json:"realtime"`

	RealFPS float64 `json:"real_fps"`
	Hz      float64 `json:"hz"`
	Skipped int     `json:"skipped"`
	Timing  string  `json:"timing_model"`

	Status       types.StatusFlags `json:"status"`
	StatusText   string            `json:"status_text"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

// Stats counts scheduler activity since construction.
type Stats struct {
	Ticks            uint64 `json:"ticks"`
	FramesAdvanced   uint64 `json:"frames_advanced"`
	FramesSkipped    uint64 `json:"frames_skipped"`
	StrideRejects    uint64 `json:"stride_rejects"`
	TurnArounds      uint64 `json:"turn_arounds"`
	BufferWaits      uint64 `json:"buffer_waits"`
	BufferResumes    uint64 `json:"buffer_resumes"`
	DriftCorrections uint64 `json:"drift_corrections"`
	RedrawRequests   uint64 `json:"redraw_requests"`
	VSyncTimeouts    uint64 `json:"vsync_timeouts"`
	Panics           uint64 `json:"panics"`
}
