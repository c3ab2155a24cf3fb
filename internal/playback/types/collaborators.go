package types

import (
	"context"
	"errors"
	"time"
)

// ErrRendererUnsupported is returned by an ImageRenderer that cannot draw on
// the current device. The scheduler treats it as a no-op render.
var ErrRendererUnsupported = errors.New("renderer not supported")

// EvalResult is what the graph produced for a frame.
type EvalResult struct {
	Status EvalStatus
	Image  *Image
}

// CachePlan is propagated to the graph whenever the cache mode or the play
// range changes so its fill goroutine can re-plan.
type CachePlan struct {
	Mode       CacheMode
	InPoint    int
	OutPoint   int
	RangeStart int
	RangeEnd   int
	Inc        int
	Frame      int
	FPS        float64
}

// CacheStats is a best-effort snapshot of cache fill state.
type CacheStats struct {
	LookAheadSeconds   float64 `json:"look_ahead_seconds"`
	AudioSecondsCached float64 `json:"audio_seconds_cached"`
	CachedFrames       int     `json:"cached_frames"`
	UsedBytes          int64   `json:"used_bytes"`
	CapacityBytes      int64   `json:"capacity_bytes"`
}

// AudioConfiguration describes the audio range the graph should cache.
type AudioConfiguration struct {
	Rate            float64
	Layout          int
	FramesPerBuffer int
	FPS             float64
	Backwards       bool
	StartSample     int64
	EndSample       int64
}

// AudioDeviceState reports the audio backend's current format.
type AudioDeviceState struct {
	Rate            float64
	Layout          int // channel count
	FramesPerBuffer int // interleaved samples per hardware buffer
	Latency         float64
}

// VideoTiming describes the output device refresh.
type VideoTiming struct {
	Hz float64
}

// GraphEvaluator produces images for frames and owns the cache fill plan.
type GraphEvaluator interface {
	EvaluateAtFrame(ctx context.Context, frame int, allowLocalCache bool) (EvalResult, error)
	CheckInImage(img *Image, flushHint bool, originFrame int)
	SetCachingMode(plan CachePlan)
	RequestClearAudioCache()
	AudioConfigure(cfg AudioConfiguration)
	PrimeAudioCache(frame int, fps float64)
	IsCacheThreadRunning() bool
	IsAudioConfigured() bool
}

// FrameCache is observed without blocking the control goroutine.
type FrameCache interface {
	IsFrameCached(frame int) bool
	// CacheStats fills out and returns false if the stats are not available
	// without waiting.
	CacheStats(out *CacheStats) bool
	SetFreeMode(mode FreeMode)
	ClearAllButFrame(frame int, lock bool)
}

// AudioRenderer is the audio hardware backend.
type AudioRenderer interface {
	Play(session string) error
	Stop(session string, reason string) error
	Reset()
	DeviceState() AudioDeviceState
	PreRollDelay() float64
	HasHardwareLock() bool
}

// VideoDevice is the output display.
type VideoDevice interface {
	HasClock() bool
	ResetClock()
	NextFrameTime() float64
	NextFrame() int
	Timing() VideoTiming
}

type AuxRenderFunc func(frame int)

type AuxAudioFunc func(frame int)

// ImageRenderer draws images. lookAhead may be nil.
type ImageRenderer interface {
	Render(frame int, img *Image, aux AuxRenderFunc, auxAudio AuxAudioFunc, lookAhead *Image) error
	Prefetch(img *Image) error
	ClearState()
	Supported() bool
}

// Clock abstracts wall time so the scheduler can be driven deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
