// Package audiosync keeps the audio sample clock aligned with the video frame
// clock during playback.
package audiosync

import (
	"fmt"
	"math"
	"sync"

	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/playback/types"
)

// Seeker is implemented by audio backends that can reposition playback to a
// sample. Drift corrections are delivered through it.
type Seeker interface {
	SeekSample(sample int64)
}

// Config holds drift handling parameters.
type Config struct {
	// DriftToleranceFrames scales the allowed divergence: a correction happens
	// when audio and video differ by more than 1/(targetFps*DriftToleranceFrames)
	// seconds.
	DriftToleranceFrames float64
	// Sensitivity is the blend weight for new time shift reports.
	Sensitivity float64
}

func DefaultConfig() Config {
	return Config{DriftToleranceFrames: 1.0, Sensitivity: 0.1}
}

// DriftInput is the per-tick state needed for a drift check.
type DriftInput struct {
	Frame      int
	RangeStart int
	// Shift is the frame offset relating elapsed time to frames.
	Shift       int
	FPS         float64
	TargetFPS   float64
	ClockMult   float64
	ElapsedPlay float64
	Forward     bool
	// QuantizeHz, when positive, snaps the corrected time down to a whole
	// display refresh before converting to samples.
	QuantizeHz float64
}

// DriftCorrection describes a snap that was applied.
type DriftCorrection struct {
	VideoTime   float64
	AudioTime   float64
	Delta       float64
	StartSample int64
}

// Coordinator owns the audio time shift shared with the audio callback
// goroutine and the start sample used to reposition audio. The shift is
// guarded by its own mutex; everything else belongs to the control goroutine.
type Coordinator struct {
	renderer types.AudioRenderer
	cfg      Config
	logger   logger.Logger

	mu    sync.Mutex
	shift float64
	valid bool

	playing     bool
	startSample int64
	corrections int
}

// New creates a coordinator. renderer may be nil, in which case playback is
// silent and every audio operation is a no-op.
func New(renderer types.AudioRenderer, cfg Config, log logger.Logger) *Coordinator {
	if cfg.DriftToleranceFrames <= 0 {
		cfg.DriftToleranceFrames = 1.0
	}
	if cfg.Sensitivity <= 0 || cfg.Sensitivity > 1 {
		cfg.Sensitivity = 0.1
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Coordinator{
		renderer: renderer,
		cfg:      cfg,
		logger:   log.WithField("component", "audio_sync"),
	}
}

// HasAudio reports whether an audio backend is attached.
func (c *Coordinator) HasAudio() bool {
	return c.renderer != nil
}

// SetTimeShift records a new audio/video offset measured by the audio
// backend. A valid shift is blended toward the new value; an invalid one is
// replaced outright so the first report after a state change lands
// immediately.
func (c *Coordinator) SetTimeShift(d, sensitivity float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid {
		c.shift = d*sensitivity + c.shift*(1-sensitivity)
		return
	}
	c.shift = d
	c.valid = true
}

// ReportTimeShift blends with the configured sensitivity.
func (c *Coordinator) ReportTimeShift(d float64) {
	c.SetTimeShift(d, c.cfg.Sensitivity)
}

// Invalidate marks the shift stale; the next report snaps.
func (c *Coordinator) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// TimeShift returns the current shift and whether it is valid.
func (c *Coordinator) TimeShift() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shift, c.valid
}

// EffectiveShift is the shift minus the backend pre-roll, optionally rounded
// down to whole refresh intervals so audio never moves video by a fraction of
// a sync.
func (c *Coordinator) EffectiveShift(quantizeHz float64) (float64, bool) {
	shift, valid := c.TimeShift()
	if !valid || c.renderer == nil {
		return 0, false
	}
	ts := shift - c.renderer.PreRollDelay()
	if quantizeHz > 0 {
		ts = math.Floor(ts*quantizeHz) / quantizeHz
	}
	return ts, true
}

// HasHardwareLock reports whether the backend clock is locked to video.
func (c *Coordinator) HasHardwareLock() bool {
	return c.renderer != nil && c.renderer.HasHardwareLock()
}

// DeviceState returns the backend format, zero without audio.
func (c *Coordinator) DeviceState() types.AudioDeviceState {
	if c.renderer == nil {
		return types.AudioDeviceState{}
	}
	return c.renderer.DeviceState()
}

// Start begins audio playback. The shift is invalidated so the first report
// from the backend snaps.
func (c *Coordinator) Start(session string) error {
	c.playing = true
	c.Invalidate()
	if c.renderer == nil {
		return nil
	}
	if err := c.renderer.Play(session); err != nil {
		c.playing = false
		return fmt.Errorf("audio play: %w", err)
	}
	return nil
}

// Stop halts audio playback. Stopping while not playing is a no-op.
func (c *Coordinator) Stop(session, reason string) error {
	if !c.playing {
		return nil
	}
	c.playing = false
	if c.renderer == nil {
		return nil
	}
	if err := c.renderer.Stop(session, reason); err != nil {
		return fmt.Errorf("audio stop: %w", err)
	}
	return nil
}

// Reset clears backend state, used when the audio cache is flushed.
func (c *Coordinator) Reset() {
	c.Invalidate()
	if c.renderer != nil {
		c.renderer.Reset()
	}
}

func (c *Coordinator) Playing() bool {
	return c.playing
}

// StartSample is the sample position of the last correction.
func (c *Coordinator) StartSample() int64 {
	return c.startSample
}

// Corrections counts drift snaps since construction.
func (c *Coordinator) Corrections() int {
	return c.corrections
}

// Tolerance is the drift allowed before a correction, in seconds.
func (c *Coordinator) Tolerance(targetFPS float64) float64 {
	if targetFPS <= 0 {
		return math.Inf(1)
	}
	return 1 / (targetFPS * c.cfg.DriftToleranceFrames)
}

// CheckDrift compares the video-implied position against the elapsed audio
// clock and snaps audio when they diverge beyond tolerance. Only forward
// playback is corrected; reverse playback drift is left alone.
func (c *Coordinator) CheckDrift(in DriftInput) (DriftCorrection, bool) {
	if c.renderer == nil || in.FPS <= 0 {
		return DriftCorrection{}, false
	}
	mult := in.ClockMult
	if mult == 0 {
		mult = 1
	}

	videoTime := float64(in.Frame-in.RangeStart) / in.FPS * mult
	audioTime := float64(in.Shift) / in.FPS * mult
	if in.Forward {
		audioTime += in.ElapsedPlay
	} else {
		audioTime -= in.ElapsedPlay
	}

	delta := math.Abs(videoTime - audioTime)
	if delta <= c.Tolerance(in.TargetFPS) || !in.Forward {
		return DriftCorrection{}, false
	}

	sample := c.SnapTo(videoTime, in.QuantizeHz)
	c.corrections++

	c.logger.WithFields(map[string]interface{}{
		"video_time":   videoTime,
		"audio_time":   audioTime,
		"delta":        delta,
		"start_sample": sample,
	}).Debug("Audio drift corrected")

	return DriftCorrection{
		VideoTime:   videoTime,
		AudioTime:   audioTime,
		Delta:       delta,
		StartSample: sample,
	}, true
}

// SnapTo repositions audio at time t, rounded to the nearest whole hardware
// buffer so the jump lands on a buffer boundary.
func (c *Coordinator) SnapTo(t, quantizeHz float64) int64 {
	if quantizeHz > 0 {
		t = math.Floor(t*quantizeHz) / quantizeHz
	}

	state := c.DeviceState()
	start := TimeToSamples(t, state.Rate)

	if state.Layout > 0 {
		if bufferSize := int64(state.FramesPerBuffer / state.Layout); bufferSize > 0 {
			mod := start % bufferSize
			start -= mod
			if mod >= bufferSize/2 {
				start += bufferSize
			}
		}
	}

	c.startSample = start
	c.Invalidate()
	if seeker, ok := c.renderer.(Seeker); ok {
		seeker.SeekSample(start)
	}
	return start
}

// AudioRange computes the sample range the graph should cache for playback
// starting at frame. Reverse playback starts one frame later so the first
// reversed frame has its audio.
func AudioRange(frame, rangeStart, rangeEnd int, fps float64, backwards bool, state types.AudioDeviceState) types.AudioConfiguration {
	cfg := types.AudioConfiguration{
		Rate:            state.Rate,
		Layout:          state.Layout,
		FramesPerBuffer: state.FramesPerBuffer,
		FPS:             fps,
		Backwards:       backwards,
	}
	if fps <= 0 {
		return cfg
	}

	offset := frame - rangeStart
	if backwards {
		offset++
	}
	cfg.StartSample = TimeToSamples(float64(offset)/fps, state.Rate)
	cfg.EndSample = TimeToSamples(float64(rangeEnd-rangeStart)/fps, state.Rate) - 1
	return cfg
}

// TimeToSamples converts seconds to a rounded sample index.
func TimeToSamples(t, rate float64) int64 {
	return int64(math.Floor(t*rate + 0.5))
}
