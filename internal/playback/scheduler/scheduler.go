// Package scheduler decides, tick by tick, which frame is presented. It owns
// the playback state and composes the timing model, vsync predictor, audio
// sync, cache policy and render coordinator. A Scheduler belongs to a single
// control goroutine; only ReportAudioTimeShift and the vsync mailbox may be
// used from other goroutines.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/playback/audiosync"
	"github.com/zsiec/cadence/internal/playback/cachepolicy"
	"github.com/zsiec/cadence/internal/playback/fps"
	"github.com/zsiec/cadence/internal/playback/render"
	"github.com/zsiec/cadence/internal/playback/timing"
	"github.com/zsiec/cadence/internal/playback/types"
	"github.com/zsiec/cadence/internal/playback/vsync"
)

// Reasons carried in play-start and play-stop notifications.
const (
	ReasonBuffering  = "buffering"
	ReasonTurnAround = "turn-around"
	ReasonClose      = "close"
)

const defaultHz = 60.0

var (
	ErrInvalidRange = errors.New("invalid frame range")
	ErrInvalidFPS   = errors.New("fps must be positive")
	ErrNoGraph      = errors.New("graph and frame cache are required")
)

// Collaborators are the external subsystems a scheduler drives. Graph and
// Cache are required; the rest may be nil.
type Collaborators struct {
	Graph    types.GraphEvaluator
	Cache    types.FrameCache
	Audio    types.AudioRenderer
	Device   types.VideoDevice
	Renderer types.ImageRenderer
	Notifier types.Notifier
	Clock    types.Clock
}

type Scheduler struct {
	id      string
	cfg     config.PlaybackConfig
	logger  logger.Logger
	sampled *logger.SampledLogger

	graph    types.GraphEvaluator
	device   types.VideoDevice
	notifier types.Notifier
	clock    types.Clock

	model     timing.Model
	predictor *vsync.Predictor
	mailbox   *vsync.Mailbox
	fpsCalc   *fps.Calculator
	audio     *audiosync.Coordinator
	policy    *cachepolicy.Manager
	render    *render.Coordinator

	auxRender types.AuxRenderFunc
	auxAudio  types.AuxAudioFunc

	frame    int
	inc      int
	playMode types.PlayMode
	fps      float64
	realtime bool

	rangeStart    int
	rangeEnd      int
	narrowedStart int
	narrowedEnd   int
	inPoint       int
	outPoint      int
	shift         int

	running   bool
	playStart time.Time

	stopTimerRunning bool
	stopTimerStart   time.Time

	bufferWait      bool
	bufferWaitStart time.Time
	// set when a pause ended on timeout; an uncached successor does not pause
	// again until the cache catches up or the user jumps or stops
	bufferDegraded bool

	preEval     bool
	timerOffset float64
	wrapping    bool
	wantsRedraw bool
	closed      bool

	lastFrame      int
	lastCheckFrame int
	lastCheckTime  float64
	skipped        int
	realFPS        float64
	vsyncSeq       uint64

	audioConfig    types.AudioConfiguration
	hasAudioConfig bool

	stats Stats
}

// New builds a scheduler for session id. The play range starts as the single
// frame 1; callers set the real range with SetFrameRange.
func New(id string, cfg config.PlaybackConfig, c Collaborators, log logger.Logger) (*Scheduler, error) {
	if c.Graph == nil || c.Cache == nil {
		return nil, ErrNoGraph
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("scheduler config: %w", err)
	}

	model, err := timing.New(cfg.TimingModel, cfg.RatioPrecision, cfg.Slop)
	if err != nil {
		return nil, err
	}
	playMode, err := types.ParsePlayMode(cfg.InitialPlayMode)
	if err != nil {
		return nil, err
	}
	cacheMode, err := types.ParseCacheMode(cfg.InitialCacheMode)
	if err != nil {
		return nil, err
	}

	if log == nil {
		log = logger.NewNullLogger()
	}
	log = log.WithFields(map[string]interface{}{
		"component":  "playback_scheduler",
		"session_id": id,
	})
	if c.Notifier == nil {
		c.Notifier = types.DiscardNotifier
	}
	if c.Clock == nil {
		c.Clock = types.SystemClock
	}

	phase := vsync.PhaseCapped
	if model.Quantized() {
		phase = vsync.PhaseSnapped
	}

	s := &Scheduler{
		id:       id,
		cfg:      cfg,
		logger:   log,
		sampled:  logger.NewPlaybackLogger(log),
		graph:    c.Graph,
		device:   c.Device,
		notifier: c.Notifier,
		clock:    c.Clock,
		model:    model,
		predictor: vsync.NewPredictor(vsync.PredictorConfig{
			MaxSamples: cfg.SyncMaxSamples,
			MinHz:      cfg.SyncMinHz,
			MaxHz:      cfg.SyncMaxHz,
			ForceHz:    cfg.ForceHz,
			Phase:      phase,
		}),
		mailbox: vsync.NewMailbox(),
		fpsCalc: fps.NewCalculator(cfg.FPSSamples),
		audio: audiosync.New(c.Audio, audiosync.Config{
			DriftToleranceFrames: cfg.DriftToleranceFrames,
			Sensitivity:          cfg.AudioSensitivity,
		}, log),
		render:         render.New(c.Graph, c.Renderer, log),
		frame:          1,
		inc:            1,
		playMode:       playMode,
		fps:            cfg.FPS,
		realtime:       cfg.Realtime,
		rangeStart:     1,
		rangeEnd:       2,
		narrowedStart:  1,
		narrowedEnd:    2,
		inPoint:        1,
		outPoint:       2,
		lastFrame:      1,
		lastCheckFrame: 1,
	}

	s.policy = cachepolicy.New(c.Graph, c.Cache, cachepolicy.Config{
		MaxBufferedWait:   cfg.MaxBufferedWait,
		FastStartWait:     cfg.FastStartWait,
		BufferWaitTimeout: cfg.BufferWaitTimeout,
	}, cachepolicy.Hooks{
		ReleaseDisplay: s.render.ReleaseDisplay,
		Redraw:         s.RequestRedraw,
		Changed: func(mode types.CacheMode) {
			s.emit(types.EventCacheModeChanged, mode.String())
		},
	}, log)

	s.fpsCalc.SetTargetFPS(cfg.FPS)
	s.predictor.SetDeviceHz(s.deviceHz())
	s.policy.SetMode(cacheMode, s.plan())

	s.logger.WithFields(map[string]interface{}{
		"timing_model": model.Name(),
		"fps":          cfg.FPS,
		"play_mode":    playMode.String(),
		"cache_mode":   cacheMode.String(),
		"has_audio":    s.audio.HasAudio(),
	}).Info("Playback scheduler created")

	return s, nil
}

// ID is the session the scheduler belongs to.
func (s *Scheduler) ID() string {
	return s.id
}

// VSyncMailbox receives vsync announcements from the display goroutine.
func (s *Scheduler) VSyncMailbox() *vsync.Mailbox {
	return s.mailbox
}

// SetAuxRenderers installs callbacks invoked by the renderer after each
// presented frame.
func (s *Scheduler) SetAuxRenderers(video types.AuxRenderFunc, audio types.AuxAudioFunc) {
	s.auxRender = video
	s.auxAudio = audio
}

func (s *Scheduler) emit(name, contents string) {
	s.notifier.Notify(types.Event{
		Name:      name,
		Contents:  contents,
		SessionID: s.id,
		Frame:     s.frame,
		Time:      s.clock.Now(),
	})
}

func (s *Scheduler) plan() types.CachePlan {
	return types.CachePlan{
		Mode:       s.policy.Mode(),
		InPoint:    s.inPoint,
		OutPoint:   s.outPoint,
		RangeStart: s.rangeStart,
		RangeEnd:   s.rangeEnd,
		Inc:        s.inc,
		Frame:      s.frame,
		FPS:        s.fps,
	}
}

// propagateInOut re-sends the cache plan. With flushAudio the audio range is
// recomputed and the graph's audio cache is reset when it changed.
func (s *Scheduler) propagateInOut(flushAudio bool) {
	s.policy.Propagate(s.plan())

	if !flushAudio || !s.audio.HasAudio() || !s.graph.IsAudioConfigured() {
		return
	}
	ac := audiosync.AudioRange(s.frame, s.rangeStart, s.rangeEnd, s.fps, s.inc < 0, s.audio.DeviceState())
	if s.hasAudioConfig && ac == s.audioConfig {
		return
	}
	s.graph.RequestClearAudioCache()
	s.graph.AudioConfigure(ac)
	s.audioConfig = ac
	s.hasAudioConfig = true
}

func (s *Scheduler) deviceHz() float64 {
	if s.device != nil {
		if hz := s.device.Timing().Hz; hz > 0 {
			return hz
		}
	}
	return s.cfg.DeviceHz
}

// outputHz is the refresh rate used for timing.
func (s *Scheduler) outputHz() float64 {
	if hz := s.predictor.Hz(); hz > 0 {
		return hz
	}
	return defaultHz
}

func (s *Scheduler) quantizeHz() float64 {
	if s.model.Quantized() {
		return s.outputHz()
	}
	return 0
}

func (s *Scheduler) deviceClock() bool {
	return s.cfg.UseDeviceClock && s.device != nil && s.device.HasClock()
}

// elapsedRaw is the time on the play timer, zero when stopped.
func (s *Scheduler) elapsedRaw() float64 {
	if !s.running {
		return 0
	}
	return s.clock.Now().Sub(s.playStart).Seconds()
}

// elapsedPlaySeconds is the play timer adjusted by the audio time shift.
// Refresh-quantized timing also removes the first-vsync offset and only moves
// by whole refreshes.
func (s *Scheduler) elapsedPlaySeconds() float64 {
	e := s.elapsedRaw()
	if s.model.Quantized() {
		if s.audio.HasAudio() {
			if ts, ok := s.audio.EffectiveShift(s.outputHz()); ok {
				return e + ts - s.timerOffset
			}
			return e
		}
		return e - s.timerOffset
	}
	if ts, ok := s.audio.EffectiveShift(0); ok {
		return e + ts
	}
	return e
}

// setFrameInternal moves the frame and notifies when it changed.
func (s *Scheduler) setFrameInternal(frame int, contents string) {
	if frame == s.frame {
		return
	}
	s.frame = frame
	s.lastFrame = frame
	s.emit(types.EventFrameChanged, contents)
}

// successor is the frame after frame in the play direction, wrapped into
// [in, out).
func (s *Scheduler) successor(frame int) int {
	next := frame + s.inc
	if s.inc > 0 && next >= s.outPoint {
		return s.inPoint
	}
	if s.inc < 0 && next < s.inPoint {
		return s.outPoint - 1
	}
	return next
}

// Play starts playback. It does nothing when already playing or when the
// range holds a single frame.
func (s *Scheduler) Play(reason string) {
	s.play(reason)
}

func (s *Scheduler) play(reason string) {
	if s.closed {
		return
	}
	if reason != ReasonBuffering {
		s.propagateInOut(false)
	}
	if s.running || s.rangeEnd-s.rangeStart <= 1 {
		return
	}
	s.preEval = s.cfg.PreEval
	s.bufferWait = false

	if s.playMode == types.PlayOnce {
		if s.frame == s.outPoint-1 && s.inc > 0 {
			s.setFrameInternal(s.inPoint, reason)
		} else if s.frame == s.inPoint && s.inc < 0 {
			s.setFrameInternal(s.outPoint-1, reason)
		}
	}
	if s.frame < s.inPoint || s.frame >= s.outPoint {
		if s.inc > 0 {
			s.setFrameInternal(s.inPoint, reason)
		} else {
			s.setFrameInternal(s.outPoint-1, reason)
		}
	}

	s.emit(types.EventBeforePlayStart, reason)

	s.predictor.Reset()
	s.timerOffset = 0
	s.playStart = s.clock.Now()
	s.running = true
	s.shift = s.frame - s.rangeStart
	if s.deviceClock() {
		s.device.ResetClock()
	}

	if err := s.audio.Start(s.id); err != nil {
		s.logger.WithError(err).Warn("Audio unavailable, playing silent")
		s.emit(types.EventAudioUnavailable, err.Error())
	}

	s.policy.ApplyPlayFreeMode()
	s.stopTimerRunning = false

	s.emit(types.EventPlayStart, reason)

	s.lastCheckTime = s.elapsedPlaySeconds()
	s.lastCheckFrame = s.frame
	s.fpsCalc.Reset(s.wrapping)

	s.sampled.InfoWithCategory(logger.CategoryStateChange, "Playback started", map[string]interface{}{
		"frame":  s.frame,
		"inc":    s.inc,
		"reason": reason,
	})
}

// Stop halts playback or ends a buffering pause.
func (s *Scheduler) Stop(reason string) {
	s.bufferDegraded = false
	s.stop(reason)
}

func (s *Scheduler) stop(reason string) {
	if !s.running && !s.bufferWait {
		return
	}
	s.running = false
	s.stopTimerStart = s.clock.Now()
	s.stopTimerRunning = true
	s.preEval = false
	s.render.ReleasePreDisplay()
	if s.deviceClock() {
		s.device.ResetClock()
	}

	s.policy.ApplyStopFreeMode()

	s.shift = s.frame - s.rangeStart
	s.lastCheckTime = 0
	s.bufferWait = false

	if err := s.audio.Stop(s.id, reason); err != nil {
		s.logger.WithError(err).Warn("Audio stop failed, resetting audio")
		s.audio.Reset()
	}

	s.emit(types.EventPlayStop, reason)

	s.sampled.InfoWithCategory(logger.CategoryStateChange, "Playback stopped", map[string]interface{}{
		"frame":  s.frame,
		"reason": reason,
	})
}

// StopCompletely stops and re-arms fast start so the next buffering pause
// after a long idle period is short.
func (s *Scheduler) StopCompletely() {
	s.stop("")
	s.stopTimerRunning = false
	s.policy.MarkFastStart()
}

func (s *Scheduler) beginBufferWait() {
	s.bufferWait = true
	s.bufferWaitStart = s.clock.Now()
	s.stats.BufferWaits++
	s.emit(types.EventBufferingStarted, "")
	s.sampled.InfoWithCategory(logger.CategoryBufferWait, "Buffering", map[string]interface{}{
		"frame":      s.frame,
		"fast_start": s.policy.FastStart(),
		"target":     s.policy.ResumeTarget(),
	})
}

func (s *Scheduler) checkBufferResume() {
	reason := s.policy.ShouldResume(cachepolicy.WaitState{
		Frame:    s.frame,
		InPoint:  s.inPoint,
		OutPoint: s.outPoint,
		Inc:      s.inc,
		FPS:      s.fps,
		Waited:   s.clock.Now().Sub(s.bufferWaitStart),
	})
	if reason == cachepolicy.ResumeNone {
		return
	}

	s.bufferWait = false
	s.bufferDegraded = reason == cachepolicy.ResumeTimeout
	s.stats.BufferResumes++
	s.play(ReasonBuffering)
	s.emit(types.EventBufferingFinished, reason.String())

	fields := map[string]interface{}{"frame": s.frame, "reason": reason.String()}
	if reason == cachepolicy.ResumeTimeout {
		s.logger.WithFields(fields).Warn("Buffer wait timed out, resuming degraded")
		return
	}
	s.sampled.InfoWithCategory(logger.CategoryBufferWait, "Buffering finished", fields)
}

// Tick advances the state by one display refresh, evaluates and renders the
// frame. It never panics.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.closed {
		return
	}
	s.stats.Ticks++

	defer func() {
		if r := recover(); r != nil {
			s.stats.Panics++
			s.logger.WithField("panic", r).Error("Playback tick panicked")
			s.render.ShowError(s.frame, fmt.Sprintf("Playback Error: %v", r))
		}
	}()

	s.predictor.SetDeviceHz(s.deviceHz())
	s.advance(ctx)
	s.renderState(ctx)
	s.postRender(ctx)
	s.recordRenderState()
}

// NeedsTick reports whether a tick would do anything besides repeating the
// last image.
func (s *Scheduler) NeedsTick() bool {
	return !s.closed && (s.running || s.bufferWait || s.wantsRedraw || s.stopTimerRunning)
}

func (s *Scheduler) advance(ctx context.Context) {
	if s.bufferWait {
		s.checkBufferResume()
	}

	if s.stopTimerRunning && s.clock.Now().Sub(s.stopTimerStart) > s.cfg.StopSettleTime &&
		!s.bufferWait && !s.render.IsError() {
		s.StopCompletely()
	}

	playing := s.running
	current := s.frame
	deviceClock := s.deviceClock()
	frameShift := 0
	s.skipped = 0

	if playing {
		s.pollVSync(ctx)

		elapsed := s.elapsedPlaySeconds() + s.predictor.TimeUntilSync(s.elapsedRaw())
		if deviceClock {
			elapsed = s.device.NextFrameTime()
		}
		_, shiftValid := s.audio.TimeShift()

		if !s.audio.HasAudio() || (elapsed >= 0 && shiftValid) || deviceClock {
			p := timing.Params{
				FPS:        s.fps,
				Hz:         s.outputHz(),
				Inc:        s.inc,
				Shift:      s.shift,
				RangeStart: s.rangeStart,
			}
			target := s.model.TargetFrame(elapsed, p)
			newShift := s.shift

			switch {
			case s.bufferWait || s.realtime:
				s.skipped = timing.Skipped(s.frame, target, s.inc)
			case deviceClock:
			default:
				step := s.model.PlayAllFrames(s.frame, target, elapsed, p)
				target = step.Frame
				newShift = step.Shift
				frameShift = step.FrameShift
			}

			frame, ok := timing.Resolve(s.frame, target, s.inc, s.rangeStart)
			if !ok {
				s.stats.StrideRejects++
				return
			}
			if frame == target {
				s.shift = newShift
			}
			if frame != s.frame {
				s.stats.FramesAdvanced++
			}
			s.frame = frame

			if s.skipped > 0 {
				s.stats.FramesSkipped += uint64(s.skipped)
				s.sampled.DebugWithCategory(logger.CategoryFrameSkip, "Frames skipped", map[string]interface{}{
					"frame":   s.frame,
					"skipped": s.skipped,
				})
			}
		}
	}

	s.wrapping = false
	if playing {
		s.turnAround()
	}

	if s.frame < s.rangeStart {
		s.frame = s.rangeStart
	} else if s.frame >= s.rangeEnd {
		s.frame = s.rangeEnd - 1
	}

	if s.running {
		switch {
		case !s.policy.ShouldBeginBufferWait(s.successor(s.frame)):
			s.bufferDegraded = false
		case !s.bufferDegraded:
			s.stop(ReasonBuffering)
			s.beginBufferWait()
		}
	}

	s.evaluate(ctx, current, playing)

	clockMult := 1.0
	if s.fpsCalc.TargetFPS() > 0 {
		clockMult = s.fps / s.fpsCalc.TargetFPS()
	}
	if s.audio.HasAudio() && !deviceClock && current != s.frame &&
		((!s.realtime && frameShift != 0) || clockMult != 1) {
		s.checkDrift(frameShift, clockMult)
	}

	s.wrapping = false
}

// turnAround applies the play mode when the frame left [in, out).
func (s *Scheduler) turnAround() {
	switch {
	case s.inc > 0 && s.frame >= s.outPoint:
		s.wrapping = true
		s.stats.TurnArounds++
		s.stop(ReasonTurnAround)
		switch s.playMode {
		case types.PlayLoop:
			s.setFrameInternal(s.inPoint, ReasonTurnAround)
			s.play(ReasonTurnAround)
		case types.PlayPingPong:
			s.inc = -s.inc
			s.setFrameInternal(s.outPoint-1, ReasonTurnAround)
			s.play(ReasonTurnAround)
		case types.PlayOnce:
			s.setFrameInternal(s.outPoint-1, ReasonTurnAround)
		}
	case s.inc < 0 && s.frame < s.inPoint:
		s.wrapping = true
		s.stats.TurnArounds++
		s.stop(ReasonTurnAround)
		switch s.playMode {
		case types.PlayLoop:
			s.setFrameInternal(s.outPoint-1, ReasonTurnAround)
			s.play(ReasonTurnAround)
		case types.PlayPingPong:
			s.inc = -s.inc
			s.setFrameInternal(s.inPoint+1, ReasonTurnAround)
			s.play(ReasonTurnAround)
		case types.PlayOnce:
			s.setFrameInternal(s.inPoint, ReasonTurnAround)
		}
	default:
		return
	}

	s.sampled.DebugWithCategory(logger.CategoryTurnAround, "Turned around", map[string]interface{}{
		"frame":     s.frame,
		"inc":       s.inc,
		"play_mode": s.playMode.String(),
	})
}

func (s *Scheduler) evaluate(ctx context.Context, current int, playing bool) {
	err := s.render.EvaluateForDisplay(ctx, s.frame)
	if !errors.Is(err, render.ErrBufferNeedsRefill) {
		return
	}
	if s.cfg.MaxBufferedWait == 0 || !s.render.HasFrameBuffer() {
		return
	}

	s.stop(ReasonBuffering)
	if !s.wrapping {
		s.setFrameInternal(current, ReasonBuffering)
	}
	if playing {
		s.beginBufferWait()
	}
	// the partial image stays on screen while the cache refills
	_ = s.render.EvaluateForDisplay(ctx, s.frame)
}

func (s *Scheduler) checkDrift(frameShift int, clockMult float64) {
	shift := s.shift
	if frameShift != 0 {
		shift = frameShift
	}
	corr, ok := s.audio.CheckDrift(audiosync.DriftInput{
		Frame:       s.frame,
		RangeStart:  s.rangeStart,
		Shift:       shift,
		FPS:         s.fps,
		TargetFPS:   s.fpsCalc.TargetFPS(),
		ClockMult:   clockMult,
		ElapsedPlay: s.elapsedPlaySeconds(),
		Forward:     s.inc > 0,
		QuantizeHz:  s.quantizeHz(),
	})
	if !ok {
		return
	}
	s.stats.DriftCorrections++
	s.sampled.DebugWithCategory(logger.CategoryDrift, "Audio snapped to video", map[string]interface{}{
		"frame":        s.frame,
		"delta":        corr.Delta,
		"start_sample": corr.StartSample,
	})
}

// pollVSync consumes vsync announcements. Refresh-quantized timing waits up to
// half a refresh for the next one once a sync is pinned; direct timing only
// samples what already arrived.
func (s *Scheduler) pollVSync(ctx context.Context) {
	if !s.cfg.ExternalVSync {
		return
	}

	if !s.model.Quantized() {
		if sig, ok := s.mailbox.TryTake(s.vsyncSeq); ok {
			s.vsyncSeq = sig.Seq
			s.predictor.AddSample(sig.At.Sub(s.playStart).Seconds() + sig.Offset)
		}
		return
	}

	if _, pinned := s.predictor.NextVSync(); !pinned {
		if sig, ok := s.mailbox.TryTake(s.vsyncSeq); ok {
			s.applyVSync(sig)
		}
		return
	}

	half := time.Duration(0.5 / s.outputHz() * float64(time.Second))
	sig, ok := s.mailbox.Wait(ctx, s.vsyncSeq, half)
	if !ok {
		s.stats.VSyncTimeouts++
		s.sampled.DebugWithCategory(logger.CategoryVSync, "No vsync within half a refresh", map[string]interface{}{
			"wait_ms": half.Milliseconds(),
		})
		return
	}
	s.applyVSync(sig)
}

func (s *Scheduler) applyVSync(sig vsync.Signal) {
	s.vsyncSeq = sig.Seq
	late := s.clock.Now().Sub(sig.At).Seconds()
	s.SetNextVSyncOffset(sig.Offset - late)
}

// SetNextVSyncOffset pins the next refresh t seconds from now. The first pin
// after play start records the timer offset so frame 0 lands on that refresh.
func (s *Scheduler) SetNextVSyncOffset(t float64) {
	e := s.elapsedRaw()
	if _, pinned := s.predictor.NextVSync(); !pinned {
		s.timerOffset = e
		if s.audio.HasAudio() {
			s.audio.SetTimeShift(s.timerOffset, s.cfg.AudioSensitivity)
		}
	}
	s.predictor.SetNextVSync(e + t)
}

// AddSyncSample records a refresh observed now.
func (s *Scheduler) AddSyncSample() {
	if !s.running {
		return
	}
	s.predictor.AddSample(s.elapsedRaw())
}

// PredictedTimeUntilSync is the expected time to the next refresh.
func (s *Scheduler) PredictedTimeUntilSync() float64 {
	return s.predictor.TimeUntilSync(s.elapsedRaw())
}

// ReportAudioTimeShift is called by the audio backend with its measured
// offset. Safe for concurrent use.
func (s *Scheduler) ReportAudioTimeShift(d float64) {
	s.audio.ReportTimeShift(d)
}

func (s *Scheduler) renderState(ctx context.Context) {
	lookAhead := s.preEval && s.cfg.ThreadedUpload && s.running
	s.render.RenderFrame(ctx, s.frame, s.successor(s.frame), lookAhead, s.auxRender, s.auxAudio)
}

func (s *Scheduler) postRender(ctx context.Context) {
	if s.running && s.model.Quantized() && !s.cfg.ExternalVSync {
		s.SetNextVSyncOffset(1 / s.outputHz())
	}
	if s.running && s.preEval && !s.cfg.ThreadedUpload {
		s.render.Prefetch(ctx, s.successor(s.frame))
	}
}

// recordRenderState measures the achieved frame rate and notifies frame
// changes made by the clock.
func (s *Scheduler) recordRenderState() {
	if !s.running {
		s.fpsCalc.Reset(false)
		s.realFPS = 0
	} else {
		now := s.elapsedPlaySeconds()
		if s.deviceClock() {
			now = s.device.NextFrameTime()
		}
		d := s.frame - s.lastCheckFrame
		if d < 0 {
			d = -d
		}
		if d >= 4 {
			if dt := now - s.lastCheckTime; dt > 0 {
				s.fpsCalc.SetTargetFPS(s.fps)
				s.fpsCalc.AddSample(float64(d) / dt)
				s.realFPS = s.fpsCalc.FPS(now)
			}
			s.lastCheckTime = now
			s.lastCheckFrame = s.frame
		}
	}

	if s.running && s.lastFrame != s.frame {
		s.emit(types.EventFrameChanged, "")
	}
	s.lastFrame = s.frame
	s.wantsRedraw = false
}

// RequestRedraw asks for the current frame to be evaluated and rendered on
// the next tick.
func (s *Scheduler) RequestRedraw() {
	s.wantsRedraw = true
	s.stats.RedrawRequests++
}

// SetFrame jumps to frame, clamped to the narrowed range.
func (s *Scheduler) SetFrame(frame int) {
	if frame < s.narrowedStart {
		frame = s.narrowedStart
	}
	if frame >= s.narrowedEnd {
		frame = s.narrowedEnd - 1
	}
	s.setFrameInternal(frame, "")
	s.bufferDegraded = false

	if s.policy.Mode() == types.BufferCache {
		s.policy.MarkFastStart()
		s.propagateInOut(false)
	}

	if s.running {
		s.stop("")
		s.play("")
	} else if s.audio.HasAudio() {
		s.graph.PrimeAudioCache(s.frame, s.fps)
	}
	s.RequestRedraw()
}

// SetInc changes the stride. Zero becomes 1.
func (s *Scheduler) SetInc(inc int) {
	if inc == 0 {
		inc = 1
	}
	if s.running {
		s.stop("")
		s.policy.MarkFastStart()
		s.inc = inc
		s.play("")
	} else {
		s.inc = inc
		s.propagateInOut(true)
	}
	s.emit(types.EventPlayIncChanged, strconv.Itoa(inc))
}

func (s *Scheduler) SetPlayMode(mode types.PlayMode) {
	if mode == s.playMode {
		return
	}
	s.playMode = mode
	s.propagateInOut(true)
	s.emit(types.EventPlayModeChanged, mode.String())
}

// SetFPS changes the playback rate, flushing cached audio.
func (s *Scheduler) SetFPS(rate float64) error {
	if rate <= 0 {
		return ErrInvalidFPS
	}
	playing := s.running
	if playing {
		s.stop("")
		s.graph.RequestClearAudioCache()
	}
	s.fps = rate
	s.fpsCalc.SetTargetFPS(rate)
	s.propagateInOut(true)
	s.emit(types.EventFPSChanged, strconv.FormatFloat(rate, 'g', -1, 64))
	if playing {
		s.play("")
	}
	return nil
}

// SetRealtime selects between skipping frames to stay on time and playing
// every frame.
func (s *Scheduler) SetRealtime(realtime bool) {
	if realtime == s.realtime {
		return
	}
	playing := s.running
	if playing {
		s.stop("")
	}
	s.realtime = realtime
	contents := "play-all-frames"
	if realtime {
		contents = "realtime"
	}
	s.emit(types.EventRealtimeChanged, contents)
	if playing {
		s.play("")
	}
}

// SetFrameRange replaces the play range. The narrowed range follows it and
// in/out are reset when they covered the old range or became inverted.
func (s *Scheduler) SetFrameRange(start, end int) error {
	if end <= start {
		return fmt.Errorf("%w: [%d, %d)", ErrInvalidRange, start, end)
	}

	resetInOut := (s.inPoint == s.rangeStart && s.outPoint == s.rangeEnd)

	s.rangeStart, s.rangeEnd = start, end
	s.narrowedStart, s.narrowedEnd = start, end

	if s.frame < start {
		s.setFrameInternal(start, "")
	} else if s.frame >= end {
		s.setFrameInternal(end-1, "")
	}

	if s.inPoint < start {
		s.inPoint = start
	}
	if s.outPoint > end {
		s.outPoint = end
	}
	if resetInOut || s.inPoint >= s.outPoint {
		s.inPoint, s.outPoint = start, end
	}

	if s.audio.HasAudio() {
		s.graph.RequestClearAudioCache()
		s.hasAudioConfig = false
	}
	s.propagateInOut(true)
	s.emit(types.EventRangeChanged, fmt.Sprintf("%d %d", start, end))
	s.RequestRedraw()
	return nil
}

// SetNarrowedRange restricts the active range inside the full range; in and
// out points are pulled inside it.
func (s *Scheduler) SetNarrowedRange(start, end int) error {
	if start < s.rangeStart {
		start = s.rangeStart
	}
	if end > s.rangeEnd {
		end = s.rangeEnd
	}
	if end <= start {
		return fmt.Errorf("%w: narrowed [%d, %d)", ErrInvalidRange, start, end)
	}

	s.narrowedStart, s.narrowedEnd = start, end
	if s.outPoint > end {
		s.SetOutPoint(end)
	}
	if s.inPoint < start {
		s.SetInPoint(start)
	}
	if s.inPoint >= s.outPoint {
		s.SetInPoint(start)
	}
	s.emit(types.EventNarrowedRangeChanged, fmt.Sprintf("%d %d", start, end))
	return nil
}

// SetInPoint moves the in point, clamped to the narrowed range and below the
// out point.
func (s *Scheduler) SetInPoint(frame int) {
	if frame < s.narrowedStart {
		frame = s.narrowedStart
	}
	if frame >= s.outPoint {
		frame = s.outPoint - 1
	}
	changed := frame != s.inPoint
	s.inPoint = frame
	s.propagateInOut(true)
	if changed {
		s.emit(types.EventNewInPoint, strconv.Itoa(frame))
	}
}

// SetOutPoint moves the out point (exclusive), clamped to the narrowed range
// and above the in point.
func (s *Scheduler) SetOutPoint(frame int) {
	if frame > s.narrowedEnd {
		frame = s.narrowedEnd
	}
	if frame <= s.inPoint {
		frame = s.inPoint + 1
	}
	changed := frame != s.outPoint
	s.outPoint = frame
	s.propagateInOut(true)
	if changed {
		s.emit(types.EventNewOutPoint, strconv.Itoa(frame))
	}
}

// SetCaching switches the cache mode. Repeating the current mode is a no-op.
func (s *Scheduler) SetCaching(mode types.CacheMode) bool {
	return s.policy.SetMode(mode, s.plan())
}

func (s *Scheduler) Status() types.StatusFlags {
	return s.render.Status()
}

// CurrentStateIsIncomplete reports whether the displayed image is partial,
// loading or missing.
func (s *Scheduler) CurrentStateIsIncomplete() bool {
	return s.render.Status().Incomplete()
}

func (s *Scheduler) CurrentStateIsError() bool {
	return s.render.IsError() || s.render.Status().Has(types.StatusError)
}

func (s *Scheduler) IsPlaying() bool {
	return s.running
}

func (s *Scheduler) IsBuffering() bool {
	return s.bufferWait
}

func (s *Scheduler) RealFPS() float64 {
	return s.realFPS
}

// State copies the playback state.
func (s *Scheduler) State() State {
	status := s.render.Status()
	return State{
		SessionID:     s.id,
		Frame:         s.frame,
		Inc:           s.inc,
		PlayMode:      s.playMode,
		Running:       s.running,
		RangeStart:    s.rangeStart,
		RangeEnd:      s.rangeEnd,
		NarrowedStart: s.narrowedStart,
		NarrowedEnd:   s.narrowedEnd,
		InPoint:       s.inPoint,
		OutPoint:      s.outPoint,
		Shift:         s.shift,
		FastStart:     s.policy.FastStart(),
		BufferWait:    s.bufferWait,
		Degraded:      s.bufferDegraded,
		CacheMode:     s.policy.Mode(),
		FPS:           s.fps,
		Realtime:      s.realtime,
		RealFPS:       s.realFPS,
		Hz:            s.outputHz(),
		Skipped:       s.skipped,
		Timing:        s.model.Name(),
		Status:        status,
		StatusText:    status.String(),
		ErrorMessage:  s.render.ErrorMessage(),
	}
}

func (s *Scheduler) Stats() Stats {
	return s.stats
}

// RenderStats exposes the render coordinator counters.
func (s *Scheduler) RenderStats() render.Stats {
	return s.render.Stats()
}

// AudioCorrections counts drift snaps applied to audio.
func (s *Scheduler) AudioCorrections() int {
	return s.audio.Corrections()
}

// CacheStats is the last cache snapshot taken by the policy manager.
func (s *Scheduler) CacheStats() (types.CacheStats, bool) {
	return s.policy.Stats()
}

// RendererSupported reports whether the image renderer can draw.
func (s *Scheduler) RendererSupported() bool {
	return s.render.Supported()
}

// Close stops playback, drops to NeverCache and checks in every image the
// scheduler holds. The scheduler is unusable afterwards.
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.stop(ReasonClose)
	s.policy.SetMode(types.NeverCache, s.plan())
	s.render.Close()
	s.closed = true
	s.logger.Info("Playback scheduler closed")
}
