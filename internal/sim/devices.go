package sim

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/playback/types"
	"github.com/zsiec/cadence/internal/playback/vsync"
)

const (
	audioComponent   = "sim_audio"
	displayComponent = "sim_display"
)

var ErrAudioClosed = errors.New("audio device closed")

// AudioDevice is an AudioRenderer whose output clock lags the play timer by
// its latency. While playing it reports that offset once per hardware buffer.
type AudioDevice struct {
	state   types.AudioDeviceState
	latency time.Duration
	logger  logger.Logger

	mu       sync.Mutex
	report   func(float64)
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
	seekedTo int64

	plays   atomic.Uint64
	reports atomic.Uint64
}

func NewAudioDevice(cfg config.SimulationConfig, log logger.Logger) *AudioDevice {
	rate := cfg.AudioRate
	if rate <= 0 {
		rate = 48000
	}
	channels := cfg.AudioChannels
	if channels <= 0 {
		channels = 2
	}
	fpb := cfg.FramesPerBuffer
	if fpb <= 0 {
		fpb = 512 * channels
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &AudioDevice{
		state: types.AudioDeviceState{
			Rate:            rate,
			Layout:          channels,
			FramesPerBuffer: fpb,
			Latency:         cfg.AudioLatency.Seconds(),
		},
		latency: cfg.AudioLatency,
		logger:  log.WithField("component", audioComponent),
	}
}

// OnTimeShift installs the callback that receives clock offsets, usually the
// scheduler's ReportAudioTimeShift.
func (a *AudioDevice) OnTimeShift(fn func(float64)) {
	a.mu.Lock()
	a.report = fn
	a.mu.Unlock()
}

func (a *AudioDevice) bufferPeriod() time.Duration {
	perChannel := float64(a.state.FramesPerBuffer) / float64(a.state.Layout)
	d := time.Duration(perChannel / a.state.Rate * float64(time.Second))
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	return d
}

func (a *AudioDevice) Play(session string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAudioClosed
	}
	if a.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.plays.Add(1)
	a.wg.Add(1)
	go a.clockLoop(ctx)

	a.logger.WithField("session_id", session).Debug("Simulated audio started")
	return nil
}

func (a *AudioDevice) clockLoop(ctx context.Context) {
	metrics.IncrementGoroutineCreated(audioComponent)
	defer func() {
		metrics.IncrementGoroutineDestroyed(audioComponent)
		a.wg.Done()
	}()

	ticker := time.NewTicker(a.bufferPeriod())
	defer ticker.Stop()

	a.emit()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.emit()
		}
	}
}

func (a *AudioDevice) emit() {
	a.mu.Lock()
	fn := a.report
	a.mu.Unlock()
	if fn == nil {
		return
	}
	fn(-a.latency.Seconds())
	a.reports.Add(1)
}

func (a *AudioDevice) Stop(session string, reason string) error {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
		a.wg.Wait()
		a.logger.WithFields(map[string]interface{}{
			"session_id": session,
			"reason":     reason,
		}).Debug("Simulated audio stopped")
	}
	return nil
}

func (a *AudioDevice) Reset() {}

func (a *AudioDevice) DeviceState() types.AudioDeviceState {
	return a.state
}

func (a *AudioDevice) PreRollDelay() float64 { return 0 }

func (a *AudioDevice) HasHardwareLock() bool { return false }

// SeekSample repositions the simulated output after a drift correction.
func (a *AudioDevice) SeekSample(sample int64) {
	a.mu.Lock()
	a.seekedTo = sample
	a.mu.Unlock()
}

// Close stops the clock and refuses further plays.
func (a *AudioDevice) Close() {
	_ = a.Stop("", "close")
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}

// AudioStats describes the simulated device.
type AudioStats struct {
	Plays      uint64 `json:"plays"`
	Reports    uint64 `json:"reports"`
	LastSeek   int64  `json:"last_seek"`
	BufferTime string `json:"buffer_period"`
}

func (a *AudioDevice) Stats() AudioStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AudioStats{
		Plays:      a.plays.Load(),
		Reports:    a.reports.Load(),
		LastSeek:   a.seekedTo,
		BufferTime: a.bufferPeriod().String(),
	}
}

// Display is a VideoDevice refreshing at a fixed rate. When a mailbox is
// attached it announces each refresh there, the way a compositor callback
// would.
type Display struct {
	hz     float64
	logger logger.Logger

	mu    sync.Mutex
	epoch time.Time
	now   func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
	resets atomic.Uint64
}

func NewDisplay(hz float64, log logger.Logger) *Display {
	if hz <= 0 {
		hz = 60
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Display{
		hz:     hz,
		logger: log.WithField("component", displayComponent),
		epoch:  time.Now(),
		now:    time.Now,
	}
}

func (d *Display) interval() time.Duration {
	return time.Duration(float64(time.Second) / d.hz)
}

func (d *Display) HasClock() bool { return true }

func (d *Display) ResetClock() {
	d.mu.Lock()
	d.epoch = d.now()
	d.mu.Unlock()
	d.resets.Add(1)
}

// NextFrame is the index of the next refresh since the last clock reset.
func (d *Display) NextFrame() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	elapsed := d.now().Sub(d.epoch).Seconds()
	return int(elapsed*d.hz) + 1
}

// NextFrameTime is when the next refresh happens, in seconds since the last
// clock reset.
func (d *Display) NextFrameTime() float64 {
	return float64(d.NextFrame()) / d.hz
}

func (d *Display) Timing() types.VideoTiming {
	return types.VideoTiming{Hz: d.hz}
}

// Run announces every refresh on mb until ctx is done.
func (d *Display) Run(ctx context.Context, mb *vsync.Mailbox) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		metrics.IncrementGoroutineCreated(displayComponent)
		defer func() {
			metrics.IncrementGoroutineDestroyed(displayComponent)
			d.wg.Done()
		}()

		period := d.interval()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case at := <-ticker.C:
				mb.Publish(period.Seconds(), at)
			}
		}
	}()
	d.logger.WithField("hz", d.hz).Info("Simulated display started")
}

func (d *Display) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// Renderer is an ImageRenderer that only counts what it was asked to draw.
type Renderer struct {
	mu          sync.Mutex
	unsupported bool
	lastFrame   int

	rendered   atomic.Uint64
	prefetched atomic.Uint64
	incomplete atomic.Uint64
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// SetSupported toggles whether the renderer can draw.
func (r *Renderer) SetSupported(ok bool) {
	r.mu.Lock()
	r.unsupported = !ok
	r.mu.Unlock()
}

func (r *Renderer) Render(frame int, img *types.Image, aux types.AuxRenderFunc, auxAudio types.AuxAudioFunc, lookAhead *types.Image) error {
	if !r.Supported() {
		return types.ErrRendererUnsupported
	}
	if types.StatusOf(img).Incomplete() {
		r.incomplete.Add(1)
	}
	r.mu.Lock()
	r.lastFrame = frame
	r.mu.Unlock()
	r.rendered.Add(1)

	if aux != nil {
		aux(frame)
	}
	if auxAudio != nil {
		auxAudio(frame)
	}
	return nil
}

func (r *Renderer) Prefetch(img *types.Image) error {
	r.prefetched.Add(1)
	return nil
}

func (r *Renderer) ClearState() {
	r.mu.Lock()
	r.lastFrame = 0
	r.mu.Unlock()
}

func (r *Renderer) Supported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.unsupported
}

// RendererStats describes what was drawn.
type RendererStats struct {
	Rendered   uint64 `json:"rendered"`
	Prefetched uint64 `json:"prefetched"`
	Incomplete uint64 `json:"incomplete"`
	LastFrame  int    `json:"last_frame"`
}

func (r *Renderer) Stats() RendererStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RendererStats{
		Rendered:   r.rendered.Load(),
		Prefetched: r.prefetched.Load(),
		Incomplete: r.incomplete.Load(),
		LastFrame:  r.lastFrame,
	}
}
