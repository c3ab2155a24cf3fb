// Package driver runs a scheduler on its own goroutine. Commands from the API
// are queued and executed between ticks so the scheduler never sees two
// callers at once.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/playback/render"
	"github.com/zsiec/cadence/internal/playback/scheduler"
	"github.com/zsiec/cadence/internal/playback/types"
	"github.com/zsiec/cadence/internal/playback/vsync"
)

const component = "playback_driver"

var (
	ErrQueueFull = errors.New("playback command queue is full")
	ErrStopped   = errors.New("playback driver is stopped")
)

// Config controls the loop cadence.
type Config struct {
	// TickInterval overrides the interval derived from Hz.
	TickInterval time.Duration
	Hz           float64
	QueueSize    int
}

func (c Config) interval() time.Duration {
	if c.TickInterval > 0 {
		return c.TickInterval
	}
	hz := c.Hz
	if hz <= 0 {
		hz = 60
	}
	// Tick at twice the refresh so a presentation deadline is never missed by
	// a whole interval.
	return time.Duration(float64(time.Second) / (hz * 2))
}

// Snapshot is the published view of a session, refreshed after every tick and
// command.
type Snapshot struct {
	State            scheduler.State    `json:"state"`
	Stats            scheduler.Stats    `json:"stats"`
	Render           render.Stats       `json:"render"`
	Cache            types.CacheStats   `json:"cache"`
	CacheValid       bool               `json:"cache_valid"`
	AudioCorrections int                `json:"audio_corrections"`
	VSync            vsync.MailboxStats `json:"vsync"`
	RendererOK       bool               `json:"renderer_supported"`
	TakenAt          time.Time          `json:"taken_at"`
}

type command struct {
	fn   func(*scheduler.Scheduler) error
	done chan error
	// query commands only read; they are not counted or published
	query bool
}

// Driver owns the control goroutine for one scheduler.
type Driver struct {
	sched    *scheduler.Scheduler
	interval time.Duration
	logger   logger.Logger

	commands chan command
	snapshot atomic.Pointer[Snapshot]
	lastTick atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool

	lastStats scheduler.Stats
}

// New wraps s. The driver takes ownership of s and closes it on Stop.
func New(s *scheduler.Scheduler, cfg Config, log logger.Logger) *Driver {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	d := &Driver{
		sched:    s,
		interval: cfg.interval(),
		logger: log.WithFields(map[string]interface{}{
			"component":  component,
			"session_id": s.ID(),
		}),
		commands: make(chan command, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	d.publish()
	return d
}

// Start launches the control loop.
func (d *Driver) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.wg.Add(1)
	go d.controlLoop()

	d.logger.WithField("tick_interval", d.interval.String()).Info("Playback driver started")
}

// Stop cancels the loop and waits for it to close the scheduler.
func (d *Driver) Stop() {
	if !d.stopped.CompareAndSwap(false, true) {
		return
	}
	d.cancel()
	if d.started.Load() {
		d.wg.Wait()
	} else {
		d.sched.Close()
	}
	metrics.RemoveSession(d.sched.ID())
	d.logger.Info("Playback driver stopped")
}

// Submit queues fn without waiting for it to run.
func (d *Driver) Submit(fn func(*scheduler.Scheduler)) error {
	return d.enqueue(command{fn: func(s *scheduler.Scheduler) error {
		fn(s)
		return nil
	}})
}

// Do runs fn on the control goroutine and returns its error.
func (d *Driver) Do(ctx context.Context, fn func(*scheduler.Scheduler) error) error {
	cmd := command{fn: fn, done: make(chan error, 1)}
	if err := d.enqueue(cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-d.ctx.Done():
		return ErrStopped
	}
}

// State reads the scheduler state on the control goroutine, after every
// command queued before it. Event subscribers use it because an event fires
// while its command is still running, before the snapshot is republished. A
// driver whose loop is not running answers from the last snapshot.
func (d *Driver) State(ctx context.Context) (scheduler.State, error) {
	if !d.started.Load() || d.stopped.Load() {
		return d.Snapshot().State, nil
	}

	var st scheduler.State
	cmd := command{
		fn: func(s *scheduler.Scheduler) error {
			st = s.State()
			return nil
		},
		done:  make(chan error, 1),
		query: true,
	}
	if err := d.enqueue(cmd); err != nil {
		if errors.Is(err, ErrStopped) {
			return d.Snapshot().State, nil
		}
		return scheduler.State{}, err
	}
	select {
	case err := <-cmd.done:
		if errors.Is(err, ErrStopped) {
			return d.Snapshot().State, nil
		}
		return st, err
	case <-ctx.Done():
		return scheduler.State{}, ctx.Err()
	case <-d.ctx.Done():
		return d.Snapshot().State, nil
	}
}

func (d *Driver) enqueue(cmd command) error {
	if d.stopped.Load() {
		return ErrStopped
	}
	select {
	case d.commands <- cmd:
		return nil
	default:
		return ErrQueueFull
	}
}

// Snapshot returns the latest published snapshot. It never blocks.
func (d *Driver) Snapshot() Snapshot {
	return *d.snapshot.Load()
}

// LastTick is when the loop last ran a tick.
func (d *Driver) LastTick() time.Time {
	ns := d.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Alive reports whether the loop has ticked within maxAge. An idle scheduler
// that needs no ticks still counts as alive while the loop runs.
func (d *Driver) Alive(maxAge time.Duration) bool {
	if !d.started.Load() || d.stopped.Load() {
		return false
	}
	last := d.LastTick()
	return !last.IsZero() && time.Since(last) <= maxAge
}

func (d *Driver) controlLoop() {
	metrics.IncrementGoroutineCreated(component)
	defer func() {
		d.sched.Close()
		d.publish()
		metrics.IncrementGoroutineDestroyed(component)
		d.wg.Done()
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			metrics.IncrementContextCancellation(component, "stop")
			d.drainCommands()
			return

		case cmd := <-d.commands:
			d.run(cmd)

		case <-ticker.C:
			d.tick()
		}
	}
}

func (d *Driver) run(cmd command) {
	if cmd.query {
		cmd.done <- d.safeRun(cmd.fn)
		return
	}
	err := d.safeRun(cmd.fn)
	metrics.RecordCommand(d.sched.ID(), err == nil)
	if err != nil {
		d.logger.WithError(err).Debug("Playback command failed")
	}
	d.publish()
	if cmd.done != nil {
		cmd.done <- err
	}
}

func (d *Driver) safeRun(fn func(*scheduler.Scheduler) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("playback command panicked: %v", r)
		}
	}()
	return fn(d.sched)
}

// drainCommands fails anything still queued so Do callers are released.
func (d *Driver) drainCommands() {
	for {
		select {
		case cmd := <-d.commands:
			if cmd.done != nil {
				cmd.done <- ErrStopped
			}
		default:
			return
		}
	}
}

func (d *Driver) tick() {
	now := time.Now()
	d.lastTick.Store(now.UnixNano())
	if !d.sched.NeedsTick() {
		return
	}

	d.sched.Tick(d.ctx)
	metrics.RecordTick(d.sched.ID(), time.Since(now).Seconds())
	d.publish()
}

func (d *Driver) publish() {
	s := d.sched
	cache, ok := s.CacheStats()
	snap := &Snapshot{
		State:            s.State(),
		Stats:            s.Stats(),
		Render:           s.RenderStats(),
		Cache:            cache,
		CacheValid:       ok,
		AudioCorrections: s.AudioCorrections(),
		VSync:            s.VSyncMailbox().Stats(),
		RendererOK:       s.RendererSupported(),
		TakenAt:          time.Now(),
	}
	d.snapshot.Store(snap)
	d.recordMetrics(snap)
}

func (d *Driver) recordMetrics(snap *Snapshot) {
	id := d.sched.ID()
	cur, prev := snap.Stats, d.lastStats
	metrics.AddSchedulerEvents(id, "frames_advanced", cur.FramesAdvanced-prev.FramesAdvanced)
	metrics.AddSchedulerEvents(id, "frames_skipped", cur.FramesSkipped-prev.FramesSkipped)
	metrics.AddSchedulerEvents(id, "stride_rejects", cur.StrideRejects-prev.StrideRejects)
	metrics.AddSchedulerEvents(id, "turn_arounds", cur.TurnArounds-prev.TurnArounds)
	metrics.AddSchedulerEvents(id, "buffer_waits", cur.BufferWaits-prev.BufferWaits)
	metrics.AddSchedulerEvents(id, "buffer_resumes", cur.BufferResumes-prev.BufferResumes)
	metrics.AddSchedulerEvents(id, "drift_corrections", cur.DriftCorrections-prev.DriftCorrections)
	metrics.AddSchedulerEvents(id, "vsync_timeouts", cur.VSyncTimeouts-prev.VSyncTimeouts)
	metrics.AddSchedulerEvents(id, "panics", cur.Panics-prev.Panics)
	d.lastStats = cur

	if d.stopped.Load() {
		return
	}
	metrics.UpdatePlaybackState(id, snap.State.Frame, snap.State.RealFPS, snap.State.Running, snap.State.BufferWait)
}
