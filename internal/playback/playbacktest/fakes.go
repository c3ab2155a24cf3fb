// Package playbacktest provides in-memory collaborators for exercising the
// playback packages without a graph, audio hardware or a display.
package playbacktest

import (
	"context"
	"sync"
	"time"

	"github.com/zsiec/cadence/internal/playback/types"
)

// Graph is a GraphEvaluator and FrameCache that records every call.
type Graph struct {
	mu sync.Mutex

	// EvalFunc overrides the default evaluation, which returns a clean image.
	EvalFunc func(frame int) (types.EvalResult, error)

	CacheAll     bool
	Cached       map[int]bool
	CacheRunning bool
	StatsOK      bool
	LookAhead    float64
	AudioReady   bool

	Evaluations  []int
	LocalCache   []bool
	CheckIns     []int
	Plans        []types.CachePlan
	FreeModes    []types.FreeMode
	ClearedBut   []int
	AudioConfigs []types.AudioConfiguration
	AudioClears  int
	AudioPrimes  []int

	outstanding    map[*types.Image]bool
	checkedInTwice int
}

// NewGraph returns a graph whose cache thread is running and holds every
// frame.
func NewGraph() *Graph {
	return &Graph{
		CacheAll:     true,
		Cached:       map[int]bool{},
		CacheRunning: true,
		StatsOK:      true,
		AudioReady:   true,
		outstanding:  map[*types.Image]bool{},
	}
}

// CleanImage is a single buffer image with no status attributes.
func CleanImage(frame int) *types.Image {
	return &types.Image{Frame: frame, Buffer: &types.FrameBuffer{Attributes: map[string]string{}, Bytes: 1 << 20}}
}

func (g *Graph) EvaluateAtFrame(ctx context.Context, frame int, allowLocalCache bool) (types.EvalResult, error) {
	g.mu.Lock()
	g.Evaluations = append(g.Evaluations, frame)
	g.LocalCache = append(g.LocalCache, allowLocalCache)
	fn := g.EvalFunc
	g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return types.EvalResult{}, err
	}

	var (
		res types.EvalResult
		err error
	)
	if fn != nil {
		res, err = fn(frame)
	} else {
		res = types.EvalResult{Status: types.EvalNormal, Image: CleanImage(frame)}
	}

	if res.Image != nil {
		g.mu.Lock()
		g.outstanding[res.Image] = true
		g.mu.Unlock()
	}
	return res, err
}

func (g *Graph) CheckInImage(img *types.Image, flushHint bool, originFrame int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.outstanding[img] {
		g.checkedInTwice++
		return
	}
	delete(g.outstanding, img)
	g.CheckIns = append(g.CheckIns, img.Frame)
}

func (g *Graph) SetCachingMode(plan types.CachePlan) {
	g.mu.Lock()
	g.Plans = append(g.Plans, plan)
	g.mu.Unlock()
}

func (g *Graph) RequestClearAudioCache() {
	g.mu.Lock()
	g.AudioClears++
	g.mu.Unlock()
}

func (g *Graph) AudioConfigure(cfg types.AudioConfiguration) {
	g.mu.Lock()
	g.AudioConfigs = append(g.AudioConfigs, cfg)
	g.AudioReady = true
	g.mu.Unlock()
}

func (g *Graph) PrimeAudioCache(frame int, fps float64) {
	g.mu.Lock()
	g.AudioPrimes = append(g.AudioPrimes, frame)
	g.mu.Unlock()
}

func (g *Graph) IsCacheThreadRunning() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.CacheRunning
}

func (g *Graph) IsAudioConfigured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.AudioReady
}

func (g *Graph) IsFrameCached(frame int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.CacheAll || g.Cached[frame]
}

func (g *Graph) CacheStats(out *types.CacheStats) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.StatsOK {
		return false
	}
	out.LookAheadSeconds = g.LookAhead
	out.CachedFrames = len(g.Cached)
	return true
}

func (g *Graph) SetFreeMode(mode types.FreeMode) {
	g.mu.Lock()
	g.FreeModes = append(g.FreeModes, mode)
	g.mu.Unlock()
}

func (g *Graph) ClearAllButFrame(frame int, lock bool) {
	g.mu.Lock()
	g.ClearedBut = append(g.ClearedBut, frame)
	g.mu.Unlock()
}

// Set updates fields under the graph lock.
func (g *Graph) Set(fn func(g *Graph)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

// Outstanding counts images handed out and not yet checked in.
func (g *Graph) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.outstanding)
}

// DoubleCheckIns counts check-ins of images that were not outstanding.
func (g *Graph) DoubleCheckIns() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkedInTwice
}

func (g *Graph) PlanCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Plans)
}

func (g *Graph) LastFreeMode() (types.FreeMode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.FreeModes) == 0 {
		return 0, false
	}
	return g.FreeModes[len(g.FreeModes)-1], true
}

// Audio is an AudioRenderer with a settable device state.
type Audio struct {
	mu sync.Mutex

	State    types.AudioDeviceState
	PreRoll  float64
	PlayErr  error
	Plays    int
	Stops    int
	Resets   int
	Seeks    []int64
	Hardware bool
}

func NewAudio() *Audio {
	return &Audio{State: types.AudioDeviceState{Rate: 48000, Layout: 2, FramesPerBuffer: 2048}}
}

func (a *Audio) Play(string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Plays++
	return a.PlayErr
}

func (a *Audio) Stop(string, string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Stops++
	return nil
}

func (a *Audio) Reset() {
	a.mu.Lock()
	a.Resets++
	a.mu.Unlock()
}

func (a *Audio) DeviceState() types.AudioDeviceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.State
}

func (a *Audio) PreRollDelay() float64 { return a.PreRoll }
func (a *Audio) HasHardwareLock() bool { return a.Hardware }

func (a *Audio) SeekSample(s int64) {
	a.mu.Lock()
	a.Seeks = append(a.Seeks, s)
	a.mu.Unlock()
}

// Renderer is an ImageRenderer that records presented frames.
type Renderer struct {
	mu sync.Mutex

	RenderErr   error
	PanicOn     int
	panicArmed  bool
	Unsupported bool

	Rendered   []int
	LookAheads []int
	Prefetched []int
	Cleared    int
}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// PanicAt makes the next render of frame panic.
func (r *Renderer) PanicAt(frame int) {
	r.mu.Lock()
	r.PanicOn = frame
	r.panicArmed = true
	r.mu.Unlock()
}

func (r *Renderer) Render(frame int, img *types.Image, aux types.AuxRenderFunc, auxAudio types.AuxAudioFunc, lookAhead *types.Image) error {
	r.mu.Lock()
	if r.panicArmed && r.PanicOn == frame {
		r.panicArmed = false
		r.mu.Unlock()
		panic("render exploded")
	}
	r.Rendered = append(r.Rendered, frame)
	if lookAhead != nil {
		r.LookAheads = append(r.LookAheads, lookAhead.Frame)
	}
	err := r.RenderErr
	r.mu.Unlock()

	if aux != nil {
		aux(frame)
	}
	if auxAudio != nil {
		auxAudio(frame)
	}
	return err
}

func (r *Renderer) Prefetch(img *types.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if img != nil {
		r.Prefetched = append(r.Prefetched, img.Frame)
	}
	return nil
}

func (r *Renderer) ClearState() {
	r.mu.Lock()
	r.Cleared++
	r.mu.Unlock()
}

func (r *Renderer) Supported() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.Unsupported
}

func (r *Renderer) Frames() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.Rendered...)
}

// Device is a VideoDevice with a fixed refresh rate.
type Device struct {
	Hz          float64
	Clock       bool
	NextTime    float64
	Next        int
	ClockResets int
}

func (d *Device) HasClock() bool            { return d.Clock }
func (d *Device) ResetClock()               { d.ClockResets++ }
func (d *Device) NextFrameTime() float64    { return d.NextTime }
func (d *Device) NextFrame() int            { return d.Next }
func (d *Device) Timing() types.VideoTiming { return types.VideoTiming{Hz: d.Hz} }

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// AdvanceSeconds moves the clock by a fractional number of seconds.
func (c *Clock) AdvanceSeconds(s float64) {
	c.Advance(time.Duration(s * float64(time.Second)))
}

// Notifier records every event.
type Notifier struct {
	mu     sync.Mutex
	events []types.Event
}

func (n *Notifier) Notify(ev types.Event) {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.mu.Unlock()
}

func (n *Notifier) Events() []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]types.Event(nil), n.events...)
}

// Named returns the events with the given name.
func (n *Notifier) Named(name string) []types.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []types.Event
	for _, ev := range n.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

func (n *Notifier) Reset() {
	n.mu.Lock()
	n.events = nil
	n.mu.Unlock()
}
