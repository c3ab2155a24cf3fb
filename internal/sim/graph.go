// Package sim provides headless collaborators for the playback scheduler: a
// graph whose cache fills at a bounded decode rate, an audio device that
// reports its clock offset, a display that announces refreshes and a renderer
// that counts presented frames. The service uses them when no real backend
// is attached.
package sim

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/metrics"
	"github.com/zsiec/cadence/internal/playback/types"
)

const graphComponent = "sim_graph"

// Graph implements types.GraphEvaluator and types.FrameCache.
type Graph struct {
	frameBytes int64
	capacity   int64
	limiter    *rate.Limiter
	logger     logger.Logger

	mu          sync.Mutex
	plan        types.CachePlan
	cached      map[int]int64
	used        int64
	outstanding int
	freeMode    types.FreeMode
	audio       types.AudioConfiguration
	audioReady  bool
	audioPrimed int

	replan  chan struct{}
	running atomic.Bool
	decoded atomic.Uint64
	evals   atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGraph builds a graph whose fill goroutine decodes cfg.DecodeRate frames
// per second into a cache of capacity bytes.
func NewGraph(cfg config.SimulationConfig, capacity int64, log logger.Logger) *Graph {
	limit := rate.Limit(cfg.DecodeRate)
	if cfg.DecodeRate <= 0 {
		limit = rate.Inf
	}
	burst := cfg.DecodeBurst
	if burst <= 0 {
		burst = 1
	}
	frameBytes := cfg.FrameBytes
	if frameBytes <= 0 {
		frameBytes = 1 << 20
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Graph{
		frameBytes: frameBytes,
		capacity:   capacity,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     log.WithField("component", graphComponent),
		cached:     make(map[int]int64),
		replan:     make(chan struct{}, 1),
		plan:       types.CachePlan{Mode: types.NeverCache, Inc: 1, FPS: 24},
	}
}

// Start launches the cache fill goroutine.
func (g *Graph) Start(ctx context.Context) {
	ctx, g.cancel = context.WithCancel(ctx)
	g.running.Store(true)
	g.wg.Add(1)
	go g.fillLoop(ctx)
}

func (g *Graph) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.wg.Wait()
}

func (g *Graph) fillLoop(ctx context.Context) {
	metrics.IncrementGoroutineCreated(graphComponent)
	defer func() {
		g.running.Store(false)
		metrics.IncrementGoroutineDestroyed(graphComponent)
		g.wg.Done()
	}()

	for {
		frame, ok := g.nextToFill()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-g.replan:
				continue
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return
		}
		g.store(frame)
	}
}

// nextToFill walks forward from the plan frame in the play direction and
// returns the first frame missing from the cache.
func (g *Graph) nextToFill() (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p := g.plan
	if p.Mode == types.NeverCache || p.OutPoint <= p.InPoint {
		return 0, false
	}
	if g.capacity > 0 && g.used+g.frameBytes > g.capacity {
		return 0, false
	}

	span := p.OutPoint - p.InPoint
	step := 1
	if p.Inc < 0 {
		step = -1
	}
	start := p.Frame
	if start < p.InPoint || start >= p.OutPoint {
		start = p.InPoint
	}
	for i := 0; i < span; i++ {
		f := p.InPoint + mod(start-p.InPoint+i*step, span)
		if _, ok := g.cached[f]; !ok {
			return f, true
		}
	}
	return 0, false
}

func (g *Graph) store(frame int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.cached[frame]; ok {
		return
	}
	g.cached[frame] = g.frameBytes
	g.used += g.frameBytes
	g.decoded.Add(1)
}

func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}

// EvaluateAtFrame returns a clean image for a cached frame. With a cache mode
// active an uncached frame comes back as a loading placeholder, and in buffer
// mode it also asks the scheduler to wait for a refill.
func (g *Graph) EvaluateAtFrame(ctx context.Context, frame int, allowLocalCache bool) (types.EvalResult, error) {
	if err := ctx.Err(); err != nil {
		return types.EvalResult{}, err
	}
	g.evals.Add(1)

	g.mu.Lock()
	_, hit := g.cached[frame]
	mode := g.plan.Mode
	g.outstanding++
	g.mu.Unlock()

	status := types.EvalNormal
	attrs := map[string]string{"Frame": strconv.Itoa(frame)}
	if !hit && mode != types.NeverCache {
		attrs[types.AttrRequestedFrameLoading] = "true"
		if mode == types.BufferCache {
			status = types.EvalBufferNeedsRefill
		}
	}
	img := &types.Image{
		Frame:  frame,
		Buffer: &types.FrameBuffer{Attributes: attrs, Bytes: g.frameBytes},
	}
	return types.EvalResult{Status: status, Image: img}, nil
}

func (g *Graph) CheckInImage(img *types.Image, flushHint bool, originFrame int) {
	if img == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outstanding > 0 {
		g.outstanding--
	}
	if flushHint && g.freeMode == types.ActiveFreeMode {
		g.evictLocked(img.Frame)
		g.wakeLocked()
	}
}

// SetCachingMode replaces the fill plan and wakes the fill goroutine. Leaving
// cache mode drops everything.
func (g *Graph) SetCachingMode(plan types.CachePlan) {
	g.mu.Lock()
	prev := g.plan.Mode
	g.plan = plan
	if plan.Mode == types.NeverCache && prev != types.NeverCache {
		g.cached = make(map[int]int64)
		g.used = 0
	} else {
		g.trimLocked()
	}
	g.wakeLocked()
	g.mu.Unlock()

	g.logger.WithFields(map[string]interface{}{
		"mode":      plan.Mode.String(),
		"in_point":  plan.InPoint,
		"out_point": plan.OutPoint,
		"frame":     plan.Frame,
	}).Debug("Cache plan updated")
}

// trimLocked drops frames outside the in/out window.
func (g *Graph) trimLocked() {
	for f := range g.cached {
		if f < g.plan.InPoint || f >= g.plan.OutPoint {
			g.evictLocked(f)
		}
	}
}

func (g *Graph) evictLocked(frame int) {
	if n, ok := g.cached[frame]; ok {
		delete(g.cached, frame)
		g.used -= n
	}
}

func (g *Graph) RequestClearAudioCache() {
	g.mu.Lock()
	g.audioReady = false
	g.mu.Unlock()
}

func (g *Graph) AudioConfigure(cfg types.AudioConfiguration) {
	g.mu.Lock()
	g.audio = cfg
	g.audioReady = true
	g.mu.Unlock()
}

func (g *Graph) PrimeAudioCache(frame int, fps float64) {
	g.mu.Lock()
	g.audioPrimed++
	g.mu.Unlock()
}

func (g *Graph) IsCacheThreadRunning() bool {
	return g.running.Load()
}

func (g *Graph) IsAudioConfigured() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.audioReady
}

func (g *Graph) IsFrameCached(frame int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.cached[frame]
	return ok
}

// CacheStats reports false instead of waiting when the fill goroutine holds
// the lock.
func (g *Graph) CacheStats(out *types.CacheStats) bool {
	if !g.mu.TryLock() {
		return false
	}
	defer g.mu.Unlock()

	ahead := g.contiguousAheadLocked()
	fps := g.plan.FPS
	if fps <= 0 {
		fps = 24
	}
	out.LookAheadSeconds = float64(ahead) / fps
	out.CachedFrames = len(g.cached)
	out.UsedBytes = g.used
	out.CapacityBytes = g.capacity
	if g.audioReady {
		out.AudioSecondsCached = out.LookAheadSeconds
	} else {
		out.AudioSecondsCached = 0
	}
	return true
}

// contiguousAheadLocked counts cached frames from the plan frame onward in
// the play direction, wrapping inside in/out.
func (g *Graph) contiguousAheadLocked() int {
	p := g.plan
	span := p.OutPoint - p.InPoint
	if span <= 0 {
		return 0
	}
	step := 1
	if p.Inc < 0 {
		step = -1
	}
	start := p.Frame
	if start < p.InPoint || start >= p.OutPoint {
		start = p.InPoint
	}
	n := 0
	for i := 0; i < span; i++ {
		f := p.InPoint + mod(start-p.InPoint+i*step, span)
		if _, ok := g.cached[f]; !ok {
			break
		}
		n++
	}
	return n
}

func (g *Graph) SetFreeMode(mode types.FreeMode) {
	g.mu.Lock()
	g.freeMode = mode
	g.mu.Unlock()
}

func (g *Graph) ClearAllButFrame(frame int, lock bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for f := range g.cached {
		if f != frame {
			g.evictLocked(f)
		}
	}
	g.wakeLocked()
}

// wakeLocked nudges the fill goroutine after space was freed.
func (g *Graph) wakeLocked() {
	select {
	case g.replan <- struct{}{}:
	default:
	}
}

// GraphStats describes the simulated graph.
type GraphStats struct {
	Evaluations  uint64 `json:"evaluations"`
	Decoded      uint64 `json:"decoded"`
	CachedFrames int    `json:"cached_frames"`
	Outstanding  int    `json:"outstanding"`
	AudioPrimes  int    `json:"audio_primes"`
}

func (g *Graph) Stats() GraphStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GraphStats{
		Evaluations:  g.evals.Load(),
		Decoded:      g.decoded.Load(),
		CachedFrames: len(g.cached),
		Outstanding:  g.outstanding,
		AudioPrimes:  g.audioPrimed,
	}
}
