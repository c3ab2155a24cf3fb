// Package cachepolicy decides how the frame cache is used during playback:
// which cache mode is active, how eagerly the cache frees memory, and when a
// buffering pause has collected enough look-ahead to resume.
package cachepolicy

import (
	"math"
	"time"

	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/playback/types"
)

// DefaultFastStartWait is the look-ahead requested on the first play after a
// frame jump.
const DefaultFastStartWait = 0.5

// Config configures the manager.
type Config struct {
	// MaxBufferedWait is the look-ahead in seconds a buffering pause waits
	// for. Zero disables buffering pauses.
	MaxBufferedWait float64
	// FastStartWait caps the wait after a jump.
	FastStartWait float64
	// BufferWaitTimeout bounds any single buffering pause.
	BufferWaitTimeout time.Duration
}

// Hooks are invoked on mode changes. Any may be nil.
type Hooks struct {
	// ReleaseDisplay runs before switching to NeverCache so the held display
	// image goes back to the cache before it is cleared.
	ReleaseDisplay func()
	Redraw         func()
	Changed        func(mode types.CacheMode)
}

// ResumeReason says why a buffering pause ended.
type ResumeReason int

const (
	ResumeNone ResumeReason = iota
	ResumeLookAhead
	ResumeOutOfRange
	ResumeTurnAround
	ResumeCacheIdle
	ResumeTimeout
)

func (r ResumeReason) String() string {
	switch r {
	case ResumeLookAhead:
		return "look_ahead"
	case ResumeOutOfRange:
		return "out_of_range"
	case ResumeTurnAround:
		return "turn_around"
	case ResumeCacheIdle:
		return "cache_idle"
	case ResumeTimeout:
		return "timeout"
	}
	return "none"
}

// WaitState is the playback position a resume decision is made against.
type WaitState struct {
	Frame    int
	InPoint  int
	OutPoint int
	Inc      int
	FPS      float64
	// Waited is how long the current pause has lasted.
	Waited time.Duration
}

// Manager tracks the cache mode and fast-start state. It is owned by the
// control goroutine.
type Manager struct {
	graph  types.GraphEvaluator
	cache  types.FrameCache
	hooks  Hooks
	cfg    Config
	logger logger.Logger

	mode      types.CacheMode
	fastStart bool

	stats      types.CacheStats
	statsValid bool
}

// New creates a manager starting in NeverCache.
func New(graph types.GraphEvaluator, cache types.FrameCache, cfg Config, hooks Hooks, log logger.Logger) *Manager {
	if cfg.FastStartWait <= 0 {
		cfg.FastStartWait = DefaultFastStartWait
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	return &Manager{
		graph:  graph,
		cache:  cache,
		hooks:  hooks,
		cfg:    cfg,
		logger: log.WithField("component", "cache_policy"),
		mode:   types.NeverCache,
	}
}

func (m *Manager) Mode() types.CacheMode {
	return m.mode
}

// Caching reports whether a read-ahead mode is active.
func (m *Manager) Caching() bool {
	return m.mode != types.NeverCache
}

// SetMode switches the cache mode. Repeating the current mode does nothing;
// a change is propagated to the graph once together with plan, followed by
// one redraw and one change notification. Returns whether the mode changed.
func (m *Manager) SetMode(mode types.CacheMode, plan types.CachePlan) bool {
	if mode == m.mode {
		return false
	}

	if mode == types.NeverCache {
		if m.hooks.ReleaseDisplay != nil {
			m.hooks.ReleaseDisplay()
		}
		if m.cache != nil {
			m.cache.ClearAllButFrame(plan.Frame, true)
		}
	}

	plan.Mode = mode
	if m.graph != nil {
		m.graph.SetCachingMode(plan)
	}

	prev := m.mode
	m.mode = mode
	m.statsValid = false

	m.logger.WithFields(map[string]interface{}{
		"from":  prev.String(),
		"to":    mode.String(),
		"frame": plan.Frame,
	}).Info("Cache mode changed")

	if m.hooks.Redraw != nil {
		m.hooks.Redraw()
	}
	if m.hooks.Changed != nil {
		m.hooks.Changed(mode)
	}
	return true
}

// Propagate re-sends the current mode with a new plan, used when the range,
// stride or frame changes under an active cache.
func (m *Manager) Propagate(plan types.CachePlan) {
	if m.graph == nil {
		return
	}
	plan.Mode = m.mode
	m.graph.SetCachingMode(plan)
}

// FreeModeOnPlay is the eviction policy while playing in mode.
func FreeModeOnPlay(mode types.CacheMode) types.FreeMode {
	switch mode {
	case types.BufferCache:
		return types.ConservativeFreeMode
	case types.GreedyCache:
		return types.GreedyFreeMode
	}
	return types.ActiveFreeMode
}

// FreeModeOnStop is the eviction policy after stopping in mode. It is the
// inverse of the playing policy: a stopped buffer cache may be trimmed
// greedily, a stopped region cache should keep what it has.
func FreeModeOnStop(mode types.CacheMode) types.FreeMode {
	switch mode {
	case types.BufferCache:
		return types.GreedyFreeMode
	case types.GreedyCache:
		return types.ConservativeFreeMode
	}
	return types.ActiveFreeMode
}

// ApplyPlayFreeMode sets the playing eviction policy on the cache.
func (m *Manager) ApplyPlayFreeMode() {
	if m.cache != nil {
		m.cache.SetFreeMode(FreeModeOnPlay(m.mode))
	}
}

// ApplyStopFreeMode sets the stopped eviction policy on the cache.
func (m *Manager) ApplyStopFreeMode() {
	if m.cache != nil {
		m.cache.SetFreeMode(FreeModeOnStop(m.mode))
	}
}

// MarkFastStart arms a short wait for the next buffering pause.
func (m *Manager) MarkFastStart() {
	m.fastStart = true
}

func (m *Manager) FastStart() bool {
	return m.fastStart
}

// ResumeTarget is the look-ahead in seconds the current pause waits for.
func (m *Manager) ResumeTarget() float64 {
	if m.fastStart {
		return math.Min(m.cfg.FastStartWait, m.cfg.MaxBufferedWait)
	}
	return m.cfg.MaxBufferedWait
}

// ShouldBeginBufferWait reports whether playback must pause because the frame
// after the current one is not cached yet. Only buffer mode pauses.
func (m *Manager) ShouldBeginBufferWait(successor int) bool {
	if m.mode != types.BufferCache || m.cfg.MaxBufferedWait <= 0 || m.cache == nil {
		return false
	}
	if m.graph != nil && !m.graph.IsCacheThreadRunning() {
		return false
	}
	return !m.cache.IsFrameCached(successor)
}

// ShouldResume decides whether a buffering pause can end. A resume clears
// fast start so only one short wait happens per jump. A pause that outlives
// BufferWaitTimeout resumes regardless.
func (m *Manager) ShouldResume(ws WaitState) ResumeReason {
	reason := m.resumeReason(ws)
	if reason != ResumeNone {
		m.fastStart = false
	}
	return reason
}

func (m *Manager) resumeReason(ws WaitState) ResumeReason {
	if m.graph != nil && !m.graph.IsCacheThreadRunning() {
		return ResumeCacheIdle
	}
	if m.cfg.BufferWaitTimeout > 0 && ws.Waited >= m.cfg.BufferWaitTimeout {
		return ResumeTimeout
	}

	target := m.ResumeTarget()
	lookAhead := 1.0
	turnAround := 0.0
	if target > 0 {
		m.RefreshStats()
		lookAhead = m.stats.LookAheadSeconds
		if ws.FPS > 0 {
			if ws.Inc > 0 {
				turnAround = float64(ws.OutPoint-1-ws.Frame) / ws.FPS
			} else {
				turnAround = float64(ws.Frame-ws.InPoint) / ws.FPS
			}
		}
	}

	switch {
	case lookAhead >= target:
		return ResumeLookAhead
	case ws.Frame >= ws.OutPoint || ws.Frame < ws.InPoint:
		return ResumeOutOfRange
	case lookAhead >= turnAround:
		return ResumeTurnAround
	}
	return ResumeNone
}

// RefreshStats pulls a stats snapshot without blocking. It reports whether
// the snapshot is current; on failure the previous snapshot is kept.
func (m *Manager) RefreshStats() bool {
	if m.cache == nil {
		return false
	}
	var out types.CacheStats
	if !m.cache.CacheStats(&out) {
		return false
	}
	m.stats = out
	m.statsValid = true
	return true
}

// Stats returns the last snapshot and whether one was ever taken for the
// current mode.
func (m *Manager) Stats() (types.CacheStats, bool) {
	return m.stats, m.statsValid
}
