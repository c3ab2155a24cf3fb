package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/cadence/internal/playback/driver"
)

// PlaybackProbe is the part of the playback driver the checker reads.
type PlaybackProbe interface {
	Alive(maxAge time.Duration) bool
	Snapshot() driver.Snapshot
}

// PlaybackChecker fails when the control loop stops ticking and degrades when
// the renderer cannot draw, the displayed frame is an error or playback has
// been buffering longer than maxBuffering.
type PlaybackChecker struct {
	probe        PlaybackProbe
	maxTickAge   time.Duration
	maxBuffering time.Duration
	now          func() time.Time

	mu             sync.Mutex
	bufferingSince time.Time
	details        map[string]interface{}
}

func NewPlaybackChecker(probe PlaybackProbe, maxTickAge, maxBuffering time.Duration) *PlaybackChecker {
	if maxTickAge <= 0 {
		maxTickAge = time.Second
	}
	if maxBuffering <= 0 {
		maxBuffering = 10 * time.Second
	}
	return &PlaybackChecker{
		probe:        probe,
		maxTickAge:   maxTickAge,
		maxBuffering: maxBuffering,
		now:          time.Now,
	}
}

func (p *PlaybackChecker) Name() string {
	return "playback"
}

func (p *PlaybackChecker) Check(ctx context.Context) error {
	snap := p.probe.Snapshot()
	st := snap.State

	p.mu.Lock()
	defer p.mu.Unlock()

	p.details = map[string]interface{}{
		"session_id":  st.SessionID,
		"frame":       st.Frame,
		"playing":     st.Running,
		"buffering":   st.BufferWait,
		"real_fps":    st.RealFPS,
		"status":      st.StatusText,
		"ticks":       snap.Stats.Ticks,
		"skipped":     st.Skipped,
		"cache_mode":  st.CacheMode.String(),
		"renderer_ok": snap.RendererOK,
	}

	if !p.probe.Alive(p.maxTickAge) {
		return fmt.Errorf("playback control loop has not ticked in %s", p.maxTickAge)
	}

	if st.BufferWait {
		if p.bufferingSince.IsZero() {
			p.bufferingSince = p.now()
		}
	} else {
		p.bufferingSince = time.Time{}
	}

	switch {
	case !snap.RendererOK:
		return Degraded("renderer not supported on this device")
	case st.ErrorMessage != "":
		return Degraded("displaying error frame: " + st.ErrorMessage)
	case !p.bufferingSince.IsZero() && p.now().Sub(p.bufferingSince) > p.maxBuffering:
		return Degraded(fmt.Sprintf("buffering for more than %s", p.maxBuffering))
	}
	return nil
}

func (p *PlaybackChecker) Details() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.details
}
