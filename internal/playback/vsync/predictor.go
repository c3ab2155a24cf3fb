// Package vsync estimates the display refresh interval and predicts when the
// next refresh will happen.
package vsync

import "math"

// PhaseMode selects how the time to the next sync is derived from the last
// observed sync.
type PhaseMode int

const (
	// PhaseSnapped measures the phase against the nearest whole interval.
	// Used with refresh-quantized timing.
	PhaseSnapped PhaseMode = iota
	// PhaseCapped subtracts the time since the last sync from one interval
	// and caps the result at one interval. Used with direct timing.
	PhaseCapped
)

// PredictorConfig holds the sampling bounds.
type PredictorConfig struct {
	MaxSamples int
	MinHz      float64
	MaxHz      float64
	// ForceHz overrides every other rate source when non-zero.
	ForceHz float64
	// IgnoreDevice skips the device reported rate.
	IgnoreDevice bool
	Phase        PhaseMode
}

// DefaultPredictorConfig matches the scheduler defaults.
func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		MaxSamples: 10,
		MinHz:      20,
		MaxHz:      120,
		Phase:      PhaseCapped,
	}
}

// Predictor keeps an RMS-smoothed refresh interval from observed syncs. All
// times are seconds on the playback timer. Not safe for concurrent use; sync
// events from other goroutines arrive through a Mailbox.
type Predictor struct {
	cfg PredictorConfig

	intervals []float64 // newest first
	interval  float64

	lastSync    float64
	hasLastSync bool

	nextVSync    float64
	hasNextVSync bool

	deviceHz float64
}

func NewPredictor(cfg PredictorConfig) *Predictor {
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = 10
	}
	return &Predictor{
		cfg:       cfg,
		intervals: make([]float64, 0, cfg.MaxSamples),
	}
}

// SetDeviceHz records the refresh rate reported by the output device; zero
// means unknown.
func (p *Predictor) SetDeviceHz(hz float64) {
	p.deviceHz = hz
}

// AddSample records a sync observed at time t. Intervals implying a refresh
// slower than MinHz or faster than MaxHz are ignored, except for the very
// first interval under PhaseSnapped. Returns whether the interval was kept.
func (p *Predictor) AddSample(t float64) bool {
	first := len(p.intervals) == 0
	had := p.hasLastSync
	interval := t - p.lastSync

	p.lastSync = t
	p.hasLastSync = true

	if !had && p.cfg.Phase == PhaseCapped {
		return false
	}

	acceptAnyway := first && p.cfg.Phase == PhaseSnapped
	if !acceptAnyway && (interval > 1/p.cfg.MinHz || interval < 1/p.cfg.MaxHz) {
		return false
	}

	if len(p.intervals) == p.cfg.MaxSamples {
		p.intervals = p.intervals[:len(p.intervals)-1]
	}
	p.intervals = append(p.intervals, 0)
	copy(p.intervals[1:], p.intervals)
	p.intervals[0] = interval

	var accum float64
	for _, dt := range p.intervals {
		accum += dt * dt
	}
	p.interval = math.Sqrt(accum / float64(len(p.intervals)))
	return true
}

// SampledInterval is the RMS of the retained intervals, zero if none.
func (p *Predictor) SampledInterval() float64 {
	return p.interval
}

// Samples returns how many intervals are retained.
func (p *Predictor) Samples() int {
	return len(p.intervals)
}

// Interval picks the refresh interval to predict with: forced rate, then the
// device rate, then the sampled interval. Zero when nothing is known.
func (p *Predictor) Interval() float64 {
	switch {
	case p.cfg.ForceHz > 0:
		return 1 / p.cfg.ForceHz
	case !p.cfg.IgnoreDevice && p.deviceHz > 0:
		return 1 / p.deviceHz
	case p.hasLastSync && p.interval > 0:
		return p.interval
	}
	return 0
}

// Hz is the refresh rate implied by Interval.
func (p *Predictor) Hz() float64 {
	if iv := p.Interval(); iv > 0 {
		return 1 / iv
	}
	return 0
}

// SetNextVSync pins the next sync to an absolute time, typically announced
// by the compositor. Predictions then count down to it.
func (p *Predictor) SetNextVSync(t float64) {
	p.nextVSync = t
	p.hasNextVSync = true
}

// NextVSync returns the pinned next sync time, if any.
func (p *Predictor) NextVSync() (float64, bool) {
	return p.nextVSync, p.hasNextVSync
}

// TimeUntilSync predicts how long until the next refresh at time now.
func (p *Predictor) TimeUntilSync(now float64) float64 {
	if p.hasNextVSync {
		return math.Max(0, p.nextVSync-now)
	}

	interval := p.Interval()
	if interval == 0 {
		return 0
	}
	if !p.hasLastSync {
		return interval
	}

	if p.cfg.Phase == PhaseSnapped {
		snapped := math.Floor(now/interval+0.5) * interval
		return interval - (now - snapped)
	}

	t := interval - (now - p.lastSync)
	if t > interval {
		t = interval
	}
	return t
}

// Reset forgets the pinned sync and the last sync time. The sampled interval
// survives, since the display did not change.
func (p *Predictor) Reset() {
	p.hasNextVSync = false
	p.nextVSync = 0
	p.hasLastSync = false
	p.lastSync = 0
}
