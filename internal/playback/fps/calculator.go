// Package fps estimates the frame rate playback actually achieves.
package fps

import "math"

const (
	// DefaultSamples is the ring size used by the scheduler.
	DefaultSamples = 72

	minWeight      = 0.1
	updateInterval = 0.2
	snapTolerance  = 0.125
)

// Calculator smooths noisy instantaneous fps samples. Samples far from the
// target rate get less weight, so a single hitch does not swing the reported
// value. Not safe for concurrent use.
type Calculator struct {
	samples []float64
	next    int
	count   int

	target     float64
	fps        float64
	lastUpdate float64
	warmup     bool
}

// NewCalculator creates a calculator holding up to n samples.
func NewCalculator(n int) *Calculator {
	if n <= 0 {
		n = DefaultSamples
	}
	return &Calculator{
		samples: make([]float64, n),
		warmup:  true,
	}
}

// SetTargetFPS changes the rate samples are weighted against. A new target
// clears the history and reports the target until new samples arrive.
func (c *Calculator) SetTargetFPS(target float64) {
	if target == c.target {
		return
	}
	c.Reset(false)
	c.target = target
	c.fps = target
}

func (c *Calculator) TargetFPS() float64 {
	return c.target
}

// AddSample records an instantaneous fps measurement. The first sample after
// a reset is dropped: it spans the stall that caused the reset.
func (c *Calculator) AddSample(sample float64) {
	if c.warmup {
		c.warmup = false
		return
	}
	if math.IsNaN(sample) || math.IsInf(sample, 0) {
		return
	}

	c.samples[c.next] = sample
	c.next = (c.next + 1) % len(c.samples)
	if c.count < len(c.samples) {
		c.count++
	}
}

// FPS returns the smoothed rate at time now (seconds). The estimate is
// recomputed at most every 0.2s.
func (c *Calculator) FPS(now float64) float64 {
	if c.count > 0 && math.Abs(now-c.lastUpdate) > updateInterval {
		var sum, weights float64
		for i := 0; i < c.count; i++ {
			s := c.samples[i]
			w := minWeight
			if c.target > 0 {
				w = math.Max(math.Abs(s-c.target)/c.target, minWeight)
			}
			sum += s / w
			weights += 1 / w
		}
		c.fps = sum / weights
		c.lastUpdate = now
	}

	if c.target > 0 && math.Abs(c.fps-c.target) < snapTolerance {
		return c.target
	}
	return c.fps
}

// Samples returns the number of samples currently held.
func (c *Calculator) Samples() int {
	return c.count
}

// Reset re-arms the warm-up discard. A hard reset also clears the history;
// a soft reset keeps it, which is used across loop wrap-arounds.
func (c *Calculator) Reset(soft bool) {
	if !soft {
		c.count = 0
		c.next = 0
		c.lastUpdate = 0
		c.fps = c.target
	}
	c.warmup = true
}
