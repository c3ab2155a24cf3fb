// Package timing converts elapsed play time into the frame that should be on
// screen at the next display refresh.
package timing

import (
	"fmt"
	"math"
)

const (
	NameRefresh = "refresh"
	NameDirect  = "direct"

	// DefaultRatioPrecision rounds the refresh/fps ratio to tenths, which is
	// enough to express 3:2 pulldown as 25:10.
	DefaultRatioPrecision = 10.0
	// DefaultSlop widens the half-refresh comparison so rationalized ratios
	// such as 25:10 do not flip on floating point noise.
	DefaultSlop = 1.00001

	ratioEpsilon = 1e-9
)

// Params is the playback state a model needs for one prediction.
type Params struct {
	FPS        float64
	Hz         float64
	Inc        int
	Shift      int
	RangeStart int
}

func (p Params) direction() int {
	if p.Inc < 0 {
		return -1
	}
	return 1
}

// Step is the outcome of play-all-frames alignment.
type Step struct {
	Frame int
	Shift int
	// FrameShift is non-zero when the shift moved because frames were held
	// back; audio drift checks measure against it.
	FrameShift int
}

// Model is a frame timing strategy. Implementations are stateless.
type Model interface {
	Name() string
	// Quantized reports whether the model works in whole display refreshes.
	// Callers then quantize elapsed time and audio corrections to the refresh.
	Quantized() bool
	// TargetFrame returns the absolute frame for elapsed seconds of play.
	TargetFrame(elapsed float64, p Params) int
	// PlayAllFrames limits target to one stride past current and re-aligns the
	// shift so playback continues from there instead of racing to catch up.
	PlayAllFrames(current, target int, elapsed float64, p Params) Step
}

// New returns the model registered under name.
func New(name string, ratioPrecision, slop float64) (Model, error) {
	switch name {
	case NameRefresh:
		return RefreshQuantized{RatioPrecision: ratioPrecision, Slop: slop}, nil
	case NameDirect, "":
		return Direct{}, nil
	}
	return nil, fmt.Errorf("unknown timing model %q", name)
}

// Resolve applies the rules shared by every model. A target that the stride
// cannot reach is rejected with ok=false and the tick presents nothing new.
// Otherwise the target is clamped so it never moves against the play
// direction relative to prev.
func Resolve(prev, target, inc, rangeStart int) (frame int, ok bool) {
	if inc == 0 {
		inc = 1
	}
	if (target-rangeStart)%inc != 0 {
		return prev, false
	}
	if inc > 0 && target < prev {
		return prev, true
	}
	if inc < 0 && target > prev {
		return prev, true
	}
	return target, true
}

// Skipped counts the strides between the expected successor and target,
// never negative.
func Skipped(current, target, inc int) int {
	if inc == 0 {
		return 0
	}
	skipped := (target - (current + inc)) / inc
	if skipped < 0 {
		return 0
	}
	return skipped
}

// Direct rounds elapsed·fps to the nearest frame and relies on vsync
// prediction folded into elapsed by the caller.
type Direct struct{}

func (Direct) Name() string    { return NameDirect }
func (Direct) Quantized() bool { return false }

func (Direct) TargetFrame(elapsed float64, p Params) int {
	return round(elapsed*p.FPS)*p.direction() + p.Shift + p.RangeStart
}

func round(x float64) int {
	return int(math.Floor(x + 0.5))
}

// PlayAllFrames re-derives the shift from the presented frame so the next
// frame is due one frame interval from now.
func (Direct) PlayAllFrames(current, target int, elapsed float64, p Params) Step {
	next := current + p.Inc
	step := Step{Frame: target, Shift: p.Shift}

	if (p.Inc > 0 && next < target) || (p.Inc < 0 && next > target) {
		step.Frame = next
		step.FrameShift = next - target
	} else if target == current {
		return step
	}
	step.Shift = step.Frame - p.RangeStart - round(elapsed*p.FPS)*p.direction()
	return step
}

// RefreshQuantized reproduces exact pulldown cadences. The refresh/fps ratio
// is rounded to 1/RatioPrecision so e.g. 24 fps on a 60 Hz display yields a
// strict 2,3,2,3 pattern; the accumulated difference between the rounded and
// the real rate is paid back one whole frame at a time.
type RefreshQuantized struct {
	RatioPrecision float64
	Slop           float64
}

func (RefreshQuantized) Name() string    { return NameRefresh }
func (RefreshQuantized) Quantized() bool { return true }

func (m RefreshQuantized) precision() float64 {
	if m.RatioPrecision <= 0 {
		return DefaultRatioPrecision
	}
	return m.RatioPrecision
}

func (m RefreshQuantized) slop() float64 {
	if m.Slop <= 0 {
		return DefaultSlop
	}
	return m.Slop
}

// Beat is the unsigned frame count at elapsed, before direction, shift and
// range offset are applied.
func (m RefreshQuantized) Beat(elapsed, fps, hz float64) int {
	if fps <= 0 {
		return 0
	}
	if hz <= 0 {
		return round(elapsed * fps)
	}

	precision := m.precision()
	ratio := hz / fps
	ratioA := math.Floor(ratio*precision+0.5) / precision
	if ratioA <= 0 {
		ratioA = 1 / precision
	}
	fpsA := hz / ratioA

	sync := math.Floor(elapsed*hz + 0.5)
	elapsedHz := sync / hz
	rframe := int(math.Floor(elapsedHz * fpsA))

	// differences below ratioEpsilon are float noise from hz/ratioA and
	// would otherwise floor to a bogus -1
	errorFrame := 0
	if diff := fps - fpsA; math.Abs(diff) > ratioEpsilon {
		errorTime := 1 / diff
		errorFrame = int(math.Floor(elapsedHz / errorTime))
	}

	duration := float64(rframe+1)/fpsA - elapsedHz
	halfSync := 1 / (2 * hz)
	newFrame := rframe
	if duration < halfSync*m.slop() {
		newFrame = rframe + 1
	}
	return newFrame + errorFrame
}

func (m RefreshQuantized) TargetFrame(elapsed float64, p Params) int {
	return m.Beat(elapsed, p.FPS, p.Hz)*p.direction() + p.Shift + p.RangeStart
}

// PlayAllFrames holds the frame at one stride past current and moves the
// shift by the frames held back.
func (RefreshQuantized) PlayAllFrames(current, target int, _ float64, p Params) Step {
	next := current + p.Inc
	if (p.Inc > 0 && next < target) || (p.Inc < 0 && next > target) {
		held := next - target
		return Step{Frame: next, Shift: p.Shift + held, FrameShift: held}
	}
	return Step{Frame: target, Shift: p.Shift}
}
