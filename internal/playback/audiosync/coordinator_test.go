package audiosync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/playback/types"
)

type fakeAudio struct {
	state    types.AudioDeviceState
	preRoll  float64
	playErr  error
	plays    int
	stops    int
	resets   int
	seeks    []int64
	hardware bool
}

func (f *fakeAudio) Play(string) error {
	f.plays++
	return f.playErr
}

func (f *fakeAudio) Stop(string, string) error {
	f.stops++
	return nil
}

func (f *fakeAudio) Reset()                              { f.resets++ }
func (f *fakeAudio) DeviceState() types.AudioDeviceState { return f.state }
func (f *fakeAudio) PreRollDelay() float64               { return f.preRoll }
func (f *fakeAudio) HasHardwareLock() bool               { return f.hardware }
func (f *fakeAudio) SeekSample(s int64)                  { f.seeks = append(f.seeks, s) }

func stereo48k() types.AudioDeviceState {
	return types.AudioDeviceState{Rate: 48000, Layout: 2, FramesPerBuffer: 2048}
}

func TestTimeShift_SnapsThenBlends(t *testing.T) {
	c := New(&fakeAudio{}, DefaultConfig(), nil)

	_, valid := c.TimeShift()
	assert.False(t, valid)

	c.SetTimeShift(0.5, 0.1)
	shift, valid := c.TimeShift()
	require.True(t, valid)
	assert.Equal(t, 0.5, shift, "first report snaps")

	c.SetTimeShift(1.5, 0.1)
	shift, _ = c.TimeShift()
	assert.InDelta(t, 0.6, shift, 1e-12)

	c.Invalidate()
	c.SetTimeShift(2.0, 0.1)
	shift, _ = c.TimeShift()
	assert.Equal(t, 2.0, shift)
}

func TestStart_InvalidatesShift(t *testing.T) {
	audio := &fakeAudio{}
	c := New(audio, DefaultConfig(), nil)
	c.ReportTimeShift(0.25)

	require.NoError(t, c.Start("s1"))
	_, valid := c.TimeShift()
	assert.False(t, valid)
	assert.True(t, c.Playing())
	assert.Equal(t, 1, audio.plays)

	require.NoError(t, c.Stop("s1", "user"))
	require.NoError(t, c.Stop("s1", "user"))
	assert.Equal(t, 1, audio.stops, "second stop is a no-op")
}

func TestStart_WrapsBackendError(t *testing.T) {
	boom := errors.New("device busy")
	c := New(&fakeAudio{playErr: boom}, DefaultConfig(), nil)

	err := c.Start("s1")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Playing())
}

func TestNoRenderer_IsSilent(t *testing.T) {
	c := New(nil, DefaultConfig(), nil)

	assert.False(t, c.HasAudio())
	require.NoError(t, c.Start("s"))
	require.NoError(t, c.Stop("s", "done"))
	_, ok := c.EffectiveShift(60)
	assert.False(t, ok)
	_, corrected := c.CheckDrift(DriftInput{Frame: 100, FPS: 24, TargetFPS: 24, Forward: true})
	assert.False(t, corrected)
}

func TestEffectiveShift_QuantizesToRefresh(t *testing.T) {
	c := New(&fakeAudio{preRoll: 0.01}, DefaultConfig(), nil)
	c.ReportTimeShift(0.05)

	ts, ok := c.EffectiveShift(0)
	require.True(t, ok)
	assert.InDelta(t, 0.04, ts, 1e-12)

	ts, _ = c.EffectiveShift(60)
	assert.InDelta(t, 2.0/60, ts, 1e-12)
}

func TestSnapTo_RoundsToBufferBoundary(t *testing.T) {
	audio := &fakeAudio{state: stereo48k()}
	c := New(audio, DefaultConfig(), nil)

	// 48000 % 1024 = 896, past half a buffer, so round up
	assert.Equal(t, int64(48128), c.SnapTo(1.0, 0))

	// 0.5s = 24000 samples, 24000 % 1024 = 448, round down
	assert.Equal(t, int64(23552), c.SnapTo(0.5, 0))

	assert.Equal(t, []int64{48128, 23552}, audio.seeks)
	assert.Equal(t, int64(23552), c.StartSample())
}

func TestCheckDrift_ForwardSnap(t *testing.T) {
	audio := &fakeAudio{state: stereo48k()}
	c := New(audio, DefaultConfig(), nil)
	c.ReportTimeShift(0.1)

	// frame 25 of a range starting at 1 implies one second of audio, while
	// only 0.9s have elapsed on the audio clock
	corr, ok := c.CheckDrift(DriftInput{
		Frame:       25,
		RangeStart:  1,
		FPS:         24,
		TargetFPS:   24,
		ElapsedPlay: 0.9,
		Forward:     true,
	})
	require.True(t, ok)
	assert.InDelta(t, 1.0, corr.VideoTime, 1e-12)
	assert.InDelta(t, 0.1, corr.Delta, 1e-12)
	assert.Equal(t, int64(48128), corr.StartSample)
	assert.GreaterOrEqual(t, corr.StartSample, TimeToSamples(corr.VideoTime, 48000))
	assert.Equal(t, 1, c.Corrections())

	_, valid := c.TimeShift()
	assert.False(t, valid, "snap invalidates the shift so the next report lands")
}

func TestCheckDrift_WithinTolerance(t *testing.T) {
	c := New(&fakeAudio{state: stereo48k()}, DefaultConfig(), nil)

	_, ok := c.CheckDrift(DriftInput{
		Frame:       25,
		RangeStart:  1,
		FPS:         24,
		TargetFPS:   24,
		ElapsedPlay: 0.97,
		Forward:     true,
	})
	assert.False(t, ok)
}

func TestCheckDrift_ReverseIsNotCorrected(t *testing.T) {
	audio := &fakeAudio{state: stereo48k()}
	c := New(audio, DefaultConfig(), nil)

	_, ok := c.CheckDrift(DriftInput{
		Frame:       25,
		RangeStart:  1,
		FPS:         24,
		TargetFPS:   24,
		ElapsedPlay: 5,
		Forward:     false,
	})
	assert.False(t, ok)
	assert.Empty(t, audio.seeks)
}

func TestAudioRange(t *testing.T) {
	state := stereo48k()

	fwd := AudioRange(25, 1, 241, 24, false, state)
	assert.Equal(t, int64(48000), fwd.StartSample)
	assert.Equal(t, int64(480000-1), fwd.EndSample)
	assert.Equal(t, 48000.0, fwd.Rate)
	assert.False(t, fwd.Backwards)

	rev := AudioRange(25, 1, 241, 24, true, state)
	assert.Equal(t, int64(50000), rev.StartSample)
	assert.True(t, rev.Backwards)

	zero := AudioRange(25, 1, 241, 0, false, state)
	assert.Equal(t, int64(0), zero.StartSample)
}
