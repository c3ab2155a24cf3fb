package top

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/cadence/internal/playback/driver"
	"github.com/zsiec/cadence/internal/playback/scheduler"
	"github.com/zsiec/cadence/internal/playback/types"
)

type fakeAPI struct {
	mu    sync.Mutex
	snap  driver.Snapshot
	err   error
	calls []string
}

func (f *fakeAPI) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeAPI) Snapshot(context.Context) (driver.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap, f.err
}

func (f *fakeAPI) Play(context.Context) error { return f.record("play") }
func (f *fakeAPI) Stop(context.Context) error { return f.record("stop") }
func (f *fakeAPI) SetFrame(_ context.Context, frame int) error {
	return f.record("frame " + strconv.Itoa(frame))
}
func (f *fakeAPI) SetInc(_ context.Context, inc int) error {
	return f.record("inc " + strconv.Itoa(inc))
}
func (f *fakeAPI) SetPlayMode(_ context.Context, mode string) error {
	return f.record("play-mode " + mode)
}
func (f *fakeAPI) SetCacheMode(_ context.Context, mode string) error {
	return f.record("cache-mode " + mode)
}
func (f *fakeAPI) SetRealtime(_ context.Context, realtime bool) error {
	if realtime {
		return f.record("realtime on")
	}
	return f.record("realtime off")
}

func testSnapshot() driver.Snapshot {
	return driver.Snapshot{
		State: scheduler.State{
			SessionID:  "session-1",
			Frame:      12,
			Inc:        1,
			PlayMode:   types.PlayLoop,
			CacheMode:  types.BufferCache,
			FPS:        24,
			RealFPS:    23.9,
			Realtime:   true,
			RangeStart: 1,
			RangeEnd:   101,
			InPoint:    1,
			OutPoint:   101,
			Timing:     "direct",
		},
		Cache: types.CacheStats{
			LookAheadSeconds: 1.5,
			CachedFrames:     36,
			UsedBytes:        3 << 20,
			CapacityBytes:    1 << 30,
		},
		CacheValid: true,
		RendererOK: true,
	}
}

func loadedModel(t *testing.T, api *fakeAPI) *Model {
	t.Helper()
	m := NewModel(api, "http://localhost:8080", 0)
	_, cmd := m.Update(snapshotMsg{snap: api.snap})
	assert.Nil(t, cmd)
	require.True(t, m.haveSnap)
	return m
}

// run executes a command and feeds its message back into the model.
func run(t *testing.T, m *Model, cmd tea.Cmd) tea.Msg {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	m.Update(msg)
	return msg
}

func TestModel_FetchSnapshot(t *testing.T) {
	api := &fakeAPI{snap: testSnapshot()}
	m := NewModel(api, "http://localhost:8080", 0)
	assert.Equal(t, defaultPollInterval, m.interval)

	msg := m.fetch()()
	snap, ok := msg.(snapshotMsg)
	require.True(t, ok)
	assert.NoError(t, snap.err)

	m.Update(snap)
	assert.Equal(t, 12, m.snap.State.Frame)
	assert.Equal(t, []float64{23.9}, m.realFPS)
}

func TestModel_SnapshotError(t *testing.T) {
	api := &fakeAPI{err: errors.New("connection refused")}
	m := NewModel(api, "http://localhost:8080", 0)

	run(t, m, m.fetch())
	assert.False(t, m.haveSnap)
	assert.Contains(t, m.View(), "connection refused")
}

func TestModel_FPSHistoryBounded(t *testing.T) {
	api := &fakeAPI{snap: testSnapshot()}
	m := NewModel(api, "", 0)
	for i := 0; i < fpsHistory+10; i++ {
		s := testSnapshot()
		s.State.RealFPS = float64(i)
		m.Update(snapshotMsg{snap: s})
	}
	require.Len(t, m.realFPS, fpsHistory)
	assert.Equal(t, float64(10), m.realFPS[0])
	assert.Equal(t, float64(fpsHistory+9), m.realFPS[fpsHistory-1])
}

func TestModel_Keys(t *testing.T) {
	tests := []struct {
		name  string
		key   tea.KeyMsg
		setup func(*driver.Snapshot)
		call  string
	}{
		{"play", tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, nil, "play"},
		{"stop", tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}, func(s *driver.Snapshot) { s.State.Running = true }, "stop"},
		{"step back", tea.KeyMsg{Type: tea.KeyLeft}, nil, "frame 11"},
		{"step forward", tea.KeyMsg{Type: tea.KeyRight}, nil, "frame 13"},
		{"home", tea.KeyMsg{Type: tea.KeyHome}, nil, "frame 1"},
		{"reverse", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'i'}}, nil, "inc -1"},
		{"play mode", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'m'}}, nil, "play-mode pingpong"},
		{"play mode wraps", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'m'}}, func(s *driver.Snapshot) { s.State.PlayMode = types.PlayOnce }, "play-mode loop"},
		{"cache mode", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'c'}}, nil, "cache-mode region"},
		{"realtime", tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'t'}}, nil, "realtime off"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{snap: testSnapshot()}
			if tt.setup != nil {
				tt.setup(&api.snap)
			}
			m := loadedModel(t, api)

			_, cmd := m.Update(tt.key)
			msg := run(t, m, cmd)

			res, ok := msg.(commandMsg)
			require.True(t, ok)
			assert.NoError(t, res.err)
			assert.Equal(t, []string{tt.call}, api.calls)
			assert.Equal(t, res.action, m.status)
		})
	}
}

func TestModel_KeysIgnoredWithoutSnapshot(t *testing.T) {
	api := &fakeAPI{}
	m := NewModel(api, "", 0)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Nil(t, cmd)
	assert.Empty(t, api.calls)
}

func TestModel_CommandError(t *testing.T) {
	api := &fakeAPI{snap: testSnapshot()}
	m := loadedModel(t, api)
	api.err = errors.New("422 Unprocessable Entity: frame out of range")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRight})
	run(t, m, cmd)
	assert.Equal(t, "step forward: 422 Unprocessable Entity: frame out of range", m.lastErr)
}

func TestModel_Quit(t *testing.T) {
	m := NewModel(&fakeAPI{}, "", 0)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.True(t, m.quitting)

	_, cmd = m.Update(tickMsg{})
	assert.Nil(t, cmd, "no further polling after quit")
	assert.Equal(t, "Closing monitor...\n", m.View())
}

func TestModel_View(t *testing.T) {
	api := &fakeAPI{snap: testSnapshot()}
	m := loadedModel(t, api)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	view := m.View()
	for _, want := range []string{"session-1", "Transport", "Cache", "Timeline", "Scheduler", "STOPPED", "loop", "buffer", "3.0 MiB", "1.0 GiB"} {
		assert.Contains(t, view, want)
	}

	m.snap.State.BufferWait = true
	m.snap.CacheValid = false
	m.snap.RendererOK = false
	view = m.View()
	assert.Contains(t, view, "BUFFERING")
	assert.Contains(t, view, "cache busy")
	assert.Contains(t, view, "unsupported")
}

func TestRenderSparkline(t *testing.T) {
	assert.Equal(t, "", renderSparkline([]float64{1, 2}, 0))
	assert.Equal(t, "▁▁▁", renderSparkline(nil, 3))
	assert.Equal(t, "▄▄", renderSparkline([]float64{5, 5, 5}, 2))
	assert.Equal(t, "▁█", renderSparkline([]float64{0, 10}, 2))

	line := renderSparkline([]float64{1, 2, 3, 4}, 8)
	assert.Equal(t, 8, len([]rune(line)))
}

func TestRenderPosition(t *testing.T) {
	assert.Equal(t, "", renderPosition(1, 10, 10, 10, 10, 20))
	assert.Equal(t, "", renderPosition(1, 1, 10, 1, 10, 0))

	bar := renderPosition(50, 1, 101, 25, 75, 40)
	assert.Equal(t, 1, strings.Count(bar, "┃"))
	assert.Contains(t, bar, "━")
	assert.Contains(t, bar, "─")
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatBytes(tt.in))
	}
}
