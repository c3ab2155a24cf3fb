// Package top is a terminal monitor for a running playback session.
package top

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/cadence/internal/playback/driver"
	"github.com/zsiec/cadence/internal/playback/types"
)

const (
	fpsHistory          = 60
	defaultPollInterval = 250 * time.Millisecond
)

// API is the subset of Client the model drives.
type API interface {
	Snapshot(ctx context.Context) (driver.Snapshot, error)
	Play(ctx context.Context) error
	Stop(ctx context.Context) error
	SetFrame(ctx context.Context, frame int) error
	SetInc(ctx context.Context, inc int) error
	SetPlayMode(ctx context.Context, mode string) error
	SetCacheMode(ctx context.Context, mode string) error
	SetRealtime(ctx context.Context, realtime bool) error
}

type tickMsg time.Time

type snapshotMsg struct {
	snap driver.Snapshot
	err  error
}

type commandMsg struct {
	action string
	err    error
}

// Model implements tea.Model.
type Model struct {
	api      API
	target   string
	interval time.Duration

	width    int
	snap     driver.Snapshot
	haveSnap bool
	realFPS  []float64
	lastErr  string
	status   string
	quitting bool
}

func NewModel(api API, target string, interval time.Duration) *Model {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &Model{
		api:      api,
		target:   target,
		interval: interval,
		realFPS:  make([]float64, 0, fpsHistory),
	}
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.fetch())
}

// Update implements tea.Model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.tick(), m.fetch())

	case snapshotMsg:
		if msg.err != nil {
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.lastErr = ""
		m.snap = msg.snap
		m.haveSnap = true
		m.realFPS = append(m.realFPS, msg.snap.State.RealFPS)
		if len(m.realFPS) > fpsHistory {
			m.realFPS = m.realFPS[len(m.realFPS)-fpsHistory:]
		}
		return m, nil

	case commandMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("%s: %v", msg.action, msg.err)
		} else {
			m.status = msg.action
		}
		return m, m.fetch()
	}

	return m, nil
}

func (m *Model) handleKey(key string) tea.Cmd {
	st := m.snap.State
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return tea.Quit
	case "r":
		return m.fetch()
	}
	if !m.haveSnap {
		return nil
	}

	switch key {
	case " ", "space":
		if st.Running {
			return m.command("stop", m.api.Stop)
		}
		return m.command("play", m.api.Play)
	case "left", "h":
		return m.command("step back", func(ctx context.Context) error {
			return m.api.SetFrame(ctx, st.Frame-1)
		})
	case "right", "l":
		return m.command("step forward", func(ctx context.Context) error {
			return m.api.SetFrame(ctx, st.Frame+1)
		})
	case "home":
		return m.command("go to in point", func(ctx context.Context) error {
			return m.api.SetFrame(ctx, st.InPoint)
		})
	case "i":
		return m.command("reverse", func(ctx context.Context) error {
			return m.api.SetInc(ctx, -st.Inc)
		})
	case "m":
		next := types.PlayMode((int(st.PlayMode) + 1) % 3)
		return m.command("play mode "+next.String(), func(ctx context.Context) error {
			return m.api.SetPlayMode(ctx, next.String())
		})
	case "c":
		next := types.CacheMode((int(st.CacheMode) + 1) % 3)
		return m.command("cache "+next.String(), func(ctx context.Context) error {
			return m.api.SetCacheMode(ctx, next.String())
		})
	case "t":
		return m.command("toggle realtime", func(ctx context.Context) error {
			return m.api.SetRealtime(ctx, !st.Realtime)
		})
	}
	return nil
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) fetch() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		snap, err := m.api.Snapshot(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

func (m *Model) command(action string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return commandMsg{action: action, err: fn(ctx)}
	}
}

// View implements tea.Model
func (m *Model) View() string {
	if m.quitting {
		return "Closing monitor...\n"
	}

	width := m.width
	if width == 0 {
		width = 100
	}

	header := HeaderStyle.Width(width - 2).Render(
		fmt.Sprintf("cadence-top  %s  %s", MutedStyle.Render(m.target), m.sessionLabel()))

	if !m.haveSnap {
		body := MutedStyle.Render("Waiting for playback service...")
		if m.lastErr != "" {
			body = ErrorStyle.Render(m.lastErr)
		}
		return lipgloss.JoinVertical(lipgloss.Left, header, body, m.footer())
	}

	half := (width - 4) / 2
	top := lipgloss.JoinHorizontal(lipgloss.Top,
		m.transportPanel(half),
		m.cachePanel(half),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		top,
		m.timelinePanel(width-2),
		m.schedulerPanel(width-2),
		m.footer(),
	)
}

func (m *Model) sessionLabel() string {
	if !m.haveSnap {
		return ""
	}
	return InfoStyle.Render(m.snap.State.SessionID)
}

func row(label, value string) string {
	return LabelStyle.Render(label) + ValueStyle.Render(value)
}

func (m *Model) transportPanel(width int) string {
	st := m.snap.State
	lines := []string{
		PanelTitleStyle.Render("Transport"),
		StateBadge(st.Running, st.BufferWait),
		row("Frame", fmt.Sprintf("%d", st.Frame)),
		row("Inc", fmt.Sprintf("%+d", st.Inc)),
		row("Mode", st.PlayMode.String()),
		row("FPS", fmt.Sprintf("%.3f target / %.2f real", st.FPS, st.RealFPS)),
		row("Realtime", fmt.Sprintf("%t", st.Realtime)),
		row("Skipped", fmt.Sprintf("%d", st.Skipped)),
		row("Timing", st.Timing),
	}
	if st.ErrorMessage != "" {
		lines = append(lines, ErrorStyle.Render(st.ErrorMessage))
	} else if st.StatusText != "" {
		lines = append(lines, MutedStyle.Render(st.StatusText))
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) cachePanel(width int) string {
	st := m.snap.State
	c := m.snap.Cache
	lines := []string{
		PanelTitleStyle.Render("Cache"),
		row("Mode", st.CacheMode.String()),
	}
	if m.snap.CacheValid {
		lines = append(lines,
			row("Look-ahead", fmt.Sprintf("%.2fs", c.LookAheadSeconds)),
			row("Audio", fmt.Sprintf("%.2fs", c.AudioSecondsCached)),
			row("Frames", fmt.Sprintf("%d", c.CachedFrames)),
			row("Memory", fmt.Sprintf("%s / %s", formatBytes(c.UsedBytes), formatBytes(c.CapacityBytes))),
		)
	} else {
		lines = append(lines, MutedStyle.Render("cache busy"))
	}
	renderer := SuccessStyle.Render("supported")
	if !m.snap.RendererOK {
		renderer = ErrorStyle.Render("unsupported")
	}
	lines = append(lines, row("Renderer", "")+renderer)
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) timelinePanel(width int) string {
	st := m.snap.State
	barWidth := width - 4
	lines := []string{
		PanelTitleStyle.Render("Timeline") + MutedStyle.Render(fmt.Sprintf(
			"  range [%d, %d)  in/out [%d, %d)", st.RangeStart, st.RangeEnd, st.InPoint, st.OutPoint)),
		renderPosition(st.Frame, st.RangeStart, st.RangeEnd, st.InPoint, st.OutPoint, barWidth),
		MutedStyle.Render("real fps ") + InfoStyle.Render(renderSparkline(m.realFPS, barWidth-9)),
	}
	return PanelStyle.Width(width).Render(strings.Join(lines, "\n"))
}

func (m *Model) schedulerPanel(width int) string {
	s := m.snap.Stats
	r := m.snap.Render
	cells := []string{
		fmt.Sprintf("ticks %d", s.Ticks),
		fmt.Sprintf("advanced %d", s.FramesAdvanced),
		fmt.Sprintf("skipped %d", s.FramesSkipped),
		fmt.Sprintf("buffer waits %d", s.BufferWaits),
		fmt.Sprintf("drift fixes %d", s.DriftCorrections),
		fmt.Sprintf("renders %d", r.Renders),
		fmt.Sprintf("eval errors %d", r.EvalErrors),
		fmt.Sprintf("vsync %d/%d", m.snap.VSync.Consumed, m.snap.VSync.Published),
	}
	if s.Panics > 0 {
		cells = append(cells, ErrorStyle.Render(fmt.Sprintf("panics %d", s.Panics)))
	}
	return PanelStyle.Width(width).Render(
		PanelTitleStyle.Render("Scheduler") + "\n" + ValueStyle.Render(strings.Join(cells, "  ")))
}

func (m *Model) footer() string {
	keys := MutedStyle.Render("space play/stop  ←/→ step  home in  i reverse  m mode  c cache  t realtime  r refresh  q quit")
	switch {
	case m.lastErr != "":
		return keys + "\n" + ErrorStyle.Render(m.lastErr)
	case m.status != "":
		return keys + "\n" + SuccessStyle.Render(m.status)
	}
	return keys
}
