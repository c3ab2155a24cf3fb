package top

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Dark review-room palette
var (
	Primary   = lipgloss.Color("#FF6B35")
	Secondary = lipgloss.Color("#1E88E5")
	Success   = lipgloss.Color("#4CAF50")
	Warning   = lipgloss.Color("#FFB74D")
	Error     = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")

	PanelBg    = lipgloss.Color("#161B26")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")

	Playing   = lipgloss.Color("#66BB6A")
	Buffering = lipgloss.Color("#FFC107")
	Stopped   = lipgloss.Color("#424242")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Padding(0, 2).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(14)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().Foreground(Success).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error).Bold(true)
	MutedStyle   = lipgloss.NewStyle().Foreground(Muted)
	InfoStyle    = lipgloss.NewStyle().Foreground(Secondary).Bold(true)
)

// StateBadge renders the transport state.
func StateBadge(playing, buffering bool) string {
	switch {
	case buffering:
		return lipgloss.NewStyle().Foreground(Buffering).Bold(true).Render("● BUFFERING")
	case playing:
		return lipgloss.NewStyle().Foreground(Playing).Bold(true).Render("▶ PLAYING")
	default:
		return lipgloss.NewStyle().Foreground(Stopped).Bold(true).Render("■ STOPPED")
	}
}

// renderSparkline scales data into block characters across width cells.
func renderSparkline(data []float64, width int) string {
	if width <= 0 {
		return ""
	}
	if len(data) == 0 {
		return strings.Repeat("▁", width)
	}

	minVal, maxVal := data[0], data[0]
	for _, val := range data {
		if val < minVal {
			minVal = val
		}
		if val > maxVal {
			maxVal = val
		}
	}
	if maxVal == minVal {
		return strings.Repeat("▄", width)
	}

	sparkChars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

	var result strings.Builder
	for i := 0; i < width; i++ {
		idx := i * len(data) / width
		normalized := (data[idx] - minVal) / (maxVal - minVal)
		charIndex := int(normalized * 7)
		if charIndex > 7 {
			charIndex = 7
		}
		result.WriteRune(sparkChars[charIndex])
	}
	return result.String()
}

// renderPosition draws the play range with the in/out region and the current
// frame marked.
func renderPosition(frame, start, end, in, out, width int) string {
	if width <= 0 || end <= start {
		return ""
	}
	span := end - start
	cell := func(f int) int {
		c := (f - start) * width / span
		if c < 0 {
			return 0
		}
		if c >= width {
			return width - 1
		}
		return c
	}

	inCell, outCell, cur := cell(in), cell(out-1), cell(frame)
	var b strings.Builder
	for i := 0; i < width; i++ {
		switch {
		case i == cur:
			b.WriteString(ValueStyle.Render("┃"))
		case i >= inCell && i <= outCell:
			b.WriteString(SuccessStyle.Render("━"))
		default:
			b.WriteString(MutedStyle.Render("─"))
		}
	}
	return b.String()
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
