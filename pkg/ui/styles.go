package ui

import (
	"os"

	"github.com/charmbracelet/colorprofile"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/threadwork/internal/datasource"
)

// TermProfile holds the detected terminal color profile. Computed once at
// package init so every style helper can branch without re-detecting.
var TermProfile colorprofile.Profile

func init() {
	TermProfile = colorprofile.Detect(os.Stdout, os.Environ())
}

// ThemeFg returns the given hex color for ANSI256+ terminals and a safe
// ANSI white (color 7) for 16-color or lower terminals.
func ThemeFg(hex string) lipgloss.TerminalColor {
	if TermProfile < colorprofile.ANSI256 {
		return lipgloss.ANSIColor(7)
	}
	return lipgloss.Color(hex)
}

type Theme struct {
	Renderer *lipgloss.Renderer

	// Colors
	Primary   lipgloss.AdaptiveColor
	Secondary lipgloss.AdaptiveColor
	Subtext   lipgloss.AdaptiveColor

	// Job status
	Pending   lipgloss.AdaptiveColor
	Running   lipgloss.AdaptiveColor
	Succeeded lipgloss.AdaptiveColor
	Failed    lipgloss.AdaptiveColor
	Archived  lipgloss.AdaptiveColor

	// Metric kinds
	Freeze lipgloss.AdaptiveColor
	DB     lipgloss.AdaptiveColor
	Task   lipgloss.AdaptiveColor

	// UI elements
	Border    lipgloss.AdaptiveColor
	Highlight lipgloss.AdaptiveColor
	Muted     lipgloss.AdaptiveColor

	// Styles
	Base     lipgloss.Style
	Header   lipgloss.Style
	Selected lipgloss.Style

	// Pre-computed styles, created once at startup instead of per-frame
	MutedText   lipgloss.Style
	SubtleText  lipgloss.Style
	PrimaryBold lipgloss.Style
	OkText      lipgloss.Style
	WarnText    lipgloss.Style
	ErrText     lipgloss.Style
	PanelTitle  lipgloss.Style
	PanelFrame  lipgloss.Style
}

// DefaultTheme returns the standard Dracula-inspired theme (adaptive).
// Light mode colors are darkened for contrast on white backgrounds.
func DefaultTheme(r *lipgloss.Renderer) Theme {
	t := Theme{
		Renderer: r,

		Primary:   lipgloss.AdaptiveColor{Light: "#6B47D9", Dark: "#BD93F9"}, // Purple
		Secondary: lipgloss.AdaptiveColor{Light: "#555555", Dark: "#6272A4"}, // Gray
		Subtext:   lipgloss.AdaptiveColor{Light: "#666666", Dark: "#BFBFBF"}, // Dim

		Pending:   lipgloss.AdaptiveColor{Light: "#555555", Dark: "#6272A4"}, // Gray - not picked up yet
		Running:   lipgloss.AdaptiveColor{Light: "#006080", Dark: "#8BE9FD"}, // Cyan - in flight
		Succeeded: lipgloss.AdaptiveColor{Light: "#007700", Dark: "#50FA7B"}, // Green
		Failed:    lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"}, // Red
		Archived:  lipgloss.AdaptiveColor{Light: "#888888", Dark: "#44475A"}, // Muted gray

		Freeze: lipgloss.AdaptiveColor{Light: "#CC0000", Dark: "#FF5555"}, // Red - stalled frames
		DB:     lipgloss.AdaptiveColor{Light: "#006080", Dark: "#8BE9FD"}, // Cyan
		Task:   lipgloss.AdaptiveColor{Light: "#007700", Dark: "#50FA7B"}, // Green

		Border:    lipgloss.AdaptiveColor{Light: "#AAAAAA", Dark: "#44475A"},
		Highlight: lipgloss.AdaptiveColor{Light: "#E0E0E0", Dark: "#44475A"},
		Muted:     lipgloss.AdaptiveColor{Light: "#555555", Dark: "#6272A4"},
	}

	t.Base = r.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#F8F8F2"})

	t.Header = r.NewStyle().
		Background(t.Primary).
		Foreground(lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#282A36"}).
		Bold(true).
		Padding(0, 1)

	t.Selected = r.NewStyle().
		Background(t.Highlight).
		Border(lipgloss.ThickBorder(), false, false, false, true).
		BorderForeground(t.Primary).
		PaddingLeft(1).
		Bold(true)

	t.MutedText = r.NewStyle().Foreground(t.Muted)
	t.SubtleText = r.NewStyle().Foreground(t.Subtext)
	t.PrimaryBold = r.NewStyle().Foreground(t.Primary).Bold(true)
	t.OkText = r.NewStyle().Foreground(t.Succeeded)
	t.WarnText = r.NewStyle().Foreground(ThemeFg("#FFB86C"))
	t.ErrText = r.NewStyle().Foreground(t.Failed).Bold(true)
	t.PanelTitle = r.NewStyle().Foreground(t.Primary).Bold(true)
	t.PanelFrame = r.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Border).
		Padding(0, 1)

	return t
}

func (t Theme) GetStatusColor(s datasource.JobStatus) lipgloss.AdaptiveColor {
	switch s {
	case datasource.JobPending:
		return t.Pending
	case datasource.JobRunning:
		return t.Running
	case datasource.JobSucceeded:
		return t.Succeeded
	case datasource.JobFailed:
		return t.Failed
	case datasource.JobArchived:
		return t.Archived
	default:
		return t.Subtext
	}
}

// TestTheme returns a theme suitable for use in tests.
func TestTheme() Theme {
	return DefaultTheme(lipgloss.NewRenderer(os.Stdout))
}
