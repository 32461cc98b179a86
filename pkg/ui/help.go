package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// helpMarkdown is the overlay content. Rendered through glamour when a
// renderer could be built, shown raw otherwise. Should fit on one screen
// without scrolling at normal terminal sizes; the viewport covers the rest.
const helpMarkdown = `## threadwork

Slow work runs on the background worker and lands here as results.
The loop itself only renders; when it stalls, the probe writes a
` + "`ui_freeze`" + ` sample so the report shows what the user felt.

**Jobs**

  j/k       Move selection
  g/G       Jump to top / bottom
  r         Refresh job list
  s         Compute archive statistics
  x         Archive finished jobs (chunked, with progress)

**Performance**

  f         Simulate a UI stall
  p         Toggle the metrics panel
  e         Export a performance chart (SVG)
  y         Copy today's report path

**Other**

  ?         Toggle this help
  q / Esc   Quit
`

// newHelpRenderer builds the markdown renderer for the help overlay. A nil
// renderer is fine; the overlay falls back to the raw markdown.
func newHelpRenderer() *glamour.TermRenderer {
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(helpModalWidth-6),
	)
	return r
}

const helpModalWidth = 64

// helpContent returns the rendered overlay body.
func (m Model) helpContent() string {
	content := helpMarkdown
	if m.md != nil {
		if out, err := m.md.Render(helpMarkdown); err == nil {
			// Strip trailing whitespace/newlines that glamour adds
			content = strings.TrimRight(out, "\n ")
		}
	}
	return content
}

func (m Model) renderHelpOverlay() string {
	t := m.theme

	modalWidth := helpModalWidth
	if modalWidth > m.width-4 {
		modalWidth = m.width - 4
	}

	footerStyle := t.Renderer.NewStyle().
		Foreground(t.Muted).
		Italic(true)

	var b strings.Builder
	b.WriteString(m.helpVP.View())
	b.WriteString("\n")
	b.WriteString(footerStyle.Render("j/k to scroll │ Esc or ? to close"))

	modalStyle := t.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Secondary).
		Padding(1, 2).
		Width(modalWidth)

	return lipgloss.Place(
		m.width,
		m.height-1,
		lipgloss.Center,
		lipgloss.Center,
		modalStyle.Render(b.String()),
	)
}
