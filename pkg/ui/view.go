package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/threadwork/internal/datasource"
	"github.com/vanderheijden86/threadwork/pkg/metrics"
)

const metricsPanelWidth = 46

func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var body string
	isOverlay := false

	// Quit confirmation overlay takes highest priority
	if m.showQuitConfirm {
		body = m.renderQuitConfirm()
		isOverlay = true
	} else if m.showHelp {
		body = m.renderHelpOverlay()
		isOverlay = true
	} else {
		body = m.renderMain()
	}

	footer := m.renderFooter()

	// Ensure the final output fits exactly in the terminal height so the
	// header is never pushed off the top.
	finalStyle := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		MaxHeight(m.height)

	if isOverlay {
		return finalStyle.Render(lipgloss.JoinVertical(lipgloss.Left, body, footer))
	}
	header := m.renderGlobalHeader()
	return finalStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, body, footer))
}

func (m Model) bodyHeight() int {
	h := m.height - 2 // header + footer
	if m.archiver != nil {
		h--
	}
	if h < 3 {
		h = 3
	}
	return h
}

func (m Model) renderMain() string {
	bodyH := m.bodyHeight()

	var body string
	switch {
	case m.showMetrics && m.width >= 100:
		tableW := m.width - metricsPanelWidth
		body = lipgloss.JoinHorizontal(lipgloss.Top,
			m.renderJobTable(tableW, bodyH),
			m.renderMetricsPanel(metricsPanelWidth, bodyH))
	case m.showMetrics:
		// Too narrow for a split: the panel takes the whole body
		body = m.renderMetricsPanel(m.width, bodyH)
	default:
		body = m.renderJobTable(m.width, bodyH)
	}

	if m.archiver != nil {
		body = lipgloss.JoinVertical(lipgloss.Left, body, m.renderArchiveBar())
	}
	return body
}

func (m Model) renderGlobalHeader() string {
	t := m.theme

	// Left side: app name + database
	appName := t.Renderer.NewStyle().Bold(true).Foreground(t.Primary).Render("tw")
	sep := t.MutedText.Render(" | ")

	dbLabel := "job archive"
	if m.store != nil {
		dbLabel = filepath.Base(m.store.Path())
	}
	left := appName + sep + t.SubtleText.Render(dbLabel)
	if m.busy > 0 || m.archiver != nil {
		left += " " + m.spin.View()
	}

	// Right side: view name + status counts
	pendingStyle := t.Renderer.NewStyle().Foreground(t.Pending)
	runningStyle := t.Renderer.NewStyle().Foreground(t.Running)
	counts := fmt.Sprintf("%s%d %s%d %s%d %s%d",
		pendingStyle.Render("○"), m.counts[datasource.JobPending],
		runningStyle.Render("◔"), m.counts[datasource.JobRunning],
		t.OkText.Render("●"), m.counts[datasource.JobSucceeded],
		t.ErrText.Render("✗"), m.counts[datasource.JobFailed])
	right := t.SubtleText.Render(m.activeViewName()) + sep + counts

	// Calculate filler between left and right
	fillerWidth := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if fillerWidth < 1 {
		fillerWidth = 1
	}
	filler := t.Renderer.NewStyle().Width(fillerWidth).Render("")

	headerBg := t.Renderer.NewStyle().
		Width(m.width).
		Background(t.Highlight)

	return headerBg.Render(left + filler + right)
}

func (m Model) renderJobTable(width, height int) string {
	t := m.theme

	const (
		idW      = 7
		statusW  = 12
		queueW   = 10
		durW     = 9
		updatedW = 8
	)
	nameW := width - idW - statusW - queueW - durW - updatedW - 3
	if nameW < 10 {
		nameW = 10
	}

	var b strings.Builder
	head := "  " + padRight("ID", idW) + padRight("NAME", nameW) + padRight("QUEUE", queueW) +
		padRight("STATUS", statusW) + padRight("DURATION", durW) + "UPDATED"
	b.WriteString(t.PrimaryBold.Render(truncate(head, width)))
	b.WriteString("\n")

	if len(m.jobs) == 0 {
		if m.warmupDone {
			b.WriteString(t.MutedText.Render("  no jobs loaded, press r to refresh"))
		} else {
			b.WriteString(t.MutedText.Render("  loading…"))
		}
		return b.String()
	}

	// Keep the selection visible: scroll the window, not the cursor
	maxRows := height - 1
	if maxRows < 1 {
		maxRows = 1
	}
	start := 0
	if m.selected >= maxRows {
		start = m.selected - maxRows + 1
	}

	now := time.Now()
	for i := start; i < len(m.jobs) && i-start < maxRows; i++ {
		j := m.jobs[i]

		// Cells are padded before styling so ANSI codes never disturb
		// the column alignment.
		idCell := padRight(fmt.Sprintf("#%d", j.ID), idW)
		nameCell := padRight(truncate(j.Name, nameW-1), nameW)
		queueCell := padRight(truncate(j.Queue, queueW-1), queueW)
		statusCell := padRight(statusIcon(j.Status)+" "+string(j.Status), statusW)
		durCell := padRight(formatJobDuration(j.DurationMs), durW)
		updatedCell := formatTimeRel(now, j.UpdatedAt)

		if i == m.selected {
			row := idCell + nameCell + queueCell + statusCell + durCell + updatedCell
			b.WriteString(t.Selected.Render(truncate(row, width-3)))
		} else {
			statusStyle := t.Renderer.NewStyle().Foreground(t.GetStatusColor(j.Status))
			b.WriteString("  " + t.SubtleText.Render(idCell) + t.Base.Render(nameCell) +
				t.MutedText.Render(queueCell) + statusStyle.Render(statusCell) +
				t.SubtleText.Render(durCell) + t.MutedText.Render(updatedCell))
		}
		b.WriteString("\n")
	}

	if start > 0 || start+maxRows < len(m.jobs) {
		b.WriteString(t.MutedText.Render(fmt.Sprintf("  %d-%d of %d", start+1, min(start+maxRows, len(m.jobs)), len(m.jobs))))
	}

	return b.String()
}

func (m Model) renderMetricsPanel(width, height int) string {
	t := m.theme

	cur := m.agg.Current()
	hist := m.agg.History()
	rs := m.runner.Stats()

	var b strings.Builder
	b.WriteString(t.PanelTitle.Render("performance"))
	b.WriteString("\n")
	b.WriteString(t.MutedText.Render(fmt.Sprintf("%s · threshold %dms · window %s",
		m.agg.State(), m.agg.FreezeThreshold().Milliseconds(), m.agg.ReportInterval())))
	b.WriteString("\n\n")

	b.WriteString(t.SubtleText.Render(padRight("", 12) + padRight("n", 5) + padRight("avg", 9) + padRight("max", 9) + "p95"))
	b.WriteString("\n")
	b.WriteString(kindLine(t.Renderer.NewStyle().Foreground(t.Freeze), "ui_freeze", cur.UIFreezes))
	b.WriteString("\n")
	b.WriteString(kindLine(t.Renderer.NewStyle().Foreground(t.DB), "db_ops", cur.DBOps))
	b.WriteString("\n")
	b.WriteString(kindLine(t.Renderer.NewStyle().Foreground(t.Task), "tasks", cur.Tasks))
	b.WriteString("\n")

	if slowest := slowestLine(cur); slowest != "" {
		b.WriteString(t.MutedText.Render(slowest))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(t.SubtleText.Render(fmt.Sprintf("windows kept %d · dropped %d", len(hist), cur.Dropped)))
	b.WriteString("\n")
	b.WriteString(t.SubtleText.Render(fmt.Sprintf("worker: %d run · %d failed · %d panicked",
		rs.Executed, rs.Failed, rs.Panicked)))
	b.WriteString("\n")
	b.WriteString(t.SubtleText.Render(fmt.Sprintf("queues: %d tasks · %d results pending",
		rs.QueueDepth, rs.ResultDepth)))

	if m.stats != nil {
		b.WriteString("\n\n")
		b.WriteString(t.PanelTitle.Render("archive"))
		b.WriteString("\n")
		b.WriteString(t.SubtleText.Render(fmt.Sprintf("%d jobs · %d timed · avg %s · max %s",
			m.stats.Total, m.stats.WithDuration,
			formatMillis(m.stats.AvgDurationMs), formatMillis(float64(m.stats.MaxDurationMs)))))
	}

	frame := t.PanelFrame.Width(width - 2).MaxHeight(height)
	return frame.Render(b.String())
}

// kindLine formats one row of the per-kind table in the metrics panel.
func kindLine(labelStyle lipgloss.Style, label string, ks metrics.KindStats) string {
	if ks.Count == 0 {
		return labelStyle.Render(padRight(label, 12)) + "-"
	}
	return labelStyle.Render(padRight(label, 12)) +
		padRight(fmt.Sprintf("%d", ks.Count), 5) +
		padRight(formatMillis(ks.AvgMs), 9) +
		padRight(formatMillis(ks.MaxMs), 9) +
		formatMillis(ks.P95Ms)
}

// slowestLine names the worst offender of the open window, if any.
func slowestLine(r metrics.WindowReport) string {
	name, worst := "", 0.0
	if r.DBOps.MaxMs > worst && r.DBOps.Slowest != "" {
		name, worst = r.DBOps.Slowest, r.DBOps.MaxMs
	}
	if r.Tasks.MaxMs > worst && r.Tasks.Slowest != "" {
		name, worst = r.Tasks.Slowest, r.Tasks.MaxMs
	}
	if name == "" {
		return ""
	}
	return fmt.Sprintf("slowest: %s (%s)", name, formatMillis(worst))
}

func (m Model) renderArchiveBar() string {
	t := m.theme

	processed, total := m.archiver.Processed(), m.archiver.Total()
	frac := 0.0
	if total > 0 {
		frac = float64(processed) / float64(total)
	}

	label := fmt.Sprintf(" archiving %d/%d ", processed, total)
	pct := fmt.Sprintf(" %3.0f%%", frac*100)
	bar := m.bar
	bar.Width = m.width - lipgloss.Width(label) - lipgloss.Width(pct) - 1
	if bar.Width < 10 {
		bar.Width = 10
	}

	return t.SubtleText.Render(label) + bar.ViewAs(frac) + t.SubtleText.Render(pct)
}

func (m *Model) renderFooter() string {
	t := m.theme

	// A status message takes over the whole footer line
	if m.statusMsg != "" {
		var msgStyle lipgloss.Style
		prefix := "✓ "
		if m.statusIsError {
			prefix = "✗ "
			msgStyle = t.ErrText.Padding(0, 2)
		} else {
			msgStyle = t.OkText.Padding(0, 2)
		}
		msgSection := msgStyle.Render(prefix + m.statusMsg)
		remaining := m.width - lipgloss.Width(msgSection)
		if remaining < 0 {
			remaining = 0
		}
		filler := t.Renderer.NewStyle().Width(remaining).Render("")
		return lipgloss.JoinHorizontal(lipgloss.Bottom, msgSection, filler)
	}

	keyStyle := t.MutedText
	labelStyle := t.Base

	type hint struct {
		key   string
		label string
	}
	hints := []hint{
		{"j/k", "nav"},
		{"r", "refresh"},
		{"s", "stats"},
		{"x", "archive"},
		{"f", "stall"},
		{"p", "metrics"},
		{"e", "chart"},
		{"y", "yank"},
		{"?", "help"},
		{"q", "quit"},
	}

	var hintParts []string
	for _, h := range hints {
		hintParts = append(hintParts, keyStyle.Render(h.key)+":"+labelStyle.Render(h.label))
	}
	shortcutBar := " " + strings.Join(hintParts, "  ")

	remaining := m.width - lipgloss.Width(shortcutBar)
	if remaining < 0 {
		remaining = 0
	}
	filler := t.Renderer.NewStyle().Width(remaining).Render("")

	return lipgloss.JoinHorizontal(lipgloss.Bottom, shortcutBar, filler)
}

func (m Model) renderQuitConfirm() string {
	t := m.theme

	boxStyle := t.Renderer.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Failed).
		Padding(1, 3).
		Align(lipgloss.Center)

	titleStyle := t.Renderer.NewStyle().
		Foreground(t.Failed).
		Bold(true)

	textStyle := t.Renderer.NewStyle().
		Foreground(t.Base.GetForeground())

	keyStyle := t.Renderer.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	content := titleStyle.Render("Quit tw?") + "\n\n" +
		textStyle.Render("Press ") + keyStyle.Render("Esc") + textStyle.Render(" or ") + keyStyle.Render("Y") + textStyle.Render(" to quit\n") +
		textStyle.Render("Press any other key to cancel")

	box := boxStyle.Render(content)

	return lipgloss.Place(
		m.width,
		m.height-1,
		lipgloss.Center,
		lipgloss.Center,
		box,
	)
}

