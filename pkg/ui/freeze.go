package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/threadwork/pkg/metrics"
)

// heartbeatInterval is the cadence of the UI liveness probe. Every tick
// measures the gap since the previous one; time beyond the interval is time
// the Update loop spent blocked. Chunked work is also stepped at this
// cadence so a slow slice shows up in the very next measurement.
const heartbeatInterval = 100 * time.Millisecond

// heartbeatTickMsg carries the time the tick fired.
type heartbeatTickMsg time.Time

func heartbeatTickCmd() tea.Cmd {
	return tea.Tick(heartbeatInterval, func(t time.Time) tea.Msg {
		return heartbeatTickMsg(t)
	})
}

// observeHeartbeat records how far past its expected arrival this tick came
// in. The aggregator discards stalls below the freeze threshold, so every
// overshoot can be reported without pre-filtering here.
func (m *Model) observeHeartbeat(now time.Time) {
	if m.lastHeartbeat.IsZero() {
		m.lastHeartbeat = now
		return
	}
	stall := now.Sub(m.lastHeartbeat) - heartbeatInterval
	m.lastHeartbeat = now
	if stall <= 0 {
		return
	}
	m.agg.Record(metrics.KindUIFreeze, m.activeViewName(), stall)
}

// simulateStall blocks the Update loop long enough for the next heartbeat
// to register a freeze. Bound to the f key for demos.
func (m *Model) simulateStall() {
	d := m.agg.FreezeThreshold() + 150*time.Millisecond
	time.Sleep(d)
	m.statusMsg = fmt.Sprintf("stalled the UI for %dms", d.Milliseconds())
	m.statusIsError = false
}
