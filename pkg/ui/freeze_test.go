package ui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestHeartbeatRecordsLongGap(t *testing.T) {
	m := newTestModel(t)
	m.agg.SetFreezeThreshold(50 * time.Millisecond)

	t0 := time.Now()
	m.observeHeartbeat(t0)
	m.observeHeartbeat(t0.Add(heartbeatInterval + 300*time.Millisecond))

	rep, err := m.agg.FlushNow()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rep.UIFreezes.Count != 1 {
		t.Fatalf("freeze count = %d, want 1", rep.UIFreezes.Count)
	}
	if rep.UIFreezes.MaxMs < 299 || rep.UIFreezes.MaxMs > 301 {
		t.Errorf("freeze max = %.1fms, want ~300ms", rep.UIFreezes.MaxMs)
	}
	if rep.UIFreezes.Slowest != "jobs" {
		t.Errorf("slowest = %q, want the active view label", rep.UIFreezes.Slowest)
	}
}

func TestHeartbeatIgnoresShortGap(t *testing.T) {
	m := newTestModel(t)
	m.agg.SetFreezeThreshold(50 * time.Millisecond)

	t0 := time.Now()
	m.observeHeartbeat(t0)
	// 10ms over the interval: below the freeze threshold.
	m.observeHeartbeat(t0.Add(heartbeatInterval + 10*time.Millisecond))
	// Ahead of schedule: negative overshoot.
	m.observeHeartbeat(t0.Add(2 * heartbeatInterval))

	rep, err := m.agg.FlushNow()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rep.UIFreezes.Count != 0 {
		t.Fatalf("freeze count = %d, want 0", rep.UIFreezes.Count)
	}
}

func TestFirstHeartbeatOnlyPrimes(t *testing.T) {
	m := newTestModel(t)
	m.observeHeartbeat(time.Now())

	rep, err := m.agg.FlushNow()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rep.UIFreezes.Count != 0 {
		t.Fatalf("freeze count = %d after priming tick, want 0", rep.UIFreezes.Count)
	}
}

func TestHeartbeatLabelsOverlayViews(t *testing.T) {
	m := newTestModel(t)
	m.agg.SetFreezeThreshold(50 * time.Millisecond)
	m.showHelp = true

	t0 := time.Now()
	m.observeHeartbeat(t0)
	m.observeHeartbeat(t0.Add(heartbeatInterval + 200*time.Millisecond))

	rep, err := m.agg.FlushNow()
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if rep.UIFreezes.Slowest != "help" {
		t.Errorf("slowest = %q, want help", rep.UIFreezes.Slowest)
	}
}

func TestStallKeyBlocksAndReports(t *testing.T) {
	m := newTestModel(t)
	m.agg.SetFreezeThreshold(20 * time.Millisecond)

	start := time.Now()
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("f")})
	m = updated.(Model)
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("stall returned after %s, expected the Update to block", elapsed)
	}
	if !strings.Contains(m.statusMsg, "stalled the UI") {
		t.Errorf("statusMsg = %q", m.statusMsg)
	}
}

func TestSpinnerAdvancesWhileBusy(t *testing.T) {
	m := newTestModel(t)
	m.busy = 1
	before := m.spin.View()
	updated, _ := m.Update(heartbeatTickMsg(time.Now()))
	m2 := updated.(Model)
	if m2.spin.View() == before {
		t.Error("spinner frame did not advance while busy")
	}
}

func TestSpinnerHoldsWhileIdle(t *testing.T) {
	m := newTestModel(t)
	before := m.spin.View()
	updated, _ := m.Update(heartbeatTickMsg(time.Now()))
	m2 := updated.(Model)
	if m2.spin.View() != before {
		t.Error("spinner advanced with nothing running")
	}
}
