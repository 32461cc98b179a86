package ui

import (
	"context"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/vanderheijden86/threadwork/internal/datasource"
)

// warmupMsg delivers the initial concurrent load of the job archive.
type warmupMsg struct {
	res *datasource.WarmupResult
	err error
}

// warmupCmd loads the first screen of jobs plus counts and stats off the UI
// goroutine, before the runner has any work to do.
func warmupCmd(store *datasource.Store, limit int) tea.Cmd {
	return func() tea.Msg {
		res, err := store.Warmup(context.Background(), limit)
		return warmupMsg{res: res, err: err}
	}
}

// resultTickMsg drives a result drain pass.
type resultTickMsg struct{}

// resultTickCmd schedules the next drain. The caller picks the cadence:
// fast while drains keep returning work, slow once the queues go quiet.
func resultTickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return resultTickMsg{}
	})
}

// autoCloseMsg quits the program after TW_AUTOCLOSE_MS. Used by e2e scripts
// that need the TUI to exit on its own.
type autoCloseMsg struct{}

func autoCloseCmd() tea.Cmd {
	raw := os.Getenv("TW_AUTOCLOSE_MS")
	if raw == "" {
		return nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return nil
	}
	return tea.Tick(time.Duration(ms)*time.Millisecond, func(time.Time) tea.Msg {
		return autoCloseMsg{}
	})
}
