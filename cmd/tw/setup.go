package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/vanderheijden86/threadwork/pkg/config"
)

// isTerminal checks if stdin is connected to a terminal
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// newForm creates a form with appropriate settings based on TTY detection
func newForm(groups ...*huh.Group) *huh.Form {
	form := huh.NewForm(groups...).WithTheme(huh.ThemeDracula())
	if !isTerminal() {
		form = form.WithAccessible(true)
	}
	return form
}

// setupAnswers holds the raw wizard input before validation.
type setupAnswers struct {
	ThresholdMs string
	IntervalSec string
	ReportDir   string
	ChunkSize   string
	Workers     string
}

// runSetup walks through the handful of settings worth tuning and writes
// them back to the config file.
func runSetup(cfg config.Config, path string) error {
	fmt.Println("tw setup")
	fmt.Println("────────")
	fmt.Println("")

	a := setupAnswers{
		ThresholdMs: strconv.Itoa(cfg.Metrics.FreezeThresholdMs),
		IntervalSec: strconv.Itoa(cfg.Metrics.ReportIntervalSec),
		ReportDir:   cfg.Metrics.ReportDir,
		ChunkSize:   strconv.Itoa(cfg.UI.ChunkSize),
		Workers:     strconv.Itoa(cfg.Runner.Workers),
	}

	form := newForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Freeze threshold (ms)").
				Description("UI stalls shorter than this are not recorded").
				Value(&a.ThresholdMs),
			huh.NewInput().
				Title("Report interval (seconds)").
				Description("How often a metrics window is flushed to disk").
				Value(&a.IntervalSec),
			huh.NewInput().
				Title("Report directory").
				Description("Empty uses the default state directory").
				Value(&a.ReportDir).
				Placeholder(config.StateDir()),
			huh.NewInput().
				Title("Archive chunk size").
				Description("Jobs archived per UI tick during bulk operations").
				Value(&a.ChunkSize),
			huh.NewInput().
				Title("Worker goroutines").
				Description("Background workers; 1 keeps tasks strictly ordered").
				Value(&a.Workers),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	cfg = applyAnswers(cfg, a)

	if path == "" {
		if err := config.Save(cfg); err != nil {
			return err
		}
		path = config.ConfigPath()
	} else if err := config.SaveTo(cfg, path); err != nil {
		return err
	}

	fmt.Println("")
	fmt.Printf("Saved to %s\n", path)
	return nil
}

// applyAnswers folds the wizard input into the config. Numeric fields
// keep their previous value when the input doesn't parse as a positive
// integer, same as the TW_* env overrides.
func applyAnswers(cfg config.Config, a setupAnswers) config.Config {
	cfg.Metrics.FreezeThresholdMs = intOr(a.ThresholdMs, cfg.Metrics.FreezeThresholdMs)
	cfg.Metrics.ReportIntervalSec = intOr(a.IntervalSec, cfg.Metrics.ReportIntervalSec)
	cfg.Metrics.ReportDir = strings.TrimSpace(a.ReportDir)
	cfg.UI.ChunkSize = intOr(a.ChunkSize, cfg.UI.ChunkSize)
	cfg.Runner.Workers = intOr(a.Workers, cfg.Runner.Workers)
	return cfg
}

func intOr(s string, cur int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return cur
	}
	return n
}
