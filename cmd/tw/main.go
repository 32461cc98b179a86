package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/vanderheijden86/threadwork/internal/datasource"
	"github.com/vanderheijden86/threadwork/pkg/config"
	"github.com/vanderheijden86/threadwork/pkg/debug"
	"github.com/vanderheijden86/threadwork/pkg/export"
	"github.com/vanderheijden86/threadwork/pkg/metrics"
	"github.com/vanderheijden86/threadwork/pkg/task"
	"github.com/vanderheijden86/threadwork/pkg/ui"
	"github.com/vanderheijden86/threadwork/pkg/version"
	"github.com/vanderheijden86/threadwork/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	configFlag := flag.String("config", "", "Config file path (default: XDG config dir)")
	dbFlag := flag.String("db", "", "SQLite job archive path (overrides config)")
	chartFlag := flag.String("chart", "", "Render a performance chart to this file (.svg or .png) and exit")
	chartFromFlag := flag.String("chart-from", "", "Report file to chart (default: today's report)")
	chartJSONFlag := flag.Bool("chart-json", false, "Write a JSON sidecar next to the chart")
	setupFlag := flag.Bool("setup", false, "Run the interactive setup wizard")
	cpuProfile := flag.String("cpu-profile", "", "Write CPU profile to file")
	help := flag.Bool("help", false, "Show help")
	versionFlag := flag.Bool("version", false, "Show version")
	flag.Parse()

	// CPU profiling support
	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	if *help {
		fmt.Println("Usage: tw [options]")
		fmt.Println("\nA job archive browser that measures its own responsiveness.")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *versionFlag {
		fmt.Printf("tw %s\n", version.Version)
		os.Exit(0)
	}

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}
	cfg, cfgErr := config.LoadFrom(cfgPath)
	if cfgErr != nil {
		// Non-fatal: a broken file should not lock the user out.
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", cfgErr)
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnv()

	if *setupFlag {
		if err := runSetup(cfg, cfgPath); err != nil {
			fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Handle --chart: render from a report file without starting the TUI.
	if *chartFlag != "" {
		if err := renderChart(cfg, *chartFlag, *chartFromFlag, *chartJSONFlag); err != nil {
			fmt.Fprintf(os.Stderr, "Chart export failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	dbPath := *dbFlag
	if dbPath == "" {
		dbPath = cfg.Database.ResolvedPath()
	}
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot create data directory: %v\n", err)
			os.Exit(1)
		}
	}

	store, err := datasource.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open job archive %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer store.Close()

	// First run against an empty archive gets demo rows so there is
	// something to browse.
	if n, err := store.Seed(context.Background(), datasource.SeedOptions{Count: cfg.Database.SeedJobs}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: seeding demo jobs failed: %v\n", err)
	} else if n > 0 {
		debug.Log("seeded %d demo jobs into %s", n, dbPath)
	}

	agg := metrics.New(metrics.Config{
		FreezeThreshold: cfg.Metrics.FreezeThreshold(),
		ReportInterval:  cfg.Metrics.ReportInterval(),
		ReportDir:       cfg.Metrics.ResolvedReportDir(),
	})
	if err := agg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot start metrics aggregator: %v\n", err)
		os.Exit(1)
	}
	defer agg.Stop()

	runner := task.NewRunner(task.Config{
		Workers:      cfg.Runner.Workers,
		QueueSize:    cfg.Runner.QueueSize,
		ResultBuffer: cfg.Runner.ResultBuffer,
		Observe: func(name string, d time.Duration) {
			agg.Record(metrics.KindBackgroundTask, name, d)
		},
	})
	if err := runner.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot start task runner: %v\n", err)
		os.Exit(1)
	}
	defer runner.Stop()

	// Watch the config file so threshold and cadence edits apply live.
	// No watcher when the file doesn't exist yet; --setup creates it.
	var w *watcher.Watcher
	if _, statErr := os.Stat(cfgPath); statErr == nil {
		if cw, err := watcher.New(cfgPath); err == nil {
			if err := cw.Start(); err == nil {
				w = cw
				defer w.Stop()
			} else {
				debug.Log("config watcher start failed: %v", err)
			}
		} else {
			debug.Log("config watcher unavailable: %v", err)
		}
	}

	m := ui.NewModel(ui.Deps{
		Store:      store,
		Runner:     runner,
		Aggregator: agg,
		Watcher:    w,
		Config:     cfg,
		ConfigPath: cfgPath,
	})

	if err := runTUIProgram(m); err != nil {
		fmt.Fprintf(os.Stderr, "Error running tw: %v\n", err)
		os.Exit(1)
	}
}

func runTUIProgram(m ui.Model) error {
	p := tea.NewProgram(
		m,
		tea.WithAltScreen(),
		tea.WithoutSignalHandler(),
	)

	runDone := make(chan struct{})
	defer close(runDone)

	// Graceful shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-runDone:
			return
		case <-sigCh:
		}

		p.Quit()

		select {
		case <-runDone:
			return
		case <-sigCh:
		case <-time.After(5 * time.Second):
		}

		p.Kill()
	}()

	_, err := p.Run()
	if err != nil && (errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, tea.ErrInterrupted)) {
		return nil
	}
	return err
}

// chartSource picks the report file to chart: an explicit --chart-from
// wins, otherwise today's report in the configured report directory.
func chartSource(cfg config.Config, from string, now time.Time) string {
	if from != "" {
		return from
	}
	return filepath.Join(cfg.Metrics.ResolvedReportDir(), metrics.ReportFileName(now))
}

func renderChart(cfg config.Config, outPath, fromPath string, sidecar bool) error {
	src := chartSource(cfg, fromPath, time.Now())
	windows, err := metrics.ParseReportFile(src)
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		return fmt.Errorf("no complete windows in %s", src)
	}

	if err := export.SaveChart(export.ChartOptions{
		Path:        outPath,
		Title:       "Session Performance",
		Windows:     windows,
		JSONSidecar: sidecar,
	}); err != nil {
		return err
	}

	fmt.Printf("Chart written to %s (%d windows from %s)\n", outPath, len(windows), src)
	return nil
}
