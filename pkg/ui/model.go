package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/vanderheijden86/threadwork/internal/datasource"
	"github.com/vanderheijden86/threadwork/pkg/chunk"
	"github.com/vanderheijden86/threadwork/pkg/config"
	"github.com/vanderheijden86/threadwork/pkg/export"
	"github.com/vanderheijden86/threadwork/pkg/metrics"
	"github.com/vanderheijden86/threadwork/pkg/task"
	"github.com/vanderheijden86/threadwork/pkg/watcher"
)

// jobListLimit caps how many rows a refresh pulls into the table.
const jobListLimit = 200

// archiveOlderThan is how long a finished job must have sat unchanged
// before the bulk archive picks it up.
const archiveOlderThan = 24 * time.Hour

// refreshPayload is what a refresh task hands back through its callback.
type refreshPayload struct {
	jobs   []datasource.Job
	counts map[datasource.JobStatus]int
}

// inbox collects what result callbacks deposit during a drain pass.
// Callbacks run on the UI goroutine inside Update, so plain fields are
// safe; the model applies and clears them right after each drain.
type inbox struct {
	refresh    *refreshPayload
	stats      *datasource.Stats
	archivable []int64
	scanDone   bool
	chartPath  string
	failures   []string
	settled    int
}

// Deps carries the model's collaborators. Everything is constructed and
// started in cmd/tw; the model never builds its own. Watcher may be nil
// when no config file exists, the rest is required.
type Deps struct {
	Store      *datasource.Store
	Runner     *task.Runner
	Aggregator *metrics.Aggregator
	Watcher    *watcher.Watcher
	Config     config.Config
	ConfigPath string
}

// Model is the Bubble Tea model for the job archive browser.
//
// Access is safe without locks because Bubble Tea ensures Update() and
// View() don't run concurrently.
type Model struct {
	store  *datasource.Store
	runner *task.Runner
	agg    *metrics.Aggregator
	watch  *watcher.Watcher
	live   *task.Liveness

	cfg     config.Config
	cfgPath string

	theme Theme
	md    *glamour.TermRenderer

	in *inbox

	width  int
	height int
	ready  bool

	jobs     []datasource.Job
	counts   map[datasource.JobStatus]int
	stats    *datasource.Stats
	selected int

	warmupDone bool

	archiver *chunk.Processor[int64]

	busy int
	spin spinner.Model
	bar  progress.Model

	showMetrics     bool
	showHelp        bool
	showQuitConfirm bool
	helpVP          viewport.Model

	statusMsg     string
	statusIsError bool

	lastHeartbeat time.Time
	pollInterval  time.Duration

	quitting bool
}

// NewModel builds the model around injected collaborators.
func NewModel(deps Deps) Model {
	theme := DefaultTheme(lipgloss.NewRenderer(os.Stdout))

	// Default dimensions for immediate ready state (updated when
	// WindowSizeMsg arrives), so slow terminals never sit on a blank
	// "Initializing..." frame.
	const defaultWidth = 120
	const defaultHeight = 40

	m := Model{
		store:   deps.Store,
		runner:  deps.Runner,
		agg:     deps.Aggregator,
		watch:   deps.Watcher,
		live:    task.NewLiveness(),
		cfg:     deps.Config,
		cfgPath: deps.ConfigPath,
		theme:   theme,
		md:      newHelpRenderer(),
		in:      &inbox{},
		width:   defaultWidth,
		height:  defaultHeight,
		ready:   true,
		counts:  make(map[datasource.JobStatus]int),
		helpVP:  viewport.New(helpModalWidth-6, defaultHeight-10),
		spin:    spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(theme.PrimaryBold)),
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
	m.pollInterval = m.pollIdle()
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		heartbeatTickCmd(),
		resultTickCmd(m.pollInterval),
	}
	if m.store != nil {
		cmds = append(cmds, warmupCmd(m.store, jobListLimit))
	}
	if c := autoCloseCmd(); c != nil {
		cmds = append(cmds, c)
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.syncHelpViewport()
		return m, nil

	case warmupMsg:
		m.warmupDone = true
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("warmup failed: %v", msg.err)
			m.statusIsError = true
			return m, nil
		}
		res := msg.res
		m.jobs = res.Jobs
		m.counts = res.Counts
		st := res.Stats
		m.stats = &st
		m.clampSelection()
		m.agg.Record(metrics.KindDBOperation, "warmup", res.Elapsed)
		m.statusMsg = fmt.Sprintf("loaded %d jobs in %s", len(res.Jobs), res.Elapsed.Round(time.Millisecond))
		m.statusIsError = false
		return m, nil

	case resultTickMsg:
		if m.quitting {
			return m, nil
		}
		m.drainConfigChange()
		start := time.Now()
		n := m.runner.DrainAndDispatch(m.live)
		if elapsed := time.Since(start); elapsed > time.Second {
			// A drain that slow is loop work worth seeing in the report.
			m.agg.Record(metrics.KindBackgroundTask, "result-drain", elapsed)
		}
		m.applyInbox()
		if n > 0 || m.busy > 0 {
			m.pollInterval = m.pollActive()
		} else {
			m.pollInterval = m.pollIdle()
		}
		return m, resultTickCmd(m.pollInterval)

	case heartbeatTickMsg:
		if m.quitting {
			return m, nil
		}
		m.observeHeartbeat(time.Time(msg))
		if m.busy > 0 || m.archiver != nil {
			// One frame per heartbeat. A zero TickMsg passes the
			// spinner's ID check; its re-arm cmd is dropped.
			m.spin, _ = m.spin.Update(spinner.TickMsg{})
		}
		m.stepArchiver()
		return m, heartbeatTickCmd()

	case autoCloseMsg:
		return m.beginQuit()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m.beginQuit()
	}

	// Quit confirmation first
	if m.showQuitConfirm {
		switch msg.String() {
		case "esc", "y", "Y":
			return m.beginQuit()
		default:
			m.showQuitConfirm = false
			return m, nil
		}
	}

	// Help overlay swallows everything except its own keys
	if m.showHelp {
		switch msg.String() {
		case "esc", "?", "q":
			m.showHelp = false
		default:
			var cmd tea.Cmd
			m.helpVP, cmd = m.helpVP.Update(msg)
			return m, cmd
		}
		return m, nil
	}

	switch msg.String() {
	case "q", "esc":
		m.showQuitConfirm = true
	case "?":
		m.openHelp()
	case "j", "down":
		if m.selected < len(m.jobs)-1 {
			m.selected++
		}
	case "k", "up":
		if m.selected > 0 {
			m.selected--
		}
	case "g":
		m.selected = 0
	case "G":
		if len(m.jobs) > 0 {
			m.selected = len(m.jobs) - 1
		}
	case "r":
		m.submitRefresh()
	case "s":
		m.submitStats()
	case "x":
		m.submitArchiveScan()
	case "f":
		m.simulateStall()
	case "p":
		m.showMetrics = !m.showMetrics
	case "e":
		m.submitChartExport()
	case "y":
		m.yankReportPath()
	}
	return m, nil
}

// beginQuit cancels the liveness token so late results drop their
// callbacks, then hands control back to Bubble Tea. Runner and aggregator
// shutdown runs in main after the program loop exits.
func (m Model) beginQuit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.live.Cancel()
	return m, tea.Quit
}

// drainConfigChange applies a pending config-file change, if any. The
// watcher delivers at most one notification; draining it on the poll tick
// keeps the reload on the UI goroutine.
func (m *Model) drainConfigChange() {
	if m.watch == nil {
		return
	}
	select {
	case <-m.watch.Changed():
	default:
		return
	}
	fresh, err := config.LoadFrom(m.cfgPath)
	if err != nil {
		m.statusMsg = fmt.Sprintf("config reload failed: %v", err)
		m.statusIsError = true
		return
	}
	fresh.ApplyEnv()
	m.cfg = fresh
	m.agg.SetFreezeThreshold(fresh.Metrics.FreezeThreshold())
	m.agg.SetReportInterval(fresh.Metrics.ReportInterval())
	m.statusMsg = "config reloaded"
	m.statusIsError = false
}

// applyInbox moves everything the drain callbacks deposited onto the model.
func (m *Model) applyInbox() {
	in := m.in
	if in.settled > 0 {
		m.busy -= in.settled
		if m.busy < 0 {
			m.busy = 0
		}
		in.settled = 0
	}
	if in.refresh != nil {
		m.jobs = in.refresh.jobs
		m.counts = in.refresh.counts
		m.clampSelection()
		m.statusMsg = fmt.Sprintf("%d jobs", len(m.jobs))
		m.statusIsError = false
		in.refresh = nil
	}
	if in.stats != nil {
		m.stats = in.stats
		m.statusMsg = fmt.Sprintf("archive: %d jobs, avg %s, max %s",
			in.stats.Total, formatMillis(in.stats.AvgDurationMs), formatMillis(float64(in.stats.MaxDurationMs)))
		m.statusIsError = false
		in.stats = nil
	}
	if in.scanDone {
		in.scanDone = false
		ids := in.archivable
		in.archivable = nil
		m.startArchiver(ids)
	}
	if in.chartPath != "" {
		m.statusMsg = "chart written to " + in.chartPath
		m.statusIsError = false
		in.chartPath = ""
	}
	if len(in.failures) > 0 {
		m.statusMsg = in.failures[len(in.failures)-1]
		m.statusIsError = true
		in.failures = in.failures[:0]
	}
}

// submitRefresh queues a job-list reload on the background worker. The
// closure only touches the store; results come back through the callback
// into the inbox.
func (m *Model) submitRefresh() {
	if m.runner == nil {
		return
	}
	store, agg, in := m.store, m.agg, m.in
	_, err := m.runner.Submit(func(ctx context.Context) (any, error) {
		stop := agg.Timer(metrics.KindDBOperation, "list_jobs")
		jobs, err := store.ListRecent(ctx, jobListLimit)
		stop()
		if err != nil {
			return nil, err
		}
		stop = agg.Timer(metrics.KindDBOperation, "count_by_status")
		counts, err := store.CountByStatus(ctx)
		stop()
		if err != nil {
			return nil, err
		}
		return refreshPayload{jobs: jobs, counts: counts}, nil
	},
		task.WithName("refresh_jobs"),
		task.WithLiveness(m.live),
		task.OnComplete(func(v any) {
			in.settled++
			if p, ok := v.(refreshPayload); ok {
				in.refresh = &p
			}
		}),
		task.OnError(func(err error) {
			in.settled++
			in.failures = append(in.failures, fmt.Sprintf("refresh failed: %v", err))
		}),
	)
	if err != nil {
		m.statusMsg = fmt.Sprintf("cannot refresh: %v", err)
		m.statusIsError = true
		return
	}
	m.busy++
	m.statusMsg = "refreshing…"
	m.statusIsError = false
}

// submitStats queues the archive statistics query.
func (m *Model) submitStats() {
	if m.runner == nil {
		return
	}
	store, agg, in := m.store, m.agg, m.in
	_, err := m.runner.Submit(func(ctx context.Context) (any, error) {
		stop := agg.Timer(metrics.KindDBOperation, "archive_stats")
		defer stop()
		return store.Stats(ctx)
	},
		task.WithName("archive_stats"),
		task.WithLiveness(m.live),
		task.OnComplete(func(v any) {
			in.settled++
			if st, ok := v.(datasource.Stats); ok {
				in.stats = &st
			}
		}),
		task.OnError(func(err error) {
			in.settled++
			in.failures = append(in.failures, fmt.Sprintf("stats failed: %v", err))
		}),
	)
	if err != nil {
		m.statusMsg = fmt.Sprintf("cannot compute stats: %v", err)
		m.statusIsError = true
		return
	}
	m.busy++
	m.statusMsg = "computing statistics…"
	m.statusIsError = false
}

// submitArchiveScan queues the id scan that feeds the chunked archive.
func (m *Model) submitArchiveScan() {
	if m.runner == nil {
		return
	}
	if m.archiver != nil {
		m.statusMsg = "archive already running"
		m.statusIsError = true
		return
	}
	store, agg, in := m.store, m.agg, m.in
	cutoff := time.Now().Add(-archiveOlderThan)
	_, err := m.runner.Submit(func(ctx context.Context) (any, error) {
		stop := agg.Timer(metrics.KindDBOperation, "archivable_ids")
		defer stop()
		return store.ArchivableIDs(ctx, cutoff)
	},
		task.WithName("archive_scan"),
		task.WithLiveness(m.live),
		task.OnComplete(func(v any) {
			in.settled++
			in.scanDone = true
			if ids, ok := v.([]int64); ok {
				in.archivable = ids
			}
		}),
		task.OnError(func(err error) {
			in.settled++
			in.failures = append(in.failures, fmt.Sprintf("archive scan failed: %v", err))
		}),
	)
	if err != nil {
		m.statusMsg = fmt.Sprintf("cannot archive: %v", err)
		m.statusIsError = true
		return
	}
	m.busy++
	m.statusMsg = "scanning for archivable jobs…"
	m.statusIsError = false
}

// startArchiver begins the chunked archive run over ids. One slice per
// heartbeat: see stepArchiver.
func (m *Model) startArchiver(ids []int64) {
	if m.archiver != nil {
		return
	}
	if len(ids) == 0 {
		m.statusMsg = "nothing old enough to archive"
		m.statusIsError = false
		return
	}
	store, agg := m.store, m.agg
	m.archiver = chunk.New(ids, func(batch []int64) error {
		stop := agg.Timer(metrics.KindDBOperation, "archive_jobs")
		defer stop()
		_, err := store.ArchiveJobs(context.Background(), batch)
		return err
	}, chunk.Config{
		Size: m.cfg.UI.ChunkSize,
		Live: m.live,
	})
	m.statusMsg = fmt.Sprintf("archiving %d jobs…", len(ids))
	m.statusIsError = false
}

// stepArchiver advances a running archive by one slice. One slice per
// heartbeat keeps each Update pass short enough to stay under the freeze
// threshold while the bar still moves every frame.
func (m *Model) stepArchiver() {
	if m.archiver == nil {
		return
	}
	more, err := m.archiver.Step()
	if err != nil {
		m.statusMsg = fmt.Sprintf("archive failed after %d jobs: %v", m.archiver.Processed(), err)
		m.statusIsError = true
		m.archiver = nil
		return
	}
	if more {
		return
	}
	processed := m.archiver.Processed()
	finished := processed == m.archiver.Total()
	m.archiver = nil
	if finished {
		m.submitRefresh()
		m.statusMsg = fmt.Sprintf("archived %d jobs", processed)
		m.statusIsError = false
	}
}

// submitChartExport renders the collected windows to an SVG off the UI
// goroutine. The window slice is assembled here so the task closure never
// touches the aggregator's mutable state.
func (m *Model) submitChartExport() {
	if m.runner == nil {
		return
	}
	windows := m.agg.History()
	if cur := m.agg.Current(); !cur.Empty() {
		windows = append(windows, cur)
	}
	if len(windows) == 0 {
		m.statusMsg = "no metrics to chart yet"
		m.statusIsError = true
		return
	}
	path := filepath.Join(m.cfg.Metrics.ResolvedReportDir(),
		"perf_chart_"+time.Now().Format("20060102-150405")+".svg")
	in := m.in
	_, err := m.runner.Submit(func(_ context.Context) (any, error) {
		err := export.SaveChart(export.ChartOptions{
			Path:    path,
			Title:   "Session Performance",
			Windows: windows,
		})
		return path, err
	},
		task.WithName("export_chart"),
		task.WithLiveness(m.live),
		task.OnComplete(func(v any) {
			in.settled++
			if p, ok := v.(string); ok {
				in.chartPath = p
			}
		}),
		task.OnError(func(err error) {
			in.settled++
			in.failures = append(in.failures, fmt.Sprintf("chart export failed: %v", err))
		}),
	)
	if err != nil {
		m.statusMsg = fmt.Sprintf("cannot export chart: %v", err)
		m.statusIsError = true
		return
	}
	m.busy++
	m.statusMsg = "exporting chart…"
	m.statusIsError = false
}

// yankReportPath copies today's report path so it can be pasted into a
// shell or a bug report.
func (m *Model) yankReportPath() {
	path := filepath.Join(m.cfg.Metrics.ResolvedReportDir(), metrics.ReportFileName(time.Now()))
	if err := clipboard.WriteAll(path); err != nil {
		m.statusMsg = fmt.Sprintf("clipboard: %v", err)
		m.statusIsError = true
		return
	}
	m.statusMsg = "report path copied"
	m.statusIsError = false
}

func (m *Model) clampSelection() {
	if m.selected >= len(m.jobs) {
		m.selected = len(m.jobs) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
}

// activeViewName labels freeze samples with what the user was looking at.
func (m Model) activeViewName() string {
	switch {
	case m.showQuitConfirm:
		return "quit-confirm"
	case m.showHelp:
		return "help"
	case m.showMetrics:
		return "jobs+metrics"
	default:
		return "jobs"
	}
}

func (m *Model) openHelp() {
	m.showHelp = true
	m.syncHelpViewport()
	m.helpVP.SetContent(m.helpContent())
	m.helpVP.GotoTop()
}

func (m *Model) syncHelpViewport() {
	w := helpModalWidth - 6
	if w > m.width-10 {
		w = m.width - 10
	}
	if w < 20 {
		w = 20
	}
	h := m.height - 8
	if h > 26 {
		h = 26
	}
	if h < 5 {
		h = 5
	}
	m.helpVP.Width = w
	m.helpVP.Height = h
}

func (m Model) pollActive() time.Duration {
	if d := m.cfg.UI.PollActive(); d > 0 {
		return d
	}
	return 100 * time.Millisecond
}

func (m Model) pollIdle() time.Duration {
	if d := m.cfg.UI.PollIdle(); d > 0 {
		return d
	}
	return 500 * time.Millisecond
}
