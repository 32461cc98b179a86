// Package metrics aggregates performance samples into fixed reporting
// windows for tw.
//
// Three kinds of events are tracked:
//   - ui_freeze: event loop stalls at or above a configurable threshold
//   - db_operation: datastore calls
//   - background_task: work executed off the UI loop
//
// Samples may be recorded from any goroutine; a single aggregation
// goroutine consumes them and closes each window on a timer. Closing a
// window emits one structured log line and appends one human-readable
// block to a per-day report file, then resets all counters.
//
// Collection is enabled by default but can be disabled via TW_METRICS=0.
//
// Usage:
//
//	defer agg.Timer(metrics.KindDBOperation, "load_jobs")()
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"gonum.org/v1/gonum/stat"
)

// enabled controls whether samples are collected.
// Defaults to true unless TW_METRICS=0 is set.
var enabled = os.Getenv("TW_METRICS") != "0"

// Enabled returns whether metrics collection is enabled.
func Enabled() bool {
	return enabled
}

// SetEnabled allows programmatic control of metrics collection.
func SetEnabled(e bool) {
	enabled = e
}

// Kind identifies the class of event a sample belongs to.
type Kind string

const (
	KindUIFreeze       Kind = "ui_freeze"
	KindDBOperation    Kind = "db_operation"
	KindBackgroundTask Kind = "background_task"
)

// Defaults for Config fields left at their zero value.
const (
	DefaultFreezeThreshold = 500 * time.Millisecond
	DefaultReportInterval  = 5 * time.Minute
	DefaultHistorySize     = 288
	DefaultSampleBuffer    = 1024
	DefaultStopTimeout     = 5 * time.Second
)

// maxSamplesPerKind bounds the per-window sample set used for
// percentiles. Once full, new samples overwrite the oldest.
const maxSamplesPerKind = 2048

// ErrNotRunning is returned by FlushNow when the aggregator has not been
// started or has already been stopped.
var ErrNotRunning = errors.New("metrics: aggregator not running")

// State describes where the aggregator is in its window cycle.
type State int32

const (
	// StateIdle means no window is open: the aggregator has not been
	// started, or it has been stopped.
	StateIdle State = iota
	// StateAccumulating means a window is open and accepting samples.
	StateAccumulating
	// StateFlushing means the current window is being closed out.
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config controls aggregation behavior. Zero values fall back to the
// package defaults above.
type Config struct {
	// FreezeThreshold is the minimum duration for a ui_freeze sample to
	// be counted at all. Shorter freezes are discarded at record time.
	FreezeThreshold time.Duration

	// ReportInterval is how often an open window is flushed.
	ReportInterval time.Duration

	// ReportDir is where per-day report files are written.
	ReportDir string

	// HistorySize is how many flushed windows are retained in memory.
	HistorySize int

	// SampleBuffer is the capacity of the record queue. Record never
	// blocks: samples that do not fit are counted as dropped.
	SampleBuffer int

	// StopTimeout bounds how long Stop waits for the final flush.
	StopTimeout time.Duration
}

func (c *Config) fillDefaults() {
	if c.FreezeThreshold <= 0 {
		c.FreezeThreshold = DefaultFreezeThreshold
	}
	if c.ReportInterval <= 0 {
		c.ReportInterval = DefaultReportInterval
	}
	if c.ReportDir == "" {
		c.ReportDir = "."
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.SampleBuffer <= 0 {
		c.SampleBuffer = DefaultSampleBuffer
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
}

type sample struct {
	kind Kind
	name string
	d    time.Duration
}

type flushRequest struct {
	reason string
	result chan WindowReport
}

// kindWindow tracks one kind's statistics for the open window. Counters
// are atomic so the UI can read a live view without locking; the sample
// set and slowest-operation name are touched only by the aggregation
// goroutine.
type kindWindow struct {
	count   atomic.Int64
	totalNs atomic.Int64
	maxNs   atomic.Int64

	slowest string
	samples []float64 // milliseconds
	next    int
}

func (w *kindWindow) observe(name string, d time.Duration) {
	ns := d.Nanoseconds()
	w.count.Add(1)
	w.totalNs.Add(ns)
	for {
		old := w.maxNs.Load()
		if ns <= old {
			break
		}
		if w.maxNs.CompareAndSwap(old, ns) {
			w.slowest = name
			break
		}
	}

	ms := float64(ns) / 1e6
	if len(w.samples) < maxSamplesPerKind {
		w.samples = append(w.samples, ms)
	} else {
		w.samples[w.next] = ms
		w.next = (w.next + 1) % maxSamplesPerKind
	}
}

func (w *kindWindow) stats() KindStats {
	count := w.count.Load()
	totalNs := w.totalNs.Load()
	maxNs := w.maxNs.Load()

	var avgNs int64
	if count > 0 {
		avgNs = totalNs / count
	}
	return KindStats{
		Count: count,
		AvgMs: float64(avgNs) / 1e6,
		MaxMs: float64(maxNs) / 1e6,
	}
}

// statsWithQuantiles extends stats with percentiles over the retained
// samples. Aggregation goroutine only.
func (w *kindWindow) statsWithQuantiles() KindStats {
	s := w.stats()
	s.Slowest = w.slowest
	if len(w.samples) == 0 {
		return s
	}
	sorted := append([]float64(nil), w.samples...)
	sort.Float64s(sorted)
	s.P50Ms = stat.Quantile(0.50, stat.Empirical, sorted, nil)
	s.P95Ms = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	s.P99Ms = stat.Quantile(0.99, stat.Empirical, sorted, nil)
	return s
}

func (w *kindWindow) reset() {
	w.count.Store(0)
	w.totalNs.Store(0)
	w.maxNs.Store(0)
	w.slowest = ""
	w.samples = w.samples[:0]
	w.next = 0
}

// KindStats is a snapshot of one kind's statistics for a window.
type KindStats struct {
	Count   int64   `json:"count"`
	AvgMs   float64 `json:"avg_ms"`
	MaxMs   float64 `json:"max_ms"`
	P50Ms   float64 `json:"p50_ms,omitempty"`
	P95Ms   float64 `json:"p95_ms,omitempty"`
	P99Ms   float64 `json:"p99_ms,omitempty"`
	Slowest string  `json:"slowest,omitempty"`
}

// WindowReport is a closed (or, via Current, still-open) reporting window.
type WindowReport struct {
	Start     time.Time `json:"window_start"`
	End       time.Time `json:"window_end"`
	Reason    string    `json:"reason,omitempty"`
	UIFreezes KindStats `json:"ui_freeze"`
	DBOps     KindStats `json:"db_operation"`
	Tasks     KindStats `json:"background_task"`
	Dropped   int64     `json:"dropped_samples,omitempty"`
}

// Empty reports whether the window saw no samples at all.
func (r WindowReport) Empty() bool {
	return r.UIFreezes.Count == 0 && r.DBOps.Count == 0 && r.Tasks.Count == 0
}

// Aggregator collects samples into reporting windows.
//
// The zero value is not usable; create one with New, then Start it.
type Aggregator struct {
	cfg Config

	sampleCh chan sample
	flushCh  chan flushRequest

	mu      sync.Mutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	state             atomic.Int32
	windowStartNs     atomic.Int64
	freezeThresholdNs atomic.Int64
	reportIntervalNs  atomic.Int64
	dropped           atomic.Int64

	freezes kindWindow
	dbOps   kindWindow
	tasks   kindWindow

	histMu  sync.Mutex
	history []WindowReport
}

// New creates an aggregator. Call Start before recording has any effect
// beyond filling the sample buffer.
func New(cfg Config) *Aggregator {
	cfg.fillDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	a := &Aggregator{
		cfg:      cfg,
		sampleCh: make(chan sample, cfg.SampleBuffer),
		flushCh:  make(chan flushRequest),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	a.freezeThresholdNs.Store(int64(cfg.FreezeThreshold))
	a.reportIntervalNs.Store(int64(cfg.ReportInterval))
	a.windowStartNs.Store(time.Now().UnixNano())
	return a
}

// Start opens the first window and launches the aggregation goroutine.
// Starting twice is a no-op; starting after Stop is an error.
func (a *Aggregator) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return ErrNotRunning
	}
	if a.started {
		return nil
	}
	a.started = true
	a.windowStartNs.Store(time.Now().UnixNano())
	a.state.Store(int32(StateAccumulating))
	go a.loop()
	return nil
}

// Stop closes the current window with a final flush and shuts the
// aggregator down. It is safe to call more than once.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	wasStarted := a.started
	a.mu.Unlock()

	a.cancel()
	if !wasStarted {
		a.state.Store(int32(StateIdle))
		return
	}

	select {
	case <-a.done:
	case <-time.After(a.cfg.StopTimeout):
		a.logEvent("error", "shutdown_timeout", map[string]any{
			"timeout_ms": a.cfg.StopTimeout.Milliseconds(),
		})
	}
}

// Record adds one sample to the open window. It never blocks: when the
// sample buffer is full the sample is counted as dropped. Freezes below
// the threshold are discarded entirely and appear in no counter.
func (a *Aggregator) Record(kind Kind, name string, d time.Duration) {
	if !enabled {
		return
	}
	if kind == KindUIFreeze && d < a.FreezeThreshold() {
		return
	}
	switch kind {
	case KindUIFreeze, KindDBOperation, KindBackgroundTask:
	default:
		a.dropped.Add(1)
		return
	}
	select {
	case a.sampleCh <- sample{kind: kind, name: name, d: d}:
	default:
		a.dropped.Add(1)
	}
}

// FlushNow closes the current window immediately and returns its report.
// The next window opens at once; the interval timer restarts.
func (a *Aggregator) FlushNow() (WindowReport, error) {
	a.mu.Lock()
	running := a.started && !a.stopped
	a.mu.Unlock()
	if !running {
		return WindowReport{}, ErrNotRunning
	}

	req := flushRequest{reason: "manual", result: make(chan WindowReport, 1)}
	select {
	case a.flushCh <- req:
	case <-a.ctx.Done():
		return WindowReport{}, ErrNotRunning
	}
	select {
	case r := <-req.result:
		return r, nil
	case <-a.ctx.Done():
		return WindowReport{}, ErrNotRunning
	}
}

// Current returns a live view of the open window. Percentiles and
// slowest-operation names are only computed at flush time and are zero
// here.
func (a *Aggregator) Current() WindowReport {
	return WindowReport{
		Start:     time.Unix(0, a.windowStartNs.Load()),
		End:       time.Now(),
		UIFreezes: a.freezes.stats(),
		DBOps:     a.dbOps.stats(),
		Tasks:     a.tasks.stats(),
		Dropped:   a.dropped.Load(),
	}
}

// History returns flushed windows, oldest first.
func (a *Aggregator) History() []WindowReport {
	a.histMu.Lock()
	defer a.histMu.Unlock()
	return append([]WindowReport(nil), a.history...)
}

// State returns the aggregator's current lifecycle state.
func (a *Aggregator) State() State {
	return State(a.state.Load())
}

// FreezeThreshold returns the effective ui_freeze threshold.
func (a *Aggregator) FreezeThreshold() time.Duration {
	return time.Duration(a.freezeThresholdNs.Load())
}

// SetFreezeThreshold changes the ui_freeze threshold. Takes effect for
// samples recorded after the call; non-positive values are ignored.
func (a *Aggregator) SetFreezeThreshold(d time.Duration) {
	if d > 0 {
		a.freezeThresholdNs.Store(int64(d))
	}
}

// ReportInterval returns the effective window length.
func (a *Aggregator) ReportInterval() time.Duration {
	return time.Duration(a.reportIntervalNs.Load())
}

// SetReportInterval changes the window length. Takes effect when the
// current window closes; non-positive values are ignored.
func (a *Aggregator) SetReportInterval(d time.Duration) {
	if d > 0 {
		a.reportIntervalNs.Store(int64(d))
	}
}

// ReportDir returns where report files are written.
func (a *Aggregator) ReportDir() string {
	return a.cfg.ReportDir
}

func (a *Aggregator) loop() {
	defer close(a.done)

	timer := time.NewTimer(a.ReportInterval())
	defer timer.Stop()

	rearm := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(a.ReportInterval())
	}

	for {
		select {
		case <-a.ctx.Done():
			a.drainPending()
			a.flush("shutdown", time.Now())
			a.state.Store(int32(StateIdle))
			return
		case s := <-a.sampleCh:
			a.observe(s)
		case <-timer.C:
			a.drainPending()
			a.flush("interval", time.Now())
			timer.Reset(a.ReportInterval())
		case req := <-a.flushCh:
			a.drainPending()
			req.result <- a.flush(req.reason, time.Now())
			rearm()
		}
	}
}

// drainPending consumes samples already sitting in the buffer so they
// land in the window about to close.
func (a *Aggregator) drainPending() {
	for {
		select {
		case s := <-a.sampleCh:
			a.observe(s)
		default:
			return
		}
	}
}

func (a *Aggregator) observe(s sample) {
	switch s.kind {
	case KindUIFreeze:
		a.freezes.observe(s.name, s.d)
	case KindDBOperation:
		a.dbOps.observe(s.name, s.d)
	case KindBackgroundTask:
		a.tasks.observe(s.name, s.d)
	}
}

// flush closes the window: snapshot, report file, log line, history,
// reset. Aggregation goroutine only.
func (a *Aggregator) flush(reason string, now time.Time) WindowReport {
	a.state.Store(int32(StateFlushing))
	defer a.state.Store(int32(StateAccumulating))

	report := WindowReport{
		Start:     time.Unix(0, a.windowStartNs.Load()),
		End:       now,
		Reason:    reason,
		UIFreezes: a.freezes.statsWithQuantiles(),
		DBOps:     a.dbOps.statsWithQuantiles(),
		Tasks:     a.tasks.statsWithQuantiles(),
		Dropped:   a.dropped.Swap(0),
	}

	if err := appendReport(a.cfg.ReportDir, report); err != nil {
		a.logEvent("error", "report_write_failed", map[string]any{"error": err.Error()})
	}
	a.logEvent("info", "metrics_flush", map[string]any{"report": report})

	a.histMu.Lock()
	a.history = append(a.history, report)
	if len(a.history) > a.cfg.HistorySize {
		a.history = a.history[len(a.history)-a.cfg.HistorySize:]
	}
	a.histMu.Unlock()

	a.freezes.reset()
	a.dbOps.reset()
	a.tasks.reset()
	a.windowStartNs.Store(now.UnixNano())
	return report
}

func (a *Aggregator) logEvent(level, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"component": "metrics",
		"event":     event,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf(`{"level":"error","component":"metrics","event":"log_marshal_failed"}`)
		return
	}
	log.Printf("%s", b)
}
