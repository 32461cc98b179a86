// Package task implements off-thread execution of blocking work for a
// single-threaded terminal UI.
//
// A Runner owns one worker goroutine (more are possible, see Config.Workers)
// that pulls submitted callables from a task queue, executes them, and places
// their outcomes on a result queue. The UI goroutine drains that queue on its
// own tick via DrainAndDispatch, which invokes completion callbacks in place.
// Nothing a submitted callable does - return, fail, or panic - can stop the
// worker loop.
package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

// ID identifies a submitted task. IDs are unique per Runner and never reused.
type ID uint64

// Func is a unit of background work. It runs on a worker goroutine and must
// not touch UI state. The context is cancelled when the Runner stops, so
// long-running work can bail out early; nothing forces it to.
type Func func(ctx context.Context) (any, error)

// Result is the outcome of one executed task. Exactly one of Value and Err
// is populated.
type Result struct {
	ID    ID
	Value any
	Err   error
}

// Sentinel errors returned by Submit.
var (
	ErrRunnerStopped = errors.New("task: runner stopped")
	ErrQueueFull     = errors.New("task: queue full")
)

// TaskError wraps a panic raised inside a submitted Func. Errors returned
// normally by a Func are passed through to OnError unwrapped so callers can
// keep using errors.Is against their own sentinels.
type TaskError struct {
	ID       ID
	Name     string
	Cause    error
	Panicked bool
	Time     time.Time
}

func (e *TaskError) Error() string {
	label := e.Name
	if label == "" {
		label = fmt.Sprintf("task %d", e.ID)
	}
	if e.Panicked {
		return fmt.Sprintf("%s panicked: %v", label, e.Cause)
	}
	return fmt.Sprintf("%s failed: %v", label, e.Cause)
}

func (e *TaskError) Unwrap() error {
	return e.Cause
}

// LogLevel controls runner log verbosity.
type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelError
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "none"
	}
}

func parseLogLevel(raw string) LogLevel {
	value := strings.TrimSpace(strings.ToLower(raw))
	switch value {
	case "none", "off", "0":
		return LogLevelNone
	case "error", "err", "1":
		return LogLevelError
	case "warn", "warning", "2":
		return LogLevelWarn
	case "info", "3":
		return LogLevelInfo
	case "debug", "4":
		return LogLevelDebug
	default:
		return LogLevelWarn
	}
}

// Config configures a Runner. The zero value is usable; NewRunner fills in
// defaults.
type Config struct {
	// Workers is the number of worker goroutines. The default of 1
	// guarantees tasks execute in submission order (FIFO) and results are
	// produced in that same order. Setting Workers > 1 buys throughput at
	// the documented cost of losing cross-task ordering.
	Workers int

	// QueueSize bounds the task queue. Submit never blocks: when the queue
	// is full it returns ErrQueueFull. Default 256.
	QueueSize int

	// ResultBuffer bounds the result queue. The worker blocks briefly when
	// it is full, which only happens if the UI stops draining. Default 1024.
	ResultBuffer int

	// StopTimeout bounds how long Stop waits for workers to finish their
	// in-flight task. Default 5s.
	StopTimeout time.Duration

	// Observe, when non-nil, is called after every task execution with the
	// task's name and wall duration. The application wires this to the
	// metrics aggregator; the Runner itself knows nothing about metrics.
	Observe func(name string, d time.Duration)

	// LogLevel gates the runner's structured log events. When zero the
	// TW_TASK_LOG_LEVEL environment variable is consulted (default warn).
	LogLevel LogLevel
}

type taskEnvelope struct {
	id          ID
	name        string
	fn          Func
	submittedAt time.Time
}

type callbackEntry struct {
	name       string
	onComplete func(any)
	onError    func(error)
	live       *Liveness
}

// RunnerStats is a point-in-time counter snapshot, safe to read from any
// goroutine.
type RunnerStats struct {
	Submitted     uint64
	Executed      uint64
	Failed        uint64
	Panicked      uint64
	Dispatched    uint64
	DroppedAtStop uint64
	QueueDepth    int
	ResultDepth   int
}

// Runner owns the worker goroutine(s) and the task/result queue pair.
// Construct with NewRunner, then Start; Stop drops queued tasks.
type Runner struct {
	cfg Config

	tasks   chan taskEnvelope
	results chan Result

	mu        sync.Mutex
	callbacks map[ID]callbackEntry
	started   bool
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	nextID atomic.Uint64

	submitted     atomic.Uint64
	executed      atomic.Uint64
	failed        atomic.Uint64
	panicked      atomic.Uint64
	dispatched    atomic.Uint64
	droppedAtStop atomic.Uint64

	logLevel LogLevel
}

// NewRunner creates a Runner. Call Start before submitting.
func NewRunner(cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.ResultBuffer <= 0 {
		cfg.ResultBuffer = 1024
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	level := cfg.LogLevel
	if level == LogLevelNone {
		if raw, ok := os.LookupEnv("TW_TASK_LOG_LEVEL"); ok {
			level = parseLogLevel(raw)
		} else {
			level = LogLevelWarn
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:       cfg,
		tasks:     make(chan taskEnvelope, cfg.QueueSize),
		results:   make(chan Result, cfg.ResultBuffer),
		callbacks: make(map[ID]callbackEntry),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		logLevel:  level,
	}
}

// Start launches the worker goroutines. Start is idempotent; it returns an
// error if the Runner has already been stopped.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRunnerStopped
	}
	if r.started {
		r.mu.Unlock()
		return nil
	}
	r.started = true
	workers := r.cfg.Workers
	r.mu.Unlock()

	r.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go r.workerLoop(i)
	}
	go func() {
		r.wg.Wait()
		close(r.done)
	}()

	r.logEvent(LogLevelInfo, "runner_start", map[string]any{
		"workers":    workers,
		"queue_size": r.cfg.QueueSize,
	})
	return nil
}

// Stop halts the Runner. The in-flight task (if any) finishes; tasks still
// queued are dropped - not executed, not reported - and the drop is logged.
// Stop is idempotent and waits at most Config.StopTimeout for the workers.
func (r *Runner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	wasStarted := r.started
	r.mu.Unlock()

	r.cancel()

	if wasStarted {
		select {
		case <-r.done:
		case <-time.After(r.cfg.StopTimeout):
			r.logEvent(LogLevelWarn, "shutdown_timeout", nil)
		}
	}

	// Count the tasks that never ran. The channel is never closed, so this
	// drain is the only consumer left.
	dropped := 0
	for {
		select {
		case <-r.tasks:
			dropped++
		default:
			if dropped > 0 {
				r.droppedAtStop.Add(uint64(dropped))
				r.logEvent(LogLevelWarn, "tasks_dropped", map[string]any{
					"count": dropped,
				})
			}
			r.logEvent(LogLevelInfo, "runner_stop", map[string]any{
				"executed": r.executed.Load(),
			})
			return
		}
	}
}

// SubmitOption customizes a single submission.
type SubmitOption func(*callbackEntry)

// WithName labels the task for metrics and log events.
func WithName(name string) SubmitOption {
	return func(e *callbackEntry) { e.name = name }
}

// OnComplete registers a callback invoked on the UI goroutine with the
// task's return value.
func OnComplete(fn func(any)) SubmitOption {
	return func(e *callbackEntry) { e.onComplete = fn }
}

// OnError registers a callback invoked on the UI goroutine with the task's
// error.
func OnError(fn func(error)) SubmitOption {
	return func(e *callbackEntry) { e.onError = fn }
}

// WithLiveness ties the submission's callbacks to a UI context: if the token
// is cancelled before the result is dispatched, the callbacks are pruned
// without being invoked.
func WithLiveness(l *Liveness) SubmitOption {
	return func(e *callbackEntry) { e.live = l }
}

// Submit enqueues fn for background execution and returns immediately with
// its task ID. Callbacks are registered only when at least one of OnComplete
// and OnError is supplied; a submission without either is fire-and-forget.
// After Stop has begun, Submit returns ErrRunnerStopped and the task never
// executes.
func (r *Runner) Submit(fn Func, opts ...SubmitOption) (ID, error) {
	if fn == nil {
		return 0, errors.New("task: nil func")
	}

	var entry callbackEntry
	for _, opt := range opts {
		opt(&entry)
	}

	id := ID(r.nextID.Add(1))
	hasCallbacks := entry.onComplete != nil || entry.onError != nil

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return 0, ErrRunnerStopped
	}
	// Register before enqueueing so a fast worker can never produce a result
	// that races ahead of its callback entry.
	if hasCallbacks {
		r.callbacks[id] = entry
	}
	r.mu.Unlock()

	env := taskEnvelope{id: id, name: entry.name, fn: fn, submittedAt: time.Now()}
	select {
	case r.tasks <- env:
	default:
		if hasCallbacks {
			r.mu.Lock()
			delete(r.callbacks, id)
			r.mu.Unlock()
		}
		r.logEvent(LogLevelWarn, "queue_full", map[string]any{
			"task": entry.name,
		})
		return 0, ErrQueueFull
	}

	r.submitted.Add(1)
	r.logEvent(LogLevelDebug, "task_submitted", map[string]any{
		"id":   uint64(id),
		"task": entry.name,
	})
	return id, nil
}

func (r *Runner) workerLoop(worker int) {
	defer r.wg.Done()
	for {
		// Checked separately first: when shutdown and a queued task are both
		// ready, select would pick at random, and stop must win.
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		select {
		case <-r.ctx.Done():
			return
		case env := <-r.tasks:
			r.execute(worker, env)
		}
	}
}

// execute runs one task and enqueues its Result. Panics and errors are
// captured into the Result; neither can escape the worker loop.
func (r *Runner) execute(worker int, env taskEnvelope) {
	start := time.Now()
	value, err := r.safeInvoke(env)
	elapsed := time.Since(start)

	r.executed.Add(1)
	if err != nil {
		r.failed.Add(1)
	}
	if r.cfg.Observe != nil {
		r.cfg.Observe(env.name, elapsed)
	}
	r.logEvent(LogLevelDebug, "task_executed", map[string]any{
		"id":      uint64(env.id),
		"task":    env.name,
		"worker":  worker,
		"ms":      float64(elapsed.Microseconds()) / 1000.0,
		"failed":  err != nil,
		"wait_ms": float64(start.Sub(env.submittedAt).Microseconds()) / 1000.0,
	})

	res := Result{ID: env.id}
	if err != nil {
		res.Err = err
	} else {
		res.Value = value
	}

	// The in-flight task's result is always enqueued when there is room,
	// even during shutdown. Blocking only happens when the UI has stopped
	// draining, and shutdown still unblocks us then.
	select {
	case r.results <- res:
	default:
		select {
		case r.results <- res:
		case <-r.ctx.Done():
		}
	}
}

// safeInvoke executes the task's Func and recovers from any panic. A panic
// becomes a *TaskError with Panicked set; a returned error passes through
// untouched.
func (r *Runner) safeInvoke(env taskEnvelope) (value any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.panicked.Add(1)
			value = nil
			err = &TaskError{
				ID:       env.id,
				Name:     env.name,
				Panicked: true,
				Cause:    fmt.Errorf("panic: %v\n%s", rec, debug.Stack()),
				Time:     time.Now(),
			}
		}
	}()
	value, err = env.fn(r.ctx)
	return value, err
}

// Stats returns a snapshot of the runner's counters.
func (r *Runner) Stats() RunnerStats {
	return RunnerStats{
		Submitted:     r.submitted.Load(),
		Executed:      r.executed.Load(),
		Failed:        r.failed.Load(),
		Panicked:      r.panicked.Load(),
		Dispatched:    r.dispatched.Load(),
		DroppedAtStop: r.droppedAtStop.Load(),
		QueueDepth:    len(r.tasks),
		ResultDepth:   len(r.results),
	}
}

// Pending reports how many results are waiting to be drained.
func (r *Runner) Pending() int {
	return len(r.results)
}

// Done is closed once all workers have exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) logEvent(level LogLevel, event string, fields map[string]any) {
	if r == nil || level == LogLevelNone {
		return
	}
	if r.logLevel == LogLevelNone || level > r.logLevel {
		return
	}

	payload := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level.String(),
		"component": "task_runner",
		"event":     event,
	}
	for k, v := range fields {
		payload[k] = v
	}
	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("task runner: failed to marshal log event %s: %v", event, err)
		return
	}
	log.Printf("%s", b)
}
