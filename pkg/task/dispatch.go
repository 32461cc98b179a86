package task

import (
	"fmt"
	"runtime/debug"
)

// DrainAndDispatch pops every result currently queued and invokes the
// matching callbacks in place. It never blocks: an empty result queue
// returns 0 immediately.
//
// Call it only from the UI goroutine, once per tick or poll interval.
// Because it already runs on the UI goroutine, callbacks are invoked
// directly and synchronously rather than being scheduled anywhere.
//
// live is the caller's own liveness token (usually the active view's); when
// it is dead, results are still drained and their callback entries pruned,
// but no callback runs. The returned count includes every result consumed,
// so callers can poll faster after a busy drain and back off when idle.
func (r *Runner) DrainAndDispatch(live *Liveness) int {
	count := 0
	for {
		select {
		case res := <-r.results:
			count++
			r.dispatched.Add(1)
			r.dispatchOne(res, live)
		default:
			return count
		}
	}
}

func (r *Runner) dispatchOne(res Result, live *Liveness) {
	r.mu.Lock()
	entry, ok := r.callbacks[res.ID]
	if ok {
		// Removing the entry before invoking anything is what makes
		// callback delivery at-most-once.
		delete(r.callbacks, res.ID)
	}
	r.mu.Unlock()

	if !ok {
		// Fire-and-forget task. Failures would otherwise vanish, so they
		// are logged unconditionally.
		if res.Err != nil {
			r.logEvent(LogLevelWarn, "task_error_unhandled", map[string]any{
				"id":    uint64(res.ID),
				"error": res.Err.Error(),
			})
		}
		return
	}

	if !live.Alive() || !entry.live.Alive() {
		r.logEvent(LogLevelDebug, "callback_pruned", map[string]any{
			"id":   uint64(res.ID),
			"task": entry.name,
		})
		return
	}

	r.invokeCallback(res, entry)
}

// invokeCallback runs the user callback with panic isolation: one bad
// callback cannot stall the rest of the drain pass.
func (r *Runner) invokeCallback(res Result, entry callbackEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logEvent(LogLevelError, "callback_panic", map[string]any{
				"id":    uint64(res.ID),
				"task":  entry.name,
				"panic": fmt.Sprintf("%v", rec),
				"stack": string(debug.Stack()),
			})
		}
	}()

	if res.Err != nil {
		if entry.onError != nil {
			entry.onError(res.Err)
			return
		}
		r.logEvent(LogLevelWarn, "task_error_unhandled", map[string]any{
			"id":    uint64(res.ID),
			"task":  entry.name,
			"error": res.Err.Error(),
		})
		return
	}
	if entry.onComplete != nil {
		entry.onComplete(res.Value)
	}
}
