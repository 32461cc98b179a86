package task

import "sync/atomic"

// Liveness is a cooperative cancellation token owned by a UI context (a
// view, a modal, a screen). Deferred work checks Alive before touching the
// context it belongs to; tearing the context down calls Cancel. This replaces
// the widget-existence checks a retained-mode toolkit would offer.
//
// A nil *Liveness is always alive, so callers that never tear down can pass
// nil everywhere.
type Liveness struct {
	dead atomic.Bool
}

// NewLiveness returns a token in the alive state.
func NewLiveness() *Liveness {
	return &Liveness{}
}

// Alive reports whether the owning context still exists.
func (l *Liveness) Alive() bool {
	return l == nil || !l.dead.Load()
}

// Cancel marks the owning context as gone. Cancel is idempotent and safe to
// call from any goroutine; there is no way back to the alive state.
func (l *Liveness) Cancel() {
	if l != nil {
		l.dead.Store(true)
	}
}
