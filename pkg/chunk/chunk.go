// Package chunk slices large batch operations into bounded steps so a
// single-threaded UI loop can interleave rendering between them. One call
// to Step processes one slice; the caller schedules the next call on the
// next tick of its event loop.
package chunk

import (
	"github.com/vanderheijden86/threadwork/pkg/task"
)

// DefaultSize is the number of items processed per step when the caller
// does not set Config.Size.
const DefaultSize = 50

// ProgressFunc reports completed work after each step. fraction is
// processed/total in [0,1]; with an empty input it is reported as 1.
type ProgressFunc func(fraction float64, processed, total int)

// Config controls a chunked run. All fields are optional except where noted.
type Config struct {
	// Size is the maximum number of items handed to the slice function per
	// step. Values < 1 fall back to DefaultSize.
	Size int

	// OnProgress is called after every processed slice.
	OnProgress ProgressFunc

	// OnComplete is called exactly once, on the step after the final slice,
	// and only if the liveness token is still alive at that point.
	OnComplete func()

	// Live is checked before every step. Once it reports dead the run is
	// abandoned: no further slices are processed and OnComplete never fires.
	// A nil token is always alive.
	Live *task.Liveness
}

// Processor walks a slice of items in fixed-size chunks. It is not safe
// for concurrent use; it is meant to be driven from a single event loop.
type Processor[T any] struct {
	items []T
	fn    func([]T) error
	cfg   Config

	offset int
	done   bool
}

// New prepares a chunked run over items. fn receives each slice in order;
// a nil fn skips the work and only pages through the items.
func New[T any](items []T, fn func([]T) error, cfg Config) *Processor[T] {
	if cfg.Size < 1 {
		cfg.Size = DefaultSize
	}
	return &Processor[T]{items: items, fn: fn, cfg: cfg}
}

// Step advances the run by at most one slice. It returns true while more
// steps remain and false once the run has finished, been abandoned, or
// failed. An error from the slice function stops the run and is returned
// to the caller; OnComplete does not fire after a failure.
//
// Completion is deliberately deferred to the step after the last slice so
// that the liveness token gets a final check between the last unit of work
// and the completion callback.
func (p *Processor[T]) Step() (bool, error) {
	if p.done {
		return false, nil
	}
	if !p.cfg.Live.Alive() {
		p.done = true
		return false, nil
	}

	total := len(p.items)
	if p.offset >= total {
		p.done = true
		if p.cfg.OnProgress != nil && total == 0 {
			p.cfg.OnProgress(1, 0, 0)
		}
		if p.cfg.OnComplete != nil {
			p.cfg.OnComplete()
		}
		return false, nil
	}

	end := p.offset + p.cfg.Size
	if end > total {
		end = total
	}
	if p.fn != nil {
		if err := p.fn(p.items[p.offset:end]); err != nil {
			p.done = true
			return false, err
		}
	}
	p.offset = end

	if p.cfg.OnProgress != nil {
		p.cfg.OnProgress(float64(p.offset)/float64(total), p.offset, total)
	}
	return true, nil
}

// Done reports whether the run has finished, failed, or been abandoned.
func (p *Processor[T]) Done() bool { return p.done }

// Processed returns the number of items handed to the slice function so far.
func (p *Processor[T]) Processed() int { return p.offset }

// Total returns the length of the input.
func (p *Processor[T]) Total() int { return len(p.items) }
