package metrics

import "time"

// Timer returns a function that records elapsed time when called.
// Use with defer for automatic timing:
//
//	func loadJobs() {
//	    defer agg.Timer(metrics.KindDBOperation, "load_jobs")()
//	    // ... operation body
//	}
func (a *Aggregator) Timer(kind Kind, name string) func() {
	if !enabled || a == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		a.Record(kind, name, time.Since(start))
	}
}

// TimerWithCallback returns a function that records elapsed time and
// also hands the duration to the provided callback.
func (a *Aggregator) TimerWithCallback(kind Kind, name string, cb func(time.Duration)) func() {
	if !enabled || a == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		d := time.Since(start)
		a.Record(kind, name, d)
		if cb != nil {
			cb(d)
		}
	}
}
