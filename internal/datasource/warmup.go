package datasource

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// WarmupResult carries everything the first paint needs from the archive.
type WarmupResult struct {
	// Jobs are the most recently updated non-archived jobs.
	Jobs []Job

	// Counts holds row counts per status.
	Counts map[JobStatus]int

	// Stats are the aggregate duration statistics.
	Stats Stats

	// LastModified is the newest updated_at across all rows.
	LastModified time.Time

	// Elapsed is the wall time the whole warmup took.
	Elapsed time.Duration
}

// Warmup runs the startup queries in parallel and returns once all of
// them finish. limit caps the recent job list; 0 means the default.
// Any single query failing fails the warmup.
func (s *Store) Warmup(ctx context.Context, limit int) (*WarmupResult, error) {
	start := time.Now()
	res := &WarmupResult{}

	g, ctx := errgroup.WithContext(ctx)
	// One goroutine per query keeps a single SQLite connection pool busy
	// without swamping it.
	g.SetLimit(4)

	g.Go(func() error {
		jobs, err := s.ListRecent(ctx, limit)
		if err != nil {
			return fmt.Errorf("failed to load recent jobs: %w", err)
		}
		res.Jobs = jobs
		return nil
	})

	g.Go(func() error {
		counts, err := s.CountByStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to load status counts: %w", err)
		}
		res.Counts = counts
		return nil
	})

	g.Go(func() error {
		stats, err := s.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to load archive stats: %w", err)
		}
		res.Stats = stats
		return nil
	})

	g.Go(func() error {
		mod, err := s.LastModified(ctx)
		if err != nil {
			return fmt.Errorf("failed to load last modified time: %w", err)
		}
		res.LastModified = mod
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Elapsed = time.Since(start)
	return res, nil
}
