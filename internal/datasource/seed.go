package datasource

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// SeedOptions control the demo data generator.
type SeedOptions struct {
	Seed  int64     // Random seed for determinism (0 = use current time)
	Count int       // Rows to insert (default 40)
	Now   time.Time // Newest timestamp (zero = time.Now())
}

// seedJobs pairs job names with the queue they normally run on.
var seedJobs = []struct {
	name  string
	queue string
}{
	{"email:welcome", "mail"},
	{"email:digest", "mail"},
	{"email:receipt", "mail"},
	{"report:daily", "reports"},
	{"report:weekly", "reports"},
	{"export:csv", "reports"},
	{"thumbnails:rebuild", "default"},
	{"index:refresh", "default"},
	{"backup:snapshot", "default"},
	{"cleanup:sessions", "default"},
}

// seedStatusMix weights generated statuses by repetition. Most demo jobs
// have finished; a few stay in flight so every status filter has rows.
var seedStatusMix = []JobStatus{
	JobSucceeded, JobSucceeded, JobSucceeded, JobSucceeded, JobSucceeded, JobSucceeded,
	JobFailed, JobFailed,
	JobPending,
	JobRunning,
}

// Seed fills an empty archive with plausible demo jobs so a fresh
// install has something to render. It is a no-op when any rows exist.
// Returns the number of rows inserted.
func (s *Store) Seed(ctx context.Context, opts SeedOptions) (int, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect archive before seeding: %w", err)
	}
	if stats.Total > 0 {
		return 0, nil
	}

	count := opts.Count
	if count <= 0 {
		count = 40
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	rng := rand.New(rand.NewSource(seed))

	inserted := 0
	for i := 0; i < count; i++ {
		j := randomJob(rng, now, count, i)
		if _, err := s.InsertJob(ctx, j); err != nil {
			return inserted, fmt.Errorf("failed to seed job %q: %w", j.Name, err)
		}
		inserted++
	}
	return inserted, nil
}

// randomJob produces one demo job. The index spreads created_at across
// the past two weeks, oldest first.
func randomJob(rng *rand.Rand, now time.Time, total, i int) Job {
	kind := seedJobs[rng.Intn(len(seedJobs))]
	status := seedStatusMix[rng.Intn(len(seedStatusMix))]

	span := 14 * 24 * time.Hour
	age := time.Duration(float64(span) * float64(total-i) / float64(total))
	jitter := time.Duration(rng.Intn(3600)) * time.Second
	created := now.Add(-age - jitter)

	j := Job{
		Name:      kind.name,
		Queue:     kind.queue,
		Status:    status,
		Payload:   fmt.Sprintf(`{"job":%q,"seq":%d}`, kind.name, i),
		CreatedAt: created,
		UpdatedAt: created,
	}

	switch status {
	case JobPending:
		// Not picked up yet, no attempts and no duration.
	case JobRunning:
		j.Attempts = 1
		j.UpdatedAt = created.Add(time.Duration(rng.Intn(30)+1) * time.Second)
	case JobFailed:
		j.Attempts = rng.Intn(3) + 1
		j.DurationMs = seedDuration(rng, kind.queue)
		j.UpdatedAt = created.Add(time.Duration(j.DurationMs) * time.Millisecond)
	default:
		j.Attempts = 1
		j.DurationMs = seedDuration(rng, kind.queue)
		j.UpdatedAt = created.Add(time.Duration(j.DurationMs) * time.Millisecond)
	}
	return j
}

// seedDuration draws a plausible runtime in milliseconds. Report jobs
// run long while mail is near-instant.
func seedDuration(rng *rand.Rand, queue string) int64 {
	switch queue {
	case "reports":
		return int64(rng.Intn(4000) + 800)
	case "mail":
		return int64(rng.Intn(300) + 20)
	default:
		return int64(rng.Intn(1500) + 100)
	}
}
