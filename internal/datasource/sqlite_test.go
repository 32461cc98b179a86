package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var testBase = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustInsert(t *testing.T, s *Store, j Job) int64 {
	t.Helper()
	id, err := s.InsertJob(context.Background(), j)
	if err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}
	return id
}

func TestOpen_CreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "jobs.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	if s.Path() != path {
		t.Errorf("Expected path %s, got %s", path, s.Path())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Database file was not created: %v", err)
	}
}

func TestInsertJob_FillsDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := mustInsert(t, s, Job{Name: "nightly"})
	if id <= 0 {
		t.Fatalf("Expected positive id, got %d", id)
	}

	jobs, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 job, got %d", len(jobs))
	}

	j := jobs[0]
	if j.Queue != "default" {
		t.Errorf("Expected queue 'default', got %q", j.Queue)
	}
	if j.Status != JobPending {
		t.Errorf("Expected status pending, got %s", j.Status)
	}
	if j.CreatedAt.IsZero() || j.UpdatedAt.IsZero() {
		t.Error("Timestamps should be filled in")
	}
	if j.DurationMs != 0 {
		t.Errorf("Expected no duration, got %d", j.DurationMs)
	}
	if j.ArchivedAt != nil {
		t.Error("Fresh job should not have archived_at")
	}
}

func TestListRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, name := range []string{"oldest", "middle", "newest"} {
		ts := testBase.Add(time.Duration(i) * time.Minute)
		mustInsert(t, s, Job{Name: name, Status: JobSucceeded, CreatedAt: ts, UpdatedAt: ts})
	}
	mustInsert(t, s, Job{Name: "hidden", Status: JobArchived, CreatedAt: testBase, UpdatedAt: testBase})

	jobs, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 jobs (archived excluded), got %d", len(jobs))
	}
	for i, want := range []string{"newest", "middle", "oldest"} {
		if jobs[i].Name != want {
			t.Errorf("Position %d: expected %q, got %q", i, want, jobs[i].Name)
		}
	}

	jobs, err = s.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent with limit failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs with limit 2, got %d", len(jobs))
	}
}

func TestCountByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, st := range []JobStatus{JobSucceeded, JobSucceeded, JobFailed, JobPending} {
		mustInsert(t, s, Job{Name: "n", Status: st})
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[JobSucceeded] != 2 {
		t.Errorf("Expected 2 succeeded, got %d", counts[JobSucceeded])
	}
	if counts[JobFailed] != 1 {
		t.Errorf("Expected 1 failed, got %d", counts[JobFailed])
	}
	if counts[JobPending] != 1 {
		t.Errorf("Expected 1 pending, got %d", counts[JobPending])
	}
	if counts[JobArchived] != 0 {
		t.Errorf("Expected 0 archived, got %d", counts[JobArchived])
	}
}

func TestStats_EmptyArchive(t *testing.T) {
	s := newTestStore(t)

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 0 || st.WithDuration != 0 || st.AvgDurationMs != 0 || st.MaxDurationMs != 0 {
		t.Errorf("Expected zero stats for empty archive, got %+v", st)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	mustInsert(t, s, Job{Name: "fast", Status: JobSucceeded, DurationMs: 100})
	mustInsert(t, s, Job{Name: "slow", Status: JobSucceeded, DurationMs: 300})
	mustInsert(t, s, Job{Name: "waiting", Status: JobPending})

	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 3 {
		t.Errorf("Expected 3 total rows, got %d", st.Total)
	}
	if st.WithDuration != 2 {
		t.Errorf("Expected 2 rows with duration, got %d", st.WithDuration)
	}
	if st.AvgDurationMs != 200 {
		t.Errorf("Expected avg 200ms, got %f", st.AvgDurationMs)
	}
	if st.MaxDurationMs != 300 {
		t.Errorf("Expected max 300ms, got %d", st.MaxDurationMs)
	}
}

func TestArchiveLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	cutoff := testBase.Add(time.Hour)

	oldDone := mustInsert(t, s, Job{Name: "old-done", Status: JobSucceeded, CreatedAt: testBase, UpdatedAt: testBase})
	oldFail := mustInsert(t, s, Job{Name: "old-fail", Status: JobFailed, CreatedAt: testBase, UpdatedAt: testBase.Add(time.Minute)})
	mustInsert(t, s, Job{Name: "old-running", Status: JobRunning, CreatedAt: testBase, UpdatedAt: testBase})
	mustInsert(t, s, Job{Name: "fresh-done", Status: JobSucceeded, CreatedAt: cutoff, UpdatedAt: cutoff.Add(time.Minute)})

	ids, err := s.ArchivableIDs(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchivableIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("Expected 2 archivable jobs, got %d (%v)", len(ids), ids)
	}
	// Oldest first.
	if ids[0] != oldDone || ids[1] != oldFail {
		t.Errorf("Expected ids [%d %d], got %v", oldDone, oldFail, ids)
	}

	n, err := s.ArchiveJobs(ctx, ids)
	if err != nil {
		t.Fatalf("ArchiveJobs failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 rows archived, got %d", n)
	}

	jobs, err := s.ListRecent(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecent failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("Expected 2 visible jobs after archiving, got %d", len(jobs))
	}
	for _, j := range jobs {
		if j.Name == "old-done" || j.Name == "old-fail" {
			t.Errorf("Archived job %q still listed", j.Name)
		}
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[JobArchived] != 2 {
		t.Errorf("Expected 2 archived rows, got %d", counts[JobArchived])
	}

	// Nothing left to archive under the same cutoff.
	ids, err = s.ArchivableIDs(ctx, cutoff)
	if err != nil {
		t.Fatalf("ArchivableIDs after archive failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected no archivable jobs left, got %v", ids)
	}
}

func TestArchiveJobs_NoIDs(t *testing.T) {
	s := newTestStore(t)

	n, err := s.ArchiveJobs(context.Background(), nil)
	if err != nil {
		t.Fatalf("ArchiveJobs with no ids failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 rows archived, got %d", n)
	}
}

func TestLastModified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.LastModified(ctx)
	if err != nil {
		t.Fatalf("LastModified on empty archive failed: %v", err)
	}
	if !got.IsZero() {
		t.Errorf("Expected zero time for empty archive, got %v", got)
	}

	mustInsert(t, s, Job{Name: "a", CreatedAt: testBase, UpdatedAt: testBase})
	newest := testBase.Add(2 * time.Minute)
	mustInsert(t, s, Job{Name: "b", CreatedAt: testBase, UpdatedAt: newest})

	got, err = s.LastModified(ctx)
	if err != nil {
		t.Fatalf("LastModified failed: %v", err)
	}
	if !got.Equal(newest) {
		t.Errorf("Expected last modified %v, got %v", newest, got)
	}
}

func TestSeed_PopulatesEmptyArchive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inserted, err := s.Seed(ctx, SeedOptions{Seed: 42, Count: 25, Now: testBase})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	if inserted != 25 {
		t.Errorf("Expected 25 rows inserted, got %d", inserted)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Total != 25 {
		t.Errorf("Expected 25 total rows, got %d", st.Total)
	}

	// Seeding again must not touch a populated archive.
	inserted, err = s.Seed(ctx, SeedOptions{Seed: 42, Count: 25, Now: testBase})
	if err != nil {
		t.Fatalf("Second Seed failed: %v", err)
	}
	if inserted != 0 {
		t.Errorf("Expected no rows on second seed, got %d", inserted)
	}
}

func TestSeed_Deterministic(t *testing.T) {
	ctx := context.Background()
	opts := SeedOptions{Seed: 7, Count: 15, Now: testBase}

	a := newTestStore(t)
	b := newTestStore(t)
	if _, err := a.Seed(ctx, opts); err != nil {
		t.Fatalf("Seed a failed: %v", err)
	}
	if _, err := b.Seed(ctx, opts); err != nil {
		t.Fatalf("Seed b failed: %v", err)
	}

	jobsA, err := a.ListRecent(ctx, 100)
	if err != nil {
		t.Fatalf("ListRecent a failed: %v", err)
	}
	jobsB, err := b.ListRecent(ctx, 100)
	if err != nil {
		t.Fatalf("ListRecent b failed: %v", err)
	}
	if len(jobsA) != len(jobsB) {
		t.Fatalf("Expected same row count, got %d and %d", len(jobsA), len(jobsB))
	}
	for i := range jobsA {
		if jobsA[i].Name != jobsB[i].Name || jobsA[i].Status != jobsB[i].Status {
			t.Errorf("Row %d differs: %s/%s vs %s/%s", i,
				jobsA[i].Name, jobsA[i].Status, jobsB[i].Name, jobsB[i].Status)
		}
	}
}
