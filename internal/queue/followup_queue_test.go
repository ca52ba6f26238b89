package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/careline-id/careline/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestNewFollowupQueueValidation(t *testing.T) {
	t.Parallel()

	_, err := NewFollowupQueue(nil, zap.NewNop())
	if err == nil {
		t.Fatal("expected error when redis client is nil")
	}
}

func TestEnqueueMakesDueJobsVisible(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_000, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	due := testJob("chain-1:followup_15min", now.Add(-time.Minute))
	notDue := testJob("chain-2:followup_2h", now.Add(time.Hour))

	enqueued, err := q.Enqueue(context.Background(), due)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if enqueued.ID != "followup_chain-1:followup_15min" {
		t.Fatalf("job id = %q, want followup_chain-1:followup_15min", enqueued.ID)
	}
	if enqueued.Status != domain.JobStatusPending {
		t.Fatalf("status = %q, want %q", enqueued.Status, domain.JobStatusPending)
	}

	if _, err := q.Enqueue(context.Background(), notDue); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed count = %d, want 1", len(claimed))
	}
	if claimed[0].ID != enqueued.ID {
		t.Fatalf("claimed job = %q, want %q", claimed[0].ID, enqueued.ID)
	}
	if claimed[0].Status != domain.JobStatusProcessing {
		t.Fatalf("claimed status = %q, want %q", claimed[0].Status, domain.JobStatusProcessing)
	}
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	q := newTestQueue(t, rdb, defaultBatchSize, nil)

	job := testJob("chain-1:followup_15min", time.Now())
	job.PatientID = ""

	_, err := q.Enqueue(context.Background(), job)
	if err == nil {
		t.Fatal("expected validation error for missing patient id")
	}
}

func TestProcessQueueRespectsBatchSize(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_100, 0)
	q := newTestQueue(t, rdb, 2, func() time.Time { return now })

	for _, id := range []string{"a:followup_15min", "b:followup_15min", "c:followup_15min"} {
		if _, err := q.Enqueue(context.Background(), testJob(id, now.Add(-time.Minute))); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("claimed count = %d, want 2", len(claimed))
	}
}

func TestProcessQueueSkipsAlreadyClaimedJobs(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_200, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	if _, err := q.Enqueue(context.Background(), testJob("chain-1:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	first, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("first ProcessQueue() error = %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("first claimed count = %d, want 1", len(first))
	}

	second, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("second ProcessQueue() error = %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("second claimed count = %d, want 0", len(second))
	}
}

func TestProcessQueueConcurrentPollersClaimEachJobOnce(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_001_000, 0)
	nowFn := func() time.Time { return now }
	first := newTestQueue(t, rdb, defaultBatchSize, nowFn)
	second := newTestQueue(t, rdb, defaultBatchSize, nowFn)

	const jobCount = 10
	for i := 0; i < jobCount; i++ {
		id := fmt.Sprintf("chain-%d:followup_15min", i)
		if _, err := first.Enqueue(context.Background(), testJob(id, now.Add(-time.Minute))); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", id, err)
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = map[string]int{}
	)
	for _, q := range []*FollowupQueue{first, second} {
		wg.Add(1)
		go func(q *FollowupQueue) {
			defer wg.Done()
			jobs, err := q.ProcessQueue(context.Background())
			if err != nil {
				t.Errorf("ProcessQueue() error = %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, job := range jobs {
				claimed[job.ID]++
			}
		}(q)
	}
	wg.Wait()

	if len(claimed) != jobCount {
		t.Fatalf("distinct claimed jobs = %d, want %d", len(claimed), jobCount)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times, want exactly once", id, n)
		}
	}
}

func TestProcessQueueMidBatchErrorReturnsJobsClaimedSoFar(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_001_100, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	if _, err := q.Enqueue(context.Background(), testJob("a:followup_15min", now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("Enqueue(a) error = %v", err)
	}
	if _, err := q.Enqueue(context.Background(), testJob("b:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue(b) error = %v", err)
	}

	// Corrupt the second job's chain generation so its claim fails mid-batch.
	if err := rdb.Set(context.Background(), generationKey("b:followup_15min"), "not-a-number", 0).Err(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err == nil {
		t.Fatal("expected mid-batch error for corrupted generation")
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed count = %d, want 1 job claimed before the failure", len(claimed))
	}
	if claimed[0].FollowupID != "a:followup_15min" {
		t.Fatalf("claimed followup = %q, want a:followup_15min", claimed[0].FollowupID)
	}
	if claimed[0].Status != domain.JobStatusProcessing {
		t.Fatalf("claimed status = %q, want %q", claimed[0].Status, domain.JobStatusProcessing)
	}

	// The claimed job must still be completable by the caller.
	if err := q.CompleteJob(context.Background(), claimed[0].ID); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}
}

func TestProcessQueuePurgesOrphanedIndexEntries(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_300, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	orphanID := "followup_ghost:followup_15min"
	if err := rdb.ZAdd(context.Background(), dueKey, goredis.Z{
		Score:  float64(now.Add(-time.Minute).UnixMilli()),
		Member: orphanID,
	}).Err(); err != nil {
		t.Fatalf("ZAdd() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed count = %d, want 0", len(claimed))
	}

	remaining, err := rdb.ZCard(context.Background(), dueKey).Result()
	if err != nil {
		t.Fatalf("ZCard() error = %v", err)
	}
	if remaining != 0 {
		t.Fatalf("due index size = %d, want 0 after orphan purge", remaining)
	}
}

func TestProcessQueueDropsSupersededJobs(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_400, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	if _, err := q.Enqueue(context.Background(), testJob("chain-1:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	// A cancellation after enqueue bumps the chain generation past the job's.
	if err := rdb.Incr(context.Background(), generationKey("chain-1:followup_15min")).Err(); err != nil {
		t.Fatalf("Incr() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed count = %d, want 0 for superseded job", len(claimed))
	}

	remaining, err := rdb.ZCard(context.Background(), dueKey).Result()
	if err != nil {
		t.Fatalf("ZCard() error = %v", err)
	}
	if remaining != 0 {
		t.Fatalf("due index size = %d, want 0 after dropping superseded job", remaining)
	}
}

func TestCompleteJobClearsStateAndCounts(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_500, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	if _, err := q.Enqueue(context.Background(), testJob("chain-1:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed count = %d, want 1", len(claimed))
	}

	if err := q.CompleteJob(context.Background(), claimed[0].ID); err != nil {
		t.Fatalf("CompleteJob() error = %v", err)
	}

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 0 || stats.Processing != 0 {
		t.Fatalf("stats = %+v, want zero pending and processing", stats)
	}
	if stats.Completed != 1 {
		t.Fatalf("completed = %d, want 1", stats.Completed)
	}

	exists, err := rdb.Exists(context.Background(), jobKey(claimed[0].ID)).Result()
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists != 0 {
		t.Fatal("job hash should be removed after completion")
	}
}

func TestFailJobReschedulesWithBackoff(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_600, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	if _, err := q.Enqueue(context.Background(), testJob("chain-1:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed count = %d, want 1", len(claimed))
	}
	job := claimed[0]

	if err := q.FailJob(context.Background(), job.ID, "provider timeout", job.RetryCount, job.MaxRetries); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	fields, err := rdb.HGetAll(context.Background(), jobKey(job.ID)).Result()
	if err != nil {
		t.Fatalf("HGetAll() error = %v", err)
	}
	if fields["status"] != domain.JobStatusPending.String() {
		t.Fatalf("status = %q, want %q", fields["status"], domain.JobStatusPending)
	}
	if fields["retry_count"] != "1" {
		t.Fatalf("retry_count = %q, want 1", fields["retry_count"])
	}
	if fields["error"] != "provider timeout" {
		t.Fatalf("error = %q, want provider timeout", fields["error"])
	}

	score, err := rdb.ZScore(context.Background(), dueKey, job.ID).Result()
	if err != nil {
		t.Fatalf("ZScore() error = %v", err)
	}
	wantScore := float64(now.Add(5 * time.Minute).UnixMilli())
	if score != wantScore {
		t.Fatalf("rescheduled score = %f, want %f", score, wantScore)
	}

	// Not visible until the backoff elapses.
	claimed, err = q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed count = %d, want 0 before backoff elapses", len(claimed))
	}

	now = now.Add(5*time.Minute + time.Second)
	claimed, err = q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed count = %d, want 1 after backoff elapses", len(claimed))
	}
	if claimed[0].RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", claimed[0].RetryCount)
	}
}

func TestFailJobTerminalAfterMaxRetries(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_700, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	if _, err := q.Enqueue(context.Background(), testJob("chain-1:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	job := claimed[0]

	if err := q.FailJob(context.Background(), job.ID, "hard failure", job.MaxRetries, job.MaxRetries); err != nil {
		t.Fatalf("FailJob() error = %v", err)
	}

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("failed = %d, want 1", stats.Failed)
	}
	if stats.Pending != 0 || stats.Processing != 0 {
		t.Fatalf("stats = %+v, want zero pending and processing", stats)
	}

	fields, err := rdb.HGetAll(context.Background(), jobKey(job.ID)).Result()
	if err != nil {
		t.Fatalf("HGetAll() error = %v", err)
	}
	if fields["status"] != domain.JobStatusFailed.String() {
		t.Fatalf("status = %q, want %q", fields["status"], domain.JobStatusFailed)
	}
	if fields["error"] != "hard failure" {
		t.Fatalf("error = %q, want hard failure", fields["error"])
	}
}

func TestDequeueFollowupCancelsPendingJob(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_800, 0)
	q := newTestQueue(t, rdb, defaultBatchSize, func() time.Time { return now })

	if _, err := q.Enqueue(context.Background(), testJob("chain-1:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := q.DequeueFollowup(context.Background(), "chain-1:followup_15min"); err != nil {
		t.Fatalf("DequeueFollowup() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("claimed count = %d, want 0 after dequeue", len(claimed))
	}

	// Re-enqueue after a cancel picks up the bumped generation.
	enqueued, err := q.Enqueue(context.Background(), testJob("chain-1:followup_15min", now.Add(-time.Minute)))
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if enqueued.Generation != 1 {
		t.Fatalf("generation = %d, want 1", enqueued.Generation)
	}

	claimed, err = q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed count = %d, want 1 for re-enqueued job", len(claimed))
	}
}

func TestDequeueFollowupMissingJobIsNoError(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	q := newTestQueue(t, rdb, defaultBatchSize, nil)

	if err := q.DequeueFollowup(context.Background(), "never-enqueued:followup_24h"); err != nil {
		t.Fatalf("DequeueFollowup() error = %v, want nil for missing job", err)
	}
}

func TestStatsCountsPendingAndProcessing(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	now := time.Unix(1_700_000_900, 0)
	q := newTestQueue(t, rdb, 1, func() time.Time { return now })

	if _, err := q.Enqueue(context.Background(), testJob("a:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := q.Enqueue(context.Background(), testJob("b:followup_15min", now.Add(-time.Minute))); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	claimed, err := q.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue() error = %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("claimed count = %d, want 1", len(claimed))
	}

	stats, err := q.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Pending != 1 {
		t.Fatalf("pending = %d, want 1", stats.Pending)
	}
	if stats.Processing != 1 {
		t.Fatalf("processing = %d, want 1", stats.Processing)
	}
}

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{retryCount: 0, want: 5 * time.Minute},
		{retryCount: 1, want: 10 * time.Minute},
		{retryCount: 2, want: 20 * time.Minute},
		{retryCount: -1, want: 5 * time.Minute},
	}

	for _, tt := range tests {
		if got := RetryDelay(tt.retryCount); got != tt.want {
			t.Fatalf("RetryDelay(%d) = %v, want %v", tt.retryCount, got, tt.want)
		}
	}
}

func TestJobID(t *testing.T) {
	t.Parallel()

	if got := JobID(" chain-1:followup_2h "); got != "followup_chain-1:followup_2h" {
		t.Fatalf("JobID() = %q, want followup_chain-1:followup_2h", got)
	}
}

func testJob(followupID string, scheduledAt time.Time) domain.FollowupJob {
	return domain.FollowupJob{
		FollowupID:  followupID,
		PatientID:   "patient-1",
		PhoneNumber: "+628111222333",
		Stage:       domain.StageReminder15Min,
		ScheduledAt: scheduledAt,
	}
}

func newTestQueue(t *testing.T, rdb *goredis.Client, batchSize int, nowFn func() time.Time) *FollowupQueue {
	t.Helper()

	q, err := newFollowupQueue(rdb, batchSize, defaultRetentionTTL, nowFn, zap.NewNop())
	if err != nil {
		t.Fatalf("newFollowupQueue() error = %v", err)
	}
	return q
}

func newTestRedisClient(t *testing.T) *goredis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		_ = rdb.Close()
	})

	return rdb
}
