package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/careline-id/careline/internal/domain"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultBatchSize    = 100
	defaultRetentionTTL = 7 * 24 * time.Hour
	failedMarkerTTL     = 24 * time.Hour
	completedMarkerTTL  = time.Hour
	generationTTL       = 48 * time.Hour
	baseRetryDelay      = 5 * time.Minute

	dueKey        = "followup:due"
	processingKey = "followup:processing"
	completedKey  = "followup:count:completed"
	failedKey     = "followup:count:failed"
)

// claimScript flips a pending job to processing in one round trip. Only one
// concurrent poller can win; a missing hash is reported as an orphan so the
// caller can purge the dangling index entry.
var claimScript = goredis.NewScript(`
local status = redis.call("HGET", KEYS[1], "status")
if not status then
  return -1
end
if status ~= "PENDING" then
  return 0
end
redis.call("HSET", KEYS[1], "status", "PROCESSING")
redis.call("SADD", KEYS[2], ARGV[1])
return 1
`)

// FollowupQueue owns the followup job lifecycle against Redis. The due index is
// a sorted set scored by the job's scheduled time in epoch millis; job data
// lives in a per-job hash. The hash is the source of truth, the score is a
// derived index, and every mutation updates both together.
type FollowupQueue struct {
	client    *goredis.Client
	logger    *zap.Logger
	batchSize int
	retention time.Duration
	now       func() time.Time
}

func NewFollowupQueue(client *goredis.Client, logger *zap.Logger) (*FollowupQueue, error) {
	return newFollowupQueue(client, defaultBatchSize, defaultRetentionTTL, time.Now, logger)
}

func newFollowupQueue(
	client *goredis.Client,
	batchSize int,
	retention time.Duration,
	nowFn func() time.Time,
	logger *zap.Logger,
) (*FollowupQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if retention <= 0 {
		retention = defaultRetentionTTL
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FollowupQueue{
		client:    client,
		logger:    logger,
		batchSize: batchSize,
		retention: retention,
		now:       nowFn,
	}, nil
}

// JobID returns the deterministic job id for a followup chain.
func JobID(followupID string) string {
	return "followup_" + strings.TrimSpace(followupID)
}

func jobKey(jobID string) string {
	return "followup:job:" + jobID
}

func generationKey(followupID string) string {
	return "followup:gen:" + strings.TrimSpace(followupID)
}

// Enqueue creates a pending job and makes it visible to polls once its
// scheduled time has passed.
func (q *FollowupQueue) Enqueue(ctx context.Context, job domain.FollowupJob) (*domain.FollowupJob, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}

	job.ID = JobID(job.FollowupID)
	job.Status = domain.JobStatusPending
	job.RetryCount = 0
	if job.MaxRetries == 0 {
		job.MaxRetries = domain.DefaultMaxRetries
	}

	generation, err := q.currentGeneration(ctx, job.FollowupID)
	if err != nil {
		return nil, err
	}
	job.Generation = generation

	key := jobKey(job.ID)
	score := float64(job.ScheduledAt.UnixMilli())

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, jobFields(&job))
	pipe.Expire(ctx, key, q.retention)
	pipe.ZAdd(ctx, dueKey, goredis.Z{Score: score, Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to enqueue followup job %q: %w", job.ID, err)
	}

	return &job, nil
}

// ProcessQueue claims all due pending jobs up to the batch size and returns
// them for execution. It never sends anything itself; delivery is the caller's
// responsibility. Jobs already claimed elsewhere are skipped, orphaned index
// entries are purged, and jobs superseded by a cancellation are dropped.
//
// On a mid-batch store error the jobs claimed before the failure are returned
// together with the error. Those jobs are already PROCESSING, so the caller
// must still deliver them; dropping them would strand them until TTL eviction.
func (q *FollowupQueue) ProcessQueue(ctx context.Context) ([]domain.FollowupJob, error) {
	nowMillis := q.now().UnixMilli()

	ids, err := q.client.ZRangeByScore(ctx, dueKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(nowMillis, 10),
		Count: int64(q.batchSize),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due followup jobs: %w", err)
	}

	claimed := make([]domain.FollowupJob, 0, len(ids))
	for _, jobID := range ids {
		key := jobKey(jobID)

		fields, err := q.client.HGetAll(ctx, key).Result()
		if err != nil {
			return claimed, fmt.Errorf("failed to load followup job %q: %w", jobID, err)
		}
		if len(fields) == 0 {
			q.purgeOrphan(ctx, jobID)
			continue
		}

		job, err := jobFromFields(jobID, fields)
		if err != nil {
			q.logger.Warn("purging corrupted followup job",
				zap.String("jobId", jobID),
				zap.Error(err),
			)
			q.purgeOrphan(ctx, jobID)
			continue
		}

		generation, err := q.currentGeneration(ctx, job.FollowupID)
		if err != nil {
			return claimed, err
		}
		if job.Generation < generation {
			q.logger.Info("dropping superseded followup job",
				zap.String("jobId", jobID),
				zap.Int64("jobGeneration", job.Generation),
				zap.Int64("currentGeneration", generation),
			)
			q.remove(ctx, jobID)
			continue
		}

		result, err := claimScript.Run(ctx, q.client, []string{key, processingKey}, jobID).Int()
		if err != nil {
			return claimed, fmt.Errorf("failed to claim followup job %q: %w", jobID, err)
		}

		switch result {
		case 1:
			job.Status = domain.JobStatusProcessing
			claimed = append(claimed, *job)
		case -1:
			q.purgeOrphan(ctx, jobID)
		default:
			// Lost the race to a concurrent poller; skip without removing.
		}
	}

	return claimed, nil
}

// CompleteJob removes a delivered job and leaves a short-lived marker used only
// for observability.
func (q *FollowupQueue) CompleteJob(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, dueKey, jobID)
	pipe.SRem(ctx, processingKey, jobID)
	pipe.Del(ctx, jobKey(jobID))
	pipe.Set(ctx, "followup:done:"+jobID, "1", completedMarkerTTL)
	pipe.Incr(ctx, completedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to complete followup job %q: %w", jobID, err)
	}

	return nil
}

// FailJob applies the retry policy after a delivery failure. With retries
// remaining the job is rescheduled with exponential backoff; otherwise it moves
// to a terminal failed marker and leaves the due index for good.
func (q *FollowupQueue) FailJob(ctx context.Context, jobID string, cause string, retryCount, maxRetries int) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}
	if maxRetries <= 0 {
		maxRetries = domain.DefaultMaxRetries
	}

	key := jobKey(jobID)

	if retryCount >= maxRetries {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, dueKey, jobID)
		pipe.SRem(ctx, processingKey, jobID)
		pipe.HSet(ctx, key, map[string]any{
			"status": domain.JobStatusFailed.String(),
			"error":  cause,
		})
		pipe.Expire(ctx, key, failedMarkerTTL)
		pipe.Incr(ctx, failedKey)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to mark followup job %q failed: %w", jobID, err)
		}
		return nil
	}

	nextAt := q.now().Add(RetryDelay(retryCount))
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"status":       domain.JobStatusPending.String(),
		"retry_count":  retryCount + 1,
		"error":        cause,
		"scheduled_at": nextAt.UnixMilli(),
	})
	pipe.ZAdd(ctx, dueKey, goredis.Z{Score: float64(nextAt.UnixMilli()), Member: jobID})
	pipe.SRem(ctx, processingKey, jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to reschedule followup job %q: %w", jobID, err)
	}

	return nil
}

// DequeueFollowup is best-effort cancellation. It bumps the chain generation so
// a job already claimed by a poller is recognized as stale, then removes the
// job from the due index and the hash. It never interrupts an in-flight send.
func (q *FollowupQueue) DequeueFollowup(ctx context.Context, followupID string) error {
	if strings.TrimSpace(followupID) == "" {
		return fmt.Errorf("%w: followup id is required", domain.ErrValidation)
	}

	jobID := JobID(followupID)
	genKey := generationKey(followupID)

	pipe := q.client.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Expire(ctx, genKey, generationTTL)
	pipe.ZRem(ctx, dueKey, jobID)
	pipe.SRem(ctx, processingKey, jobID)
	pipe.Del(ctx, jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to dequeue followup %q: %w", followupID, err)
	}

	return nil
}

// Stats returns queue depth counters. Claimed jobs stay in the due index until
// they complete or fail, so pending is the index size minus in-flight claims.
func (q *FollowupQueue) Stats(ctx context.Context) (*domain.QueueStats, error) {
	pipe := q.client.Pipeline()
	dueCmd := pipe.ZCard(ctx, dueKey)
	processingCmd := pipe.SCard(ctx, processingKey)
	completedCmd := pipe.Get(ctx, completedKey)
	failedCmd := pipe.Get(ctx, failedKey)
	if _, err := pipe.Exec(ctx); err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	processing := processingCmd.Val()
	pending := dueCmd.Val() - processing
	if pending < 0 {
		pending = 0
	}

	return &domain.QueueStats{
		Pending:    pending,
		Processing: processing,
		Completed:  counterValue(completedCmd),
		Failed:     counterValue(failedCmd),
	}, nil
}

// RetryDelay returns the backoff before the next attempt after retryCount
// failures: 5, 10, 20 minutes.
func RetryDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return baseRetryDelay << retryCount
}

func (q *FollowupQueue) currentGeneration(ctx context.Context, followupID string) (int64, error) {
	value, err := q.client.Get(ctx, generationKey(followupID)).Result()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read followup generation: %w", err)
	}

	generation, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupted followup generation %q: %w", value, err)
	}
	return generation, nil
}

// purgeOrphan drops a due index entry whose hash expired or was corrupted.
// Self-healing: the poll continues instead of failing.
func (q *FollowupQueue) purgeOrphan(ctx context.Context, jobID string) {
	q.logger.Warn("purging orphaned followup job from due index", zap.String("jobId", jobID))
	q.remove(ctx, jobID)
}

func (q *FollowupQueue) remove(ctx context.Context, jobID string) {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, dueKey, jobID)
	pipe.SRem(ctx, processingKey, jobID)
	pipe.Del(ctx, jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Warn("failed to remove followup job",
			zap.String("jobId", jobID),
			zap.Error(err),
		)
	}
}

func jobFields(job *domain.FollowupJob) map[string]any {
	return map[string]any{
		"followup_id":  job.FollowupID,
		"patient_id":   job.PatientID,
		"phone_number": job.PhoneNumber,
		"stage":        job.Stage.String(),
		"scheduled_at": job.ScheduledAt.UnixMilli(),
		"status":       job.Status.String(),
		"retry_count":  job.RetryCount,
		"max_retries":  job.MaxRetries,
		"generation":   job.Generation,
		"error":        job.Error,
	}
}

func jobFromFields(jobID string, fields map[string]string) (*domain.FollowupJob, error) {
	status, err := domain.ParseJobStatusFromString(fields["status"])
	if err != nil {
		return nil, err
	}
	stage, err := domain.ParseFollowupStageFromString(fields["stage"])
	if err != nil {
		return nil, err
	}
	scheduledMillis, err := strconv.ParseInt(fields["scheduled_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduled_at %q: %w", fields["scheduled_at"], err)
	}
	retryCount, err := strconv.Atoi(fields["retry_count"])
	if err != nil {
		return nil, fmt.Errorf("invalid retry_count %q: %w", fields["retry_count"], err)
	}
	maxRetries, err := strconv.Atoi(fields["max_retries"])
	if err != nil {
		return nil, fmt.Errorf("invalid max_retries %q: %w", fields["max_retries"], err)
	}
	generation, err := strconv.ParseInt(fields["generation"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid generation %q: %w", fields["generation"], err)
	}

	return &domain.FollowupJob{
		ID:          jobID,
		FollowupID:  fields["followup_id"],
		PatientID:   fields["patient_id"],
		PhoneNumber: fields["phone_number"],
		Stage:       stage,
		ScheduledAt: time.UnixMilli(scheduledMillis),
		Status:      status,
		RetryCount:  retryCount,
		MaxRetries:  maxRetries,
		Generation:  generation,
		Error:       fields["error"],
	}, nil
}

func counterValue(cmd *goredis.StringCmd) int64 {
	if cmd == nil {
		return 0
	}
	value, err := cmd.Int64()
	if err != nil {
		return 0
	}
	return value
}
