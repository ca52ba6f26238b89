package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/careline-id/careline/internal/domain"
	"go.uber.org/zap"
)

// Queue is the followup queue as seen by the service layer.
type Queue interface {
	Enqueue(ctx context.Context, job domain.FollowupJob) (*domain.FollowupJob, error)
	ProcessQueue(ctx context.Context) ([]domain.FollowupJob, error)
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID string, cause string, retryCount, maxRetries int) error
	DequeueFollowup(ctx context.Context, followupID string) error
	Stats(ctx context.Context) (*domain.QueueStats, error)
}

// chainStages is the order followups are chained after a reminder.
var chainStages = []domain.FollowupStage{
	domain.StageReminder15Min,
	domain.StageReminder2H,
	domain.StageReminder24H,
}

// ChainFollowupID derives the stable followup id for one stage of a reminder's
// chain. The id survives retries; a new reminder starts a new chain.
func ChainFollowupID(reminderLogID string, stage domain.FollowupStage) string {
	return fmt.Sprintf("%s:%s", strings.TrimSpace(reminderLogID), strings.ToLower(stage.String()))
}

// FollowupPlanner schedules and cancels the followup chain for a reminder.
type FollowupPlanner struct {
	queue  Queue
	logger *zap.Logger
	now    func() time.Time
}

func NewFollowupPlanner(queue Queue, logger *zap.Logger) (*FollowupPlanner, error) {
	if queue == nil {
		return nil, fmt.Errorf("followup queue is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FollowupPlanner{
		queue:  queue,
		logger: logger,
		now:    time.Now,
	}, nil
}

// ScheduleChain enqueues one followup job per stage, offset from the reminder's
// send time.
func (p *FollowupPlanner) ScheduleChain(ctx context.Context, reminder *domain.ReminderLog) error {
	if reminder == nil {
		return fmt.Errorf("%w: reminder log is required", domain.ErrValidation)
	}

	sentAt := reminder.SentAt
	if sentAt.IsZero() {
		sentAt = p.now()
	}

	for _, stage := range chainStages {
		job := domain.FollowupJob{
			FollowupID:  ChainFollowupID(reminder.ID, stage),
			PatientID:   reminder.PatientID,
			PhoneNumber: reminder.PhoneNumber,
			Stage:       stage,
			ScheduledAt: sentAt.Add(domain.StageDelays[stage]),
			MaxRetries:  domain.DefaultMaxRetries,
		}

		if _, err := p.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to schedule %s followup: %w", strings.ToLower(stage.String()), err)
		}
	}

	return nil
}

// CancelChain removes every not-yet-claimed followup of a reminder's chain.
// Best effort: a job already in flight completes on its own and is recognized
// as stale on its next claim.
func (p *FollowupPlanner) CancelChain(ctx context.Context, reminderLogID string) error {
	if strings.TrimSpace(reminderLogID) == "" {
		return fmt.Errorf("%w: reminder log id is required", domain.ErrValidation)
	}

	for _, stage := range chainStages {
		followupID := ChainFollowupID(reminderLogID, stage)
		if err := p.queue.DequeueFollowup(ctx, followupID); err != nil {
			p.logger.Warn("failed to dequeue followup during chain cancel",
				zap.String("followupId", followupID),
				zap.Error(err),
			)
		}
	}

	return nil
}
