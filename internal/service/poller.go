package service

import (
	"context"
	"fmt"
	"time"

	"github.com/careline-id/careline/internal/audit"
	"github.com/careline-id/careline/internal/channel"
	"github.com/careline-id/careline/internal/domain"
	"github.com/careline-id/careline/internal/observability"
	"github.com/careline-id/careline/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPollInterval  = 30 * time.Second
	minPollerConcurrency = 1
	outboundChannelName  = "whatsapp"
)

// FollowupPoller is the periodic driver of the followup queue. Each tick it
// claims due jobs, renders the stage message, and delivers it through the
// channel client. The send happens after the claim and outside any lock, so a
// slow gateway cannot stall other jobs' claims. Any number of poller instances
// may run concurrently; the queue's atomic claim keeps them from double-sending.
type FollowupPoller struct {
	queue       Queue
	renderer    *Renderer
	channel     channel.Client
	rateLimiter ratelimit.RateLimiter
	auditSink   audit.Sink
	logger      *zap.Logger
	metrics     *observability.Metrics
	interval    time.Duration
	concurrency int
}

func NewFollowupPoller(
	queue Queue,
	renderer *Renderer,
	channelClient channel.Client,
	rateLimiter ratelimit.RateLimiter,
	auditSink audit.Sink,
	interval time.Duration,
	concurrency int,
	logger *zap.Logger,
) (*FollowupPoller, error) {
	if queue == nil {
		return nil, fmt.Errorf("followup queue is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if channelClient == nil {
		return nil, fmt.Errorf("channel client is required")
	}
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if concurrency < minPollerConcurrency {
		concurrency = minPollerConcurrency
	}
	if auditSink == nil {
		auditSink = audit.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &FollowupPoller{
		queue:       queue,
		renderer:    renderer,
		channel:     channelClient,
		rateLimiter: rateLimiter,
		auditSink:   auditSink,
		logger:      logger,
		interval:    interval,
		concurrency: concurrency,
	}, nil
}

func (p *FollowupPoller) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

func (p *FollowupPoller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial poll so already-due jobs do not wait for the first ticker edge.
	if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Error("followup poller initial poll failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.logger.Error("followup poll failed", zap.Error(err))
			}
		}
	}
}

// PollOnce claims and delivers one batch of due followups. A claim batch that
// ends in a store error can still carry jobs claimed before the failure; those
// are delivered before the error is reported, otherwise they would sit in
// PROCESSING where every later poll skips them.
func (p *FollowupPoller) PollOnce(ctx context.Context) error {
	start := time.Now()
	jobs, pollErr := p.queue.ProcessQueue(ctx)
	if p.metrics != nil {
		p.metrics.ObserveQueuePollDuration(time.Since(start))
	}
	if pollErr != nil {
		pollErr = fmt.Errorf("failed to claim due followups: %w", pollErr)
	}
	if len(jobs) == 0 {
		return pollErr
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			p.deliver(groupCtx, job)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return pollErr
}

// deliver sends one claimed job and settles its outcome. Delivery errors are
// routed through FailJob, never returned: one bad job must not poison the batch.
func (p *FollowupPoller) deliver(ctx context.Context, job domain.FollowupJob) {
	logger := p.logger.With(
		zap.String("jobId", job.ID),
		zap.String("followupId", job.FollowupID),
		zap.String("stage", job.Stage.String()),
	)

	if p.metrics != nil {
		p.metrics.IncWorkerInFlight()
		defer p.metrics.DecWorkerInFlight()
	}

	body, err := p.renderer.Render(job)
	if err != nil {
		logger.Error("failed to render followup message", zap.Error(err))
		p.settleFailure(ctx, job, err, logger)
		return
	}

	if p.rateLimiter != nil {
		if err := p.rateLimiter.Wait(ctx, outboundChannelName); err != nil {
			logger.Warn("rate limiter wait failed, releasing job for retry", zap.Error(err))
			p.settleFailure(ctx, job, err, logger)
			return
		}
	}

	response, err := p.channel.Send(ctx, job.PhoneNumber, body)
	if err != nil {
		logger.Warn("followup delivery failed", zap.Error(err))
		p.settleFailure(ctx, job, err, logger)
		return
	}

	if err := p.queue.CompleteJob(ctx, job.ID); err != nil {
		logger.Error("failed to complete followup job", zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.IncFollowupSent()
	}

	p.auditLog(ctx, job, response, logger)
}

func (p *FollowupPoller) settleFailure(ctx context.Context, job domain.FollowupJob, cause error, logger *zap.Logger) {
	if err := p.queue.FailJob(ctx, job.ID, cause.Error(), job.RetryCount, job.MaxRetries); err != nil {
		logger.Error("failed to settle followup job failure", zap.Error(err))
		return
	}

	if p.metrics == nil {
		return
	}
	if job.RetryCount >= job.MaxRetries {
		p.metrics.IncFollowupFailed("retry_exhausted")
	} else {
		p.metrics.IncRetryScheduled()
	}
}

// auditLog is fire-and-forget: a failed audit write is logged and swallowed,
// it must never fail the delivery that already happened.
func (p *FollowupPoller) auditLog(ctx context.Context, job domain.FollowupJob, response *channel.SendResponse, logger *zap.Logger) {
	entry := audit.Entry{
		Action:       "followup_sent",
		ResourceType: "followup_job",
		ResourceID:   job.ID,
		PatientID:    job.PatientID,
		Metadata: map[string]any{
			"stage":      job.Stage.String(),
			"retryCount": job.RetryCount,
		},
		OccurredAt: time.Now().UTC(),
	}
	if response != nil && response.MessageID != "" {
		entry.Metadata["providerMessageId"] = response.MessageID
	}

	if err := p.auditSink.LogAccess(ctx, entry); err != nil {
		logger.Warn("audit log write failed", zap.Error(err))
	}
}
