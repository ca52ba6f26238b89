package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/careline-id/careline/internal/audit"
	"github.com/careline-id/careline/internal/domain"
	"github.com/careline-id/careline/internal/observability"
	"go.uber.org/zap"
)

// ReplyLinker resolves inbound replies against pending reminders.
type ReplyLinker interface {
	LinkConfirmationToReminder(ctx context.Context, patientID string, replyText string) (*domain.LinkResult, error)
}

// Triage classifies messages and pages volunteers.
type Triage interface {
	Analyze(ctx context.Context, text string) domain.MessageAnalysis
	AnalyzeMessage(ctx context.Context, patientID string, text string, analysis domain.MessageAnalysis) ([]domain.EscalationEvent, error)
	EscalateNoResponse(ctx context.Context, patientID string) error
}

// ChainCanceller stops the remaining followups of a confirmed reminder.
type ChainCanceller interface {
	CancelChain(ctx context.Context, reminderLogID string) error
}

// InboundResult is what the webhook handler reports back to the gateway.
type InboundResult struct {
	Link        *domain.LinkResult
	Analysis    domain.MessageAnalysis
	Escalations []domain.EscalationEvent
}

// InboundService handles a patient reply end to end: link it to the reminder
// that prompted it, classify it, and escalate when a human must step in.
type InboundService struct {
	linker    ReplyLinker
	triage    Triage
	canceller ChainCanceller
	auditSink audit.Sink
	logger    *zap.Logger
	metrics   *observability.Metrics
}

func NewInboundService(
	linker ReplyLinker,
	triage Triage,
	canceller ChainCanceller,
	auditSink audit.Sink,
	logger *zap.Logger,
) (*InboundService, error) {
	if linker == nil {
		return nil, fmt.Errorf("reply linker is required")
	}
	if triage == nil {
		return nil, fmt.Errorf("triage classifier is required")
	}
	if canceller == nil {
		return nil, fmt.Errorf("chain canceller is required")
	}
	if auditSink == nil {
		auditSink = audit.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &InboundService{
		linker:    linker,
		triage:    triage,
		canceller: canceller,
		auditSink: auditSink,
		logger:    logger,
	}, nil
}

func (s *InboundService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// HandleReply processes one inbound message. Escalation failures propagate to
// the caller; audit failures never do.
func (s *InboundService) HandleReply(ctx context.Context, patientID string, replyText string) (*InboundResult, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, fmt.Errorf("%w: patient id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(replyText) == "" {
		return nil, fmt.Errorf("%w: reply text is required", domain.ErrValidation)
	}

	logger := observability.WithContextLogger(s.logger, ctx).With(zap.String("patientId", patientID))

	link, err := s.linker.LinkConfirmationToReminder(ctx, patientID, replyText)
	if err != nil {
		return nil, fmt.Errorf("failed to link reply: %w", err)
	}

	if link.Success && link.Confirmation != nil {
		if s.metrics != nil {
			s.metrics.IncReplyLinked(link.Confirmation.ResponseType.String())
		}

		// A definitive confirmation makes the rest of the chain moot.
		if link.Confirmation.ResponseType == domain.ResponseConfirmed {
			if err := s.canceller.CancelChain(ctx, link.Confirmation.ReminderLogID); err != nil {
				logger.Warn("failed to cancel followup chain after confirmation", zap.Error(err))
			}
		}
	} else {
		logger.Info("inbound reply had no reminder to link", zap.String("message", link.Message))
	}

	analysis := s.triage.Analyze(ctx, replyText)
	events, err := s.triage.AnalyzeMessage(ctx, patientID, replyText, analysis)
	if err != nil {
		// A lost escalation is a safety failure; surface it.
		return nil, err
	}
	if s.metrics != nil {
		for _, event := range events {
			s.metrics.IncEscalation(event.Reason.String())
		}
	}

	s.auditReply(ctx, patientID, link, analysis, logger)

	return &InboundResult{
		Link:        link,
		Analysis:    analysis,
		Escalations: events,
	}, nil
}

// HandleNoResponse escalates a patient whose followup chain exhausted without
// any reply.
func (s *InboundService) HandleNoResponse(ctx context.Context, patientID string) error {
	if strings.TrimSpace(patientID) == "" {
		return fmt.Errorf("%w: patient id is required", domain.ErrValidation)
	}

	if err := s.triage.EscalateNoResponse(ctx, patientID); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncEscalation(domain.ReasonLowConfidence.String())
	}

	return nil
}

func (s *InboundService) auditReply(ctx context.Context, patientID string, link *domain.LinkResult, analysis domain.MessageAnalysis, logger *zap.Logger) {
	entry := audit.Entry{
		Action:       "reply_received",
		ResourceType: "linked_confirmation",
		PatientID:    patientID,
		Metadata: map[string]any{
			"linked":      link.Success,
			"intent":      analysis.Intent,
			"isEmergency": analysis.IsEmergency,
		},
		OccurredAt: time.Now().UTC(),
	}
	if link.Confirmation != nil {
		entry.ResourceID = link.Confirmation.ID
		entry.Metadata["responseType"] = link.Confirmation.ResponseType.String()
	}

	if err := s.auditSink.LogAccess(ctx, entry); err != nil {
		logger.Warn("audit log write failed", zap.Error(err))
	}
}
