package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/careline-id/careline/internal/audit"
	"github.com/careline-id/careline/internal/domain"
	"github.com/careline-id/careline/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReminderService records outbound reminder deliveries and arms their followup
// chains. The actual reminder transmission is done by the upstream messaging
// flow; this service owns what happens afterwards.
type ReminderService struct {
	reminders repository.ReminderLogRepository
	planner   *FollowupPlanner
	auditSink audit.Sink
	logger    *zap.Logger
	now       func() time.Time
}

func NewReminderService(
	reminders repository.ReminderLogRepository,
	planner *FollowupPlanner,
	auditSink audit.Sink,
	logger *zap.Logger,
) (*ReminderService, error) {
	if reminders == nil {
		return nil, fmt.Errorf("reminder log repository is required")
	}
	if planner == nil {
		return nil, fmt.Errorf("followup planner is required")
	}
	if auditSink == nil {
		auditSink = audit.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ReminderService{
		reminders: reminders,
		planner:   planner,
		auditSink: auditSink,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// RecordDelivery persists a sent reminder and schedules its followup chain.
func (s *ReminderService) RecordDelivery(ctx context.Context, patientID, phoneNumber, message, providerMessageID string) (*domain.ReminderLog, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, fmt.Errorf("%w: patient id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(phoneNumber) == "" {
		return nil, fmt.Errorf("%w: phone number is required", domain.ErrValidation)
	}
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("%w: message is required", domain.ErrValidation)
	}

	reminder := &domain.ReminderLog{
		ID:                uuid.NewString(),
		PatientID:         patientID,
		PhoneNumber:       strings.TrimSpace(phoneNumber),
		Message:           message,
		ProviderMessageID: providerMessageID,
		SentAt:            s.now().UTC(),
	}

	if err := s.reminders.Create(ctx, reminder); err != nil {
		return nil, fmt.Errorf("failed to record reminder delivery: %w", err)
	}

	if err := s.planner.ScheduleChain(ctx, reminder); err != nil {
		return nil, fmt.Errorf("failed to schedule followup chain: %w", err)
	}

	entry := audit.Entry{
		Action:       "reminder_recorded",
		ResourceType: "reminder_log",
		ResourceID:   reminder.ID,
		PatientID:    patientID,
		OccurredAt:   s.now().UTC(),
	}
	if err := s.auditSink.LogAccess(ctx, entry); err != nil {
		s.logger.Warn("audit log write failed", zap.Error(err))
	}

	return reminder, nil
}
