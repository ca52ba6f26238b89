package linker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careline-id/careline/internal/domain"
	"github.com/careline-id/careline/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultLookback = 24 * time.Hour

// Confidence levels for token-rule classification. Exact single-token answers
// are trusted more than tokens found inside a longer sentence.
const (
	confidenceExact    = 95
	confidenceNegative = 90
	confidenceContains = 85
	confidenceDeferral = 85
	confidenceUnknown  = 40
)

// Token tables, Indonesian first. A reply is scanned for negative and deferral
// tokens before affirmative ones: "belum, nanti ya" must not be read as a
// confirmation just because it ends in "ya".
var (
	affirmativeTokens = []string{
		"sudah", "ya", "iya", "yup", "siap", "beres", "sip", "done", "yes", "ok", "oke",
	}
	negativeTokens = []string{
		"belum", "tidak", "tdk", "nggak", "gak", "lupa", "no", "not yet", "skip",
	}
	deferralTokens = []string{
		"nanti", "bentar", "sebentar", "besok", "tunggu", "later",
	}
)

// Linker associates inbound free-text replies with the outbound reminder that
// prompted them.
type Linker struct {
	reminders     repository.ReminderLogRepository
	confirmations repository.ConfirmationRepository
	logger        *zap.Logger
	lookback      time.Duration
	now           func() time.Time
}

func NewLinker(
	reminders repository.ReminderLogRepository,
	confirmations repository.ConfirmationRepository,
	logger *zap.Logger,
) (*Linker, error) {
	return newLinker(reminders, confirmations, defaultLookback, time.Now, logger)
}

func newLinker(
	reminders repository.ReminderLogRepository,
	confirmations repository.ConfirmationRepository,
	lookback time.Duration,
	nowFn func() time.Time,
	logger *zap.Logger,
) (*Linker, error) {
	if reminders == nil {
		return nil, fmt.Errorf("reminder log repository is required")
	}
	if confirmations == nil {
		return nil, fmt.Errorf("confirmation repository is required")
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Linker{
		reminders:     reminders,
		confirmations: confirmations,
		logger:        logger,
		lookback:      lookback,
		now:           nowFn,
	}, nil
}

// LinkConfirmationToReminder finds the most recent unresolved reminder for the
// patient inside the lookback window and records the reply against it. When
// nothing is pending it reports that explicitly instead of fabricating a link.
func (l *Linker) LinkConfirmationToReminder(ctx context.Context, patientID string, replyText string) (*domain.LinkResult, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, fmt.Errorf("%w: patient id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(replyText) == "" {
		return nil, fmt.Errorf("%w: reply text is required", domain.ErrValidation)
	}

	now := l.now()
	reminder, err := l.reminders.LatestUnresolved(ctx, patientID, now.Add(-l.lookback))
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.LinkResult{
			Success: false,
			Message: "no pending reminder found for patient within lookback window",
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending reminder: %w", err)
	}

	responseType, confidence := ClassifyReply(replyText)

	confirmation := &domain.LinkedConfirmation{
		ID:            uuid.NewString(),
		ReminderLogID: reminder.ID,
		PatientID:     patientID,
		Response:      replyText,
		ResponseType:  responseType,
		Confidence:    confidence,
		LinkedAt:      now,
	}
	if err := confirmation.Validate(); err != nil {
		return nil, err
	}
	if err := l.confirmations.Create(ctx, confirmation); err != nil {
		return nil, fmt.Errorf("failed to record linked confirmation: %w", err)
	}

	// Definitive answers resolve the reminder. A concurrent reply may have
	// resolved it first; the earlier resolution stays active and this record
	// remains as an audit trail.
	if responseType == domain.ResponseConfirmed || responseType == domain.ResponseMissed {
		if err := l.reminders.MarkResolved(ctx, reminder.ID); err != nil && !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("failed to resolve reminder: %w", err)
		}
	}

	requiresFollowUp := responseType == domain.ResponseUnknown || responseType == domain.ResponseLater

	return &domain.LinkResult{
		Success:          true,
		Confirmation:     confirmation,
		Message:          linkMessage(responseType),
		RequiresFollowUp: requiresFollowUp,
	}, nil
}

// ClassifyReply maps raw reply text to a response type with a confidence score.
func ClassifyReply(replyText string) (domain.ResponseType, int) {
	normalized := strings.ToLower(strings.TrimSpace(replyText))

	for _, token := range affirmativeTokens {
		if normalized == token {
			return domain.ResponseConfirmed, confidenceExact
		}
	}
	if containsToken(normalized, negativeTokens) {
		return domain.ResponseMissed, confidenceNegative
	}
	if containsToken(normalized, deferralTokens) {
		return domain.ResponseLater, confidenceDeferral
	}
	if containsToken(normalized, affirmativeTokens) {
		return domain.ResponseConfirmed, confidenceContains
	}

	return domain.ResponseUnknown, confidenceUnknown
}

func containsToken(normalized string, tokens []string) bool {
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?'
	})

	for _, token := range tokens {
		if strings.Contains(token, " ") {
			if strings.Contains(normalized, token) {
				return true
			}
			continue
		}
		for _, word := range words {
			if word == token {
				return true
			}
		}
	}
	return false
}

func linkMessage(responseType domain.ResponseType) string {
	switch responseType {
	case domain.ResponseConfirmed:
		return "reply linked: reminder confirmed"
	case domain.ResponseMissed:
		return "reply linked: reminder missed"
	case domain.ResponseLater:
		return "reply linked: patient deferred"
	default:
		return "reply linked: response unclear, keeping followup chain alive"
	}
}
