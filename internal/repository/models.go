package repository

import (
	"time"

	"github.com/careline-id/careline/internal/domain"
)

// ReminderLogModel is the persistence model for the reminder_logs table.
type ReminderLogModel struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	PatientID         string `gorm:"type:uuid;not null"`
	PhoneNumber       string `gorm:"type:varchar(32);not null"`
	Message           string `gorm:"type:text;not null"`
	ProviderMessageID string `gorm:"type:varchar(255)"`
	Resolved          bool   `gorm:"not null;default:false"`
	SentAt            time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (ReminderLogModel) TableName() string {
	return "reminder_logs"
}

// LinkedConfirmationModel is the persistence model for linked_confirmations.
// Rows are append-only; a confirmation is never updated after creation.
type LinkedConfirmationModel struct {
	ID            string              `gorm:"type:uuid;primaryKey"`
	ReminderLogID string              `gorm:"type:uuid;not null"`
	PatientID     string              `gorm:"type:uuid;not null"`
	Response      string              `gorm:"type:text;not null"`
	ResponseType  domain.ResponseType `gorm:"type:varchar(16);not null"`
	Confidence    int                 `gorm:"not null"`
	LinkedAt      time.Time
	CreatedAt     time.Time
}

func (LinkedConfirmationModel) TableName() string {
	return "linked_confirmations"
}

func reminderLogModelFromDomain(r *domain.ReminderLog) *ReminderLogModel {
	if r == nil {
		return nil
	}

	return &ReminderLogModel{
		ID:                r.ID,
		PatientID:         r.PatientID,
		PhoneNumber:       r.PhoneNumber,
		Message:           r.Message,
		ProviderMessageID: r.ProviderMessageID,
		Resolved:          r.Resolved,
		SentAt:            r.SentAt,
	}
}

func reminderLogModelToDomain(m *ReminderLogModel) *domain.ReminderLog {
	if m == nil {
		return nil
	}

	return &domain.ReminderLog{
		ID:                m.ID,
		PatientID:         m.PatientID,
		PhoneNumber:       m.PhoneNumber,
		Message:           m.Message,
		ProviderMessageID: m.ProviderMessageID,
		Resolved:          m.Resolved,
		SentAt:            m.SentAt,
	}
}

func confirmationModelFromDomain(c *domain.LinkedConfirmation) *LinkedConfirmationModel {
	if c == nil {
		return nil
	}

	return &LinkedConfirmationModel{
		ID:            c.ID,
		ReminderLogID: c.ReminderLogID,
		PatientID:     c.PatientID,
		Response:      c.Response,
		ResponseType:  c.ResponseType,
		Confidence:    c.Confidence,
		LinkedAt:      c.LinkedAt,
	}
}

func confirmationModelToDomain(m *LinkedConfirmationModel) *domain.LinkedConfirmation {
	if m == nil {
		return nil
	}

	return &domain.LinkedConfirmation{
		ID:            m.ID,
		ReminderLogID: m.ReminderLogID,
		PatientID:     m.PatientID,
		Response:      m.Response,
		ResponseType:  m.ResponseType,
		Confidence:    m.Confidence,
		LinkedAt:      m.LinkedAt,
	}
}
