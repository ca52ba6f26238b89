package repository

import (
	"context"
	"errors"
	"time"

	"github.com/careline-id/careline/internal/domain"
	"gorm.io/gorm"
)

type ReminderLogRepository interface {
	Create(ctx context.Context, r *domain.ReminderLog) error
	GetByID(ctx context.Context, id string) (*domain.ReminderLog, error)
	// LatestUnresolved returns the most recent unresolved reminder delivery for
	// a patient sent after the cutoff, or ErrNotFound.
	LatestUnresolved(ctx context.Context, patientID string, sentAfter time.Time) (*domain.ReminderLog, error)
	MarkResolved(ctx context.Context, id string) error
}

type GormReminderLogRepo struct {
	db *gorm.DB
}

func NewGormReminderLogRepo(db *gorm.DB) *GormReminderLogRepo {
	return &GormReminderLogRepo{db: db}
}

func (r *GormReminderLogRepo) Create(ctx context.Context, log *domain.ReminderLog) error {
	model := reminderLogModelFromDomain(log)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if log != nil {
		*log = *reminderLogModelToDomain(model)
	}
	return nil
}

func (r *GormReminderLogRepo) GetByID(ctx context.Context, id string) (*domain.ReminderLog, error) {
	var model ReminderLogModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reminderLogModelToDomain(&model), nil
}

func (r *GormReminderLogRepo) LatestUnresolved(ctx context.Context, patientID string, sentAfter time.Time) (*domain.ReminderLog, error) {
	var model ReminderLogModel
	err := r.db.WithContext(ctx).
		Where("patient_id = ? AND resolved = false AND sent_at > ?", patientID, sentAfter).
		Order("sent_at DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reminderLogModelToDomain(&model), nil
}

func (r *GormReminderLogRepo) MarkResolved(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&ReminderLogModel{}).
		Where("id = ? AND resolved = false", id).
		Update("resolved", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConflict
	}
	return nil
}
