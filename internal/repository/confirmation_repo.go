package repository

import (
	"context"

	"github.com/careline-id/careline/internal/domain"
	"gorm.io/gorm"
)

type ConfirmationRepository interface {
	Create(ctx context.Context, c *domain.LinkedConfirmation) error
	ListByReminder(ctx context.Context, reminderLogID string) ([]domain.LinkedConfirmation, error)
}

type GormConfirmationRepo struct {
	db *gorm.DB
}

func NewGormConfirmationRepo(db *gorm.DB) *GormConfirmationRepo {
	return &GormConfirmationRepo{db: db}
}

func (r *GormConfirmationRepo) Create(ctx context.Context, c *domain.LinkedConfirmation) error {
	model := confirmationModelFromDomain(c)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if c != nil {
		*c = *confirmationModelToDomain(model)
	}
	return nil
}

func (r *GormConfirmationRepo) ListByReminder(ctx context.Context, reminderLogID string) ([]domain.LinkedConfirmation, error) {
	var models []LinkedConfirmationModel
	err := r.db.WithContext(ctx).
		Where("reminder_log_id = ?", reminderLogID).
		Order("linked_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	confirmations := make([]domain.LinkedConfirmation, 0, len(models))
	for i := range models {
		confirmations = append(confirmations, *confirmationModelToDomain(&models[i]))
	}

	return confirmations, nil
}
