package migrations

import (
	"github.com/careline-id/careline/internal/repository"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_reminder_logs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.ReminderLogModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_reminder_logs_patient_sent ON reminder_logs (patient_id, sent_at DESC)`,
					`CREATE INDEX IF NOT EXISTS idx_reminder_logs_unresolved ON reminder_logs (patient_id, sent_at DESC) WHERE resolved = false`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.ReminderLogModel{})
			},
		},
		{
			ID: "000002_create_linked_confirmations",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.LinkedConfirmationModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_confirmations_reminder_log_id ON linked_confirmations (reminder_log_id)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.LinkedConfirmationModel{})
			},
		},
	})

	return m.Migrate()
}
