package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"gorm.io/gorm"
)

func createRetryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_retry_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.RetryAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`ALTER TABLE retry_attempts ADD CONSTRAINT fk_retry_attempts_exception FOREIGN KEY (exception_id) REFERENCES interface_exceptions (id)`,
				// At most one pending attempt per exception.
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_retry_attempts_one_pending ON retry_attempts (exception_id) WHERE status = 'PENDING'`,
				`CREATE INDEX IF NOT EXISTS idx_retry_attempts_pending_initiated ON retry_attempts (initiated_at) WHERE status = 'PENDING'`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.RetryAttemptModel{})
		},
	}
}
