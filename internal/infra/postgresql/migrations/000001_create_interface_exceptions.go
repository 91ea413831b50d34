package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"gorm.io/gorm"
)

func createInterfaceExceptionsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_interface_exceptions",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.InterfaceExceptionModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_exceptions_status_interface ON interface_exceptions (status, interface_type)`,
				`CREATE INDEX IF NOT EXISTS idx_exceptions_event_timestamp ON interface_exceptions (event_timestamp DESC, id DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_exceptions_created_at ON interface_exceptions (created_at DESC, id DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_exceptions_severity_rank ON interface_exceptions (severity_rank DESC, id DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_exceptions_customer_id ON interface_exceptions (customer_id) WHERE customer_id <> ''`,
				`CREATE INDEX IF NOT EXISTS idx_exceptions_correlation_id ON interface_exceptions (correlation_id) WHERE correlation_id <> ''`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.InterfaceExceptionModel{})
		},
	}
}
