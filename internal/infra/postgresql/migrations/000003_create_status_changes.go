package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/exception-collector/internal/repository"
	"gorm.io/gorm"
)

func createStatusChangesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_exception_status_changes",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.StatusChangeModel{}); err != nil {
				return err
			}
			return tx.Exec(`ALTER TABLE exception_status_changes ADD CONSTRAINT fk_status_changes_exception FOREIGN KEY (exception_id) REFERENCES interface_exceptions (id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.StatusChangeModel{})
		},
	}
}
