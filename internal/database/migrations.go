package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationRenameHomeworkKeys = "2024-09-15_rename_homework_keys"
	migrationDropBlankKeys      = "2024-10-02_drop_blank_store_keys"

	legacyHomeworkPrefix = "homework:"
	taskPrefix           = "task:"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationRenameHomeworkKeys, apply: renameHomeworkKeys},
		{name: migrationDropBlankKeys, apply: dropBlankStoreKeys},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		}); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// renameHomeworkKeys moves records written under the old "homework:" namespace to "task:".
// A legacy row whose target key already exists stays where it is; the task row wins.
func renameHomeworkKeys(db *gorm.DB) error {
	start := len(legacyHomeworkPrefix) + 1
	statement := fmt.Sprintf(
		"UPDATE store_records SET record_key = '%[1]s' || substr(record_key, %[2]d) "+
			"WHERE record_key LIKE '%[3]s%%' AND NOT EXISTS ("+
			"SELECT 1 FROM store_records existing WHERE existing.record_key = '%[1]s' || substr(store_records.record_key, %[2]d));",
		taskPrefix, start, legacyHomeworkPrefix)
	return db.Exec(statement).Error
}

func dropBlankStoreKeys(db *gorm.DB) error {
	return db.Exec("DELETE FROM store_records WHERE trim(record_key) = '';").Error
}
