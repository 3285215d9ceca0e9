package database

import (
	"errors"
	"time"

	"github.com/crestline/fieldsync/backend/internal/fieldsync"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillDeficiencyDefaults = "2026-08-12_backfill_deficiency_defaults"

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
		{name: migrationBackfillDeficiencyDefaults, apply: backfillDeficiencyDefaults},
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
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillDeficiencyDefaults repairs rows imported before sentinel defaults
// were enforced at the envelope layer.
func backfillDeficiencyDefaults(db *gorm.DB) error {
	updates := []struct {
		column string
		value  string
	}{
		{column: "component_code", value: fieldsync.DefaultComponentCode},
		{column: "title", value: fieldsync.DefaultDeficiencyTitle},
		{column: "severity", value: fieldsync.SeverityMedium},
		{column: "priority", value: fieldsync.PriorityMediumTerm},
		{column: "status", value: fieldsync.StatusOpen},
	}
	for _, update := range updates {
		if err := db.Model(&fieldsync.Deficiency{}).
			Where(update.column+" = ''").
			Update(update.column, update.value).Error; err != nil {
			return err
		}
	}
	return nil
}
