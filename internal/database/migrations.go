package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

// Migration is a named one-off data repair applied at most once per database.
type Migration struct {
	Name  string
	Apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, migrations []Migration, logger *zap.Logger) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.Name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		txErr := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.Name, AppliedAtSeconds: appliedAt}).Error
		})
		if txErr != nil {
			return txErr
		}
		logger.Info("database migration applied", zap.String("migration", migration.Name))
	}
	return nil
}
