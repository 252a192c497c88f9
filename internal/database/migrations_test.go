package database

import (
	"errors"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sampleRow struct {
	ID     string `gorm:"column:id;primaryKey"`
	Status string `gorm:"column:status"`
}

func (sampleRow) TableName() string {
	return "sample_rows"
}

func TestOpenSQLiteAppliesMigrationsOnce(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "migration.db")

	applied := 0
	schema := Schema{
		Name:   "sample",
		Models: []any{&sampleRow{}},
		Migrations: []Migration{{
			Name: "2026-01-01_normalize_status",
			Apply: func(tx *gorm.DB) error {
				applied++
				return tx.Model(&sampleRow{}).Where("status = ?", "legacy").Update("status", "todo").Error
			},
		}},
	}

	database, err := OpenSQLite(databasePath, schema, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.Create(&sampleRow{ID: "row-1", Status: "legacy"}).Error; err != nil {
		testContext.Fatalf("failed to insert row: %v", err)
	}
	if applied != 1 {
		testContext.Fatalf("expected migration to run once on first open, ran %d times", applied)
	}

	var record migrationRecord
	if err := database.Where("name = ?", "2026-01-01_normalize_status").Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
	if err := Close(database); err != nil {
		testContext.Fatalf("failed to close database: %v", err)
	}

	reopened, err := OpenSQLite(databasePath, schema, nil)
	if err != nil {
		testContext.Fatalf("failed to reopen sqlite: %v", err)
	}
	defer Close(reopened) //nolint:errcheck
	if applied != 1 {
		testContext.Fatalf("expected recorded migration to be skipped, ran %d times", applied)
	}

	var stored sampleRow
	if err := reopened.Where("id = ?", "row-1").Take(&stored).Error; err != nil {
		testContext.Fatalf("failed to reload row: %v", err)
	}
	if stored.Status != "legacy" {
		testContext.Fatalf("expected skipped migration to leave row untouched, got %s", stored.Status)
	}
}

func TestApplyMigrationsRollsBackFailedMigration(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "failing.db")
	failure := errors.New("repair failed")
	schema := Schema{
		Name: "failing",
		Migrations: []Migration{{
			Name:  "2026-01-02_broken",
			Apply: func(*gorm.DB) error { return failure },
		}},
	}

	if _, err := OpenSQLite(databasePath, schema, zap.NewNop()); !errors.Is(err, failure) {
		testContext.Fatalf("expected migration failure, got %v", err)
	}
}

func TestOpenSQLiteRequiresPath(testContext *testing.T) {
	if _, err := OpenSQLite("", Schema{}, nil); err == nil {
		testContext.Fatalf("expected error for empty path")
	}
}
