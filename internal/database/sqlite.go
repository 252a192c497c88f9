// Package database opens glebarez/sqlite databases through gorm and applies recorded migrations.
package database

import (
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var errMissingPath = errors.New("database path is required")

// Schema lists the models auto-migrated on open and the one-off migrations applied afterwards.
type Schema struct {
	Name       string
	Models     []any
	Migrations []Migration
}

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, schema Schema, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, errMissingPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", schema.Name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	models := append([]any{&migrationRecord{}}, schema.Models...)
	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("migrate %s schema: %w", schema.Name, err)
	}

	if err := applyMigrations(db, schema.Migrations, logger); err != nil {
		return nil, fmt.Errorf("apply %s migrations: %w", schema.Name, err)
	}

	logger.Info("database initialized", zap.String("schema", schema.Name), zap.String("path", path))
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
