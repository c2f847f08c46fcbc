package database

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/PAFGYM/k-quant-system-sub002/internal/database/migrations"
)

// NewDatabase opens the sqlite database at path and runs migrations
func NewDatabase(path string) (*gorm.DB, error) {
	return Open(path, logger.Default.LogMode(logger.Warn))
}

// Open is NewDatabase with an explicit gorm logger.
func Open(path string, gormLogger logger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	log.Info().Str("component", "database").Str("path", path).Msg("database ready")
	return db, nil
}

// Migrate creates every table the core persists to.
func Migrate(db *gorm.DB) error {
	if err := migrations.AddOrderIndexes(db); err != nil {
		return fmt.Errorf("failed to run order migrations: %w", err)
	}
	if err := migrations.AddReconciliationIndexes(db); err != nil {
		return fmt.Errorf("failed to run reconciliation migrations: %w", err)
	}
	return nil
}
