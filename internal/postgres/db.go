// Package postgres stores orders and dead-letter records with GORM.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to dsn. Driver errors are translated so unique violations
// surface as gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the tables used by this package.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&OrderDTO{}, &DeadLetterDTO{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
