package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"prediction-engine/internal/models"
)

var DB *gorm.DB

// Connect establishes the database connection
func Connect(dsn string) error {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	DB = db
	return nil
}

// AutoMigrate runs schema migrations for all engine models
func AutoMigrate() error {
	engineModels := []interface{}{
		&models.Market{},
		&models.Outcome{},
		&models.Stake{},
		&models.SettlementRecord{},
	}

	for _, model := range engineModels {
		if err := DB.AutoMigrate(model); err != nil {
			return fmt.Errorf("migration failed for %T: %w", model, err)
		}
	}

	return nil
}

// GetDB returns the database instance
func GetDB() *gorm.DB {
	return DB
}
