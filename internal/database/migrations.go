package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/choiwjun/chamgab-sub000/internal/models"
)

// MigrateSchema creates or updates every table the service reads
func MigrateSchema(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Complex{},
		&models.Property{},
		&models.Transaction{},
		&models.POI{},
		&models.MarketIndicator{},
		&models.FootfallRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	// Lookups for the temporal window query filter on all three columns
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tx_district_date
		ON transactions(district, transaction_date);
	`).Error; err != nil {
		return fmt.Errorf("failed to create transaction date index: %w", err)
	}

	return nil
}

func (d *Database) RunMigrations() error {
	return MigrateSchema(d.db)
}

// NewTestDB opens an isolated in-memory sqlite database
func NewTestDB(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
}
