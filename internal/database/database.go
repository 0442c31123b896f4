package database

import (
	"fmt"
	"os"

	"github.com/swiftdrop/fulfillment-api/internal/database/migrations"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase() (*gorm.DB, error) {
	path := os.Getenv("DB_PATH")
	if path == "" {
		path = "fulfillment.db"
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.AddWebhookEvents(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Auto-migrate other schemas
	err = db.AutoMigrate(
		&types.Order{},
		&types.OrderItem{},
		&types.Payment{},
		&types.PaymentMismatch{},
		&types.OtpVerification{},
		&types.MoneyOutCompliance{},
		&types.StockItem{},
		&types.InventoryAudit{},
		&types.InventoryAuditLine{},
		&types.AuditEvent{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
