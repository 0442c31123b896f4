package compliance

import (
	"errors"

	"github.com/swiftdrop/fulfillment-api/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) DB() *gorm.DB {
	return d.db
}

func (d *Database) GetByOrderNumber(orderNumber string) (*types.MoneyOutCompliance, error) {
	return getByOrderNumber(d.db, orderNumber)
}

func getByOrderNumber(db *gorm.DB, orderNumber string) (*types.MoneyOutCompliance, error) {
	var record types.MoneyOutCompliance
	if err := db.Where("order_number = ?", orderNumber).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}
