package orders

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

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

// GetOrderByNumber returns nil, nil when no order exists for the number.
func (d *Database) GetOrderByNumber(orderNumber string) (*types.Order, error) {
	return getOrderByNumber(d.db, orderNumber)
}

// GetOrderByNumberTx is the transaction-scoped variant used by the
// payment and OTP services.
func (d *Database) GetOrderByNumberTx(tx *gorm.DB, orderNumber string) (*types.Order, error) {
	return getOrderByNumber(tx, orderNumber)
}

func getOrderByNumber(db *gorm.DB, orderNumber string) (*types.Order, error) {
	var order types.Order
	if err := db.Preload("Items").Where("order_number = ?", orderNumber).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}
