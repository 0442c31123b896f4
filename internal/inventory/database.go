package inventory

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

// GetAuditByOrder returns the deduction audit for an order, with lines,
// or nil when the order has never been deducted.
func (d *Database) GetAuditByOrder(tx *gorm.DB, orderNumber string) (*types.InventoryAudit, error) {
	var record types.InventoryAudit
	err := tx.Preload("Lines").Where("order_number = ?", orderNumber).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// DecrementStock atomically decrements one SKU, refusing to go
// negative. It reports false when the row is missing or short.
func (d *Database) DecrementStock(tx *gorm.DB, sku string, quantity int64) (bool, error) {
	result := tx.Model(&types.StockItem{}).
		Where("sku = ? AND quantity >= ?", sku, quantity).
		Update("quantity", gorm.Expr("quantity - ?", quantity))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (d *Database) UpsertStock(item *types.StockItem) error {
	var existing types.StockItem
	err := d.db.Where("sku = ?", item.SKU).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return d.db.Create(item).Error
	}
	if err != nil {
		return err
	}

	return d.db.Model(&types.StockItem{}).
		Where("sku = ?", item.SKU).
		Updates(map[string]interface{}{
			"name":     item.Name,
			"quantity": item.Quantity,
		}).Error
}

func (d *Database) GetStock(sku string) (*types.StockItem, error) {
	var item types.StockItem
	if err := d.db.Where("sku = ?", sku).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (d *Database) ListStock() ([]types.StockItem, error) {
	var items []types.StockItem
	if err := d.db.Order("sku asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
