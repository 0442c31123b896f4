package payment

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

// GetWebhookEvent returns the stored outcome for a gateway transaction
// reference, or nil when the reference has not been processed.
func (d *Database) GetWebhookEvent(transactionRef string) (*types.WebhookEvent, error) {
	var event types.WebhookEvent
	if err := d.db.Where("transaction_ref = ?", transactionRef).First(&event).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

// UpdateWebhookResult replaces the serialized outcome for a reference.
// Used once after OTP dispatch so replays report the dispatch status of
// the first delivery.
func (d *Database) UpdateWebhookResult(transactionRef, result string) error {
	return d.db.Model(&types.WebhookEvent{}).
		Where("transaction_ref = ?", transactionRef).
		Update("result", result).Error
}

func (d *Database) GetPayment(paymentID string) (*types.Payment, error) {
	var payment types.Payment
	if err := d.db.Where("payment_id = ?", paymentID).First(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (d *Database) ListMismatches(investigationOnly bool) ([]types.PaymentMismatch, error) {
	query := d.db.Order("id desc")
	if investigationOnly {
		query = query.Where("investigation_required = ?", true)
	}

	var mismatches []types.PaymentMismatch
	if err := query.Find(&mismatches).Error; err != nil {
		return nil, err
	}
	return mismatches, nil
}

func (d *Database) GetMismatch(mismatchID string) (*types.PaymentMismatch, error) {
	var mismatch types.PaymentMismatch
	if err := d.db.Where("mismatch_id = ?", mismatchID).First(&mismatch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mismatch, nil
}
