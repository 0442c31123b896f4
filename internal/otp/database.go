package otp

import (
	"errors"
	"time"

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

func (d *Database) CreateOtp(record *types.OtpVerification) error {
	return d.db.Create(record).Error
}

func (d *Database) UpdateOtp(record *types.OtpVerification) error {
	return d.db.Save(record).Error
}

// GetLivePending returns the most recent pending, unexpired OTP for an
// order, or nil when none exists. Expired rows are simply not selected;
// the verify path treats them the same as never-issued.
func (d *Database) GetLivePending(tx *gorm.DB, orderNumber string, now time.Time) (*types.OtpVerification, error) {
	var record types.OtpVerification
	err := tx.Where("order_number = ? AND status = ? AND expires_at > ?",
		orderNumber, types.OtpStatusPending, now).
		Order("id desc").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// GetMostRecent returns the newest OTP row for an order regardless of
// status, or nil when the order has never had one.
func (d *Database) GetMostRecent(orderNumber string) (*types.OtpVerification, error) {
	var record types.OtpVerification
	err := d.db.Where("order_number = ?", orderNumber).
		Order("id desc").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// MarkExpired transitions every pending OTP whose TTL has elapsed to the
// expired status and returns how many rows changed.
func (d *Database) MarkExpired(now time.Time) (int64, error) {
	result := d.db.Model(&types.OtpVerification{}).
		Where("status = ? AND expires_at <= ?", types.OtpStatusPending, now).
		Update("status", types.OtpStatusExpired)
	return result.RowsAffected, result.Error
}
