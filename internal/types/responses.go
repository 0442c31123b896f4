package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentWebhook is the inbound gateway notification payload.
type PaymentWebhook struct {
	OrderID        string          `json:"order_id" binding:"required"`
	CustomerPhone  string          `json:"customer_phone" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	TransactionRef string          `json:"transaction_reference" binding:"required"`
	PaymentDate    time.Time       `json:"payment_date"`
	RawPayload     map[string]any  `json:"raw_payload,omitempty"`
}

// PaymentResult is the webhook response contract. Mismatches and
// order-not-found are business outcomes, not transport errors.
type PaymentResult struct {
	Success       bool             `json:"success"`
	Message       string           `json:"message"`
	OrderID       string           `json:"order_id"`
	PaymentID     string           `json:"payment_id"`
	OtpSent       *bool            `json:"otp_sent,omitempty"`
	MismatchID    string           `json:"mismatch_id,omitempty"`
	MismatchType  string           `json:"mismatch_type,omitempty"`
	PenaltyAmount *decimal.Decimal `json:"penalty_amount,omitempty"`
	NextStep      string           `json:"next_step"`
}

type OtpGenerateResult struct {
	Success       bool      `json:"success"`
	Message       string    `json:"message"`
	OtpID         string    `json:"otp_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	CustomerPhone string    `json:"customer_phone,omitempty"`
	WaitTime      int       `json:"wait_time,omitempty"` // seconds until resend allowed
}

type OtpVerifyResult struct {
	Success               bool   `json:"success"`
	Message               string `json:"message"`
	OrderReadyForDelivery bool   `json:"order_ready_for_delivery,omitempty"`
	AttemptsRemaining     *int   `json:"attempts_remaining,omitempty"`
	MaxAttemptsReached    bool   `json:"max_attempts_reached,omitempty"`
}

type OtpStatusResult struct {
	Success     bool       `json:"success"`
	Status      string     `json:"status"`
	Message     string     `json:"message,omitempty"`
	OtpID       string     `json:"otp_id,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	VerifiedAt  *time.Time `json:"verified_at,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
	IsExpired   bool       `json:"is_expired,omitempty"`
}

// DeductionDelta reports one applied stock decrement.
type DeductionDelta struct {
	SKU      string `json:"sku"`
	Quantity int64  `json:"quantity"`
}

type DeductionResult struct {
	AuditID         string           `json:"audit_id"`
	OrderNumber     string           `json:"order_number"`
	Deltas          []DeductionDelta `json:"deltas"`
	AlreadyDeducted bool             `json:"already_deducted,omitempty"`
	DeductedAt      time.Time        `json:"deducted_at"`
}

// ComplianceView is the read model for the gate state.
type ComplianceView struct {
	OrderNumber       string `json:"order_number"`
	PaymentVerified   bool   `json:"payment_verified"`
	OtpSubmitted      bool   `json:"otp_submitted"`
	PhotoApproved     bool   `json:"photo_approved"`
	ThreeWayMatch     bool   `json:"three_way_match"`
	ComplianceStatus  string `json:"compliance_status"`
	ReadyForDeduction bool   `json:"ready_for_deduction"`
}
