package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order statuses form a one-way pipeline. Components in this service may
// only advance an order, never move it backwards.
const (
	OrderStatusPending     = "pending"
	OrderStatusConfirmed   = "confirmed"
	OrderStatusOtpVerified = "otp_verified"
	OrderStatusInTransit   = "in_transit"
	OrderStatusDelivered   = "delivered"
	OrderStatusCancelled   = "cancelled"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusConfirmed = "confirmed"
	PaymentStatusFailed    = "failed"
)

const (
	OtpStatusPending  = "pending"
	OtpStatusVerified = "verified"
	OtpStatusFailed   = "failed"
	OtpStatusExpired  = "expired"
)

const (
	MismatchTypeOrderID = "order_id"
	MismatchTypePhone   = "phone"
	MismatchTypeBoth    = "both"
	MismatchTypeUnknown = "unknown"
)

const (
	ComplianceStatusOpen   = "open"
	ComplianceStatusLocked = "locked"
)

type Order struct {
	gorm.Model    `json:"-"`
	OrderNumber   string          `gorm:"uniqueIndex" json:"order_number"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	Items         []OrderItem     `gorm:"foreignKey:OrderNumber;references:OrderNumber" json:"items"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,2)" json:"total_amount"`
	Status        string          `json:"status"`
	PaymentStatus string          `json:"payment_status"`
	PaymentRef    string          `json:"payment_reference,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderItem struct {
	gorm.Model  `json:"-"`
	OrderNumber string `gorm:"index" json:"order_number"`
	SKU         string `json:"sku"`
	Quantity    int64  `json:"quantity"`
}

type Payment struct {
	gorm.Model     `json:"-"`
	PaymentID      string          `gorm:"uniqueIndex" json:"payment_id"`
	OrderNumber    string          `gorm:"index" json:"order_number,omitempty"` // empty until matched
	TransactionRef string          `gorm:"uniqueIndex" json:"transaction_reference"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,2)" json:"amount"`
	Method         string          `json:"method"` // pos, transfer, cash
	Status         string          `json:"status"`
	PaidAt         time.Time       `json:"paid_at"`
	VerifiedAt     *time.Time      `json:"verified_at,omitempty"`
	VerifiedBy     string          `json:"verified_by,omitempty"`
	RawPayload     string          `json:"-"` // webhook body kept for audit
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type PaymentMismatch struct {
	gorm.Model            `json:"-"`
	MismatchID            string          `gorm:"uniqueIndex" json:"mismatch_id"`
	OrderNumber           string          `gorm:"index" json:"order_number"`
	PaymentID             string          `json:"payment_id"`
	EnteredPhone          string          `json:"entered_phone"`
	EnteredOrderID        string          `json:"entered_order_id"`
	ActualPhone           string          `json:"actual_phone"`
	ActualOrderID         string          `json:"actual_order_id"`
	MismatchType          string          `json:"mismatch_type"`
	PaymentAmount         decimal.Decimal `gorm:"type:decimal(20,2)" json:"payment_amount"`
	PenaltyAmount         decimal.Decimal `gorm:"type:decimal(20,2)" json:"penalty_amount"`
	InvestigationRequired bool            `json:"investigation_required"`
	WebhookPayload        string          `json:"-"`
	CreatedAt             time.Time       `json:"created_at"`
}

type OtpVerification struct {
	gorm.Model    `json:"-"`
	OtpID         string     `gorm:"uniqueIndex" json:"otp_id"`
	OrderNumber   string     `gorm:"index" json:"order_number"`
	Code          string     `json:"-"` // never serialized
	OtpType       string     `json:"otp_type"`
	CustomerPhone string     `json:"customer_phone"`
	Status        string     `json:"status"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	SmsMessageID  string     `json:"-"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// MoneyOutCompliance is the per-order three-way-match gate. ThreeWayMatch
// and ComplianceStatus are derived from the three signals and are never
// written directly by callers.
type MoneyOutCompliance struct {
	gorm.Model       `json:"-"`
	OrderNumber      string    `gorm:"uniqueIndex" json:"order_number"`
	PaymentVerified  bool      `json:"payment_verified"`
	OtpSubmitted     bool      `json:"otp_submitted"`
	PhotoApproved    bool      `json:"photo_approved"`
	ThreeWayMatch    bool      `json:"three_way_match"`
	ComplianceStatus string    `json:"compliance_status"`
	LockedAt         *time.Time `json:"locked_at,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type StockItem struct {
	gorm.Model `json:"-"`
	SKU        string    `gorm:"uniqueIndex" json:"sku"`
	Name       string    `json:"name"`
	Quantity   int64     `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// InventoryAudit records exactly one successful deduction per order.
// Its presence is the idempotency key for the deduction guard.
type InventoryAudit struct {
	gorm.Model  `json:"-"`
	AuditID     string               `gorm:"uniqueIndex" json:"audit_id"`
	OrderNumber string               `gorm:"uniqueIndex" json:"order_number"`
	DeductedBy  string               `json:"deducted_by"`
	Lines       []InventoryAuditLine `gorm:"foreignKey:AuditID;references:AuditID" json:"lines"`
	DeductedAt  time.Time            `json:"deducted_at"`
}

type InventoryAuditLine struct {
	gorm.Model `json:"-"`
	AuditID    string `gorm:"index" json:"-"`
	SKU        string `json:"sku"`
	Quantity   int64  `json:"quantity"`
}

// AuditEvent is an append-only record of a pipeline state transition.
type AuditEvent struct {
	gorm.Model  `json:"-"`
	OrderNumber string    `gorm:"index" json:"order_number"`
	Actor       string    `json:"actor"`
	Event       string    `json:"event"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WebhookEvent stores the first outcome for a gateway transaction
// reference so replayed deliveries can be answered without reprocessing.
type WebhookEvent struct {
	gorm.Model     `json:"-"`
	TransactionRef string    `gorm:"uniqueIndex" json:"transaction_reference"`
	PaymentID      string    `json:"payment_id"`
	Result         string    `json:"-"` // serialized first response
	CreatedAt      time.Time `json:"created_at"`
}
