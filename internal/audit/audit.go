// Package audit provides the append-only trail of pipeline state
// transitions. Events are written inside the transaction that performs
// the transition so the trail never diverges from the entity state.
package audit

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"github.com/swiftdrop/fulfillment-api/pkg/response"
	"gorm.io/gorm"
)

// Event names recorded by the pipeline.
const (
	EventPaymentMatched    = "payment.matched"
	EventPaymentMismatched = "payment.mismatched"
	EventPaymentOrphaned   = "payment.order_not_found"
	EventOtpGenerated      = "otp.generated"
	EventOtpDispatchFailed = "otp.dispatch_failed"
	EventOtpVerified       = "otp.verified"
	EventOtpAttemptFailed  = "otp.attempt_failed"
	EventOtpExhausted      = "otp.attempts_exhausted"
	EventOtpExpired        = "otp.expired"
	EventSignalSet         = "compliance.signal_set"
	EventGateLocked        = "compliance.locked"
	EventStockDeducted     = "inventory.deducted"
)

type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append writes one event using the caller's transaction handle. Detail
// is marshalled to JSON; a nil detail records an empty payload.
func (r *Recorder) Append(tx *gorm.DB, orderNumber, actor, event string, detail any) error {
	var encoded string
	if detail != nil {
		raw, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		encoded = string(raw)
	}

	return tx.Create(&types.AuditEvent{
		OrderNumber: orderNumber,
		Actor:       actor,
		Event:       event,
		Detail:      encoded,
	}).Error
}

// ForOrder returns all events for an order, oldest first.
func (r *Recorder) ForOrder(db *gorm.DB, orderNumber string) ([]types.AuditEvent, error) {
	var events []types.AuditEvent
	if err := db.Where("order_number = ?", orderNumber).
		Order("id asc").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// GinHandlers exposes the read side of the trail.
type GinHandlers struct {
	db       *gorm.DB
	recorder *Recorder
}

func NewGinHandlers(db *gorm.DB, recorder *Recorder) *GinHandlers {
	return &GinHandlers{db: db, recorder: recorder}
}

// GetOrderTrailHandler handles GET requests for an order's audit trail.
func (h *GinHandlers) GetOrderTrailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")
		if orderNumber == "" {
			response.BadRequest(c, "order number is required")
			return
		}

		events, err := h.recorder.ForOrder(h.db, orderNumber)
		response.Handle(c, events, err)
	}
}
