// Package compliance implements the per-order three-way-match gate. The
// gate holds three independent signals and a derived locked state; the
// locked state only ever changes through recomputation here.
package compliance

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/swiftdrop/fulfillment-api/internal/audit"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"github.com/swiftdrop/fulfillment-api/pkg/response"
	"gorm.io/gorm"
)

// Signal names accepted by SetSignal.
const (
	SignalPaymentVerified = "payment_verified"
	SignalOtpSubmitted    = "otp_submitted"
	SignalPhotoApproved   = "photo_approved"
)

type Service struct {
	db       *Database
	recorder *audit.Recorder
}

func NewService(gormDB *gorm.DB, recorder *audit.Recorder) *Service {
	return &Service{
		db:       NewDatabase(gormDB),
		recorder: recorder,
	}
}

// SetSignal updates one signal for an order in its own transaction.
func (s *Service) SetSignal(orderNumber, signal string, value bool, actor string) (*types.MoneyOutCompliance, error) {
	var record *types.MoneyOutCompliance
	err := s.db.DB().Transaction(func(tx *gorm.DB) error {
		var txErr error
		record, txErr = s.SetSignalTx(tx, orderNumber, signal, value, actor)
		return txErr
	})
	return record, err
}

// SetSignalTx updates one signal and recomputes the aggregate inside the
// caller's transaction. The signal write and the recomputation commit
// together, so two racing signal setters for the same order serialize at
// the store and neither computes the aggregate from a stale sibling.
//
// Locked is sticky: once the gate is locked, signal downgrades are
// ignored and the state is returned unchanged.
func (s *Service) SetSignalTx(tx *gorm.DB, orderNumber, signal string, value bool, actor string) (*types.MoneyOutCompliance, error) {
	record, err := getByOrderNumber(tx, orderNumber)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &types.MoneyOutCompliance{
			OrderNumber:      orderNumber,
			ComplianceStatus: types.ComplianceStatusOpen,
		}
		if err := tx.Create(record).Error; err != nil {
			return nil, fmt.Errorf("failed to create compliance record: %w", err)
		}
	}

	if record.ComplianceStatus == types.ComplianceStatusLocked && !value {
		return record, nil
	}

	switch signal {
	case SignalPaymentVerified:
		record.PaymentVerified = value
	case SignalOtpSubmitted:
		record.OtpSubmitted = value
	case SignalPhotoApproved:
		record.PhotoApproved = value
	default:
		return nil, fmt.Errorf("unknown compliance signal %q", signal)
	}

	wasLocked := record.ComplianceStatus == types.ComplianceStatusLocked
	record.ThreeWayMatch = record.PaymentVerified && record.OtpSubmitted && record.PhotoApproved
	if record.ThreeWayMatch && !wasLocked {
		now := time.Now()
		record.ComplianceStatus = types.ComplianceStatusLocked
		record.LockedAt = &now
	}

	if err := tx.Model(&types.MoneyOutCompliance{}).
		Where("order_number = ?", orderNumber).
		Updates(map[string]interface{}{
			"payment_verified":  record.PaymentVerified,
			"otp_submitted":     record.OtpSubmitted,
			"photo_approved":    record.PhotoApproved,
			"three_way_match":   record.ThreeWayMatch,
			"compliance_status": record.ComplianceStatus,
			"locked_at":         record.LockedAt,
		}).Error; err != nil {
		return nil, fmt.Errorf("failed to update compliance record: %w", err)
	}

	if err := s.recorder.Append(tx, orderNumber, actor, audit.EventSignalSet, map[string]interface{}{
		"signal": signal,
		"value":  value,
	}); err != nil {
		return nil, err
	}

	if record.ComplianceStatus == types.ComplianceStatusLocked && !wasLocked {
		log.Info().
			Str("order_number", orderNumber).
			Str("service", "compliance").
			Msg("three-way match satisfied, gate locked")

		if err := s.recorder.Append(tx, orderNumber, actor, audit.EventGateLocked, nil); err != nil {
			return nil, err
		}
	}

	return record, nil
}

// IsLockedTx reports whether the gate is locked, read within the
// caller's transaction so deduction sees a committed and current state.
func (s *Service) IsLockedTx(tx *gorm.DB, orderNumber string) (bool, error) {
	record, err := getByOrderNumber(tx, orderNumber)
	if err != nil {
		return false, err
	}
	return record != nil && record.ComplianceStatus == types.ComplianceStatusLocked, nil
}

// GetView returns the read model for an order's gate, or nil when no
// signal has been recorded yet.
func (s *Service) GetView(orderNumber string) (*types.ComplianceView, error) {
	record, err := s.db.GetByOrderNumber(orderNumber)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	return &types.ComplianceView{
		OrderNumber:       record.OrderNumber,
		PaymentVerified:   record.PaymentVerified,
		OtpSubmitted:      record.OtpSubmitted,
		PhotoApproved:     record.PhotoApproved,
		ThreeWayMatch:     record.ThreeWayMatch,
		ComplianceStatus:  record.ComplianceStatus,
		ReadyForDeduction: record.ComplianceStatus == types.ComplianceStatusLocked,
	}, nil
}

// GinHandlers contains HTTP handlers for compliance endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) GetComplianceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")

		view, err := h.service.GetView(orderNumber)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if view == nil {
			response.NotFound(c, "No compliance record for order")
			return
		}

		response.Success(c, view)
	}
}

// PhotoApprovalHandler receives the external photo-verification
// outcome and records it as the third gate signal.
func (h *GinHandlers) PhotoApprovalHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")

		var request struct {
			Approved bool `json:"approved"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		actor := c.GetString("clientID")
		record, err := h.service.SetSignal(orderNumber, SignalPhotoApproved, request.Approved, actor)
		response.Handle(c, record, err)
	}
}
