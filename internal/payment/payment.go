// Package payment matches inbound gateway notifications to orders using
// the two-factor order-number + phone identity check, and opens the OTP
// protocol on a clean match. Mismatches are never auto-resolved: each
// one is recorded with a penalty and flagged for investigation.
package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/swiftdrop/fulfillment-api/internal/audit"
	"github.com/swiftdrop/fulfillment-api/internal/compliance"
	"github.com/swiftdrop/fulfillment-api/internal/orders"
	"github.com/swiftdrop/fulfillment-api/internal/otp"
	"github.com/swiftdrop/fulfillment-api/internal/phone"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"github.com/swiftdrop/fulfillment-api/pkg/response"
	"gorm.io/gorm"
)

// penaltyAmount is the fixed policy charge assessed on every mismatch.
var penaltyAmount = decimal.NewFromInt(10000)

// MismatchNotifier receives every freshly recorded mismatch. The
// investigation workflow behind it is an external collaborator.
type MismatchNotifier interface {
	NotifyMismatch(ctx context.Context, mismatch *types.PaymentMismatch)
}

// LogNotifier is the default notifier; it only logs. A messaging-backed
// implementation can be swapped in at wiring time.
type LogNotifier struct{}

func (LogNotifier) NotifyMismatch(_ context.Context, mismatch *types.PaymentMismatch) {
	log.Warn().
		Str("mismatch_id", mismatch.MismatchID).
		Str("order_number", mismatch.OrderNumber).
		Str("mismatch_type", mismatch.MismatchType).
		Str("penalty_amount", mismatch.PenaltyAmount.String()).
		Msg("payment mismatch queued for investigation")
}

type Service struct {
	db         *Database
	orders     *orders.Database
	compliance *compliance.Service
	otp        *otp.Service
	recorder   *audit.Recorder
	notifier   MismatchNotifier
	now        func() time.Time
}

func NewService(gormDB *gorm.DB, ordersDB *orders.Database, complianceService *compliance.Service, otpService *otp.Service, recorder *audit.Recorder, notifier MismatchNotifier) *Service {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Service{
		db:         NewDatabase(gormDB),
		orders:     ordersDB,
		compliance: complianceService,
		otp:        otpService,
		recorder:   recorder,
		notifier:   notifier,
		now:        time.Now,
	}
}

// ProcessPayment handles one gateway notification end to end. All writes
// for a notification commit in a single transaction; a replayed
// transaction reference short-circuits to the stored first outcome
// without creating a second payment or re-dispatching an OTP. OTP
// dispatch itself runs only after the matching transaction has
// committed.
func (s *Service) ProcessPayment(ctx context.Context, webhook types.PaymentWebhook, actor string) (*types.PaymentResult, error) {
	logger := log.With().
		Str("transaction_reference", webhook.TransactionRef).
		Str("order_id", webhook.OrderID).
		Str("service", "payment").
		Logger()

	if prior, err := s.replayedResult(webhook.TransactionRef); err != nil {
		return nil, err
	} else if prior != nil {
		logger.Info().Msg("duplicate webhook delivery, returning stored outcome")
		return prior, nil
	}

	var (
		result       *types.PaymentResult
		mismatch     *types.PaymentMismatch
		matchedOrder *types.Order
	)

	err := s.db.DB().Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.GetOrderByNumberTx(tx, webhook.OrderID)
		if err != nil {
			return err
		}

		payment, err := s.createPayment(tx, webhook, order)
		if err != nil {
			return err
		}

		if order == nil {
			result, err = s.handleOrderNotFound(tx, payment, webhook)
			if err != nil {
				return err
			}
			return s.storeWebhookEvent(tx, webhook.TransactionRef, payment.PaymentID, result)
		}

		orderIDMatch := order.OrderNumber == webhook.OrderID
		phoneMatch := phone.Matches(order.CustomerPhone, webhook.CustomerPhone)

		if orderIDMatch && phoneMatch {
			matchedOrder = order
			result, err = s.confirmPayment(tx, payment, order, actor)
		} else {
			result, mismatch, err = s.recordMismatch(tx, payment, order, webhook, actor, orderIDMatch, phoneMatch)
		}
		if err != nil {
			return err
		}

		return s.storeWebhookEvent(tx, webhook.TransactionRef, payment.PaymentID, result)
	})
	if err != nil {
		// A concurrent delivery of the same reference may have won the
		// unique-index race; answer with its stored outcome.
		if prior, replayErr := s.replayedResult(webhook.TransactionRef); replayErr == nil && prior != nil {
			return prior, nil
		}
		logger.Error().Err(err).Msg("payment processing failed")
		return nil, fmt.Errorf("payment processing failed: %w", err)
	}

	if mismatch != nil {
		s.notifier.NotifyMismatch(ctx, mismatch)
	}

	if matchedOrder != nil {
		otpResult, otpErr := s.otp.Generate(ctx, matchedOrder)
		sent := otpErr == nil && otpResult.Success
		result.OtpSent = &sent
		if otpErr != nil {
			logger.Error().Err(otpErr).Msg("otp generation failed after payment match")
		}

		// Fold the dispatch outcome into the stored result so replays
		// of this reference report what actually happened.
		if raw, marshalErr := json.Marshal(result); marshalErr == nil {
			if updateErr := s.db.UpdateWebhookResult(webhook.TransactionRef, string(raw)); updateErr != nil {
				logger.Error().Err(updateErr).Msg("failed to update stored webhook outcome")
			}
		}
	}

	return result, nil
}

// replayedResult returns the stored outcome for an already-processed
// transaction reference, or nil for a first delivery.
func (s *Service) replayedResult(transactionRef string) (*types.PaymentResult, error) {
	event, err := s.db.GetWebhookEvent(transactionRef)
	if err != nil || event == nil {
		return nil, err
	}

	var result types.PaymentResult
	if err := json.Unmarshal([]byte(event.Result), &result); err != nil {
		return nil, fmt.Errorf("stored webhook outcome is unreadable: %w", err)
	}
	return &result, nil
}

func (s *Service) createPayment(tx *gorm.DB, webhook types.PaymentWebhook, order *types.Order) (*types.Payment, error) {
	rawPayload, _ := json.Marshal(webhook.RawPayload)

	payment := &types.Payment{
		PaymentID:      "PAY_" + uuid.New().String(),
		TransactionRef: webhook.TransactionRef,
		Amount:         webhook.Amount,
		Method:         "pos",
		Status:         types.PaymentStatusPending,
		PaidAt:         webhook.PaymentDate,
		RawPayload:     string(rawPayload),
	}
	if order != nil {
		payment.OrderNumber = order.OrderNumber
	}

	if err := tx.Create(payment).Error; err != nil {
		return nil, fmt.Errorf("failed to create payment record: %w", err)
	}
	return payment, nil
}

func (s *Service) handleOrderNotFound(tx *gorm.DB, payment *types.Payment, webhook types.PaymentWebhook) (*types.PaymentResult, error) {
	payment.Status = types.PaymentStatusFailed
	if err := tx.Save(payment).Error; err != nil {
		return nil, err
	}

	if err := s.recorder.Append(tx, webhook.OrderID, "gateway",
		audit.EventPaymentOrphaned, map[string]string{"payment_id": payment.PaymentID}); err != nil {
		return nil, err
	}

	log.Warn().
		Str("order_id", webhook.OrderID).
		Str("payment_id", payment.PaymentID).
		Str("service", "payment").
		Msg("order not found for payment")

	// No mismatch row here: with no order on file there is nothing to
	// compare the claimed identity against.
	return &types.PaymentResult{
		Success:   false,
		Message:   "Order not found",
		OrderID:   webhook.OrderID,
		PaymentID: payment.PaymentID,
		NextStep:  "Verify order exists in system",
	}, nil
}

func (s *Service) confirmPayment(tx *gorm.DB, payment *types.Payment, order *types.Order, actor string) (*types.PaymentResult, error) {
	verifiedAt := s.now()
	payment.Status = types.PaymentStatusConfirmed
	payment.VerifiedAt = &verifiedAt
	payment.VerifiedBy = actor
	if err := tx.Save(payment).Error; err != nil {
		return nil, err
	}

	if err := orders.AdvanceStatus(tx, order, types.OrderStatusConfirmed); err != nil {
		return nil, err
	}
	if err := tx.Model(&types.Order{}).
		Where("order_number = ?", order.OrderNumber).
		Updates(map[string]interface{}{
			"payment_status": "paid",
			"payment_ref":    payment.TransactionRef,
		}).Error; err != nil {
		return nil, err
	}

	if _, err := s.compliance.SetSignalTx(tx, order.OrderNumber,
		compliance.SignalPaymentVerified, true, actor); err != nil {
		return nil, err
	}

	if err := s.recorder.Append(tx, order.OrderNumber, actor,
		audit.EventPaymentMatched, map[string]string{"payment_id": payment.PaymentID}); err != nil {
		return nil, err
	}

	log.Info().
		Str("order_number", order.OrderNumber).
		Str("payment_id", payment.PaymentID).
		Str("amount", payment.Amount.String()).
		Str("service", "payment").
		Msg("payment verified")

	return &types.PaymentResult{
		Success:   true,
		Message:   "Payment verified and OTP sent",
		OrderID:   order.OrderNumber,
		PaymentID: payment.PaymentID,
		NextStep:  "Customer should receive OTP for delivery confirmation",
	}, nil
}

// mismatchType derives the closed mismatch variant from the two checks.
// Unknown is unreachable from this call site but kept so the type is
// total over its inputs.
func mismatchType(orderIDMatch, phoneMatch bool) string {
	switch {
	case !orderIDMatch && !phoneMatch:
		return types.MismatchTypeBoth
	case !orderIDMatch:
		return types.MismatchTypeOrderID
	case !phoneMatch:
		return types.MismatchTypePhone
	default:
		return types.MismatchTypeUnknown
	}
}

func (s *Service) recordMismatch(tx *gorm.DB, payment *types.Payment, order *types.Order, webhook types.PaymentWebhook, actor string, orderIDMatch, phoneMatch bool) (*types.PaymentResult, *types.PaymentMismatch, error) {
	verifiedAt := s.now()
	payment.Status = types.PaymentStatusFailed
	payment.VerifiedAt = &verifiedAt
	payment.VerifiedBy = actor
	if err := tx.Save(payment).Error; err != nil {
		return nil, nil, err
	}

	mismatch := &types.PaymentMismatch{
		MismatchID:            "MIS_" + uuid.New().String(),
		OrderNumber:           order.OrderNumber,
		PaymentID:             payment.PaymentID,
		EnteredPhone:          webhook.CustomerPhone,
		EnteredOrderID:        webhook.OrderID,
		ActualPhone:           order.CustomerPhone,
		ActualOrderID:         order.OrderNumber,
		MismatchType:          mismatchType(orderIDMatch, phoneMatch),
		PaymentAmount:         payment.Amount,
		PenaltyAmount:         penaltyAmount,
		InvestigationRequired: true,
		WebhookPayload:        payment.RawPayload,
	}
	if err := tx.Create(mismatch).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to create mismatch record: %w", err)
	}

	if err := s.recorder.Append(tx, order.OrderNumber, actor,
		audit.EventPaymentMismatched, map[string]string{
			"mismatch_id":   mismatch.MismatchID,
			"mismatch_type": mismatch.MismatchType,
		}); err != nil {
		return nil, nil, err
	}

	log.Warn().
		Str("order_number", order.OrderNumber).
		Str("mismatch_id", mismatch.MismatchID).
		Str("mismatch_type", mismatch.MismatchType).
		Str("service", "payment").
		Msg("payment mismatch detected")

	penalty := penaltyAmount
	return &types.PaymentResult{
		Success:       false,
		Message:       "Payment mismatch detected - investigation required",
		OrderID:       order.OrderNumber,
		PaymentID:     payment.PaymentID,
		MismatchID:    mismatch.MismatchID,
		MismatchType:  mismatch.MismatchType,
		PenaltyAmount: &penalty,
		NextStep:      "Accountant must investigate and correct the mismatch",
	}, mismatch, nil
}

func (s *Service) storeWebhookEvent(tx *gorm.DB, transactionRef, paymentID string, result *types.PaymentResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return tx.Create(&types.WebhookEvent{
		TransactionRef: transactionRef,
		PaymentID:      paymentID,
		Result:         string(raw),
	}).Error
}

// ListMismatches is the ledger's read surface for the investigation
// workflow.
func (s *Service) ListMismatches(investigationOnly bool) ([]types.PaymentMismatch, error) {
	return s.db.ListMismatches(investigationOnly)
}

func (s *Service) GetMismatch(mismatchID string) (*types.PaymentMismatch, error) {
	return s.db.GetMismatch(mismatchID)
}

// GinHandlers contains HTTP handlers for payment endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// PaymentWebhookHandler handles inbound gateway notifications. Business
// failures (mismatch, order not found) are 200 responses with
// success=false; only infrastructure faults map to 5xx.
func (h *GinHandlers) PaymentWebhookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var webhook types.PaymentWebhook
		if err := c.ShouldBindJSON(&webhook); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		actor := c.GetString("clientID")
		if actor == "" {
			actor = "gateway"
		}

		result, err := h.service.ProcessPayment(c.Request.Context(), webhook, actor)
		if err != nil {
			response.InternalError(c, "Payment processing failed")
			return
		}

		response.OK(c, result)
	}
}

func (h *GinHandlers) ListMismatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		investigationOnly := c.Query("investigation_required") == "true"

		mismatches, err := h.service.ListMismatches(investigationOnly)
		response.Handle(c, mismatches, err)
	}
}

func (h *GinHandlers) GetMismatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		mismatchID := c.Param("mismatch_id")

		mismatch, err := h.service.GetMismatch(mismatchID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if mismatch == nil {
			response.NotFound(c, "Mismatch not found")
			return
		}

		response.Success(c, mismatch)
	}
}
