// Package otp drives the delivery one-time-passcode protocol: generate,
// dispatch, verify, resend. An OTP row moves pending → verified, failed
// (attempts exhausted or dispatch failure) or expired, and never back.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/swiftdrop/fulfillment-api/internal/audit"
	"github.com/swiftdrop/fulfillment-api/internal/compliance"
	"github.com/swiftdrop/fulfillment-api/internal/orders"
	"github.com/swiftdrop/fulfillment-api/internal/sms"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"github.com/swiftdrop/fulfillment-api/pkg/response"
	"gorm.io/gorm"
)

const (
	codeSpace       = 1000000 // 6-digit codes, leading zeros preserved
	otpTTL          = 24 * time.Hour
	maxAttempts     = 3
	resendCooldown  = 5 * time.Minute
	otpTypeDelivery = "delivery"
)

// ErrOrderNotFound distinguishes a missing order from OTP business
// outcomes so the HTTP layer can answer 404.
var ErrOrderNotFound = errors.New("order not found")

type Service struct {
	db         *Database
	orders     *orders.Database
	compliance *compliance.Service
	sender     sms.Sender
	recorder   *audit.Recorder
	now        func() time.Time
}

func NewService(gormDB *gorm.DB, ordersDB *orders.Database, complianceService *compliance.Service, sender sms.Sender, recorder *audit.Recorder) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		orders:     ordersDB,
		compliance: complianceService,
		sender:     sender,
		recorder:   recorder,
		now:        time.Now,
	}
}

// generateCode produces a uniformly random 6-digit code from a
// cryptographically secure source.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// Generate creates and dispatches a fresh OTP for the order. It rejects
// when a pending, unexpired OTP already exists. A code counts as sent
// only once the SMS provider accepted it; on dispatch failure the row is
// marked failed and the failure surfaced to the caller.
//
// The code itself never appears in the returned result.
func (s *Service) Generate(ctx context.Context, order *types.Order) (*types.OtpGenerateResult, error) {
	logger := log.With().
		Str("order_number", order.OrderNumber).
		Str("service", "otp").
		Logger()

	now := s.now()

	existing, err := s.db.GetLivePending(s.db.DB(), order.OrderNumber, now)
	if err != nil {
		return nil, fmt.Errorf("failed to check for pending otp: %w", err)
	}
	if existing != nil {
		// At most one live pending OTP per order. Within the cooldown
		// the new request is rejected outright; past it, the stale
		// pending code is superseded and a fresh one issued.
		if elapsed := now.Sub(existing.CreatedAt); elapsed < resendCooldown {
			return &types.OtpGenerateResult{
				Success:  false,
				Message:  "An OTP is already pending for this order",
				WaitTime: int((resendCooldown - elapsed).Seconds()),
			}, nil
		}

		existing.Status = types.OtpStatusExpired
		if err := s.db.UpdateOtp(existing); err != nil {
			return nil, err
		}
		if err := s.recorder.Append(s.db.DB(), order.OrderNumber, "system",
			audit.EventOtpExpired, map[string]string{"otp_id": existing.OtpID}); err != nil {
			return nil, err
		}
	}

	code, err := generateCode()
	if err != nil {
		return nil, err
	}

	record := &types.OtpVerification{
		OtpID:         "OTP_" + uuid.New().String(),
		OrderNumber:   order.OrderNumber,
		Code:          code,
		OtpType:       otpTypeDelivery,
		CustomerPhone: order.CustomerPhone,
		Status:        types.OtpStatusPending,
		ExpiresAt:     now.Add(otpTTL),
		Attempts:      0,
		MaxAttempts:   maxAttempts,
	}
	if err := s.db.CreateOtp(record); err != nil {
		return nil, fmt.Errorf("failed to create otp record: %w", err)
	}

	message := fmt.Sprintf(
		"Your delivery OTP for order %s is: %s. Valid for 24 hours. Do not share this code.",
		order.OrderNumber, code)

	dispatch, err := s.sender.SendSms(ctx, order.CustomerPhone, message)
	if err != nil {
		logger.Error().Err(err).Str("otp_id", record.OtpID).Msg("otp dispatch failed")

		record.Status = types.OtpStatusFailed
		if updateErr := s.db.UpdateOtp(record); updateErr != nil {
			return nil, updateErr
		}
		if auditErr := s.recorder.Append(s.db.DB(), order.OrderNumber, "system",
			audit.EventOtpDispatchFailed, map[string]string{"otp_id": record.OtpID}); auditErr != nil {
			return nil, auditErr
		}

		return &types.OtpGenerateResult{
			Success: false,
			Message: "Failed to send OTP",
		}, nil
	}

	sentAt := s.now()
	record.SentAt = &sentAt
	record.SmsMessageID = dispatch.MessageID
	if err := s.db.UpdateOtp(record); err != nil {
		return nil, err
	}
	if err := s.recorder.Append(s.db.DB(), order.OrderNumber, "system",
		audit.EventOtpGenerated, map[string]string{"otp_id": record.OtpID}); err != nil {
		return nil, err
	}

	logger.Info().
		Str("otp_id", record.OtpID).
		Time("expires_at", record.ExpiresAt).
		Msg("otp dispatched")

	return &types.OtpGenerateResult{
		Success:       true,
		Message:       "OTP sent to customer",
		OtpID:         record.OtpID,
		ExpiresAt:     record.ExpiresAt,
		CustomerPhone: order.CustomerPhone,
	}, nil
}

// Verify checks a submitted code against the order's live pending OTP.
// Attempts increment whether or not the code matches; after the third
// wrong attempt the row is terminally failed and even the right code is
// rejected. The response does not reveal whether an OTP was ever issued.
func (s *Service) Verify(orderNumber, submittedCode string) (*types.OtpVerifyResult, error) {
	logger := log.With().
		Str("order_number", orderNumber).
		Str("service", "otp").
		Logger()

	var result *types.OtpVerifyResult
	err := s.db.DB().Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.GetOrderByNumberTx(tx, orderNumber)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}

		record, err := s.db.GetLivePending(tx, orderNumber, s.now())
		if err != nil {
			return err
		}
		if record == nil {
			// Covers never-issued, expired and terminal rows alike.
			result = &types.OtpVerifyResult{
				Success: false,
				Message: "Invalid or expired OTP",
			}
			return nil
		}

		record.Attempts++

		if record.Code == submittedCode {
			verifiedAt := s.now()
			record.Status = types.OtpStatusVerified
			record.VerifiedAt = &verifiedAt
			if err := tx.Save(record).Error; err != nil {
				return err
			}

			if err := orders.AdvanceStatus(tx, order, types.OrderStatusOtpVerified); err != nil {
				return err
			}

			if _, err := s.compliance.SetSignalTx(tx, orderNumber,
				compliance.SignalOtpSubmitted, true, "customer"); err != nil {
				return err
			}

			if err := s.recorder.Append(tx, orderNumber, "customer",
				audit.EventOtpVerified, map[string]string{"otp_id": record.OtpID}); err != nil {
				return err
			}

			logger.Info().Str("otp_id", record.OtpID).Msg("otp verified")

			result = &types.OtpVerifyResult{
				Success:               true,
				Message:               "OTP verified successfully",
				OrderReadyForDelivery: true,
			}
			return nil
		}

		if record.Attempts >= record.MaxAttempts {
			record.Status = types.OtpStatusFailed
			if err := tx.Save(record).Error; err != nil {
				return err
			}
			if err := s.recorder.Append(tx, orderNumber, "customer",
				audit.EventOtpExhausted, map[string]string{"otp_id": record.OtpID}); err != nil {
				return err
			}

			logger.Warn().
				Str("otp_id", record.OtpID).
				Int("attempts", record.Attempts).
				Msg("otp attempts exhausted")

			result = &types.OtpVerifyResult{
				Success:            false,
				Message:            "Maximum OTP attempts exceeded. Please request a new code.",
				MaxAttemptsReached: true,
			}
			return nil
		}

		if err := tx.Save(record).Error; err != nil {
			return err
		}
		if err := s.recorder.Append(tx, orderNumber, "customer",
			audit.EventOtpAttemptFailed, map[string]interface{}{
				"otp_id":   record.OtpID,
				"attempts": record.Attempts,
			}); err != nil {
			return err
		}

		remaining := record.MaxAttempts - record.Attempts
		result = &types.OtpVerifyResult{
			Success:           false,
			Message:           "Invalid OTP",
			AttemptsRemaining: &remaining,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Resend issues a new OTP unless one was generated within the cooldown
// window. The cooldown applies to any recent issuance regardless of the
// row's current status, to bound SMS cost under retry loops.
func (s *Service) Resend(ctx context.Context, orderNumber string) (*types.OtpGenerateResult, error) {
	order, err := s.orders.GetOrderByNumber(orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	recent, err := s.db.GetMostRecent(orderNumber)
	if err != nil {
		return nil, err
	}
	if recent != nil {
		elapsed := s.now().Sub(recent.CreatedAt)
		if elapsed < resendCooldown {
			wait := int((resendCooldown - elapsed).Seconds())
			return &types.OtpGenerateResult{
				Success:  false,
				Message:  "Please wait before requesting another OTP",
				WaitTime: wait,
			}, nil
		}
	}

	return s.Generate(ctx, order)
}

// Status reports the newest OTP row for an order without exposing the code.
func (s *Service) Status(orderNumber string) (*types.OtpStatusResult, error) {
	order, err := s.orders.GetOrderByNumber(orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	record, err := s.db.GetMostRecent(orderNumber)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return &types.OtpStatusResult{
			Success: true,
			Status:  "no_otp",
			Message: "No OTP generated for this order",
		}, nil
	}

	return &types.OtpStatusResult{
		Success:     true,
		Status:      record.Status,
		OtpID:       record.OtpID,
		SentAt:      record.SentAt,
		ExpiresAt:   &record.ExpiresAt,
		VerifiedAt:  record.VerifiedAt,
		Attempts:    record.Attempts,
		MaxAttempts: record.MaxAttempts,
		IsExpired:   record.ExpiresAt.Before(s.now()),
	}, nil
}

// GetDB exposes the OTP store to the background processor.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for OTP endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) VerifyOtpHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")

		var request struct {
			Otp string `json:"otp" binding:"required,len=6,numeric"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.Verify(orderNumber, request.Otp)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.InternalError(c, "An unexpected error occurred")
			return
		}

		response.OK(c, result)
	}
}

func (h *GinHandlers) ResendOtpHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")

		result, err := h.service.Resend(c.Request.Context(), orderNumber)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.InternalError(c, "An unexpected error occurred")
			return
		}

		if !result.Success && result.WaitTime > 0 {
			response.TooManyRequests(c, result.Message, gin.H{"wait_time": result.WaitTime})
			return
		}

		response.OK(c, result)
	}
}

func (h *GinHandlers) OtpStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")

		result, err := h.service.Status(orderNumber)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "Order not found")
				return
			}
			response.InternalError(c, "An unexpected error occurred")
			return
		}

		response.OK(c, result)
	}
}
