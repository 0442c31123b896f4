// Package inventory holds the stock counters and the deduction guard,
// the only code path allowed to decrement stock for an order. Deduction
// requires a locked compliance gate and happens at most once per order.
package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/swiftdrop/fulfillment-api/internal/audit"
	"github.com/swiftdrop/fulfillment-api/internal/compliance"
	"github.com/swiftdrop/fulfillment-api/internal/orders"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"github.com/swiftdrop/fulfillment-api/pkg/response"
	"gorm.io/gorm"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrNotCompliant      = errors.New("compliance gate is not locked for this order")
	ErrInsufficientStock = errors.New("insufficient stock")
)

type Service struct {
	db         *Database
	orders     *orders.Database
	compliance *compliance.Service
	recorder   *audit.Recorder
}

func NewService(gormDB *gorm.DB, ordersDB *orders.Database, complianceService *compliance.Service, recorder *audit.Recorder) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		orders:     ordersDB,
		compliance: complianceService,
		recorder:   recorder,
	}
}

// Deduct decrements stock for every line of the order, all or nothing.
// Preconditions: the compliance gate must be locked and the order must
// not have been deducted before. A repeat call is not an error; it
// returns the first call's audit unchanged.
func (s *Service) Deduct(orderNumber, actingUser string) (*types.DeductionResult, error) {
	logger := log.With().
		Str("order_number", orderNumber).
		Str("service", "inventory").
		Logger()

	var result *types.DeductionResult
	err := s.db.DB().Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.GetOrderByNumberTx(tx, orderNumber)
		if err != nil {
			return err
		}
		if order == nil {
			return ErrOrderNotFound
		}

		locked, err := s.compliance.IsLockedTx(tx, orderNumber)
		if err != nil {
			return err
		}
		if !locked {
			return ErrNotCompliant
		}

		existing, err := s.db.GetAuditByOrder(tx, orderNumber)
		if err != nil {
			return err
		}
		if existing != nil {
			result = auditToResult(existing, true)
			return nil
		}

		record := &types.InventoryAudit{
			AuditID:     "AUD_" + uuid.New().String(),
			OrderNumber: orderNumber,
			DeductedBy:  actingUser,
			DeductedAt:  time.Now(),
		}

		for _, item := range order.Items {
			ok, err := s.db.DecrementStock(tx, item.SKU, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: sku %s requires %d", ErrInsufficientStock, item.SKU, item.Quantity)
			}
			record.Lines = append(record.Lines, types.InventoryAuditLine{
				AuditID:  record.AuditID,
				SKU:      item.SKU,
				Quantity: item.Quantity,
			})
		}

		if err := tx.Create(record).Error; err != nil {
			return err
		}

		if err := s.recorder.Append(tx, orderNumber, actingUser,
			audit.EventStockDeducted, map[string]string{"audit_id": record.AuditID}); err != nil {
			return err
		}

		logger.Info().
			Str("audit_id", record.AuditID).
			Int("line_count", len(record.Lines)).
			Msg("stock deducted")

		result = auditToResult(record, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func auditToResult(record *types.InventoryAudit, replay bool) *types.DeductionResult {
	deltas := make([]types.DeductionDelta, 0, len(record.Lines))
	for _, line := range record.Lines {
		deltas = append(deltas, types.DeductionDelta{
			SKU:      line.SKU,
			Quantity: line.Quantity,
		})
	}

	deductedAt := record.DeductedAt
	if deductedAt.IsZero() {
		deductedAt = record.CreatedAt
	}

	return &types.DeductionResult{
		AuditID:         record.AuditID,
		OrderNumber:     record.OrderNumber,
		Deltas:          deltas,
		AlreadyDeducted: replay,
		DeductedAt:      deductedAt,
	}
}

// ListAudits returns all deduction audits for an order (zero or one
// under the guard's invariant, but the read side does not assume it).
func (s *Service) ListAudits(orderNumber string) ([]types.InventoryAudit, error) {
	var audits []types.InventoryAudit
	if err := s.db.DB().Preload("Lines").
		Where("order_number = ?", orderNumber).
		Order("id desc").
		Find(&audits).Error; err != nil {
		return nil, err
	}
	return audits, nil
}

func (s *Service) UpsertStock(item *types.StockItem) error {
	return s.db.UpsertStock(item)
}

func (s *Service) ListStock() ([]types.StockItem, error) {
	return s.db.ListStock()
}

// GinHandlers contains HTTP handlers for inventory endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// DeductHandler triggers the guarded deduction for an order.
// Precondition failures answer 422 with a specific code; a repeat call
// answers 200 with the original audit.
func (h *GinHandlers) DeductHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")

		actingUser := c.GetString("clientID")
		if actingUser == "" {
			actingUser = "system"
		}

		result, err := h.service.Deduct(orderNumber, actingUser)
		if err != nil {
			switch {
			case errors.Is(err, ErrOrderNotFound):
				response.NotFound(c, "Order not found")
			case errors.Is(err, ErrNotCompliant):
				response.UnprocessableWithCode(c, response.ErrCodeNotCompliant,
					"Compliance gate is not locked for this order")
			case errors.Is(err, ErrInsufficientStock):
				response.UnprocessableWithCode(c, response.ErrCodeInsufficientStock, err.Error())
			default:
				response.InternalError(c, "An unexpected error occurred")
			}
			return
		}

		response.OK(c, result)
	}
}

func (h *GinHandlers) ListAuditsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")

		audits, err := h.service.ListAudits(orderNumber)
		response.Handle(c, audits, err)
	}
}

func (h *GinHandlers) UpsertStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var request struct {
			SKU      string `json:"sku" binding:"required"`
			Name     string `json:"name"`
			Quantity int64  `json:"quantity" binding:"min=0"`
		}
		if err := c.ShouldBindJSON(&request); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		item := &types.StockItem{
			SKU:      request.SKU,
			Name:     request.Name,
			Quantity: request.Quantity,
		}
		if err := h.service.UpsertStock(item); err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, item)
	}
}

func (h *GinHandlers) ListStockHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := h.service.ListStock()
		response.Handle(c, items, err)
	}
}
