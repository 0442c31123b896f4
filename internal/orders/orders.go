// Package orders holds the minimal order store this pipeline needs. The
// order-placement workflow itself lives elsewhere; this package only
// creates rows for it and advances status along the delivery pipeline.
package orders

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"github.com/swiftdrop/fulfillment-api/pkg/response"
	"gorm.io/gorm"
)

// statusRank orders the pipeline statuses. Cancelled sits outside the
// pipeline and can never be advanced into or out of by this service.
var statusRank = map[string]int{
	types.OrderStatusPending:     0,
	types.OrderStatusConfirmed:   1,
	types.OrderStatusOtpVerified: 2,
	types.OrderStatusInTransit:   3,
	types.OrderStatusDelivered:   4,
}

// AdvanceStatus moves an order's status forward within the caller's
// transaction. Moving backwards, or touching a cancelled order, is an
// error: pipeline status transitions are monotonic.
func AdvanceStatus(tx *gorm.DB, order *types.Order, next string) error {
	nextRank, ok := statusRank[next]
	if !ok {
		return fmt.Errorf("unknown target status %q", next)
	}

	currentRank, ok := statusRank[order.Status]
	if !ok {
		return fmt.Errorf("order %s is %s and cannot be advanced", order.OrderNumber, order.Status)
	}

	if nextRank < currentRank {
		return fmt.Errorf("cannot move order %s backwards from %s to %s",
			order.OrderNumber, order.Status, next)
	}

	order.Status = next
	return tx.Model(&types.Order{}).
		Where("order_number = ?", order.OrderNumber).
		Update("status", next).Error
}

type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateOrderInput is the seed payload used by the internal endpoint.
type CreateOrderInput struct {
	OrderNumber   string            `json:"order_number" binding:"required"`
	CustomerName  string            `json:"customer_name" binding:"required"`
	CustomerPhone string            `json:"customer_phone" binding:"required"`
	TotalAmount   decimal.Decimal   `json:"total_amount" binding:"required"`
	Items         []types.OrderItem `json:"items" binding:"required,min=1"`
}

func (s *Service) CreateOrder(input CreateOrderInput) (*types.Order, error) {
	order := &types.Order{
		OrderNumber:   input.OrderNumber,
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
		TotalAmount:   input.TotalAmount,
		Items:         input.Items,
		Status:        types.OrderStatusPending,
		PaymentStatus: "unpaid",
	}

	if err := s.db.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

func (s *Service) GetOrder(orderNumber string) (*types.Order, error) {
	return s.db.GetOrderByNumber(orderNumber)
}

// GetDB exposes the order store to sibling services that join against it.
func (s *Service) GetDB() *Database {
	return s.db
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input CreateOrderInput
		if err := c.ShouldBindJSON(&input); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(input)
		response.Handle(c, order, err)
	}
}

func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderNumber := c.Param("order_number")
		if orderNumber == "" {
			response.BadRequest(c, "order number is required")
			return
		}

		order, err := h.service.GetOrder(orderNumber)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if order == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, order)
	}
}
