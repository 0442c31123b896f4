package orders

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Order{}, &types.OrderItem{}))
	return db
}

func seedOrder(t *testing.T, db *gorm.DB, orderNumber, status string) *types.Order {
	t.Helper()
	order := &types.Order{
		OrderNumber:   orderNumber,
		CustomerName:  "Test Customer",
		CustomerPhone: "08012345678",
		TotalAmount:   decimal.NewFromInt(5000),
		Status:        status,
		PaymentStatus: "unpaid",
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func TestAdvanceStatusMovesForward(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, "O4001", types.OrderStatusPending)

	require.NoError(t, AdvanceStatus(db, order, types.OrderStatusConfirmed))
	assert.Equal(t, types.OrderStatusConfirmed, order.Status)

	var stored types.Order
	require.NoError(t, db.Where("order_number = ?", "O4001").First(&stored).Error)
	assert.Equal(t, types.OrderStatusConfirmed, stored.Status)
}

func TestAdvanceStatusIsIdempotentAtSameRank(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, "O4002", types.OrderStatusConfirmed)

	require.NoError(t, AdvanceStatus(db, order, types.OrderStatusConfirmed))
	assert.Equal(t, types.OrderStatusConfirmed, order.Status)
}

func TestAdvanceStatusRejectsBackwardMoves(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, "O4003", types.OrderStatusOtpVerified)

	err := AdvanceStatus(db, order, types.OrderStatusConfirmed)
	assert.Error(t, err)
	assert.Equal(t, types.OrderStatusOtpVerified, order.Status)
}

func TestAdvanceStatusRejectsCancelledOrders(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, "O4004", types.OrderStatusCancelled)

	err := AdvanceStatus(db, order, types.OrderStatusConfirmed)
	assert.Error(t, err)
	assert.Equal(t, types.OrderStatusCancelled, order.Status)
}

func TestAdvanceStatusRejectsUnknownTarget(t *testing.T) {
	db := newTestDB(t)
	order := seedOrder(t, db, "O4005", types.OrderStatusPending)

	assert.Error(t, AdvanceStatus(db, order, "refunded"))
}

func TestCreateOrderPersistsItems(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)

	order, err := service.CreateOrder(CreateOrderInput{
		OrderNumber:   "O4006",
		CustomerName:  "Test Customer",
		CustomerPhone: "08012345678",
		TotalAmount:   decimal.NewFromInt(12000),
		Items: []types.OrderItem{
			{SKU: "SKU-A", Quantity: 2},
			{SKU: "SKU-B", Quantity: 1},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, order.Status)
	assert.Equal(t, "unpaid", order.PaymentStatus)

	fetched, err := service.GetOrder("O4006")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Len(t, fetched.Items, 2)
}

func TestCreateOrderRejectsDuplicateNumber(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)

	input := CreateOrderInput{
		OrderNumber:   "O4007",
		CustomerName:  "Test Customer",
		CustomerPhone: "08012345678",
		TotalAmount:   decimal.NewFromInt(1000),
		Items:         []types.OrderItem{{SKU: "SKU-A", Quantity: 1}},
	}

	_, err := service.CreateOrder(input)
	require.NoError(t, err)

	_, err = service.CreateOrder(input)
	assert.Error(t, err)
}

func TestGetOrderReturnsNilForUnknownNumber(t *testing.T) {
	db := newTestDB(t)
	service := NewService(db)

	order, err := service.GetOrder("O9999")
	require.NoError(t, err)
	assert.Nil(t, order)
}
