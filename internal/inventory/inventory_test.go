package inventory

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swiftdrop/fulfillment-api/internal/audit"
	"github.com/swiftdrop/fulfillment-api/internal/compliance"
	"github.com/swiftdrop/fulfillment-api/internal/orders"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	db         *gorm.DB
	service    *Service
	compliance *compliance.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Order{},
		&types.OrderItem{},
		&types.MoneyOutCompliance{},
		&types.StockItem{},
		&types.InventoryAudit{},
		&types.InventoryAuditLine{},
		&types.AuditEvent{},
	))

	recorder := audit.NewRecorder()
	complianceService := compliance.NewService(db, recorder)
	service := NewService(db, orders.NewDatabase(db), complianceService, recorder)

	return &testEnv{db: db, service: service, compliance: complianceService}
}

func (e *testEnv) createOrder(t *testing.T, orderNumber string, items ...types.OrderItem) {
	t.Helper()
	order := &types.Order{
		OrderNumber:   orderNumber,
		CustomerName:  "Test Customer",
		CustomerPhone: "08012345678",
		TotalAmount:   decimal.NewFromInt(30000),
		Status:        types.OrderStatusOtpVerified,
		PaymentStatus: "paid",
		Items:         items,
	}
	require.NoError(t, e.db.Create(order).Error)
}

func (e *testEnv) lockGate(t *testing.T, orderNumber string) {
	t.Helper()
	for _, signal := range []string{
		compliance.SignalPaymentVerified,
		compliance.SignalOtpSubmitted,
		compliance.SignalPhotoApproved,
	} {
		_, err := e.compliance.SetSignal(orderNumber, signal, true, "test")
		require.NoError(t, err)
	}
}

func (e *testEnv) seedStock(t *testing.T, sku string, quantity int64) {
	t.Helper()
	require.NoError(t, e.db.Create(&types.StockItem{SKU: sku, Name: sku, Quantity: quantity}).Error)
}

func (e *testEnv) stockLevel(t *testing.T, sku string) int64 {
	t.Helper()
	var item types.StockItem
	require.NoError(t, e.db.Where("sku = ?", sku).First(&item).Error)
	return item.Quantity
}

func TestDeductRequiresLockedGate(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O3001", types.OrderItem{SKU: "SKU-A", Quantity: 2})
	env.seedStock(t, "SKU-A", 10)

	_, err := env.service.Deduct("O3001", "warehouse")
	assert.ErrorIs(t, err, ErrNotCompliant)
	assert.Equal(t, int64(10), env.stockLevel(t, "SKU-A"))

	// A gate with two of three signals is still not enough.
	_, err = env.compliance.SetSignal("O3001", compliance.SignalPaymentVerified, true, "test")
	require.NoError(t, err)
	_, err = env.compliance.SetSignal("O3001", compliance.SignalOtpSubmitted, true, "test")
	require.NoError(t, err)

	_, err = env.service.Deduct("O3001", "warehouse")
	assert.ErrorIs(t, err, ErrNotCompliant)
	assert.Equal(t, int64(10), env.stockLevel(t, "SKU-A"))
}

func TestDeductAppliesEveryLineOnce(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O3002",
		types.OrderItem{SKU: "SKU-A", Quantity: 2},
		types.OrderItem{SKU: "SKU-B", Quantity: 5},
	)
	env.seedStock(t, "SKU-A", 10)
	env.seedStock(t, "SKU-B", 10)
	env.lockGate(t, "O3002")

	result, err := env.service.Deduct("O3002", "warehouse")
	require.NoError(t, err)
	assert.False(t, result.AlreadyDeducted)
	assert.Len(t, result.Deltas, 2)
	assert.Equal(t, int64(8), env.stockLevel(t, "SKU-A"))
	assert.Equal(t, int64(5), env.stockLevel(t, "SKU-B"))
}

func TestDeductReplayReturnsOriginalAudit(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O3003", types.OrderItem{SKU: "SKU-A", Quantity: 3})
	env.seedStock(t, "SKU-A", 10)
	env.lockGate(t, "O3003")

	first, err := env.service.Deduct("O3003", "warehouse")
	require.NoError(t, err)
	require.False(t, first.AlreadyDeducted)

	second, err := env.service.Deduct("O3003", "warehouse")
	require.NoError(t, err)
	assert.True(t, second.AlreadyDeducted)
	assert.Equal(t, first.AuditID, second.AuditID)

	// Stock moved exactly once.
	assert.Equal(t, int64(7), env.stockLevel(t, "SKU-A"))

	var auditCount int64
	require.NoError(t, env.db.Model(&types.InventoryAudit{}).Count(&auditCount).Error)
	assert.Equal(t, int64(1), auditCount)
}

func TestInsufficientStockRollsBackAllLines(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O3004",
		types.OrderItem{SKU: "SKU-A", Quantity: 2},
		types.OrderItem{SKU: "SKU-B", Quantity: 5},
	)
	env.seedStock(t, "SKU-A", 10)
	env.seedStock(t, "SKU-B", 3)
	env.lockGate(t, "O3004")

	_, err := env.service.Deduct("O3004", "warehouse")
	assert.ErrorIs(t, err, ErrInsufficientStock)

	// The first line's decrement did not survive the rollback.
	assert.Equal(t, int64(10), env.stockLevel(t, "SKU-A"))
	assert.Equal(t, int64(3), env.stockLevel(t, "SKU-B"))

	var auditCount int64
	require.NoError(t, env.db.Model(&types.InventoryAudit{}).Count(&auditCount).Error)
	assert.Zero(t, auditCount)
}

func TestDeductUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Deduct("O9999", "warehouse")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestListAuditsPreloadsLines(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O3005", types.OrderItem{SKU: "SKU-A", Quantity: 1})
	env.seedStock(t, "SKU-A", 5)
	env.lockGate(t, "O3005")

	_, err := env.service.Deduct("O3005", "warehouse")
	require.NoError(t, err)

	audits, err := env.service.ListAudits("O3005")
	require.NoError(t, err)
	require.Len(t, audits, 1)
	require.Len(t, audits[0].Lines, 1)
	assert.Equal(t, "SKU-A", audits[0].Lines[0].SKU)
	assert.Equal(t, int64(1), audits[0].Lines[0].Quantity)
}

func TestUpsertStockCreatesAndUpdates(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.service.UpsertStock(&types.StockItem{SKU: "SKU-Z", Name: "Widget", Quantity: 4}))
	assert.Equal(t, int64(4), env.stockLevel(t, "SKU-Z"))

	require.NoError(t, env.service.UpsertStock(&types.StockItem{SKU: "SKU-Z", Name: "Widget", Quantity: 9}))
	assert.Equal(t, int64(9), env.stockLevel(t, "SKU-Z"))

	var count int64
	require.NoError(t, env.db.Model(&types.StockItem{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
