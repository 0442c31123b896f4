package payment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swiftdrop/fulfillment-api/internal/audit"
	"github.com/swiftdrop/fulfillment-api/internal/compliance"
	"github.com/swiftdrop/fulfillment-api/internal/orders"
	"github.com/swiftdrop/fulfillment-api/internal/otp"
	"github.com/swiftdrop/fulfillment-api/internal/sms"
	"github.com/swiftdrop/fulfillment-api/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type countingSender struct {
	calls int
}

func (c *countingSender) SendSms(_ context.Context, _, _ string) (sms.Result, error) {
	c.calls++
	return sms.Result{MessageID: "msg-" + uuid.New().String()}, nil
}

type capturingNotifier struct {
	mismatches []*types.PaymentMismatch
}

func (n *capturingNotifier) NotifyMismatch(_ context.Context, mismatch *types.PaymentMismatch) {
	n.mismatches = append(n.mismatches, mismatch)
}

type testEnv struct {
	db       *gorm.DB
	service  *Service
	sender   *countingSender
	notifier *capturingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Order{},
		&types.OrderItem{},
		&types.Payment{},
		&types.PaymentMismatch{},
		&types.OtpVerification{},
		&types.MoneyOutCompliance{},
		&types.AuditEvent{},
		&types.WebhookEvent{},
	))

	recorder := audit.NewRecorder()
	ordersDB := orders.NewDatabase(db)
	complianceService := compliance.NewService(db, recorder)
	sender := &countingSender{}
	otpService := otp.NewService(db, ordersDB, complianceService, sender, recorder)
	notifier := &capturingNotifier{}
	service := NewService(db, ordersDB, complianceService, otpService, recorder, notifier)

	return &testEnv{db: db, service: service, sender: sender, notifier: notifier}
}

func (e *testEnv) createOrder(t *testing.T, orderNumber, phone string) *types.Order {
	t.Helper()
	order := &types.Order{
		OrderNumber:   orderNumber,
		CustomerName:  "Test Customer",
		CustomerPhone: phone,
		TotalAmount:   decimal.NewFromInt(25000),
		Status:        types.OrderStatusPending,
		PaymentStatus: "unpaid",
	}
	require.NoError(t, e.db.Create(order).Error)
	return order
}

func webhookFor(orderID, customerPhone string) types.PaymentWebhook {
	return types.PaymentWebhook{
		OrderID:        orderID,
		CustomerPhone:  customerPhone,
		Amount:         decimal.NewFromInt(25000),
		TransactionRef: "TXN-" + uuid.New().String(),
		PaymentDate:    time.Now(),
	}
}

func TestMatchedPaymentConfirmsOrderAndSendsOtp(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O2001", "08012345678")

	// The gateway reports the phone in international format; the two
	// still identify the same customer.
	result, err := env.service.ProcessPayment(context.Background(), webhookFor("O2001", "2348012345678"), "gateway")
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.MismatchID)
	require.NotNil(t, result.OtpSent)
	assert.True(t, *result.OtpSent)
	assert.Equal(t, 1, env.sender.calls)

	var order types.Order
	require.NoError(t, env.db.Where("order_number = ?", "O2001").First(&order).Error)
	assert.Equal(t, types.OrderStatusConfirmed, order.Status)
	assert.Equal(t, "paid", order.PaymentStatus)
	assert.NotEmpty(t, order.PaymentRef)

	var gate types.MoneyOutCompliance
	require.NoError(t, env.db.Where("order_number = ?", "O2001").First(&gate).Error)
	assert.True(t, gate.PaymentVerified)

	var payment types.Payment
	require.NoError(t, env.db.Where("order_number = ?", "O2001").First(&payment).Error)
	assert.Equal(t, types.PaymentStatusConfirmed, payment.Status)
	assert.NotNil(t, payment.VerifiedAt)
}

func TestPhoneMismatchRecordsPenaltyAndSkipsOtp(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O2002", "08012345678")

	result, err := env.service.ProcessPayment(context.Background(), webhookFor("O2002", "08099998888"), "gateway")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.NotEmpty(t, result.MismatchID)
	assert.Equal(t, types.MismatchTypePhone, result.MismatchType)
	require.NotNil(t, result.PenaltyAmount)
	assert.True(t, result.PenaltyAmount.Equal(decimal.NewFromInt(10000)))
	assert.Nil(t, result.OtpSent)
	assert.Equal(t, 0, env.sender.calls)

	var mismatch types.PaymentMismatch
	require.NoError(t, env.db.Where("order_number = ?", "O2002").First(&mismatch).Error)
	assert.Equal(t, "08099998888", mismatch.EnteredPhone)
	assert.Equal(t, "08012345678", mismatch.ActualPhone)
	assert.True(t, mismatch.InvestigationRequired)

	// The investigation workflow was notified exactly once.
	require.Len(t, env.notifier.mismatches, 1)
	assert.Equal(t, mismatch.MismatchID, env.notifier.mismatches[0].MismatchID)

	// The order never advanced.
	var order types.Order
	require.NoError(t, env.db.Where("order_number = ?", "O2002").First(&order).Error)
	assert.Equal(t, types.OrderStatusPending, order.Status)
	assert.Equal(t, "unpaid", order.PaymentStatus)
}

func TestOrderNotFoundIsBusinessFailureWithoutMismatch(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.service.ProcessPayment(context.Background(), webhookFor("O9999", "08012345678"), "gateway")
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, "Order not found", result.Message)
	assert.Empty(t, result.MismatchID)

	// The payment is kept for reconciliation even without an order.
	var payment types.Payment
	require.NoError(t, env.db.Where("payment_id = ?", result.PaymentID).First(&payment).Error)
	assert.Equal(t, types.PaymentStatusFailed, payment.Status)

	var count int64
	require.NoError(t, env.db.Model(&types.PaymentMismatch{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDuplicateWebhookReturnsStoredOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O2003", "08012345678")

	webhook := webhookFor("O2003", "08012345678")

	first, err := env.service.ProcessPayment(context.Background(), webhook, "gateway")
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := env.service.ProcessPayment(context.Background(), webhook, "gateway")
	require.NoError(t, err)

	assert.Equal(t, first.PaymentID, second.PaymentID)
	assert.True(t, second.Success)
	require.NotNil(t, second.OtpSent)
	assert.True(t, *second.OtpSent)

	// One payment row, one OTP, one SMS dispatch across both deliveries.
	var paymentCount, otpCount int64
	require.NoError(t, env.db.Model(&types.Payment{}).Count(&paymentCount).Error)
	require.NoError(t, env.db.Model(&types.OtpVerification{}).Count(&otpCount).Error)
	assert.Equal(t, int64(1), paymentCount)
	assert.Equal(t, int64(1), otpCount)
	assert.Equal(t, 1, env.sender.calls)
}

func TestDuplicateMismatchWebhookDoesNotDoublePenalty(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O2004", "08012345678")

	webhook := webhookFor("O2004", "08099998888")

	first, err := env.service.ProcessPayment(context.Background(), webhook, "gateway")
	require.NoError(t, err)
	require.False(t, first.Success)

	second, err := env.service.ProcessPayment(context.Background(), webhook, "gateway")
	require.NoError(t, err)
	assert.Equal(t, first.MismatchID, second.MismatchID)

	var count int64
	require.NoError(t, env.db.Model(&types.PaymentMismatch{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Len(t, env.notifier.mismatches, 1)
}

func TestListMismatchesFiltersInvestigationRequired(t *testing.T) {
	env := newTestEnv(t)
	env.createOrder(t, "O2005", "08012345678")
	env.createOrder(t, "O2006", "08011110000")

	_, err := env.service.ProcessPayment(context.Background(), webhookFor("O2005", "08099998888"), "gateway")
	require.NoError(t, err)
	_, err = env.service.ProcessPayment(context.Background(), webhookFor("O2006", "08022223333"), "gateway")
	require.NoError(t, err)

	require.NoError(t, env.db.Model(&types.PaymentMismatch{}).
		Where("order_number = ?", "O2005").
		Update("investigation_required", false).Error)

	all, err := env.service.ListMismatches(false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := env.service.ListMismatches(true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "O2006", open[0].OrderNumber)
}

func TestMismatchTypeDerivation(t *testing.T) {
	tests := []struct {
		name         string
		orderIDMatch bool
		phoneMatch   bool
		want         string
	}{
		{"phone only wrong", true, false, types.MismatchTypePhone},
		{"order id only wrong", false, true, types.MismatchTypeOrderID},
		{"both wrong", false, false, types.MismatchTypeBoth},
		{"both right", true, true, types.MismatchTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mismatchType(tt.orderIDMatch, tt.phoneMatch))
		})
	}
}
