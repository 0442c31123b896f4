package audit

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
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
	require.NoError(t, db.AutoMigrate(&types.AuditEvent{}))
	return db
}

func TestAppendSerializesDetail(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder()

	err := recorder.Append(db, "O5001", "gateway", EventPaymentMatched,
		map[string]string{"payment_id": "PAY_1"})
	require.NoError(t, err)

	var event types.AuditEvent
	require.NoError(t, db.First(&event).Error)
	assert.Equal(t, "O5001", event.OrderNumber)
	assert.Equal(t, "gateway", event.Actor)
	assert.Equal(t, EventPaymentMatched, event.Event)
	assert.JSONEq(t, `{"payment_id":"PAY_1"}`, event.Detail)
}

func TestAppendNilDetail(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder()

	require.NoError(t, recorder.Append(db, "O5002", "system", EventGateLocked, nil))

	var event types.AuditEvent
	require.NoError(t, db.First(&event).Error)
	assert.Empty(t, event.Detail)
}

func TestForOrderReturnsEventsOldestFirst(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder()

	require.NoError(t, recorder.Append(db, "O5003", "gateway", EventPaymentMatched, nil))
	require.NoError(t, recorder.Append(db, "O5003", "system", EventOtpGenerated, nil))
	require.NoError(t, recorder.Append(db, "O5003", "customer", EventOtpVerified, nil))
	require.NoError(t, recorder.Append(db, "O5999", "gateway", EventPaymentMismatched, nil))

	events, err := recorder.ForOrder(db, "O5003")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventPaymentMatched, events[0].Event)
	assert.Equal(t, EventOtpGenerated, events[1].Event)
	assert.Equal(t, EventOtpVerified, events[2].Event)
}

func TestAppendRollsBackWithTransaction(t *testing.T) {
	db := newTestDB(t)
	recorder := NewRecorder()

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := recorder.Append(tx, "O5004", "system", EventStockDeducted, nil); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&types.AuditEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}
