package delivery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ms-buddycart/internal/events"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/storage"
	"ms-buddycart/internal/storage/storagetest"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrder(t *testing.T, db *storage.DB, status models.OrderStatus) string {
	t.Helper()
	order := &models.ClubbedOrder{
		ID:            uuid.NewString(),
		CombinedValue: decimal.NewFromInt(1000),
		TotalDiscount: decimal.NewFromInt(50),
		Status:        status,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, db.InsertClubbedOrder(context.Background(), order))
	return order.ID
}

func statusOf(t *testing.T, db *storage.DB, id string) models.OrderStatus {
	t.Helper()
	order, err := db.GetClubbedOrder(context.Background(), id)
	require.NoError(t, err)
	return order.Status
}

func TestAdvance_ForwardOnly(t *testing.T) {
	db := storagetest.New(t)
	tracker := NewTracker(db, logger.Nop())
	ctx := context.Background()
	id := seedOrder(t, db, models.OrderPaymentConfirmed)

	moved, err := tracker.Advance(ctx, id, models.OrderPreparing)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = tracker.Advance(ctx, id, models.OrderPreparing)
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = tracker.Advance(ctx, id, models.OrderDelivered)
	require.NoError(t, err)
	assert.True(t, moved)

	moved, err = tracker.Advance(ctx, id, models.OrderDispatched)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, models.OrderDelivered, statusOf(t, db, id))
}

func TestAdvance_Rejections(t *testing.T) {
	db := storagetest.New(t)
	tracker := NewTracker(db, logger.Nop())
	ctx := context.Background()

	pending := seedOrder(t, db, models.OrderPaymentPending)
	_, err := tracker.Advance(ctx, pending, models.OrderPreparing)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
	assert.Equal(t, models.OrderPaymentPending, statusOf(t, db, pending))

	cancelled := seedOrder(t, db, models.OrderCancelled)
	_, err = tracker.Advance(ctx, cancelled, models.OrderDispatched)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)

	paid := seedOrder(t, db, models.OrderPaymentConfirmed)
	_, err = tracker.Advance(ctx, paid, models.OrderCancelled)
	assert.ErrorIs(t, err, models.ErrInvalidStatus)

	_, err = tracker.Advance(ctx, "missing", models.OrderPreparing)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestHandleMessage(t *testing.T) {
	db := storagetest.New(t)
	tracker := NewTracker(db, logger.Nop())
	ctx := context.Background()
	id := seedOrder(t, db, models.OrderPaymentConfirmed)

	value, err := json.Marshal(events.DeliveryStatus{ClubbedOrderID: id, Status: "DISPATCHED", OccurredAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, tracker.HandleMessage(ctx, kafka.Message{Key: []byte(id), Value: value}))
	assert.Equal(t, models.OrderDispatched, statusOf(t, db, id))

	assert.Error(t, tracker.HandleMessage(ctx, kafka.Message{Value: []byte("{not json")}))

	value, err = json.Marshal(events.DeliveryStatus{ClubbedOrderID: id, Status: "LOST"})
	require.NoError(t, err)
	assert.ErrorIs(t, tracker.HandleMessage(ctx, kafka.Message{Value: value}), models.ErrInvalidStatus)
}
