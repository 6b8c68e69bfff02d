// Package delivery follows a paid clubbed order through the delivery
// service's lifecycle.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"ms-buddycart/internal/events"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/storage"

	"github.com/segmentio/kafka-go"
)

// Tracker applies delivery status updates. Status only moves forward:
// PAYMENT_CONFIRMED -> PREPARING -> DISPATCHED -> DELIVERED. Stale and
// duplicate updates are ignored.
type Tracker struct {
	DB     *storage.DB
	Logger *logger.Logger
}

func NewTracker(db *storage.DB, log *logger.Logger) *Tracker {
	return &Tracker{DB: db, Logger: log}
}

// Advance moves the clubbed order to status. It returns false when the
// order is already at or past status.
func (t *Tracker) Advance(ctx context.Context, clubbedOrderID string, status models.OrderStatus) (bool, error) {
	target := status.Rank()
	if target <= models.OrderPaymentConfirmed.Rank() {
		return false, fmt.Errorf("%w: %s is not a delivery status", models.ErrInvalidStatus, status)
	}

	order, err := t.DB.GetClubbedOrder(ctx, clubbedOrderID)
	if err != nil {
		return false, err
	}
	current := order.Status.Rank()
	if order.Status == models.OrderCancelled || current < models.OrderPaymentConfirmed.Rank() {
		return false, fmt.Errorf("clubbed order %s is %s: %w", clubbedOrderID, order.Status, models.ErrInvalidStatus)
	}
	if current >= target {
		return false, nil
	}

	// Every earlier forward status is an acceptable source so skipped
	// updates (PREPARING never arriving) still land.
	var from []models.OrderStatus
	for _, s := range []models.OrderStatus{models.OrderPaymentConfirmed, models.OrderPreparing, models.OrderDispatched} {
		if s.Rank() < target {
			from = append(from, s)
		}
	}
	if err := t.DB.TransitionClubbedOrder(ctx, clubbedOrderID, status, from...); err != nil {
		if errors.Is(err, models.ErrConflict) {
			// Someone else moved it first.
			return false, nil
		}
		return false, err
	}
	t.Logger.LogOrder(string(status), clubbedOrderID, fmt.Sprintf("Delivery moved %s -> %s", order.Status, status))
	return true, nil
}

// HandleMessage is the kafka handler for the delivery status topic.
func (t *Tracker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var ev events.DeliveryStatus
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return fmt.Errorf("failed to decode delivery status: %w", err)
	}
	status, err := models.ParseOrderStatus(ev.Status)
	if err != nil {
		return err
	}
	_, err = t.Advance(ctx, ev.ClubbedOrderID, status)
	return err
}
