package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type ClubMatched struct {
	ClubbedOrderID     string          `json:"clubbed_order_id"`
	UserIDs            []string        `json:"user_ids"`
	CombinedValue      decimal.Decimal `json:"combined_value"`
	CombinedWeight     float64         `json:"combined_weight"`
	TotalDiscount      decimal.Decimal `json:"total_discount"`
	CommitmentDeadline time.Time       `json:"commitment_deadline"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

type ClubCancelled struct {
	ClubbedOrderID     string          `json:"clubbed_order_id"`
	CancellationID     string          `json:"cancellation_id"`
	CancelledByUserID  string          `json:"cancelled_by_user_id"`
	UserIDs            []string        `json:"user_ids"`
	Reason             string          `json:"reason"`
	CancellationFee    decimal.Decimal `json:"cancellation_fee"`
	CompensationAmount decimal.Decimal `json:"compensation_amount"`
	OccurredAt         time.Time       `json:"occurred_at"`
}

type QueueTimedOut struct {
	EntryID    string    `json:"entry_id"`
	UserID     string    `json:"user_id"`
	CartID     string    `json:"cart_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DeliveryDrop is one participant's address inside a delivery request.
type DeliveryDrop struct {
	UserOrderID         string `json:"user_order_id"`
	UserID              string `json:"user_id"`
	CartID              string `json:"cart_id"`
	Address             string `json:"address"`
	Phone               string `json:"phone"`
	SpecialInstructions string `json:"special_instructions,omitempty"`
}

type DeliveryRequested struct {
	ClubbedOrderID string          `json:"clubbed_order_id"`
	CombinedValue  decimal.Decimal `json:"combined_value"`
	CombinedWeight float64         `json:"combined_weight"`
	Drops          []DeliveryDrop  `json:"drops"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// DeliveryStatus is produced by the delivery service and consumed here.
type DeliveryStatus struct {
	ClubbedOrderID string    `json:"clubbed_order_id"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}
