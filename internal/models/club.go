package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// ClubbedOrder is the joint order created when two or more queue entries match.
type ClubbedOrder struct {
	bun.BaseModel `bun:"table:clubbed_orders,alias:co"`

	ID                          string          `bun:"id,pk" json:"id"`
	CombinedValue               decimal.Decimal `bun:"combined_value,type:decimal(12,2),notnull" json:"combined_value"`
	CombinedWeight              float64         `bun:"combined_weight,notnull" json:"combined_weight"`
	TotalDiscount               decimal.Decimal `bun:"total_discount,type:decimal(12,2),notnull" json:"total_discount"`
	Status                      OrderStatus     `bun:"status,notnull" json:"status"`
	AllPaymentsConfirmed        bool            `bun:"all_payments_confirmed,notnull" json:"all_payments_confirmed"`
	PaymentConfirmationDeadline time.Time       `bun:"payment_confirmation_deadline,nullzero" json:"payment_confirmation_deadline,omitempty"`
	OrderConfirmedAt            time.Time       `bun:"order_confirmed_at,nullzero" json:"order_confirmed_at,omitempty"`
	CreatedAt                   time.Time       `bun:"created_at,notnull" json:"created_at"`
}

type ClubbedOrderUser struct {
	bun.BaseModel `bun:"table:clubbed_order_users,alias:cou"`

	ID             string          `bun:"id,pk" json:"id"`
	ClubbedOrderID string          `bun:"clubbed_order_id,notnull" json:"clubbed_order_id"`
	UserID         string          `bun:"user_id,notnull" json:"user_id"`
	CartID         string          `bun:"cart_id,notnull" json:"cart_id"`
	DiscountGiven  decimal.Decimal `bun:"discount_given,type:decimal(5,4),notnull" json:"discount_given"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// UserOrder is one participant's share of a clubbed order and their commitment state.
type UserOrder struct {
	bun.BaseModel `bun:"table:user_orders,alias:uo"`

	ID                  string          `bun:"id,pk" json:"id"`
	ClubbedOrderID      string          `bun:"clubbed_order_id,notnull" json:"clubbed_order_id"`
	UserID              string          `bun:"user_id,notnull" json:"user_id"`
	CartID              string          `bun:"cart_id,notnull" json:"cart_id"`
	IndividualTotal     decimal.Decimal `bun:"individual_total,type:decimal(12,2),notnull" json:"individual_total"`
	PaymentMethod       PaymentMethod   `bun:"payment_method,notnull" json:"payment_method"`
	PaymentStatus       PaymentStatus   `bun:"payment_status,notnull" json:"payment_status"`
	PaymentConfirmedAt  time.Time       `bun:"payment_confirmed_at,nullzero" json:"payment_confirmed_at,omitempty"`
	CommitmentDeadline  time.Time       `bun:"commitment_deadline,notnull" json:"commitment_deadline"`
	IsCommitted         bool            `bun:"is_committed,notnull" json:"is_committed"`
	CommittedAt         time.Time       `bun:"committed_at,nullzero" json:"committed_at,omitempty"`
	DeliveryAddress     string          `bun:"delivery_address,nullzero" json:"delivery_address,omitempty"`
	DeliveryPhone       string          `bun:"delivery_phone,nullzero" json:"delivery_phone,omitempty"`
	SpecialInstructions string          `bun:"special_instructions,nullzero" json:"special_instructions,omitempty"`
	CreatedAt           time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// OrderCancellation records a withdrawal. The processed flags only move false -> true.
type OrderCancellation struct {
	bun.BaseModel `bun:"table:order_cancellations,alias:oc"`

	ID                    string             `bun:"id,pk" json:"id"`
	UserOrderID           string             `bun:"user_order_id,notnull" json:"user_order_id"`
	ClubbedOrderID        string             `bun:"clubbed_order_id,notnull" json:"clubbed_order_id"`
	CancelledByUserID     string             `bun:"cancelled_by_user_id,notnull" json:"cancelled_by_user_id"`
	CancellationReason    CancellationReason `bun:"cancellation_reason,notnull" json:"cancellation_reason"`
	CancelledAt           time.Time          `bun:"cancelled_at,notnull" json:"cancelled_at"`
	CancellationFee       decimal.Decimal    `bun:"cancellation_fee,type:decimal(12,2),notnull" json:"cancellation_fee"`
	CompensationAmount    decimal.Decimal    `bun:"compensation_amount,type:decimal(12,2),notnull" json:"compensation_amount"`
	CompanyPenaltyShare   decimal.Decimal    `bun:"company_penalty_share,type:decimal(12,2),notnull" json:"company_penalty_share"`
	PenaltyProcessed      bool               `bun:"penalty_processed,notnull" json:"penalty_processed"`
	CompensationProcessed bool               `bun:"compensation_processed,notnull" json:"compensation_processed"`
}

func (c *OrderCancellation) Settled() bool {
	return c.PenaltyProcessed && c.CompensationProcessed
}
