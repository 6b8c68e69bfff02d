package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// PaymentTransaction is an append-only ledger row. Only Status, ProcessedAt,
// ExternalTransactionID and FailureReason change after insert.
type PaymentTransaction struct {
	bun.BaseModel `bun:"table:payment_transactions,alias:pt"`

	ID                    string            `bun:"id,pk" json:"id"`
	UserOrderID           string            `bun:"user_order_id,notnull" json:"user_order_id"`
	UserID                string            `bun:"user_id,notnull" json:"user_id"`
	TransactionType       TransactionType   `bun:"transaction_type,notnull" json:"transaction_type"`
	Amount                decimal.Decimal   `bun:"amount,type:decimal(12,2),notnull" json:"amount"`
	PaymentMethod         PaymentMethod     `bun:"payment_method,notnull" json:"payment_method"`
	ExternalTransactionID string            `bun:"external_transaction_id,nullzero" json:"external_transaction_id,omitempty"`
	PaymentGateway        string            `bun:"payment_gateway,nullzero" json:"payment_gateway,omitempty"`
	Status                TransactionStatus `bun:"status,notnull" json:"status"`
	ProcessedAt           time.Time         `bun:"processed_at,nullzero" json:"processed_at,omitempty"`
	FailureReason         string            `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
	CreatedAt             time.Time         `bun:"created_at,notnull" json:"created_at"`
}
