package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// BuddyQueueEntry is a cart waiting to be clubbed with nearby carts.
type BuddyQueueEntry struct {
	bun.BaseModel `bun:"table:buddy_queue,alias:bq"`

	ID             string          `bun:"id,pk" json:"id"`
	UserID         string          `bun:"user_id,notnull" json:"user_id"`
	CartID         string          `bun:"cart_id,notnull" json:"cart_id"`
	Lat            float64         `bun:"lat,notnull" json:"lat"`
	Lng            float64         `bun:"lng,notnull" json:"lng"`
	LocationHash   string          `bun:"location_hash,notnull" json:"location_hash"`
	ValueTotal     decimal.Decimal `bun:"value_total,type:decimal(12,2),notnull" json:"value_total"`
	WeightTotal    float64         `bun:"weight_total,notnull" json:"weight_total"`
	TimeoutMinutes int             `bun:"timeout_minutes,notnull" json:"timeout_minutes"`
	Status         BuddyStatus     `bun:"status,notnull" json:"status"`
	MatchedOrderID string          `bun:"matched_order_id,nullzero" json:"matched_order_id,omitempty"`
	CreatedAt      time.Time       `bun:"created_at,notnull" json:"created_at"`
	ResolvedAt     time.Time       `bun:"resolved_at,nullzero" json:"resolved_at,omitempty"`
}

func (e *BuddyQueueEntry) Deadline() time.Time {
	return e.CreatedAt.Add(time.Duration(e.TimeoutMinutes) * time.Minute)
}

// ExpiredAt reports whether the entry's waiting window has closed at now.
func (e *BuddyQueueEntry) ExpiredAt(now time.Time) bool {
	return now.After(e.Deadline())
}

// RemainingMinutes is the whole number of minutes left before expiry, never negative.
func (e *BuddyQueueEntry) RemainingMinutes(now time.Time) int {
	left := e.Deadline().Sub(now)
	if left <= 0 {
		return 0
	}
	return int(left / time.Minute)
}
