package models

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// CartTotals is what the cart service reports for one cart at a point in time.
type CartTotals struct {
	CartID      string          `json:"cart_id"`
	ValueTotal  decimal.Decimal `json:"value_total"`
	WeightTotal float64         `json:"weight_total"`
	ItemCount   int             `json:"item_count"`
}

type EnqueueRequest struct {
	UserID         string  `json:"-"`
	CartID         string  `json:"cart_id"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	TimeoutMinutes int     `json:"timeout_minutes,omitempty"`
}

func (r EnqueueRequest) Validate(maxTimeout int) error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if r.CartID == "" {
		return fmt.Errorf("%w: cart_id is required", ErrInvalidRequest)
	}
	if err := ValidateCoordinates(r.Lat, r.Lng); err != nil {
		return err
	}
	if r.TimeoutMinutes < 0 || (maxTimeout > 0 && r.TimeoutMinutes > maxTimeout) {
		return fmt.Errorf("%w: timeout_minutes must be between 1 and %d", ErrInvalidRequest, maxTimeout)
	}
	return nil
}

func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: coordinates out of range (%v, %v)", ErrInvalidRequest, lat, lng)
	}
	return nil
}

type QueueStatus struct {
	EntryID          string      `json:"entry_id"`
	UserID           string      `json:"user_id"`
	CartID           string      `json:"cart_id"`
	Status           BuddyStatus `json:"status"`
	LocationHash     string      `json:"location_hash"`
	CreatedAt        time.Time   `json:"created_at"`
	Deadline         time.Time   `json:"deadline"`
	RemainingMinutes int         `json:"remaining_minutes"`
	MatchedOrderID   string      `json:"matched_order_id,omitempty"`
}

// EnqueueResult is returned by EnqueueBuddy. ClubbedOrder is set when the
// synchronous match attempt formed a group.
type EnqueueResult struct {
	Entry        QueueStatus   `json:"entry"`
	Refreshed    bool          `json:"refreshed"`
	ClubbedOrder *ClubbedOrder `json:"clubbed_order,omitempty"`
}

type ReadinessRequest struct {
	UserID string  `json:"-"`
	CartID string  `json:"cart_id"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

type Readiness struct {
	CanClub              bool            `json:"can_club"`
	NearbyUsersCount     int             `json:"nearby_users_count"`
	EstimatedWaitMinutes int             `json:"estimated_wait_minutes"`
	PotentialDiscount    decimal.Decimal `json:"potential_discount"`
}

type QueueStatsRequest struct {
	UserID string  `json:"-"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

// QueueStats describes queue activity around a location. SampleSize is the
// number of resolved entries behind the rate, wait and peak figures; when it
// is zero those fields carry defaults.
type QueueStats struct {
	NearbyUsers    int      `json:"nearby_users"`
	AvgWaitSeconds int      `json:"avg_wait_seconds"`
	SuccessRate    float64  `json:"success_rate"`
	PeakHours      []string `json:"peak_hours"`
	SampleSize     int      `json:"sample_size"`
	WindowHours    int      `json:"window_hours"`
}

// DetailedQueueStatus is a QueueStatus with the entry's surroundings.
type DetailedQueueStatus struct {
	QueueStatus
	NearbyUsers           int              `json:"nearby_users"`
	PotentialMatches      int              `json:"potential_matches"`
	EstimatedMatchSeconds int              `json:"estimated_match_seconds,omitempty"`
	MatchInProgress       bool             `json:"match_in_progress"`
	GroupSize             int              `json:"group_size,omitempty"`
	DiscountRate          *decimal.Decimal `json:"discount_rate,omitempty"`
}

type ExtendRequest struct {
	AdditionalMinutes int `json:"additional_minutes"`
}

type CommitRequest struct {
	UserOrderID         string        `json:"user_order_id"`
	PaymentMethod       PaymentMethod `json:"payment_method"`
	DeliveryAddress     string        `json:"delivery_address"`
	DeliveryPhone       string        `json:"delivery_phone"`
	SpecialInstructions string        `json:"special_instructions,omitempty"`
}

func (r CommitRequest) Validate() error {
	if r.UserOrderID == "" {
		return fmt.Errorf("%w: user_order_id is required", ErrInvalidRequest)
	}
	if _, err := ParsePaymentMethod(string(r.PaymentMethod)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if r.DeliveryAddress == "" || r.DeliveryPhone == "" {
		return fmt.Errorf("%w: delivery_address and delivery_phone are required", ErrInvalidRequest)
	}
	return nil
}

type ConfirmRequest struct {
	UserOrderID           string `json:"user_order_id"`
	ExternalTransactionID string `json:"external_transaction_id,omitempty"`
	PaymentGateway        string `json:"payment_gateway,omitempty"`
}

type CancelRequest struct {
	UserOrderID string             `json:"user_order_id"`
	Reason      CancellationReason `json:"reason"`
}

func (r CancelRequest) Validate() error {
	if r.UserOrderID == "" {
		return fmt.Errorf("%w: user_order_id is required", ErrInvalidRequest)
	}
	if _, err := ParseCancellationReason(string(r.Reason)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// CancelResult carries the cancellation record and the ledger rows it produced.
type CancelResult struct {
	Cancellation *OrderCancellation  `json:"cancellation"`
	Transactions []PaymentTransaction `json:"transactions"`
}

type PaymentSummary struct {
	ClubbedOrderID     string          `json:"clubbed_order_id"`
	UserOrderID        string          `json:"user_order_id"`
	TotalOrderValue    decimal.Decimal `json:"total_order_value"`
	YourPortion        decimal.Decimal `json:"your_portion"`
	OtherUsersPortion  decimal.Decimal `json:"other_users_portion"`
	DeliveryFeeShare   decimal.Decimal `json:"delivery_fee"`
	DiscountApplied    decimal.Decimal `json:"discount_applied"`
	FinalAmountToPay   decimal.Decimal `json:"final_amount_to_pay"`
	CommitmentDeadline time.Time       `json:"commitment_deadline"`
	PaymentDeadline    time.Time       `json:"payment_deadline,omitempty"`
	AllUsersCommitted  bool            `json:"all_users_committed"`
	ConfirmedPayments  int             `json:"confirmed_payments"`
	PendingPayments    int             `json:"pending_payments"`
}

type CommitmentStatus struct {
	ClubbedOrderID  string      `json:"clubbed_order_id"`
	OrderStatus     OrderStatus `json:"order_status"`
	TotalUsers      int         `json:"total_users"`
	CommittedUsers  []string    `json:"committed_users"`
	PendingUsers    []string    `json:"pending_users"`
	ConfirmedUsers  []string    `json:"confirmed_users"`
	AllCommitted    bool        `json:"all_committed"`
	OrderConfirmed  bool        `json:"order_confirmed"`
	PaymentDeadline time.Time   `json:"payment_deadline,omitempty"`
}
