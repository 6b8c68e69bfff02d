package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Every status column is a closed set. Values are parsed case-insensitively
// and anything outside the set is rejected, both when decoding requests and
// when scanning rows.

type BuddyStatus string

const (
	BuddyWaiting  BuddyStatus = "WAITING"
	BuddyMatched  BuddyStatus = "MATCHED"
	BuddyTimedOut BuddyStatus = "TIMED_OUT"
)

var buddyStatuses = []BuddyStatus{BuddyWaiting, BuddyMatched, BuddyTimedOut}

type OrderStatus string

const (
	OrderCreated          OrderStatus = "CREATED"
	OrderPaymentPending   OrderStatus = "PAYMENT_PENDING"
	OrderPaymentConfirmed OrderStatus = "PAYMENT_CONFIRMED"
	OrderPreparing        OrderStatus = "PREPARING"
	OrderDispatched       OrderStatus = "DISPATCHED"
	OrderDelivered        OrderStatus = "DELIVERED"
	OrderCancelled        OrderStatus = "CANCELLED"
)

var orderStatuses = []OrderStatus{
	OrderCreated, OrderPaymentPending, OrderPaymentConfirmed,
	OrderPreparing, OrderDispatched, OrderDelivered, OrderCancelled,
}

type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "ONLINE"
	PaymentCOD    PaymentMethod = "COD"
	PaymentWallet PaymentMethod = "WALLET"
)

var paymentMethods = []PaymentMethod{PaymentOnline, PaymentCOD, PaymentWallet}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

var paymentStatuses = []PaymentStatus{PaymentPending, PaymentConfirmed, PaymentFailed, PaymentCancelled}

type CancellationReason string

const (
	ReasonPaymentFailed CancellationReason = "PAYMENT_FAILED"
	ReasonUserWithdrew  CancellationReason = "USER_WITHDREW"
	ReasonTimeout       CancellationReason = "TIMEOUT"
	ReasonSystemError   CancellationReason = "SYSTEM_ERROR"
)

var cancellationReasons = []CancellationReason{ReasonPaymentFailed, ReasonUserWithdrew, ReasonTimeout, ReasonSystemError}

type TransactionType string

const (
	TransactionPayment      TransactionType = "PAYMENT"
	TransactionRefund       TransactionType = "REFUND"
	TransactionPenalty      TransactionType = "PENALTY"
	TransactionCompensation TransactionType = "COMPENSATION"
)

var transactionTypes = []TransactionType{TransactionPayment, TransactionRefund, TransactionPenalty, TransactionCompensation}

type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionSuccess   TransactionStatus = "SUCCESS"
	TransactionFailed    TransactionStatus = "FAILED"
	TransactionCancelled TransactionStatus = "CANCELLED"
)

var transactionStatuses = []TransactionStatus{TransactionPending, TransactionSuccess, TransactionFailed, TransactionCancelled}

func ParseBuddyStatus(raw string) (BuddyStatus, error) {
	return parseEnum(raw, buddyStatuses, "buddy status")
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	return parseEnum(raw, orderStatuses, "order status")
}

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	return parseEnum(raw, paymentMethods, "payment method")
}

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	return parseEnum(raw, paymentStatuses, "payment status")
}

func ParseCancellationReason(raw string) (CancellationReason, error) {
	return parseEnum(raw, cancellationReasons, "cancellation reason")
}

func ParseTransactionType(raw string) (TransactionType, error) {
	return parseEnum(raw, transactionTypes, "transaction type")
}

func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	return parseEnum(raw, transactionStatuses, "transaction status")
}

// Rank orders the forward lifecycle of a clubbed order. CANCELLED has no rank.
func (s OrderStatus) Rank() int {
	for i, known := range orderStatuses[:6] {
		if s == known {
			return i
		}
	}
	return -1
}

// InPaymentPhase reports whether a participant can still withdraw from the group.
func (s OrderStatus) InPaymentPhase() bool {
	return s == OrderCreated || s == OrderPaymentPending || s == OrderPaymentConfirmed
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentConfirmed || s == PaymentCancelled
}

func parseEnum[T ~string](raw string, known []T, kind string) (T, error) {
	trimmed := strings.TrimSpace(raw)
	for _, k := range known {
		if strings.EqualFold(trimmed, string(k)) {
			return k, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s %q", ErrInvalidStatus, kind, raw)
}

func scanEnum[T ~string](src any, known []T, kind string) (T, error) {
	var zero T
	switch v := src.(type) {
	case string:
		return parseEnum(v, known, kind)
	case []byte:
		return parseEnum(string(v), known, kind)
	case nil:
		return zero, fmt.Errorf("%w: %s is NULL", ErrInvalidStatus, kind)
	default:
		return zero, fmt.Errorf("%w: cannot scan %T into %s", ErrInvalidStatus, src, kind)
	}
}

func valueEnum[T ~string](v T, known []T, kind string) (driver.Value, error) {
	if _, err := parseEnum(string(v), known, kind); err != nil {
		return nil, err
	}
	return string(v), nil
}

func unmarshalEnum[T ~string](data []byte, known []T, kind string) (T, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s must be a string", ErrInvalidStatus, kind)
	}
	return parseEnum(raw, known, kind)
}

func (s *BuddyStatus) Scan(src any) (err error) {
	*s, err = scanEnum(src, buddyStatuses, "buddy status")
	return err
}

func (s BuddyStatus) Value() (driver.Value, error) {
	return valueEnum(s, buddyStatuses, "buddy status")
}

func (s *BuddyStatus) UnmarshalJSON(data []byte) (err error) {
	*s, err = unmarshalEnum(data, buddyStatuses, "buddy status")
	return err
}

func (s *OrderStatus) Scan(src any) (err error) {
	*s, err = scanEnum(src, orderStatuses, "order status")
	return err
}

func (s OrderStatus) Value() (driver.Value, error) {
	return valueEnum(s, orderStatuses, "order status")
}

func (s *OrderStatus) UnmarshalJSON(data []byte) (err error) {
	*s, err = unmarshalEnum(data, orderStatuses, "order status")
	return err
}

func (m *PaymentMethod) Scan(src any) (err error) {
	*m, err = scanEnum(src, paymentMethods, "payment method")
	return err
}

func (m PaymentMethod) Value() (driver.Value, error) {
	return valueEnum(m, paymentMethods, "payment method")
}

func (m *PaymentMethod) UnmarshalJSON(data []byte) (err error) {
	*m, err = unmarshalEnum(data, paymentMethods, "payment method")
	return err
}

func (s *PaymentStatus) Scan(src any) (err error) {
	*s, err = scanEnum(src, paymentStatuses, "payment status")
	return err
}

func (s PaymentStatus) Value() (driver.Value, error) {
	return valueEnum(s, paymentStatuses, "payment status")
}

func (s *PaymentStatus) UnmarshalJSON(data []byte) (err error) {
	*s, err = unmarshalEnum(data, paymentStatuses, "payment status")
	return err
}

func (r *CancellationReason) Scan(src any) (err error) {
	*r, err = scanEnum(src, cancellationReasons, "cancellation reason")
	return err
}

func (r CancellationReason) Value() (driver.Value, error) {
	return valueEnum(r, cancellationReasons, "cancellation reason")
}

func (r *CancellationReason) UnmarshalJSON(data []byte) (err error) {
	*r, err = unmarshalEnum(data, cancellationReasons, "cancellation reason")
	return err
}

func (t *TransactionType) Scan(src any) (err error) {
	*t, err = scanEnum(src, transactionTypes, "transaction type")
	return err
}

func (t TransactionType) Value() (driver.Value, error) {
	return valueEnum(t, transactionTypes, "transaction type")
}

func (t *TransactionType) UnmarshalJSON(data []byte) (err error) {
	*t, err = unmarshalEnum(data, transactionTypes, "transaction type")
	return err
}

func (s *TransactionStatus) Scan(src any) (err error) {
	*s, err = scanEnum(src, transactionStatuses, "transaction status")
	return err
}

func (s TransactionStatus) Value() (driver.Value, error) {
	return valueEnum(s, transactionStatuses, "transaction status")
}

func (s *TransactionStatus) UnmarshalJSON(data []byte) (err error) {
	*s, err = unmarshalEnum(data, transactionStatuses, "transaction status")
	return err
}
