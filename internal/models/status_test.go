package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatuses_CaseInsensitive(t *testing.T) {
	s, err := ParseBuddyStatus("waiting")
	require.NoError(t, err)
	assert.Equal(t, BuddyWaiting, s)

	o, err := ParseOrderStatus(" Payment_Pending ")
	require.NoError(t, err)
	assert.Equal(t, OrderPaymentPending, o)

	m, err := ParsePaymentMethod("cod")
	require.NoError(t, err)
	assert.Equal(t, PaymentCOD, m)

	r, err := ParseCancellationReason("User_Withdrew")
	require.NoError(t, err)
	assert.Equal(t, ReasonUserWithdrew, r)
}

func TestParseStatuses_RejectsUnknown(t *testing.T) {
	_, err := ParseBuddyStatus("SLEEPING")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = ParsePaymentStatus("")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = ParseTransactionType("CHARGEBACK")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestEnumScanAndValue(t *testing.T) {
	var s PaymentStatus
	require.NoError(t, s.Scan([]byte("confirmed")))
	assert.Equal(t, PaymentConfirmed, s)

	assert.ErrorIs(t, s.Scan("SETTLED"), ErrInvalidStatus)
	assert.ErrorIs(t, s.Scan(nil), ErrInvalidStatus)
	assert.ErrorIs(t, s.Scan(42), ErrInvalidStatus)

	v, err := TransactionSuccess.Value()
	require.NoError(t, err)
	assert.Equal(t, "SUCCESS", v)

	_, err = TransactionStatus("DONE").Value()
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestEnumUnmarshalJSON(t *testing.T) {
	var req CommitRequest
	require.NoError(t, json.Unmarshal([]byte(`{"user_order_id":"u1","payment_method":"wallet"}`), &req))
	assert.Equal(t, PaymentWallet, req.PaymentMethod)

	err := json.Unmarshal([]byte(`{"payment_method":"CRYPTO"}`), &req)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestOrderStatusRank(t *testing.T) {
	assert.Less(t, OrderPaymentConfirmed.Rank(), OrderPreparing.Rank())
	assert.Less(t, OrderDispatched.Rank(), OrderDelivered.Rank())
	assert.Equal(t, -1, OrderCancelled.Rank())
	assert.True(t, OrderPaymentPending.InPaymentPhase())
	assert.False(t, OrderPreparing.InPaymentPhase())
}

func TestQueueEntryDeadline(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	e := &BuddyQueueEntry{CreatedAt: created, TimeoutMinutes: 5}

	assert.Equal(t, created.Add(5*time.Minute), e.Deadline())
	assert.False(t, e.ExpiredAt(created.Add(5*time.Minute)))
	assert.True(t, e.ExpiredAt(created.Add(5*time.Minute+time.Second)))
	assert.Equal(t, 2, e.RemainingMinutes(created.Add(150*time.Second)))
	assert.Equal(t, 0, e.RemainingMinutes(created.Add(time.Hour)))
}

func TestRequestValidation(t *testing.T) {
	ok := EnqueueRequest{UserID: "u1", CartID: "c1", Lat: 19.07, Lng: 72.87}
	assert.NoError(t, ok.Validate(60))

	bad := ok
	bad.Lat = 91
	assert.ErrorIs(t, bad.Validate(60), ErrInvalidRequest)

	bad = ok
	bad.TimeoutMinutes = 120
	assert.ErrorIs(t, bad.Validate(60), ErrInvalidRequest)

	cancel := CancelRequest{UserOrderID: "uo1", Reason: "NOT_A_REASON"}
	assert.ErrorIs(t, cancel.Validate(), ErrInvalidRequest)
}
