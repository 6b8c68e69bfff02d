package club

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ms-buddycart/internal/events"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommit_IsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, uos := h.group(t, "500", "700")
	mine := uos["user-1"]

	first, err := h.tracker.Commit(ctx, "user-1", commitReq(mine, models.PaymentOnline))
	require.NoError(t, err)
	assert.True(t, first.IsCommitted)

	h.clock.set(testNow.Add(2 * time.Minute))
	again, err := h.tracker.Commit(ctx, "user-1", commitReq(mine, models.PaymentOnline))
	require.NoError(t, err)
	assert.WithinDuration(t, first.CommittedAt, again.CommittedAt, time.Second)

	changed := commitReq(mine, models.PaymentCOD)
	changed.SpecialInstructions = "ring twice"
	updated, err := h.tracker.Commit(ctx, "user-1", changed)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentCOD, updated.PaymentMethod)
	assert.WithinDuration(t, testNow, updated.CommittedAt, time.Second)

	stored, err := h.db.GetUserOrder(ctx, mine.ID)
	require.NoError(t, err)
	assert.Equal(t, "ring twice", stored.SpecialInstructions)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
}

func TestCommit_AfterDeadlineIsAlwaysRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, uos := h.group(t, "500", "700")

	_, err := h.tracker.Commit(ctx, "user-1", commitReq(uos["user-1"], models.PaymentOnline))
	require.NoError(t, err)

	h.clock.set(testNow.Add(11 * time.Minute))
	_, err = h.tracker.Commit(ctx, "user-1", commitReq(uos["user-1"], models.PaymentOnline))
	assert.ErrorIs(t, err, models.ErrDeadlinePassed)
	_, err = h.tracker.Commit(ctx, "user-2", commitReq(uos["user-2"], models.PaymentOnline))
	assert.ErrorIs(t, err, models.ErrDeadlinePassed)

	stored, err := h.db.GetUserOrder(ctx, uos["user-2"].ID)
	require.NoError(t, err)
	assert.False(t, stored.IsCommitted)
}

func TestCommit_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, uos := h.group(t, "500", "700")

	_, err := h.tracker.Commit(ctx, "user-2", commitReq(uos["user-1"], models.PaymentOnline))
	assert.ErrorIs(t, err, models.ErrNotFound)

	bad := commitReq(uos["user-1"], "CHEQUE")
	_, err = h.tracker.Commit(ctx, "user-1", bad)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	ok, err := h.locks.Lock(ctx, lock.ClubKey(uos["user-1"].ClubbedOrderID), "someone")
	require.NoError(t, err)
	require.True(t, ok)
	_, err = h.tracker.Commit(ctx, "user-1", commitReq(uos["user-1"], models.PaymentOnline))
	assert.ErrorIs(t, err, models.ErrBusy)
}

func TestCommit_LastCommitSetsPaymentDeadlineOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, uos := h.group(t, "500", "700")

	_, err := h.tracker.Commit(ctx, "user-1", commitReq(uos["user-1"], models.PaymentOnline))
	require.NoError(t, err)
	stored, err := h.db.GetClubbedOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, stored.PaymentConfirmationDeadline.IsZero())

	h.clock.set(testNow.Add(3 * time.Minute))
	_, err = h.tracker.Commit(ctx, "user-2", commitReq(uos["user-2"], models.PaymentOnline))
	require.NoError(t, err)

	h.clock.set(testNow.Add(4 * time.Minute))
	changed := commitReq(uos["user-1"], models.PaymentWallet)
	_, err = h.tracker.Commit(ctx, "user-1", changed)
	require.NoError(t, err)

	stored, err = h.db.GetClubbedOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, testNow.Add(18*time.Minute), stored.PaymentConfirmationDeadline, time.Second)

	status, err := h.tracker.GetCommitmentStatus(ctx, "user-1", order.ID)
	require.NoError(t, err)
	assert.True(t, status.AllCommitted)
	assert.Len(t, status.CommittedUsers, 2)
	assert.Empty(t, status.PendingUsers)
}

func TestConfirmPayment_RequiresCommitment(t *testing.T) {
	h := newHarness(t)
	_, uos := h.group(t, "500", "700")

	_, err := h.tracker.ConfirmPayment(context.Background(), "user-1", models.ConfirmRequest{
		UserOrderID:           uos["user-1"].ID,
		ExternalTransactionID: "pi_1",
	})
	assert.ErrorIs(t, err, models.ErrNotCommitted)
}

func TestConfirmPayment_CompletesGroupOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, uos := h.group(t, "500", "700")
	h.commitAll(t, uos, models.PaymentOnline)

	txn := h.confirm(t, uos["user-1"])
	assert.Equal(t, models.TransactionPayment, txn.TransactionType)
	assert.Equal(t, models.TransactionSuccess, txn.Status)
	// 500 - 5% + 40/2 delivery
	assert.True(t, dec("495").Equal(txn.Amount), txn.Amount.String())
	assert.Empty(t, h.recorder.Topic(h.cfg.Kafka.Topics.DeliveryRequested))

	_, err := h.tracker.ConfirmPayment(ctx, "user-1", models.ConfirmRequest{UserOrderID: uos["user-1"].ID, ExternalTransactionID: "pi_again"})
	assert.ErrorIs(t, err, models.ErrAlreadyTerminal)

	h.confirm(t, uos["user-2"])

	stored, err := h.db.GetClubbedOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaymentConfirmed, stored.Status)
	assert.True(t, stored.AllPaymentsConfirmed)

	msgs := h.recorder.Topic(h.cfg.Kafka.Topics.DeliveryRequested)
	require.Len(t, msgs, 1)
	var req events.DeliveryRequested
	require.NoError(t, json.Unmarshal(msgs[0].Value, &req))
	assert.Equal(t, order.ID, req.ClubbedOrderID)
	assert.Equal(t, 3.0, req.CombinedWeight)
	assert.Len(t, req.Drops, 2)

	txs, err := h.tracker.ListTransactions(ctx, "user-2", uos["user-2"].ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "pi_user-2", txs[0].ExternalTransactionID)
}

func TestConfirmPayment_AfterPaymentDeadline(t *testing.T) {
	h := newHarness(t)
	_, uos := h.group(t, "500", "700")
	h.commitAll(t, uos, models.PaymentWallet)

	h.clock.set(testNow.Add(16 * time.Minute))
	_, err := h.tracker.ConfirmPayment(context.Background(), "user-1", models.ConfirmRequest{UserOrderID: uos["user-1"].ID})
	assert.ErrorIs(t, err, models.ErrDeadlinePassed)
}

func TestConfirmPayment_OnlineNeedsReference(t *testing.T) {
	h := newHarness(t)
	_, uos := h.group(t, "500", "700")
	h.commitAll(t, uos, models.PaymentOnline)

	_, err := h.tracker.ConfirmPayment(context.Background(), "user-1", models.ConfirmRequest{UserOrderID: uos["user-1"].ID})
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	stored, err := h.db.GetUserOrder(context.Background(), uos["user-1"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, stored.PaymentStatus)
}

func TestGetPaymentSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, uos := h.group(t, "1000", "600", "400")

	s, err := h.tracker.GetPaymentSummary(ctx, "user-1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, uos["user-1"].ID, s.UserOrderID)
	assert.True(t, dec("2000").Equal(s.TotalOrderValue))
	assert.True(t, dec("1000").Equal(s.YourPortion))
	assert.True(t, dec("1000").Equal(s.OtherUsersPortion))
	assert.True(t, dec("50").Equal(s.DiscountApplied))
	assert.True(t, dec("13.33").Equal(s.DeliveryFeeShare))
	assert.True(t, dec("963.33").Equal(s.FinalAmountToPay))
	assert.False(t, s.AllUsersCommitted)
	assert.Equal(t, 3, s.PendingPayments)
	assert.Zero(t, s.ConfirmedPayments)

	_, err = h.tracker.GetPaymentSummary(ctx, "stranger", order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, h.tracker.IsParticipant(ctx, "stranger", order.ID), models.ErrNotFound)
	assert.NoError(t, h.tracker.IsParticipant(ctx, "user-3", order.ID))

	mine, err := h.tracker.ListMyOrders(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, order.ID, mine[0].ClubbedOrderID)
}
