package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ms-buddycart/internal/models"
	"ms-buddycart/internal/storage"
	"ms-buddycart/internal/storage/storagetest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(userID string, created time.Time) *models.BuddyQueueEntry {
	return &models.BuddyQueueEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		CartID:         "cart-" + userID,
		Lat:            19.0760,
		Lng:            72.8777,
		LocationHash:   "abcd1234",
		ValueTotal:     decimal.NewFromInt(500),
		WeightTotal:    1.5,
		TimeoutMinutes: 5,
		Status:         models.BuddyWaiting,
		CreatedAt:      created,
	}
}

func TestQueueEntry_InsertAndGet(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()

	e := newEntry("user-1", time.Now().UTC())
	require.NoError(t, db.InsertQueueEntry(ctx, e))

	got, err := db.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, models.BuddyWaiting, got.Status)
	assert.True(t, decimal.NewFromInt(500).Equal(got.ValueTotal))
	assert.True(t, got.ResolvedAt.IsZero())

	_, err = db.GetQueueEntry(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestQueueEntry_OneWaitingPerUser(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()

	require.NoError(t, db.InsertQueueEntry(ctx, newEntry("user-1", time.Now().UTC())))
	err := db.InsertQueueEntry(ctx, newEntry("user-1", time.Now().UTC()))
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestQueueEntry_CompareAndSet(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	e := newEntry("user-1", now)
	require.NoError(t, db.InsertQueueEntry(ctx, e))

	require.NoError(t, db.MarkEntryMatched(ctx, e.ID, "order-1", now))
	assert.ErrorIs(t, db.MarkEntryMatched(ctx, e.ID, "order-2", now), models.ErrConflict)
	assert.ErrorIs(t, db.MarkEntryTimedOut(ctx, e.ID, now), models.ErrConflict)

	got, err := db.GetQueueEntry(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BuddyMatched, got.Status)
	assert.Equal(t, "order-1", got.MatchedOrderID)

	waiting, err := db.FindWaitingEntryByUser(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, waiting)
}

func TestQueueEntry_PurgeKeepsWaitingAndRecent(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newEntry("user-old", now.Add(-48*time.Hour))
	recent := newEntry("user-recent", now.Add(-time.Hour))
	waiting := newEntry("user-waiting", now.Add(-48*time.Hour))
	for _, e := range []*models.BuddyQueueEntry{old, recent, waiting} {
		require.NoError(t, db.InsertQueueEntry(ctx, e))
	}
	require.NoError(t, db.MarkEntryTimedOut(ctx, old.ID, now.Add(-47*time.Hour)))
	require.NoError(t, db.MarkEntryTimedOut(ctx, recent.ID, now.Add(-time.Hour)))

	n, err := db.PurgeResolvedEntries(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = db.GetQueueEntry(ctx, old.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = db.GetQueueEntry(ctx, recent.ID)
	assert.NoError(t, err)
	_, err = db.GetQueueEntry(ctx, waiting.ID)
	assert.NoError(t, err)

	counts, err := db.CountEntriesByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[models.BuddyWaiting])
	assert.Equal(t, 1, counts[models.BuddyTimedOut])
}

func TestQueueEntry_ListResolvedSince(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	matched := newEntry("user-matched", now.Add(-2*time.Hour))
	timedOut := newEntry("user-timed-out", now.Add(-time.Hour))
	tooOld := newEntry("user-old", now.Add(-10*24*time.Hour))
	waiting := newEntry("user-waiting", now.Add(-time.Hour))
	for _, e := range []*models.BuddyQueueEntry{matched, timedOut, tooOld, waiting} {
		require.NoError(t, db.InsertQueueEntry(ctx, e))
	}
	require.NoError(t, db.MarkEntryMatched(ctx, matched.ID, "order-1", now.Add(-110*time.Minute)))
	require.NoError(t, db.MarkEntryTimedOut(ctx, timedOut.ID, now))
	require.NoError(t, db.MarkEntryTimedOut(ctx, tooOld.ID, now.Add(-9*24*time.Hour)))

	got, err := db.ListResolvedEntriesSince(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, matched.ID, got[0].ID)
	assert.Equal(t, timedOut.ID, got[1].ID)

	members, err := db.ListEntriesByMatchedOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, matched.ID, members[0].ID)
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()
	boom := errors.New("boom")

	e := newEntry("user-1", time.Now().UTC())
	err := db.RunInTx(ctx, func(ctx context.Context, tx *storage.DB) error {
		if err := tx.InsertQueueEntry(ctx, e); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.GetQueueEntry(ctx, e.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestClubbedOrder_PaymentDeadlineSetOnce(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	order := &models.ClubbedOrder{
		ID:            uuid.NewString(),
		CombinedValue: decimal.NewFromInt(1000),
		TotalDiscount: decimal.NewFromInt(50),
		Status:        models.OrderPaymentPending,
		CreatedAt:     now,
	}
	require.NoError(t, db.InsertClubbedOrder(ctx, order))

	set, err := db.SetPaymentDeadline(ctx, order.ID, now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.True(t, set)

	set, err = db.SetPaymentDeadline(ctx, order.ID, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, set)

	require.NoError(t, db.MarkClubPaymentsConfirmed(ctx, order.ID, now))
	assert.ErrorIs(t, db.MarkClubPaymentsConfirmed(ctx, order.ID, now), models.ErrConflict)

	got, err := db.GetClubbedOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaymentConfirmed, got.Status)
	assert.True(t, got.AllPaymentsConfirmed)
	assert.WithinDuration(t, now.Add(15*time.Minute), got.PaymentConfirmationDeadline, time.Second)
}

func TestCancellation_ClaimsAreExactlyOnce(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()

	c := &models.OrderCancellation{
		ID:                  uuid.NewString(),
		UserOrderID:         "uo-1",
		ClubbedOrderID:      "club-1",
		CancelledByUserID:   "user-1",
		CancellationReason:  models.ReasonUserWithdrew,
		CancelledAt:         time.Now().UTC(),
		CancellationFee:     decimal.NewFromInt(200),
		CompensationAmount:  decimal.NewFromInt(120),
		CompanyPenaltyShare: decimal.NewFromInt(80),
	}
	require.NoError(t, db.InsertCancellation(ctx, c))

	unsettled, err := db.ListUnsettledCancellations(ctx)
	require.NoError(t, err)
	assert.Len(t, unsettled, 1)

	won, err := db.ClaimCompensation(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = db.ClaimCompensation(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, won)

	won, err = db.ClaimPenalty(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, won)

	unsettled, err = db.ListUnsettledCancellations(ctx)
	require.NoError(t, err)
	assert.Empty(t, unsettled)
}

func TestTransactions_SettleOnlyPending(t *testing.T) {
	db := storagetest.New(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tx := models.PaymentTransaction{
		ID:              uuid.NewString(),
		UserOrderID:     "uo-1",
		UserID:          "user-1",
		TransactionType: models.TransactionPenalty,
		Amount:          decimal.NewFromInt(200),
		PaymentMethod:   models.PaymentOnline,
		Status:          models.TransactionPending,
		CreatedAt:       now,
	}
	require.NoError(t, db.InsertTransactions(ctx, []models.PaymentTransaction{tx}))

	require.NoError(t, db.SettleTransaction(ctx, tx.ID, models.TransactionSuccess, "pi_123", "", now))
	assert.ErrorIs(t, db.SettleTransaction(ctx, tx.ID, models.TransactionFailed, "", "late", now), models.ErrConflict)

	txs, err := db.ListTransactionsByUserOrder(ctx, "uo-1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, models.TransactionSuccess, txs[0].Status)
	assert.Equal(t, "pi_123", txs[0].ExternalTransactionID)
}
