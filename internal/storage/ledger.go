package storage

import (
	"context"
	"time"

	"ms-buddycart/internal/models"

	"github.com/uptrace/bun"
)

// ---------------- CANCELLATIONS ----------------

func (d *DB) InsertCancellation(ctx context.Context, c *models.OrderCancellation) error {
	_, err := d.idb().NewInsert().Model(c).Exec(ctx)
	return wrapErr("insert cancellation", err)
}

func (d *DB) GetCancellation(ctx context.Context, id string) (*models.OrderCancellation, error) {
	var c models.OrderCancellation
	err := d.idb().NewSelect().
		Model(&c).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("get cancellation", err)
	}
	return &c, nil
}

func (d *DB) ListUnsettledCancellations(ctx context.Context) ([]models.OrderCancellation, error) {
	var out []models.OrderCancellation
	err := d.idb().NewSelect().
		Model(&out).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("penalty_processed = ?", false).WhereOr("compensation_processed = ?", false)
		}).
		OrderExpr("cancelled_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list unsettled cancellations", err)
	}
	return out, nil
}

// ClaimCompensation flips compensation_processed false -> true. Only the
// caller that gets true may write COMPENSATION rows.
func (d *DB) ClaimCompensation(ctx context.Context, id string) (bool, error) {
	res, err := d.idb().NewUpdate().
		Model((*models.OrderCancellation)(nil)).
		Set("compensation_processed = ?", true).
		Where("id = ?", id).
		Where("compensation_processed = ?", false).
		Exec(ctx)
	n, err := rowsAffected("claim compensation", res, err)
	return n == 1, err
}

// ClaimPenalty flips penalty_processed false -> true.
func (d *DB) ClaimPenalty(ctx context.Context, id string) (bool, error) {
	res, err := d.idb().NewUpdate().
		Model((*models.OrderCancellation)(nil)).
		Set("penalty_processed = ?", true).
		Where("id = ?", id).
		Where("penalty_processed = ?", false).
		Exec(ctx)
	n, err := rowsAffected("claim penalty", res, err)
	return n == 1, err
}

// ---------------- PAYMENT TRANSACTIONS ----------------

func (d *DB) InsertTransactions(ctx context.Context, txs []models.PaymentTransaction) error {
	if len(txs) == 0 {
		return nil
	}
	_, err := d.idb().NewInsert().Model(&txs).Exec(ctx)
	return wrapErr("insert transactions", err)
}

func (d *DB) ListTransactionsByUserOrder(ctx context.Context, userOrderID string) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := d.idb().NewSelect().
		Model(&txs).
		Where("user_order_id = ?", userOrderID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list transactions", err)
	}
	return txs, nil
}

func (d *DB) ListTransactionsByUserOrders(ctx context.Context, userOrderIDs []string) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	if len(userOrderIDs) == 0 {
		return txs, nil
	}
	err := d.idb().NewSelect().
		Model(&txs).
		Where("user_order_id IN (?)", bun.In(userOrderIDs)).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list transactions", err)
	}
	return txs, nil
}

// SettleTransaction moves a PENDING ledger row to its gateway outcome.
func (d *DB) SettleTransaction(ctx context.Context, id string, status models.TransactionStatus, externalID, failureReason string, at time.Time) error {
	q := d.idb().NewUpdate().
		Model((*models.PaymentTransaction)(nil)).
		Set("status = ?", status).
		Set("processed_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.TransactionPending)
	if externalID != "" {
		q = q.Set("external_transaction_id = ?", externalID)
	}
	if failureReason != "" {
		q = q.Set("failure_reason = ?", failureReason)
	}
	res, err := q.Exec(ctx)
	return expectOne("settle transaction", res, err)
}
