package storage

import (
	"context"
	"time"

	"ms-buddycart/internal/models"

	"github.com/uptrace/bun"
)

// ---------------- CLUBBED ORDERS ----------------

func (d *DB) InsertClubbedOrder(ctx context.Context, order *models.ClubbedOrder) error {
	_, err := d.idb().NewInsert().Model(order).Exec(ctx)
	return wrapErr("insert clubbed order", err)
}

func (d *DB) GetClubbedOrder(ctx context.Context, id string) (*models.ClubbedOrder, error) {
	var order models.ClubbedOrder
	err := d.idb().NewSelect().
		Model(&order).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("get clubbed order", err)
	}
	return &order, nil
}

func (d *DB) ListClubbedOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.ClubbedOrder, error) {
	var orders []models.ClubbedOrder
	err := d.idb().NewSelect().
		Model(&orders).
		Where("status = ?", status).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list clubbed orders", err)
	}
	return orders, nil
}

// TransitionClubbedOrder sets status to `to` only if the current status is one of `from`.
func (d *DB) TransitionClubbedOrder(ctx context.Context, id string, to models.OrderStatus, from ...models.OrderStatus) error {
	res, err := d.idb().NewUpdate().
		Model((*models.ClubbedOrder)(nil)).
		Set("status = ?", to).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(from)).
		Exec(ctx)
	return expectOne("transition clubbed order", res, err)
}

// MarkClubPaymentsConfirmed flips PAYMENT_PENDING to PAYMENT_CONFIRMED. Exactly one caller wins.
func (d *DB) MarkClubPaymentsConfirmed(ctx context.Context, id string, at time.Time) error {
	res, err := d.idb().NewUpdate().
		Model((*models.ClubbedOrder)(nil)).
		Set("status = ?", models.OrderPaymentConfirmed).
		Set("all_payments_confirmed = ?", true).
		Set("order_confirmed_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.OrderPaymentPending).
		Exec(ctx)
	return expectOne("confirm club payments", res, err)
}

// SetPaymentDeadline writes the group payment deadline once. Returns false if already set.
func (d *DB) SetPaymentDeadline(ctx context.Context, id string, deadline time.Time) (bool, error) {
	res, err := d.idb().NewUpdate().
		Model((*models.ClubbedOrder)(nil)).
		Set("payment_confirmation_deadline = ?", deadline).
		Where("id = ?", id).
		Where("payment_confirmation_deadline IS NULL").
		Exec(ctx)
	n, err := rowsAffected("set payment deadline", res, err)
	return n == 1, err
}

func (d *DB) InsertClubbedOrderUsers(ctx context.Context, links []models.ClubbedOrderUser) error {
	if len(links) == 0 {
		return nil
	}
	_, err := d.idb().NewInsert().Model(&links).Exec(ctx)
	return wrapErr("insert clubbed order users", err)
}

func (d *DB) ListClubbedOrderUsers(ctx context.Context, orderID string) ([]models.ClubbedOrderUser, error) {
	var links []models.ClubbedOrderUser
	err := d.idb().NewSelect().
		Model(&links).
		Where("clubbed_order_id = ?", orderID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list clubbed order users", err)
	}
	return links, nil
}

// ---------------- USER ORDERS ----------------

func (d *DB) InsertUserOrders(ctx context.Context, orders []models.UserOrder) error {
	if len(orders) == 0 {
		return nil
	}
	_, err := d.idb().NewInsert().Model(&orders).Exec(ctx)
	return wrapErr("insert user orders", err)
}

func (d *DB) GetUserOrder(ctx context.Context, id string) (*models.UserOrder, error) {
	var uo models.UserOrder
	err := d.idb().NewSelect().
		Model(&uo).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("get user order", err)
	}
	return &uo, nil
}

func (d *DB) ListUserOrders(ctx context.Context, clubbedOrderID string) ([]models.UserOrder, error) {
	var orders []models.UserOrder
	err := d.idb().NewSelect().
		Model(&orders).
		Where("clubbed_order_id = ?", clubbedOrderID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list user orders", err)
	}
	return orders, nil
}

func (d *DB) ListUserOrdersByUser(ctx context.Context, userID string) ([]models.UserOrder, error) {
	var orders []models.UserOrder
	err := d.idb().NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list user orders by user", err)
	}
	return orders, nil
}

// CommitUserOrder stores the commitment fields while the payment is still PENDING.
func (d *DB) CommitUserOrder(ctx context.Context, uo *models.UserOrder) error {
	res, err := d.idb().NewUpdate().
		Model(uo).
		Column("is_committed", "committed_at", "payment_method", "delivery_address", "delivery_phone", "special_instructions").
		WherePK().
		Where("payment_status = ?", models.PaymentPending).
		Exec(ctx)
	return expectOne("commit user order", res, err)
}

// ConfirmUserOrderPayment moves a committed PENDING user order to CONFIRMED.
func (d *DB) ConfirmUserOrderPayment(ctx context.Context, id string, at time.Time) error {
	res, err := d.idb().NewUpdate().
		Model((*models.UserOrder)(nil)).
		Set("payment_status = ?", models.PaymentConfirmed).
		Set("payment_confirmed_at = ?", at).
		Where("id = ?", id).
		Where("payment_status = ?", models.PaymentPending).
		Where("is_committed = ?", true).
		Exec(ctx)
	return expectOne("confirm user order payment", res, err)
}

// CancelUserOrders forces every not yet cancelled user order of a group to CANCELLED.
func (d *DB) CancelUserOrders(ctx context.Context, clubbedOrderID string) (int, error) {
	res, err := d.idb().NewUpdate().
		Model((*models.UserOrder)(nil)).
		Set("payment_status = ?", models.PaymentCancelled).
		Where("clubbed_order_id = ?", clubbedOrderID).
		Where("payment_status != ?", models.PaymentCancelled).
		Exec(ctx)
	return rowsAffected("cancel user orders", res, err)
}
