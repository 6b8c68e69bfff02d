package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"ms-buddycart/internal/models"

	"github.com/lib/pq"
	"github.com/uptrace/bun"
)

// DB is the bun-backed store for the queue, clubbed orders and the ledger.
// A DB obtained inside RunInTx routes every query through the transaction.
type DB struct {
	Bun *bun.DB
	tx  bun.IDB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func (d *DB) idb() bun.IDB {
	if d.tx != nil {
		return d.tx
	}
	return d.Bun
}

// RunInTx runs fn in a single transaction. Nested calls reuse the outer one.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *DB) error) error {
	if d.tx != nil {
		return fn(ctx, d)
	}
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &DB{Bun: d.Bun, tx: tx})
	})
}

var schemaModels = []interface{}{
	(*models.BuddyQueueEntry)(nil),
	(*models.ClubbedOrder)(nil),
	(*models.ClubbedOrderUser)(nil),
	(*models.UserOrder)(nil),
	(*models.OrderCancellation)(nil),
	(*models.PaymentTransaction)(nil),
}

type index struct {
	model   interface{}
	name    string
	columns []string
	unique  bool
	where   string
}

var schemaIndexes = []index{
	{(*models.BuddyQueueEntry)(nil), "ux_buddy_queue_waiting_user", []string{"user_id"}, true, "status = 'WAITING'"},
	{(*models.BuddyQueueEntry)(nil), "ix_buddy_queue_status_created", []string{"status", "created_at"}, false, ""},
	{(*models.BuddyQueueEntry)(nil), "ix_buddy_queue_location_hash", []string{"location_hash"}, false, ""},
	{(*models.ClubbedOrderUser)(nil), "ux_clubbed_order_users_member", []string{"clubbed_order_id", "user_id"}, true, ""},
	{(*models.UserOrder)(nil), "ux_user_orders_member", []string{"clubbed_order_id", "user_id"}, true, ""},
	{(*models.UserOrder)(nil), "ix_user_orders_user", []string{"user_id"}, false, ""},
	{(*models.OrderCancellation)(nil), "ux_order_cancellations_club", []string{"clubbed_order_id"}, true, ""},
	{(*models.PaymentTransaction)(nil), "ix_payment_transactions_user_order", []string{"user_order_id"}, false, ""},
}

// CreateSchema creates tables and indexes from the models. Production
// databases are migrated with the SQL files under migrations/; this is used by
// tests and local sqlite runs.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range schemaModels {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", model, err)
		}
	}
	for _, ix := range schemaIndexes {
		q := db.NewCreateIndex().Model(ix.model).Index(ix.name).Column(ix.columns...).IfNotExists()
		if ix.unique {
			q = q.Unique()
		}
		if ix.where != "" {
			q = q.Where(ix.where)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %w", ix.name, err)
		}
	}
	return nil
}

// wrapErr maps driver errors onto the service sentinels.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, models.ErrConflict, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, models.ErrPersistence, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// expectOne turns a compare-and-set that matched no row into ErrConflict.
func expectOne(op string, res sql.Result, err error) error {
	if err != nil {
		return wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrConflict)
	}
	return nil
}

func rowsAffected(op string, res sql.Result, err error) (int, error) {
	if err != nil {
		return 0, wrapErr(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(op, err)
	}
	return int(n), nil
}
