package storage

import (
	"context"
	"time"

	"ms-buddycart/internal/models"

	"github.com/uptrace/bun"
)

// ---------------- BUDDY QUEUE ----------------

func (d *DB) InsertQueueEntry(ctx context.Context, entry *models.BuddyQueueEntry) error {
	_, err := d.idb().NewInsert().Model(entry).Exec(ctx)
	return wrapErr("insert queue entry", err)
}

func (d *DB) GetQueueEntry(ctx context.Context, id string) (*models.BuddyQueueEntry, error) {
	var entry models.BuddyQueueEntry
	err := d.idb().NewSelect().
		Model(&entry).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("get queue entry", err)
	}
	return &entry, nil
}

// FindWaitingEntryByUser returns the user's WAITING entry, or nil when there is none.
func (d *DB) FindWaitingEntryByUser(ctx context.Context, userID string) (*models.BuddyQueueEntry, error) {
	var entries []models.BuddyQueueEntry
	err := d.idb().NewSelect().
		Model(&entries).
		Where("user_id = ?", userID).
		Where("status = ?", models.BuddyWaiting).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("find waiting entry", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// ListWaitingEntries returns every WAITING entry in arrival order, without
// evaluating deadlines.
func (d *DB) ListWaitingEntries(ctx context.Context) ([]models.BuddyQueueEntry, error) {
	var entries []models.BuddyQueueEntry
	err := d.idb().NewSelect().
		Model(&entries).
		Where("status = ?", models.BuddyWaiting).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list waiting entries", err)
	}
	return entries, nil
}

func (d *DB) ListWaitingEntriesByHash(ctx context.Context, locationHash string) ([]models.BuddyQueueEntry, error) {
	var entries []models.BuddyQueueEntry
	err := d.idb().NewSelect().
		Model(&entries).
		Where("status = ?", models.BuddyWaiting).
		Where("location_hash = ?", locationHash).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list waiting entries by hash", err)
	}
	return entries, nil
}

func (d *DB) ListEntriesByMatchedOrder(ctx context.Context, orderID string) ([]models.BuddyQueueEntry, error) {
	var entries []models.BuddyQueueEntry
	err := d.idb().NewSelect().
		Model(&entries).
		Where("matched_order_id = ?", orderID).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list matched entries", err)
	}
	return entries, nil
}

// ListResolvedEntriesSince returns MATCHED and TIMED_OUT entries created at
// or after since, oldest first. Purged rows are gone, so since should stay
// inside the retention window.
func (d *DB) ListResolvedEntriesSince(ctx context.Context, since time.Time) ([]models.BuddyQueueEntry, error) {
	var entries []models.BuddyQueueEntry
	err := d.idb().NewSelect().
		Model(&entries).
		Where("status IN (?)", bun.In([]models.BuddyStatus{models.BuddyMatched, models.BuddyTimedOut})).
		Where("created_at >= ?", since).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, wrapErr("list resolved entries", err)
	}
	return entries, nil
}

// MarkEntryMatched moves a WAITING entry to MATCHED. ErrConflict if it is no longer WAITING.
func (d *DB) MarkEntryMatched(ctx context.Context, id, orderID string, at time.Time) error {
	res, err := d.idb().NewUpdate().
		Model((*models.BuddyQueueEntry)(nil)).
		Set("status = ?", models.BuddyMatched).
		Set("matched_order_id = ?", orderID).
		Set("resolved_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.BuddyWaiting).
		Exec(ctx)
	return expectOne("mark entry matched", res, err)
}

// MarkEntryTimedOut moves a WAITING entry to TIMED_OUT. ErrConflict if it is no longer WAITING.
func (d *DB) MarkEntryTimedOut(ctx context.Context, id string, at time.Time) error {
	res, err := d.idb().NewUpdate().
		Model((*models.BuddyQueueEntry)(nil)).
		Set("status = ?", models.BuddyTimedOut).
		Set("resolved_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.BuddyWaiting).
		Exec(ctx)
	return expectOne("mark entry timed out", res, err)
}

// RefreshQueueEntry rewrites the mutable fields of a WAITING entry.
func (d *DB) RefreshQueueEntry(ctx context.Context, entry *models.BuddyQueueEntry) error {
	res, err := d.idb().NewUpdate().
		Model(entry).
		Column("cart_id", "lat", "lng", "location_hash", "value_total", "weight_total", "timeout_minutes", "created_at").
		WherePK().
		Where("status = ?", models.BuddyWaiting).
		Exec(ctx)
	return expectOne("refresh queue entry", res, err)
}

// ExtendQueueEntry sets a new timeout on an entry that is still WAITING.
func (d *DB) ExtendQueueEntry(ctx context.Context, id string, timeoutMinutes int) error {
	res, err := d.idb().NewUpdate().
		Model((*models.BuddyQueueEntry)(nil)).
		Set("timeout_minutes = ?", timeoutMinutes).
		Where("id = ?", id).
		Where("status = ?", models.BuddyWaiting).
		Exec(ctx)
	return expectOne("extend queue entry", res, err)
}

func (d *DB) DeleteQueueEntry(ctx context.Context, id string, allowed ...models.BuddyStatus) error {
	res, err := d.idb().NewDelete().
		Model((*models.BuddyQueueEntry)(nil)).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(allowed)).
		Exec(ctx)
	return expectOne("delete queue entry", res, err)
}

// PurgeResolvedEntries removes non-WAITING entries resolved before cutoff.
func (d *DB) PurgeResolvedEntries(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := d.idb().NewDelete().
		Model((*models.BuddyQueueEntry)(nil)).
		Where("status != ?", models.BuddyWaiting).
		Where("resolved_at IS NOT NULL").
		Where("resolved_at < ?", cutoff).
		Exec(ctx)
	return rowsAffected("purge resolved entries", res, err)
}

func (d *DB) CountEntriesByStatus(ctx context.Context) (map[models.BuddyStatus]int, error) {
	var rows []struct {
		Status models.BuddyStatus `bun:"status"`
		Count  int                `bun:"count"`
	}
	err := d.idb().NewSelect().
		Model((*models.BuddyQueueEntry)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS count").
		Group("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, wrapErr("count entries", err)
	}
	counts := make(map[models.BuddyStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}
