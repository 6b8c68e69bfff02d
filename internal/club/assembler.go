package club

import (
	"context"
	"fmt"
	"time"

	"ms-buddycart/internal/events"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Assembler converts a matched group into a ClubbedOrder, its membership
// links and one UserOrder per participant, all in a single transaction.
type Assembler struct {
	DB               *storage.DB
	Locks            Locker
	Carts            CartService
	Events           Publisher
	DiscountRate     decimal.Decimal
	CommitmentWindow time.Duration
	LockWait         time.Duration
	Logger           *logger.Logger
	Now              func() time.Time
}

func NewAssembler(db *storage.DB, locks Locker, carts CartService, ev Publisher, discountRate float64, commitmentWindow, lockWait time.Duration, log *logger.Logger) *Assembler {
	return &Assembler{
		DB:               db,
		Locks:            locks,
		Carts:            carts,
		Events:           ev,
		DiscountRate:     decimal.NewFromFloat(discountRate),
		CommitmentWindow: commitmentWindow,
		LockWait:         lockWait,
		Logger:           log,
		Now:              func() time.Time { return time.Now().UTC() },
	}
}

// Assemble returns ErrConflict when any member stopped waiting (or is held
// by another assembly) and nothing is persisted in that case.
func (a *Assembler) Assemble(ctx context.Context, entries []models.BuddyQueueEntry) (*models.ClubbedOrder, error) {
	if len(entries) < 2 {
		return nil, fmt.Errorf("%w: a clubbed order needs at least two participants", models.ErrInvalidRequest)
	}

	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = lock.QueueKey(e.ID)
	}
	owner := uuid.NewString()
	ok, err := a.Locks.LockAll(ctx, keys, owner)
	if err != nil {
		return nil, fmt.Errorf("lock group members: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("group member held by another assembly: %w", models.ErrConflict)
	}
	defer func() {
		if err := a.Locks.UnlockAll(context.WithoutCancel(ctx), keys, owner); err != nil {
			a.Logger.Warn("LOCK", fmt.Sprintf("Failed to release group locks: %v", err))
		}
	}()

	// Totals come from the cart service, never from the values cached in the queue.
	totals := make([]models.CartTotals, len(entries))
	for i, e := range entries {
		t, err := a.Carts.GetCartTotals(ctx, e.UserID, e.CartID)
		if err != nil {
			return nil, fmt.Errorf("cart totals for %s: %w", e.CartID, err)
		}
		totals[i] = t
	}

	now := a.Now()
	order := &models.ClubbedOrder{
		ID:            uuid.NewString(),
		CombinedValue: decimal.Zero,
		TotalDiscount: decimal.Zero,
		Status:        models.OrderCreated,
		CreatedAt:     now,
	}
	for _, t := range totals {
		order.CombinedValue = order.CombinedValue.Add(t.ValueTotal)
		order.CombinedWeight += t.WeightTotal
	}
	order.TotalDiscount = round2(order.CombinedValue.Mul(a.DiscountRate))

	links := make([]models.ClubbedOrderUser, len(entries))
	for i, e := range entries {
		links[i] = models.ClubbedOrderUser{
			ID:             uuid.NewString(),
			ClubbedOrderID: order.ID,
			UserID:         e.UserID,
			CartID:         e.CartID,
			DiscountGiven:  a.DiscountRate,
			CreatedAt:      now,
		}
	}

	var userOrders []models.UserOrder
	err = a.DB.RunInTx(ctx, func(ctx context.Context, tx *storage.DB) error {
		if err := tx.InsertClubbedOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.InsertClubbedOrderUsers(ctx, links); err != nil {
			return err
		}
		for _, e := range entries {
			if err := tx.MarkEntryMatched(ctx, e.ID, order.ID, now); err != nil {
				return fmt.Errorf("entry %s no longer waiting: %w", e.ID, err)
			}
		}
		userOrders = a.buildUserOrders(order, links, totals, now)
		if err := tx.InsertUserOrders(ctx, userOrders); err != nil {
			return err
		}
		return tx.TransitionClubbedOrder(ctx, order.ID, models.OrderPaymentPending, models.OrderCreated)
	})
	if err != nil {
		a.Logger.Error("ORDER", fmt.Sprintf("Assembly of %d entries rolled back: %v", len(entries), err))
		return nil, err
	}
	order.Status = models.OrderPaymentPending

	a.Logger.LogOrder("CLUBBED", order.ID, fmt.Sprintf("%d participants, combined value %s, discount %s",
		len(entries), order.CombinedValue.StringFixed(2), order.TotalDiscount.StringFixed(2)))
	a.publishMatched(ctx, order, userOrders)
	return order, nil
}

// buildUserOrders creates one PENDING UserOrder per link, all sharing the
// same commitment deadline.
func (a *Assembler) buildUserOrders(order *models.ClubbedOrder, links []models.ClubbedOrderUser, totals []models.CartTotals, now time.Time) []models.UserOrder {
	deadline := now.Add(a.CommitmentWindow)
	userOrders := make([]models.UserOrder, len(links))
	for i, link := range links {
		userOrders[i] = models.UserOrder{
			ID:                 uuid.NewString(),
			ClubbedOrderID:     order.ID,
			UserID:             link.UserID,
			CartID:             link.CartID,
			IndividualTotal:    totals[i].ValueTotal,
			PaymentMethod:      models.PaymentOnline,
			PaymentStatus:      models.PaymentPending,
			CommitmentDeadline: deadline,
			CreatedAt:          now,
		}
	}
	return userOrders
}

func (a *Assembler) publishMatched(ctx context.Context, order *models.ClubbedOrder, userOrders []models.UserOrder) {
	if a.Events == nil {
		return
	}
	e := events.ClubMatched{
		ClubbedOrderID: order.ID,
		CombinedValue:  order.CombinedValue,
		CombinedWeight: order.CombinedWeight,
		TotalDiscount:  order.TotalDiscount,
		OccurredAt:     a.Now(),
	}
	for _, uo := range userOrders {
		e.UserIDs = append(e.UserIDs, uo.UserID)
		e.CommitmentDeadline = uo.CommitmentDeadline
	}
	_ = a.Events.ClubMatched(ctx, e)
}

// CreateUserOrders returns the UserOrders of a clubbed order, creating them
// from its membership links when they do not exist yet.
func (a *Assembler) CreateUserOrders(ctx context.Context, clubbedOrderID string) ([]models.UserOrder, error) {
	existing, err := a.DB.ListUserOrders(ctx, clubbedOrderID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	var created []models.UserOrder
	err = withClubLock(ctx, a.Locks, a.Logger, clubbedOrderID, a.LockWait, func() error {
		order, err := a.DB.GetClubbedOrder(ctx, clubbedOrderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderCreated && order.Status != models.OrderPaymentPending {
			return fmt.Errorf("clubbed order %s is %s: %w", clubbedOrderID, order.Status, models.ErrAlreadyTerminal)
		}
		// Re-check under the lock; a concurrent caller may have won.
		created, err = a.DB.ListUserOrders(ctx, clubbedOrderID)
		if err != nil || len(created) > 0 {
			return err
		}
		links, err := a.DB.ListClubbedOrderUsers(ctx, clubbedOrderID)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			return fmt.Errorf("clubbed order %s has no participants: %w", clubbedOrderID, models.ErrNotFound)
		}
		totals := make([]models.CartTotals, len(links))
		for i, link := range links {
			if totals[i], err = a.Carts.GetCartTotals(ctx, link.UserID, link.CartID); err != nil {
				return fmt.Errorf("cart totals for %s: %w", link.CartID, err)
			}
		}

		rows := a.buildUserOrders(order, links, totals, a.Now())
		err = a.DB.RunInTx(ctx, func(ctx context.Context, tx *storage.DB) error {
			if err := tx.InsertUserOrders(ctx, rows); err != nil {
				return err
			}
			if order.Status != models.OrderCreated {
				return nil
			}
			return tx.TransitionClubbedOrder(ctx, order.ID, models.OrderPaymentPending, models.OrderCreated)
		})
		if err == nil {
			created = rows
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	a.Logger.LogOrder("USER_ORDERS", clubbedOrderID, fmt.Sprintf("Created %d user orders", len(created)))
	return created, nil
}
