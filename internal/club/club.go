// Package club turns matched queue entries into clubbed orders and runs the
// split payment lifecycle: commitment, payment confirmation and cancellation.
package club

import (
	"context"
	"fmt"
	"time"

	"ms-buddycart/internal/events"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Locker interface {
	Obtain(ctx context.Context, key, owner string, wait time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
	LockAll(ctx context.Context, keys []string, owner string) (bool, error)
	UnlockAll(ctx context.Context, keys []string, owner string) error
}

type CartService interface {
	GetCartTotals(ctx context.Context, userID, cartID string) (models.CartTotals, error)
}

type Publisher interface {
	ClubMatched(ctx context.Context, e events.ClubMatched) error
	ClubCancelled(ctx context.Context, e events.ClubCancelled) error
	DeliveryRequested(ctx context.Context, e events.DeliveryRequested) error
}

type PaymentGateway interface {
	VerifyPayment(ctx context.Context, method models.PaymentMethod, externalID string, amount decimal.Decimal) (string, error)
	ChargePenalty(ctx context.Context, c payment.Charge) (payment.ChargeResult, error)
}

// withClubLock serializes mutations of one clubbed order across instances.
func withClubLock(ctx context.Context, locks Locker, log *logger.Logger, orderID string, wait time.Duration, fn func() error) error {
	owner := uuid.NewString()
	ok, err := locks.Obtain(ctx, lock.ClubKey(orderID), owner, wait)
	if err != nil {
		return fmt.Errorf("lock clubbed order %s: %w", orderID, err)
	}
	if !ok {
		return fmt.Errorf("clubbed order %s: %w", orderID, models.ErrBusy)
	}
	defer func() {
		if err := locks.Unlock(context.WithoutCancel(ctx), lock.ClubKey(orderID), owner); err != nil {
			log.Warn("LOCK", fmt.Sprintf("Failed to release lock for clubbed order %s: %v", orderID, err))
		}
	}()
	return fn()
}

func findUserOrder(orders []models.UserOrder, id string) *models.UserOrder {
	for i := range orders {
		if orders[i].ID == id {
			return &orders[i]
		}
	}
	return nil
}

func findByUser(orders []models.UserOrder, userID string) *models.UserOrder {
	for i := range orders {
		if orders[i].UserID == userID {
			return &orders[i]
		}
	}
	return nil
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
