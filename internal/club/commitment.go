package club

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/events"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/monitoring"
	"ms-buddycart/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommitmentTracker records each participant's commitment and payment and
// hands the order to delivery once everyone has paid.
type CommitmentTracker struct {
	DB            *storage.DB
	Locks         Locker
	Gateway       PaymentGateway
	Events        Publisher
	PaymentWindow time.Duration
	DeliveryFee   decimal.Decimal
	LockWait      time.Duration
	Logger        *logger.Logger
	Now           func() time.Time
}

func NewCommitmentTracker(db *storage.DB, locks Locker, gateway PaymentGateway, ev Publisher, cfg *config.Config, log *logger.Logger) *CommitmentTracker {
	return &CommitmentTracker{
		DB:            db,
		Locks:         locks,
		Gateway:       gateway,
		Events:        ev,
		PaymentWindow: cfg.Commitment.PaymentWindow,
		DeliveryFee:   decimal.NewFromFloat(cfg.Commitment.DeliveryFee),
		LockWait:      cfg.Redis.LockWait,
		Logger:        log,
		Now:           func() time.Time { return time.Now().UTC() },
	}
}

func (t *CommitmentTracker) ownedUserOrder(ctx context.Context, userID, userOrderID string) (*models.UserOrder, error) {
	uo, err := t.DB.GetUserOrder(ctx, userOrderID)
	if err != nil {
		return nil, err
	}
	if uo.UserID != userID {
		return nil, fmt.Errorf("user order %s: %w", userOrderID, models.ErrNotFound)
	}
	return uo, nil
}

func sameCommitment(uo *models.UserOrder, req models.CommitRequest) bool {
	return uo.IsCommitted &&
		uo.PaymentMethod == req.PaymentMethod &&
		uo.DeliveryAddress == req.DeliveryAddress &&
		uo.DeliveryPhone == req.DeliveryPhone &&
		uo.SpecialInstructions == req.SpecialInstructions
}

// Commit marks the caller's share as committed with payment method and
// delivery details. Repeating an identical commit changes nothing.
func (t *CommitmentTracker) Commit(ctx context.Context, userID string, req models.CommitRequest) (*models.UserOrder, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	uo, err := t.ownedUserOrder(ctx, userID, req.UserOrderID)
	if err != nil {
		return nil, err
	}

	err = withClubLock(ctx, t.Locks, t.Logger, uo.ClubbedOrderID, t.LockWait, func() error {
		if uo, err = t.DB.GetUserOrder(ctx, req.UserOrderID); err != nil {
			return err
		}
		now := t.Now()
		if now.After(uo.CommitmentDeadline) {
			return fmt.Errorf("commitment deadline %s: %w", uo.CommitmentDeadline.Format(time.RFC3339), models.ErrDeadlinePassed)
		}
		if uo.PaymentStatus.Terminal() {
			return fmt.Errorf("user order %s is %s: %w", uo.ID, uo.PaymentStatus, models.ErrAlreadyTerminal)
		}
		order, err := t.DB.GetClubbedOrder(ctx, uo.ClubbedOrderID)
		if err != nil {
			return err
		}
		if order.Status != models.OrderPaymentPending {
			return fmt.Errorf("clubbed order %s is %s: %w", order.ID, order.Status, models.ErrAlreadyTerminal)
		}
		if sameCommitment(uo, req) {
			return nil
		}

		uo.PaymentMethod = req.PaymentMethod
		uo.DeliveryAddress = req.DeliveryAddress
		uo.DeliveryPhone = req.DeliveryPhone
		uo.SpecialInstructions = req.SpecialInstructions
		if !uo.IsCommitted {
			uo.IsCommitted = true
			uo.CommittedAt = now
		}

		return t.DB.RunInTx(ctx, func(ctx context.Context, tx *storage.DB) error {
			if err := tx.CommitUserOrder(ctx, uo); err != nil {
				return err
			}
			siblings, err := tx.ListUserOrders(ctx, uo.ClubbedOrderID)
			if err != nil {
				return err
			}
			for _, s := range siblings {
				if !s.IsCommitted {
					return nil
				}
			}
			set, err := tx.SetPaymentDeadline(ctx, uo.ClubbedOrderID, now.Add(t.PaymentWindow))
			if err != nil {
				return err
			}
			if set {
				t.Logger.LogOrder("ALL_COMMITTED", uo.ClubbedOrderID, fmt.Sprintf("Payment deadline set to %s", now.Add(t.PaymentWindow).Format(time.RFC3339)))
			}
			return nil
		})
	})
	monitoring.TrackPayment("commit", err)
	if err != nil {
		return nil, err
	}
	t.Logger.LogPayment("COMMITTED", uo.ID, fmt.Sprintf("User %s committed via %s", userID, uo.PaymentMethod))
	return uo, nil
}

// ConfirmPayment records a verified payment for a committed share. The
// caller whose confirmation completes the group publishes the delivery request.
func (t *CommitmentTracker) ConfirmPayment(ctx context.Context, userID string, req models.ConfirmRequest) (*models.PaymentTransaction, error) {
	if req.UserOrderID == "" {
		return nil, fmt.Errorf("%w: user_order_id is required", models.ErrInvalidRequest)
	}
	uo, err := t.ownedUserOrder(ctx, userID, req.UserOrderID)
	if err != nil {
		return nil, err
	}

	var (
		txn       *models.PaymentTransaction
		order     *models.ClubbedOrder
		members   []models.UserOrder
		completed bool
	)
	err = withClubLock(ctx, t.Locks, t.Logger, uo.ClubbedOrderID, t.LockWait, func() error {
		if uo, err = t.DB.GetUserOrder(ctx, req.UserOrderID); err != nil {
			return err
		}
		if uo.PaymentStatus.Terminal() {
			return fmt.Errorf("user order %s is %s: %w", uo.ID, uo.PaymentStatus, models.ErrAlreadyTerminal)
		}
		if !uo.IsCommitted {
			return fmt.Errorf("user order %s: %w", uo.ID, models.ErrNotCommitted)
		}
		if order, err = t.DB.GetClubbedOrder(ctx, uo.ClubbedOrderID); err != nil {
			return err
		}
		if order.Status != models.OrderPaymentPending {
			return fmt.Errorf("clubbed order %s is %s: %w", order.ID, order.Status, models.ErrAlreadyTerminal)
		}
		now := t.Now()
		deadline := order.PaymentConfirmationDeadline
		if deadline.IsZero() {
			deadline = uo.CommitmentDeadline
		}
		if now.After(deadline) {
			return fmt.Errorf("payment deadline %s: %w", deadline.Format(time.RFC3339), models.ErrDeadlinePassed)
		}

		summary, err := t.summarize(ctx, order, uo)
		if err != nil {
			return err
		}
		gateway, err := t.Gateway.VerifyPayment(ctx, uo.PaymentMethod, req.ExternalTransactionID, summary.FinalAmountToPay)
		if err != nil {
			return err
		}
		if req.PaymentGateway != "" && gateway == "offline" {
			gateway = req.PaymentGateway
		}

		txn = &models.PaymentTransaction{
			ID:                    uuid.NewString(),
			UserOrderID:           uo.ID,
			UserID:                uo.UserID,
			TransactionType:       models.TransactionPayment,
			Amount:                summary.FinalAmountToPay,
			PaymentMethod:         uo.PaymentMethod,
			ExternalTransactionID: req.ExternalTransactionID,
			PaymentGateway:        gateway,
			Status:                models.TransactionSuccess,
			ProcessedAt:           now,
			CreatedAt:             now,
		}
		return t.DB.RunInTx(ctx, func(ctx context.Context, tx *storage.DB) error {
			if err := tx.ConfirmUserOrderPayment(ctx, uo.ID, now); err != nil {
				return err
			}
			if err := tx.InsertTransactions(ctx, []models.PaymentTransaction{*txn}); err != nil {
				return err
			}
			members, err = tx.ListUserOrders(ctx, uo.ClubbedOrderID)
			if err != nil {
				return err
			}
			for _, m := range members {
				if m.PaymentStatus != models.PaymentConfirmed {
					return nil
				}
			}
			err := tx.MarkClubPaymentsConfirmed(ctx, uo.ClubbedOrderID, now)
			if errors.Is(err, models.ErrConflict) {
				return nil
			}
			if err != nil {
				return err
			}
			completed = true
			return nil
		})
	})
	monitoring.TrackPayment("confirm", err)
	if err != nil {
		return nil, err
	}
	t.Logger.LogPayment("CONFIRMED", uo.ID, fmt.Sprintf("%s via %s", txn.Amount.StringFixed(2), txn.PaymentGateway))

	if completed {
		t.Logger.LogOrder("PAYMENT_CONFIRMED", order.ID, "All participants paid, requesting delivery")
		t.requestDelivery(ctx, order, members)
	}
	return txn, nil
}

func (t *CommitmentTracker) requestDelivery(ctx context.Context, order *models.ClubbedOrder, members []models.UserOrder) {
	if t.Events == nil {
		return
	}
	e := events.DeliveryRequested{
		ClubbedOrderID: order.ID,
		CombinedValue:  order.CombinedValue,
		CombinedWeight: order.CombinedWeight,
		OccurredAt:     t.Now(),
	}
	for _, m := range members {
		e.Drops = append(e.Drops, events.DeliveryDrop{
			UserOrderID:         m.ID,
			UserID:              m.UserID,
			CartID:              m.CartID,
			Address:             m.DeliveryAddress,
			Phone:               m.DeliveryPhone,
			SpecialInstructions: m.SpecialInstructions,
		})
	}
	_ = t.Events.DeliveryRequested(ctx, e)
}

// summarize computes one participant's share of the clubbed order.
func (t *CommitmentTracker) summarize(ctx context.Context, order *models.ClubbedOrder, mine *models.UserOrder) (*models.PaymentSummary, error) {
	members, err := t.DB.ListUserOrders(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	links, err := t.DB.ListClubbedOrderUsers(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	rate := decimal.Zero
	for _, l := range links {
		if l.UserID == mine.UserID {
			rate = l.DiscountGiven
		}
	}

	s := &models.PaymentSummary{
		ClubbedOrderID:     order.ID,
		UserOrderID:        mine.ID,
		TotalOrderValue:    order.CombinedValue,
		YourPortion:        mine.IndividualTotal,
		OtherUsersPortion:  order.CombinedValue.Sub(mine.IndividualTotal),
		DiscountApplied:    round2(mine.IndividualTotal.Mul(rate)),
		DeliveryFeeShare:   decimal.Zero,
		CommitmentDeadline: mine.CommitmentDeadline,
		PaymentDeadline:    order.PaymentConfirmationDeadline,
		AllUsersCommitted:  len(members) > 0,
	}
	if n := len(members); n > 0 {
		s.DeliveryFeeShare = t.DeliveryFee.DivRound(decimal.NewFromInt(int64(n)), 2)
	}
	s.FinalAmountToPay = s.YourPortion.Sub(s.DiscountApplied).Add(s.DeliveryFeeShare)

	for _, m := range members {
		if !m.IsCommitted {
			s.AllUsersCommitted = false
		}
		switch m.PaymentStatus {
		case models.PaymentConfirmed:
			s.ConfirmedPayments++
		case models.PaymentPending:
			s.PendingPayments++
		}
	}
	return s, nil
}

func (t *CommitmentTracker) GetPaymentSummary(ctx context.Context, userID, clubbedOrderID string) (*models.PaymentSummary, error) {
	order, err := t.DB.GetClubbedOrder(ctx, clubbedOrderID)
	if err != nil {
		return nil, err
	}
	members, err := t.DB.ListUserOrders(ctx, clubbedOrderID)
	if err != nil {
		return nil, err
	}
	mine := findByUser(members, userID)
	if mine == nil {
		return nil, fmt.Errorf("no share of %s for user %s: %w", clubbedOrderID, userID, models.ErrNotFound)
	}
	return t.summarize(ctx, order, mine)
}

func (t *CommitmentTracker) GetCommitmentStatus(ctx context.Context, userID, clubbedOrderID string) (*models.CommitmentStatus, error) {
	order, err := t.DB.GetClubbedOrder(ctx, clubbedOrderID)
	if err != nil {
		return nil, err
	}
	members, err := t.DB.ListUserOrders(ctx, clubbedOrderID)
	if err != nil {
		return nil, err
	}
	if findByUser(members, userID) == nil {
		return nil, fmt.Errorf("clubbed order %s: %w", clubbedOrderID, models.ErrNotFound)
	}

	st := &models.CommitmentStatus{
		ClubbedOrderID:  order.ID,
		OrderStatus:     order.Status,
		TotalUsers:      len(members),
		CommittedUsers:  []string{},
		PendingUsers:    []string{},
		ConfirmedUsers:  []string{},
		OrderConfirmed:  order.AllPaymentsConfirmed,
		PaymentDeadline: order.PaymentConfirmationDeadline,
	}
	for _, m := range members {
		if m.IsCommitted {
			st.CommittedUsers = append(st.CommittedUsers, m.UserID)
		} else {
			st.PendingUsers = append(st.PendingUsers, m.UserID)
		}
		if m.PaymentStatus == models.PaymentConfirmed {
			st.ConfirmedUsers = append(st.ConfirmedUsers, m.UserID)
		}
	}
	st.AllCommitted = len(members) > 0 && len(st.PendingUsers) == 0
	return st, nil
}

func (t *CommitmentTracker) ListTransactions(ctx context.Context, userID, userOrderID string) ([]models.PaymentTransaction, error) {
	if _, err := t.ownedUserOrder(ctx, userID, userOrderID); err != nil {
		return nil, err
	}
	return t.DB.ListTransactionsByUserOrder(ctx, userOrderID)
}

func (t *CommitmentTracker) ListMyOrders(ctx context.Context, userID string) ([]models.UserOrder, error) {
	return t.DB.ListUserOrdersByUser(ctx, userID)
}

// IsParticipant returns ErrNotFound unless userID belongs to the clubbed order.
func (t *CommitmentTracker) IsParticipant(ctx context.Context, userID, clubbedOrderID string) error {
	links, err := t.DB.ListClubbedOrderUsers(ctx, clubbedOrderID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if l.UserID == userID {
			return nil
		}
	}
	return fmt.Errorf("clubbed order %s: %w", clubbedOrderID, models.ErrNotFound)
}
