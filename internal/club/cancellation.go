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
	"ms-buddycart/internal/payment"
	"ms-buddycart/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Resolver cancels clubbed orders and settles the money that moves because
// of it: refunds for members who already paid, compensation for the others
// and a penalty on whoever withdrew.
type Resolver struct {
	DB       *storage.DB
	Locks    Locker
	Gateway  PaymentGateway
	Events   Publisher
	Fees     FeePolicy
	LockWait time.Duration
	Logger   *logger.Logger
	Now      func() time.Time
}

func NewResolver(db *storage.DB, locks Locker, gateway PaymentGateway, ev Publisher, cfg *config.Config, log *logger.Logger) *Resolver {
	return &Resolver{
		DB:       db,
		Locks:    locks,
		Gateway:  gateway,
		Events:   ev,
		Fees:     NewFeePolicy(cfg.Cancellation),
		LockWait: cfg.Redis.LockWait,
		Logger:   log,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Cancel withdraws the caller from their clubbed order, which cancels the
// whole group. Either everything is recorded or nothing is.
func (r *Resolver) Cancel(ctx context.Context, userID string, req models.CancelRequest) (*models.CancelResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	uo, err := r.DB.GetUserOrder(ctx, req.UserOrderID)
	if err != nil {
		return nil, err
	}
	if uo.UserID != userID {
		return nil, fmt.Errorf("user order %s: %w", req.UserOrderID, models.ErrNotFound)
	}

	var result *models.CancelResult
	err = withClubLock(ctx, r.Locks, r.Logger, uo.ClubbedOrderID, r.LockWait, func() error {
		if uo, err = r.DB.GetUserOrder(ctx, req.UserOrderID); err != nil {
			return err
		}
		if uo.PaymentStatus == models.PaymentCancelled {
			return fmt.Errorf("user order %s: %w", uo.ID, models.ErrAlreadyTerminal)
		}
		order, err := r.DB.GetClubbedOrder(ctx, uo.ClubbedOrderID)
		if err != nil {
			return err
		}
		if !order.Status.InPaymentPhase() {
			return fmt.Errorf("clubbed order %s is %s: %w", order.ID, order.Status, models.ErrAlreadyTerminal)
		}
		result, err = r.cancelGroup(ctx, order, uo, req.Reason, r.Fees.Compute(uo.IndividualTotal))
		return err
	})
	if err != nil {
		r.Logger.Error("CANCEL", fmt.Sprintf("Cancellation of %s failed: %v", req.UserOrderID, err))
		return nil, err
	}
	return result, nil
}

// cancelGroup writes the cancellation and everything it implies in one
// transaction, then collects the penalty and announces the cancellation.
func (r *Resolver) cancelGroup(ctx context.Context, order *models.ClubbedOrder, canceller *models.UserOrder, reason models.CancellationReason, fee FeeBreakdown) (*models.CancelResult, error) {
	now := r.Now()
	c := &models.OrderCancellation{
		ID:                  uuid.NewString(),
		UserOrderID:         canceller.ID,
		ClubbedOrderID:      order.ID,
		CancelledByUserID:   canceller.UserID,
		CancellationReason:  reason,
		CancelledAt:         now,
		CancellationFee:     fee.Fee,
		CompensationAmount:  fee.Compensation,
		CompanyPenaltyShare: fee.CompanyShare,
	}

	var (
		txs     []models.PaymentTransaction
		members []models.UserOrder
	)
	err := r.DB.RunInTx(ctx, func(ctx context.Context, tx *storage.DB) error {
		if err := tx.InsertCancellation(ctx, c); err != nil {
			return err
		}
		var err error
		if members, err = tx.ListUserOrders(ctx, order.ID); err != nil {
			return err
		}
		if _, err := tx.CancelUserOrders(ctx, order.ID); err != nil {
			return err
		}
		if err := tx.TransitionClubbedOrder(ctx, order.ID, models.OrderCancelled,
			models.OrderCreated, models.OrderPaymentPending, models.OrderPaymentConfirmed); err != nil {
			return err
		}

		refunds, err := r.refunds(ctx, tx, members, now)
		if err != nil {
			return err
		}
		if err := tx.InsertTransactions(ctx, refunds); err != nil {
			return err
		}
		settled, err := r.settle(ctx, tx, c, members, now)
		if err != nil {
			return err
		}
		txs = append(refunds, settled...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.TrackCancellation(reason)
	r.Logger.LogOrder("CANCELLED", order.ID, fmt.Sprintf("Cancelled by %s (%s), fee %s, compensation %s",
		canceller.UserID, reason, fee.Fee.StringFixed(2), fee.Compensation.StringFixed(2)))

	r.collectPenalties(ctx, txs, members)
	c.PenaltyProcessed, c.CompensationProcessed = true, true
	if r.Events != nil {
		userIDs := make([]string, 0, len(members))
		for _, m := range members {
			userIDs = append(userIDs, m.UserID)
		}
		_ = r.Events.ClubCancelled(ctx, events.ClubCancelled{
			ClubbedOrderID:     order.ID,
			CancellationID:     c.ID,
			CancelledByUserID:  c.CancelledByUserID,
			UserIDs:            userIDs,
			Reason:             string(reason),
			CancellationFee:    c.CancellationFee,
			CompensationAmount: c.CompensationAmount,
			OccurredAt:         now,
		})
	}
	return &models.CancelResult{Cancellation: c, Transactions: txs}, nil
}

// refunds returns a PENDING REFUND for every member whose payment already went through.
func (r *Resolver) refunds(ctx context.Context, tx *storage.DB, members []models.UserOrder, now time.Time) ([]models.PaymentTransaction, error) {
	var paid []string
	for _, m := range members {
		if m.PaymentStatus == models.PaymentConfirmed {
			paid = append(paid, m.ID)
		}
	}
	if len(paid) == 0 {
		return nil, nil
	}
	ledger, err := tx.ListTransactionsByUserOrders(ctx, paid)
	if err != nil {
		return nil, err
	}

	amounts := map[string]decimal.Decimal{}
	for _, l := range ledger {
		if l.TransactionType == models.TransactionPayment && l.Status == models.TransactionSuccess {
			amounts[l.UserOrderID] = amounts[l.UserOrderID].Add(l.Amount)
		}
	}

	var out []models.PaymentTransaction
	for _, m := range members {
		amount, ok := amounts[m.ID]
		if !ok || !amount.IsPositive() {
			continue
		}
		out = append(out, models.PaymentTransaction{
			ID:              uuid.NewString(),
			UserOrderID:     m.ID,
			UserID:          m.UserID,
			TransactionType: models.TransactionRefund,
			Amount:          amount,
			PaymentMethod:   m.PaymentMethod,
			Status:          models.TransactionPending,
			CreatedAt:       now,
		})
	}
	return out, nil
}

// settle claims the compensation and penalty flags and writes the ledger
// rows only for the claims it won, so a cancellation never pays out twice.
func (r *Resolver) settle(ctx context.Context, tx *storage.DB, c *models.OrderCancellation, members []models.UserOrder, now time.Time) ([]models.PaymentTransaction, error) {
	var out []models.PaymentTransaction

	won, err := tx.ClaimCompensation(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if won && c.CompensationAmount.IsPositive() {
		var others []models.UserOrder
		for _, m := range members {
			if m.ID != c.UserOrderID {
				others = append(others, m)
			}
		}
		for i, share := range SplitEqually(c.CompensationAmount, len(others)) {
			out = append(out, models.PaymentTransaction{
				ID:              uuid.NewString(),
				UserOrderID:     others[i].ID,
				UserID:          others[i].UserID,
				TransactionType: models.TransactionCompensation,
				Amount:          share,
				PaymentMethod:   models.PaymentWallet,
				PaymentGateway:  "wallet",
				Status:          models.TransactionSuccess,
				ProcessedAt:     now,
				CreatedAt:       now,
			})
		}
	}

	won, err = tx.ClaimPenalty(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	if won && c.CancellationFee.IsPositive() {
		method := models.PaymentOnline
		if canceller := findUserOrder(members, c.UserOrderID); canceller != nil {
			method = canceller.PaymentMethod
		}
		out = append(out, models.PaymentTransaction{
			ID:              uuid.NewString(),
			UserOrderID:     c.UserOrderID,
			UserID:          c.CancelledByUserID,
			TransactionType: models.TransactionPenalty,
			Amount:          c.CancellationFee,
			PaymentMethod:   method,
			Status:          models.TransactionPending,
			CreatedAt:       now,
		})
	}

	if err := tx.InsertTransactions(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// collectPenalties submits PENDING penalty rows to the gateway and records
// the outcome. Gateway failures leave the row PENDING for reconciliation.
func (r *Resolver) collectPenalties(ctx context.Context, txs []models.PaymentTransaction, members []models.UserOrder) {
	for i := range txs {
		t := &txs[i]
		if t.TransactionType != models.TransactionPenalty || t.Status != models.TransactionPending {
			continue
		}
		charge := payment.Charge{
			UserID:      t.UserID,
			UserOrderID: t.UserOrderID,
			Amount:      t.Amount,
			Method:      t.PaymentMethod,
			Description: "BuddyCart cancellation fee",
		}
		if ref, err := r.paymentReference(ctx, t.UserOrderID); err == nil {
			charge.PaymentReference = ref
		}

		res, err := r.Gateway.ChargePenalty(ctx, charge)
		if err != nil {
			r.Logger.Error("PAYMENT", fmt.Sprintf("Penalty charge for %s failed: %v", t.UserOrderID, err))
			continue
		}
		t.PaymentGateway = res.Gateway
		if res.Status == models.TransactionPending {
			continue
		}
		now := r.Now()
		if err := r.DB.SettleTransaction(ctx, t.ID, res.Status, res.ExternalID, res.FailureReason, now); err != nil {
			r.Logger.Error("PAYMENT", fmt.Sprintf("Failed to record penalty outcome for %s: %v", t.ID, err))
			continue
		}
		t.Status, t.ExternalTransactionID, t.FailureReason, t.ProcessedAt = res.Status, res.ExternalID, res.FailureReason, now
		r.Logger.LogPayment("PENALTY", t.UserOrderID, fmt.Sprintf("%s %s via %s", t.Amount.StringFixed(2), t.Status, res.Gateway))
	}
}

// paymentReference finds the external id of the member's earlier payment,
// used to charge the penalty against the same saved method.
func (r *Resolver) paymentReference(ctx context.Context, userOrderID string) (string, error) {
	ledger, err := r.DB.ListTransactionsByUserOrder(ctx, userOrderID)
	if err != nil {
		return "", err
	}
	for _, l := range ledger {
		if l.TransactionType == models.TransactionPayment && l.ExternalTransactionID != "" {
			return l.ExternalTransactionID, nil
		}
	}
	return "", nil
}

// Settle re-applies the compensation and penalty steps of a cancellation.
// Once both flags are set it does nothing.
func (r *Resolver) Settle(ctx context.Context, cancellationID string) ([]models.PaymentTransaction, error) {
	c, err := r.DB.GetCancellation(ctx, cancellationID)
	if err != nil {
		return nil, err
	}
	if c.Settled() {
		return nil, nil
	}

	var (
		txs     []models.PaymentTransaction
		members []models.UserOrder
	)
	err = r.DB.RunInTx(ctx, func(ctx context.Context, tx *storage.DB) error {
		var err error
		if members, err = tx.ListUserOrders(ctx, c.ClubbedOrderID); err != nil {
			return err
		}
		txs, err = r.settle(ctx, tx, c, members, r.Now())
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(txs) > 0 {
		r.Logger.LogPayment("SETTLED", c.UserOrderID, fmt.Sprintf("Cancellation %s settled with %d ledger rows", c.ID, len(txs)))
	}
	r.collectPenalties(ctx, txs, members)
	return txs, nil
}

// SettlePending finishes every cancellation whose settlement was interrupted.
func (r *Resolver) SettlePending(ctx context.Context) (int, error) {
	pending, err := r.DB.ListUnsettledCancellations(ctx)
	if err != nil {
		return 0, err
	}
	settled := 0
	var firstErr error
	for _, c := range pending {
		if _, err := r.Settle(ctx, c.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		settled++
	}
	return settled, firstErr
}

// ExpireOverdueGroups cancels PAYMENT_PENDING groups in which someone missed
// the commitment deadline, or missed the payment deadline after everyone
// committed. Nobody is charged a fee; paid members are refunded.
func (r *Resolver) ExpireOverdueGroups(ctx context.Context) (int, error) {
	orders, err := r.DB.ListClubbedOrdersByStatus(ctx, models.OrderPaymentPending)
	if err != nil {
		return 0, err
	}
	expired := 0
	var firstErr error
	for i := range orders {
		ok, err := r.expireGroup(ctx, &orders[i])
		if err != nil {
			r.Logger.Warn("CANCEL", fmt.Sprintf("Failed to expire clubbed order %s: %v", orders[i].ID, err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, firstErr
}

func (r *Resolver) expireGroup(ctx context.Context, order *models.ClubbedOrder) (bool, error) {
	members, err := r.DB.ListUserOrders(ctx, order.ID)
	if err != nil {
		return false, err
	}
	if overdueMember(order, members, r.Now()) == nil {
		return false, nil
	}

	expired := false
	err = withClubLock(ctx, r.Locks, r.Logger, order.ID, 0, func() error {
		current, err := r.DB.GetClubbedOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if current.Status != models.OrderPaymentPending {
			return nil
		}
		if members, err = r.DB.ListUserOrders(ctx, order.ID); err != nil {
			return err
		}
		culprit := overdueMember(current, members, r.Now())
		if culprit == nil {
			return nil
		}
		if _, err := r.cancelGroup(ctx, current, culprit, models.ReasonTimeout, FeeBreakdown{
			Fee:          decimal.Zero,
			Compensation: decimal.Zero,
			CompanyShare: decimal.Zero,
		}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if errors.Is(err, models.ErrBusy) {
		// Someone is acting on this group right now; retry on the next pass.
		return false, nil
	}
	return expired, err
}

// overdueMember returns the first member holding the group up past a deadline.
func overdueMember(order *models.ClubbedOrder, members []models.UserOrder, now time.Time) *models.UserOrder {
	for i := range members {
		m := &members[i]
		if !m.IsCommitted && now.After(m.CommitmentDeadline) {
			return m
		}
	}
	if order.PaymentConfirmationDeadline.IsZero() || !now.After(order.PaymentConfirmationDeadline) {
		return nil
	}
	for i := range members {
		if members[i].PaymentStatus != models.PaymentConfirmed {
			return &members[i]
		}
	}
	return nil
}
