package buddy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/geo"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/monitoring"
	"ms-buddycart/internal/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CartService interface {
	GetCartTotals(ctx context.Context, userID, cartID string) (models.CartTotals, error)
	IsCartActive(ctx context.Context, userID, cartID string) (bool, error)
}

type EntryMatcher interface {
	Match(ctx context.Context, entryID string) (*models.ClubbedOrder, error)
}

// Service owns the buddy queue: enqueue, status, leave, extend, readiness
// and queue statistics.
type Service struct {
	DB           *storage.DB
	Locks        Locker
	Carts        CartService
	Matcher      EntryMatcher
	Events       QueueEvents
	Config       config.MatchingConfig
	DiscountRate decimal.Decimal
	LockWait     time.Duration
	StatsWindow  time.Duration
	Logger       *logger.Logger
	Now          func() time.Time
}

func NewService(db *storage.DB, locks Locker, carts CartService, matcher EntryMatcher, ev QueueEvents, cfg *config.Config, log *logger.Logger) *Service {
	return &Service{
		DB:           db,
		Locks:        locks,
		Carts:        carts,
		Matcher:      matcher,
		Events:       ev,
		Config:       cfg.Matching,
		DiscountRate: decimal.NewFromFloat(cfg.Commitment.DiscountRate),
		LockWait:     cfg.Redis.LockWait,
		StatsWindow:  statsWindow(cfg),
		Logger:       log,
		Now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) withUserLock(ctx context.Context, userID string, fn func() error) error {
	owner := uuid.NewString()
	ok, err := s.Locks.Obtain(ctx, lock.UserKey(userID), owner, s.LockWait)
	if err != nil {
		return fmt.Errorf("lock user %s: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("user %s: %w", userID, models.ErrBusy)
	}
	defer func() {
		if err := s.Locks.Unlock(context.WithoutCancel(ctx), lock.UserKey(userID), owner); err != nil {
			s.Logger.Warn("QUEUE", fmt.Sprintf("Failed to release user lock for %s: %v", userID, err))
		}
	}()
	return fn()
}

// Enqueue places the user's cart in the buddy queue and immediately tries
// to match it. A live WAITING entry of the same user is refreshed in place.
func (s *Service) Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.EnqueueResult, error) {
	if err := req.Validate(s.Config.MaxTimeoutMinutes); err != nil {
		return nil, err
	}
	if req.TimeoutMinutes == 0 {
		req.TimeoutMinutes = s.Config.DefaultTimeoutMinutes
	}

	var (
		entry     *models.BuddyQueueEntry
		refreshed bool
	)
	err := s.withUserLock(ctx, req.UserID, func() error {
		active, err := s.Carts.IsCartActive(ctx, req.UserID, req.CartID)
		if err != nil {
			return err
		}
		if !active {
			return fmt.Errorf("cart %s: %w", req.CartID, models.ErrCartInactive)
		}
		totals, err := s.Carts.GetCartTotals(ctx, req.UserID, req.CartID)
		if err != nil {
			return err
		}

		now := s.Now()
		var stale *models.BuddyQueueEntry
		err = s.DB.RunInTx(ctx, func(ctx context.Context, tx *storage.DB) error {
			existing, err := tx.FindWaitingEntryByUser(ctx, req.UserID)
			if err != nil {
				return err
			}
			if existing != nil && !existing.ExpiredAt(now) {
				applyRequest(existing, req, totals, s.Config.BucketPrecision, now)
				entry, refreshed = existing, true
				return tx.RefreshQueueEntry(ctx, existing)
			}
			if existing != nil {
				if err := tx.MarkEntryTimedOut(ctx, existing.ID, now); err != nil {
					return err
				}
				stale = existing
			}
			entry = &models.BuddyQueueEntry{
				ID:     uuid.NewString(),
				UserID: req.UserID,
				Status: models.BuddyWaiting,
			}
			applyRequest(entry, req, totals, s.Config.BucketPrecision, now)
			return tx.InsertQueueEntry(ctx, entry)
		})
		if err != nil {
			return err
		}
		if stale != nil {
			s.Logger.LogQueue("TIMED_OUT", stale.ID, "Expired entry replaced by new enqueue")
			_ = s.publishTimedOut(ctx, stale, now)
		}
		return nil
	})
	monitoring.TrackQueueOperation("enqueue", err)
	if err != nil {
		s.Logger.Error("QUEUE", fmt.Sprintf("Enqueue failed for user %s: %v", req.UserID, err))
		return nil, err
	}

	action := "ENQUEUED"
	if refreshed {
		action = "REFRESHED"
	}
	s.Logger.LogQueue(action, entry.ID, fmt.Sprintf("User %s waiting at bucket %s for %d minutes", entry.UserID, entry.LocationHash, entry.TimeoutMinutes))

	result := &models.EnqueueResult{Refreshed: refreshed}
	order, err := s.Matcher.Match(ctx, entry.ID)
	if err != nil {
		// The entry is queued; the sweeper retries the match.
		s.Logger.Warn("MATCH", fmt.Sprintf("Immediate match for %s failed: %v", entry.ID, err))
	}
	if order != nil {
		result.ClubbedOrder = order
		entry.Status = models.BuddyMatched
		entry.MatchedOrderID = order.ID
	}
	result.Entry = toStatus(entry, s.Now())
	return result, nil
}

func (s *Service) publishTimedOut(ctx context.Context, entry *models.BuddyQueueEntry, now time.Time) error {
	if s.Events == nil {
		return nil
	}
	return s.Events.QueueTimedOut(ctx, eventFor(entry, now))
}

func applyRequest(e *models.BuddyQueueEntry, req models.EnqueueRequest, totals models.CartTotals, precision int, now time.Time) {
	e.CartID = req.CartID
	e.Lat = req.Lat
	e.Lng = req.Lng
	e.LocationHash = geo.Bucket(req.Lat, req.Lng, precision)
	e.ValueTotal = totals.ValueTotal
	e.WeightTotal = totals.WeightTotal
	e.TimeoutMinutes = req.TimeoutMinutes
	e.CreatedAt = now
}

func toStatus(e *models.BuddyQueueEntry, now time.Time) models.QueueStatus {
	st := models.QueueStatus{
		EntryID:        e.ID,
		UserID:         e.UserID,
		CartID:         e.CartID,
		Status:         e.Status,
		LocationHash:   e.LocationHash,
		CreatedAt:      e.CreatedAt,
		Deadline:       e.Deadline(),
		MatchedOrderID: e.MatchedOrderID,
	}
	if e.Status == models.BuddyWaiting {
		st.RemainingMinutes = e.RemainingMinutes(now)
	}
	return st
}

func (s *Service) ownedEntry(ctx context.Context, userID, entryID string) (*models.BuddyQueueEntry, error) {
	entry, err := s.DB.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != userID {
		return nil, fmt.Errorf("queue entry %s: %w", entryID, models.ErrNotFound)
	}
	return entry, nil
}

func (s *Service) GetQueueStatus(ctx context.Context, userID, entryID string) (*models.QueueStatus, error) {
	entry, err := s.ownedEntry(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	st := toStatus(entry, s.Now())
	return &st, nil
}

// LeaveQueue removes a WAITING entry. Leaving an entry that already timed
// out succeeds without touching it; the sweeper purges it after the
// retention window. Matched entries belong to a clubbed order and must be
// cancelled through the split payment flow.
func (s *Service) LeaveQueue(ctx context.Context, userID, entryID string) error {
	action := "LEFT"
	err := s.withUserLock(ctx, userID, func() error {
		entry, err := s.ownedEntry(ctx, userID, entryID)
		if err != nil {
			return err
		}
		for {
			switch entry.Status {
			case models.BuddyMatched:
				return fmt.Errorf("queue entry %s is matched: %w", entryID, models.ErrAlreadyTerminal)
			case models.BuddyTimedOut:
				action = "LEFT_TIMED_OUT"
				return nil
			}
			err := s.DB.DeleteQueueEntry(ctx, entryID, models.BuddyWaiting)
			if !errors.Is(err, models.ErrConflict) {
				return err
			}
			// resolved meanwhile; re-read and answer for the new status
			if entry, err = s.DB.GetQueueEntry(ctx, entryID); err != nil {
				return err
			}
		}
	})
	monitoring.TrackQueueOperation("leave", err)
	if err != nil {
		return err
	}
	s.Logger.LogQueue(action, entryID, fmt.Sprintf("User %s left the queue", userID))
	return nil
}

// ExtendTimeout adds minutes to a live WAITING entry, capped at the maximum timeout.
func (s *Service) ExtendTimeout(ctx context.Context, userID, entryID string, additional int) (*models.QueueStatus, error) {
	if additional <= 0 {
		return nil, fmt.Errorf("%w: additional_minutes must be positive", models.ErrInvalidRequest)
	}

	var entry *models.BuddyQueueEntry
	err := s.withUserLock(ctx, userID, func() error {
		var err error
		entry, err = s.ownedEntry(ctx, userID, entryID)
		if err != nil {
			return err
		}
		if entry.Status != models.BuddyWaiting {
			return fmt.Errorf("queue entry %s is %s: %w", entryID, entry.Status, models.ErrAlreadyTerminal)
		}
		if entry.ExpiredAt(s.Now()) {
			return fmt.Errorf("queue entry %s: %w", entryID, models.ErrDeadlinePassed)
		}
		timeout := entry.TimeoutMinutes + additional
		if max := s.Config.MaxTimeoutMinutes; max > 0 && timeout > max {
			timeout = max
		}
		if err := s.DB.ExtendQueueEntry(ctx, entryID, timeout); err != nil {
			if errors.Is(err, models.ErrConflict) {
				return fmt.Errorf("queue entry %s was resolved meanwhile: %w", entryID, models.ErrAlreadyTerminal)
			}
			return err
		}
		entry.TimeoutMinutes = timeout
		return nil
	})
	monitoring.TrackQueueOperation("extend", err)
	if err != nil {
		return nil, err
	}
	s.Logger.LogQueue("EXTENDED", entryID, fmt.Sprintf("Timeout now %d minutes", entry.TimeoutMinutes))
	st := toStatus(entry, s.Now())
	return &st, nil
}

// CheckReadiness reports whether other users are waiting in the caller's
// geo bucket right now. It never mutates the queue.
func (s *Service) CheckReadiness(ctx context.Context, req models.ReadinessRequest) (*models.Readiness, error) {
	if err := models.ValidateCoordinates(req.Lat, req.Lng); err != nil {
		return nil, err
	}
	now := s.Now()
	hash := geo.Bucket(req.Lat, req.Lng, s.Config.BucketPrecision)

	entries, err := s.DB.ListWaitingEntriesByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	nearby := 0
	for i := range entries {
		if entries[i].UserID != req.UserID && !entries[i].ExpiredAt(now) {
			nearby++
		}
	}

	readiness := &models.Readiness{
		CanClub:              nearby > 0,
		NearbyUsersCount:     nearby,
		EstimatedWaitMinutes: s.Config.DefaultTimeoutMinutes,
		PotentialDiscount:    decimal.Zero,
	}
	if nearby > 0 && req.CartID != "" {
		totals, err := s.Carts.GetCartTotals(ctx, req.UserID, req.CartID)
		if err != nil {
			return nil, err
		}
		readiness.PotentialDiscount = totals.ValueTotal.Mul(s.DiscountRate).Round(2)
	}
	return readiness, nil
}
