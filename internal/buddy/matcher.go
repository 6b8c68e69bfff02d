package buddy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/events"
	"ms-buddycart/internal/geo"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/monitoring"
	"ms-buddycart/internal/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

type Locker interface {
	Obtain(ctx context.Context, key, owner string, wait time.Duration) (bool, error)
	Unlock(ctx context.Context, key, owner string) error
}

// Assembler turns a matched group into a clubbed order atomically.
type Assembler interface {
	Assemble(ctx context.Context, entries []models.BuddyQueueEntry) (*models.ClubbedOrder, error)
}

type QueueEvents interface {
	QueueTimedOut(ctx context.Context, e events.QueueTimedOut) error
}

type Matcher struct {
	DB        *storage.DB
	Locks     Locker
	Assembler Assembler
	Events    QueueEvents
	Config    config.MatchingConfig
	Logger    *logger.Logger
	Now       func() time.Time
}

func NewMatcher(db *storage.DB, locks Locker, assembler Assembler, ev QueueEvents, cfg config.MatchingConfig, log *logger.Logger) *Matcher {
	return &Matcher{
		DB:        db,
		Locks:     locks,
		Assembler: assembler,
		Events:    ev,
		Config:    cfg,
		Logger:    log,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Match tries to form a group around the given entry. It returns nil, nil
// when the entry is no longer waiting, has expired, another matcher already
// holds it, no compatible buddy is available, or the group's members stayed
// held by other assemblies through every retry.
func (m *Matcher) Match(ctx context.Context, entryID string) (*models.ClubbedOrder, error) {
	owner := uuid.NewString()
	ok, err := m.Locks.Obtain(ctx, lock.MatchKey(entryID), owner, 0)
	if err != nil {
		monitoring.TrackMatch("error", 0)
		return nil, fmt.Errorf("lock match %s: %w", entryID, err)
	}
	if !ok {
		monitoring.TrackMatch("skipped", 0)
		m.Logger.LogMatch(entryID, "Another matcher holds this entry, skipping")
		return nil, nil
	}
	defer func() {
		if err := m.Locks.Unlock(context.WithoutCancel(ctx), lock.MatchKey(entryID), owner); err != nil {
			m.Logger.Warn("MATCH", fmt.Sprintf("Failed to release match lock for %s: %v", entryID, err))
		}
	}()

	var (
		order    *models.ClubbedOrder
		size     int
		attempts int
	)
	err = backoff.Retry(func() error {
		var err error
		order, size, err = m.matchOnce(ctx, entryID)
		if errors.Is(err, models.ErrConflict) {
			attempts++
			m.Logger.LogMatch(entryID, fmt.Sprintf("Group changed during assembly (attempt %d)", attempts))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, m.conflictBackOff(ctx))

	switch {
	case errors.Is(err, models.ErrConflict):
		// Still contended: the entry stays WAITING and the sweeper tries again.
		m.Logger.LogMatch(entryID, fmt.Sprintf("Members still held by other assemblies after %d attempts", attempts))
		monitoring.TrackMatch("insufficient", 0)
		return nil, nil
	case err != nil:
		monitoring.TrackMatch("error", 0)
		return nil, err
	case order == nil:
		monitoring.TrackMatch("insufficient", 0)
	default:
		monitoring.TrackMatch("matched", size)
	}
	return order, nil
}

// conflictBackOff spaces rescans with jittered exponential waits.
func (m *Matcher) conflictBackOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if m.Config.ConflictBackoff > 0 {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = m.Config.ConflictBackoff
		exp.MaxInterval = 20 * m.Config.ConflictBackoff
		exp.MaxElapsedTime = 0
		b = exp
	}
	retries := m.Config.ConflictRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

func (m *Matcher) matchOnce(ctx context.Context, entryID string) (*models.ClubbedOrder, int, error) {
	now := m.Now()

	seed, err := m.DB.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, 0, err
	}
	if seed.Status != models.BuddyWaiting {
		return nil, 0, nil
	}
	if seed.ExpiredAt(now) {
		if _, err := expireEntry(ctx, m.DB, m.Events, m.Logger, seed, now); err != nil {
			return nil, 0, err
		}
		return nil, 0, nil
	}

	waiting, err := m.DB.ListWaitingEntries(ctx)
	if err != nil {
		return nil, 0, err
	}

	group, expired := SelectGroup(*seed, waiting, now, m.Config)
	for i := range expired {
		if _, err := expireEntry(ctx, m.DB, m.Events, m.Logger, &expired[i], now); err != nil {
			m.Logger.Warn("MATCH", fmt.Sprintf("Failed to expire entry %s: %v", expired[i].ID, err))
		}
	}

	if len(group) < 2 {
		m.Logger.LogMatch(entryID, "No compatible buddies nearby")
		return nil, 0, nil
	}

	m.Logger.LogMatch(entryID, fmt.Sprintf("Found group of %d, assembling", len(group)))
	order, err := m.Assembler.Assemble(ctx, group)
	if err != nil {
		return nil, 0, err
	}
	return order, len(group), nil
}

// SelectGroup runs greedy first-fit over candidates in the order given
// (oldest first). A candidate joins when it is within the radius of every
// member already accepted, belongs to a user not yet in the group and keeps
// the combined weight under the delivery limit. Expired candidates are
// returned separately so the caller can time them out.
func SelectGroup(seed models.BuddyQueueEntry, candidates []models.BuddyQueueEntry, now time.Time, cfg config.MatchingConfig) (group, expired []models.BuddyQueueEntry) {
	maxSize := cfg.MaxGroupSize
	if maxSize < 2 {
		maxSize = 2
	}

	group = []models.BuddyQueueEntry{seed}
	users := map[string]bool{seed.UserID: true}
	weight := seed.WeightTotal

	for _, c := range candidates {
		if c.ID == seed.ID || c.Status != models.BuddyWaiting {
			continue
		}
		if c.ExpiredAt(now) {
			expired = append(expired, c)
			continue
		}
		if len(group) >= maxSize || users[c.UserID] {
			continue
		}
		if cfg.MaxDeliveryWeightKg > 0 && weight+c.WeightTotal > cfg.MaxDeliveryWeightKg {
			continue
		}
		if !withinAll(c, group, cfg.RadiusMeters) {
			continue
		}
		group = append(group, c)
		users[c.UserID] = true
		weight += c.WeightTotal
	}
	return group, expired
}

func withinAll(c models.BuddyQueueEntry, group []models.BuddyQueueEntry, radius float64) bool {
	p := geo.Point{Lat: c.Lat, Lng: c.Lng}
	for _, member := range group {
		if !geo.Within(p, geo.Point{Lat: member.Lat, Lng: member.Lng}, radius) {
			return false
		}
	}
	return true
}

// expireEntry moves a WAITING entry to TIMED_OUT and announces it. Losing
// the race to another resolver is not an error.
func expireEntry(ctx context.Context, db *storage.DB, ev QueueEvents, log *logger.Logger, entry *models.BuddyQueueEntry, now time.Time) (bool, error) {
	if err := db.MarkEntryTimedOut(ctx, entry.ID, now); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	log.LogQueue("TIMED_OUT", entry.ID, fmt.Sprintf("Entry for user %s expired after %d minutes", entry.UserID, entry.TimeoutMinutes))
	if ev != nil {
		_ = ev.QueueTimedOut(ctx, eventFor(entry, now))
	}
	return true, nil
}

func eventFor(entry *models.BuddyQueueEntry, now time.Time) events.QueueTimedOut {
	return events.QueueTimedOut{
		EntryID:    entry.ID,
		UserID:     entry.UserID,
		CartID:     entry.CartID,
		OccurredAt: now,
	}
}
