package buddy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/monitoring"
	"ms-buddycart/internal/storage"
)

// GroupMaintainer collapses clubbed orders whose deadlines passed and
// finishes cancellations whose settlement was interrupted.
type GroupMaintainer interface {
	ExpireOverdueGroups(ctx context.Context) (int, error)
	SettlePending(ctx context.Context) (int, error)
}

// Sweeper runs the periodic queue maintenance pass on its own goroutine.
type Sweeper struct {
	DB        *storage.DB
	Matcher   EntryMatcher
	Groups    GroupMaintainer
	Events    QueueEvents
	Interval  time.Duration
	Retention time.Duration
	Logger    *logger.Logger
	Now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(db *storage.DB, matcher EntryMatcher, groups GroupMaintainer, ev QueueEvents, cfg config.SweeperConfig, log *logger.Logger) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		DB:        db,
		Matcher:   matcher,
		Groups:    groups,
		Events:    ev,
		Interval:  interval,
		Retention: cfg.Retention,
		Logger:    log,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the sweep loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	s.Logger.LogProcess("SWEEPER", fmt.Sprintf("Started with interval %s", s.Interval))
}

// Stop cancels the loop and waits for the current pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.Logger.LogProcess("SWEEPER", "Stopped")
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.safeRun(ctx)
		}
	}
}

func (s *Sweeper) safeRun(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("SWEEPER", fmt.Sprintf("Sweep pass panicked: %v", r))
		}
	}()
	s.RunOnce(ctx)
}

// SweepReport counts what one pass changed.
type SweepReport struct {
	Expired         int
	Purged          int
	Matched         int
	GroupsCollapsed int
	Settled         int
	Errors          int
}

// RunOnce performs a single maintenance pass. Every step runs even when an
// earlier one failed; failures are logged and retried on the next pass.
func (s *Sweeper) RunOnce(ctx context.Context) SweepReport {
	start := time.Now()
	var report SweepReport

	step := func(name string, fn func() error) {
		err := fn()
		monitoring.TrackSweepStep(name, err)
		if err != nil {
			report.Errors++
			s.Logger.Error("SWEEPER", fmt.Sprintf("Step %s failed: %v", name, err))
		}
	}

	step("expire", func() error {
		n, err := s.expireOverdue(ctx)
		report.Expired = n
		return err
	})
	step("purge", func() error {
		if s.Retention <= 0 {
			return nil
		}
		n, err := s.DB.PurgeResolvedEntries(ctx, s.Now().Add(-s.Retention))
		report.Purged = n
		return err
	})
	step("rematch", func() error {
		n, err := s.rematch(ctx)
		report.Matched = n
		return err
	})
	if s.Groups != nil {
		step("collapse", func() error {
			n, err := s.Groups.ExpireOverdueGroups(ctx)
			report.GroupsCollapsed = n
			return err
		})
		step("settle", func() error {
			n, err := s.Groups.SettlePending(ctx)
			report.Settled = n
			return err
		})
	}
	step("metrics", func() error {
		counts, err := s.DB.CountEntriesByStatus(ctx)
		if err != nil {
			return err
		}
		monitoring.SetQueueSizes(counts)
		return nil
	})

	monitoring.TrackSweep(time.Since(start))
	if report.Expired+report.Purged+report.Matched+report.GroupsCollapsed+report.Settled > 0 {
		s.Logger.LogProcess("SWEEPER", fmt.Sprintf("Pass done: expired=%d purged=%d matched=%d collapsed=%d settled=%d errors=%d",
			report.Expired, report.Purged, report.Matched, report.GroupsCollapsed, report.Settled, report.Errors))
	}
	return report
}

func (s *Sweeper) expireOverdue(ctx context.Context) (int, error) {
	now := s.Now()
	waiting, err := s.DB.ListWaitingEntries(ctx)
	if err != nil {
		return 0, err
	}
	expired := 0
	var firstErr error
	for i := range waiting {
		if !waiting[i].ExpiredAt(now) {
			continue
		}
		ok, err := expireEntry(ctx, s.DB, s.Events, s.Logger, &waiting[i], now)
		if err != nil {
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

func (s *Sweeper) rematch(ctx context.Context) (int, error) {
	waiting, err := s.DB.ListWaitingEntries(ctx)
	if err != nil {
		return 0, err
	}
	matched := 0
	var firstErr error
	for _, e := range waiting {
		if ctx.Err() != nil {
			return matched, ctx.Err()
		}
		// Members already pulled into a group by an earlier seed are skipped by Match.
		order, err := s.Matcher.Match(ctx, e.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if order != nil {
			matched++
		}
	}
	return matched, firstErr
}
