package buddy

import (
	"context"
	"math"
	"slices"
	"time"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/geo"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/models"
)

const (
	defaultAvgWaitSeconds = 240
	defaultSuccessRate    = 75.0
)

var defaultPeakHours = []string{"12:00-14:00", "18:00-20:00"}

type lockHolder interface {
	Holder(ctx context.Context, key string) (string, error)
}

// statsWindow bounds the statistics window by the queue retention, since
// purged entries can no longer be counted.
func statsWindow(cfg *config.Config) time.Duration {
	window := cfg.Matching.StatsWindow
	if retention := cfg.Sweeper.Retention; retention > 0 && (window <= 0 || window > retention) {
		window = retention
	}
	return window
}

func (s *Service) statsRadius() float64 {
	if s.Config.StatsRadiusMeters > 0 {
		return s.Config.StatsRadiusMeters
	}
	return s.Config.RadiusMeters
}

// QueueStats summarises queue activity around a location: other users
// waiting nearby now, plus the match rate, average wait and busy meal times
// of entries resolved inside the statistics window.
func (s *Service) QueueStats(ctx context.Context, req models.QueueStatsRequest) (*models.QueueStats, error) {
	if err := models.ValidateCoordinates(req.Lat, req.Lng); err != nil {
		return nil, err
	}
	now := s.Now()
	here := geo.Point{Lat: req.Lat, Lng: req.Lng}
	radius := s.statsRadius()

	waiting, err := s.DB.ListWaitingEntries(ctx)
	if err != nil {
		return nil, err
	}
	stats := &models.QueueStats{
		NearbyUsers:    countNearby(waiting, here, radius, req.UserID, now),
		AvgWaitSeconds: defaultAvgWaitSeconds,
		SuccessRate:    defaultSuccessRate,
		WindowHours:    int(s.StatsWindow / time.Hour),
	}

	var history []models.BuddyQueueEntry
	if s.StatsWindow > 0 {
		if history, err = s.DB.ListResolvedEntriesSince(ctx, now.Add(-s.StatsWindow)); err != nil {
			return nil, err
		}
	}

	var (
		matched int
		waited  time.Duration
		byHour  = map[int]int{}
	)
	for _, e := range history {
		if !geo.Within(here, geo.Point{Lat: e.Lat, Lng: e.Lng}, radius) {
			continue
		}
		stats.SampleSize++
		byHour[e.CreatedAt.UTC().Hour()]++
		if e.Status == models.BuddyMatched {
			matched++
			if !e.ResolvedAt.IsZero() {
				waited += e.ResolvedAt.Sub(e.CreatedAt)
			}
		}
	}
	if stats.SampleSize > 0 {
		stats.SuccessRate = math.Round(float64(matched)/float64(stats.SampleSize)*1000) / 10
	}
	if matched > 0 {
		stats.AvgWaitSeconds = int((waited / time.Duration(matched)).Seconds())
	}
	stats.PeakHours = peakHours(byHour)
	return stats, nil
}

// DetailedStatus is GetQueueStatus plus context. A live WAITING entry gets
// the nearby user count, the size of the group the matcher would form right
// now (nothing is assembled) and an estimated time to a match. A MATCHED
// entry gets its group size and the discount rate it was granted.
func (s *Service) DetailedStatus(ctx context.Context, userID, entryID string) (*models.DetailedQueueStatus, error) {
	entry, err := s.ownedEntry(ctx, userID, entryID)
	if err != nil {
		return nil, err
	}
	now := s.Now()
	d := &models.DetailedQueueStatus{QueueStatus: toStatus(entry, now)}

	switch {
	case entry.Status == models.BuddyWaiting && !entry.ExpiredAt(now):
		waiting, err := s.DB.ListWaitingEntries(ctx)
		if err != nil {
			return nil, err
		}
		d.NearbyUsers = countNearby(waiting, geo.Point{Lat: entry.Lat, Lng: entry.Lng}, s.statsRadius(), entry.UserID, now)
		group, _ := SelectGroup(*entry, waiting, now, s.Config)
		d.PotentialMatches = len(group) - 1
		d.EstimatedMatchSeconds = estimateMatchSeconds(entry.Deadline().Sub(now), d.NearbyUsers)

		if holder, ok := s.Locks.(lockHolder); ok {
			owner, err := holder.Holder(ctx, lock.MatchKey(entry.ID))
			if err != nil {
				return nil, err
			}
			d.MatchInProgress = owner != ""
		}

	case entry.Status == models.BuddyMatched:
		members, err := s.DB.ListEntriesByMatchedOrder(ctx, entry.MatchedOrderID)
		if err != nil {
			return nil, err
		}
		d.GroupSize = len(members)
		links, err := s.DB.ListClubbedOrderUsers(ctx, entry.MatchedOrderID)
		if err != nil {
			return nil, err
		}
		for _, l := range links {
			if l.UserID == userID {
				rate := l.DiscountGiven
				d.DiscountRate = &rate
			}
		}
	}
	return d, nil
}

// countNearby counts live WAITING entries of other users within radius of here.
func countNearby(entries []models.BuddyQueueEntry, here geo.Point, radius float64, userID string, now time.Time) int {
	n := 0
	for i := range entries {
		e := &entries[i]
		if e.UserID == userID || e.Status != models.BuddyWaiting || e.ExpiredAt(now) {
			continue
		}
		if geo.Within(here, geo.Point{Lat: e.Lat, Lng: e.Lng}, radius) {
			n++
		}
	}
	return n
}

// estimateMatchSeconds guesses the time to a match from the time left and
// the crowd nearby. With nobody nearby there is no estimate.
func estimateMatchSeconds(remaining time.Duration, nearby int) int {
	secs := remaining.Seconds()
	switch {
	case secs <= 0 || nearby == 0:
		return 0
	case nearby > 2:
		return int(math.Max(30, secs*0.7))
	default:
		return int(secs)
	}
}

// peakHours names the meal windows containing hours of above-average
// activity, earliest first, at most two.
func peakHours(byHour map[int]int) []string {
	total := 0
	for _, n := range byHour {
		total += n
	}
	var out []string
	if total > 0 {
		avg := float64(total) / float64(len(byHour))
		for hour := 0; hour < 24 && len(out) < 2; hour++ {
			if float64(byHour[hour]) <= avg {
				continue
			}
			if w := mealWindow(hour); w != "" && !slices.Contains(out, w) {
				out = append(out, w)
			}
		}
	}
	if len(out) == 0 {
		return slices.Clone(defaultPeakHours)
	}
	return out
}

func mealWindow(hour int) string {
	switch {
	case hour >= 8 && hour < 10:
		return "08:00-10:00"
	case hour >= 12 && hour < 14:
		return "12:00-14:00"
	case hour >= 18 && hour < 20:
		return "18:00-20:00"
	}
	return ""
}
