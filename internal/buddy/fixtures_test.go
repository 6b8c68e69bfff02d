package buddy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/events"
	"ms-buddycart/internal/geo"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/storage"
	"ms-buddycart/internal/storage/storagetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	testNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	testTopics = config.TopicConfig{
		ClubMatched:       "club.matched",
		ClubCancelled:     "club.cancelled",
		QueueTimedOut:     "queue.timed-out",
		DeliveryRequested: "delivery.requested",
		DeliveryStatus:    "delivery.status",
	}
)

func testMatching() config.MatchingConfig {
	return config.MatchingConfig{
		RadiusMeters:          300,
		MaxGroupSize:          4,
		BucketPrecision:       3,
		DefaultTimeoutMinutes: 5,
		MaxTimeoutMinutes:     60,
		ConflictRetries:       3,
		StatsRadiusMeters:     5000,
		StatsWindow:           7 * 24 * time.Hour,
	}
}

func newLocks(t *testing.T) (*lock.Redis, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lock.NewRedis(client, time.Minute, logger.Nop()), mr
}

// fakeCarts serves cart totals from memory.
type fakeCarts struct {
	mu     sync.Mutex
	totals map[string]models.CartTotals
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{totals: map[string]models.CartTotals{}}
}

func (f *fakeCarts) put(cartID string, value int64, weight float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals[cartID] = models.CartTotals{CartID: cartID, ValueTotal: decimal.NewFromInt(value), WeightTotal: weight, ItemCount: 1}
}

func (f *fakeCarts) GetCartTotals(_ context.Context, _, cartID string) (models.CartTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.totals[cartID]
	if !ok {
		return models.CartTotals{}, models.ErrNotFound
	}
	return t, nil
}

func (f *fakeCarts) IsCartActive(_ context.Context, _, cartID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.totals[cartID]
	return ok && t.ItemCount > 0, nil
}

// markingAssembler marks every member MATCHED and records the groups it saw.
type markingAssembler struct {
	db     *storage.DB
	mu     sync.Mutex
	groups [][]models.BuddyQueueEntry
	errs   []error
}

func (a *markingAssembler) Assemble(ctx context.Context, entries []models.BuddyQueueEntry) (*models.ClubbedOrder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		return nil, err
	}
	order := &models.ClubbedOrder{ID: uuid.NewString(), Status: models.OrderPaymentPending, CreatedAt: testNow}
	for _, e := range entries {
		if err := a.db.MarkEntryMatched(ctx, e.ID, order.ID, testNow); err != nil {
			return nil, err
		}
	}
	a.groups = append(a.groups, entries)
	return order, nil
}

func (a *markingAssembler) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.groups)
}

type harness struct {
	db        *storage.DB
	locks     *lock.Redis
	carts     *fakeCarts
	assembler *markingAssembler
	recorder  *events.Recorder
	publisher *events.Publisher
	matcher   *Matcher
	service   *Service
}

func newHarness(t *testing.T) *harness {
	db := storagetest.New(t)
	locks, _ := newLocks(t)
	rec := events.NewRecorder(logger.Nop())
	pub := events.NewPublisher(rec, testTopics, logger.Nop())
	asm := &markingAssembler{db: db}

	matcher := NewMatcher(db, locks, asm, pub, testMatching(), logger.Nop())
	matcher.Now = func() time.Time { return testNow }

	cfg := &config.Config{Matching: testMatching()}
	cfg.Commitment.DiscountRate = 0.05
	cfg.Redis.LockWait = 0
	svc := NewService(db, locks, newFakeCarts(), matcher, pub, cfg, logger.Nop())
	svc.Now = func() time.Time { return testNow }

	return &harness{
		db:        db,
		locks:     locks,
		carts:     svc.Carts.(*fakeCarts),
		assembler: asm,
		recorder:  rec,
		publisher: pub,
		matcher:   matcher,
		service:   svc,
	}
}

// seedEntry inserts a WAITING entry directly, bypassing the cart service.
func seedEntry(t *testing.T, db *storage.DB, userID string, lat, lng float64, created time.Time, timeout int) *models.BuddyQueueEntry {
	t.Helper()
	e := &models.BuddyQueueEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		CartID:         "cart-" + userID,
		Lat:            lat,
		Lng:            lng,
		LocationHash:   geo.Bucket(lat, lng, 3),
		ValueTotal:     decimal.NewFromInt(500),
		WeightTotal:    1,
		TimeoutMinutes: timeout,
		Status:         models.BuddyWaiting,
		CreatedAt:      created,
	}
	require.NoError(t, db.InsertQueueEntry(context.Background(), e))
	return e
}

var errBoom = errors.New("boom")
