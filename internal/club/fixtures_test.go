package club

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/events"
	"ms-buddycart/internal/lock"
	"ms-buddycart/internal/logger"
	"ms-buddycart/internal/models"
	"ms-buddycart/internal/payment"
	"ms-buddycart/internal/storage"
	"ms-buddycart/internal/storage/storagetest"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topics: config.TopicConfig{
			ClubMatched:       "club.matched",
			ClubCancelled:     "club.cancelled",
			QueueTimedOut:     "queue.timed-out",
			DeliveryRequested: "delivery.requested",
			DeliveryStatus:    "delivery.status",
		}},
		Matching: config.MatchingConfig{
			RadiusMeters:          300,
			MaxGroupSize:          4,
			BucketPrecision:       3,
			DefaultTimeoutMinutes: 5,
			MaxTimeoutMinutes:     60,
			ConflictRetries:       3,
		},
		Commitment: config.CommitmentConfig{
			CommitmentWindow: 10 * time.Minute,
			PaymentWindow:    15 * time.Minute,
			DiscountRate:     0.05,
			DeliveryFee:      40,
		},
		Cancellation: config.CancellationConfig{
			FeeRate:           0.10,
			FeeMin:            50,
			FeeMax:            200,
			CompensationShare: 0.60,
		},
	}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeCarts struct {
	mu     sync.Mutex
	totals map[string]models.CartTotals
}

func (f *fakeCarts) put(cartID string, value decimal.Decimal, weight float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totals[cartID] = models.CartTotals{CartID: cartID, ValueTotal: value, WeightTotal: weight, ItemCount: 1}
}

func (f *fakeCarts) GetCartTotals(_ context.Context, _, cartID string) (models.CartTotals, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.totals[cartID]
	if !ok {
		return models.CartTotals{}, fmt.Errorf("cart %s: %w", cartID, models.ErrNotFound)
	}
	return t, nil
}

func (f *fakeCarts) IsCartActive(ctx context.Context, userID, cartID string) (bool, error) {
	_, err := f.GetCartTotals(ctx, userID, cartID)
	return err == nil, nil
}

type harness struct {
	cfg       *config.Config
	db        *storage.DB
	locks     *lock.Redis
	redis     *miniredis.Miniredis
	carts     *fakeCarts
	clock     *clock
	recorder  *events.Recorder
	publisher *events.Publisher
	assembler *Assembler
	tracker   *CommitmentTracker
	resolver  *Resolver
}

func newHarness(t *testing.T) *harness {
	cfg := testConfig()
	db := storagetest.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	locks := lock.NewRedis(client, time.Minute, logger.Nop())

	clk := &clock{now: testNow}
	carts := &fakeCarts{totals: map[string]models.CartTotals{}}
	rec := events.NewRecorder(logger.Nop())
	pub := events.NewPublisher(rec, cfg.Kafka.Topics, logger.Nop())
	gateway := payment.NewGateway(nil, logger.Nop())

	asm := NewAssembler(db, locks, carts, pub, cfg.Commitment.DiscountRate, cfg.Commitment.CommitmentWindow, 0, logger.Nop())
	asm.Now = clk.Now
	tracker := NewCommitmentTracker(db, locks, gateway, pub, cfg, logger.Nop())
	tracker.Now = clk.Now
	resolver := NewResolver(db, locks, gateway, pub, cfg, logger.Nop())
	resolver.Now = clk.Now

	return &harness{
		cfg:       cfg,
		db:        db,
		locks:     locks,
		redis:     mr,
		carts:     carts,
		clock:     clk,
		recorder:  rec,
		publisher: pub,
		assembler: asm,
		tracker:   tracker,
		resolver:  resolver,
	}
}

// waitingEntry queues userID at a fixed point near Mumbai Central with a cart worth value.
func (h *harness) waitingEntry(t *testing.T, userID string, value string) models.BuddyQueueEntry {
	t.Helper()
	cartID := "cart-" + userID
	h.carts.put(cartID, decimal.RequireFromString(value), 1.5)
	e := models.BuddyQueueEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		CartID:         cartID,
		Lat:            19.0760,
		Lng:            72.8777,
		LocationHash:   "bucket01",
		ValueTotal:     decimal.RequireFromString(value),
		WeightTotal:    1.5,
		TimeoutMinutes: 5,
		Status:         models.BuddyWaiting,
		CreatedAt:      h.clock.Now(),
	}
	require.NoError(t, h.db.InsertQueueEntry(context.Background(), &e))
	return e
}

// group assembles one clubbed order with a participant per value and returns
// its user orders keyed by user id (user-1, user-2, ...).
func (h *harness) group(t *testing.T, values ...string) (*models.ClubbedOrder, map[string]models.UserOrder) {
	t.Helper()
	ctx := context.Background()
	var entries []models.BuddyQueueEntry
	for i, v := range values {
		entries = append(entries, h.waitingEntry(t, fmt.Sprintf("user-%d", i+1), v))
	}
	order, err := h.assembler.Assemble(ctx, entries)
	require.NoError(t, err)

	uos, err := h.db.ListUserOrders(ctx, order.ID)
	require.NoError(t, err)
	byUser := map[string]models.UserOrder{}
	for _, uo := range uos {
		byUser[uo.UserID] = uo
	}
	return order, byUser
}

func commitReq(uo models.UserOrder, method models.PaymentMethod) models.CommitRequest {
	return models.CommitRequest{
		UserOrderID:     uo.ID,
		PaymentMethod:   method,
		DeliveryAddress: "Flat 4, Marine Drive",
		DeliveryPhone:   "+91-9800000000",
	}
}

// commitAll commits every user order with the given method.
func (h *harness) commitAll(t *testing.T, uos map[string]models.UserOrder, method models.PaymentMethod) {
	t.Helper()
	for userID, uo := range uos {
		_, err := h.tracker.Commit(context.Background(), userID, commitReq(uo, method))
		require.NoError(t, err)
	}
}

func (h *harness) confirm(t *testing.T, uo models.UserOrder) *models.PaymentTransaction {
	t.Helper()
	txn, err := h.tracker.ConfirmPayment(context.Background(), uo.UserID, models.ConfirmRequest{
		UserOrderID:           uo.ID,
		ExternalTransactionID: "pi_" + uo.UserID,
	})
	require.NoError(t, err)
	return txn
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
