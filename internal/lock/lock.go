package lock

import (
	"context"
	"fmt"
	"slices"
	"time"

	"ms-buddycart/internal/logger"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "buddy_lock:"

// Key helpers keep lock names consistent across services.
func QueueKey(entryID string) string { return "queue:" + entryID }
func MatchKey(entryID string) string { return "match:" + entryID }
func UserKey(userID string) string   { return "user:" + userID }
func ClubKey(orderID string) string  { return "club:" + orderID }

// unlockScript deletes the key only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Redis struct {
	Client *redis.Client
	TTL    time.Duration
	// PollInterval is how often Obtain retries while waiting.
	PollInterval time.Duration
	Logger       *logger.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		Client:       client,
		TTL:          ttl,
		PollInterval: 25 * time.Millisecond,
		Logger:       log,
	}
}

// Lock tries once to take key for owner.
func (r *Redis) Lock(ctx context.Context, key, owner string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, keyPrefix+key, owner, r.TTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	return ok, nil
}

// Obtain retries Lock until it succeeds, wait elapses or ctx is done.
// A zero wait is a single attempt.
func (r *Redis) Obtain(ctx context.Context, key, owner string, wait time.Duration) (bool, error) {
	deadline := time.Now().Add(wait)
	for {
		ok, err := r.Lock(ctx, key, owner)
		if err != nil || ok {
			return ok, err
		}
		if !time.Now().Before(deadline) {
			r.Logger.Debug("LOCK", fmt.Sprintf("Lock %s busy, gave up after %s", key, wait))
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(r.PollInterval):
		}
	}
}

// Unlock releases key if owner still holds it. Releasing a lock that expired
// or was taken over is not an error.
func (r *Redis) Unlock(ctx context.Context, key, owner string) error {
	if err := unlockScript.Run(ctx, r.Client, []string{keyPrefix + key}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("redis unlock %s: %w", key, err)
	}
	return nil
}

// LockAll takes every key or none, in sorted key order so that two callers
// with overlapping key sets cannot both fail. On failure the keys already
// taken are released.
func (r *Redis) LockAll(ctx context.Context, keys []string, owner string) (bool, error) {
	ordered := slices.Clone(keys)
	slices.Sort(ordered)
	locked := make([]string, 0, len(ordered))
	for _, key := range ordered {
		ok, err := r.Lock(ctx, key, owner)
		if err != nil || !ok {
			if relErr := r.UnlockAll(context.WithoutCancel(ctx), locked, owner); relErr != nil {
				r.Logger.Warn("LOCK", fmt.Sprintf("Rollback of %d locks failed: %v", len(locked), relErr))
			}
			return false, err
		}
		locked = append(locked, key)
	}
	return true, nil
}

func (r *Redis) UnlockAll(ctx context.Context, keys []string, owner string) error {
	var firstErr error
	for _, key := range keys {
		if err := r.Unlock(ctx, key, owner); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Holder returns the current owner token of key, or "" if it is free.
func (r *Redis) Holder(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, keyPrefix+key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}
