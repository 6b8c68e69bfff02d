package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// tokenExpiryBuffer refreshes cached tokens this long before they expire.
const tokenExpiryBuffer = 60 * time.Second

type TokenCache struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (tc *TokenCache) IsValid(now time.Time) bool {
	if tc == nil || tc.Token == "" {
		return false
	}
	return now.Add(tokenExpiryBuffer).Before(tc.ExpiresAt)
}

// RedisTokenCache shares service tokens between replicas.
type RedisTokenCache struct {
	Client *redis.Client
	Key    string
}

func NewRedisTokenCache(client *redis.Client, clientID string) *RedisTokenCache {
	return &RedisTokenCache{Client: client, Key: "m2m_token:" + clientID}
}

// GetToken returns the cached token, or nil when absent or about to expire.
func (c *RedisTokenCache) GetToken(ctx context.Context) (*TokenCache, error) {
	raw, err := c.Client.Get(ctx, c.Key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token from Redis: %w", err)
	}

	var tc TokenCache
	if err := json.Unmarshal([]byte(raw), &tc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token cache: %w", err)
	}
	if !tc.IsValid(time.Now()) {
		return nil, nil
	}
	return &tc, nil
}

func (c *RedisTokenCache) SetToken(ctx context.Context, token string, expiresIn time.Duration) error {
	tc := TokenCache{Token: token, ExpiresAt: time.Now().Add(expiresIn)}
	raw, err := json.Marshal(tc)
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	if err := c.Client.Set(ctx, c.Key, raw, expiresIn).Err(); err != nil {
		return fmt.Errorf("failed to store token in Redis: %w", err)
	}
	return nil
}
