//go:build integration

package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ms-buddycart/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedisContainer(t *testing.T) *redis.Client {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, client.Ping(ctx).Err())
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLock_RealServer(t *testing.T) {
	client := setupRedisContainer(t)
	r := NewRedis(client, 500*time.Millisecond, logger.Nop())
	ctx := context.Background()

	ok, err := r.LockAll(ctx, []string{QueueKey("e1"), QueueKey("e2")}, "owner-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Lock(ctx, QueueKey("e2"), "owner-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// lua compare-and-delete leaves foreign locks alone
	require.NoError(t, r.Unlock(ctx, QueueKey("e1"), "owner-b"))
	holder, err := r.Holder(ctx, QueueKey("e1"))
	require.NoError(t, err)
	assert.Equal(t, "owner-a", holder)

	time.Sleep(time.Second)
	ok, err = r.Obtain(ctx, QueueKey("e1"), "owner-b", 0)
	require.NoError(t, err)
	assert.True(t, ok, "lock should expire after its TTL")
}
