package sse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("no notification received")
		return Notification{}
	}
}

func TestHub_DeliversToNamedUsers(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := hub.Subscribe(ctx, "alice")
	bob := hub.Subscribe(ctx, "bob")
	carol := hub.Subscribe(ctx, "carol")

	require.NoError(t, hub.Publish(ctx, "club.matched", "club-1", []byte(`{"clubbed_order_id":"club-1","user_ids":["alice","bob"]}`)))
	n := receive(t, alice)
	assert.Equal(t, "club.matched", n.Topic)
	assert.Equal(t, "club-1", n.Key)
	assert.JSONEq(t, `{"clubbed_order_id":"club-1","user_ids":["alice","bob"]}`, string(n.Data))
	receive(t, bob)

	require.NoError(t, hub.Publish(ctx, "queue.timed-out", "entry-1", []byte(`{"entry_id":"entry-1","user_id":"carol"}`)))
	receive(t, carol)

	require.NoError(t, hub.Publish(ctx, "delivery.requested", "club-1", []byte(`{"drops":[{"user_id":"carol"}]}`)))
	receive(t, carol)

	assert.Empty(t, alice)
	assert.Error(t, hub.Publish(ctx, "club.matched", "x", []byte("not json")))
}

func TestHub_UnsubscribesOnCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, "alice")
	assert.Equal(t, 1, hub.ClientCount("alice"))

	cancel()
	assert.Eventually(t, func() bool { return hub.ClientCount("alice") == 0 }, time.Second, 10*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)
}

func TestHub_SlowClientDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub.Subscribe(ctx, "alice")

	for i := 0; i < 50; i++ {
		require.NoError(t, hub.Publish(ctx, "club.matched", "club-1", []byte(`{"user_ids":["alice"]}`)))
	}
}
