package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTopics = config.TopicConfig{
	ClubMatched:       "club.matched",
	ClubCancelled:     "club.cancelled",
	QueueTimedOut:     "queue.timed-out",
	DeliveryRequested: "delivery.requested",
	DeliveryStatus:    "delivery.status",
}

type failingSink struct{}

func (failingSink) Publish(context.Context, string, string, []byte) error {
	return errors.New("broker down")
}

func TestPublisher_ClubMatched(t *testing.T) {
	rec := NewRecorder(logger.Nop())
	p := NewPublisher(rec, testTopics, logger.Nop())

	err := p.ClubMatched(context.Background(), ClubMatched{
		ClubbedOrderID: "club-1",
		UserIDs:        []string{"u1", "u2"},
		CombinedValue:  decimal.RequireFromString("1500.50"),
		OccurredAt:     time.Now().UTC(),
	})
	require.NoError(t, err)

	msgs := rec.Topic("club.matched")
	require.Len(t, msgs, 1)
	assert.Equal(t, "club-1", msgs[0].Key)

	var got ClubMatched
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	assert.Equal(t, []string{"u1", "u2"}, got.UserIDs)
	assert.True(t, decimal.RequireFromString("1500.5").Equal(got.CombinedValue))
}

func TestPublisher_KeysByRecord(t *testing.T) {
	rec := NewRecorder(logger.Nop())
	p := NewPublisher(rec, testTopics, logger.Nop())
	ctx := context.Background()

	require.NoError(t, p.QueueTimedOut(ctx, QueueTimedOut{EntryID: "entry-1"}))
	require.NoError(t, p.ClubCancelled(ctx, ClubCancelled{ClubbedOrderID: "club-9"}))
	require.NoError(t, p.DeliveryRequested(ctx, DeliveryRequested{ClubbedOrderID: "club-9"}))

	assert.Equal(t, "entry-1", rec.Topic("queue.timed-out")[0].Key)
	assert.Equal(t, "club-9", rec.Topic("club.cancelled")[0].Key)
	assert.Len(t, rec.Messages(), 3)
}

func TestPublisher_SinkErrorIsReturned(t *testing.T) {
	p := NewPublisher(failingSink{}, testTopics, logger.Nop())
	err := p.QueueTimedOut(context.Background(), QueueTimedOut{EntryID: "e"})
	assert.Error(t, err)
}

func TestTee_PublishesToEverySink(t *testing.T) {
	first := NewRecorder(logger.Nop())
	second := NewRecorder(logger.Nop())
	sink := Tee(first, failingSink{}, second)

	err := sink.Publish(context.Background(), "club.matched", "club-1", []byte(`{}`))
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, first.Messages(), 1)
	assert.Len(t, second.Messages(), 1)

	assert.NoError(t, Tee(first).Publish(context.Background(), "club.matched", "club-2", []byte(`{}`)))
}
