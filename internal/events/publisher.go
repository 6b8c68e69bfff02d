package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"ms-buddycart/internal/config"
	"ms-buddycart/internal/logger"
)

// Sink is the transport events are written to. *kafka.Producer satisfies it.
type Sink interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

type teeSink []Sink

// Tee publishes every message to all sinks. A failing sink does not stop
// the others.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

func (t teeSink) Publish(ctx context.Context, topic, key string, value []byte) error {
	var errs []error
	for _, s := range t {
		if err := s.Publish(ctx, topic, key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Publisher turns domain events into keyed JSON messages. Publishing is
// best effort: failures are logged and returned but never roll back the
// state change that produced the event.
type Publisher struct {
	sink   Sink
	topics config.TopicConfig
	logger *logger.Logger
}

func NewPublisher(sink Sink, topics config.TopicConfig, log *logger.Logger) *Publisher {
	return &Publisher{sink: sink, topics: topics, logger: log}
}

func (p *Publisher) publish(ctx context.Context, topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("EVENTS", fmt.Sprintf("Failed to marshal %s event: %v", topic, err))
		return fmt.Errorf("marshal %s event: %w", topic, err)
	}
	if err := p.sink.Publish(ctx, topic, key, value); err != nil {
		p.logger.Warn("EVENTS", fmt.Sprintf("Event %s for %s not delivered: %v", topic, key, err))
		return err
	}
	return nil
}

func (p *Publisher) ClubMatched(ctx context.Context, e ClubMatched) error {
	return p.publish(ctx, p.topics.ClubMatched, e.ClubbedOrderID, e)
}

func (p *Publisher) ClubCancelled(ctx context.Context, e ClubCancelled) error {
	return p.publish(ctx, p.topics.ClubCancelled, e.ClubbedOrderID, e)
}

func (p *Publisher) QueueTimedOut(ctx context.Context, e QueueTimedOut) error {
	return p.publish(ctx, p.topics.QueueTimedOut, e.EntryID, e)
}

func (p *Publisher) DeliveryRequested(ctx context.Context, e DeliveryRequested) error {
	return p.publish(ctx, p.topics.DeliveryRequested, e.ClubbedOrderID, e)
}

// Message is one event captured by a Recorder.
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Recorder keeps published messages in memory. It backs KAFKA_MOCK_MODE and tests.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	logger   *logger.Logger
}

func NewRecorder(log *logger.Logger) *Recorder {
	return &Recorder{logger: log}
}

func (r *Recorder) Publish(_ context.Context, topic, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Message{Topic: topic, Key: key, Value: value})
	r.logger.LogKafka("MOCK_PUBLISH", topic, key)
	return nil
}

func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Topic returns the captured messages for one topic.
func (r *Recorder) Topic(topic string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
