package sse

import (
	"context"
	"encoding/json"
	"sync"
)

// Notification is one club lifecycle event pushed to a connected shopper.
type Notification struct {
	Topic string          `json:"topic"`
	Key   string          `json:"key"`
	Data  json.RawMessage `json:"data"`
}

// Hub fans events out to the shoppers they concern. It satisfies
// events.Sink, so it sits next to the kafka producer behind events.Tee.
type Hub struct {
	clients map[string][]chan Notification
	mu      sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string][]chan Notification)}
}

// Subscribe registers a client for userID's notifications. The channel is
// closed once ctx is done.
func (h *Hub) Subscribe(ctx context.Context, userID string) <-chan Notification {
	clientChan := make(chan Notification, 10)

	h.mu.Lock()
	h.clients[userID] = append(h.clients[userID], clientChan)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.remove(userID, clientChan)
	}()
	return clientChan
}

// recipients lists every user id field the event payloads carry.
type recipients struct {
	UserID  string   `json:"user_id"`
	UserIDs []string `json:"user_ids"`
	Drops   []struct {
		UserID string `json:"user_id"`
	} `json:"drops"`
}

func (r recipients) list() []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(r.UserID)
	for _, id := range r.UserIDs {
		add(id)
	}
	for _, d := range r.Drops {
		add(d.UserID)
	}
	return out
}

// Publish delivers the event to the connected users it names. Events that
// name nobody are dropped.
func (h *Hub) Publish(_ context.Context, topic, key string, value []byte) error {
	var to recipients
	if err := json.Unmarshal(value, &to); err != nil {
		return err
	}
	n := Notification{Topic: topic, Key: key, Data: json.RawMessage(value)}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range to.list() {
		for _, clientChan := range h.clients[userID] {
			// Slow clients miss notifications rather than block the publisher.
			select {
			case clientChan <- n:
			default:
			}
		}
	}
	return nil
}

func (h *Hub) remove(userID string, clientChan chan Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[userID]
	for i, ch := range clients {
		if ch == clientChan {
			h.clients[userID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(h.clients[userID]) == 0 {
		delete(h.clients, userID)
	}
}

// ClientCount returns the number of open streams for userID.
func (h *Hub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}
