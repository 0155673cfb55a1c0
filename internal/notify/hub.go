package notify

import (
	"context"
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

// Subscription is one live listener on a channel. Messages arrive on C;
// listeners that stop draining are dropped rather than blocking the hub.
type Subscription struct {
	C      <-chan []byte
	send   chan []byte
	cancel func()
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() { s.cancel() }

// Hub fans broadcast messages out to live subscribers, grouped by channel
// name. It satisfies the dispatch broadcast consumer's Broadcaster seam.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Subscription]struct{}
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		channels: make(map[string]map[*Subscription]struct{}),
		logger:   logger,
	}
}

// Subscribe registers a listener on the channel. The caller must Close the
// subscription when done.
func (h *Hub) Subscribe(channel string) *Subscription {
	send := make(chan []byte, subscriberBuffer)
	sub := &Subscription{C: send, send: send}
	sub.cancel = func() { h.unsubscribe(channel, sub) }

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Subscription]struct{})
	}
	h.channels[channel][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(channel string, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.channels[channel]
	if !ok {
		return
	}
	if _, member := subs[sub]; !member {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(h.channels, channel)
	}
}

// Publish delivers the message to every current subscriber of the channel.
// Slow subscribers are skipped; broadcast is best-effort by contract and the
// cache invalidation path does not depend on it.
func (h *Hub) Publish(ctx context.Context, channel string, message []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.channels[channel] {
		select {
		case sub.send <- message:
		default:
			h.logger.WarnContext(ctx, "broadcast subscriber lagging, message skipped", "channel", channel)
		}
	}
	return nil
}

// SubscriberCount reports current listeners on a channel.
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}
