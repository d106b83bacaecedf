// Package broadcast is the server half of the broadcast channel: an
// in-process publish/subscribe hub with one topic per account.
//
// DELIVERY GUARANTEES:
// Every subscriber gets its own buffered channel. Publish never blocks: if
// a subscriber's buffer is full it is evicted (its channel is closed) rather
// than silently skipping the event. A closed channel tells the consumer to
// reconnect and refetch, which is how the client recovers anything it
// missed. Together with retried publishes this makes delivery at-least-once,
// so consumers must deduplicate by entry id.
package broadcast

import (
	"log/slog"
	"sync"

	"github.com/sakif/nutrition-tracker/internal/metrics"
	"github.com/sakif/nutrition-tracker/internal/model"
)

// EventLogAdded is the only event type: a LogEntry was durably appended.
const EventLogAdded = "log_added"

// DefaultBuffer is the per-subscriber queue length used when NewHub is
// given zero.
const DefaultBuffer = 64

// Event is the message envelope, also used verbatim as the websocket frame:
//
//	{"event":"log_added","entry":{...}}
type Event struct {
	Event string         `json:"event"`
	Entry model.LogEntry `json:"entry"`
}

// Hub fans events out to subscribers of an account topic.
// The zero value is not usable; create one with NewHub.
type Hub struct {
	mu     sync.Mutex
	topics map[int64]map[*Subscription]struct{}
	closed bool

	buffer int
	logger *slog.Logger
}

// NewHub returns an empty hub. buffer is the per-subscriber queue length.
func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		topics: make(map[int64]map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription is one consumer of an account topic. Receive from C until it
// is closed; then call Evicted to learn whether the hub dropped you.
type Subscription struct {
	C <-chan Event

	ch        chan Event
	hub       *Hub
	accountID int64
	done      bool // guarded by hub.mu
	evicted   bool // guarded by hub.mu
}

// Subscribe registers a consumer for accountID's topic. Subscribing to a
// closed hub returns a subscription whose channel is already closed.
func (h *Hub) Subscribe(accountID int64) *Subscription {
	ch := make(chan Event, h.buffer)
	s := &Subscription{C: ch, ch: ch, hub: h, accountID: accountID}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		s.done = true
		close(ch)
		return s
	}

	subs, ok := h.topics[accountID]
	if !ok {
		subs = make(map[*Subscription]struct{})
		h.topics[accountID] = subs
	}
	subs[s] = struct{}{}
	metrics.SubscriberAdded()
	return s
}

// Close unsubscribes and closes C. Safe to call more than once and after
// the hub closed the subscription itself.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.removeLocked(s)
}

// Evicted reports whether the hub dropped this subscription because it
// fell behind.
func (s *Subscription) Evicted() bool {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.evicted
}

// Publish delivers entry to every current subscriber of accountID and
// returns how many received it. Slow subscribers are evicted.
func (h *Hub) Publish(accountID int64, entry model.LogEntry) int {
	ev := Event{Event: EventLogAdded, Entry: entry}

	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for s := range h.topics[accountID] {
		select {
		case s.ch <- ev:
			delivered++
			metrics.DeliveryDelivered()
		default:
			s.evicted = true
			h.removeLocked(s)
			metrics.DeliveryEvicted()
			h.logger.Warn("broadcast: evicted slow subscriber",
				slog.Int64("accountID", accountID),
				slog.String("entryID", entry.ID),
			)
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions for accountID.
func (h *Hub) Subscribers(accountID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[accountID])
}

// Close shuts every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, subs := range h.topics {
		for s := range subs {
			h.removeLocked(s)
		}
	}
}

// removeLocked must be called with h.mu held. Deleting from the map while
// the caller ranges over it is allowed in Go.
func (h *Hub) removeLocked(s *Subscription) {
	if s.done {
		return
	}
	s.done = true
	close(s.ch)
	metrics.SubscriberRemoved()

	subs := h.topics[s.accountID]
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.topics, s.accountID)
	}
}
