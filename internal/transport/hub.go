// Package transport fans turn output out to whoever is watching: the CLI,
// the websocket relay, or nothing at all. Publishing never blocks the turn.
package transport

import (
	"sync"
	"time"

	"deskmate/internal/logging"
)

// Kind classifies an event on the stream.
type Kind string

const (
	KindProgress Kind = "progress" // planner thinking and step breadcrumbs
	KindFinal    Kind = "final"    // chunks of the final answer
	KindImage    Kind = "image"    // image payload reference
	KindStats    Kind = "stats"    // token usage snapshot after a turn
	KindTurnEnd  Kind = "turn_end" // end-of-turn marker, ordered after all chunks
)

// Event is one item on the stream. Text carries progress/final content;
// Data carries structured payloads for image and stats events.
type Event struct {
	Kind Kind      `json:"kind"`
	Text string    `json:"text,omitempty"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// Hub is a bounded-buffer pub/sub fan-out. Subscribers joining mid-turn
// receive events from that point on; a subscriber that stops draining is
// detached instead of stalling the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
	logger logging.Logger
}

// NewHub creates a hub with the given per-subscriber buffer size.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 256
	}
	return &Hub{
		subs:   map[int]chan Event{},
		buffer: buffer,
		logger: logging.NewComponentLogger("transport"),
	}
}

// Subscribe returns a receive channel and a cancel function. Cancel closes
// the channel after detaching it from the hub.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking. A full
// buffer means the subscriber stopped keeping up: it is detached and its
// channel closed, since a torn stream is worse than a terminated one.
func (h *Hub) Publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			delete(h.subs, id)
			close(ch)
			h.logger.Warn("dropping slow subscriber %d (buffer %d full)", id, h.buffer)
		}
	}
}

// Progress publishes a progress text event.
func (h *Hub) Progress(text string) {
	h.Publish(Event{Kind: KindProgress, Text: text})
}

// Final publishes one chunk of the final answer.
func (h *Hub) Final(text string) {
	h.Publish(Event{Kind: KindFinal, Text: text})
}

// Stats publishes a usage snapshot.
func (h *Hub) Stats(data any) {
	h.Publish(Event{Kind: KindStats, Data: data})
}

// TurnEnd publishes the end-of-turn marker on the same ordered stream as
// the turn's chunks.
func (h *Hub) TurnEnd() {
	h.Publish(Event{Kind: KindTurnEnd})
}

// Image publishes an image payload.
func (h *Hub) Image(data any) {
	h.Publish(Event{Kind: KindImage, Data: data})
}

// SubscriberCount reports the number of attached subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
