// Package telemetry provides the library's event emission points: an
// in-process pub/sub hub for lifecycle events and OpenTelemetry span
// helpers. Sinks are the embedder's concern; without subscribers or a
// configured tracer provider everything here is close to free.
package telemetry

import (
	"context"
	"sync"
	"time"
)

// Topic names for library lifecycle events.
const (
	TopicAuthRefreshed      = "auth.refreshed"
	TopicCredentialsChanged = "auth.credentials_changed"
	TopicRequestStart       = "request.start"
	TopicRequestStop        = "request.stop"
	TopicRequestError       = "request.error"
	TopicRequestRetry       = "request.retry"
	TopicStreamStart        = "stream.start"
	TopicStreamCompleted    = "stream.completed"
	TopicStreamErrored      = "stream.errored"
	TopicStreamStopped      = "stream.stopped"
)

// Event is a published message on the hub.
type Event struct {
	Topic     string            `json:"topic"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   any               `json:"payload,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Handler processes an incoming event. Handlers run synchronously on the
// publisher's goroutine and must not block.
type Handler func(context.Context, Event)

// Hub is a lightweight in-process pub/sub bus.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]Handler
	nextID int64
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int64]Handler)}
}

// Subscribe registers a handler for the given topic and returns a function
// that unsubscribes it.
func (h *Hub) Subscribe(topic string, handler Handler) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID

	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[int64]Handler)
	}
	h.subs[topic][id] = handler

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if listeners, ok := h.subs[topic]; ok {
			delete(listeners, id)
			if len(listeners) == 0 {
				delete(h.subs, topic)
			}
		}
	}
}

// Publish dispatches an event to all current subscribers of the topic.
func (h *Hub) Publish(ctx context.Context, topic string, payload any, metadata map[string]string) {
	if h == nil {
		return
	}
	event := Event{
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
		Metadata:  metadata,
	}
	for _, handler := range h.snapshotHandlers(topic) {
		handler(ctx, event)
	}
}

func (h *Hub) snapshotHandlers(topic string) []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	listeners := h.subs[topic]
	if len(listeners) == 0 {
		return nil
	}
	out := make([]Handler, 0, len(listeners))
	for _, handler := range listeners {
		out = append(out, handler)
	}
	return out
}
