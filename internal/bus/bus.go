// Package bus fans backend events out to subscribers. Events are queued
// by the transport read loop and dispatched from a single goroutine, so
// handlers see them in arrival order.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

// AllEvents subscribes a handler to every event name.
const AllEvents = "*"

const (
	DefaultQueueSize = 100
	DefaultDedupeTTL = 20 * time.Minute
	DefaultDedupeMax = 5000
)

// Event is one backend event as seen by subscribers.
type Event struct {
	Name    string
	Payload json.RawMessage
	Seq     int64
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler receives events. Handlers run on the dispatch goroutine and
// should not block.
type Handler func(Event)

type subscription struct {
	id      uint64
	event   string
	handler Handler
}

// EventBus queues backend events and dispatches them to subscribers.
type EventBus struct {
	queue  chan Event
	dedupe *DedupeCache

	subMu  sync.RWMutex
	subs   []subscription
	nextID uint64

	closeOnce sync.Once
	done      chan struct{}
}

func New() *EventBus {
	return NewWithQueue(DefaultQueueSize)
}

func NewWithQueue(size int) *EventBus {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &EventBus{
		queue:  make(chan Event, size),
		dedupe: NewDedupeCache(DefaultDedupeTTL, DefaultDedupeMax),
		done:   make(chan struct{}),
	}
}

// PublishFrame queues a bridge event frame. It has the shape of
// backend.EventHandler so it can be passed as the transport's OnEvent.
func (b *EventBus) PublishFrame(frame protocol.EventFrame) {
	b.Publish(Event{Name: frame.Event, Payload: frame.Payload, Seq: frame.Seq})
}

// Publish queues an event without blocking. Events are dropped when the
// queue is full, when the bus is closed, or when they repeat a message id
// seen within the dedupe window.
func (b *EventBus) Publish(e Event) bool {
	if key := dedupeKey(e); key != "" && b.dedupe.IsDuplicate(key) {
		slog.Debug("bus: duplicate event dropped", "event", e.Name, "key", key)
		return false
	}
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.queue <- e:
		return true
	default:
		slog.Warn("bus: queue full, event dropped", "event", e.Name, "seq", e.Seq)
		return false
	}
}

// Subscribe registers handler for event (or AllEvents) and returns a
// function that removes it.
func (b *EventBus) Subscribe(event string, handler Handler) func() {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, event: event, handler: handler})
	return func() { b.unsubscribe(id) }
}

func (b *EventBus) unsubscribe(id uint64) {
	b.subMu.Lock()
	defer b.subMu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Run dispatches queued events until ctx is cancelled or the bus is closed.
func (b *EventBus) Run(ctx context.Context) {
	for {
		select {
		case e := <-b.queue:
			b.Dispatch(e)
		case <-ctx.Done():
			return
		case <-b.done:
			return
		}
	}
}

// Dispatch delivers e to its subscribers synchronously. A panicking
// handler is logged and does not stop delivery to the others.
func (b *EventBus) Dispatch(e Event) {
	b.subMu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, s := range b.subs {
		if s.event == e.Name || s.event == AllEvents {
			targets = append(targets, s.handler)
		}
	}
	b.subMu.RUnlock()

	for _, h := range targets {
		invoke(h, e)
	}
}

func invoke(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("bus: event handler panicked", "event", e.Name, "panic", r)
		}
	}()
	h(e)
}

// Close stops Run and rejects further events. Safe to call more than once.
func (b *EventBus) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

// dedupeKey identifies events the bridge may redeliver after a reconnect.
func dedupeKey(e Event) string {
	if e.Name != protocol.EventMessage && e.Name != protocol.EventCall {
		return ""
	}
	var ids struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
		CallID    string `json:"call_id"`
		Status    string `json:"status"`
	}
	if len(e.Payload) == 0 || json.Unmarshal(e.Payload, &ids) != nil {
		return ""
	}
	switch {
	case ids.MessageID != "":
		return e.Name + ":" + ids.MessageID
	case ids.CallID != "":
		return e.Name + ":" + ids.CallID + ":" + ids.Status
	case ids.ID != "":
		return e.Name + ":" + ids.ID
	}
	return ""
}
