package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/pkg/protocol"
)

func TestDispatchByName(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var got []string
	record := func(tag string) Handler {
		return func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, tag+":"+e.Name)
		}
	}
	b.Subscribe(protocol.EventMessage, record("msg"))
	b.Subscribe(AllEvents, record("all"))

	b.Dispatch(Event{Name: protocol.EventMessage})
	b.Dispatch(Event{Name: protocol.EventCall})

	want := []string{"msg:message", "all:message", "all:call"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsub := b.Subscribe(protocol.EventCall, func(Event) { calls++ })
	b.Dispatch(Event{Name: protocol.EventCall})
	unsub()
	unsub()
	b.Dispatch(Event{Name: protocol.EventCall})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRunDeliversInOrder(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan int64, 3)
	b.Subscribe(protocol.EventPresence, func(e Event) { seen <- e.Seq })
	go b.Run(ctx)

	for i := int64(1); i <= 3; i++ {
		b.PublishFrame(protocol.EventFrame{Type: protocol.FrameTypeEvent, Event: protocol.EventPresence, Seq: i})
	}
	for want := int64(1); want <= 3; want++ {
		select {
		case got := <-seen:
			if got != want {
				t.Fatalf("seq %d, want %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDedupesMessages(t *testing.T) {
	b := New()
	frame := protocol.NewEvent(protocol.EventMessage, map[string]string{"message_id": "M1"})
	if !b.Publish(Event{Name: frame.Event, Payload: frame.Payload}) {
		t.Fatal("first delivery dropped")
	}
	if b.Publish(Event{Name: frame.Event, Payload: frame.Payload}) {
		t.Error("redelivered message was queued")
	}

	// Call events dedupe per status, so progress is still delivered.
	ringing := protocol.NewEvent(protocol.EventCall, map[string]string{"call_id": "C1", "status": "incoming"})
	ended := protocol.NewEvent(protocol.EventCall, map[string]string{"call_id": "C1", "status": "ended"})
	if !b.Publish(Event{Name: ringing.Event, Payload: ringing.Payload}) || !b.Publish(Event{Name: ended.Event, Payload: ended.Payload}) {
		t.Error("call progress dropped")
	}

	// Events without ids are never deduped.
	if !b.Publish(Event{Name: protocol.EventConnection}) || !b.Publish(Event{Name: protocol.EventConnection}) {
		t.Error("connection events dropped")
	}
}

func TestPublishQueueFull(t *testing.T) {
	b := NewWithQueue(1)
	if !b.Publish(Event{Name: protocol.EventPresence}) {
		t.Fatal("first publish dropped")
	}
	if b.Publish(Event{Name: protocol.EventPresence}) {
		t.Error("publish into full queue succeeded")
	}
}

func TestCloseStopsRun(t *testing.T) {
	b := New()
	done := make(chan struct{})
	go func() {
		b.Run(context.Background())
		close(done)
	}()
	b.Close()
	b.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	if b.Publish(Event{Name: protocol.EventPresence}) {
		t.Error("publish after close succeeded")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := New()
	delivered := false
	b.Subscribe(AllEvents, func(Event) { panic("boom") })
	b.Subscribe(AllEvents, func(Event) { delivered = true })
	b.Dispatch(Event{Name: protocol.EventQR})
	if !delivered {
		t.Error("second handler not called after panic")
	}
}

func TestDedupeCacheExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	d := NewDedupeCache(time.Minute, 10)
	d.now = func() time.Time { return now }

	if d.IsDuplicate("a") {
		t.Fatal("first sight reported duplicate")
	}
	if !d.IsDuplicate("a") {
		t.Fatal("second sight not reported duplicate")
	}
	now = now.Add(2 * time.Minute)
	if d.IsDuplicate("a") {
		t.Error("expired key reported duplicate")
	}
}

func TestDedupeCacheMaxSize(t *testing.T) {
	d := NewDedupeCache(time.Hour, 3)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		d.IsDuplicate(k)
	}
	if n := d.Len(); n != 3 {
		t.Errorf("len = %d, want 3", n)
	}
	// "a" and "b" were evicted first.
	if d.IsDuplicate("a") {
		t.Error("evicted key reported duplicate")
	}
	if !d.IsDuplicate("e") {
		t.Error("recent key forgotten")
	}
}
