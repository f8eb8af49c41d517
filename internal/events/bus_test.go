package events

import (
	"testing"
	"time"
)

func TestPublishNilBusNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceOrchestrator, Kind: KindTaskStarted})
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount on nil bus = %d, want 0", b.SubscriberCount())
	}
}

func TestSubscribePreservesPublishOrder(t *testing.T) {
	b := New()
	ch := b.Subscribe(8, nil)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Source: SourceTracker, Kind: KindSubtaskStarted, Data: map[string]any{"n": 1}})
	b.Publish(Event{Source: SourceTracker, Kind: KindSubtaskCompleted, Data: map[string]any{"n": 2}})

	first := <-ch
	second := <-ch
	if first.Data["n"] != 1 || second.Data["n"] != 2 {
		t.Errorf("events delivered out of order: %v, %v", first, second)
	}
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	b := New()
	ch1 := b.Subscribe(4, nil)
	ch2 := b.Subscribe(4, nil)
	defer b.Unsubscribe(ch1)
	defer b.Unsubscribe(ch2)

	b.Publish(Event{Source: SourcePersona, Kind: KindPersonaCreated})

	select {
	case <-ch1:
	case <-time.After(time.Second):
		t.Fatal("ch1 did not receive event")
	}
	select {
	case <-ch2:
	case <-time.After(time.Second):
		t.Fatal("ch2 did not receive event")
	}
}

func TestPredicateFiltersEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(4, KindIs(KindSubtaskFailed))
	defer b.Unsubscribe(ch)

	b.Publish(Event{Source: SourceTracker, Kind: KindSubtaskStarted})
	b.Publish(Event{Source: SourceTracker, Kind: KindSubtaskFailed, Data: map[string]any{"reason": "boom"}})

	select {
	case e := <-ch:
		if e.Kind != KindSubtaskFailed {
			t.Errorf("got kind %q, want %q", e.Kind, KindSubtaskFailed)
		}
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber never received the matching event")
	}

	select {
	case e := <-ch:
		t.Errorf("unexpected second event delivered: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOverflowDropsOldestNotNewest(t *testing.T) {
	b := New()
	ch := b.Subscribe(2, nil)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Kind: "a", Data: map[string]any{"n": 1}})
	b.Publish(Event{Kind: "b", Data: map[string]any{"n": 2}})
	b.Publish(Event{Kind: "c", Data: map[string]any{"n": 3}})

	first := <-ch
	second := <-ch

	if first.Data["n"] != 2 || second.Data["n"] != 3 {
		t.Errorf("want oldest (n=1) dropped, got first=%v second=%v", first.Data, second.Data)
	}
	if got := b.OverflowCount(ch); got != 1 {
		t.Errorf("OverflowCount = %d, want 1", got)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe(1, nil)
	b.Unsubscribe(ch)

	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount after unsubscribe = %d, want 0", b.SubscriberCount())
	}
	_, open := <-ch
	if open {
		t.Error("channel still open after Unsubscribe")
	}

	// Double-unsubscribe must be a no-op, not a panic.
	b.Unsubscribe(ch)
}
