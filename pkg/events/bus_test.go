package events

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoryBusPublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(0)
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	bus.Publish(NewExecutionEvent(EventExecutionStarted, "echo", "alice"))

	select {
	case event := <-ch:
		if event.Type != EventExecutionStarted {
			t.Errorf("expected EventExecutionStarted, got %s", event.Type)
		}
		if event.Command != "echo" || event.Principal != "alice" {
			t.Errorf("unexpected event fields: %+v", event)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}
}

func TestMemoryBusFilter(t *testing.T) {
	bus := NewMemoryBus(0)
	ch := bus.Subscribe(EventExecutionCompleted)
	defer bus.Unsubscribe(ch)

	bus.Publish(NewEvent(EventExecutionStarted, "should-be-filtered"))
	bus.Publish(NewEvent(EventExecutionCompleted, "should-arrive"))

	select {
	case event := <-ch:
		if event.Type != EventExecutionCompleted {
			t.Errorf("expected EventExecutionCompleted, got %s", event.Type)
		}
		if event.Data != "should-arrive" {
			t.Errorf("expected data 'should-arrive', got %v", event.Data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for event")
	}

	// Ensure the filtered event didn't arrive.
	select {
	case event := <-ch:
		t.Errorf("unexpected event: %v", event)
	case <-time.After(50 * time.Millisecond):
		// Good — no event arrived.
	}
}

func TestMemoryBusMultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(0)
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	defer bus.Unsubscribe(ch1)
	defer bus.Unsubscribe(ch2)

	bus.Publish(NewEvent(EventGroupsReloaded, "groups.yaml"))

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case event := <-ch:
			if event.Type != EventGroupsReloaded {
				t.Errorf("expected EventGroupsReloaded, got %s", event.Type)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestMemoryBusHistory(t *testing.T) {
	bus := NewMemoryBus(0)

	t1 := time.Now()
	bus.Publish(NewEvent(EventExecutionStarted, "first"))
	time.Sleep(10 * time.Millisecond)
	t2 := time.Now()
	bus.Publish(NewEvent(EventExecutionCompleted, "second"))

	all := bus.History(t1)
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}

	since := bus.History(t2)
	if len(since) != 1 {
		t.Fatalf("expected 1 event since t2, got %d", len(since))
	}
	if since[0].Data != "second" {
		t.Errorf("expected 'second', got %v", since[0].Data)
	}
}

func TestMemoryBusHistoryBounded(t *testing.T) {
	bus := NewMemoryBus(16)
	for i := 0; i < 26; i++ {
		bus.Publish(NewEvent(EventExecutionStarted, fmt.Sprintf("event-%d", i)))
	}

	all := bus.History(time.Time{})
	if len(all) != 16 {
		t.Fatalf("expected history capped at 16, got %d", len(all))
	}
	// The oldest events are the ones dropped.
	if all[0].Data != "event-10" {
		t.Errorf("expected oldest surviving event-10, got %v", all[0].Data)
	}
}

func TestMemoryBusTail(t *testing.T) {
	bus := NewMemoryBus(0)
	bus.Publish(NewEvent(EventExecutionStarted, "before"))

	history, ch := bus.Tail(time.Time{})
	defer bus.Unsubscribe(ch)

	if len(history) != 1 || history[0].Data != "before" {
		t.Fatalf("unexpected history: %+v", history)
	}

	bus.Publish(NewEvent(EventExecutionCompleted, "after"))
	select {
	case event := <-ch:
		if event.Data != "after" {
			t.Errorf("expected 'after', got %v", event.Data)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for live event")
	}
}

func TestMemoryBusTailFiltersReplay(t *testing.T) {
	bus := NewMemoryBus(0)
	bus.Publish(NewEvent(EventExecutionStarted, "skip"))
	bus.Publish(NewEvent(EventGroupsReloaded, "keep"))

	history, ch := bus.Tail(time.Time{}, EventGroupsReloaded)
	defer bus.Unsubscribe(ch)

	if len(history) != 1 || history[0].Data != "keep" {
		t.Fatalf("unexpected filtered history: %+v", history)
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(0)
	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	// Channel should be closed after unsubscribe.
	_, ok := <-ch
	if ok {
		t.Error("expected channel to be closed")
	}
}
