package events

import (
	"sync"
	"time"
)

// DefaultHistory bounds the retained feed when NewMemoryBus is given no
// limit. The bus is a live window, not an audit log; once the window is
// full the oldest events fall off.
const DefaultHistory = 512

// EventBus provides publish/subscribe for service lifecycle events.
type EventBus interface {
	Publish(event Event)
	Subscribe(filter ...EventType) <-chan Event
	// Tail returns the retained history at or after since together with a
	// live subscription registered in the same critical section, so no
	// event can fall between the replayed slice and the channel.
	Tail(since time.Time, filter ...EventType) ([]Event, <-chan Event)
	Unsubscribe(ch <-chan Event)
	History(since time.Time) []Event
}

// MemoryBus is an in-memory implementation of EventBus.
type MemoryBus struct {
	mu    sync.RWMutex
	subs  map[chan Event]map[EventType]bool // nil filter means all events
	ring  []Event
	limit int
}

// NewMemoryBus creates an in-memory bus retaining up to historyLimit
// events for replay; historyLimit <= 0 uses DefaultHistory.
func NewMemoryBus(historyLimit int) *MemoryBus {
	if historyLimit <= 0 {
		historyLimit = DefaultHistory
	}
	return &MemoryBus{
		subs:  make(map[chan Event]map[EventType]bool),
		limit: historyLimit,
	}
}

func (b *MemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring = append(b.ring, event)
	if len(b.ring) > b.limit {
		b.ring = append(b.ring[:0:0], b.ring[len(b.ring)-b.limit:]...)
	}

	for ch, filter := range b.subs {
		if filter != nil && !filter[event.Type] {
			continue
		}
		select {
		case ch <- event:
		default:
			// A slow subscriber loses events rather than stalling the
			// publisher.
		}
	}
}

func (b *MemoryBus) Subscribe(filter ...EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.register(filter)
}

func (b *MemoryBus) Tail(since time.Time, filter ...EventType) ([]Event, <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := b.register(filter)
	return b.replay(since, b.subs[sub]), sub
}

func (b *MemoryBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		if (<-chan Event)(sub) == ch {
			delete(b.subs, sub)
			close(sub)
			return
		}
	}
}

func (b *MemoryBus) History(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return b.replay(since, nil)
}

// register must be called with mu held.
func (b *MemoryBus) register(filter []EventType) chan Event {
	ch := make(chan Event, 64)
	var set map[EventType]bool
	if len(filter) > 0 {
		set = make(map[EventType]bool, len(filter))
		for _, f := range filter {
			set[f] = true
		}
	}
	b.subs[ch] = set
	return ch
}

// replay must be called with mu held (read or write).
func (b *MemoryBus) replay(since time.Time, filter map[EventType]bool) []Event {
	var result []Event
	for _, e := range b.ring {
		if e.Timestamp.Before(since) {
			continue
		}
		if filter != nil && !filter[e.Type] {
			continue
		}
		result = append(result, e)
	}
	return result
}
