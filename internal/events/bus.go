// Package events provides the in-process bus for cross-component
// synchronization events. Publishers do not know their subscribers; each
// component receives the bus at construction.
package events

import (
	"sync"
	"time"

	"github.com/forgechat/checkpoint-platform/internal/model"
)

// Bus fans SyncEvents out to subscribers. Publish never blocks: a slow
// subscriber drops events rather than stalling the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan model.SyncEvent]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan model.SyncEvent]struct{})}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called on teardown; it closes the channel.
func (b *Bus) Subscribe() (<-chan model.SyncEvent, func()) {
	ch := make(chan model.SyncEvent, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers. A zero Timestamp is filled in
// with the current time.
func (b *Bus) Publish(ev model.SyncEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is too slow; prevents global backpressure.
		}
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
