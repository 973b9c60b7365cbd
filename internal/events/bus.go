// Package events carries raw widget messages from whatever transport received
// them (relay endpoint, webview binding) to the active session's protocol
// handler.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Message is one raw inbound message from the widget's channel. The channel is
// shared with unrelated browser-level traffic, so Data may be anything.
type Message struct {
	Origin     string
	Data       json.RawMessage
	ReceivedAt time.Time
}

// Bus fans inbound messages out to every live subscriber.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Message
	next int
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: map[int]chan Message{}}
}

// Publish delivers the message to all subscribers. Slow subscribers drop
// rather than block the publisher.
func (b *Bus) Publish(m Message) {
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- m:
		default:
		}
	}
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// function. Cancel is idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Message, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
