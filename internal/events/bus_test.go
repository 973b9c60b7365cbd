package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tiendapy/vpos-checkout/internal/events"
)

func TestPublishFansOut(t *testing.T) {
	bus := events.NewBus()
	a, cancelA := bus.Subscribe(4)
	b, cancelB := bus.Subscribe(4)
	defer cancelA()
	defer cancelB()

	bus.Publish(events.Message{Origin: "https://vpos.example", Data: json.RawMessage(`{"status":"success"}`)})

	for _, ch := range []<-chan events.Message{a, b} {
		select {
		case m := <-ch:
			require.Equal(t, "https://vpos.example", m.Origin)
			require.False(t, m.ReceivedAt.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive message")
		}
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	bus := events.NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()
	require.Equal(t, 0, bus.Subscribers())

	// Publishing after cancel must not panic or deliver.
	bus.Publish(events.Message{Data: json.RawMessage(`{}`)})
	_, open := <-ch
	require.False(t, open)
}

func TestSlowSubscriberDrops(t *testing.T) {
	bus := events.NewBus()
	_, cancel := bus.Subscribe(1)
	defer cancel()

	// Second publish must not block even though the buffer is full.
	done := make(chan struct{})
	go func() {
		bus.Publish(events.Message{Data: json.RawMessage(`{"n":1}`)})
		bus.Publish(events.Message{Data: json.RawMessage(`{"n":2}`)})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
