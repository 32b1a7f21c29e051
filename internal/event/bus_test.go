package event

import "testing"

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, cancelA := bus.Subscribe(1)
	defer cancelA()
	b, cancelB := bus.Subscribe(1)
	defer cancelB()

	bus.Publish(Event{Kind: ConversationSelected, ID: "c1"})

	for name, ch := range map[string]<-chan Event{"a": a, "b": b} {
		select {
		case e := <-ch:
			if e.Kind != ConversationSelected || e.ID != "c1" {
				t.Fatalf("subscriber %s got %+v", name, e)
			}
		default:
			t.Fatalf("subscriber %s missed the event", name)
		}
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel() // second cancel is a no-op

	bus.Publish(Event{Kind: NewChat})

	if _, open := <-ch; open {
		t.Fatal("expected channel closed after cancel")
	}
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Kind: NewChat})
	bus.Publish(Event{Kind: LoggedOut}) // buffer full, dropped

	e := <-ch
	if e.Kind != NewChat {
		t.Fatalf("expected first event retained, got %+v", e)
	}
	select {
	case e := <-ch:
		t.Fatalf("expected overflow event dropped, got %+v", e)
	default:
	}
}

func TestCloseTearsDownSubscriptions(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)

	bus.Close()
	bus.Close() // idempotent

	if _, open := <-ch; open {
		t.Fatal("expected channel closed by bus close")
	}
	cancel() // late cancel after close is a no-op

	// Subscribing after close yields an already-closed channel.
	late, _ := bus.Subscribe(1)
	if _, open := <-late; open {
		t.Fatal("expected closed channel for post-close subscription")
	}

	// Publishing after close must not panic.
	bus.Publish(Event{Kind: NewChat})
}
