package events

import (
	"fmt"
	"testing"
	"time"
)

func TestBusDeliversConsoleLinesInOrder(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan string, 100)
	unsub := bus.Subscribe(func(e ConsoleLine) {
		received <- e.Text
	})
	defer unsub()

	for i := 0; i < 50; i++ {
		bus.Publish(ConsoleLine{Text: fmt.Sprintf("line-%d", i), Stream: StreamStdout, ReceivedAt: time.Now()})
	}

	for i := 0; i < 50; i++ {
		select {
		case text := <-received:
			if want := fmt.Sprintf("line-%d", i); text != want {
				t.Fatalf("expected %s, got %s", want, text)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for line %d", i)
		}
	}
}

func TestBusRoutesByType(t *testing.T) {
	bus := New()
	defer bus.Close()

	stopped := make(chan StoppedEvent, 1)
	unsub := bus.Subscribe(func(e StoppedEvent) {
		stopped <- e
	})
	defer unsub()

	bus.Publish(LogEvent{Message: "ignored"})
	bus.Publish(StoppedEvent{PID: 42, Killed: true})

	select {
	case e := <-stopped:
		if e.PID != 42 || !e.Killed {
			t.Fatalf("unexpected stopped event: %+v", e)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stopped event not delivered")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan LogEvent, 10)
	unsub := bus.Subscribe(func(e LogEvent) {
		received <- e
	})
	bus.Publish(LogEvent{Message: "first"})

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatalf("first event not delivered")
	}

	unsub()
	bus.Publish(LogEvent{Message: "second"})

	select {
	case e := <-received:
		t.Fatalf("received event after unsubscribe: %+v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusSubscribeUnknownHandler(t *testing.T) {
	bus := New()
	defer bus.Close()

	unsub := bus.Subscribe(func(string) {})
	unsub()
}
