package events

import (
	"github.com/kelindar/event"
)

// Bus wraps a kelindar/event dispatcher owned by a single supervisor.
//
// Handlers of one event type run on a single goroutine in publish order, so a
// subscriber sees console lines exactly as the process emitted them. Handlers
// must return quickly; slow consumers should queue internally.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers of its type.
func (b *Bus) Publish(ev Event) {
	switch e := ev.(type) {
	case ConsoleLine:
		event.Publish(b.dispatcher, e)
	case LogEvent:
		event.Publish(b.dispatcher, e)
	case LifecycleEvent:
		event.Publish(b.dispatcher, e)
	case StoppedEvent:
		event.Publish(b.dispatcher, e)
	case BackupEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe registers a handler; the handler's parameter type selects the
// events it receives. The returned function unsubscribes.
// Usage: unsub := bus.Subscribe(func(e ConsoleLine) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(ConsoleLine):
		return event.Subscribe(b.dispatcher, h)
	case func(LogEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(LifecycleEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(StoppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(BackupEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

// Close stops delivery to every subscriber.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}
