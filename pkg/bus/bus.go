package bus

import (
	"sync"

	"convsync/pkg/logger"
)

// Event names the bus vocabulary. Payload types live in pkg/models.
type Event string

const (
	MessageSent     Event = "message-sent"
	MessageReceived Event = "message-received"
	MessageUpdated  Event = "message-updated"
	MessagesSeen    Event = "messages-seen"
)

// Handler receives an event payload. Handlers run synchronously on the
// emitter's goroutine, in registration order.
type Handler func(payload any)

// Subscription is a handle to a registered listener.
type Subscription struct {
	bus   *Bus
	event Event
	id    uint64
}

// Remove unregisters the listener. Safe to call more than once.
func (s *Subscription) Remove() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.event, s.id)
	s.bus = nil
}

type listener struct {
	id uint64
	fn Handler
}

// Bus is a minimal synchronous in-process pub/sub primitive. Delivery is
// at-most-once and best-effort: no event is queued or replayed, so a
// listener registered after an Emit never observes it.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[Event][]listener
}

func New() *Bus {
	return &Bus{listeners: make(map[Event][]listener)}
}

// Subscribe registers fn for ev and returns a removable subscription.
func (b *Bus) Subscribe(ev Event, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[ev] = append(b.listeners[ev], listener{id: id, fn: fn})
	return &Subscription{bus: b, event: ev, id: id}
}

// Emit delivers payload to every listener registered for ev at emit time,
// in registration order. A panicking listener is logged and skipped so one
// faulty subscriber cannot break delivery to the others.
func (b *Bus) Emit(ev Event, payload any) {
	b.mu.RLock()
	regs := make([]listener, len(b.listeners[ev]))
	copy(regs, b.listeners[ev])
	b.mu.RUnlock()

	for _, l := range regs {
		deliver(ev, l, payload)
	}
}

func deliver(ev Event, l listener, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("bus_listener_panic", "event", string(ev), "panic", r)
		}
	}()
	l.fn(payload)
}

func (b *Bus) remove(ev Event, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.listeners[ev]
	for i, l := range regs {
		if l.id == id {
			b.listeners[ev] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}
