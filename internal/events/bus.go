package events

import (
	"sync"
	"time"
)

// Event enumerates notification topics emitted by the safety core.
type Event string

const (
	EventOrderCreated   Event = "order.created"
	EventOrderValidated Event = "order.validated"
	EventOrderBlocked   Event = "order.blocked"
	EventOrderPlaced    Event = "order.placed"
	EventOrderPartial   Event = "order.partial"
	EventOrderFilled    Event = "order.filled"
	EventOrderRejected  Event = "order.rejected"
	EventOrderCancelled Event = "order.cancelled"
	EventOrderExpired   Event = "order.expired"

	EventKillSwitch Event = "risk.kill_switch"
	EventSafetyMode Event = "risk.safety_mode"

	EventReconciliationOK       Event = "recon.ok"
	EventReconciliationMismatch Event = "recon.mismatch"
	EventReconciliationError    Event = "recon.error"
)

// AllEvents lists every topic, in the order above.
var AllEvents = []Event{
	EventOrderCreated, EventOrderValidated, EventOrderBlocked, EventOrderPlaced,
	EventOrderPartial, EventOrderFilled, EventOrderRejected, EventOrderCancelled,
	EventOrderExpired, EventKillSwitch, EventSafetyMode, EventReconciliationOK,
	EventReconciliationMismatch, EventReconciliationError,
}

// Envelope wraps a payload with its topic and publication time.
type Envelope struct {
	Event     Event     `json:"event"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus is a lightweight pub/sub broker using channels.
// A nil *Bus is valid and drops everything.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]chan Envelope
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Envelope)}
}

// Subscribe registers a listener for the given topics and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	for _, e := range topics {
		b.subs[e] = append(b.subs[e], ch)
	}

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for _, e := range topics {
				subs := b.subs[e]
				for i, c := range subs {
					if c == ch {
						b.subs[e] = append(subs[:i], subs[i+1:]...)
						break
					}
				}
			}
			close(ch)
		})
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers without blocking.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	env := Envelope{Event: e, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- env:
		default:
			// drop if subscriber is slow; keep publishers non-blocking
		}
	}
}
