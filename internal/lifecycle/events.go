package lifecycle

import (
	"log"
	"sync"
	"time"
)

// EventType tags a lifecycle notification.
type EventType string

const (
	EventStarted EventType = "sandbox.started"
	EventReused  EventType = "sandbox.reused"
	EventStopped EventType = "sandbox.stopped"
	EventFailed  EventType = "sandbox.failed"
)

// Reason explains why a sandbox was released. Reasons are recorded for
// observability; they are never surfaced as errors to callers.
type Reason string

const (
	ReasonClientRequested   Reason = "client_requested"
	ReasonIdleTimeout       Reason = "idle_timeout"
	ReasonHealthCheckFailed Reason = "health_check_failed"
	ReasonShutdown          Reason = "shutdown"
)

// Event is a typed lifecycle notification delivered to subscribers.
type Event struct {
	Type       EventType `json:"type"`
	SandboxID  string    `json:"sandbox_id"`
	InstanceID string    `json:"instance_id"`
	Endpoint   string    `json:"connection_endpoint,omitempty"`
	Reason     Reason    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// broadcaster fans lifecycle events out to subscriber channels. Sends
// never block: a subscriber that falls behind loses events rather than
// stalling the manager.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("event subscriber %d is behind, dropping %s for sandbox %s", id, ev.Type, ev.SandboxID)
		}
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
