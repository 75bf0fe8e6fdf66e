package membership

import "sync"

// Event names published by the manager.
const (
	EventTransition   = "transition"
	EventJoinRejected = "join_rejected"
	EventLeft         = "left"
)

// Event is a membership lifecycle event: a name, the host id it concerns and
// optional fields.
type Event struct {
	Name   string
	HostID string
	Fields map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MemoryPublisher stores events in memory for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Transitions returns the "to" states of every transition event, in order.
func (p *MemoryPublisher) Transitions() []State {
	var out []State
	for _, e := range p.Events() {
		if e.Name != EventTransition {
			continue
		}
		if to, ok := e.Fields["to"].(State); ok {
			out = append(out, to)
		}
	}
	return out
}
