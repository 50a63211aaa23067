package events

import "sync"

// Publisher delivers events to a client. Publish must not block the
// generation loop; implementations drop rather than stall.
type Publisher interface {
	Publish(event Event)
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(event Event) {
	f(event)
}

// MemoryPublisher records published events in memory. Intended for tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

// Events returns a snapshot of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Statuses returns the statuses of all published events in order.
func (p *MemoryPublisher) Statuses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Status
	}
	return out
}
