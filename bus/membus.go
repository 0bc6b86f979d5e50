package bus

import (
	"sync"

	"github.com/BDbread72/qonvo-sub000/interp"
)

const defaultSubscriberBuffer = 256

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus fans events out to in-process subscribers. Subscribers attach
// either to a single run or to every run; slow subscribers lose events
// rather than blocking the publisher.
type MemBus struct {
	mu      sync.RWMutex
	members []*memSub
	bufSize int
	closed  bool
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	b := &MemBus{bufSize: config.SubscriberBufferSize}
	if b.bufSize <= 0 {
		b.bufSize = defaultSubscriberBuffer
	}
	return b
}

// Publish delivers an event to every subscriber whose filter matches its
// run ID. Publishing on a closed bus is a no-op.
func (b *MemBus) Publish(event interp.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, m := range b.members {
		if m.runID == "" || m.runID == event.RunID {
			m.offer(event)
		}
	}
}

// Subscribe registers a subscriber for a specific run.
// Returns a Subscription that must be closed when done.
func (b *MemBus) Subscribe(runID string) Subscription {
	return b.attach(runID)
}

// SubscribeAll registers a subscriber that receives events from all runs.
// Returns a Subscription that must be closed when done.
func (b *MemBus) SubscribeAll() Subscription {
	return b.attach("")
}

func (b *MemBus) attach(runID string) *memSub {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := &memSub{
		runID: runID,
		ch:    make(chan interp.Event, b.bufSize),
	}
	b.members = append(b.members, m)
	return m
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, m := range b.members {
		m.shutdown()
	}
	b.members = nil
	return nil
}

// memSub is a single bus membership. An empty runID matches every run.
type memSub struct {
	runID string

	mu     sync.Mutex
	ch     chan interp.Event
	closed bool
}

// Events returns the subscription's delivery channel. The channel is
// closed when the subscription or the bus shuts down.
func (m *memSub) Events() <-chan interp.Event {
	return m.ch
}

// Close unsubscribes and releases resources.
func (m *memSub) Close() error {
	m.shutdown()
	return nil
}

func (m *memSub) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}

// offer hands an event to the subscriber without blocking. Full or
// closed subscriptions drop the event.
func (m *memSub) offer(event interp.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	select {
	case m.ch <- event:
	default:
	}
}

var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
