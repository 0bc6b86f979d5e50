// Package bus distributes interpreter events to subscribers. It decouples
// the graph engine from its observers: loggers, board UIs, and monitoring
// all consume the same event stream without the interpreter knowing about
// any of them.
package bus

import "github.com/BDbread72/qonvo-sub000/interp"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish fans an event out to every subscriber it matches.
	Publish(event interp.Event)

	// Subscribe attaches to the event stream of one run.
	// The caller owns the returned Subscription and must close it.
	Subscribe(runID string) Subscription

	// SubscribeAll attaches to the event streams of every run.
	// The caller owns the returned Subscription and must close it.
	SubscribeAll() Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events is the delivery channel. It is closed on Close.
	Events() <-chan interp.Event

	// Close detaches from the bus and releases resources.
	Close() error
}
