// Package interp executes a single function graph: it walks the exec chain
// from the Start node, lazily resolves pure data nodes with per-pass caching,
// calls the inference provider for AI nodes, and reports progress through
// events.
package interp

import (
	"time"

	funcflow "github.com/BDbread72/qonvo-sub000"
)

// EventKind identifies the type of event emitted by the interpreter.
type EventKind string

const (
	// EventStepStarted is emitted before each exec-chain step, naming the
	// node about to run and its position in the step budget.
	EventStepStarted EventKind = "step.started"

	// EventTokensReceived is emitted after an inference call reports usage.
	EventTokensReceived EventKind = "tokens.received"

	// EventRunFinished is emitted exactly once when a run completes, with
	// the collected outputs and any generated images.
	EventRunFinished EventKind = "run.finished"

	// EventRunFailed is emitted for errors: once, terminally, for fatal
	// failures (validation, budget exhaustion), and non-terminally for
	// node-local inference failures that degrade the run instead of
	// stopping it.
	EventRunFailed EventKind = "run.failed"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of interpreter progress. Events are the only
// channel from the engine back to its caller; the interpreter never reaches
// into caller state.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// NodeID is the node that produced this event (empty for run-level events).
	NodeID string

	// NodeType is the type of that node (empty for run-level events).
	NodeType funcflow.NodeType

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run started.
	Elapsed time.Duration

	// Payload contains event-specific data. Keep this small.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex-encoded, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex-encoded, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID string, nodeType funcflow.NodeType) Event {
	e.NodeID = nodeID
	e.NodeType = nodeType
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// EventPublisher can publish events to external subscribers. Satisfied by
// bus.EventBus, so the interpreter can distribute events without importing
// the bus package directly.
type EventPublisher interface {
	Publish(event Event)
}

// EventHandler is a function type for handling events.
// Implementations can log, store, or forward events as needed.
type EventHandler func(Event)

// EventHandlerDecorator wraps a handler to add cross-cutting behavior, such
// as enriching events with trace metadata.
type EventHandlerDecorator func(EventHandler) EventHandler

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full or closed.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full
		}
	}
}
