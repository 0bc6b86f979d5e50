package bus

import (
	"context"

	"github.com/BDbread72/qonvo-sub000/interp"
)

// EventStore persists events for replay.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event interp.Event) error

	// List returns a run's events in Seq order, skipping those with
	// Seq <= afterSeq. A limit of 0 means no limit.
	List(ctx context.Context, runID string, afterSeq uint64, limit int) ([]interp.Event, error)

	// LatestSeq returns the highest Seq for a run (0 if no events).
	LatestSeq(ctx context.Context, runID string) (uint64, error)
}
