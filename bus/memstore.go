package bus

import (
	"context"
	"sync"

	"github.com/BDbread72/qonvo-sub000/interp"
)

// MemEventStore keeps events in memory, grouped by run. It is safe for
// concurrent use and is the store of choice for tests and short-lived runs.
type MemEventStore struct {
	mu   sync.RWMutex
	runs map[string][]interp.Event
}

// NewMemEventStore creates a new in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{runs: make(map[string][]interp.Event)}
}

func (s *MemEventStore) Append(_ context.Context, event interp.Event) error {
	s.mu.Lock()
	s.runs[event.RunID] = append(s.runs[event.RunID], event)
	s.mu.Unlock()
	return nil
}

func (s *MemEventStore) List(_ context.Context, runID string, afterSeq uint64, limit int) ([]interp.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interp.Event
	for _, e := range s.runs[runID] {
		if afterSeq > 0 && e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *MemEventStore) LatestSeq(_ context.Context, runID string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest uint64
	for _, e := range s.runs[runID] {
		if e.Seq > latest {
			latest = e.Seq
		}
	}
	return latest, nil
}

var _ EventStore = (*MemEventStore)(nil)
