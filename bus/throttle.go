package bus

import (
	"sync"
	"time"

	"github.com/BDbread72/qonvo-sub000/interp"
)

// ThrottleConfig controls the behavior of ThrottledHandler.
type ThrottleConfig struct {
	// CoalesceInterval is how often to flush coalesced usage events.
	// Default: 100ms
	CoalesceInterval time.Duration
}

// ThrottledHandler wraps an interp.EventHandler and coalesces high-frequency
// tokens.received events. Other events pass through immediately. Usage
// events carry cumulative counters, so only the latest one per node matters
// within each coalesce interval; a background ticker flushes the survivors.
type ThrottledHandler struct {
	handle   interp.EventHandler
	interval time.Duration

	mu      sync.Mutex
	pending map[string]interp.Event // nodeID -> latest usage event
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewThrottledHandler creates a ThrottledHandler that wraps the given
// handler and coalesces EventTokensReceived at the configured interval.
func NewThrottledHandler(handle interp.EventHandler, cfg ThrottleConfig) *ThrottledHandler {
	interval := cfg.CoalesceInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	th := &ThrottledHandler{
		handle:   handle,
		interval: interval,
		pending:  make(map[string]interp.Event),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	go th.run()

	return th
}

// Handle sends an event through the throttled handler. Non-usage events
// pass through immediately. EventTokensReceived events are coalesced:
// only the latest per node is kept and flushed at the configured interval.
func (th *ThrottledHandler) Handle(e interp.Event) {
	if e.Kind != interp.EventTokensReceived {
		th.handle(e)
		return
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	if th.closed {
		return
	}

	th.pending[e.NodeID] = e
}

// Close flushes any pending usage events and stops the background ticker.
// It is safe to call Close multiple times.
func (th *ThrottledHandler) Close() {
	th.mu.Lock()
	if th.closed {
		th.mu.Unlock()
		return
	}
	th.closed = true
	th.mu.Unlock()

	close(th.stopCh)
	<-th.doneCh
}

func (th *ThrottledHandler) run() {
	defer close(th.doneCh)

	ticker := time.NewTicker(th.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			th.flush()
		case <-th.stopCh:
			// Flush any remaining pending events before exiting.
			th.flush()
			return
		}
	}
}

// flush sends all pending coalesced usage events to the wrapped handler
// and clears the pending map.
func (th *ThrottledHandler) flush() {
	th.mu.Lock()
	if len(th.pending) == 0 {
		th.mu.Unlock()
		return
	}

	// Swap out the pending map so the lock is not held during delivery.
	toFlush := th.pending
	th.pending = make(map[string]interp.Event)
	th.mu.Unlock()

	for _, e := range toFlush {
		th.handle(e)
	}
}
