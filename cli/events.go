package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/BDbread72/qonvo-sub000/bus"
	"github.com/BDbread72/qonvo-sub000/interp"
	funcotel "github.com/BDbread72/qonvo-sub000/otel"
)

// runEvents is the assembled event surface of one run: the handler chain
// the interpreter calls inline, and the bus published events flow through.
type runEvents struct {
	handler   interp.EventHandler
	publisher interp.EventPublisher
	closers   []func()
}

// close tears the sinks down in reverse construction order.
func (r *runEvents) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// setupRunEvents builds the event surface from flags: an optional stderr
// printer behind a token-coalescing throttle, an optional SQLite-backed
// event store fed through a bus, and trace-context enrichment when tracing
// is on.
func setupRunEvents(cmd *cobra.Command, tracing *funcotel.TracingHandler) (*runEvents, error) {
	ev := &runEvents{}

	if show, _ := cmd.Flags().GetBool("events"); show {
		ev.handler = ev.startPrinter(cmd.ErrOrStderr())
	}

	if path, _ := cmd.Flags().GetString("events-db"); path != "" {
		pub, err := ev.startEventStore(path)
		if err != nil {
			return nil, err
		}
		ev.publisher = pub
	}

	if tracing != nil {
		if ev.handler == nil {
			ev.handler = tracing.Handle
		} else {
			enrich := funcotel.EnrichHandler(tracing)
			ev.handler = interp.MultiEventHandler(tracing.Handle, enrich(ev.handler))
		}
	}

	return ev, nil
}

// startPrinter prints events to w from a separate goroutine so a slow
// terminal never stalls the run loop. Token-usage chatter is coalesced
// before printing.
func (r *runEvents) startPrinter(w io.Writer) interp.EventHandler {
	ch := make(chan interp.Event, 256)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range ch {
			printEvent(w, e)
		}
	}()

	throttled := bus.NewThrottledHandler(interp.ChannelEventHandler(ch), bus.ThrottleConfig{})
	r.closers = append(r.closers, func() {
		throttled.Close()
		close(ch)
		<-done
	})
	return throttled.Handle
}

// startEventStore opens the SQLite event store and returns a bus that
// persists everything published to it, so run traces survive the process.
func (r *runEvents) startEventStore(path string) (interp.EventPublisher, error) {
	store, err := bus.NewSQLiteEventStore(bus.SQLiteStoreConfig{DSN: path})
	if err != nil {
		return nil, err
	}

	b := bus.NewMemBus(bus.MemBusConfig{})
	sub := b.SubscribeAll()
	persist := bus.NewStoreSubscriber(store, nil)

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for e := range sub.Events() {
			persist.Handle(e)
		}
	}()

	r.closers = append(r.closers, func() {
		_ = b.Close()
		<-drained
		_ = store.Close()
	})
	return b, nil
}
