package otel

import (
	"github.com/BDbread72/qonvo-sub000/interp"
)

// EnrichHandler returns a decorator that stamps OpenTelemetry trace context
// onto events before handing them to the wrapped handler: the active span is
// looked up from the TracingHandler and its TraceID and SpanID are copied
// onto the event.
//
// The current step span is checked first; when none is open, the run-level
// span is used. When no span is active, the event passes through unchanged.
//
// The TracingHandler must see events before the decorated handler, so chain
// it first: tracing.Handle, then EnrichHandler(tracing)(next).
func EnrichHandler(tracing *TracingHandler) interp.EventHandlerDecorator {
	return func(next interp.EventHandler) interp.EventHandler {
		return func(e interp.Event) {
			if e.RunID != "" {
				sc := tracing.ActiveStepSpanContext(e.RunID)
				if !sc.IsValid() {
					sc = tracing.ActiveRunSpanContext(e.RunID)
				}
				if sc.IsValid() {
					e.TraceID = sc.TraceID().String()
					e.SpanID = sc.SpanID().String()
				}
			}
			next(e)
		}
	}
}
