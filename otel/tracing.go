// Package otel provides OpenTelemetry integration for interpreter events.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/BDbread72/qonvo-sub000/interp"
)

// TracingHandler translates interpreter events into OpenTelemetry spans.
// A run span opens lazily on the first event for a run and closes on the
// run.finished event. Each step.started opens a child span for that node
// and closes the previous step's span, mirroring the engine's sequential
// exec chain.
//
// Terminal run.failed events leave the run span open because the handler
// cannot tell them apart from node-local degradations; call Flush or
// FlushRun after a failed run to close leftovers.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> span
	runCtxs   map[string]context.Context // runID -> context (for child spans)
	stepSpans map[string]trace.Span      // runID -> currently open step span
	failed    map[string]bool            // runID -> a failure was recorded
}

// NewTracingHandler creates a new TracingHandler that uses the given tracer
// to create spans from interpreter events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		stepSpans: make(map[string]trace.Span),
		failed:    make(map[string]bool),
	}
}

// Handle processes an interpreter event and creates or ends spans
// accordingly. It implements interp.EventHandler semantics.
func (h *TracingHandler) Handle(e interp.Event) {
	switch e.Kind {
	case interp.EventStepStarted:
		h.handleStepStarted(e)
	case interp.EventTokensReceived:
		h.handleTokens(e)
	case interp.EventRunFailed:
		h.handleRunFailed(e)
	case interp.EventRunFinished:
		h.handleRunFinished(e)
	}
}

// ensureRunSpan opens the run root span on first contact with a run.
func (h *TracingHandler) ensureRunSpan(e interp.Event) context.Context {
	h.mu.RLock()
	ctx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if ok {
		return ctx
	}

	ctx, span := h.tracer.Start(context.Background(), "run:"+e.RunID,
		trace.WithAttributes(
			attribute.String("funcflow.run_id", e.RunID),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
	return ctx
}

// handleStepStarted closes the previous step span for the run and opens a
// new one under the run span.
func (h *TracingHandler) handleStepStarted(e interp.Event) {
	parentCtx := h.ensureRunSpan(e)

	h.mu.Lock()
	if prev, ok := h.stepSpans[e.RunID]; ok {
		prev.SetStatus(codes.Ok, "")
		prev.End(trace.WithTimestamp(e.Time))
	}
	h.mu.Unlock()

	_, span := h.tracer.Start(parentCtx, "step:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("funcflow.run_id", e.RunID),
			attribute.String("funcflow.node_id", e.NodeID),
			attribute.String("funcflow.node_type", string(e.NodeType)),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.stepSpans[e.RunID] = span
	h.mu.Unlock()
}

// handleTokens attaches a usage event to the current step span.
func (h *TracingHandler) handleTokens(e interp.Event) {
	h.mu.RLock()
	span, ok := h.stepSpans[e.RunID]
	h.mu.RUnlock()
	if !ok {
		return
	}

	attrs := []attribute.KeyValue{}
	if v, ok := payloadInt(e.Payload, "tokens_in"); ok {
		attrs = append(attrs, attribute.Int("funcflow.tokens_in", v))
	}
	if v, ok := payloadInt(e.Payload, "tokens_out"); ok {
		attrs = append(attrs, attribute.Int("funcflow.tokens_out", v))
	}
	span.AddEvent(string(e.Kind), trace.WithTimestamp(e.Time), trace.WithAttributes(attrs...))
}

// handleRunFailed records the error on the run span without closing it.
func (h *TracingHandler) handleRunFailed(e interp.Event) {
	h.ensureRunSpan(e)

	h.mu.Lock()
	span := h.runSpans[e.RunID]
	h.failed[e.RunID] = true
	h.mu.Unlock()

	errMsg := "run failed"
	if msg, found := e.Payload["error"]; found {
		if s, ok := msg.(string); ok {
			errMsg = s
		}
	}
	span.SetStatus(codes.Error, errMsg)
	span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
}

// handleRunFinished ends the open step span and the root run span.
func (h *TracingHandler) handleRunFinished(e interp.Event) {
	h.mu.Lock()
	step, hasStep := h.stepSpans[e.RunID]
	span, hasRun := h.runSpans[e.RunID]
	wasFailed := h.failed[e.RunID]
	delete(h.stepSpans, e.RunID)
	delete(h.runSpans, e.RunID)
	delete(h.runCtxs, e.RunID)
	delete(h.failed, e.RunID)
	h.mu.Unlock()

	if hasStep {
		step.SetStatus(codes.Ok, "")
		step.End(trace.WithTimestamp(e.Time))
	}
	if hasRun {
		span.SetAttributes(attribute.String("funcflow.duration", e.Elapsed.String()))
		if !wasFailed {
			span.SetStatus(codes.Ok, "")
		}
		span.End(trace.WithTimestamp(e.Time))
	}
}

// FlushRun ends any spans still open for the run. Use after a run that
// failed terminally and therefore never produced run.finished.
func (h *TracingHandler) FlushRun(runID string) {
	h.mu.Lock()
	step, hasStep := h.stepSpans[runID]
	span, hasRun := h.runSpans[runID]
	delete(h.stepSpans, runID)
	delete(h.runSpans, runID)
	delete(h.runCtxs, runID)
	delete(h.failed, runID)
	h.mu.Unlock()

	if hasStep {
		step.End()
	}
	if hasRun {
		span.End()
	}
}

// Flush ends every span the handler still tracks.
func (h *TracingHandler) Flush() {
	h.mu.Lock()
	steps := h.stepSpans
	runs := h.runSpans
	h.stepSpans = make(map[string]trace.Span)
	h.runSpans = make(map[string]trace.Span)
	h.runCtxs = make(map[string]context.Context)
	h.failed = make(map[string]bool)
	h.mu.Unlock()

	for _, s := range steps {
		s.End()
	}
	for _, s := range runs {
		s.End()
	}
}

// ActiveStepSpanContext returns the SpanContext for the run's currently
// open step span. Returns an empty SpanContext if none is open.
func (h *TracingHandler) ActiveStepSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.stepSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the active run span
// identified by runID. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func payloadInt(payload map[string]any, key string) (int, bool) {
	switch v := payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
