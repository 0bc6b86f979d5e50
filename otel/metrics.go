package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BDbread72/qonvo-sub000/interp"
)

// MetricsHandler translates interpreter events into OpenTelemetry metrics.
// It records counters for steps and failures and histograms for run
// durations and token usage.
type MetricsHandler struct {
	steps       metric.Int64Counter
	failures    metric.Int64Counter
	runDuration metric.Float64Histogram
	tokensIn    metric.Int64Histogram
	tokensOut   metric.Int64Histogram
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create instruments for recording engine metrics.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	steps, err := meter.Int64Counter("funcflow.run.steps",
		metric.WithDescription("Number of exec-chain steps taken"),
	)
	if err != nil {
		return nil, err
	}

	failures, err := meter.Int64Counter("funcflow.run.failures",
		metric.WithDescription("Number of run failure events"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("funcflow.run.duration",
		metric.WithDescription("Duration of a function run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tokensIn, err := meter.Int64Histogram("funcflow.run.tokens_in",
		metric.WithDescription("Cumulative prompt tokens reported per usage event"),
	)
	if err != nil {
		return nil, err
	}

	tokensOut, err := meter.Int64Histogram("funcflow.run.tokens_out",
		metric.WithDescription("Cumulative candidate tokens reported per usage event"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		steps:       steps,
		failures:    failures,
		runDuration: runDur,
		tokensIn:    tokensIn,
		tokensOut:   tokensOut,
	}, nil
}

// Handle processes an interpreter event and records the appropriate
// metrics. It implements interp.EventHandler semantics.
func (h *MetricsHandler) Handle(e interp.Event) {
	switch e.Kind {
	case interp.EventStepStarted:
		h.handleStep(e)
	case interp.EventTokensReceived:
		h.handleTokens(e)
	case interp.EventRunFailed:
		h.handleFailed(e)
	case interp.EventRunFinished:
		h.handleFinished(e)
	}
}

func (h *MetricsHandler) handleStep(e interp.Event) {
	h.steps.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("node_type", string(e.NodeType)),
	))
}

func (h *MetricsHandler) handleTokens(e interp.Event) {
	ctx := context.Background()
	if v, ok := payloadInt(e.Payload, "tokens_in"); ok {
		h.tokensIn.Record(ctx, int64(v))
	}
	if v, ok := payloadInt(e.Payload, "tokens_out"); ok {
		h.tokensOut.Record(ctx, int64(v))
	}
}

func (h *MetricsHandler) handleFailed(e interp.Event) {
	h.failures.Add(context.Background(), 1)
}

func (h *MetricsHandler) handleFinished(e interp.Event) {
	h.runDuration.Record(context.Background(), e.Elapsed.Seconds(), metric.WithAttributes(
		attribute.String("run_id", e.RunID),
	))
}
