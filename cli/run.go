package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	funcflow "github.com/BDbread72/qonvo-sub000"
	"github.com/BDbread72/qonvo-sub000/batchstore"
	"github.com/BDbread72/qonvo-sub000/interp"
	"github.com/BDbread72/qonvo-sub000/llmprovider"
	"github.com/BDbread72/qonvo-sub000/loader"
	funcotel "github.com/BDbread72/qonvo-sub000/otel"
	"github.com/BDbread72/qonvo-sub000/scheduler"

	otelapi "go.opentelemetry.io/otel"
)

// Exit codes.
const (
	exitSuccess      = 0
	exitValidation   = 1
	exitRuntime      = 2
	exitFileNotFound = 3
	exitInputParse   = 4
	exitProvider     = 5
	exitTimeout      = 10
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a function graph file",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringP("input", "i", "", "Input text passed to the Start node")
	cmd.Flags().StringArray("param", nil, "Set a run parameter (repeatable, e.g. --param topic=tides)")
	cmd.Flags().IntP("samples", "n", 1, "Number of sampled outputs to produce")
	cmd.Flags().Int("max-steps", interp.DefaultMaxSteps, "Execution step budget")
	cmd.Flags().String("provider", "openai", "Inference provider name")
	cmd.Flags().String("model-key", "", "Environment variable holding the provider API key")
	cmd.Flags().String("system", "", "System prompt for inference calls")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().String("format", "pretty", "Output format: json | text | pretty")
	cmd.Flags().String("store-path", "", "Path to the batch job registry file")
	cmd.Flags().String("trace-endpoint", "", "OTLP/HTTP collector endpoint for trace export")
	cmd.Flags().Bool("events", false, "Print progress events to stderr")
	cmd.Flags().String("events-db", "", "SQLite file persisting run events for later replay")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	def, err := loadDefinitionForRun(cmd, filePath)
	if err != nil {
		return err
	}

	provider, err := resolveRunProvider(cmd)
	if err != nil {
		return err
	}

	in, err := buildRunInput(cmd, def)
	if err != nil {
		return err
	}

	ctx, cancel, timeout := runContext(cmd)
	defer cancel()

	shutdownTracing, tracing, err := setupRunTracing(cmd, ctx)
	if err != nil {
		return exitError(exitRuntime, "setting up tracing: %v", err)
	}
	defer func() {
		if tracing != nil {
			tracing.Flush()
		}
		_ = shutdownTracing(context.Background())
	}()

	events, err := setupRunEvents(cmd, tracing)
	if err != nil {
		return exitError(exitRuntime, "setting up event sinks: %v", err)
	}
	defer events.close()

	maxSteps, _ := cmd.Flags().GetInt("max-steps")
	it := interp.New(provider, interp.Options{
		MaxSteps:  maxSteps,
		Handler:   events.handler,
		Publisher: events.publisher,
	})

	samples, _ := cmd.Flags().GetInt("samples")
	if samples > 1 {
		return runSampled(cmd, ctx, timeout, it, provider, def, in, samples)
	}

	result, err := it.Execute(ctx, def, in)
	if err != nil {
		return runExecuteError(ctx, timeout, err)
	}
	return writeRunResult(cmd, result)
}

func loadDefinitionForRun(cmd *cobra.Command, filePath string) (*funcflow.FunctionDefinition, error) {
	def, err := loader.LoadDefinition(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		var verr *loader.ValidationError
		if errors.As(err, &verr) {
			printIssuesText(cmd.ErrOrStderr(), verr.Issues)
			return nil, exitError(exitValidation, "validation failed")
		}
		return nil, exitError(exitValidation, "%v", err)
	}
	return def, nil
}

func resolveRunProvider(cmd *cobra.Command) (funcflow.Provider, error) {
	name, _ := cmd.Flags().GetString("provider")
	keyEnv, _ := cmd.Flags().GetString("model-key")

	apiKey := ""
	if keyEnv != "" {
		apiKey = os.Getenv(keyEnv)
		if apiKey == "" {
			return nil, exitError(exitProvider, "environment variable %s is empty", keyEnv)
		}
	}

	provider, err := llmprovider.NewProvider(name, apiKey)
	if err != nil {
		return nil, exitError(exitProvider, "%v", err)
	}
	return provider, nil
}

// buildRunInput assembles the interpreter input from flags. Parameter
// values are parsed as JSON when possible so numbers, booleans, and
// composites keep their type; everything else stays a string.
func buildRunInput(cmd *cobra.Command, def *funcflow.FunctionDefinition) (interp.Input, error) {
	input, _ := cmd.Flags().GetString("input")
	system, _ := cmd.Flags().GetString("system")
	rawParams, _ := cmd.Flags().GetStringArray("param")

	params := make(map[string]funcflow.ParamValue, len(rawParams))
	for _, raw := range rawParams {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || name == "" {
			return interp.Input{}, exitError(exitInputParse, "invalid --param %q, expected name=value", raw)
		}
		params[name] = parseParamValue(value)
	}

	// Declared parameter types win over inferred ones.
	for _, p := range def.Parameters {
		if pv, ok := params[p.Name]; ok && p.ParamType != "" {
			pv.Type = p.ParamType
			params[p.Name] = pv
		}
	}

	return interp.Input{
		Input:        input,
		SystemPrompt: system,
		Parameters:   params,
	}, nil
}

func parseParamValue(value string) funcflow.ParamValue {
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		switch parsed.(type) {
		case float64:
			return funcflow.ParamValue{Type: funcflow.DataTypeNumber, Value: parsed}
		case bool:
			return funcflow.ParamValue{Type: funcflow.DataTypeBoolean, Value: parsed}
		case []any:
			return funcflow.ParamValue{Type: funcflow.DataTypeArray, Value: parsed}
		case map[string]any:
			return funcflow.ParamValue{Type: funcflow.DataTypeObject, Value: parsed}
		}
	}
	return funcflow.ParamValue{Type: funcflow.DataTypeString, Value: value}
}

func runContext(cmd *cobra.Command) (context.Context, context.CancelFunc, time.Duration) {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	return ctx, cancel, timeout
}

// setupRunTracing installs the OTLP pipeline and returns the tracing
// handler when an endpoint is configured. With no endpoint both returns
// are inert.
func setupRunTracing(cmd *cobra.Command, ctx context.Context) (func(context.Context) error, *funcotel.TracingHandler, error) {
	endpoint, _ := cmd.Flags().GetString("trace-endpoint")
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil, nil
	}

	shutdown, err := funcotel.Setup(ctx, funcotel.SetupConfig{
		Endpoint: endpoint,
		Insecure: true,
	})
	if err != nil {
		return nil, nil, err
	}

	tracing := funcotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("funcflow/run"))
	return shutdown, tracing, nil
}

func printEvent(w io.Writer, e interp.Event) {
	switch e.Kind {
	case interp.EventStepStarted:
		fmt.Fprintf(w, "[%d] %s %s\n", e.Seq, e.Kind, e.NodeID)
	case interp.EventRunFailed:
		fmt.Fprintf(w, "[%d] %s: %v\n", e.Seq, e.Kind, e.Payload["error"])
	default:
		fmt.Fprintf(w, "[%d] %s\n", e.Seq, e.Kind)
	}
}

func runSampled(cmd *cobra.Command, ctx context.Context, timeout time.Duration, it *interp.Interpreter, provider funcflow.Provider, def *funcflow.FunctionDefinition, in interp.Input, count int) error {
	var store *batchstore.Store
	if path, _ := cmd.Flags().GetString("store-path"); path != "" {
		store = batchstore.NewStore(path)
	}

	sampler, err := scheduler.NewSampler(scheduler.SamplerConfig{
		Scheduler:   scheduler.New(scheduler.Config{}),
		Provider:    provider,
		Interpreter: it,
		Store:       store,
		BoardName:   def.FunctionID,
	})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}

	if store != nil {
		cleanup, err := scheduler.NewCleanup(scheduler.CleanupConfig{Store: store})
		if err != nil {
			return exitError(exitRuntime, "%v", err)
		}
		cleanup.Start()
		defer func() { _ = cleanup.Stop(context.Background()) }()

		resumePendingBatches(cmd, ctx, sampler)
	}

	results, err := sampler.SampleFunction(ctx, def, in, count)
	if err != nil {
		return runExecuteError(ctx, timeout, err)
	}
	return writeSampleResults(cmd, results)
}

// resumePendingBatches repolls every batch job that survived a restart and
// reports each outcome before new sampling begins. Resumed polls run
// through ordinary scheduler admission ahead of the live request.
func resumePendingBatches(cmd *cobra.Command, ctx context.Context, sampler *scheduler.Sampler) {
	errOut := cmd.ErrOrStderr()
	outcomes := make(chan scheduler.ResumedBatch)
	n := sampler.ResumePendingBatches(ctx, func(rb scheduler.ResumedBatch) {
		outcomes <- rb
	})
	for i := 0; i < n; i++ {
		rb := <-outcomes
		if rb.Err != nil {
			fmt.Fprintf(errOut, "batch job %s failed: %v\n", rb.Job.JobName, rb.Err)
			continue
		}
		fmt.Fprintf(errOut, "batch job %s recovered %d samples\n", rb.Job.JobName, len(rb.Results))
	}
}

func runExecuteError(ctx context.Context, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return exitError(exitTimeout, "execution timed out after %s", timeout)
	}
	return exitError(exitRuntime, "%v", err)
}
