package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	funcflow "github.com/BDbread72/qonvo-sub000"
	"github.com/BDbread72/qonvo-sub000/batchstore"
	"github.com/BDbread72/qonvo-sub000/interp"
)

// imageModels produce image-bearing samples; a text-only batch result from
// one of these is a failure, not a degenerate success.
var imageModels = map[string]bool{
	"gemini-3-pro-image-preview": true,
	"gemini-2.5-flash-image":     true,
}

// IsImageModel reports whether the model's samples are expected to carry
// images.
func IsImageModel(model string) bool {
	return imageModels[model]
}

// batchableNodeTypes is the node set a graph may consist of and still be
// served by one batched sampling call instead of K interpreter runs.
var batchableNodeTypes = map[funcflow.NodeType]bool{
	funcflow.NodeTypeStart:    true,
	funcflow.NodeTypeEnd:      true,
	funcflow.NodeTypeLLMCall:  true,
	funcflow.NodeTypeGetParam: true,
}

// SamplerConfig configures a Sampler.
type SamplerConfig struct {
	Scheduler   *Scheduler
	Provider    funcflow.Provider
	Interpreter *interp.Interpreter

	// Store registers in-flight batch jobs so polling survives a process
	// restart. Optional.
	Store *batchstore.Store

	// BoardName tags registered jobs for later per-board resumption.
	BoardName string

	Logger *slog.Logger
}

// Sampler produces K independently sampled outputs of one function graph.
// For a simple enough graph it first tries a single cheaper batched request;
// anything else, or any batch failure, falls back to independent interpreter
// runs admitted through the scheduler.
type Sampler struct {
	sched     *Scheduler
	provider  funcflow.Provider
	interp    *interp.Interpreter
	store     *batchstore.Store
	boardName string
	logger    *slog.Logger
}

// NewSampler creates a Sampler.
func NewSampler(cfg SamplerConfig) (*Sampler, error) {
	if cfg.Scheduler == nil {
		return nil, errors.New("sampler scheduler is nil")
	}
	if cfg.Provider == nil {
		return nil, errors.New("sampler provider is nil")
	}
	if cfg.Interpreter == nil {
		return nil, errors.New("sampler interpreter is nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sampler{
		sched:     cfg.Scheduler,
		provider:  cfg.Provider,
		interp:    cfg.Interpreter,
		store:     cfg.Store,
		boardName: cfg.BoardName,
		logger:    cfg.Logger,
	}, nil
}

// SampleFunction produces count sampled outputs of the definition. The
// result always has exactly count entries unless the context is cancelled
// or every path fails.
func (s *Sampler) SampleFunction(ctx context.Context, def *funcflow.FunctionDefinition, in interp.Input, count int) ([]funcflow.SampleResult, error) {
	if count <= 0 {
		count = 1
	}

	var results []funcflow.SampleResult
	if llm, ok := batchEligible(def); ok {
		batch, err := s.tryBatch(ctx, def, llm, in, count)
		if err != nil {
			s.logger.Info("batched sampling unavailable, falling back",
				"function", def.FunctionID, "error", err)
		} else {
			results = batch
		}
	}

	if len(results) >= count {
		return results[:count], nil
	}

	// Deficit-only fallback: keep whatever the batch produced and re-run
	// only the missing count through ordinary admission.
	deficit := count - len(results)
	fallback, err := s.runParallel(ctx, def, in, deficit)
	if err != nil {
		return nil, err
	}
	return append(results, fallback...), nil
}

// batchEligible reports whether the graph is simple enough for one batched
// call: exactly one LLMCall, no node types beyond {Start, End, LLMCall,
// GetParam}, and a model the batch API can serve.
func batchEligible(def *funcflow.FunctionDefinition) (funcflow.FunctionNode, bool) {
	llmNodes := def.NodesOfType(funcflow.NodeTypeLLMCall)
	if len(llmNodes) != 1 {
		return funcflow.FunctionNode{}, false
	}
	for _, n := range def.Nodes {
		if !batchableNodeTypes[n.NodeType] {
			return funcflow.FunctionNode{}, false
		}
	}
	llm := llmNodes[0]
	if strings.HasPrefix(llm.ConfigString("model", ""), "imagen") {
		return funcflow.FunctionNode{}, false
	}
	return llm, true
}

// tryBatch issues one batched sampling request for the whole graph.
func (s *Sampler) tryBatch(ctx context.Context, def *funcflow.FunctionDefinition, llm funcflow.FunctionNode, in interp.Input, count int) ([]funcflow.SampleResult, error) {
	model := llm.ConfigString("model", "")
	prompt := buildBatchPrompt(llm, in)

	var jobName string
	onCreated := func(name string, keyIndex int) {
		jobName = name
		if s.store == nil {
			return
		}
		err := s.store.AddJob(batchstore.BatchJob{
			JobName:       name,
			BoardName:     s.boardName,
			NodeID:        llm.NodeID,
			Model:         model,
			IsImageModel:  IsImageModel(model),
			KeyIndex:      keyIndex,
			ExpectedCount: count,
		})
		if err != nil {
			s.logger.Warn("failed to register batch job", "job", name, "error", err)
		}
	}

	results, err := s.provider.Sample(ctx, funcflow.SampleRequest{
		Model:        model,
		Prompt:       prompt,
		Count:        count,
		Attachments:  imageParamPaths(in.Parameters),
		SystemPrompt: in.SystemPrompt,
		Options:      in.Options,
		OnJobCreated: onCreated,
	})
	if jobName != "" && s.store != nil {
		// The job is settled either way; a failed job must not be polled
		// again after a restart.
		if rmErr := s.store.RemoveJob(jobName); rmErr != nil {
			s.logger.Warn("failed to deregister batch job", "job", jobName, "error", rmErr)
		}
	}
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, errors.New("batch returned no results")
	}

	if IsImageModel(model) && !anyImages(results) {
		return nil, errNoImages
	}
	return results, nil
}

// runParallel admits count independent interpreter runs and collects their
// results in index order.
func (s *Sampler) runParallel(ctx context.Context, def *funcflow.FunctionDefinition, in interp.Input, count int) ([]funcflow.SampleResult, error) {
	results := make([]funcflow.SampleResult, count)
	errs := make([]error, count)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		idx := i
		// Snapshot at submission so a queued run executes the definition
		// as it was passed, not as the caller may have changed it since.
		runDef := def.Clone()
		wg.Add(1)
		s.sched.Submit(ctx, func(runCtx context.Context) {
			defer wg.Done()
			res, err := s.interp.Execute(runCtx, runDef, in)
			if err != nil {
				errs[idx] = err
				return
			}
			results[idx] = funcflow.SampleResult{
				Text:   primaryOutput(res.Outputs),
				Images: res.Images,
			}
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("sampled run %d: %w", i, err)
		}
	}
	return results, nil
}

// primaryOutput picks the run's representative text output: the "output"
// key when present, otherwise any single value.
func primaryOutput(outputs map[string]any) string {
	if v, ok := outputs["output"]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	for _, v := range outputs {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if v, ok := outputs["output"]; ok {
		return fmt.Sprintf("%v", v)
	}
	for _, v := range outputs {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

// buildBatchPrompt substitutes {input} and non-image {param:name}
// placeholders into the eligible LLMCall node's template. The simple-graph
// shape guarantees there are no numbered argument pins or variables to
// resolve.
func buildBatchPrompt(llm funcflow.FunctionNode, in interp.Input) string {
	template := llm.ConfigString("prompt_template", "{input}")
	prompt := strings.ReplaceAll(template, "{input}", in.Input)
	for name, pv := range in.Parameters {
		if pv.Type == funcflow.DataTypeImage {
			continue
		}
		prompt = strings.ReplaceAll(prompt, "{param:"+name+"}", paramString(pv.Value))
	}
	return prompt
}

func paramString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// imageParamPaths collects image-typed parameter values that point at
// existing files.
func imageParamPaths(params map[string]funcflow.ParamValue) []string {
	var paths []string
	for _, pv := range params {
		if pv.Type != funcflow.DataTypeImage {
			continue
		}
		path := paramString(pv.Value)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths
}

func anyImages(results []funcflow.SampleResult) bool {
	for _, r := range results {
		if len(r.Images) > 0 {
			return true
		}
	}
	return false
}
