package interp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	funcflow "github.com/BDbread72/qonvo-sub000"
)

// Default execution budgets. The step budget is counted across the whole
// run, including every loop iteration and every fan-out branch.
const (
	DefaultMaxSteps          = 500
	DefaultMaxLoopIterations = 100
)

// errBudgetExceeded aborts a run whose step counter reached the ceiling.
var errBudgetExceeded = errors.New("step budget exceeded")

// Options configures an Interpreter.
type Options struct {
	// MaxSteps caps the total number of exec-chain steps for one run.
	// Zero means DefaultMaxSteps.
	MaxSteps int

	// MaxLoopIterations caps iterations of a single loop node. A node may
	// configure a lower limit but never a higher one. Zero means
	// DefaultMaxLoopIterations.
	MaxLoopIterations int

	// Handler receives every event the run emits. Optional.
	Handler EventHandler

	// Publisher additionally receives every event, typically a bus for
	// external subscribers. Optional.
	Publisher EventPublisher

	// Logger receives diagnostic output. Defaults to slog.Default().
	Logger *slog.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Interpreter executes function graphs against an inference provider.
// It is stateless across runs; all per-run state lives in the run value
// created by Execute, so a single Interpreter may serve concurrent runs.
type Interpreter struct {
	provider funcflow.Provider
	opts     Options
}

// New creates an Interpreter backed by the given provider.
func New(provider funcflow.Provider, opts Options) *Interpreter {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxLoopIterations <= 0 {
		opts.MaxLoopIterations = DefaultMaxLoopIterations
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Interpreter{provider: provider, opts: opts}
}

// Input carries the caller-supplied inputs for one run.
type Input struct {
	// Input is the primary text input, substituted for {input} in prompt
	// templates.
	Input string

	// Context is prior conversation history prepended to every inference
	// call the run makes.
	Context []funcflow.ChatMessage

	// SystemPrompt is passed through to the inference backend.
	SystemPrompt string

	// Parameters binds values to the definition's declared parameters.
	// Image-typed parameters are attached to inference calls instead of
	// being substituted into prompt text.
	Parameters map[string]funcflow.ParamValue

	// Options are backend-specific inference options merged into every
	// chat call.
	Options map[string]any
}

// Result is the outcome of a completed run.
type Result struct {
	RunID     string
	Outputs   map[string]any
	Images    [][]byte
	TokensIn  int
	TokensOut int
	Steps     int
}

// portKey addresses one data port of one node.
type portKey struct {
	nodeID string
	portID string
}

// run holds all mutable state of a single execution. The definition itself
// is never mutated.
type run struct {
	it  *Interpreter
	ctx context.Context
	def *funcflow.FunctionDefinition
	in  Input

	runID   string
	started time.Time
	seq     uint64

	nodesByID   map[string]funcflow.FunctionNode
	execEdges   map[string]map[string]string
	dataEdgesIn map[portKey]portKey

	variables   map[string]any
	nodeOutputs map[string]map[string]any
	pureCache   map[string]map[string]any

	outputs   map[string]any
	images    [][]byte
	tokensIn  int
	tokensOut int
	stepCount int

	// resolveVisited detects data-edge cycles during one root resolution.
	// Nil between resolutions; owned by the outermost resolveDataInput.
	resolveVisited map[portKey]bool
}

// Execute runs one function graph to completion.
//
// Progress is reported exclusively through events: zero or more step.started
// and tokens.received events, then exactly one terminal event: run.finished
// on success or run.failed on a fatal error. Node-local inference failures
// emit a non-terminal run.failed event and degrade the node's output without
// stopping the run.
//
// Cancellation via ctx is cooperative, checked between steps. A cancelled
// run stops silently with no terminal event and returns ctx.Err().
func (it *Interpreter) Execute(ctx context.Context, def *funcflow.FunctionDefinition, in Input) (*Result, error) {
	r := &run{
		it:          it,
		ctx:         ctx,
		def:         def,
		in:          in,
		runID:       uuid.New().String(),
		started:     it.opts.Now(),
		nodesByID:   make(map[string]funcflow.FunctionNode, len(def.Nodes)),
		execEdges:   make(map[string]map[string]string),
		dataEdgesIn: make(map[portKey]portKey),
		variables:   make(map[string]any),
		nodeOutputs: make(map[string]map[string]any),
		pureCache:   make(map[string]map[string]any),
		outputs:     make(map[string]any),
	}

	if errs := funcflow.Validate(def); len(errs) > 0 {
		err := fmt.Errorf("Graph: %s", strings.Join(errs, "; "))
		r.emitFailed(err.Error())
		return nil, err
	}

	r.buildMaps()

	if err := r.executeGraph(); err != nil {
		if ctx.Err() != nil {
			// Cancelled: silent stop, no terminal event.
			return nil, ctx.Err()
		}
		r.emitFailed(err.Error())
		return nil, err
	}

	outputs := r.outputs
	if len(outputs) == 0 {
		outputs = map[string]any{"output": ""}
	}

	ev := NewEvent(EventRunFinished, r.runID).
		WithElapsed(it.opts.Now().Sub(r.started)).
		WithPayload("outputs", outputs).
		WithPayload("images", len(r.images))
	r.emit(ev)

	return &Result{
		RunID:     r.runID,
		Outputs:   outputs,
		Images:    r.images,
		TokensIn:  r.tokensIn,
		TokensOut: r.tokensOut,
		Steps:     r.stepCount,
	}, nil
}

// buildMaps indexes the definition's nodes and edges for O(1) lookup and
// seeds the Start node's outputs with the caller's parameter bindings.
func (r *run) buildMaps() {
	for _, n := range r.def.Nodes {
		r.nodesByID[n.NodeID] = n
	}

	for _, e := range r.def.Edges {
		if e.EdgeType == funcflow.EdgeTypeExec {
			ports := r.execEdges[e.SourceNodeID]
			if ports == nil {
				ports = make(map[string]string)
				r.execEdges[e.SourceNodeID] = ports
			}
			ports[e.SourcePortID] = e.TargetNodeID
		} else {
			r.dataEdgesIn[portKey{e.TargetNodeID, e.TargetPortID}] = portKey{e.SourceNodeID, e.SourcePortID}
		}
	}

	for _, n := range r.def.Nodes {
		if n.NodeType != funcflow.NodeTypeStart {
			continue
		}
		outputs := make(map[string]any)
		for _, p := range r.def.Parameters {
			if pv, ok := r.in.Parameters[p.Name]; ok {
				outputs[p.Name] = pv.Value
			} else {
				outputs[p.Name] = ""
			}
		}
		r.nodeOutputs[n.NodeID] = outputs
	}
}

// executeGraph walks the exec chain from the Start node.
func (r *run) executeGraph() error {
	var startID string
	for _, n := range r.def.Nodes {
		if n.NodeType == funcflow.NodeTypeStart {
			startID = n.NodeID
			break
		}
	}

	nextID := r.execEdges[startID]["exec_out"]
	for nextID != "" && r.stepCount < r.it.opts.MaxSteps {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		node, ok := r.nodesByID[nextID]
		if !ok {
			return fmt.Errorf("Node not found: %s", nextID)
		}

		r.stepCount++
		r.emitStep(node)

		var err error
		nextID, err = r.dispatch(node)
		if err != nil {
			return err
		}
	}

	if r.stepCount >= r.it.opts.MaxSteps {
		return fmt.Errorf("Max steps exceeded (%d): %w", r.it.opts.MaxSteps, errBudgetExceeded)
	}
	return nil
}

// nextExec returns the exec target wired to the given source port, or ""
// when the port is unconnected.
func (r *run) nextExec(nodeID, portID string) string {
	return r.execEdges[nodeID][portID]
}

// collectEndOutput stores the End node's resolved result under its
// configured output name.
func (r *run) collectEndOutput(node funcflow.FunctionNode) {
	result := r.resolveDataInput(node.NodeID, "result")
	name := node.ConfigString("output_name", "output")
	if result == nil {
		result = ""
	}
	r.outputs[name] = result
}

// resolveDataInput walks the data edge feeding (nodeID, portID) backward to
// a value. Pure sources are evaluated lazily with per-pass caching; impure
// sources answer with their last stored outputs. Returns nil for an unwired
// port, an unknown source, or a data-edge cycle.
func (r *run) resolveDataInput(nodeID, portID string) any {
	key := portKey{nodeID, portID}
	src, ok := r.dataEdgesIn[key]
	if !ok {
		return nil
	}

	isRoot := r.resolveVisited == nil
	if isRoot {
		r.resolveVisited = make(map[portKey]bool)
		defer func() { r.resolveVisited = nil }()
	}
	if r.resolveVisited[key] {
		return nil
	}
	r.resolveVisited[key] = true

	srcNode, ok := r.nodesByID[src.nodeID]
	if !ok {
		return nil
	}

	if srcNode.NodeType.IsPure() {
		return r.evaluatePureNode(srcNode)[src.portID]
	}
	return r.nodeOutputs[src.nodeID][src.portID]
}

// emit stamps the event with the run's sequence counter and fans it out to
// the handler and publisher.
func (r *run) emit(ev Event) {
	r.seq++
	ev.Seq = r.seq
	if h := r.it.opts.Handler; h != nil {
		h(ev)
	}
	if p := r.it.opts.Publisher; p != nil {
		p.Publish(ev)
	}
}

func (r *run) emitStep(node funcflow.FunctionNode) {
	ev := NewEvent(EventStepStarted, r.runID).
		WithNode(node.NodeID, node.NodeType).
		WithElapsed(r.it.opts.Now().Sub(r.started)).
		WithPayload("name", node.NodeType.DisplayName()).
		WithPayload("step", r.stepCount).
		WithPayload("total", len(r.def.Nodes))
	r.emit(ev)
}

func (r *run) emitTokens() {
	ev := NewEvent(EventTokensReceived, r.runID).
		WithElapsed(r.it.opts.Now().Sub(r.started)).
		WithPayload("tokens_in", r.tokensIn).
		WithPayload("tokens_out", r.tokensOut)
	r.emit(ev)
}

func (r *run) emitFailed(msg string) {
	ev := NewEvent(EventRunFailed, r.runID).
		WithElapsed(r.it.opts.Now().Sub(r.started)).
		WithPayload("error", msg)
	r.emit(ev)
}
