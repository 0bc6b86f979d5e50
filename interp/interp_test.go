package interp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	funcflow "github.com/BDbread72/qonvo-sub000"
)

// stubProvider answers Chat with a configurable function and never supports
// batched sampling.
type stubProvider struct {
	chat func(req funcflow.ChatRequest) (funcflow.ChatResponse, error)
}

func (s *stubProvider) Chat(_ context.Context, req funcflow.ChatRequest) (funcflow.ChatResponse, error) {
	if s.chat == nil {
		return funcflow.ChatResponse{Text: "ok"}, nil
	}
	return s.chat(req)
}

func (s *stubProvider) Sample(context.Context, funcflow.SampleRequest) ([]funcflow.SampleResult, error) {
	return nil, funcflow.ErrSamplingUnsupported
}

func testNode(id string, t funcflow.NodeType, cfg map[string]any) funcflow.FunctionNode {
	return funcflow.FunctionNode{NodeID: id, NodeType: t, Config: cfg}
}

func execEdge(src, srcPort, dst string) funcflow.FunctionEdge {
	return funcflow.FunctionEdge{
		EdgeID:       fmt.Sprintf("x-%s-%s-%s", src, srcPort, dst),
		SourceNodeID: src, SourcePortID: srcPort,
		TargetNodeID: dst, TargetPortID: "exec_in",
		EdgeType: funcflow.EdgeTypeExec,
	}
}

func dataEdge(src, srcPort, dst, dstPort string) funcflow.FunctionEdge {
	return funcflow.FunctionEdge{
		EdgeID:       fmt.Sprintf("d-%s-%s-%s-%s", src, srcPort, dst, dstPort),
		SourceNodeID: src, SourcePortID: srcPort,
		TargetNodeID: dst, TargetPortID: dstPort,
		EdgeType: funcflow.EdgeTypeData,
	}
}

func defOf(nodes []funcflow.FunctionNode, edges []funcflow.FunctionEdge) *funcflow.FunctionDefinition {
	return &funcflow.FunctionDefinition{
		FunctionID: "test-fn",
		Name:       "test",
		Nodes:      nodes,
		Edges:      edges,
	}
}

func collectEvents(t *testing.T) (EventHandler, *[]Event) {
	t.Helper()
	var events []Event
	return func(e Event) { events = append(events, e) }, &events
}

func countKind(events []Event, kind EventKind) int {
	n := 0
	for _, e := range events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func TestExecuteLLMSummarize(t *testing.T) {
	provider := &stubProvider{chat: func(req funcflow.ChatRequest) (funcflow.ChatResponse, error) {
		// Echo the prompt back so the test can observe substitution.
		return funcflow.ChatResponse{
			Text:            req.Messages[len(req.Messages)-1].Content,
			PromptTokens:    11,
			CandidateTokens: 7,
		}, nil
	}}

	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("llm", funcflow.NodeTypeLLMCall, map[string]any{
				"model":           "test-model",
				"prompt_template": "Summarize: {input}",
			}),
			testNode("end", funcflow.NodeTypeEnd, map[string]any{"output_name": "summary"}),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "llm"),
			execEdge("llm", "exec_out", "end"),
			dataEdge("llm", "response", "end", "result"),
		},
	)

	handler, events := collectEvents(t)
	it := New(provider, Options{Handler: handler})
	res, err := it.Execute(context.Background(), def, Input{Input: "volcanoes"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Outputs["summary"]; got != "Summarize: volcanoes" {
		t.Errorf("summary = %v, want %q", got, "Summarize: volcanoes")
	}
	if res.TokensIn != 11 || res.TokensOut != 7 {
		t.Errorf("tokens = %d/%d, want 11/7", res.TokensIn, res.TokensOut)
	}
	if n := countKind(*events, EventRunFinished); n != 1 {
		t.Errorf("run.finished count = %d, want 1", n)
	}
	if n := countKind(*events, EventRunFailed); n != 0 {
		t.Errorf("run.failed count = %d, want 0", n)
	}
	if n := countKind(*events, EventStepStarted); n != 2 {
		t.Errorf("step.started count = %d, want 2", n)
	}
	if n := countKind(*events, EventTokensReceived); n != 1 {
		t.Errorf("tokens.received count = %d, want 1", n)
	}
}

func TestExecuteLLMErrorDegradesOutput(t *testing.T) {
	provider := &stubProvider{chat: func(funcflow.ChatRequest) (funcflow.ChatResponse, error) {
		return funcflow.ChatResponse{}, errors.New("backend down")
	}}

	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("llm", funcflow.NodeTypeLLMCall, map[string]any{
				"model":           "test-model",
				"prompt_template": "{input}",
			}),
			testNode("end", funcflow.NodeTypeEnd, nil),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "llm"),
			execEdge("llm", "exec_out", "end"),
			dataEdge("llm", "response", "end", "result"),
		},
	)

	handler, events := collectEvents(t)
	it := New(provider, Options{Handler: handler})
	res, err := it.Execute(context.Background(), def, Input{Input: "hi"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	out, _ := res.Outputs["output"].(string)
	if !strings.HasPrefix(out, "[LLM Error]") {
		t.Errorf("output = %q, want an inline error marker", out)
	}
	// A node failure surfaces as a visible, non-terminal error event while
	// the run still finishes.
	if n := countKind(*events, EventRunFailed); n != 1 {
		t.Errorf("run.failed count = %d, want 1", n)
	}
	if n := countKind(*events, EventRunFinished); n != 1 {
		t.Errorf("run.finished count = %d, want 1", n)
	}
}

func TestExecutePromptSubstitution(t *testing.T) {
	var gotPrompt string
	provider := &stubProvider{chat: func(req funcflow.ChatRequest) (funcflow.ChatResponse, error) {
		gotPrompt = req.Messages[len(req.Messages)-1].Content
		return funcflow.ChatResponse{Text: "done"}, nil
	}}

	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("set", funcflow.NodeTypeSetVariable, map[string]any{"var_name": "mood"}),
			testNode("lit", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "string", "value": "calm"}),
			testNode("llm", funcflow.NodeTypeLLMCall, map[string]any{
				"model":           "m",
				"prompt_template": "{input} {var:mood} {param:topic} {var:missing} {in_3}",
			}),
			testNode("end", funcflow.NodeTypeEnd, nil),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "set"),
			execEdge("set", "exec_out", "llm"),
			execEdge("llm", "exec_out", "end"),
			dataEdge("lit", "value", "set", "value"),
			dataEdge("llm", "response", "end", "result"),
		},
	)

	it := New(provider, Options{})
	_, err := it.Execute(context.Background(), def, Input{
		Input: "go",
		Parameters: map[string]funcflow.ParamValue{
			"topic": {Type: funcflow.DataTypeString, Value: "rivers"},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// Unresolved {var:missing} and {in_3} placeholders are stripped.
	if want := "go calm rivers  "; gotPrompt != want {
		t.Errorf("prompt = %q, want %q", gotPrompt, want)
	}
}

func TestExecuteBranch(t *testing.T) {
	provider := &stubProvider{}
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("cond", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "boolean", "value": "true"}),
			testNode("br", funcflow.NodeTypeBranch, nil),
			testNode("yes", funcflow.NodeTypeMakeLiteral, nil), // placeholder targets
			testNode("endT", funcflow.NodeTypeEnd, map[string]any{"output_name": "taken"}),
			testNode("endF", funcflow.NodeTypeEnd, map[string]any{"output_name": "not_taken"}),
			testNode("litT", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "string", "value": "T"}),
			testNode("litF", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "string", "value": "F"}),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "br"),
			{EdgeID: "t", SourceNodeID: "br", SourcePortID: "true", TargetNodeID: "endT", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			{EdgeID: "f", SourceNodeID: "br", SourcePortID: "false", TargetNodeID: "endF", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			dataEdge("cond", "value", "br", "condition"),
			dataEdge("litT", "value", "endT", "result"),
			dataEdge("litF", "value", "endF", "result"),
		},
	)

	it := New(provider, Options{})
	res, err := it.Execute(context.Background(), def, Input{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Outputs["taken"]; got != "T" {
		t.Errorf(`Outputs["taken"] = %v, want "T"`, got)
	}
	if _, ok := res.Outputs["not_taken"]; ok {
		t.Errorf("false branch ran: %v", res.Outputs)
	}
}

func TestExecuteSwitch(t *testing.T) {
	provider := &stubProvider{}
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("val", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "string", "value": "beta"}),
			testNode("sw", funcflow.NodeTypeSwitch, map[string]any{"cases": []any{"alpha", "beta"}}),
			testNode("end0", funcflow.NodeTypeEnd, map[string]any{"output_name": "zero"}),
			testNode("end1", funcflow.NodeTypeEnd, map[string]any{"output_name": "one"}),
			testNode("endD", funcflow.NodeTypeEnd, map[string]any{"output_name": "default"}),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "sw"),
			{EdgeID: "c0", SourceNodeID: "sw", SourcePortID: "case_0", TargetNodeID: "end0", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			{EdgeID: "c1", SourceNodeID: "sw", SourcePortID: "case_1", TargetNodeID: "end1", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			{EdgeID: "cd", SourceNodeID: "sw", SourcePortID: "default", TargetNodeID: "endD", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			dataEdge("val", "value", "sw", "value"),
		},
	)

	it := New(provider, Options{})
	res, err := it.Execute(context.Background(), def, Input{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, ok := res.Outputs["one"]; !ok {
		t.Errorf("case_1 did not run: %v", res.Outputs)
	}
	if len(res.Outputs) != 1 {
		t.Errorf("extra branches ran: %v", res.Outputs)
	}
}

func TestExecuteForEachAccumulates(t *testing.T) {
	provider := &stubProvider{}
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("arr", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "array", "value": "[1,2,3]"}),
			testNode("fe", funcflow.NodeTypeForEach, nil),
			testNode("getAcc", funcflow.NodeTypeGetVariable, map[string]any{"var_name": "acc"}),
			testNode("add", funcflow.NodeTypeMath, map[string]any{"op": "+"}),
			testNode("setAcc", funcflow.NodeTypeSetVariable, map[string]any{"var_name": "acc"}),
			testNode("getFinal", funcflow.NodeTypeGetVariable, map[string]any{"var_name": "acc"}),
			testNode("end", funcflow.NodeTypeEnd, map[string]any{"output_name": "sum"}),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "fe"),
			{EdgeID: "body", SourceNodeID: "fe", SourcePortID: "loop_body", TargetNodeID: "setAcc", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			{EdgeID: "done", SourceNodeID: "fe", SourcePortID: "completed", TargetNodeID: "end", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			dataEdge("arr", "value", "fe", "array"),
			dataEdge("getAcc", "value", "add", "a"),
			dataEdge("fe", "element", "add", "b"),
			dataEdge("add", "result", "setAcc", "value"),
			dataEdge("getFinal", "value", "end", "result"),
		},
	)

	it := New(provider, Options{})
	res, err := it.Execute(context.Background(), def, Input{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Outputs["sum"]; got != float64(6) {
		t.Errorf("sum = %v (%T), want 6", got, got)
	}
}

func TestExecuteWhileLoopCountsIndex(t *testing.T) {
	provider := &stubProvider{}
	// Loop while acc < 5; body sets acc = acc + 1. The condition check
	// reuses the pure cache filled during the previous body pass, so it
	// observes acc one increment behind and the loop runs once more before
	// breaking: the final value is 6.
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("wl", funcflow.NodeTypeWhileLoop, nil),
			testNode("getAcc", funcflow.NodeTypeGetVariable, map[string]any{"var_name": "acc"}),
			testNode("cmp", funcflow.NodeTypeCompare, map[string]any{"op": "<"}),
			testNode("limit", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "number", "value": "5"}),
			testNode("inc", funcflow.NodeTypeMath, map[string]any{"op": "+"}),
			testNode("one", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "number", "value": "1"}),
			testNode("setAcc", funcflow.NodeTypeSetVariable, map[string]any{"var_name": "acc"}),
			testNode("getFinal", funcflow.NodeTypeGetVariable, map[string]any{"var_name": "acc"}),
			testNode("end", funcflow.NodeTypeEnd, map[string]any{"output_name": "count"}),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "wl"),
			{EdgeID: "body", SourceNodeID: "wl", SourcePortID: "loop_body", TargetNodeID: "setAcc", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			{EdgeID: "done", SourceNodeID: "wl", SourcePortID: "completed", TargetNodeID: "end", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			dataEdge("getAcc", "value", "cmp", "a"),
			dataEdge("limit", "value", "cmp", "b"),
			dataEdge("cmp", "result", "wl", "condition"),
			dataEdge("getAcc", "value", "inc", "a"),
			dataEdge("one", "value", "inc", "b"),
			dataEdge("inc", "result", "setAcc", "value"),
			dataEdge("getFinal", "value", "end", "result"),
		},
	)

	it := New(provider, Options{})
	res, err := it.Execute(context.Background(), def, Input{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Outputs["count"]; got != float64(6) {
		t.Errorf("count = %v (%T), want 6", got, got)
	}
}

func TestExecuteSequenceFansOutThenContinues(t *testing.T) {
	provider := &stubProvider{}
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("seq", funcflow.NodeTypeSequence, map[string]any{"output_count": 2}),
			testNode("setA", funcflow.NodeTypeSetVariable, map[string]any{"var_name": "a"}),
			testNode("setB", funcflow.NodeTypeSetVariable, map[string]any{"var_name": "b"}),
			testNode("litA", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "string", "value": "first"}),
			testNode("litB", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "string", "value": "second"}),
			testNode("getB", funcflow.NodeTypeGetVariable, map[string]any{"var_name": "b"}),
			testNode("end", funcflow.NodeTypeEnd, map[string]any{"output_name": "last"}),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "seq"),
			{EdgeID: "t0", SourceNodeID: "seq", SourcePortID: "then_0", TargetNodeID: "setA", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			{EdgeID: "t1", SourceNodeID: "seq", SourcePortID: "then_1", TargetNodeID: "setB", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			execEdge("seq", "exec_out", "end"),
			dataEdge("litA", "value", "setA", "value"),
			dataEdge("litB", "value", "setB", "value"),
			dataEdge("getB", "value", "end", "result"),
		},
	)

	it := New(provider, Options{})
	res, err := it.Execute(context.Background(), def, Input{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Outputs["last"]; got != "second" {
		t.Errorf("last = %v, want %q", got, "second")
	}
}

func TestExecuteStepBudgetAborts(t *testing.T) {
	provider := &stubProvider{}
	// Condition is always true; only the step ceiling can stop this.
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("wl", funcflow.NodeTypeWhileLoop, nil),
			testNode("always", funcflow.NodeTypeMakeLiteral, map[string]any{"type": "boolean", "value": "true"}),
			testNode("noop", funcflow.NodeTypeSetVariable, map[string]any{"var_name": "x"}),
			testNode("end", funcflow.NodeTypeEnd, nil),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "wl"),
			{EdgeID: "body", SourceNodeID: "wl", SourcePortID: "loop_body", TargetNodeID: "noop", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			{EdgeID: "done", SourceNodeID: "wl", SourcePortID: "completed", TargetNodeID: "end", TargetPortID: "exec_in", EdgeType: funcflow.EdgeTypeExec},
			dataEdge("always", "value", "wl", "condition"),
		},
	)

	handler, events := collectEvents(t)
	it := New(provider, Options{MaxSteps: 10, Handler: handler})
	_, err := it.Execute(context.Background(), def, Input{})
	if err == nil {
		t.Fatal("Execute succeeded, want budget error")
	}
	if !strings.Contains(err.Error(), "Max steps exceeded (10)") {
		t.Errorf("err = %v, want a max-steps message", err)
	}
	if n := countKind(*events, EventRunFailed); n != 1 {
		t.Errorf("run.failed count = %d, want 1", n)
	}
	if n := countKind(*events, EventRunFinished); n != 0 {
		t.Errorf("run.finished count = %d, want 0", n)
	}
}

func TestExecuteCancelIsSilent(t *testing.T) {
	provider := &stubProvider{}
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("end", funcflow.NodeTypeEnd, nil),
		},
		[]funcflow.FunctionEdge{execEdge("start", "exec_out", "end")},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	handler, events := collectEvents(t)
	it := New(provider, Options{Handler: handler})
	_, err := it.Execute(ctx, def, Input{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := countKind(*events, EventRunFinished) + countKind(*events, EventRunFailed); n != 0 {
		t.Errorf("terminal event count = %d, want 0 on cancel", n)
	}
}

func TestExecuteValidationFailureEmitsError(t *testing.T) {
	provider := &stubProvider{}
	def := defOf([]funcflow.FunctionNode{testNode("end", funcflow.NodeTypeEnd, nil)}, nil)

	handler, events := collectEvents(t)
	it := New(provider, Options{Handler: handler})
	_, err := it.Execute(context.Background(), def, Input{})
	if err == nil {
		t.Fatal("Execute succeeded, want validation error")
	}
	if !strings.Contains(err.Error(), "Start node is required") {
		t.Errorf("err = %v, want a validation message", err)
	}
	if n := countKind(*events, EventRunFailed); n != 1 {
		t.Errorf("run.failed count = %d, want 1", n)
	}
	if n := countKind(*events, EventStepStarted); n != 0 {
		t.Errorf("step.started count = %d, want 0 before validation", n)
	}
}

func TestExecuteDataCycleResolvesAbsent(t *testing.T) {
	provider := &stubProvider{}
	// Two pure string nodes feeding each other; resolution must terminate
	// and answer with an absent value rather than recurse forever.
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("a", funcflow.NodeTypeStringOp, map[string]any{"op": "trim"}),
			testNode("b", funcflow.NodeTypeStringOp, map[string]any{"op": "trim"}),
			testNode("end", funcflow.NodeTypeEnd, nil),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "end"),
			dataEdge("b", "result", "a", "text"),
			dataEdge("a", "result", "b", "text"),
			dataEdge("a", "result", "end", "result"),
		},
	)

	it := New(provider, Options{})
	res, err := it.Execute(context.Background(), def, Input{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Outputs["output"]; got != "" {
		t.Errorf("output = %v, want empty", got)
	}
}

func TestExecuteGetParam(t *testing.T) {
	provider := &stubProvider{}
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("gp", funcflow.NodeTypeGetParam, map[string]any{"param_name": "city"}),
			testNode("end", funcflow.NodeTypeEnd, map[string]any{"output_name": "city"}),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "end"),
			dataEdge("gp", "value", "end", "result"),
		},
	)

	it := New(provider, Options{})
	res, err := it.Execute(context.Background(), def, Input{
		Parameters: map[string]funcflow.ParamValue{
			"city": {Type: funcflow.DataTypeString, Value: "Busan"},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := res.Outputs["city"]; got != "Busan" {
		t.Errorf("city = %v, want %q", got, "Busan")
	}
}

func TestExecuteEmptyOutputsDefault(t *testing.T) {
	provider := &stubProvider{}
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("end", funcflow.NodeTypeEnd, nil),
		},
		[]funcflow.FunctionEdge{execEdge("start", "exec_out", "end")},
	)

	it := New(provider, Options{})
	res, err := it.Execute(context.Background(), def, Input{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got, ok := res.Outputs["output"]; !ok || got != "" {
		t.Errorf("Outputs = %v, want default empty output", res.Outputs)
	}
}

func TestEventSequenceIsMonotonic(t *testing.T) {
	provider := &stubProvider{}
	def := defOf(
		[]funcflow.FunctionNode{
			testNode("start", funcflow.NodeTypeStart, nil),
			testNode("set", funcflow.NodeTypeSetVariable, map[string]any{"var_name": "v"}),
			testNode("end", funcflow.NodeTypeEnd, nil),
		},
		[]funcflow.FunctionEdge{
			execEdge("start", "exec_out", "set"),
			execEdge("set", "exec_out", "end"),
		},
	)

	handler, events := collectEvents(t)
	it := New(provider, Options{Handler: handler})
	if _, err := it.Execute(context.Background(), def, Input{}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	for i, e := range *events {
		if e.Seq != uint64(i+1) {
			t.Errorf("event %d Seq = %d, want %d", i, e.Seq, i+1)
		}
		if e.RunID == "" {
			t.Errorf("event %d has empty RunID", i)
		}
	}
}
