package funcflow

import (
	"testing"
)

func containsMsg(errs []string, msg string) bool {
	for _, e := range errs {
		if e == msg {
			return true
		}
	}
	return false
}

func TestValidateMissingStart(t *testing.T) {
	def := &FunctionDefinition{
		Nodes: []FunctionNode{{NodeID: "e1", NodeType: NodeTypeEnd}},
	}
	errs := Validate(def)
	if !containsMsg(errs, "Start node is required") {
		t.Errorf("errors = %v, want a missing-Start message", errs)
	}
}

func TestValidateDuplicateStart(t *testing.T) {
	def := NewDefinition("dup")
	def.Nodes = append(def.Nodes, FunctionNode{NodeID: "s2", NodeType: NodeTypeStart})
	errs := Validate(def)
	if !containsMsg(errs, "Only 1 Start node allowed") {
		t.Errorf("errors = %v, want a duplicate-Start message", errs)
	}
}

func TestValidateMissingEnd(t *testing.T) {
	def := &FunctionDefinition{
		Nodes: []FunctionNode{{NodeID: "s1", NodeType: NodeTypeStart}},
	}
	errs := Validate(def)
	if !containsMsg(errs, "At least 1 End node required") {
		t.Errorf("errors = %v, want a missing-End message", errs)
	}
}

func TestValidateStartNeedsExec(t *testing.T) {
	def := NewDefinition("disconnected")
	def.Edges = nil
	errs := Validate(def)
	if !containsMsg(errs, "Start node needs an exec connection") {
		t.Errorf("errors = %v, want a Start exec-connection message", errs)
	}
	if !containsMsg(errs, "End node needs an exec connection") {
		t.Errorf("errors = %v, want an End exec-connection message", errs)
	}
}

func TestValidateDanglingEdge(t *testing.T) {
	def := NewDefinition("dangling")
	def.Edges = append(def.Edges, FunctionEdge{
		EdgeID:       "bad",
		SourceNodeID: "ghost-src",
		SourcePortID: "out",
		TargetNodeID: "ghost-dst",
		TargetPortID: "in",
		EdgeType:     EdgeTypeData,
	})
	errs := Validate(def)
	if !containsMsg(errs, "Edge references missing source node") {
		t.Errorf("errors = %v, want a missing-source message", errs)
	}
	if !containsMsg(errs, "Edge references missing target node") {
		t.Errorf("errors = %v, want a missing-target message", errs)
	}
}

func TestValidateExecCycle(t *testing.T) {
	def := NewDefinition("cyclic")
	def.Nodes = append(def.Nodes,
		FunctionNode{NodeID: "a", NodeType: NodeTypeSetVariable},
		FunctionNode{NodeID: "b", NodeType: NodeTypeSetVariable},
	)
	def.Edges = append(def.Edges,
		FunctionEdge{EdgeID: "ab", SourceNodeID: "a", SourcePortID: "exec_out", TargetNodeID: "b", TargetPortID: "exec_in", EdgeType: EdgeTypeExec},
		FunctionEdge{EdgeID: "ba", SourceNodeID: "b", SourcePortID: "exec_out", TargetNodeID: "a", TargetPortID: "exec_in", EdgeType: EdgeTypeExec},
	)
	errs := Validate(def)
	if !containsMsg(errs, "Graph has a cycle") {
		t.Errorf("errors = %v, want a cycle message", errs)
	}
}

func TestValidateLoopBodyEdgeIsNotACycle(t *testing.T) {
	// ForEach feeding its own completed path back through loop_body is the
	// normal loop shape and must not trip cycle detection.
	def := NewDefinition("loop")
	def.Nodes = append(def.Nodes,
		FunctionNode{NodeID: "fe", NodeType: NodeTypeForEach},
		FunctionNode{NodeID: "body", NodeType: NodeTypeSetVariable},
	)
	def.Edges = []FunctionEdge{
		{EdgeID: "1", SourceNodeID: def.Nodes[0].NodeID, SourcePortID: "exec_out", TargetNodeID: "fe", TargetPortID: "exec_in", EdgeType: EdgeTypeExec},
		{EdgeID: "2", SourceNodeID: "fe", SourcePortID: "loop_body", TargetNodeID: "body", TargetPortID: "exec_in", EdgeType: EdgeTypeExec},
		{EdgeID: "3", SourceNodeID: "fe", SourcePortID: "completed", TargetNodeID: def.Nodes[1].NodeID, TargetPortID: "exec_in", EdgeType: EdgeTypeExec},
	}
	errs := Validate(def)
	if containsMsg(errs, "Graph has a cycle") {
		t.Errorf("loop_body edge flagged as cycle: %v", errs)
	}
}

func TestValidateLLMCallConfig(t *testing.T) {
	def := NewDefinition("llm")
	def.Nodes = append(def.Nodes, FunctionNode{NodeID: "llm1", NodeType: NodeTypeLLMCall})
	errs := Validate(def)
	if !containsMsg(errs, "LLM Call node needs a model") {
		t.Errorf("errors = %v, want a missing-model message", errs)
	}
	if !containsMsg(errs, "LLM Call node needs a prompt") {
		t.Errorf("errors = %v, want a missing-prompt message", errs)
	}

	def.Nodes[2].Config = map[string]any{"model": "m1", "prompt_template": "{input}"}
	errs = Validate(def)
	if containsMsg(errs, "LLM Call node needs a model") || containsMsg(errs, "LLM Call node needs a prompt") {
		t.Errorf("configured LLM Call still flagged: %v", errs)
	}
}

func TestValidateCleanGraphHasNoErrors(t *testing.T) {
	if errs := Validate(NewDefinition("ok")); len(errs) != 0 {
		t.Errorf("Validate = %v, want empty", errs)
	}
}
