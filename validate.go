package funcflow

// Validate runs static structural checks on a definition and returns one
// message per violated rule. An empty result means the graph may run.
//
// The interpreter re-validates immediately before executing and aborts with
// an error event instead of starting when validation fails.
func Validate(def *FunctionDefinition) []string {
	var errs []string

	nodesByID := make(map[string]FunctionNode, len(def.Nodes))
	for _, n := range def.Nodes {
		nodesByID[n.NodeID] = n
	}

	// 1) Exactly one Start node.
	startNodes := def.NodesOfType(NodeTypeStart)
	switch {
	case len(startNodes) == 0:
		errs = append(errs, "Start node is required")
	case len(startNodes) > 1:
		errs = append(errs, "Only 1 Start node allowed")
	}

	// 2) At least one End node.
	endNodes := def.NodesOfType(NodeTypeEnd)
	if len(endNodes) == 0 {
		errs = append(errs, "At least 1 End node required")
	}

	// 3) Start must have an outgoing exec edge.
	if len(startNodes) > 0 {
		startID := startNodes[0].NodeID
		hasExecOut := false
		for _, e := range def.Edges {
			if e.SourceNodeID == startID && e.EdgeType == EdgeTypeExec {
				hasExecOut = true
				break
			}
		}
		if !hasExecOut {
			errs = append(errs, "Start node needs an exec connection")
		}
	}

	// 4) Every End must have an incoming exec edge.
	for _, end := range endNodes {
		hasExecIn := false
		for _, e := range def.Edges {
			if e.TargetNodeID == end.NodeID && e.EdgeType == EdgeTypeExec {
				hasExecIn = true
				break
			}
		}
		if !hasExecIn {
			errs = append(errs, "End node needs an exec connection")
		}
	}

	// 5) Edges must reference existing nodes.
	for _, e := range def.Edges {
		if _, ok := nodesByID[e.SourceNodeID]; !ok {
			errs = append(errs, "Edge references missing source node")
		}
		if _, ok := nodesByID[e.TargetNodeID]; !ok {
			errs = append(errs, "Edge references missing target node")
		}
	}

	// 6) The exec subgraph, excluding loop-body edges, must be acyclic.
	// Kahn's algorithm: if fewer nodes drain than exist, there is a cycle.
	if hasExecCycle(def, nodesByID) {
		errs = append(errs, "Graph has a cycle")
	}

	// 7) LLM Call nodes need both a model and a prompt.
	for _, n := range def.Nodes {
		if n.NodeType != NodeTypeLLMCall {
			continue
		}
		if n.ConfigString("model", "") == "" {
			errs = append(errs, "LLM Call node needs a model")
		}
		if n.ConfigString("prompt_template", "") == "" {
			errs = append(errs, "LLM Call node needs a prompt")
		}
	}

	return errs
}

// hasExecCycle detects a cycle in the exec-edge subgraph via topological
// ordering, skipping edges that leave a loop-body port.
func hasExecCycle(def *FunctionDefinition, nodesByID map[string]FunctionNode) bool {
	adj := make(map[string][]string, len(def.Nodes))
	inDegree := make(map[string]int, len(def.Nodes))
	for _, n := range def.Nodes {
		adj[n.NodeID] = nil
		inDegree[n.NodeID] = 0
	}

	for _, e := range def.Edges {
		if e.EdgeType != EdgeTypeExec || IsLoopBodyPort(e.SourcePortID) {
			continue
		}
		if _, ok := nodesByID[e.SourceNodeID]; !ok {
			continue
		}
		if _, ok := nodesByID[e.TargetNodeID]; !ok {
			continue
		}
		adj[e.SourceNodeID] = append(adj[e.SourceNodeID], e.TargetNodeID)
		inDegree[e.TargetNodeID]++
	}

	queue := make([]string, 0, len(def.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, target := range adj[id] {
			inDegree[target]--
			if inDegree[target] == 0 {
				queue = append(queue, target)
			}
		}
	}

	return visited != len(def.Nodes)
}
