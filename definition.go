package funcflow

import (
	"time"

	"github.com/google/uuid"
)

// EdgeType discriminates execution-flow edges from data-flow edges.
type EdgeType string

const (
	EdgeTypeExec EdgeType = "exec"
	EdgeTypeData EdgeType = "data"
)

// FunctionNode is a node within a function graph. Config is free-form
// per-type configuration; X and Y are opaque editor coordinates carried
// through serialization untouched.
type FunctionNode struct {
	NodeID   string         `json:"node_id"`
	NodeType NodeType       `json:"node_type"`
	X        float64        `json:"x,omitempty"`
	Y        float64        `json:"y,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// ConfigString returns a string config value, or def when absent or not a
// string.
func (n FunctionNode) ConfigString(key, def string) string {
	if v, ok := n.Config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// ConfigInt returns an integer config value, accepting JSON's float64
// representation, or def when absent.
func (n FunctionNode) ConfigInt(key string, def int) int {
	switch v := n.Config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// FunctionEdge connects a source port to a target port. Exec edges carry
// control flow; data edges carry lazily resolved values.
type FunctionEdge struct {
	EdgeID       string   `json:"edge_id"`
	SourceNodeID string   `json:"source_node_id"`
	SourcePortID string   `json:"source_port_id"`
	TargetNodeID string   `json:"target_node_id"`
	TargetPortID string   `json:"target_port_id"`
	EdgeType     EdgeType `json:"edge_type"`
}

// FunctionParameter declares a named, typed input of a function.
type FunctionParameter struct {
	Name      string   `json:"name"`
	ParamType DataType `json:"param_type"`
}

// FunctionOutput describes an output extracted from an End node.
type FunctionOutput struct {
	Name   string `json:"name"`
	NodeID string `json:"node_id"`
}

// FunctionDefinition is the complete serializable definition of a function
// graph: the unit of storage and of one execution request.
//
// The interpreter never mutates a definition. Callers that share a
// definition across concurrent runs should hand each run its own Clone.
type FunctionDefinition struct {
	FunctionID  string              `json:"function_id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Version     int                 `json:"version"`
	Nodes       []FunctionNode      `json:"nodes"`
	Edges       []FunctionEdge      `json:"edges"`
	Parameters  []FunctionParameter `json:"parameters,omitempty"`
	Variables   []string            `json:"variables,omitempty"`
	CreatedAt   time.Time           `json:"created_at,omitempty"`
	UpdatedAt   time.Time           `json:"updated_at,omitempty"`
}

// NewDefinition creates a minimal valid definition: a Start node wired to an
// End node producing the default "output".
func NewDefinition(name string) *FunctionDefinition {
	start := FunctionNode{
		NodeID:   uuid.New().String(),
		NodeType: NodeTypeStart,
	}
	end := FunctionNode{
		NodeID:   uuid.New().String(),
		NodeType: NodeTypeEnd,
		Config:   map[string]any{"output_name": "output"},
	}
	edge := FunctionEdge{
		EdgeID:       uuid.New().String(),
		SourceNodeID: start.NodeID,
		SourcePortID: "exec_out",
		TargetNodeID: end.NodeID,
		TargetPortID: "exec_in",
		EdgeType:     EdgeTypeExec,
	}
	now := time.Now().UTC()
	return &FunctionDefinition{
		FunctionID: uuid.New().String(),
		Name:       name,
		Version:    2,
		Nodes:      []FunctionNode{start, end},
		Edges:      []FunctionEdge{edge},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of the definition. Schedulers clone before each
// run so concurrent runs of the same definition never share node config.
func (d *FunctionDefinition) Clone() *FunctionDefinition {
	if d == nil {
		return nil
	}

	out := &FunctionDefinition{
		FunctionID:  d.FunctionID,
		Name:        d.Name,
		Description: d.Description,
		Version:     d.Version,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}

	out.Nodes = make([]FunctionNode, len(d.Nodes))
	for i, n := range d.Nodes {
		n.Config = cloneConfig(n.Config)
		out.Nodes[i] = n
	}

	out.Edges = make([]FunctionEdge, len(d.Edges))
	copy(out.Edges, d.Edges)

	if d.Parameters != nil {
		out.Parameters = make([]FunctionParameter, len(d.Parameters))
		copy(out.Parameters, d.Parameters)
	}
	if d.Variables != nil {
		out.Variables = make([]string, len(d.Variables))
		copy(out.Variables, d.Variables)
	}

	return out
}

// cloneConfig deep-copies a node config map one level of nesting at a time.
func cloneConfig(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case map[string]any:
			out[k] = cloneConfig(t)
		case []any:
			s := make([]any, len(t))
			copy(s, t)
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}

// NodeByID retrieves a node by its ID.
func (d *FunctionDefinition) NodeByID(id string) (FunctionNode, bool) {
	for _, n := range d.Nodes {
		if n.NodeID == id {
			return n, true
		}
	}
	return FunctionNode{}, false
}

// NodesOfType returns all nodes of the given type, in declaration order.
func (d *FunctionDefinition) NodesOfType(t NodeType) []FunctionNode {
	var out []FunctionNode
	for _, n := range d.Nodes {
		if n.NodeType == t {
			out = append(out, n)
		}
	}
	return out
}

// Outputs lists the outputs declared by the definition's End nodes.
func (d *FunctionDefinition) Outputs() []FunctionOutput {
	var out []FunctionOutput
	for _, n := range d.Nodes {
		if n.NodeType == NodeTypeEnd {
			out = append(out, FunctionOutput{
				Name:   n.ConfigString("output_name", "output"),
				NodeID: n.NodeID,
			})
		}
	}
	return out
}
