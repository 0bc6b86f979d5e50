// Package funcflow provides the data model, validator, and inference
// capability for Blueprint-style function graphs: typed nodes joined by
// execution-flow and data-flow edges, executed against an LLM backend.
//
// The root package contains only data types and pure functions. Execution
// lives in the interp subpackage, admission control in scheduler, and the
// durable batch-job registry in batchstore.
package funcflow

// DataType identifies the type of a node pin.
type DataType string

const (
	DataTypeExec    DataType = "exec"
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeBoolean DataType = "boolean"
	DataTypeImage   DataType = "image"
	DataTypeArray   DataType = "array"
	DataTypeObject  DataType = "object"
	DataTypeAny     DataType = "any"
)

// String returns the string representation of the DataType.
func (t DataType) String() string {
	return string(t)
}

// typePair is a directed (from, to) entry in the conversion table.
type typePair struct {
	from DataType
	to   DataType
}

// dataTypeCompat lists the allowed widening conversions between pin types.
// Identity and any-compatibility are handled in CanConvert directly.
var dataTypeCompat = map[typePair]bool{
	{DataTypeNumber, DataTypeString}:  true,
	{DataTypeBoolean, DataTypeString}: true,
	{DataTypeNumber, DataTypeBoolean}: true,
	{DataTypeString, DataTypeNumber}:  true,
	{DataTypeString, DataTypeBoolean}: true,
	{DataTypeArray, DataTypeString}:   true,
	{DataTypeString, DataTypeArray}:   true,
	{DataTypeObject, DataTypeString}:  true,
	{DataTypeString, DataTypeObject}:  true,
	{DataTypeBoolean, DataTypeNumber}: true,
}

// CanConvert reports whether a value edge from one pin type may feed a pin
// of another type. Identity is always allowed, and "any" is universally
// compatible in either position.
func CanConvert(from, to DataType) bool {
	if from == to {
		return true
	}
	if from == DataTypeAny || to == DataTypeAny {
		return true
	}
	return dataTypeCompat[typePair{from, to}]
}

// NodeType identifies the type of a function-graph node.
// The set is closed; unrecognized types execute as pass-through no-ops.
type NodeType string

const (
	// Control flow
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeBranch    NodeType = "branch"
	NodeTypeSwitch    NodeType = "switch"
	NodeTypeForEach   NodeType = "for_each"
	NodeTypeWhileLoop NodeType = "while_loop"
	NodeTypeSequence  NodeType = "sequence"

	// AI
	NodeTypeLLMCall        NodeType = "llm_call"
	NodeTypePromptBuilder  NodeType = "prompt_builder"
	NodeTypeResponseParser NodeType = "response_parser"
	NodeTypeImageGenerator NodeType = "image_generator"

	// Data processing
	NodeTypeMath        NodeType = "math"
	NodeTypeCompare     NodeType = "compare"
	NodeTypeStringOp    NodeType = "string_op"
	NodeTypeArrayOp     NodeType = "array_op"
	NodeTypeJSONParse   NodeType = "json_parse"
	NodeTypeJSONPath    NodeType = "json_path"
	NodeTypeTypeConvert NodeType = "type_convert"

	// Variables
	NodeTypeGetVariable NodeType = "get_variable"
	NodeTypeSetVariable NodeType = "set_variable"
	NodeTypeMakeLiteral NodeType = "make_literal"
	NodeTypeGetParam    NodeType = "get_param"
)

// String returns the string representation of the NodeType.
func (t NodeType) String() string {
	return string(t)
}

// NodeCategory groups node types for display and tooling.
type NodeCategory string

const (
	CategoryControlFlow NodeCategory = "control_flow"
	CategoryAI          NodeCategory = "ai"
	CategoryData        NodeCategory = "data"
	CategoryVariables   NodeCategory = "variables"
)

var nodeCategories = map[NodeType]NodeCategory{
	NodeTypeStart:          CategoryControlFlow,
	NodeTypeEnd:            CategoryControlFlow,
	NodeTypeBranch:         CategoryControlFlow,
	NodeTypeSwitch:         CategoryControlFlow,
	NodeTypeForEach:        CategoryControlFlow,
	NodeTypeWhileLoop:      CategoryControlFlow,
	NodeTypeSequence:       CategoryControlFlow,
	NodeTypeLLMCall:        CategoryAI,
	NodeTypePromptBuilder:  CategoryAI,
	NodeTypeResponseParser: CategoryAI,
	NodeTypeImageGenerator: CategoryAI,
	NodeTypeMath:           CategoryData,
	NodeTypeCompare:        CategoryData,
	NodeTypeStringOp:       CategoryData,
	NodeTypeArrayOp:        CategoryData,
	NodeTypeJSONParse:      CategoryData,
	NodeTypeJSONPath:       CategoryData,
	NodeTypeTypeConvert:    CategoryData,
	NodeTypeGetVariable:    CategoryVariables,
	NodeTypeSetVariable:    CategoryVariables,
	NodeTypeMakeLiteral:    CategoryVariables,
	NodeTypeGetParam:       CategoryVariables,
}

// Category returns the category of the node type, or an empty category for
// unrecognized types.
func (t NodeType) Category() NodeCategory {
	return nodeCategories[t]
}

// pureNodeTypes is the set of node types with no execution pins.
// Pure nodes are evaluated lazily and cached per pass; impure nodes run
// exactly when the control chain reaches them.
var pureNodeTypes = map[NodeType]bool{
	NodeTypePromptBuilder: true,
	NodeTypeMath:          true,
	NodeTypeCompare:       true,
	NodeTypeStringOp:      true,
	NodeTypeArrayOp:       true,
	NodeTypeJSONParse:     true,
	NodeTypeJSONPath:      true,
	NodeTypeTypeConvert:   true,
	NodeTypeGetVariable:   true,
	NodeTypeMakeLiteral:   true,
	NodeTypeGetParam:      true,
}

// IsPure reports whether the node type is side-effect-free (no exec pins).
func (t NodeType) IsPure() bool {
	return pureNodeTypes[t]
}

// DisplayName returns the human-readable name used in progress events.
func (t NodeType) DisplayName() string {
	names := map[NodeType]string{
		NodeTypeStart:          "Start",
		NodeTypeEnd:            "End",
		NodeTypeBranch:         "Branch",
		NodeTypeSwitch:         "Switch",
		NodeTypeForEach:        "ForEach",
		NodeTypeWhileLoop:      "While",
		NodeTypeSequence:       "Sequence",
		NodeTypeLLMCall:        "LLM Call",
		NodeTypePromptBuilder:  "Prompt Builder",
		NodeTypeResponseParser: "Response Parser",
		NodeTypeImageGenerator: "Image Gen",
		NodeTypeMath:           "Math",
		NodeTypeCompare:        "Compare",
		NodeTypeStringOp:       "String",
		NodeTypeArrayOp:        "Array",
		NodeTypeJSONParse:      "JSON Parse",
		NodeTypeJSONPath:       "JSON Path",
		NodeTypeTypeConvert:    "Type Convert",
		NodeTypeGetVariable:    "Get Var",
		NodeTypeSetVariable:    "Set Var",
		NodeTypeMakeLiteral:    "Literal",
		NodeTypeGetParam:       "Get Param",
	}
	if name, ok := names[t]; ok {
		return name
	}
	return string(t)
}

// loopBodyPorts is the set of exec source ports whose edges re-enter a loop
// body. These edges are excluded from acyclicity validation.
var loopBodyPorts = map[string]bool{
	"loop_body": true,
}

// IsLoopBodyPort reports whether the exec source port feeds a loop body.
func IsLoopBodyPort(portID string) bool {
	return loopBodyPorts[portID]
}
