package interp

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	funcflow "github.com/BDbread72/qonvo-sub000"
)

// evaluatePureNode computes a pure node's full output set, cached until the
// next cache invalidation (loop iteration boundary).
func (r *run) evaluatePureNode(node funcflow.FunctionNode) map[string]any {
	if cached, ok := r.pureCache[node.NodeID]; ok {
		return cached
	}

	var result map[string]any
	switch node.NodeType {
	case funcflow.NodeTypeMath:
		result = r.evalMath(node)
	case funcflow.NodeTypeCompare:
		result = r.evalCompare(node)
	case funcflow.NodeTypeStringOp:
		result = r.evalStringOp(node)
	case funcflow.NodeTypeArrayOp:
		result = r.evalArrayOp(node)
	case funcflow.NodeTypeJSONParse:
		result = r.evalJSONParse(node)
	case funcflow.NodeTypeJSONPath:
		result = r.evalJSONPath(node)
	case funcflow.NodeTypeTypeConvert:
		result = r.evalTypeConvert(node)
	case funcflow.NodeTypePromptBuilder:
		result = r.evalPromptBuilder(node)
	case funcflow.NodeTypeGetVariable:
		name := node.ConfigString("var_name", "")
		value, ok := r.variables[name]
		if !ok {
			value = ""
		}
		result = map[string]any{"value": value}
	case funcflow.NodeTypeGetParam:
		name := node.ConfigString("param_name", "")
		var value any = ""
		if pv, ok := r.in.Parameters[name]; ok {
			value = pv.Value
		}
		result = map[string]any{"value": value}
	case funcflow.NodeTypeMakeLiteral:
		result = map[string]any{"value": r.literalValue(node)}
	default:
		result = map[string]any{}
	}

	r.pureCache[node.NodeID] = result
	return result
}

func (r *run) evalMath(node funcflow.FunctionNode) map[string]any {
	a := toNumber(r.resolveDataInput(node.NodeID, "a"))
	b := toNumber(r.resolveDataInput(node.NodeID, "b"))
	op := node.ConfigString("op", "+")

	var result float64
	switch op {
	case "-":
		result = a - b
	case "*":
		result = a * b
	case "/":
		if b != 0 {
			result = a / b
		}
	case "%":
		if b != 0 {
			result = math.Mod(a, b)
		}
	case "pow":
		result = math.Pow(a, b)
	case "min":
		result = math.Min(a, b)
	case "max":
		result = math.Max(a, b)
	default:
		result = a + b
	}

	return map[string]any{"result": result}
}

func (r *run) evalCompare(node funcflow.FunctionNode) map[string]any {
	a := r.resolveDataInput(node.NodeID, "a")
	b := r.resolveDataInput(node.NodeID, "b")
	op := node.ConfigString("op", "==")

	aStr := toString(a)
	bStr := toString(b)

	var result bool
	switch op {
	case "!=":
		result = aStr != bStr
	case "<":
		result = toNumber(a) < toNumber(b)
	case ">":
		result = toNumber(a) > toNumber(b)
	case "<=":
		result = toNumber(a) <= toNumber(b)
	case ">=":
		result = toNumber(a) >= toNumber(b)
	case "contains":
		result = strings.Contains(strings.ToLower(aStr), strings.ToLower(bStr))
	case "starts_with":
		result = strings.HasPrefix(strings.ToLower(aStr), strings.ToLower(bStr))
	case "ends_with":
		result = strings.HasSuffix(strings.ToLower(aStr), strings.ToLower(bStr))
	default:
		result = aStr == bStr
	}

	return map[string]any{"result": result}
}

func (r *run) evalStringOp(node funcflow.FunctionNode) map[string]any {
	text := toString(r.resolveDataInput(node.NodeID, "text"))
	param := toString(r.resolveDataInput(node.NodeID, "param"))
	op := node.ConfigString("op", "trim")

	var result any
	switch op {
	case "replace":
		old, repl, _ := strings.Cut(param, "->")
		result = strings.ReplaceAll(text, old, repl)
	case "split":
		var parts []string
		if param != "" {
			parts = strings.Split(text, param)
		} else {
			parts = strings.Fields(text)
		}
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = p
		}
		result = out
	case "join":
		result = strings.Join(strings.Split(text, "\n"), param)
	case "upper":
		result = strings.ToUpper(text)
	case "lower":
		result = strings.ToLower(text)
	case "format":
		result = strings.ReplaceAll(param, "{text}", text)
	case "regex":
		re, err := regexp.Compile(param)
		if err != nil {
			result = ""
			break
		}
		if m := re.FindString(text); m != "" {
			result = m
		} else {
			result = ""
		}
	case "substring":
		result = substring(text, param)
	case "length":
		result = strconv.Itoa(len([]rune(text)))
	case "trim":
		result = strings.TrimSpace(text)
	default:
		result = text
	}

	return map[string]any{"result": result}
}

// substring slices text by a "start,end" spec with Python-style tolerance
// for out-of-range indices.
func substring(text, spec string) string {
	runes := []rune(text)
	parts := strings.Split(spec, ",")
	start := 0
	end := len(runes)
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		v, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return text
		}
		start = v
	}
	if len(parts) > 1 {
		v, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return text
		}
		end = v
	}
	if start < 0 {
		start = len(runes) + start
	}
	if end < 0 {
		end = len(runes) + end
	}
	start = clamp(start, 0, len(runes))
	end = clamp(end, 0, len(runes))
	if start >= end {
		return ""
	}
	return string(runes[start:end])
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (r *run) evalArrayOp(node funcflow.FunctionNode) map[string]any {
	array := toArray(r.resolveDataInput(node.NodeID, "array"))
	item := r.resolveDataInput(node.NodeID, "item")
	op := node.ConfigString("op", "push")

	array = append([]any(nil), array...)
	var element any

	switch op {
	case "push":
		array = append(array, item)
	case "pop":
		if len(array) > 0 {
			element = array[len(array)-1]
			array = array[:len(array)-1]
		}
	case "length":
		element = len(array)
	case "find":
		want := toString(item)
		for _, x := range array {
			if toString(x) == want {
				element = x
				break
			}
		}
	case "filter":
		var kept []any
		for _, x := range array {
			if x != nil && strings.TrimSpace(toString(x)) != "" {
				kept = append(kept, x)
			}
		}
		array = kept
	case "slice":
		spec := toString(item)
		if spec == "" {
			spec = "0"
		}
		parts := strings.Split(spec, ",")
		start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			break
		}
		end := len(array)
		if len(parts) > 1 {
			if v, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
				end = v
			} else {
				break
			}
		}
		if start < 0 {
			start = len(array) + start
		}
		if end < 0 {
			end = len(array) + end
		}
		start = clamp(start, 0, len(array))
		end = clamp(end, 0, len(array))
		if start >= end {
			array = []any{}
		} else {
			array = array[start:end]
		}
	case "sort":
		sort.SliceStable(array, func(i, j int) bool {
			return toString(array[i]) < toString(array[j])
		})
	case "reverse":
		for i, j := 0, len(array)-1; i < j; i, j = i+1, j-1 {
			array[i], array[j] = array[j], array[i]
		}
	case "flatten":
		var flat []any
		for _, x := range array {
			if inner, ok := x.([]any); ok {
				flat = append(flat, inner...)
			} else {
				flat = append(flat, x)
			}
		}
		array = flat
	}

	if array == nil {
		array = []any{}
	}
	return map[string]any{"result": array, "element": element}
}

func (r *run) evalJSONParse(node funcflow.FunctionNode) map[string]any {
	text := toString(r.resolveDataInput(node.NodeID, "text"))
	var obj any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		obj = map[string]any{}
	}
	return map[string]any{"object": obj}
}

func (r *run) evalJSONPath(node funcflow.FunctionNode) map[string]any {
	obj := r.resolveDataInput(node.NodeID, "object")
	path := r.resolveDataInput(node.NodeID, "path")
	pathStr := ""
	if path == nil {
		pathStr = node.ConfigString("default_path", "")
	} else {
		pathStr = toString(path)
	}

	value := toObjectOrArray(obj)
	if pathStr != "" {
		for _, part := range strings.Split(pathStr, ".") {
			if part == "" {
				continue
			}
			switch v := value.(type) {
			case map[string]any:
				value = v[part]
			case []any:
				idx, err := strconv.Atoi(part)
				if err != nil || idx < 0 || idx >= len(v) {
					value = nil
				} else {
					value = v[idx]
				}
			default:
				value = nil
			}
			if value == nil {
				break
			}
		}
	}

	return map[string]any{"value": value}
}

func (r *run) evalTypeConvert(node funcflow.FunctionNode) map[string]any {
	input := r.resolveDataInput(node.NodeID, "input")
	target := node.ConfigString("target_type", "string")

	var result any
	switch target {
	case "string":
		result = toString(input)
	case "number":
		result = toNumber(input)
	case "boolean":
		result = toBool(input)
	case "array":
		result = convertToArray(input)
	case "object":
		result = convertToObject(input)
	default:
		result = input
	}

	return map[string]any{"output": result}
}

func (r *run) evalPromptBuilder(node funcflow.FunctionNode) map[string]any {
	system := toString(r.resolveDataInput(node.NodeID, "system"))
	user := toString(r.resolveDataInput(node.NodeID, "user"))
	context := toString(r.resolveDataInput(node.NodeID, "context"))
	template := node.ConfigString("template", "{system}\n\n{user}\n\n{context}")

	prompt := strings.ReplaceAll(template, "{system}", system)
	prompt = strings.ReplaceAll(prompt, "{user}", user)
	prompt = strings.ReplaceAll(prompt, "{context}", context)
	return map[string]any{"prompt": strings.TrimSpace(prompt)}
}

// literalValue parses a MakeLiteral node's configured raw value into its
// declared type.
func (r *run) literalValue(node funcflow.FunctionNode) any {
	valType := node.ConfigString("type", "string")
	raw := node.Config["value"]

	switch valType {
	case "number":
		return toNumber(raw)
	case "boolean":
		return toBool(raw)
	case "array":
		s := toString(raw)
		if s == "" {
			return []any{}
		}
		var arr []any
		if err := json.Unmarshal([]byte(s), &arr); err != nil {
			return []any{}
		}
		return arr
	case "object":
		s := toString(raw)
		if s == "" {
			return map[string]any{}
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return map[string]any{}
		}
		return obj
	}
	return toString(raw)
}

// ──────────────────────────────────────────
// Coercions
// ──────────────────────────────────────────

// toNumber coerces a value to a float64, yielding 0 for anything that has
// no numeric reading.
func toNumber(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0
		}
		return f
	}
	f, err := strconv.ParseFloat(toString(v), 64)
	if err != nil {
		return 0
	}
	return f
}

// toBool coerces a value to a boolean. Strings are false only when empty
// or one of the conventional negatives.
func toBool(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case float32:
		return x != 0
	case int:
		return x != 0
	case int64:
		return x != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		switch s {
		case "", "0", "false", "no", "null", "none":
			return false
		}
		return true
	}
	return toBool(toString(v))
}

// toString renders a value as text. Numbers drop a trailing ".0"; composite
// values render as JSON.
func toString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

// toArray coerces a value to a slice: slices pass through, strings are
// JSON-parsed, everything else yields an empty slice.
func toArray(v any) []any {
	switch x := v.(type) {
	case nil:
		return []any{}
	case []any:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	}
	s := toString(v)
	if s == "" {
		return []any{}
	}
	var arr []any
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return []any{}
	}
	return arr
}

// toObjectOrArray coerces a value to a map or slice for path traversal.
func toObjectOrArray(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return v
	}
	s := toString(v)
	if s == "" {
		return map[string]any{}
	}
	var obj any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return map[string]any{}
	}
	switch obj.(type) {
	case map[string]any, []any:
		return obj
	}
	return map[string]any{}
}

// convertToArray implements the TypeConvert "array" target: slices pass
// through, JSON strings parse, scalars wrap in a single-element slice.
func convertToArray(v any) []any {
	switch x := v.(type) {
	case []any:
		return x
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(x), &parsed); err != nil {
			return []any{x}
		}
		if arr, ok := parsed.([]any); ok {
			return arr
		}
		return []any{parsed}
	}
	return []any{v}
}

// convertToObject implements the TypeConvert "object" target: maps pass
// through, JSON strings parse, anything else wraps under a "value" key.
func convertToObject(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return x
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(x), &parsed); err != nil {
			return map[string]any{"value": x}
		}
		return parsed
	}
	return map[string]any{"value": v}
}
