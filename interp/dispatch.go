package interp

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	funcflow "github.com/BDbread72/qonvo-sub000"
)

// dispatch executes one impure node and returns the node id the exec chain
// continues at, or "" to stop.
func (r *run) dispatch(node funcflow.FunctionNode) (string, error) {
	switch node.NodeType {
	case funcflow.NodeTypeEnd:
		r.collectEndOutput(node)
		return "", nil
	case funcflow.NodeTypeLLMCall:
		return r.execLLMCall(node)
	case funcflow.NodeTypeBranch:
		return r.execBranch(node), nil
	case funcflow.NodeTypeSwitch:
		return r.execSwitch(node), nil
	case funcflow.NodeTypeForEach:
		return r.execForEach(node)
	case funcflow.NodeTypeWhileLoop:
		return r.execWhileLoop(node)
	case funcflow.NodeTypeSequence:
		return r.execSequence(node)
	case funcflow.NodeTypeResponseParser:
		return r.execResponseParser(node), nil
	case funcflow.NodeTypeImageGenerator:
		return r.execImageGenerator(node), nil
	case funcflow.NodeTypeSetVariable:
		return r.execSetVariable(node), nil
	}
	// Unknown impure node: pass through to exec_out.
	return r.nextExec(node.NodeID, "exec_out"), nil
}

// executeChain runs a sub-chain of impure nodes (a loop body or a Sequence
// branch) until it ends, reaches stopAt, or the run is cancelled or out of
// budget. A failure inside a node handler is converted into an error event
// at this boundary; it never propagates up to abort the whole run.
func (r *run) executeChain(startID, stopAt string) error {
	currentID := startID
	for currentID != "" && currentID != stopAt {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		if r.stepCount >= r.it.opts.MaxSteps {
			return nil
		}

		node, ok := r.nodesByID[currentID]
		if !ok {
			return nil
		}
		if node.NodeType == funcflow.NodeTypeEnd {
			r.collectEndOutput(node)
			return nil
		}

		r.stepCount++
		r.emitStep(node)

		nextID, err := r.dispatchGuarded(node)
		if err != nil {
			if r.ctx.Err() != nil || isBudgetErr(err) {
				return err
			}
			r.emitFailed(fmt.Sprintf("Sub-chain error at %s: %v", node.NodeType.DisplayName(), err))
			return nil
		}
		currentID = nextID
	}
	return nil
}

// dispatchGuarded runs dispatch with a recover guard so a panicking node
// handler surfaces as an ordinary error at the sub-chain boundary.
func (r *run) dispatchGuarded(node funcflow.FunctionNode) (nextID string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return r.dispatch(node)
}

func isBudgetErr(err error) bool {
	return errors.Is(err, errBudgetExceeded)
}

func (r *run) budgetErr() error {
	return fmt.Errorf("Max steps exceeded (%d): %w", r.it.opts.MaxSteps, errBudgetExceeded)
}

// ──────────────────────────────────────────
// Control flow
// ──────────────────────────────────────────

func (r *run) execBranch(node funcflow.FunctionNode) string {
	condition := r.resolveDataInput(node.NodeID, "condition")
	if toBool(condition) {
		return r.nextExec(node.NodeID, "true")
	}
	return r.nextExec(node.NodeID, "false")
}

func (r *run) execSwitch(node funcflow.FunctionNode) string {
	value := toString(r.resolveDataInput(node.NodeID, "value"))
	cases, _ := node.Config["cases"].([]any)
	for i, c := range cases {
		if value == toString(c) {
			return r.nextExec(node.NodeID, fmt.Sprintf("case_%d", i))
		}
	}
	return r.nextExec(node.NodeID, "default")
}

func (r *run) execForEach(node funcflow.FunctionNode) (string, error) {
	array := toArray(r.resolveDataInput(node.NodeID, "array"))

	bodyTarget := r.nextExec(node.NodeID, "loop_body")
	doneTarget := r.nextExec(node.NodeID, "completed")
	maxIter := r.loopLimit(node)

	if bodyTarget == "" {
		return doneTarget, nil
	}

	if len(array) > maxIter {
		array = array[:maxIter]
	}
	for i, element := range array {
		if err := r.ctx.Err(); err != nil {
			return "", err
		}
		if r.stepCount >= r.it.opts.MaxSteps {
			return "", r.budgetErr()
		}

		r.nodeOutputs[node.NodeID] = map[string]any{"element": element, "index": i}
		// Pure values may depend on loop outputs; recompute them each pass.
		clear(r.pureCache)

		if err := r.executeChain(bodyTarget, node.NodeID); err != nil {
			return "", err
		}

		if r.stepCount >= r.it.opts.MaxSteps {
			return "", r.budgetErr()
		}
	}
	return doneTarget, nil
}

func (r *run) execWhileLoop(node funcflow.FunctionNode) (string, error) {
	bodyTarget := r.nextExec(node.NodeID, "loop_body")
	doneTarget := r.nextExec(node.NodeID, "completed")
	maxIter := r.loopLimit(node)

	if bodyTarget == "" {
		return doneTarget, nil
	}

	for i := 0; i < maxIter; i++ {
		if err := r.ctx.Err(); err != nil {
			return "", err
		}
		if r.stepCount >= r.it.opts.MaxSteps {
			return "", r.budgetErr()
		}

		// The condition is re-resolved from scratch relative to the
		// previous body pass, whose cache was cleared before it ran.
		if !toBool(r.resolveDataInput(node.NodeID, "condition")) {
			break
		}

		r.nodeOutputs[node.NodeID] = map[string]any{"index": i}
		clear(r.pureCache)

		if err := r.executeChain(bodyTarget, node.NodeID); err != nil {
			return "", err
		}

		if r.stepCount >= r.it.opts.MaxSteps {
			return "", r.budgetErr()
		}
	}
	return doneTarget, nil
}

func (r *run) execSequence(node funcflow.FunctionNode) (string, error) {
	count := node.ConfigInt("output_count", 2)
	for i := 0; i < count; i++ {
		if target := r.nextExec(node.NodeID, fmt.Sprintf("then_%d", i)); target != "" {
			if err := r.executeChain(target, ""); err != nil {
				return "", err
			}
		}
		if err := r.ctx.Err(); err != nil {
			return "", err
		}
	}
	return r.nextExec(node.NodeID, "exec_out"), nil
}

// loopLimit returns the per-loop iteration cap: the node may lower the
// global limit but never raise it.
func (r *run) loopLimit(node funcflow.FunctionNode) int {
	limit := node.ConfigInt("max_iter", r.it.opts.MaxLoopIterations)
	if limit > r.it.opts.MaxLoopIterations {
		limit = r.it.opts.MaxLoopIterations
	}
	return limit
}

// ──────────────────────────────────────────
// AI nodes
// ──────────────────────────────────────────

// placeholderPattern matches prompt placeholders that survived substitution
// and must be stripped before the prompt is sent.
var placeholderPattern = regexp.MustCompile(`\{(?:in_\d+|var:[^}]*|param:[^}]*)\}`)

func (r *run) execLLMCall(node funcflow.FunctionNode) (string, error) {
	model := node.ConfigString("model", "")
	template := node.ConfigString("prompt_template", "{input}")

	prompt := strings.ReplaceAll(template, "{input}", r.in.Input)

	numArgs := node.ConfigInt("_num_arg_ports", 1)
	for i := 0; i < numArgs; i++ {
		port := fmt.Sprintf("in_%d", i)
		if val := r.resolveDataInput(node.NodeID, port); val != nil {
			prompt = strings.ReplaceAll(prompt, "{"+port+"}", toString(val))
		}
	}
	for name, value := range r.variables {
		prompt = strings.ReplaceAll(prompt, "{var:"+name+"}", toString(value))
	}
	for name, pv := range r.in.Parameters {
		if pv.Type != funcflow.DataTypeImage {
			prompt = strings.ReplaceAll(prompt, "{param:"+name+"}", toString(pv.Value))
		}
	}
	prompt = placeholderPattern.ReplaceAllString(prompt, "")

	attachments := r.imageAttachments()

	messages := make([]funcflow.ChatMessage, 0, len(r.in.Context)+1)
	messages = append(messages, r.in.Context...)
	messages = append(messages, funcflow.ChatMessage{
		Role:        "user",
		Content:     prompt,
		Attachments: attachments,
	})

	resp, err := r.it.provider.Chat(r.ctx, funcflow.ChatRequest{
		Model:        model,
		Messages:     messages,
		SystemPrompt: r.in.SystemPrompt,
		Options:      r.in.Options,
	})
	if err != nil {
		if r.ctx.Err() != nil {
			return "", r.ctx.Err()
		}
		// A failed call degrades this node's output instead of aborting
		// the run; the error is still surfaced as a visible event.
		text := fmt.Sprintf("[LLM Error] %v", err)
		r.emitFailed(text)
		r.nodeOutputs[node.NodeID] = map[string]any{"response": text}
		return r.nextExec(node.NodeID, "exec_out"), nil
	}

	r.tokensIn += resp.PromptTokens
	r.tokensOut += resp.CandidateTokens
	r.images = append(r.images, resp.Images...)
	r.emitTokens()

	r.nodeOutputs[node.NodeID] = map[string]any{"response": resp.Text}
	return r.nextExec(node.NodeID, "exec_out"), nil
}

// imageAttachments collects the paths of image-typed parameters that exist
// on disk.
func (r *run) imageAttachments() []string {
	var paths []string
	names := make([]string, 0, len(r.in.Parameters))
	for name := range r.in.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pv := r.in.Parameters[name]
		if pv.Type != funcflow.DataTypeImage {
			continue
		}
		path := toString(pv.Value)
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	return paths
}

func (r *run) execResponseParser(node funcflow.FunctionNode) string {
	text := toString(r.resolveDataInput(node.NodeID, "text"))
	pattern := toString(r.resolveDataInput(node.NodeID, "pattern"))
	mode := node.ConfigString("mode", "json")

	var parsed any
	var items []any

	switch mode {
	case "json":
		var obj any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			parsed = text
		} else {
			parsed = obj
			switch v := obj.(type) {
			case []any:
				items = v
			case map[string]any:
				keys := make([]string, 0, len(v))
				for k := range v {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					items = append(items, v[k])
				}
			}
		}
	case "regex":
		re, err := regexp.Compile(pattern)
		if err != nil {
			parsed = text
			break
		}
		for _, m := range re.FindAllString(text, -1) {
			items = append(items, m)
		}
		if len(items) > 0 {
			parsed = items[0]
		} else {
			parsed = ""
		}
	case "split":
		delimiter := pattern
		if delimiter == "" {
			delimiter = "\n"
		}
		for _, part := range strings.Split(text, delimiter) {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				items = append(items, trimmed)
			}
		}
		if len(items) > 0 {
			parsed = items[0]
		} else {
			parsed = ""
		}
	}

	if items == nil {
		items = []any{}
	}
	r.nodeOutputs[node.NodeID] = map[string]any{"parsed": parsed, "items": items}
	return r.nextExec(node.NodeID, "exec_out")
}

func (r *run) execImageGenerator(node funcflow.FunctionNode) string {
	prompt := toString(r.resolveDataInput(node.NodeID, "prompt"))
	model := node.ConfigString("model", "")
	aspectRatio := node.ConfigString("aspect_ratio", "1:1")

	opts := map[string]any{"aspect_ratio": aspectRatio}

	// Generation failure is swallowed here: the node's image output stays
	// nil and the run continues.
	var image any
	resp, err := r.it.provider.Chat(r.ctx, funcflow.ChatRequest{
		Model:    model,
		Messages: []funcflow.ChatMessage{{Role: "user", Content: prompt}},
		Options:  opts,
	})
	if err == nil && len(resp.Images) > 0 {
		image = resp.Images[0]
		r.images = append(r.images, resp.Images...)
	}

	r.nodeOutputs[node.NodeID] = map[string]any{"image": image}
	return r.nextExec(node.NodeID, "exec_out")
}

func (r *run) execSetVariable(node funcflow.FunctionNode) string {
	name := node.ConfigString("var_name", "")
	value := r.resolveDataInput(node.NodeID, "value")
	if name != "" {
		r.variables[name] = value
	}
	r.nodeOutputs[node.NodeID] = map[string]any{"value": value}
	return r.nextExec(node.NodeID, "exec_out")
}
