// Package llmprovider bridges iris LLM providers to the funcflow.Provider
// interface the interpreter and sampler consume.
package llmprovider

import (
	"context"
	"fmt"

	iriscore "github.com/petal-labs/iris/core"

	funcflow "github.com/BDbread72/qonvo-sub000"
)

// irisProvider wraps an iris Provider to implement funcflow.Provider.
type irisProvider struct {
	provider iriscore.Provider
}

// Chat sends a synchronous completion request via the iris provider.
func (p *irisProvider) Chat(ctx context.Context, req funcflow.ChatRequest) (funcflow.ChatResponse, error) {
	chatReq := toIrisRequest(req)

	resp, err := p.provider.Chat(ctx, chatReq)
	if err != nil {
		return funcflow.ChatResponse{}, fmt.Errorf("provider chat failed: %w", err)
	}

	return funcflow.ChatResponse{
		Text:            resp.Output,
		PromptTokens:    resp.Usage.PromptTokens,
		CandidateTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Sample reports that batched sampling is not available through the iris
// chat surface. Callers fall back to independent runs.
func (p *irisProvider) Sample(_ context.Context, _ funcflow.SampleRequest) ([]funcflow.SampleResult, error) {
	return nil, funcflow.ErrSamplingUnsupported
}

// toIrisRequest converts a funcflow.ChatRequest to an iris ChatRequest.
func toIrisRequest(req funcflow.ChatRequest) *iriscore.ChatRequest {
	messages := make([]iriscore.Message, 0, len(req.Messages)+2)

	if req.SystemPrompt != "" {
		messages = append(messages, iriscore.Message{
			Role:    iriscore.RoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		messages = append(messages, iriscore.Message{
			Role:    toIrisRole(m.Role),
			Content: m.Content,
		})
	}

	chatReq := &iriscore.ChatRequest{
		Model:    iriscore.ModelID(req.Model),
		Messages: messages,
	}

	if v, ok := req.Options["temperature"]; ok {
		if f, ok := toFloat(v); ok {
			temp := float32(f)
			chatReq.Temperature = &temp
		}
	}
	if v, ok := req.Options["max_tokens"]; ok {
		if f, ok := toFloat(v); ok {
			maxTokens := int(f)
			chatReq.MaxTokens = &maxTokens
		}
	}

	return chatReq
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// toIrisRole converts a string role to an iris Role constant.
func toIrisRole(role string) iriscore.Role {
	switch role {
	case "system":
		return iriscore.RoleSystem
	case "user":
		return iriscore.RoleUser
	case "assistant":
		return iriscore.RoleAssistant
	case "tool":
		return iriscore.RoleTool
	default:
		return iriscore.RoleUser
	}
}

// Compile-time interface check.
var _ funcflow.Provider = (*irisProvider)(nil)
