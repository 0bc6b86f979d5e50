package funcflow

import (
	"context"
	"errors"
)

// ErrSamplingUnsupported is returned by Provider.Sample when the backend
// cannot produce multiple candidates in a single batched request. Callers
// fall back to independent runs.
var ErrSamplingUnsupported = errors.New("funcflow: batched sampling unsupported")

// ChatMessage is a chat-style message sent to the inference backend.
// Attachments are local file paths for image inputs.
type ChatMessage struct {
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

// ChatRequest is a single synchronous inference request.
type ChatRequest struct {
	Model        string
	Messages     []ChatMessage
	SystemPrompt string
	Options      map[string]any
}

// ChatResponse is the result of a ChatRequest. Images carries any generated
// image payloads; token counts are zero when the backend does not report
// usage.
type ChatResponse struct {
	Text            string
	Images          [][]byte
	PromptTokens    int
	CandidateTokens int
}

// SampleRequest asks the backend for Count independently sampled candidates
// of one logical invocation, typically via a cheaper asynchronous batch job.
//
// OnJobCreated, when set, is invoked as soon as the backend accepts a batch
// job, before any result is available. Hosts use it to persist the job so
// polling can resume after a restart.
type SampleRequest struct {
	Model        string
	Prompt       string
	Count        int
	Attachments  []string
	SystemPrompt string
	Options      map[string]any
	OnJobCreated func(jobName string, keyIndex int)
}

// SampleResult is one sampled candidate.
type SampleResult struct {
	Text   string
	Images [][]byte
}

// Provider abstracts the inference backend. Implementations own transport,
// authentication, and retry; the engine sees only these two calls.
type Provider interface {
	// Chat performs one synchronous inference call.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// Sample requests Count candidates in one batched call. It returns
	// ErrSamplingUnsupported when the backend has no batch capability for
	// the requested model.
	Sample(ctx context.Context, req SampleRequest) ([]SampleResult, error)
}

// BatchPoller is implemented by providers whose Sample runs through an
// asynchronous backend job. It lets a host resume polling jobs that were
// persisted before a process restart.
type BatchPoller interface {
	// PollBatchJob blocks until the named job completes, fails, or expires.
	// A nil result with a nil error means the job produced nothing usable.
	PollBatchJob(ctx context.Context, jobName string, keyIndex int, imageModel bool) ([]SampleResult, error)
}

// ParamValue is one caller-supplied parameter binding for a run.
// Image-typed parameters carry a file path in Value and are attached to
// inference requests rather than substituted into prompt text.
type ParamValue struct {
	Type  DataType `json:"type"`
	Value any      `json:"value"`
}
