package llmprovider

import (
	"fmt"

	"github.com/petal-labs/iris/providers"
	// Auto-register common providers.
	_ "github.com/petal-labs/iris/providers/anthropic"
	_ "github.com/petal-labs/iris/providers/ollama"
	_ "github.com/petal-labs/iris/providers/openai"

	funcflow "github.com/BDbread72/qonvo-sub000"
)

// NewProvider creates a funcflow.Provider backed by the named iris provider.
// It delegates to the iris provider registry to instantiate the underlying
// client. The resulting provider serves chat completions only; batched
// sampling reports funcflow.ErrSamplingUnsupported, which routes samplers
// to per-run fallback.
func NewProvider(name, apiKey string) (funcflow.Provider, error) {
	provider, err := providers.Create(name, apiKey)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", name, err)
	}
	return &irisProvider{provider: provider}, nil
}
