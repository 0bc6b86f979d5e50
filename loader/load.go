package loader

import (
	"encoding/json"
	"fmt"
	"os"

	funcflow "github.com/BDbread72/qonvo-sub000"
)

// LoadDefinition reads a function definition file, decodes it, and
// validates its structure. YAML files are converted to JSON first.
func LoadDefinition(path string) (*funcflow.FunctionDefinition, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return loadDefinition(data, path)
}

// LoadDefinitionFromBytes decodes and validates a definition already in
// memory. The path is only used to decide between JSON and YAML parsing.
func LoadDefinitionFromBytes(data []byte, path string) (*funcflow.FunctionDefinition, error) {
	return loadDefinition(data, path)
}

func loadDefinition(data []byte, path string) (*funcflow.FunctionDefinition, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return nil, err
	}

	var def funcflow.FunctionDefinition
	if err := json.Unmarshal(jsonData, &def); err != nil {
		return nil, fmt.Errorf("parsing function definition: %w", err)
	}

	if issues := funcflow.Validate(&def); len(issues) > 0 {
		return nil, &ValidationError{Issues: issues}
	}

	return &def, nil
}

// ValidationError wraps structural validation issues as an error.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("validation error: %s", e.Issues[0])
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(e.Issues), e.Issues[0])
}
