package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	funcflow "github.com/BDbread72/qonvo-sub000"
	"github.com/BDbread72/qonvo-sub000/loader"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a function graph file without executing",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	cmd.Flags().String("format", "text", "Output format: text | json")

	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	filePath := args[0]
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	data, err := os.ReadFile(filePath) // #nosec G304 -- path from user
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return fmt.Errorf("reading file: %w", err)
	}

	issues, err := validateBytes(data, filePath)
	if err != nil {
		return exitError(exitInputParse, "%v", err)
	}

	printValidateIssues(out, issues, format)

	if len(issues) > 0 {
		return exitError(exitValidation, "validation failed")
	}
	return nil
}

// validateBytes decodes the definition and returns its structural issues.
// A decode failure is an error; a well-formed but invalid graph is not.
func validateBytes(data []byte, filePath string) ([]string, error) {
	def, err := loader.LoadDefinitionFromBytes(data, filePath)
	if err != nil {
		var verr *loader.ValidationError
		if errors.As(err, &verr) {
			return verr.Issues, nil
		}
		return nil, err
	}
	return funcflow.Validate(def), nil
}

// printValidateIssues writes issues to the writer in the requested format,
// followed by a summary line (for text format).
func printValidateIssues(w io.Writer, issues []string, format string) {
	if format == "json" {
		printIssuesJSON(w, issues)
		return
	}
	printIssuesText(w, issues)
}

func printIssuesText(w io.Writer, issues []string) {
	for _, issue := range issues {
		fmt.Fprintf(w, "ERROR: %s\n", issue)
	}
	if len(issues) == 0 {
		fmt.Fprintln(w, "Valid!")
		return
	}
	fmt.Fprintf(w, "\n%d %s\n", len(issues), pluralize("error", len(issues)))
}

func printIssuesJSON(w io.Writer, issues []string) {
	// Output an empty array rather than null when there are no issues.
	if issues == nil {
		issues = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(issues)
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
