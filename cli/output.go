package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	funcflow "github.com/BDbread72/qonvo-sub000"
	"github.com/BDbread72/qonvo-sub000/interp"
)

// runEnvelope is the JSON shape of a single run's output.
type runEnvelope struct {
	RunID     string         `json:"run_id"`
	Outputs   map[string]any `json:"outputs"`
	Images    int            `json:"images"`
	TokensIn  int            `json:"tokens_in"`
	TokensOut int            `json:"tokens_out"`
	Steps     int            `json:"steps"`
}

func writeRunResult(cmd *cobra.Command, result *interp.Result) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	env := runEnvelope{
		RunID:     result.RunID,
		Outputs:   result.Outputs,
		Images:    len(result.Images),
		TokensIn:  result.TokensIn,
		TokensOut: result.TokensOut,
		Steps:     result.Steps,
	}

	switch format {
	case "json":
		return encodeJSON(out, env)
	case "text":
		writeOutputsText(out, result.Outputs)
		return nil
	default: // pretty
		writeOutputsText(out, result.Outputs)
		fmt.Fprintf(out, "\nrun %s: %d steps, %d/%d tokens", result.RunID, result.Steps, result.TokensIn, result.TokensOut)
		if len(result.Images) > 0 {
			fmt.Fprintf(out, ", %d %s", len(result.Images), pluralize("image", len(result.Images)))
		}
		fmt.Fprintln(out)
		return nil
	}
}

func writeSampleResults(cmd *cobra.Command, results []funcflow.SampleResult) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()

	if format == "json" {
		type sampleEnvelope struct {
			Text   string `json:"text"`
			Images int    `json:"images"`
		}
		envs := make([]sampleEnvelope, len(results))
		for i, r := range results {
			envs[i] = sampleEnvelope{Text: r.Text, Images: len(r.Images)}
		}
		return encodeJSON(out, envs)
	}

	for i, r := range results {
		fmt.Fprintf(out, "--- sample %d ---\n%s\n", i+1, r.Text)
	}
	return nil
}

// writeOutputsText prints outputs one per line in key order.
func writeOutputsText(w io.Writer, outputs map[string]any) {
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(w, "%s: %v\n", k, outputs[k])
	}
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
