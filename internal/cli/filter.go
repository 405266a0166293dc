package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"automation-engine/internal/filter"

	"github.com/spf13/cobra"
)

// FilterReport is the result of checking one filter document.
type FilterReport struct {
	Valid    bool             `json:"valid"`
	Warnings []filter.Warning `json:"warnings"`
	Matches  *bool            `json:"matches,omitempty"`
}

func NewFilterCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Work with trigger filter documents",
	}
	cmd.AddCommand(newFilterCheckCommand(rootOpts))
	return cmd
}

func newFilterCheckCommand(rootOpts *RootOptions) *cobra.Command {
	var contextFile string

	cmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Report malformed nodes in a JSON trigger filter",
		Long: `Decode a JSON trigger filter and list every malformed node with its path.

With --context the filter is also evaluated against the given JSON event
context. The command exits non-zero when any warning is found.`,
		Args:              cobra.ExactArgs(1),
		PersistentPreRunE: checkFormat(rootOpts),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilterCheck(cmd, rootOpts, args[0], contextFile)
		},
	}
	cmd.Flags().StringVar(&contextFile, "context", "", "JSON event context to evaluate the filter against")
	return cmd
}

func runFilterCheck(cmd *cobra.Command, opts *RootOptions, path, contextFile string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) > 0 && !json.Valid(data) {
		return fmt.Errorf("%s: not valid JSON", path)
	}

	f := filter.CompileJSON(data)
	report := FilterReport{Valid: !f.Malformed(), Warnings: f.Warnings}
	if report.Warnings == nil {
		report.Warnings = []filter.Warning{}
	}

	if contextFile != "" {
		raw, err := os.ReadFile(contextFile)
		if err != nil {
			return err
		}
		var eventCtx interface{}
		if err := json.Unmarshal(raw, &eventCtx); err != nil {
			return fmt.Errorf("%s: %w", contextFile, err)
		}
		matches := f.Matches(eventCtx)
		report.Matches = &matches
	}

	if opts.Format == "json" {
		if err := writeJSON(cmd, report); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		for _, w := range report.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		if report.Valid {
			fmt.Fprintln(out, "filter is valid")
		}
		if report.Matches != nil {
			fmt.Fprintf(out, "matches: %t\n", *report.Matches)
		}
	}

	if !report.Valid {
		return fmt.Errorf("%s: %d malformed node(s)", path, len(report.Warnings))
	}
	return nil
}
