package cli

import (
	"fmt"
	"sort"

	"automation-engine/internal/app"
	"automation-engine/internal/common/logging"
	"automation-engine/internal/seed"

	"github.com/spf13/cobra"
)

// SeedReport is the json output of the seed command.
type SeedReport struct {
	Created  []string            `json:"created"`
	Updated  []string            `json:"updated"`
	Failed   map[string]string   `json:"failed,omitempty"`
	Warnings map[string][]string `json:"warnings,omitempty"`
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create or update automations and tasks from a YAML file",
		Long: `Upsert the automations and scheduled tasks declared in a YAML file,
matching existing records by name. Applying the same file twice changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, rootOpts, file)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "definitions file (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func runSeed(cmd *cobra.Command, opts *RootOptions, file string) error {
	doc, err := seed.Load(file)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, opts.Version)
	if err != nil {
		return err
	}
	defer a.Close()

	res, applyErr := seed.Apply(ctx, a.Catalog, doc, logging.GetGlobalLogger())
	if res == nil {
		return applyErr
	}

	if opts.Format == "json" {
		if err := writeJSON(cmd, seedReport(res)); err != nil {
			return err
		}
		return applyErr
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "created: %d, updated: %d, failed: %d\n", len(res.Created), len(res.Updated), len(res.Failed))
	for _, key := range sortedKeys(res.Failed) {
		fmt.Fprintf(out, "  failed %s: %v\n", key, res.Failed[key])
	}
	for key, warnings := range res.Warnings {
		for _, w := range warnings {
			fmt.Fprintf(out, "  warning %s: %s\n", key, w)
		}
	}
	return applyErr
}

func seedReport(res *seed.Result) SeedReport {
	report := SeedReport{Created: res.Created, Updated: res.Updated}
	if report.Created == nil {
		report.Created = []string{}
	}
	if report.Updated == nil {
		report.Updated = []string{}
	}
	if len(res.Failed) > 0 {
		report.Failed = make(map[string]string, len(res.Failed))
		for key, err := range res.Failed {
			report.Failed[key] = err.Error()
		}
	}
	if len(res.Warnings) > 0 {
		report.Warnings = make(map[string][]string, len(res.Warnings))
		for key, warnings := range res.Warnings {
			for _, w := range warnings {
				report.Warnings[key] = append(report.Warnings[key], w.String())
			}
		}
	}
	return report
}

func sortedKeys(m map[string]error) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
