package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No environment or logger needed.
		PersistentPreRunE: checkFormat(rootOpts),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Format == "json" {
				return writeJSON(cmd, map[string]string{"version": rootOpts.Version, "go": runtime.Version()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "automation-engine %s (%s)\n", rootOpts.Version, runtime.Version())
			return nil
		},
	}
}
