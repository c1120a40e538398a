package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/app"
)

// TriggerCLI marks runs started from the command line.
const TriggerCLI = "cli"

func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "link",
		Short: "Run the entity-linking pipeline once and print the run record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, app.Options{}, func(ctx context.Context, a *app.App) error {
				run, err := a.Orchestrator.Run(ctx, TriggerCLI)
				if run != nil {
					if werr := writeJSON(cmd.OutOrStdout(), run); werr != nil {
						return werr
					}
				}
				return err
			})
		},
	}
}
