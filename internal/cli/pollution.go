package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/app"
	"github.com/Ramsey-B/fern/pkg/pollution"
)

func NewPollutionCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "pollution",
		Short: "List person records that look polluted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), rootOpts, app.Options{}, func(ctx context.Context, a *app.App) error {
				findings, err := a.Pollution.Scan(ctx, pollution.ScanOptions{Limit: limit})
				if err != nil {
					return err
				}
				if findings == nil {
					findings = []pollution.Finding{}
				}
				return writeJSON(cmd.OutOrStdout(), findings)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many findings (0 for all)")

	return cmd
}
