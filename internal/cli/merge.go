package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/app"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/models"
)

type MergeOptions struct {
	Loser   string
	Winner  string
	Archive string
	Reason  string
	Actor   string
}

func NewMergeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MergeOptions{}

	cmd := &cobra.Command{
		Use:   "merge <person|cat|place>",
		Short: "Merge a duplicate into its survivor, or archive a record",
		Long: `Merge --loser into --winner, or archive one record with --archive.

Both operations write an audit row and are idempotent: repeating them reports
a skip reason instead of failing.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(models.EntityPerson), string(models.EntityCat), string(models.EntityPlace)},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := models.EntityKind(args[0])
			if !kind.Valid() {
				return fmt.Errorf("unknown entity kind %q", args[0])
			}
			if opts.Reason == "" {
				return errors.New("--reason is required")
			}

			return withApp(cmd.Context(), rootOpts, app.Options{}, func(ctx context.Context, a *app.App) error {
				res, err := runMerge(ctx, a.Merger, kind, opts)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Loser, "loser", "", "id of the record to absorb")
	cmd.Flags().StringVar(&opts.Winner, "winner", "", "id of the surviving record")
	cmd.Flags().StringVar(&opts.Archive, "archive", "", "id of a record to archive instead of merging")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "audit reason")
	cmd.Flags().StringVar(&opts.Actor, "actor", "cli", "who is performing the change")
	cmd.MarkFlagsMutuallyExclusive("archive", "loser")
	cmd.MarkFlagsMutuallyExclusive("archive", "winner")

	return cmd
}

func runMerge(ctx context.Context, engine *merging.Engine, kind models.EntityKind, opts *MergeOptions) (*merging.MergeResult, error) {
	if opts.Archive != "" {
		id, err := uuid.Parse(opts.Archive)
		if err != nil {
			return nil, fmt.Errorf("invalid --archive id: %w", err)
		}
		return engine.Archive(ctx, kind, id, opts.Reason, opts.Actor)
	}

	loser, err := uuid.Parse(opts.Loser)
	if err != nil {
		return nil, fmt.Errorf("invalid --loser id: %w", err)
	}
	winner, err := uuid.Parse(opts.Winner)
	if err != nil {
		return nil, fmt.Errorf("invalid --winner id: %w", err)
	}
	return engine.Merge(ctx, kind, loser, winner, opts.Reason, opts.Actor)
}
