// Package cli holds the fern command tree.
package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/Gobusters/ectologger"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/app"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// RootOptions holds the flags shared by every command.
type RootOptions struct {
	EnvFiles []string
	InMemory bool
	Version  string
}

func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:           "fern",
		Short:         "Identity resolution and entity linking for TNR records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringSliceVar(&opts.EnvFiles, "env-file", nil, "dotenv files to load before reading the environment")
	cmd.PersistentFlags().BoolVar(&opts.InMemory, "memory", false, "keep all state in process instead of Postgres")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))
	cmd.AddCommand(NewPollutionCommand(opts))
	cmd.AddCommand(NewMergeCommand(opts))

	return cmd
}

// env is what every command needs once configuration is loaded.
type env struct {
	cfg           *config.Config
	logger        ectologger.Logger
	shutdownTrace func(context.Context) error
}

func loadEnv(ctx context.Context, opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return nil, err
	}

	shutdown, err := tracing.Setup(ctx, cfg.TracingConfig(), logger)
	if err != nil {
		return nil, err
	}

	return &env{cfg: cfg, logger: logger, shutdownTrace: shutdown}, nil
}

// withApp runs fn against a started App and releases it afterwards.
func withApp(ctx context.Context, opts *RootOptions, appOpts app.Options, fn func(ctx context.Context, a *app.App) error) error {
	e, err := loadEnv(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = e.shutdownTrace(context.Background())
	}()

	appOpts.InMemory = opts.InMemory
	appOpts.Version = opts.Version
	a, err := app.New(ctx, e.cfg, e.logger, appOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			e.logger.WithError(err).Error("Failed to release dependencies")
		}
	}()

	return fn(ctx, a)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
