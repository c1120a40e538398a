package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/pkg/app"
	"github.com/Ramsey-B/fern/pkg/server"
)

const containerID = "fern"

type ServeOptions struct {
	Migrate bool
}

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the linking scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Migrate, "migrate", true, "apply pending migrations before serving")

	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, opts *ServeOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := loadEnv(ctx, rootOpts)
	if err != nil {
		return err
	}
	logger := e.logger

	a, err := app.New(ctx, e.cfg, logger, app.Options{
		InMemory: rootOpts.InMemory,
		Migrate:  opts.Migrate && !rootOpts.InMemory,
		Version:  rootOpts.Version,
	})
	if err != nil {
		_ = e.shutdownTrace(context.Background())
		return err
	}

	if _, err := a.Container(containerID); err != nil {
		_ = a.Close(context.Background())
		_ = e.shutdownTrace(context.Background())
		return err
	}

	srv := server.New(e.cfg, logger, containerID, a.Health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)

	if a.Scheduler != nil {
		if err := a.Scheduler.Start(gctx); err != nil {
			logger.WithError(err).Error("Failed to start linking scheduler")
		}
	}
	a.Health.SetReady(true)

	g.Go(func() error {
		<-gctx.Done()
		a.Health.SetReady(false)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
		defer cancel()

		return errors.Join(
			srv.Shutdown(shutdownCtx),
			a.Close(shutdownCtx),
			e.shutdownTrace(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return err
	}
	logger.Info("Server stopped")
	return nil
}
