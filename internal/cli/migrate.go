package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/pkg/database"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), rootOpts)
		},
	}
}

func runMigrate(ctx context.Context, rootOpts *RootOptions) error {
	e, err := loadEnv(ctx, rootOpts)
	if err != nil {
		return err
	}
	defer func() {
		_ = e.shutdownTrace(context.Background())
	}()

	db, err := database.Open(ctx, e.cfg.DatabaseConfig(), e.logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.NewMigrationService(e.logger, e.cfg.MigrationConfig()).MigratePostgres(db.SQLX(), e.cfg.DatabaseName); err != nil {
		return err
	}
	e.logger.WithField("database", e.cfg.DatabaseName).Info("Migrations applied")
	return nil
}
