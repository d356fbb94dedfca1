package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Geniusmania/ticket-chat-system/internal/config"
	"github.com/Geniusmania/ticket-chat-system/internal/observability"
	"github.com/Geniusmania/ticket-chat-system/internal/persistence"
)

var dir string

// NewCommand returns the migrate command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending SQL migrations",
		Long:  `Apply every migration file not yet recorded in schema_migrations, in lexical order.`,
		RunE:  runMigrate,
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Migrations directory (default: POSTGRES_MIGRATIONS_DIR)")
	return cmd
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Postgres.DSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	logger, err := observability.NewLogger(cfg.Logger, cfg.App)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx := cmd.Context()
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("failed to connect postgres: %w", err)
	}
	defer pg.Close()

	if dir == "" {
		dir = cfg.Postgres.MigrationsDir
	}
	applied, err := persistence.RunMigrations(ctx, pg.Pool, dir, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s) from %s\n", applied, dir)
	return nil
}
