package main

import (
	"fmt"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/laundrydesk/abac-pdp/internal/config"
	"github.com/laundrydesk/abac-pdp/internal/db"
)

// NewMigrateCmd creates the migrate subcommand with up, down, version and
// force actions against the audit database
func NewMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit database schema",
		Long: `Apply or revert the PostgreSQL migrations that back the audit trail.
The connection string comes from database.dsn (ABAC_PDP_DATABASE_DSN).`,
	}

	cmd.AddCommand(
		migrateAction(opts, "up", "Apply all pending migrations", cobra.NoArgs,
			func(cmd *cobra.Command, r *db.MigrationRunner, _ []string) error {
				if err := r.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "up").Wrap(err)
				}
				cmd.Println("Migrations completed successfully")
				return nil
			}),
		migrateAction(opts, "down", "Revert the latest migration", cobra.NoArgs,
			func(cmd *cobra.Command, r *db.MigrationRunner, _ []string) error {
				if err := r.Down(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "down").Wrap(err)
				}
				cmd.Println("Migrations reverted")
				return nil
			}),
		migrateAction(opts, "version", "Print the current schema version", cobra.NoArgs,
			func(cmd *cobra.Command, r *db.MigrationRunner, _ []string) error {
				version, dirty, err := r.Version()
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "version").Wrap(err)
				}
				cmd.Printf("version %d (dirty: %t)\n", version, dirty)
				return nil
			}),
		migrateAction(opts, "force VERSION", "Set the schema version without running migrations", cobra.ExactArgs(1),
			func(cmd *cobra.Command, r *db.MigrationRunner, args []string) error {
				version, err := strconv.Atoi(args[0])
				if err != nil {
					return oops.Code("INVALID_ARGUMENTS").Errorf("version must be an integer, got %q", args[0])
				}
				if err := r.Force(version); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "force").Wrap(err)
				}
				cmd.Printf("Forced version %d\n", version)
				return nil
			}),
		&cobra.Command{
			Use:   "list",
			Short: "List the embedded migration files",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				files, err := db.ListMigrations()
				if err != nil {
					return err
				}
				for _, f := range files {
					cmd.Println(f)
				}
				return nil
			},
		},
	)
	return cmd
}

func migrateAction(
	opts *rootOptions,
	use, short string,
	args cobra.PositionalArgs,
	fn func(*cobra.Command, *db.MigrationRunner, []string) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, posArgs []string) error {
			cfg, err := opts.load(cmd, nil)
			if err != nil {
				return err
			}
			if err := requireDSN(cfg); err != nil {
				return err
			}

			logger, err := initLogger(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			return migrate(cfg.Database.DSN, logger, func(r *db.MigrationRunner) error {
				return fn(cmd, r, posArgs)
			})
		},
	}
}

func requireDSN(cfg *config.Config) error {
	if cfg.Database.DSN == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database.dsn (ABAC_PDP_DATABASE_DSN) is required")
	}
	return nil
}
